// Package pairing holds the camera/monitor pairing schema, the service that
// creates and validates pairings in the remote store, and the publisher the
// camera side uses to raise alerts.
package pairing

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/remotestore"
)

// Role is the part a device plays in a pairing.
type Role string

const (
	RoleCamera  Role = "camera"
	RoleMonitor Role = "monitor"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleCamera || r == RoleMonitor
}

// Device is the per-role record under a pairing.
type Device struct {
	PushToken  string
	LastActive time.Time
}

// Pairing is a camera/monitor relationship identified by its code.
type Pairing struct {
	Code            string
	SelectedObjects []string
	CreatedAt       time.Time
	IsActive        bool
	Devices         map[Role]Device
}

// Alert is one detection event published by the camera.
type Alert struct {
	ID          string
	ObjectLabel string
	Confidence  float32
	Timestamp   time.Time
}

// Stored field names.
const (
	fieldSelectedObjects = "selectedObjects"
	fieldCreatedAt       = "createdAt"
	fieldIsActive        = "isActive"
	fieldPushToken       = "pushToken"
	fieldLastActive      = "lastActive"
	fieldObjectLabel     = "objectLabel"
	fieldConfidence      = "confidence"
	fieldTimestamp       = "timestamp"
)

// AlertOrderField is the field alert subscriptions are ordered by.
const AlertOrderField = fieldTimestamp

// NormalizeObjects trims labels, drops blanks and duplicates and sorts the
// result. The returned slice is never nil.
func NormalizeObjects(objects []string) []string {
	out := make([]string, 0, len(objects))
	for _, o := range objects {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Watches reports whether label is on the watch list, ignoring case.
func Watches(watchList []string, label string) bool {
	return slices.ContainsFunc(watchList, func(w string) bool {
		return strings.EqualFold(w, label)
	})
}

// timeOrServer stores t, or asks the store for its clock when t is unset.
func timeOrServer(t time.Time) any {
	if t.IsZero() {
		return remotestore.ServerTimestamp
	}
	return t.UTC()
}

// EncodePairing returns the record stored at the pairing path. Devices are
// separate child nodes and are not included.
func EncodePairing(p *Pairing) remotestore.Value {
	return remotestore.Value{
		fieldSelectedObjects: NormalizeObjects(p.SelectedObjects),
		fieldCreatedAt:       timeOrServer(p.CreatedAt),
		fieldIsActive:        p.IsActive,
	}
}

// DecodePairing builds a Pairing from its record and device children.
func DecodePairing(code string, v remotestore.Value, devices []remotestore.Child) (*Pairing, error) {
	p := &Pairing{Code: code, SelectedObjects: []string{}, Devices: make(map[Role]Device)}

	if raw, ok := v[fieldSelectedObjects]; ok && raw != nil {
		objects, ok := remotestore.AsStrings(raw)
		if !ok {
			return nil, invalidField("pairing", code, fieldSelectedObjects, raw)
		}
		p.SelectedObjects = NormalizeObjects(objects)
	}

	created, ok := remotestore.AsTime(v[fieldCreatedAt])
	if !ok {
		return nil, invalidField("pairing", code, fieldCreatedAt, v[fieldCreatedAt])
	}
	p.CreatedAt = created

	active, ok := remotestore.AsBool(v[fieldIsActive])
	if !ok {
		return nil, invalidField("pairing", code, fieldIsActive, v[fieldIsActive])
	}
	p.IsActive = active

	for _, child := range devices {
		role := Role(child.Key)
		if !role.Valid() {
			continue
		}
		d, err := DecodeDevice(child.Value)
		if err != nil {
			return nil, err
		}
		p.Devices[role] = d
	}
	return p, nil
}

// EncodeDevice returns the record stored for a device.
func EncodeDevice(d Device) remotestore.Value {
	return remotestore.Value{
		fieldPushToken:  d.PushToken,
		fieldLastActive: timeOrServer(d.LastActive),
	}
}

// DecodeDevice parses a device record. Both fields are optional.
func DecodeDevice(v remotestore.Value) (Device, error) {
	var d Device
	if raw, ok := v[fieldPushToken]; ok && raw != nil {
		token, ok := remotestore.AsString(raw)
		if !ok {
			return Device{}, invalidField("device", "", fieldPushToken, raw)
		}
		d.PushToken = token
	}
	if raw, ok := v[fieldLastActive]; ok && raw != nil {
		t, ok := remotestore.AsTime(raw)
		if !ok {
			return Device{}, invalidField("device", "", fieldLastActive, raw)
		}
		d.LastActive = t
	}
	return d, nil
}

// EncodeAlert returns the record appended for a. A zero timestamp is
// assigned by the store.
func EncodeAlert(a Alert) remotestore.Value {
	return remotestore.Value{
		fieldObjectLabel: a.ObjectLabel,
		fieldConfidence:  float64(a.Confidence),
		fieldTimestamp:   timeOrServer(a.Timestamp),
	}
}

// DecodeAlert parses the alert stored under id.
func DecodeAlert(id string, v remotestore.Value) (Alert, error) {
	label, ok := remotestore.AsString(v[fieldObjectLabel])
	if !ok || label == "" {
		return Alert{}, invalidField("alert", id, fieldObjectLabel, v[fieldObjectLabel])
	}
	confidence, ok := remotestore.AsFloat(v[fieldConfidence])
	if !ok || math.IsNaN(confidence) {
		return Alert{}, invalidField("alert", id, fieldConfidence, v[fieldConfidence])
	}
	ts, ok := remotestore.AsTime(v[fieldTimestamp])
	if !ok {
		return Alert{}, invalidField("alert", id, fieldTimestamp, v[fieldTimestamp])
	}
	return Alert{ID: id, ObjectLabel: label, Confidence: float32(confidence), Timestamp: ts}, nil
}

// SortAlertsNewestFirst orders alerts for display: newest first, then by ID
// descending.
func SortAlertsNewestFirst(alerts []Alert) {
	slices.SortStableFunc(alerts, func(a, b Alert) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}

func invalidField(kind, id, field string, value any) error {
	return errors.New(fmt.Errorf("invalid %s record %q: field %s has unexpected value %v (%T)", kind, id, field, value, value)).
		Component("pairing").
		Category(errors.CategoryValidation).
		Context("record", kind).
		Context("field", field).
		Build()
}
