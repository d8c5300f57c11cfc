package localstore

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/tphakala/pairwatch/internal/errors"
)

// Record keys.
const (
	KeyActiveMonitoringCode = "active_monitoring_code"
	KeyMonitoredObjects     = "monitored_objects"
	KeyAllPairings          = "all_pairings"
)

// ActiveMonitoring is the durable identity of the running monitoring
// session.
type ActiveMonitoring struct {
	Code    string
	Objects []string
}

// PairingEntry is what this device remembers about one of its pairings.
type PairingEntry struct {
	Role            string    `json:"role"`
	SelectedObjects []string  `json:"selectedObjects"`
	CreatedAt       time.Time `json:"createdAt"`
	IsActive        bool      `json:"isActive"`
}

// SaveActiveMonitoring records the session identity. The objects are written
// before the code so a partial write never yields a code paired with a
// stale watch list.
func SaveActiveMonitoring(s Store, code string, objects []string) error {
	if objects == nil {
		objects = []string{}
	}
	raw, err := json.Marshal(objects)
	if err != nil {
		return wrap("set", KeyMonitoredObjects, err)
	}
	if err := s.Set(KeyMonitoredObjects, string(raw)); err != nil {
		return err
	}
	return s.Set(KeyActiveMonitoringCode, code)
}

// LoadActiveMonitoring returns the persisted session. Any read or decode
// failure reports no session.
func LoadActiveMonitoring(s Store) (ActiveMonitoring, bool) {
	code, ok, err := s.Get(KeyActiveMonitoringCode)
	if err != nil || !ok || code == "" {
		return ActiveMonitoring{}, false
	}
	raw, ok, err := s.Get(KeyMonitoredObjects)
	if err != nil {
		return ActiveMonitoring{}, false
	}
	objects := []string{}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &objects); err != nil {
			return ActiveMonitoring{}, false
		}
	}
	return ActiveMonitoring{Code: code, Objects: objects}, true
}

// ClearActiveMonitoring removes the session record. Both keys are attempted
// even if the first delete fails.
func ClearActiveMonitoring(s Store) error {
	return errors.Join(
		s.Delete(KeyActiveMonitoringCode),
		s.Delete(KeyMonitoredObjects),
	)
}

// LoadPairings returns every remembered pairing keyed by code.
func LoadPairings(s Store) (map[string]PairingEntry, error) {
	raw, ok, err := s.Get(KeyAllPairings)
	if err != nil {
		return nil, err
	}
	entries := make(map[string]PairingEntry)
	if !ok || raw == "" {
		return entries, nil
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, wrap("get", KeyAllPairings, fmt.Errorf("corrupt pairings record: %w", err))
	}
	return entries, nil
}

// SavePairingEntry adds or replaces the entry for code.
func SavePairingEntry(s Store, code string, entry PairingEntry) error {
	entries, err := LoadPairings(s)
	if err != nil {
		return err
	}
	entry.SelectedObjects = slices.Clone(entry.SelectedObjects)
	entries[code] = entry
	return savePairings(s, entries)
}

// RemovePairingEntry forgets code. Removing an unknown code is a no-op.
func RemovePairingEntry(s Store, code string) error {
	entries, err := LoadPairings(s)
	if err != nil {
		return err
	}
	if _, ok := entries[code]; !ok {
		return nil
	}
	delete(entries, code)
	return savePairings(s, entries)
}

func savePairings(s Store, entries map[string]PairingEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return wrap("set", KeyAllPairings, err)
	}
	return s.Set(KeyAllPairings, string(raw))
}
