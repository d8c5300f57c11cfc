// Package buildinfo holds build-time metadata and the device identity, kept
// apart from user configuration.
package buildinfo

import (
	"github.com/google/uuid"

	"github.com/tphakala/pairwatch/internal/localstore"
)

// UnknownValue is reported for metadata that was not injected at build time.
const UnknownValue = "unknown"

// KeySystemID is the local store key holding the device identity.
const KeySystemID = "system_id"

// Context is the build metadata injected at startup.
type Context struct {
	Version   string
	BuildDate string
	SystemID  string
}

// NewContext returns a Context with the given values.
func NewContext(version, buildDate, systemID string) *Context {
	return &Context{
		Version:   version,
		BuildDate: buildDate,
		SystemID:  systemID,
	}
}

func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return UnknownValue
	}
	return c.Version
}

func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return UnknownValue
	}
	return c.BuildDate
}

func (c *Context) GetSystemID() string {
	if c == nil || c.SystemID == "" {
		return UnknownValue
	}
	return c.SystemID
}

// LoadOrCreateSystemID returns the device identity stored in local. The
// first call creates and stores a random one.
func LoadOrCreateSystemID(local localstore.Store) (string, error) {
	id, ok, err := local.Get(KeySystemID)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := local.Set(KeySystemID, id); err != nil {
		return "", err
	}
	return id, nil
}
