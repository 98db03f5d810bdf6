// Package devices is the durable map of device -> (last_seen,
// api_call_count, last_metrics, next_expected_refresh,
// sleep_disabled). It is the sole writer of device records and
// persists the whole registry atomically on every mutation.
package devices

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Device is one device's durable state.
type Device struct {
	Page           string                 `json:"page,omitempty"`
	FirstSeen      time.Time              `json:"first_seen"`
	LastSeen       time.Time              `json:"last_seen"`
	APICalls       int                    `json:"api_calls"`
	LastLog        string                 `json:"last_log,omitempty"`
	Metrics        map[string]interface{} `json:"metrics,omitempty"`
	NextRefresh    *time.Time             `json:"next_refresh,omitempty"`
	SleepDisabled  bool                   `json:"sleep_disabled"`
	ConnectionType string                 `json:"connection_type,omitempty"`
	LastMode       string                 `json:"mode,omitempty"`
}

// Update is a partial set of fields to merge into a device record on
// contact. Zero-valued fields are left untouched except where noted.
type Update struct {
	Page           string
	Mode           string
	LastLog        *string
	Metrics        map[string]interface{}
	ConnectionType string
}

// Registry is the durable device map. Every mutation is persisted to
// disk as a single JSON document via write-temp-then-rename, the same
// atomicity discipline spec.md requires of the snapshot store. A
// missing or unreadable file is tolerated: the registry starts empty
// and logs the problem rather than failing startup.
type Registry struct {
	path string
	log  zerolog.Logger

	mu      sync.Mutex
	devices map[string]*Device
}

// Load opens (or initializes) the registry backed by path.
func Load(path string, log zerolog.Logger) *Registry {
	r := &Registry{path: path, log: log, devices: map[string]*Device{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", path).Msg("no device registry file yet, starting empty")
		} else {
			log.Error().Err(err).Str("path", path).Msg("failed to read device registry, starting empty")
		}
		return r
	}

	var loaded map[string]*Device
	if err := json.Unmarshal(data, &loaded); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to parse device registry, starting empty")
		return r
	}
	r.devices = loaded
	return r
}

// Upsert records contact from deviceName, creating the record on first
// contact, incrementing api_calls, and merging u's fields. The whole
// registry is persisted before Upsert returns.
func (r *Registry) Upsert(deviceName string, u Update) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	d, ok := r.devices[deviceName]
	if !ok {
		d = &Device{FirstSeen: now}
		r.devices[deviceName] = d
	}

	d.LastSeen = now
	d.APICalls++
	if u.Page != "" {
		d.Page = u.Page
	}
	if u.Mode != "" {
		d.LastMode = u.Mode
	}
	if u.LastLog != nil {
		d.LastLog = *u.LastLog
	}
	if u.Metrics != nil {
		d.Metrics = u.Metrics
	}
	if u.ConnectionType != "" {
		d.ConnectionType = u.ConnectionType
	}

	r.persistLocked()
	return d
}

// Get returns a copy of deviceName's record, if any.
func (r *Registry) Get(deviceName string) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceName]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// SetNextRefresh records the server's prediction of when deviceName
// will next make contact.
func (r *Registry) SetNextRefresh(deviceName string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceName]
	if !ok {
		return
	}
	d.NextRefresh = &at
	r.persistLocked()
}

// SetSleepDisabled toggles sleep suppression for deviceName. Unlike
// Upsert, this does not count as an API call.
func (r *Registry) SetSleepDisabled(deviceName string, disabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceName]
	if !ok {
		return false
	}
	d.SleepDisabled = disabled
	r.persistLocked()
	return true
}

// All returns a snapshot copy of every device record, keyed by name.
func (r *Registry) All() map[string]Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Device, len(r.devices))
	for k, v := range r.devices {
		out[k] = *v
	}
	return out
}

// persistLocked writes the registry to disk. r.mu must be held.
func (r *Registry) persistLocked() {
	data, err := json.MarshalIndent(r.devices, "", "  ")
	if err != nil {
		r.log.Error().Err(err).Msg("failed to marshal device registry")
		return
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".devices-*.tmp")
	if err != nil {
		r.log.Error().Err(err).Msg("failed to persist device registry")
		return
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		r.log.Error().Err(err).Msg("failed to write device registry")
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		r.log.Error().Err(err).Msg("failed to close device registry temp file")
		return
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		r.log.Error().Err(err).Msg("failed to commit device registry")
	}
}
