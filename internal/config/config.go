// Package config loads the webInk server's YAML configuration into a
// typed struct. It is treated as the external collaborator spec.md
// names: a plain loader, no business logic.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultRefreshInterval = 600
	DefaultHTTPPort        = 8000
	DefaultSocketPort      = 8091
	DefaultDataDir         = "data"
)

// SuppressWindow is a daily, inclusive, non-midnight-crossing time
// range during which renders are not triggered.
type SuppressWindow struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Page is one page configuration entry.
type Page struct {
	URL              string          `yaml:"url"`
	RefreshInterval  int             `yaml:"refresh_interval"`
	ZoomLevel        float64         `yaml:"zoom_level"`
	Rotation         int             `yaml:"rotation"`
	ScrollToElement  string          `yaml:"scroll_to_element"`
	SuppressRefresh  *SuppressWindow `yaml:"suppress_refresh"`
	MandatoryRefresh []string        `yaml:"mandatory_refresh"`
}

// Device is one device configuration entry.
type Device struct {
	Page string `yaml:"page"`
}

// Config is the full parsed configuration. The source program's YAML
// shape is a list of single-key maps per page/device, e.g.:
//
//	pages:
//	  - nytimes:
//	      - url: https://nytimes.com
//	      - refresh_interval: 300
//
// which yamlConfig below decodes before Load flattens it into Pages
// and Devices.
type Config struct {
	Pages          map[string]Page   `yaml:"-"`
	Devices        map[string]Device `yaml:"-"`
	SupportedModes []string          `yaml:"supported_modes"`
	APIKey         string            `yaml:"api_key"`
	SocketPort     int               `yaml:"socket_port"`
	HTTPPort       int               `yaml:"http_port"`
	DataDir        string            `yaml:"data_dir"`
}

type yamlConfig struct {
	Pages          []map[string][]map[string]yaml.Node `yaml:"pages"`
	Devices        []map[string][]map[string]yaml.Node `yaml:"devices"`
	SupportedModes []string                            `yaml:"supported_modes"`
	APIKey         string                               `yaml:"api_key"`
	SocketPort     int                                  `yaml:"socket_port"`
	HTTPPort       int                                  `yaml:"http_port"`
	DataDir        string                               `yaml:"data_dir"`
}

// Load reads and parses the YAML config file at path. Unknown fields
// are ignored (the default yaml.v3 decode behavior). Config-load
// failure is the one unrecoverable error class in this system: the
// caller is expected to exit loudly rather than run with a broken
// config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg := &Config{
		Pages:          map[string]Page{},
		Devices:        map[string]Device{},
		SupportedModes: raw.SupportedModes,
		APIKey:         raw.APIKey,
		SocketPort:     raw.SocketPort,
		HTTPPort:       raw.HTTPPort,
		DataDir:        raw.DataDir,
	}

	if cfg.APIKey == "" {
		cfg.APIKey = "myapikey"
	}
	if cfg.SocketPort == 0 {
		cfg.SocketPort = DefaultSocketPort
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = DefaultHTTPPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}

	for _, entry := range raw.Pages {
		for pageID, items := range entry {
			page := Page{RefreshInterval: DefaultRefreshInterval, ZoomLevel: 1.0}
			for _, item := range items {
				if v, ok := item["url"]; ok {
					_ = v.Decode(&page.URL)
				}
				if v, ok := item["refresh_interval"]; ok {
					_ = v.Decode(&page.RefreshInterval)
				}
				if v, ok := item["zoom_level"]; ok {
					_ = v.Decode(&page.ZoomLevel)
				}
				if v, ok := item["rotation"]; ok {
					_ = v.Decode(&page.Rotation)
				}
				if v, ok := item["scroll_to_element"]; ok {
					_ = v.Decode(&page.ScrollToElement)
				}
				if v, ok := item["suppress_refresh"]; ok {
					var sw SuppressWindow
					if err := v.Decode(&sw); err == nil {
						page.SuppressRefresh = &sw
					}
				}
				if v, ok := item["mandatory_refresh"]; ok {
					_ = v.Decode(&page.MandatoryRefresh)
				}
			}
			if page.Rotation != 0 && page.Rotation != 90 && page.Rotation != -90 && page.Rotation != 180 {
				return nil, fmt.Errorf("config: page %q has invalid rotation %d", pageID, page.Rotation)
			}
			if page.SuppressRefresh != nil {
				if err := validateSuppressWindow(*page.SuppressRefresh); err != nil {
					return nil, fmt.Errorf("config: page %q: %w", pageID, err)
				}
			}
			cfg.Pages[pageID] = page
		}
	}

	for _, entry := range raw.Devices {
		for name, items := range entry {
			dev := Device{}
			for _, item := range items {
				if v, ok := item["page"]; ok {
					_ = v.Decode(&dev.Page)
				}
			}
			cfg.Devices[name] = dev
		}
	}

	return cfg, nil
}

// validateSuppressWindow rejects suppression windows that straddle
// midnight. spec.md §9 resolves the ambiguity explicitly: only
// start <= end is supported, and a straddling window is a config
// error, not a silently-wrong runtime behavior.
func validateSuppressWindow(w SuppressWindow) error {
	start, err := time.Parse("15:04", w.Start)
	if err != nil {
		return fmt.Errorf("invalid suppress_refresh.start %q: %w", w.Start, err)
	}
	end, err := time.Parse("15:04", w.End)
	if err != nil {
		return fmt.Errorf("invalid suppress_refresh.end %q: %w", w.End, err)
	}
	if start.After(end) {
		return fmt.Errorf("suppress_refresh window %s-%s straddles midnight, which is not supported", w.Start, w.End)
	}
	return nil
}

// DeviceOrDefault resolves a device name to its Device record, falling
// back to the synthetic "default" device, and reports whether any
// record (named or default) was found.
func (c *Config) DeviceOrDefault(name string) (Device, bool) {
	if d, ok := c.Devices[name]; ok {
		return d, true
	}
	if d, ok := c.Devices["default"]; ok {
		return d, true
	}
	return Device{}, false
}

// ModeSupported reports whether modeStr is in the configured
// supported_modes list.
func (c *Config) ModeSupported(modeStr string) bool {
	for _, m := range c.SupportedModes {
		if m == modeStr {
			return true
		}
	}
	return false
}
