package tuya

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // zone lookups on minimal images

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the Tuya bridge.
// Loaded from YAML with environment variable overrides.
type Config struct {
	Bridge  BridgeConfig   `yaml:"bridge"`
	Devices []DeviceConfig `yaml:"devices"`

	// Profiles are shared mapping tables, referenced by name from devices
	// of the same category.
	Profiles map[string]MappingTable `yaml:"profiles"`

	// baseDir resolves relative mapping_file paths.
	baseDir string
}

// BridgeConfig contains bridge identity and operational settings.
type BridgeConfig struct {
	// ID uniquely identifies this bridge instance in health reports.
	ID string `yaml:"id"`

	// HealthInterval is how often to publish health status (seconds).
	// Default: 30 seconds.
	HealthInterval int `yaml:"health_interval"`

	// Timezone is the IANA zone used for the local time in time sync
	// responses. Default: "UTC".
	Timezone string `yaml:"timezone"`

	// StoreTimeout bounds each capability write (seconds).
	// Default: 5 seconds.
	StoreTimeout int `yaml:"store_timeout"`
}

// DeviceConfig defines one Tuya device endpoint.
type DeviceConfig struct {
	// DeviceID is the Gray Logic device identifier, also used in topics.
	DeviceID string `yaml:"device_id"`

	// Name is a human-readable label.
	Name string `yaml:"name"`

	// Endpoint is the Zigbee endpoint number. Default: 1.
	Endpoint uint8 `yaml:"endpoint"`

	// Framing overrides the frame layout guess: auto, sequence, no_sequence.
	Framing string `yaml:"framing"`

	// Capabilities lists the capability names the device declares.
	Capabilities []string `yaml:"capabilities"`

	// Sources selects the ingestion paths to arm.
	Sources SourcesConfig `yaml:"sources"`

	// Profile names a shared mapping table in Config.Profiles.
	Profile string `yaml:"profile"`

	// MappingFile is a YAML mapping table, relative to the config file.
	MappingFile string `yaml:"mapping_file"`

	// Mappings are inline rules. They override profile and file rules for
	// the same key.
	Mappings MappingTable `yaml:"mappings"`

	// AutoDetect guesses rules for unmapped numeric datapoints.
	AutoDetect bool `yaml:"auto_detect"`

	// QueryOnStart sends a data query when the bridge starts.
	QueryOnStart bool `yaml:"query_on_start"`
}

// SourcesConfig selects the ingestion paths of a device. When nothing is
// selected the vendor path is armed.
type SourcesConfig struct {
	// Vendor arms the manufacturer cluster report events.
	Vendor bool `yaml:"vendor"`

	// VendorEvents overrides DefaultVendorEvents.
	VendorEvents []string `yaml:"vendor_events"`

	// Attributes arms standard attribute reports.
	Attributes []AttributeSourceConfig `yaml:"attributes"`

	// RawFrames arms raw frame interception on the manufacturer cluster.
	RawFrames bool `yaml:"raw_frames"`
}

// AttributeSourceConfig lists attributes of one standard cluster.
type AttributeSourceConfig struct {
	// Cluster is the cluster id, decimal or 0x-prefixed hex.
	Cluster string `yaml:"cluster"`

	// Attributes are attribute names (e.g. "measuredValue").
	Attributes []string `yaml:"attributes"`
}

// LoadConfig reads configuration from a YAML file.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables: TUYA_BRIDGE_ID, TUYA_BRIDGE_TIMEZONE.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.baseDir = filepath.Dir(path)

	applyEnvOverrides(cfg)
	cfg.applyDeviceDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "tuya-bridge-01",
			HealthInterval: 30,
			Timezone:       "UTC",
			StoreTimeout:   5,
		},
		Devices:  []DeviceConfig{},
		Profiles: map[string]MappingTable{},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TUYA_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}
	if v := os.Getenv("TUYA_BRIDGE_TIMEZONE"); v != "" {
		cfg.Bridge.Timezone = v
	}
}

// applyDeviceDefaults fills per-device defaults that YAML cannot express.
func (c *Config) applyDeviceDefaults() {
	for i := range c.Devices {
		dev := &c.Devices[i]
		if dev.Endpoint == 0 {
			dev.Endpoint = 1
		}
		s := &dev.Sources
		if !s.Vendor && len(s.Attributes) == 0 && !s.RawFrames {
			s.Vendor = true
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateBridge()...)
	errs = append(errs, c.validateDevices()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateBridge validates bridge settings.
func (c *Config) validateBridge() []string {
	var errs []string
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	if c.Bridge.StoreTimeout < 1 {
		errs = append(errs, "bridge.store_timeout must be at least 1 second")
	}
	if _, err := time.LoadLocation(c.Bridge.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("bridge.timezone %q is invalid: %v", c.Bridge.Timezone, err))
	}
	return errs
}

// validateDevices validates device configurations.
func (c *Config) validateDevices() []string {
	var errs []string
	deviceIDs := make(map[string]bool)

	for i, dev := range c.Devices {
		if dev.DeviceID == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].device_id is required", i))
			continue
		}
		if strings.ContainsAny(dev.DeviceID, "/+#") {
			errs = append(errs, fmt.Sprintf("devices[%d].device_id %q must not contain MQTT topic characters", i, dev.DeviceID))
		}
		if deviceIDs[dev.DeviceID] {
			errs = append(errs, fmt.Sprintf("devices[%d].device_id %q is duplicate", i, dev.DeviceID))
		}
		deviceIDs[dev.DeviceID] = true

		if _, err := ParseFraming(dev.Framing); err != nil {
			errs = append(errs, fmt.Sprintf("devices[%d].framing: %v", i, err))
		}
		if len(dev.Capabilities) == 0 {
			errs = append(errs, fmt.Sprintf("devices[%d].capabilities must have at least one entry", i))
		}
		if dev.Profile != "" {
			if _, ok := c.Profiles[dev.Profile]; !ok {
				errs = append(errs, fmt.Sprintf("devices[%d].profile %q is not defined", i, dev.Profile))
			}
		}

		for j, attr := range dev.Sources.Attributes {
			if _, err := ParseCluster(attr.Cluster); err != nil {
				errs = append(errs, fmt.Sprintf("devices[%d].sources.attributes[%d].cluster: %v", i, j, err))
			}
			if len(attr.Attributes) == 0 {
				errs = append(errs, fmt.Sprintf("devices[%d].sources.attributes[%d].attributes must have at least one entry", i, j))
			}
		}
	}

	return errs
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetStoreTimeout returns the capability write timeout as a Duration.
func (c *Config) GetStoreTimeout() time.Duration {
	return time.Duration(c.Bridge.StoreTimeout) * time.Second
}

// GetLocation returns the time sync zone, falling back to UTC.
func (c *Config) GetLocation() *time.Location {
	loc, err := time.LoadLocation(c.Bridge.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DeviceMappings assembles the mapping table of a device from its profile,
// its mapping file and its inline rules, later sources overriding earlier.
func (c *Config) DeviceMappings(dev DeviceConfig) (MappingTable, error) {
	table := MappingTable{}

	if dev.Profile != "" {
		profile, ok := c.Profiles[dev.Profile]
		if !ok {
			return nil, fmt.Errorf("device %s: profile %q is not defined", dev.DeviceID, dev.Profile)
		}
		table = table.Merge(profile)
	}

	if dev.MappingFile != "" {
		path := dev.MappingFile
		if !filepath.IsAbs(path) && c.baseDir != "" {
			path = filepath.Join(c.baseDir, path)
		}
		fromFile, err := LoadMappingTable(path)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", dev.DeviceID, err)
		}
		table = table.Merge(fromFile)
	}

	return table.Merge(dev.Mappings), nil
}

// FramingHint returns the parsed framing of a device. Invalid values have
// already been rejected by Validate.
func (d DeviceConfig) FramingHint() Framing {
	f, _ := ParseFraming(d.Framing)
	return f
}

// ParseCluster parses a cluster id given in decimal or 0x-prefixed hex.
func ParseCluster(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid cluster %q", s)
	}
	return uint16(n), nil
}
