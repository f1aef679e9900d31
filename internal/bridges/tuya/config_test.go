//nolint:goconst // Test files use repeated literals for clarity
package tuya

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "tuya-bridge.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, `
bridge:
  id: "test-tuya-bridge"
  health_interval: 15
  timezone: "Europe/London"

profiles:
  trv:
    "2":
      capability: target_temperature
      divisor: 10
    "3":
      capability: measure_temperature
      divisor: 10

devices:
  - device_id: "trv-kitchen"
    name: "Kitchen radiator"
    framing: sequence
    capabilities: [target_temperature, measure_temperature, onoff]
    profile: trv
    mappings:
      "1":
        capability: onoff
    query_on_start: true
  - device_id: "climate-hall"
    capabilities: [measure_temperature, measure_humidity]
    sources:
      attributes:
        - cluster: "0x0402"
          attributes: [measuredValue]
      raw_frames: true
`)

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Bridge.ID != "test-tuya-bridge" {
		t.Errorf("Bridge.ID = %q, want %q", cfg.Bridge.ID, "test-tuya-bridge")
	}
	if cfg.GetHealthInterval() != 15*time.Second {
		t.Errorf("GetHealthInterval() = %v, want 15s", cfg.GetHealthInterval())
	}
	if cfg.GetStoreTimeout() != 5*time.Second {
		t.Errorf("GetStoreTimeout() = %v, want default 5s", cfg.GetStoreTimeout())
	}
	if cfg.GetLocation().String() != "Europe/London" {
		t.Errorf("GetLocation() = %v, want Europe/London", cfg.GetLocation())
	}

	if len(cfg.Devices) != 2 {
		t.Fatalf("len(Devices) = %d, want 2", len(cfg.Devices))
	}

	trv := cfg.Devices[0]
	if trv.Endpoint != 1 {
		t.Errorf("Endpoint = %d, want default 1", trv.Endpoint)
	}
	if !trv.Sources.Vendor {
		t.Error("Sources.Vendor should default to true when nothing is selected")
	}
	if trv.FramingHint() != FramingSequence {
		t.Errorf("FramingHint() = %v, want sequence", trv.FramingHint())
	}
	if !trv.QueryOnStart {
		t.Error("QueryOnStart should be true")
	}

	hall := cfg.Devices[1]
	if hall.Sources.Vendor {
		t.Error("Sources.Vendor should stay false when other sources are selected")
	}
	if !hall.Sources.RawFrames {
		t.Error("Sources.RawFrames should be true")
	}

	mappings, err := cfg.DeviceMappings(trv)
	if err != nil {
		t.Fatalf("DeviceMappings failed: %v", err)
	}
	if len(mappings) != 3 {
		t.Errorf("len(mappings) = %d, want 3", len(mappings))
	}
	if rule, ok := mappings.Lookup(DatapointKey(2)); !ok || rule.Divisor != 10 {
		t.Errorf("dp2 rule = %+v, want profile rule with divisor 10", rule)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	configPath := writeConfig(t, t.TempDir(), `
bridge:
  id: "from-file"
devices:
  - device_id: "plug-1"
    capabilities: [onoff]
`)

	t.Setenv("TUYA_BRIDGE_ID", "from-env")
	t.Setenv("TUYA_BRIDGE_TIMEZONE", "America/New_York")

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Bridge.ID != "from-env" {
		t.Errorf("Bridge.ID = %q, want from-env", cfg.Bridge.ID)
	}
	if cfg.Bridge.Timezone != "America/New_York" {
		t.Errorf("Bridge.Timezone = %q, want America/New_York", cfg.Bridge.Timezone)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfig should fail for a missing file")
	}

	path := writeConfig(t, t.TempDir(), "bridge: [unclosed")
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig should fail for invalid YAML")
	}

	path = writeConfig(t, t.TempDir(), `
devices:
  - device_id: "plug-1"
    capabilities: [onoff]
    mappings:
      "1":
        divisor: 10
`)
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig should fail for a rule without capability")
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Devices = []DeviceConfig{{DeviceID: "plug-1", Capabilities: []string{"onoff"}}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no bridge id", func(c *Config) { c.Bridge.ID = "" }, "bridge.id is required"},
		{"health interval", func(c *Config) { c.Bridge.HealthInterval = 0 }, "health_interval"},
		{"store timeout", func(c *Config) { c.Bridge.StoreTimeout = 0 }, "store_timeout"},
		{"bad timezone", func(c *Config) { c.Bridge.Timezone = "Mars/Olympus" }, "timezone"},
		{"no device id", func(c *Config) { c.Devices[0].DeviceID = "" }, "device_id is required"},
		{"topic chars", func(c *Config) { c.Devices[0].DeviceID = "a/b" }, "MQTT topic characters"},
		{"duplicate", func(c *Config) { c.Devices = append(c.Devices, c.Devices[0]) }, "is duplicate"},
		{"bad framing", func(c *Config) { c.Devices[0].Framing = "maybe" }, "framing"},
		{"no capabilities", func(c *Config) { c.Devices[0].Capabilities = nil }, "capabilities"},
		{"unknown profile", func(c *Config) { c.Devices[0].Profile = "trv" }, "profile \"trv\" is not defined"},
		{"bad cluster", func(c *Config) {
			c.Devices[0].Sources.Attributes = []AttributeSourceConfig{{Cluster: "0xZZ", Attributes: []string{"onOff"}}}
		}, "cluster"},
		{"no attributes", func(c *Config) {
			c.Devices[0].Sources.Attributes = []AttributeSourceConfig{{Cluster: "6"}}
		}, "attributes must have at least one entry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDeviceMappingsPrecedence(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "plug.yaml"), []byte(`
"1":
  capability: from_file
"2":
  capability: file_only
`), 0600); err != nil {
		t.Fatalf("write mapping file: %v", err)
	}

	cfg := defaultConfig()
	cfg.baseDir = dir
	cfg.Profiles["plug"] = MappingTable{
		DatapointKey(1): {Capability: "from_profile"},
		DatapointKey(3): {Capability: "profile_only"},
	}
	dev := DeviceConfig{
		DeviceID:    "plug-1",
		Profile:     "plug",
		MappingFile: "plug.yaml",
		Mappings:    MappingTable{DatapointKey(2): {Capability: "inline"}},
	}

	table, err := cfg.DeviceMappings(dev)
	if err != nil {
		t.Fatalf("DeviceMappings failed: %v", err)
	}

	want := map[uint8]string{1: "from_file", 2: "inline", 3: "profile_only"}
	for id, capability := range want {
		if got := table[DatapointKey(id)].Capability; got != capability {
			t.Errorf("dp%d = %q, want %q", id, got, capability)
		}
	}

	dev.MappingFile = "missing.yaml"
	if _, err := cfg.DeviceMappings(dev); err == nil {
		t.Error("DeviceMappings should fail for a missing mapping file")
	}
}

func TestParseCluster(t *testing.T) {
	tests := []struct {
		in      string
		want    uint16
		wantErr bool
	}{
		{"0x0402", 0x0402, false},
		{"1026", 1026, false},
		{" 0xEF00 ", 0xEF00, false},
		{"0x10000", 0, true},
		{"onoff", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseCluster(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCluster(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCluster(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}
