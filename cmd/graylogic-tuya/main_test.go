package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-tuya/internal/bridges/tuya"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/logging"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

const testBridgeConfig = `
bridge:
  id: "tuya-test"
devices:
  - device_id: "trv-1"
    capabilities: [target_temperature]
    mappings:
      "2":
        capability: target_temperature
        divisor: 10
`

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingBridgeConfig verifies run fails before connecting anything
// when the Tuya bridge config cannot be read.
func TestRun_MissingBridgeConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := writeFile(t, dir, "config.yaml", `
site:
  id: test-site
protocols:
  tuya:
    enabled: true
    config_file: "`+filepath.Join(dir, "missing.yaml")+`"
`)
	t.Setenv("GRAYLOGIC_CONFIG", configPath)

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "Tuya bridge config") {
		t.Fatalf("run() error = %v, want Tuya bridge config error", err)
	}
}

// TestRun_TuyaDisabled verifies run exits cleanly with nothing to bridge.
func TestRun_TuyaDisabled(t *testing.T) {
	configPath := writeFile(t, t.TempDir(), "config.yaml", `
site:
  id: test-site
protocols:
  tuya:
    enabled: false
`)
	t.Setenv("GRAYLOGIC_CONFIG", configPath)

	if err := run(context.Background()); err != nil {
		t.Fatalf("run() error = %v, want nil", err)
	}
}

// TestRun_MQTTUnavailable verifies sinks opened before the MQTT failure are
// cleaned up and the error names MQTT.
func TestRun_MQTTUnavailable(t *testing.T) {
	dir := t.TempDir()
	bridgePath := writeFile(t, dir, "tuya-bridge.yaml", testBridgeConfig)
	configPath := writeFile(t, dir, "config.yaml", `
site:
  id: test-site
database:
  enabled: true
  path: "`+filepath.Join(dir, "history.db")+`"
mqtt:
  broker:
    host: "127.0.0.1"
    port: 19999
    client_id: "graylogic-tuya-main-test"
protocols:
  tuya:
    enabled: true
    config_file: "`+bridgePath+`"
`)
	t.Setenv("GRAYLOGIC_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "MQTT") {
		t.Fatalf("run() error = %v, want MQTT connection error", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "history.db")); statErr != nil {
		t.Errorf("history database should have been created before MQTT: %v", statErr)
	}
}

// TestGetConfigPath verifies the default and the environment override.
func TestGetConfigPath(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")
	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}

	t.Setenv("GRAYLOGIC_CONFIG", "/custom/path/config.yaml")
	if path := getConfigPath(); path != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q, want override", path)
	}
}

// ─── Sinks ─────────────────────────────────────────────────────

func TestOpenSinks_HistoryOnly(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Enabled:       true,
			Path:          filepath.Join(dir, "history.db"),
			BusyTimeout:   5,
			RetentionDays: 1,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := openSinks(ctx, cfg, logging.Default())
	if err != nil {
		t.Fatalf("openSinks() error = %v", err)
	}
	defer s.close()

	if s.db == nil || s.influx != nil || s.producer != nil {
		t.Errorf("sinks = %+v, want only the database", s)
	}
	if len(s.publishers) != 1 {
		t.Fatalf("publishers = %d, want 1", len(s.publishers))
	}

	err = s.publishers[0].PublishCapability(ctx, tuya.CapabilityUpdate{
		DeviceID: "trv-1", Capability: "target_temperature", Value: 21.0, Timestamp: time.Now(),
	})
	if err != nil {
		t.Errorf("history publish error = %v", err)
	}

	if err := healthCheck(ctx, s, okChecker{}); err != nil {
		t.Errorf("healthCheck() error = %v", err)
	}
}

func TestOpenSinks_KafkaWithoutBroker(t *testing.T) {
	cfg := &config.Config{
		Kafka: config.KafkaConfig{
			Enabled: true,
			Brokers: []string{"127.0.0.1:1"},
			Topic:   "t",
		},
	}

	s, err := openSinks(context.Background(), cfg, logging.Default())
	if err != nil {
		t.Fatalf("openSinks() error = %v", err)
	}
	defer s.close()

	err = healthCheck(context.Background(), s, okChecker{})
	if err == nil || !strings.HasPrefix(err.Error(), "kafka:") {
		t.Errorf("healthCheck() error = %v, want kafka failure", err)
	}
}

type okChecker struct{}

func (okChecker) HealthCheck(context.Context) error { return nil }

type failChecker struct{}

func (failChecker) HealthCheck(context.Context) error { return errors.New("down") }

func TestHealthCheck_ReportsFirstFailure(t *testing.T) {
	err := healthCheck(context.Background(), &sinks{}, failChecker{})
	if err == nil || err.Error() != "mqtt: down" {
		t.Errorf("healthCheck() error = %v, want \"mqtt: down\"", err)
	}
}

// ─── Publishers ────────────────────────────────────────────────

type recordingEvents struct {
	key   string
	event any
}

func (r *recordingEvents) Publish(_ context.Context, key string, v any) error {
	r.key = key
	r.event = v
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	rec := &recordingEvents{}
	pub := kafkaPublisher(rec, "site-1")

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	err := pub.PublishCapability(context.Background(), tuya.CapabilityUpdate{
		DeviceID: "trv-1", Capability: "target_temperature", Value: 21.5, Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("PublishCapability() error = %v", err)
	}
	if rec.key != "trv-1" {
		t.Errorf("key = %q, want device id", rec.key)
	}

	data, err := json.Marshal(rec.event)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"site":"site-1","device_id":"trv-1","capability":"target_temperature","value":21.5,"timestamp":"2026-03-01T11:00:00Z"}`
	if string(data) != want {
		t.Errorf("event = %s\nwant    %s", data, want)
	}
}
