// Gray Logic Tuya bridge.
//
// Decodes Tuya EF00 datapoint reports arriving from Zigbee gateways over
// MQTT, maps them onto Gray Logic capabilities and sends datapoint commands
// back. Capability changes are published to the MQTT state topics and,
// when enabled, to InfluxDB, the SQLite history and a Kafka topic.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-tuya/internal/bridges/tuya"
	"github.com/nerrad567/gray-logic-tuya/internal/history"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/kafka"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-tuya/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// historyPruneInterval is how often expired history rows are removed.
	historyPruneInterval = time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// sinks holds the optional capability sinks and their health checks.
type sinks struct {
	db       *database.DB
	influx   *influxdb.Client
	producer *kafka.Producer

	publishers []tuya.CapabilityPublisher
	closers    []func()
}

func (s *sinks) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Tuya bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	if !cfg.Protocols.Tuya.Enabled {
		log.Info("Tuya bridge disabled, nothing to do")
		return nil
	}

	bridgeCfg, err := tuya.LoadConfig(cfg.Protocols.Tuya.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading Tuya bridge config: %w", err)
	}
	log.Info("Tuya bridge config loaded",
		"path", cfg.Protocols.Tuya.ConfigFile,
		"devices", len(bridgeCfg.Devices),
	)

	s, err := openSinks(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.close()

	// The bridge's health topic doubles as the broker-side Last Will.
	lwt, err := json.Marshal(tuya.NewLWTMessage(bridgeCfg.Bridge.ID))
	if err != nil {
		return fmt.Errorf("encoding LWT: %w", err)
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(tuya.HealthTopic(), lwt))
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	bridge, err := tuya.NewBridge(tuya.BridgeOptions{
		Config:     bridgeCfg,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Publishers: s.publishers,
		Version:    version,
		Logger:     log.With("component", "tuya"),
	})
	if err != nil {
		return fmt.Errorf("creating Tuya bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting Tuya bridge: %w", err)
	}
	defer func() {
		log.Info("stopping Tuya bridge")
		bridge.Stop()
	}()

	if err := healthCheck(ctx, s, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// openSinks connects every enabled capability sink. On error, sinks opened
// so far are closed before returning.
func openSinks(ctx context.Context, cfg *config.Config, log *logging.Logger) (_ *sinks, err error) {
	s := &sinks{}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	if cfg.Database.Enabled {
		s.db, err = database.Open(ctx, database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		db := s.db
		s.closers = append(s.closers, func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		})

		if err = s.db.Migrate(ctx, migrations.FS); err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}

		recorder := history.NewRecorder(s.db)
		s.publishers = append(s.publishers, recorder)
		go recorder.RunPruner(ctx, cfg.GetRetention(), historyPruneInterval, log.With("component", "history"))
		log.Info("capability history enabled",
			"path", cfg.Database.Path,
			"retention_days", cfg.Database.RetentionDays,
		)
	}

	if cfg.InfluxDB.Enabled {
		s.influx, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		influx := s.influx
		s.closers = append(s.closers, func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		})
		influx.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		s.publishers = append(s.publishers, influxPublisher(influx))
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	if cfg.Kafka.Enabled {
		s.producer, err = kafka.NewProducer(cfg.Kafka, cfg.GetKafkaBatchTimeout())
		if err != nil {
			return nil, fmt.Errorf("creating Kafka producer: %w", err)
		}
		producer := s.producer
		s.closers = append(s.closers, func() {
			log.Info("closing Kafka producer")
			if closeErr := producer.Close(); closeErr != nil {
				log.Error("error closing Kafka producer", "error", closeErr)
			}
		})
		producer.SetOnError(func(err error) {
			log.Error("Kafka write error", "error", err)
		})
		s.publishers = append(s.publishers, kafkaPublisher(producer, cfg.Site.ID))
		log.Info("Kafka event stream enabled", "brokers", cfg.Kafka.Brokers, "topic", producer.Topic())
	}

	return s, nil
}

// influxPublisher forwards capability changes to InfluxDB.
func influxPublisher(c *influxdb.Client) tuya.CapabilityPublisher {
	return tuya.PublisherFunc(func(_ context.Context, u tuya.CapabilityUpdate) error {
		return c.WriteCapability(u.DeviceID, u.Capability, u.Value, u.Timestamp)
	})
}

// capabilityEvent is the JSON body written to the Kafka topic.
type capabilityEvent struct {
	Site       string    `json:"site"`
	DeviceID   string    `json:"device_id"`
	Capability string    `json:"capability"`
	Value      any       `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

// eventPublisher is the part of the Kafka producer the bridge needs.
type eventPublisher interface {
	Publish(ctx context.Context, key string, v any) error
}

// kafkaPublisher forwards capability changes to the event stream, keyed by
// device so per-device ordering holds.
func kafkaPublisher(p eventPublisher, site string) tuya.CapabilityPublisher {
	return tuya.PublisherFunc(func(ctx context.Context, u tuya.CapabilityUpdate) error {
		return p.Publish(ctx, u.DeviceID, capabilityEvent{
			Site:       site,
			DeviceID:   u.DeviceID,
			Capability: u.Capability,
			Value:      u.Value,
			Timestamp:  u.Timestamp.UTC(),
		})
	})
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthChecker is implemented by every connection checked at startup.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

type namedCheck struct {
	name    string
	checker healthChecker
}

// healthCheck verifies MQTT and every enabled sink are reachable.
func healthCheck(ctx context.Context, s *sinks, mqttClient healthChecker) error {
	checks := []namedCheck{{"mqtt", mqttClient}}
	if s.db != nil {
		checks = append(checks, namedCheck{"database", s.db})
	}
	if s.influx != nil {
		checks = append(checks, namedCheck{"influxdb", s.influx})
	}
	if s.producer != nil {
		checks = append(checks, namedCheck{"kafka", s.producer})
	}

	for _, c := range checks {
		if err := c.checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the Tuya
// bridge's MQTTClient interface. The bridge's handlers do not return errors.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements tuya.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements tuya.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements tuya.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Disconnect implements tuya.MQTTClient.
// The MQTT client lifecycle belongs to run's defer chain, so this is a no-op.
func (a *mqttBridgeAdapter) Disconnect(_ uint) {}
