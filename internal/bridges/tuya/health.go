package tuya

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// defaultHealthInterval is used when HealthReporterConfig.Interval is zero.
const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the part of the MQTT client the reporter needs.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// StatsSource supplies the per-endpoint counters included in health
// messages. Bridge implements it.
type StatsSource interface {
	DeviceCount() int
	EndpointStats() []EndpointStats
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Interval between periodic reports. Default: 30 seconds.
	Interval time.Duration

	// Publisher receives the retained messages on HealthTopic. A nil
	// publisher makes every publish a no-op.
	Publisher HealthPublisher

	// Stats adds device and endpoint counters. Optional.
	Stats StatsSource

	// Clock stamps messages and measures uptime. Default: time.Now.
	Clock func() time.Time
}

// HealthReporter keeps a retained HealthMessage on HealthTopic current.
//
// Lifecycle: PublishStarting while wiring up, Start to report once straight
// away and then every Interval, Stop to end the loop and leave a final
// "stopping" message behind.
type HealthReporter struct {
	cfg     HealthReporterConfig
	started time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	exited  chan struct{}
	stopped bool
	logger  Logger
}

// NewHealthReporter creates a reporter. Nothing is published until
// PublishStarting, PublishNow or Start is called.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &HealthReporter{cfg: cfg, started: cfg.Clock()}
}

// Start runs the report loop until ctx is cancelled or Stop is called.
// Calls after the first, or after Stop, do nothing.
func (h *HealthReporter) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil || h.stopped {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.exited = make(chan struct{})
	go h.run(loopCtx, h.exited)
}

// Stop ends the report loop, waits for it and publishes "stopping".
// Only the first call has an effect.
func (h *HealthReporter) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	cancel, exited := h.cancel, h.exited
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		<-exited
	}
	if err := h.publish(HealthStopping, ""); err != nil {
		h.logError("failed to publish stopping status", err)
	}
}

// SetLogger sets the logger for publish failures.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.mu.Lock()
	h.logger = logger
	h.mu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.status()
	return h.publish(status, reason)
}

func (h *HealthReporter) run(ctx context.Context, exited chan<- struct{}) {
	defer close(exited)

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := h.PublishNow(); err != nil {
			h.logError("failed to publish health", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// status is degraded while the broker link is down or no device is
// configured, healthy otherwise.
func (h *HealthReporter) status() (HealthStatus, string) {
	switch {
	case h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected():
		return HealthDegraded, "MQTT disconnected"
	case h.cfg.Stats != nil && h.cfg.Stats.DeviceCount() == 0:
		return HealthDegraded, "no devices configured"
	default:
		return HealthHealthy, ""
	}
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	now := h.cfg.Clock()
	msg := HealthMessage{
		Bridge:        h.cfg.BridgeID,
		Timestamp:     now.UTC(),
		Status:        status,
		Version:       h.cfg.Version,
		UptimeSeconds: int64(now.Sub(h.started) / time.Second),
		Reason:        reason,
	}
	if h.cfg.Stats != nil {
		msg.DevicesManaged = h.cfg.Stats.DeviceCount()
		msg.Endpoints = h.cfg.Stats.EndpointStats()
	}
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.message(status, reason))
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(HealthTopic(), payload, publishQoS, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.mu.Lock()
	logger := h.logger
	h.mu.Unlock()
	logAt(logger, levelError, msg, "error", err)
}
