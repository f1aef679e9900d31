package tuya

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Bridge operation constants.
const (
	// rawTopicParts is the number of parts before the kind-specific suffix:
	// graylogic/raw/tuya/{device}/{kind}.
	rawTopicParts = 5

	// commandTopicParts is graylogic/command/tuya/{device}.
	commandTopicParts = 4

	// publishQoS is used for every bridge publication.
	publishQoS = 1
)

// Bridge hosts one Endpoint per configured Tuya device and connects them to
// the radio gateway over MQTT. It handles:
//   - Inbound vendor events, attribute reports and raw frames
//   - Time sync requests from devices
//   - Commands from Core, translated into datapoint frames
//   - Capability state publication and health reporting
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg     *Config
	mqtt    MQTTClient
	health  *HealthReporter
	loc     *time.Location
	clock   func() time.Time
	devices map[string]*bridgeDevice

	// seq numbers outbound frames.
	seq atomic.Uint32

	// Shutdown coordination
	done      chan struct{}
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// bridgeDevice bundles everything the bridge keeps per device.
type bridgeDevice struct {
	cfg      DeviceConfig
	endpoint *Endpoint
	store    *DeviceStore
	handle   *deviceHandle
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// Disconnect closes the connection gracefully.
	Disconnect(quiesce uint)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the loaded bridge configuration.
	Config *Config

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Publishers receive every capability change in addition to the MQTT
	// state topic (time-series, history, event stream). Optional.
	Publishers []CapabilityPublisher

	// Version is reported in health messages.
	Version string

	// Logger is optional structured logger.
	Logger Logger

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// NewBridge creates a new bridge instance, building one endpoint per device.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:       opts.Config,
		mqtt:      opts.MQTTClient,
		loc:       opts.Config.GetLocation(),
		clock:     clock,
		devices:   make(map[string]*bridgeDevice, len(opts.Config.Devices)),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	timeout := opts.Config.GetStoreTimeout()
	for _, devCfg := range opts.Config.Devices {
		dev, err := b.buildDevice(devCfg, opts.Publishers, timeout)
		if err != nil {
			ctxCancel()
			return nil, err
		}
		b.devices[devCfg.DeviceID] = dev
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.Config.Bridge.ID,
		Version:   opts.Version,
		Interval:  opts.Config.GetHealthInterval(),
		Publisher: opts.MQTTClient,
		Stats:     b,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// buildDevice wires the store, endpoint and handle of one device.
func (b *Bridge) buildDevice(cfg DeviceConfig, extra []CapabilityPublisher, timeout time.Duration) (*bridgeDevice, error) {
	mappings, err := b.cfg.DeviceMappings(cfg)
	if err != nil {
		return nil, err
	}

	publishers := make([]CapabilityPublisher, 0, len(extra)+1)
	dev := &bridgeDevice{cfg: cfg}
	publishers = append(publishers, withTimeout(PublisherFunc(b.publishState), timeout))
	for _, p := range extra {
		publishers = append(publishers, withTimeout(p, timeout))
	}
	dev.store = NewDeviceStore(cfg.DeviceID, cfg.Capabilities, publishers...)

	var clusters []uint16
	for _, attr := range cfg.Sources.Attributes {
		c, err := ParseCluster(attr.Cluster)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", cfg.DeviceID, err)
		}
		clusters = append(clusters, c)
	}
	dev.handle = newDeviceHandle(cfg.DeviceID, clusters...)

	dev.endpoint = NewEndpoint(EndpointOptions{
		ID:         cfg.DeviceID,
		Mappings:   mappings,
		Store:      dev.store,
		Logger:     b.getLogger(),
		Framing:    cfg.FramingHint(),
		AutoDetect: cfg.AutoDetect,
		Clock:      b.clock,
	})

	return dev, nil
}

// Start begins bridge operation.
// This arms device sources, subscribes to MQTT topics, queries devices that
// ask for it and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	for _, id := range b.deviceIDs() {
		b.armDevice(b.devices[id])
	}

	rawTopic := RawSubscribeTopic()
	if err := b.mqtt.Subscribe(rawTopic, publishQoS, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to gateway topics: %w", err)
	}
	b.logInfo("subscribed to gateway", "topic", rawTopic)

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, publishQoS, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	for _, id := range b.deviceIDs() {
		if b.devices[id].cfg.QueryOnStart {
			if err := b.sendFrame(id, BuildDataQuery(b.nextSeq()), ""); err != nil {
				b.logError("initial data query failed", err)
			}
		}
	}

	b.health.Start(ctx)

	b.logInfo("bridge started",
		"bridge_id", b.cfg.Bridge.ID,
		"devices", len(b.devices))

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

// armDevice arms every configured source of a device on its endpoint.
func (b *Bridge) armDevice(dev *bridgeDevice) {
	src := dev.cfg.Sources

	if src.Vendor {
		ok := dev.endpoint.Arm(b.ctx, VendorSource{Handle: dev.handle, Events: src.VendorEvents})
		b.logArm(dev, ModeVendor, ok)
	}

	if len(src.Attributes) > 0 {
		attrs := make(map[uint16][]string, len(src.Attributes))
		for _, a := range src.Attributes {
			cluster, err := ParseCluster(a.Cluster)
			if err != nil {
				continue
			}
			attrs[cluster] = append(attrs[cluster], a.Attributes...)
		}
		ok := dev.endpoint.Arm(b.ctx, AttributeSource{Handle: dev.handle, Attributes: attrs})
		b.logArm(dev, ModeAttribute, ok)
	}

	if src.RawFrames {
		ok := dev.endpoint.Arm(b.ctx, FrameSource{Handle: dev.handle, Cluster: ManufacturerCluster})
		b.logArm(dev, ModeRawFrame, ok)
	}
}

func (b *Bridge) logArm(dev *bridgeDevice, mode Mode, ok bool) {
	if !ok {
		b.logInfo("source not armed", "device_id", dev.cfg.DeviceID, "mode", mode.String())
	}
}

// Endpoint returns the endpoint of a device, for custom datapoint handlers.
func (b *Bridge) Endpoint(deviceID string) (*Endpoint, bool) {
	dev, ok := b.devices[deviceID]
	if !ok {
		return nil, false
	}
	return dev.endpoint, true
}

// handleMQTTMessage routes an inbound message by topic.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < commandTopicParts || parts[0] != TopicPrefix || parts[2] != Protocol {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch parts[1] {
	case "raw":
		b.handleGatewayMessage(parts, payload)
	case "command":
		b.handleCommand(parts[3], payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

// handleGatewayMessage dispatches report, attribute and frame topics to the
// device handle.
func (b *Bridge) handleGatewayMessage(parts []string, payload []byte) {
	if len(parts) < rawTopicParts+1 {
		b.logError("invalid gateway topic", fmt.Errorf("topic: %s", strings.Join(parts, "/")))
		return
	}

	deviceID := parts[3]
	dev, ok := b.devices[deviceID]
	if !ok {
		b.logDebug("message for unknown device", "device_id", deviceID)
		return
	}

	switch parts[4] {
	case "report":
		if !dev.handle.emitEvent(parts[5], decodePayload(payload, false)) {
			b.logDebug("no listener for event", "device_id", deviceID, "event", parts[5])
		}

	case "attribute":
		if len(parts) < rawTopicParts+2 {
			b.logError("invalid attribute topic", fmt.Errorf("topic: %s", strings.Join(parts, "/")))
			return
		}
		cluster, err := ParseCluster(parts[5])
		if err != nil {
			b.logError("invalid attribute topic", err)
			return
		}
		dev.handle.emitAttribute(cluster, parts[6], decodePayload(payload, true))

	case "frame":
		cluster, err := ParseCluster(parts[5])
		if err != nil {
			b.logError("invalid frame topic", err)
			return
		}
		frame, ok := decodeFrame(payload)
		if !ok {
			b.logDebug("undecodable frame", "device_id", deviceID)
			return
		}
		if cluster == ManufacturerCluster && IsTimeSyncRequest(frame) {
			b.answerTimeSync(deviceID, frame)
			return
		}
		dev.handle.emitFrame(cluster, frame)

	default:
		b.logDebug("unknown gateway message kind", "device_id", deviceID, "kind", parts[4])
	}
}

// answerTimeSync replies to a device time request, echoing its sequence.
func (b *Bridge) answerTimeSync(deviceID string, request []byte) {
	resp := BuildTimeSync(FrameSequence(request), b.clock(), b.loc)
	if err := b.sendFrame(deviceID, resp, ""); err != nil {
		b.logError("time sync response failed", err)
		return
	}
	b.logInfo("time sync answered", "device_id", deviceID)
}

// handleCommand translates a Core command into a frame for the gateway.
func (b *Bridge) handleCommand(deviceID string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = deviceID
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"action", cmd.Action)

	err := b.executeCommand(cmd)
	if err != nil {
		b.logError("command execution failed", err)
	}
	b.publishAck(cmd, err)
}

// executeCommand builds and sends the frame for cmd.
func (b *Bridge) executeCommand(cmd CommandMessage) error {
	if _, ok := b.devices[cmd.DeviceID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, cmd.DeviceID)
	}

	var frame []byte
	switch cmd.Action {
	case "", ActionSet:
		records, err := cmd.Records()
		if err != nil {
			return err
		}
		frame, err = BuildDatapointFrame(b.nextSeq(), records...)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
	case ActionQuery:
		frame = BuildDataQuery(b.nextSeq())
	case ActionMCUVersion:
		frame = BuildMCUVersionRequest(b.nextSeq())
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidCommand, cmd.Action)
	}

	return b.sendFrame(cmd.DeviceID, frame, cmd.ID)
}

// sendFrame publishes an outbound frame for the gateway.
func (b *Bridge) sendFrame(deviceID string, frame []byte, commandID string) error {
	dev, ok := b.devices[deviceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	msg := SendMessage{
		DeviceID: deviceID,
		Endpoint: dev.cfg.Endpoint,
		Cluster:  ManufacturerCluster,
		Frame:    hex.EncodeToString(frame),
		ID:       commandID,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal send message: %w", err)
	}
	if err := b.mqtt.Publish(SendTopic(deviceID), data, publishQoS, false); err != nil {
		return fmt.Errorf("publish frame: %w", err)
	}
	b.logDebug("frame sent", "device_id", deviceID, "hex", msg.Frame)
	return nil
}

func (b *Bridge) publishAck(cmd CommandMessage, cmdErr error) {
	data, err := json.Marshal(NewAckMessage(cmd, cmdErr))
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(cmd.DeviceID), data, publishQoS, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// publishState publishes the device's full capability state, retained.
func (b *Bridge) publishState(_ context.Context, u CapabilityUpdate) error {
	dev, ok := b.devices[u.DeviceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, u.DeviceID)
	}

	state, _ := dev.store.Snapshot()
	msg := StateMessage{
		DeviceID:   u.DeviceID,
		Timestamp:  u.Timestamp.UTC(),
		Capability: u.Capability,
		Value:      u.Value,
		State:      state,
		Protocol:   Protocol,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := b.mqtt.Publish(StateTopic(u.DeviceID), data, publishQoS, true); err != nil {
		return fmt.Errorf("publish state: %w", err)
	}
	return nil
}

func (b *Bridge) nextSeq() uint16 {
	return uint16(b.seq.Add(1))
}

func (b *Bridge) deviceIDs() []string {
	ids := make([]string, 0, len(b.devices))
	for id := range b.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DeviceCount implements StatsSource.
func (b *Bridge) DeviceCount() int {
	return len(b.devices)
}

// EndpointStats implements StatsSource.
func (b *Bridge) EndpointStats() []EndpointStats {
	out := make([]EndpointStats, 0, len(b.devices))
	for _, id := range b.deviceIDs() {
		out = append(out, b.devices[id].endpoint.Stats())
	}
	return out
}

// withTimeout bounds each publish call of p.
func withTimeout(p CapabilityPublisher, timeout time.Duration) CapabilityPublisher {
	return PublisherFunc(func(ctx context.Context, u CapabilityUpdate) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return p.PublishCapability(ctx, u)
	})
}

// decodePayload turns a gateway message body into a parser input.
//
// JSON objects, arrays and strings decode with numbers kept exact. Other
// JSON scalars are decoded only when scalars is set (attribute values);
// otherwise the body is passed on as a string, since a hex frame of digits
// would read as a JSON number.
func decodePayload(payload []byte, scalars bool) any {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil
	}
	if !scalars && !bytes.ContainsAny(trimmed[:1], `{["`) {
		return string(trimmed)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err == nil && !dec.More() {
		return v
	}
	return string(trimmed)
}

// decodeFrame extracts raw frame bytes from a hex string, a JSON string of
// hex, a JSON byte list or a JSON buffer object.
func decodeFrame(payload []byte) ([]byte, bool) {
	switch v := decodePayload(payload, false).(type) {
	case string:
		return parseHex(v)
	case map[string]any:
		for _, field := range wrapperFields {
			if nested, ok := v[field]; ok {
				if s, ok := nested.(string); ok {
					return parseHex(s)
				}
				return toBytes(nested)
			}
		}
		return nil, false
	case nil:
		return nil, false
	default:
		return toBytes(v)
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	logAt(b.getLogger(), levelInfo, msg, keysAndValues...)
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	logAt(b.getLogger(), levelError, msg, "error", err)
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	logAt(b.getLogger(), levelDebug, msg, keysAndValues...)
}
