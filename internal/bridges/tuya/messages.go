package tuya

import (
	"encoding/json"
	"fmt"
	"time"
)

// MQTT message types exchanged between Gray Logic Core, the radio gateway
// and the Tuya bridge.

// Protocol is the protocol identifier used in topics and messages.
const Protocol = "tuya"

// Command actions.
const (
	// ActionSet writes one or more datapoints.
	ActionSet = "set"

	// ActionQuery asks the device to report all datapoints.
	ActionQuery = "query"

	// ActionMCUVersion asks the device for its MCU firmware version.
	ActionMCUVersion = "mcu_version"
)

// CommandMessage is sent from Core to the bridge.
// Topic: graylogic/command/tuya/{device}
type CommandMessage struct {
	// ID correlates the command with its acknowledgment. Assigned by the
	// bridge when empty.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is taken from the topic when empty.
	DeviceID string `json:"device_id"`

	// Action is "set" (default), "query" or "mcu_version".
	Action string `json:"action,omitempty"`

	// Datapoints are the records to write for "set".
	Datapoints []CommandDatapoint `json:"datapoints,omitempty"`

	// Source indicates where the command originated.
	Source string `json:"source,omitempty"`
}

// CommandDatapoint is one datapoint write. Type accepts a type name or tag.
type CommandDatapoint struct {
	ID    uint8  `json:"dp"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// Records converts the command's datapoints to wire records.
func (m *CommandMessage) Records() ([]Record, error) {
	if len(m.Datapoints) == 0 {
		return nil, fmt.Errorf("%w: no datapoints", ErrInvalidCommand)
	}

	out := make([]Record, 0, len(m.Datapoints))
	for _, dp := range m.Datapoints {
		t, err := ParseDatapointType(dp.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: dp%d: %w", ErrInvalidCommand, dp.ID, err)
		}
		out = append(out, Record{ID: dp.ID, Type: t, Value: dp.Value})
	}
	return out, nil
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the frame was handed to the gateway.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be translated or sent.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a command.
// Topic: graylogic/ack/tuya/{device}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     string    `json:"error,omitempty"`
}

// NewAckMessage creates an acknowledgment for cmd. A nil err means accepted.
func NewAckMessage(cmd CommandMessage, err error) AckMessage {
	ack := AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    AckAccepted,
		Protocol:  Protocol,
	}
	if err != nil {
		ack.Status = AckFailed
		ack.Error = err.Error()
	}
	return ack
}

// SendMessage carries an outbound frame to the radio gateway.
// Topic: graylogic/send/tuya/{device}
type SendMessage struct {
	DeviceID string `json:"device_id"`
	Endpoint uint8  `json:"endpoint"`
	Cluster  uint16 `json:"cluster"`
	Frame    string `json:"frame"` // hex
	ID       string `json:"id,omitempty"`
}

// StateMessage is published when a capability changes.
// Topic: graylogic/state/tuya/{device}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID   string         `json:"device_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Capability string         `json:"capability"`
	Value      any            `json:"value"`
	State      map[string]any `json:"state"`
	Protocol   string         `json:"protocol"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: graylogic/health/tuya
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string          `json:"bridge"`
	Timestamp      time.Time       `json:"timestamp"`
	Status         HealthStatus    `json:"status"`
	Version        string          `json:"version,omitempty"`
	UptimeSeconds  int64           `json:"uptime_seconds"`
	DevicesManaged int             `json:"devices_managed"`
	Endpoints      []EndpointStats `json:"endpoints,omitempty"`
	Reason         string          `json:"reason,omitempty"`
}

// NewLWTMessage creates the Last Will and Testament message.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// MarshalJSON writes Timestamp as RFC3339 UTC.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON accepts an empty or RFC3339 timestamp.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// Topic helpers

// TopicPrefix is the base topic for all Gray Logic messages.
const TopicPrefix = "graylogic"

// RawSubscribeTopic matches every inbound gateway message.
// Example: graylogic/raw/tuya/#
func RawSubscribeTopic() string {
	return fmt.Sprintf("%s/raw/%s/#", TopicPrefix, Protocol)
}

// ReportTopic is where the gateway publishes vendor events.
// Example: graylogic/raw/tuya/thermo-1/report/dataReport
func ReportTopic(deviceID, event string) string {
	return fmt.Sprintf("%s/raw/%s/%s/report/%s", TopicPrefix, Protocol, deviceID, event)
}

// AttributeTopic is where the gateway publishes attribute reports.
// Example: graylogic/raw/tuya/thermo-1/attribute/0x0402/measuredValue
func AttributeTopic(deviceID string, cluster uint16, attribute string) string {
	return fmt.Sprintf("%s/raw/%s/%s/attribute/0x%04x/%s", TopicPrefix, Protocol, deviceID, cluster, attribute)
}

// FrameTopic is where the gateway publishes raw cluster frames.
// Example: graylogic/raw/tuya/thermo-1/frame/0xef00
func FrameTopic(deviceID string, cluster uint16) string {
	return fmt.Sprintf("%s/raw/%s/%s/frame/0x%04x", TopicPrefix, Protocol, deviceID, cluster)
}

// CommandTopic returns the command topic of a device.
func CommandTopic(deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, deviceID)
}

// CommandSubscribeTopic matches commands for every device.
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}

// AckTopic returns the acknowledgment topic of a device.
func AckTopic(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, deviceID)
}

// SendTopic returns the topic the gateway reads outbound frames from.
func SendTopic(deviceID string) string {
	return fmt.Sprintf("%s/send/%s/%s", TopicPrefix, Protocol, deviceID)
}

// StateTopic returns the capability state topic of a device.
func StateTopic(deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, deviceID)
}

// HealthTopic returns the bridge health topic.
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}
