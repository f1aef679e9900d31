package tuya

import (
	"context"
	"sort"
)

// ManufacturerCluster is the Zigbee cluster id carrying Tuya datapoints.
const ManufacturerCluster uint16 = 0xEF00

// DefaultVendorEvents are the report events a vendor cluster emits for
// datapoint payloads.
var DefaultVendorEvents = []string{"dataReport", "dataResponse", "reportData"}

// Mode identifies an ingestion path into an endpoint.
type Mode int

const (
	// ModeVendor ingests named report events of the manufacturer cluster.
	ModeVendor Mode = iota

	// ModeAttribute ingests standard cluster attribute reports.
	ModeAttribute

	// ModeRawFrame intercepts raw cluster frames below the cluster layer.
	ModeRawFrame
)

// String returns the mode name used in logs and health reports.
func (m Mode) String() string {
	switch m {
	case ModeVendor:
		return "vendor"
	case ModeAttribute:
		return "attribute"
	case ModeRawFrame:
		return "raw_frame"
	default:
		return "unknown"
	}
}

// Ingester receives payloads from armed sources. Endpoint implements it.
type Ingester interface {
	HandleReport(ctx context.Context, payload any)
	HandleAttribute(ctx context.Context, cluster uint16, attribute string, value any)
	HandleFrame(ctx context.Context, frame []byte)
}

// Source is one way of feeding an endpoint. TryArm inspects the device
// handle for the interface the mode needs and wires it to the ingester.
//
// TryArm returns false, without side effects, when the handle does not
// support the mode. It must not be called twice for one handle; Endpoint.Arm
// enforces that.
type Source interface {
	Mode() Mode
	TryArm(ctx context.Context, in Ingester) bool
}

// Device handle capabilities. A handle implements whichever of these its
// transport supports; sources discover them by type assertion.

// EventEmitter delivers named report events of the manufacturer cluster.
type EventEmitter interface {
	On(event string, fn func(payload any)) error
}

// ReportHandlerSlot is a single replaceable report callback.
type ReportHandlerSlot interface {
	ReportHandler() func(payload any)
	SetReportHandler(fn func(payload any))
}

// AttributeEmitter delivers attribute reports of standard clusters.
type AttributeEmitter interface {
	HasCluster(cluster uint16) bool
	OnAttribute(cluster uint16, attribute string, fn func(value any)) error
}

// FrameFunc receives a raw cluster frame.
type FrameFunc func(cluster uint16, frame []byte)

// FrameHook is the replaceable low-level frame receiver of a handle.
type FrameHook interface {
	HasCluster(cluster uint16) bool
	FrameHandler() FrameFunc
	SetFrameHandler(fn FrameFunc)
}

// VendorSource feeds an endpoint from manufacturer cluster reports.
//
// It subscribes to Events when the handle is an EventEmitter. Otherwise it
// decorates a ReportHandlerSlot: the new handler ingests each payload and
// then calls the handler it replaced.
type VendorSource struct {
	Handle any
	Events []string
}

// Mode implements Source.
func (s VendorSource) Mode() Mode { return ModeVendor }

// TryArm implements Source.
func (s VendorSource) TryArm(ctx context.Context, in Ingester) bool {
	events := s.Events
	if len(events) == 0 {
		events = DefaultVendorEvents
	}

	if em, ok := s.Handle.(EventEmitter); ok {
		armed := false
		for _, event := range events {
			err := em.On(event, func(payload any) {
				in.HandleReport(ctx, payload)
			})
			if err == nil {
				armed = true
			}
		}
		if armed {
			return true
		}
	}

	if slot, ok := s.Handle.(ReportHandlerSlot); ok {
		original := slot.ReportHandler()
		slot.SetReportHandler(func(payload any) {
			in.HandleReport(ctx, payload)
			if original != nil {
				original(payload)
			}
		})
		return true
	}

	return false
}

// AttributeSource feeds an endpoint from standard attribute reports.
// Attributes maps each cluster id to the attribute names to subscribe.
type AttributeSource struct {
	Handle     any
	Attributes map[uint16][]string
}

// Mode implements Source.
func (s AttributeSource) Mode() Mode { return ModeAttribute }

// TryArm implements Source. Clusters the handle lacks are skipped; arming
// succeeds if at least one attribute subscription is accepted.
func (s AttributeSource) TryArm(ctx context.Context, in Ingester) bool {
	em, ok := s.Handle.(AttributeEmitter)
	if !ok {
		return false
	}

	clusters := make([]uint16, 0, len(s.Attributes))
	for c := range s.Attributes {
		clusters = append(clusters, c)
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i] < clusters[j] })

	armed := false
	for _, cluster := range clusters {
		if !em.HasCluster(cluster) {
			continue
		}
		for _, attr := range s.Attributes[cluster] {
			err := em.OnAttribute(cluster, attr, func(value any) {
				in.HandleAttribute(ctx, cluster, attr, value)
			})
			if err == nil {
				armed = true
			}
		}
	}
	return armed
}

// FrameSource intercepts raw frames of one cluster. Every frame, matching
// or not, is passed unmodified to the receiver it replaced.
type FrameSource struct {
	Handle  any
	Cluster uint16
}

// Mode implements Source.
func (s FrameSource) Mode() Mode { return ModeRawFrame }

// TryArm implements Source.
func (s FrameSource) TryArm(ctx context.Context, in Ingester) bool {
	hook, ok := s.Handle.(FrameHook)
	if !ok || !hook.HasCluster(s.Cluster) {
		return false
	}

	original := hook.FrameHandler()
	hook.SetFrameHandler(func(cluster uint16, frame []byte) {
		if cluster == s.Cluster {
			in.HandleFrame(ctx, append([]byte(nil), frame...))
		}
		if original != nil {
			original(cluster, frame)
		}
	})
	return true
}
