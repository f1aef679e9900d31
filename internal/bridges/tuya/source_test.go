package tuya

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingIngester captures everything a source delivers.
type recordingIngester struct {
	mu         sync.Mutex
	reports    []any
	attributes []string
	frames     [][]byte
}

func (r *recordingIngester) HandleReport(_ context.Context, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, payload)
}

func (r *recordingIngester) HandleAttribute(_ context.Context, _ uint16, attribute string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attributes = append(r.attributes, attribute)
}

func (r *recordingIngester) HandleFrame(_ context.Context, frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

// slotHandle only offers a single report callback.
type slotHandle struct {
	fn func(payload any)
}

func (h *slotHandle) ReportHandler() func(payload any)     { return h.fn }
func (h *slotHandle) SetReportHandler(fn func(payload any)) { h.fn = fn }

// refusingEmitter rejects every subscription.
type refusingEmitter struct {
	slotHandle
}

func (refusingEmitter) On(string, func(payload any)) error {
	return errors.New("not supported")
}

// ─── VendorSource ───────────────────────────────────────────────────

func TestVendorSourceSubscribesDefaultEvents(t *testing.T) {
	h := newDeviceHandle("dev")
	in := &recordingIngester{}

	require.True(t, VendorSource{Handle: h}.TryArm(context.Background(), in))

	for _, event := range DefaultVendorEvents {
		assert.True(t, h.emitEvent(event, event))
	}
	assert.Equal(t, []any{"dataReport", "dataResponse", "reportData"}, in.reports)
	assert.False(t, h.emitEvent("commandResponse", nil))
}

func TestVendorSourceCustomEvents(t *testing.T) {
	h := newDeviceHandle("dev")
	in := &recordingIngester{}

	VendorSource{Handle: h, Events: []string{"mcuSync"}}.TryArm(context.Background(), in)

	assert.False(t, h.emitEvent("dataReport", 1))
	assert.True(t, h.emitEvent("mcuSync", 1))
	assert.Len(t, in.reports, 1)
}

func TestVendorSourceDecoratesSlot(t *testing.T) {
	var original []any
	h := &slotHandle{fn: func(p any) { original = append(original, p) }}
	in := &recordingIngester{}

	require.True(t, VendorSource{Handle: h}.TryArm(context.Background(), in))
	h.fn("0101000101")

	assert.Equal(t, []any{"0101000101"}, in.reports)
	assert.Equal(t, []any{"0101000101"}, original, "replaced handler still runs")
}

func TestVendorSourceSlotWithoutOriginal(t *testing.T) {
	h := &slotHandle{}
	in := &recordingIngester{}

	require.True(t, VendorSource{Handle: h}.TryArm(context.Background(), in))
	assert.NotPanics(t, func() { h.fn("x") })
	assert.Len(t, in.reports, 1)
}

func TestVendorSourceFallsBackWhenEmitterRefuses(t *testing.T) {
	h := &refusingEmitter{}
	in := &recordingIngester{}

	require.True(t, VendorSource{Handle: h}.TryArm(context.Background(), in))
	h.fn("x")
	assert.Len(t, in.reports, 1)
}

func TestVendorSourceUnsupportedHandle(t *testing.T) {
	assert.False(t, VendorSource{Handle: struct{}{}}.TryArm(context.Background(), &recordingIngester{}))
	assert.False(t, VendorSource{}.TryArm(context.Background(), &recordingIngester{}))
}

// ─── AttributeSource ────────────────────────────────────────────────

func TestAttributeSourceSkipsMissingClusters(t *testing.T) {
	h := newDeviceHandle("dev", 0x0402)
	in := &recordingIngester{}

	armed := AttributeSource{Handle: h, Attributes: map[uint16][]string{
		0x0402: {"measuredValue"},
		0x0405: {"measuredValue"},
	}}.TryArm(context.Background(), in)

	require.True(t, armed)
	assert.True(t, h.emitAttribute(0x0402, "measuredValue", 2150))
	assert.False(t, h.emitAttribute(0x0405, "measuredValue", 5000))
	assert.Equal(t, []string{"measuredValue"}, in.attributes)
}

func TestAttributeSourceNothingToArm(t *testing.T) {
	h := newDeviceHandle("dev")

	assert.False(t, AttributeSource{Handle: h, Attributes: map[uint16][]string{0x0006: {"onOff"}}}.
		TryArm(context.Background(), &recordingIngester{}))
	assert.False(t, AttributeSource{Handle: &slotHandle{}}.TryArm(context.Background(), &recordingIngester{}))
}

// ─── FrameSource ────────────────────────────────────────────────────

func TestFrameSourceInterceptsMatchingCluster(t *testing.T) {
	h := newDeviceHandle("dev", 0x0006)
	var passed []uint16
	h.SetFrameHandler(func(cluster uint16, _ []byte) { passed = append(passed, cluster) })
	in := &recordingIngester{}

	require.True(t, FrameSource{Handle: h, Cluster: ManufacturerCluster}.TryArm(context.Background(), in))

	frame := []byte{0x00, 0x01, 0x01, 0x01, 0x00, 0x01, 0x01}
	h.emitFrame(ManufacturerCluster, frame)
	h.emitFrame(0x0006, []byte{0x01})

	require.Len(t, in.frames, 1)
	assert.Equal(t, frame, in.frames[0])
	assert.Equal(t, []uint16{ManufacturerCluster, 0x0006}, passed, "all frames reach the original receiver")

	// The ingested frame is a copy.
	frame[0] = 0xFF
	assert.Equal(t, byte(0x00), in.frames[0][0])
}

func TestFrameSourceRequiresCluster(t *testing.T) {
	h := newDeviceHandle("dev")

	assert.False(t, FrameSource{Handle: h, Cluster: 0x0006}.TryArm(context.Background(), &recordingIngester{}))
	assert.False(t, FrameSource{Handle: &slotHandle{}, Cluster: ManufacturerCluster}.TryArm(context.Background(), &recordingIngester{}))
}

// ─── Arming through an endpoint ─────────────────────────────────────

func TestEndpointArmSubscribesOnce(t *testing.T) {
	h := newDeviceHandle("dev")
	store := NewMockStore("onoff")
	ep := NewEndpoint(EndpointOptions{
		ID:       "dev",
		Mappings: MappingTable{DatapointKey(1): {Capability: "onoff"}},
		Store:    store,
	})
	ctx := context.Background()

	require.True(t, ep.Arm(ctx, VendorSource{Handle: h}))
	require.True(t, ep.Arm(ctx, VendorSource{Handle: h}))

	h.emitEvent("dataReport", "0101000101")

	// A second subscription would have produced a duplicate.
	assert.Equal(t, uint64(1), ep.Stats().Payloads)
	assert.Len(t, store.GetWrites(), 1)
}

func TestEndpointArmAllModes(t *testing.T) {
	h := newDeviceHandle("dev", 0x0402)
	ep := NewEndpoint(EndpointOptions{ID: "dev"})
	ctx := context.Background()

	assert.True(t, ep.Arm(ctx, VendorSource{Handle: h}))
	assert.True(t, ep.Arm(ctx, AttributeSource{Handle: h, Attributes: map[uint16][]string{0x0402: {"measuredValue"}}}))
	assert.True(t, ep.Arm(ctx, FrameSource{Handle: h, Cluster: ManufacturerCluster}))

	assert.Equal(t, []string{"attribute", "raw_frame", "vendor"}, ep.Stats().Armed)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "vendor", ModeVendor.String())
	assert.Equal(t, "attribute", ModeAttribute.String())
	assert.Equal(t, "raw_frame", ModeRawFrame.String())
	assert.Equal(t, "unknown", Mode(42).String())
}
