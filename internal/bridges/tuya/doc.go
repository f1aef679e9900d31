// Package tuya implements the Tuya datapoint bridge for Gray Logic.
//
// Tuya devices that sit on a Zigbee mesh carry a vendor payload inside the
// manufacturer-specific cluster 0xEF00. Each payload holds one or more
// datapoints: small typed records addressed by a numeric id. This package
// decodes those records, suppresses retransmitted duplicates, and maps the
// surviving values onto named device capabilities.
//
// # Architecture
//
// Data flows in one direction per device endpoint:
//
//	┌──────────┐   ┌──────────────┐   ┌──────────┐   ┌─────────────────┐   ┌────────────┐
//	│ wire     │──►│ Frame parser │──►│ Dedup    │──►│ custom handler  │──►│ capability │
//	│ payload  │   │ + decoder    │   │ gate     │   │ or mapping rule │   │ store      │
//	└──────────┘   └──────────────┘   └──────────┘   └─────────────────┘   └────────────┘
//
// The Bridge hosts one Endpoint per configured device and feeds it from MQTT
// topics published by the radio gateway.
//
// # Framing
//
// Observed firmwares disagree on whether a 2-byte sequence number precedes
// the first datapoint record. Parse guesses the layout from the first bytes;
// the guess is a heuristic, not a protocol guarantee. Devices with a known
// layout should set a Framing hint in their configuration.
//
// # Dispatch modes
//
// An endpoint can be fed from three independent sources, each armed through
// Endpoint.Arm:
//
//   - VendorSource: named report events on the manufacturer cluster
//   - AttributeSource: standard cluster attribute reports
//   - FrameSource: raw frames intercepted below the cluster layer
//
// Arming returns false when the endpoint does not expose the source. That is
// a capability-negotiation result, not an error.
//
// # Thread Safety
//
// Endpoint, Gate, Engine and DeviceStore are safe for concurrent use. All
// mutable state is owned by one endpoint instance; nothing is process-global.
package tuya
