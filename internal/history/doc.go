// Package history persists capability changes to SQLite.
//
// A Recorder is a tuya.CapabilityPublisher: hand it to the bridge and every
// accepted capability write becomes a row in capability_history. Values are
// stored as JSON text so numbers, booleans and strings survive a round trip.
//
// Rows older than the configured retention are removed by RunPruner.
package history
