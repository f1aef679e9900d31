// Package influxdb provides InfluxDB connectivity for capability telemetry.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, capability writes, and health monitoring.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteCapability("trv-living", "target_temperature", 21.0, time.Now())
//
// Capability changes land in the "capabilities" measurement, tagged with
// device_id and capability. Numbers use the "value" field, booleans "state",
// strings "text" and raw bytes "raw" (hex).
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes; batch errors are
// delivered through SetOnError.
package influxdb
