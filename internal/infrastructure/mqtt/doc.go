// Package mqtt provides MQTT client connectivity for the Tuya bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions, restored after every reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// Zigbee gateways publish raw Tuya reports onto the broker; the bridge
// consumes them here and publishes frames and capability state back.
//
//	Zigbee gateway ↔ MQTT broker ↔ Tuya bridge
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
//
// # Usage
//
//	lwt, _ := json.Marshal(tuya.NewLWTMessage(bridgeID))
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(tuya.HealthTopic(), lwt))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(tuya.RawSubscribeTopic(), 1,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
package mqtt
