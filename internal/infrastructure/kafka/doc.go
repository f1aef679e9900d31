// Package kafka streams capability events to a Kafka topic.
//
// It wraps segmentio/kafka-go's Writer. Events are JSON encoded and keyed by
// device ID, so the hash balancer keeps every device's events on one
// partition and in order.
//
// # Usage
//
//	producer, err := kafka.NewProducer(cfg.Kafka, cfg.GetKafkaBatchTimeout())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer producer.Close()
//
//	err = producer.Publish(ctx, "trv-living", event)
//
// With async enabled, Publish returns once the message is queued and broker
// errors are delivered to the SetOnError callback instead.
package kafka
