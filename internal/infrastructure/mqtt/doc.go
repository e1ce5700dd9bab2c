// Package mqtt publishes Gray ORM change notifications to an MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Last Will and Testament (LWT) so subscribers see an unclean exit
//   - Connection health monitoring
//
// Committed entity changes leave the process on per-entity topics:
//
//	grayorm/entity/{entity}/{op}      one message per inserted, updated or deleted row
//	grayorm/flush/{unit}              one summary per committed flush
//	grayorm/system/status             retained online/offline status
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix}
//	client.Publish(topics.EntityChange("employee", "update"), payload, 1, false)
package mqtt
