// Package mqtt publishes hub traffic to the local broker.
//
// This package manages:
//   - Connection to the local broker with auto-reconnect
//   - Republishing decoded hub invocations under hubwire/message/{target}
//   - Retained connection-state and status topics
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// hubwire sits between one remote hub connection and whatever local
// consumers care about its traffic. MQTT is the fan-out side: the bridge
// is a publisher only, and the broker decouples it from consumers.
//
//	Hub (WebSocket) → hubwire → MQTT Broker → local consumers
//
// Broker reconnection is entirely paho's job, with exponential backoff; the
// carefully supervised reconnection machinery in this repo is for the hub
// link, where episode semantics matter.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.PublishMessage("stateChanged", payload)
package mqtt
