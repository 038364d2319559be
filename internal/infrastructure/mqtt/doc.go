// Package mqtt provides MQTT client connectivity for the Meross cloud broker.
//
// This package manages:
//   - Connection to the account's regional broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions restored automatically after reconnects
//   - Connection health monitoring
//
// # Architecture
//
// Each account gets exactly one broker connection. The session layer built
// on top of this client subscribes to the per-device publish topics and the
// client reply topic, and publishes command envelopes to the per-device
// subscribe topics.
//
//	Session ↔ mqtt.Client ↔ <mqttDomain>:443 (TLS) ↔ Devices
//
// # Security Considerations
//
//   - The vendor brokers require TLS on port 443
//   - Username/password are derived from the account credentials
//     (userId / MD5(userId+key)); nothing is stored in this package
//   - Message payloads are signed, and optionally AES-encrypted, one
//     layer up
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.BrokerConfig{
//	    Host:     creds.MQTTDomain,
//	    Port:     protocol.BrokerPort,
//	    ClientID: protocol.ClientID(cfg.MQTT.ClientPrefix, appID),
//	    Username: creds.UserID,
//	    Password: protocol.BrokerPassword(creds.UserID, creds.Key),
//	    TLS:      true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("/appliance/"+uuid+"/publish", 1,
//	    func(topic string, payload []byte) error {
//	        return session.handleInbound(topic, payload)
//	    })
package mqtt
