// Package session maintains the account's MQTT connection to the vendor
// broker and correlates command replies with their waiters.
//
// # Architecture
//
//	Request ──publish──► /appliance/<uuid>/subscribe
//	    │
//	    └──wait── messageId ──┐
//	                          │
//	reply topic ───GETACK/SETACK/ERROR───► resolve waiter
//	device topics ───PUSH/SET───► PushHandler
//
// One session serves one account. At open it subscribes to the per-client
// reply topic /app/<userId>-<appId>/subscribe; outbound envelopes carry
// that topic in header.from, so the broker routes acks for this client's
// commands back here. Each initialized device adds a subscription to its
// /appliance/<uuid>/publish topic, which carries unsolicited push traffic
// and acks for commands issued by other clients.
//
// # Reply Correlation
//
// Every outbound envelope has a unique messageId. Request registers the id
// in a pending table before publishing and waits on a buffered channel.
// The inbound path resolves the waiter on a matching ack; acks with no
// pending entry are logged and dropped. Each id settles exactly once:
// with its reply, with its deadline, or with UNCONNECTED at close.
//
// # Encrypted Devices
//
// Devices advertising Appliance.Encrypt.ECDHE get a cipher registered via
// RegisterCipher. Their outbound envelopes are AES-wrapped before publish
// and inbound bodies unwrapped before parsing. Encrypted acks arrive on
// the reply topic with no device in the topic path, so they are matched by
// trial decryption against the ciphers of in-flight encrypted commands.
//
// # Usage
//
//	sess, err := session.Open(cfg.MQTT, creds, logger, recorder)
//	if err != nil {
//		return err
//	}
//	defer sess.Close()
//
//	msg, _ := protocol.NewMessage(protocol.MethodGet, "Appliance.System.All", nil, creds.Key, sess.ReplyTopic())
//	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
//	defer cancel()
//	reply, err := sess.Request(ctx, device.UUID, msg)
package session
