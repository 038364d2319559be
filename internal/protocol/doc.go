// Package protocol implements the Meross wire format shared by every
// transport: the signed message envelope, the cloud API signature, the
// per-device AES cipher, and the MQTT topic layout.
//
// # Message envelope
//
// Every message exchanged with a device, over the cloud broker or over LAN
// HTTP, is a JSON document with a header and a namespace-specific payload:
//
//	{
//	  "header": {
//	    "messageId": "f1c4bb08a3dd47e5b04ec0be4163d7b6",
//	    "namespace": "Appliance.Control.ToggleX",
//	    "method": "SET",
//	    "payloadVersion": 1,
//	    "from": "/app/1234-8e0fc9f6.../subscribe",
//	    "timestamp": 1712345678,
//	    "timestampMs": 123,
//	    "sign": "8fchl...",
//	    "triggerSrc": "Android"
//	  },
//	  "payload": {"togglex": {"channel": 0, "onoff": 1}}
//	}
//
// The signature binds the message ID, the account key, and the second
// timestamp; devices reject envelopes whose sign does not verify.
//
// # Encryption
//
// Devices advertising Appliance.Encrypt.ECDHE expect the whole envelope
// encrypted with AES-256-CBC. The key derives from the device UUID, the
// account key, and the device MAC; the IV is all zeros and plaintext is
// zero-padded to the block size. Ciphertext travels base64-encoded inside a
// {"data": "..."} wrapper.
//
// # Topics
//
//	/appliance/<uuid>/publish    device → client (acks and pushes)
//	/appliance/<uuid>/subscribe  client → device (commands)
//	/app/<userId>-<appId>/subscribe  broker → this client (reply topic)
//
// The reply topic doubles as header.from on every outgoing message so the
// device knows where to send the ack.
package protocol
