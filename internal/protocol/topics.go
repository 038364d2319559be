package protocol

import "strings"

// Topics provides builders for the broker topic layout. The same paths are
// used verbatim by the cloud broker and by devices talking on LAN.
type Topics struct{}

// ============================================================
// Per-device topics
// ============================================================

// DevicePublish is where a device publishes acks and push notifications.
// The session subscribes here for every owned device.
func (Topics) DevicePublish(uuid string) string {
	return "/appliance/" + uuid + "/publish"
}

// DeviceSubscribe is where a device listens for commands.
func (Topics) DeviceSubscribe(uuid string) string {
	return "/appliance/" + uuid + "/subscribe"
}

// ============================================================
// Per-client topics
// ============================================================

// ClientReply is the session's own reply topic; it is also the header.from
// value on every outgoing message.
func (Topics) ClientReply(userID, appID string) string {
	return "/app/" + userID + "-" + appID + "/subscribe"
}

// DeviceFromTopic extracts the device UUID from an /appliance/... topic.
// Returns "" for topics outside the appliance tree.
func DeviceFromTopic(topic string) string {
	rest, ok := strings.CutPrefix(topic, "/appliance/")
	if !ok {
		return ""
	}
	uuid, _, ok := strings.Cut(rest, "/")
	if !ok {
		return ""
	}
	return uuid
}
