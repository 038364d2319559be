package protocol

import (
	"strings"

	"github.com/google/uuid"
)

// Broker connection constants. The vendor fronts MQTT on the HTTPS port so
// the session always speaks TLS.
const (
	BrokerPort = 443

	// DefaultClientPrefix prefixes the MQTT client identifier.
	DefaultClientPrefix = "app"
)

// NewAppID returns the random per-session identifier embedded in the MQTT
// client ID and the reply topic. One app ID maps to one broker session.
func NewAppID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ClientID renders the broker client identifier for an app ID.
func ClientID(prefix, appID string) string {
	if prefix == "" {
		prefix = DefaultClientPrefix
	}
	return prefix + "-" + appID
}

// BrokerPassword derives the per-account broker password. The broker checks
// the MD5 digest of the numeric user ID concatenated with the account key;
// regional firmware revisions all use this scheme today.
func BrokerPassword(userID, key string) string {
	return MD5Hex(userID + key)
}
