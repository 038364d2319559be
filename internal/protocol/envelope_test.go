package protocol

import (
	"encoding/json"
	"errors"
	"regexp"
	"testing"
)

var messageIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(MethodSet, NamespaceToggleX,
		map[string]any{"togglex": map[string]int{"channel": 0, "onoff": 1}},
		"account-key", "/app/1234-abcd/subscribe")
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}

	if !messageIDPattern.MatchString(msg.Header.MessageID) {
		t.Errorf("messageId %q is not 32 hex chars", msg.Header.MessageID)
	}
	if msg.Header.PayloadVersion != 1 {
		t.Errorf("payloadVersion = %d, want 1", msg.Header.PayloadVersion)
	}
	if msg.Header.From != "/app/1234-abcd/subscribe" {
		t.Errorf("from = %q", msg.Header.From)
	}
	if msg.Header.Method != MethodSet {
		t.Errorf("method = %q", msg.Header.Method)
	}
	if !msg.Verify("account-key") {
		t.Error("signature must verify with the signing key")
	}
	if msg.Verify("other-key") {
		t.Error("signature must not verify with a different key")
	}
}

func TestNewMessageNilPayload(t *testing.T) {
	msg, err := NewMessage(MethodGet, NamespaceSystemAll, nil, "k", "/app/1-a/subscribe")
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if string(msg.Payload) != "{}" {
		t.Errorf("nil payload must encode as empty object, got %s", msg.Payload)
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	msg, err := NewMessage(MethodGet, NamespaceSystemAbility, nil, "k", "/app/1-a/subscribe")
	if err != nil {
		t.Fatal(err)
	}

	raw, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	parsed, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if parsed.Header.MessageID != msg.Header.MessageID {
		t.Errorf("messageId changed across encode/parse")
	}
	if parsed.Header.Namespace != NamespaceSystemAbility {
		t.Errorf("namespace = %q", parsed.Header.Namespace)
	}
}

func TestParseMessageRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"header":`},
		{"missing header", `{"payload":{}}`},
		{"missing method", `{"header":{"messageId":"ab","namespace":"Appliance.System.All"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMessage([]byte(tt.body)); !errors.Is(err, ErrMalformedMessage) {
				t.Errorf("err = %v, want ErrMalformedMessage", err)
			}
		})
	}
}

func TestMethodIsAck(t *testing.T) {
	for method, want := range map[Method]bool{
		MethodGetAck: true,
		MethodSetAck: true,
		MethodError:  true,
		MethodPush:   false,
		MethodSet:    false,
		MethodGet:    false,
	} {
		if method.IsAck() != want {
			t.Errorf("%s IsAck = %v, want %v", method, method.IsAck(), want)
		}
	}
}

func TestDeviceError(t *testing.T) {
	code, detail, ok := DeviceError(json.RawMessage(`{"error":{"code":5000,"detail":"sign check failed"}}`))
	if !ok || code != 5000 || detail != "sign check failed" {
		t.Errorf("DeviceError = %d %q %v", code, detail, ok)
	}

	if _, _, ok := DeviceError(json.RawMessage(`{"togglex":[{"channel":0}]}`)); ok {
		t.Error("non-error payload must not report an error")
	}
	if _, _, ok := DeviceError(nil); ok {
		t.Error("empty payload must not report an error")
	}
}

func TestReplyError(t *testing.T) {
	ack := &Message{
		Header:  Header{MessageID: "m1", Namespace: "Appliance.Control.Toggle", Method: MethodSetAck},
		Payload: json.RawMessage(`{"error":{"code":5001,"detail":"channel busy"}}`),
	}
	if code, detail, failed := ReplyError(ack); !failed || code != 5001 || detail != "channel busy" {
		t.Errorf("ReplyError(ack with error payload) = %d %q %v", code, detail, failed)
	}

	// Method ERROR counts as a failure even with an empty payload.
	errReply := &Message{
		Header:  Header{MessageID: "m2", Namespace: "Appliance.Control.Toggle", Method: MethodError},
		Payload: json.RawMessage(`{}`),
	}
	if _, _, failed := ReplyError(errReply); !failed {
		t.Error("method ERROR must report a failure")
	}

	clean := &Message{
		Header:  Header{MessageID: "m3", Namespace: "Appliance.Control.Toggle", Method: MethodSetAck},
		Payload: json.RawMessage(`{"togglex":{"channel":0,"onoff":1}}`),
	}
	if _, _, failed := ReplyError(clean); failed {
		t.Error("clean ack must not report a failure")
	}
}

func TestTopics(t *testing.T) {
	var topics Topics

	if got := topics.DevicePublish("abc123"); got != "/appliance/abc123/publish" {
		t.Errorf("DevicePublish = %q", got)
	}
	if got := topics.DeviceSubscribe("abc123"); got != "/appliance/abc123/subscribe" {
		t.Errorf("DeviceSubscribe = %q", got)
	}
	if got := topics.ClientReply("48613", "a1b2"); got != "/app/48613-a1b2/subscribe" {
		t.Errorf("ClientReply = %q", got)
	}
}

func TestDeviceFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"/appliance/2207aa/publish", "2207aa"},
		{"/appliance/2207aa/subscribe", "2207aa"},
		{"/app/123-abc/subscribe", ""},
		{"/appliance/", ""},
	}
	for _, tt := range tests {
		if got := DeviceFromTopic(tt.topic); got != tt.want {
			t.Errorf("DeviceFromTopic(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}

func TestBrokerIdentity(t *testing.T) {
	if got := BrokerPassword("48613", "key"); got != MD5Hex("48613key") {
		t.Errorf("BrokerPassword = %q", got)
	}

	appID := NewAppID()
	if len(appID) != 32 {
		t.Errorf("app ID length = %d, want 32", len(appID))
	}
	if got := ClientID("", appID); got != "app-"+appID {
		t.Errorf("default prefix client ID = %q", got)
	}
	if got := ClientID("meross", appID); got != "meross-"+appID {
		t.Errorf("client ID = %q", got)
	}
}

func TestDecodeSSID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SG9tZQ==", "Home"},
		{"not-base64", "not-base64"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := DecodeSSID(tt.in); got != tt.want {
			t.Errorf("DecodeSSID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
