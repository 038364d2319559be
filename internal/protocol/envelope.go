package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Method is the verb carried in a message header.
type Method string

const (
	MethodGet    Method = "GET"
	MethodSet    Method = "SET"
	MethodGetAck Method = "GETACK"
	MethodSetAck Method = "SETACK"
	MethodPush   Method = "PUSH"
	MethodError  Method = "ERROR"
)

// IsAck reports whether m is a reply to a GET or SET.
func (m Method) IsAck() bool {
	return m == MethodGetAck || m == MethodSetAck || m == MethodError
}

// TriggerSourceApp is the triggerSrc value the vendor app sends; devices
// use it to attribute state changes in their own logs.
const TriggerSourceApp = "Android"

// Header carries the routing and authentication fields of an envelope.
type Header struct {
	MessageID      string `json:"messageId"`
	Namespace      string `json:"namespace"`
	Method         Method `json:"method"`
	PayloadVersion int    `json:"payloadVersion"`
	From           string `json:"from,omitempty"`
	Timestamp      int64  `json:"timestamp"`
	TimestampMs    int    `json:"timestampMs"`
	Sign           string `json:"sign"`
	TriggerSrc     string `json:"triggerSrc,omitempty"`
	UUID           string `json:"uuid,omitempty"`
}

// Message is a full envelope: header plus namespace-specific payload.
type Message struct {
	Header  Header          `json:"header"`
	Payload json.RawMessage `json:"payload"`
}

// emptyPayload is sent when a request has no parameters. Devices reject a
// null payload but accept an empty object.
var emptyPayload = json.RawMessage(`{}`)

// NewMessage builds a signed outbound envelope. from is the session reply
// topic, key the account key. A nil payload becomes the empty object.
func NewMessage(method Method, namespace string, payload any, key, from string) (*Message, error) {
	raw := emptyPayload
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s payload: %w", namespace, err)
		}
		raw = b
	}

	now := time.Now()
	ts := now.Unix()
	messageID := RandomHex(16)

	return &Message{
		Header: Header{
			MessageID:      messageID,
			Namespace:      namespace,
			Method:         method,
			PayloadVersion: 1,
			From:           from,
			Timestamp:      ts,
			TimestampMs:    now.Nanosecond() / int(time.Millisecond),
			Sign:           SignEnvelope(messageID, key, ts),
			TriggerSrc:     TriggerSourceApp,
		},
		Payload: raw,
	}, nil
}

// SignEnvelope computes the header signature: the MD5 hex digest of the
// message ID, the account key, and the second-resolution timestamp.
func SignEnvelope(messageID, key string, timestamp int64) string {
	return MD5Hex(messageID + key + strconv.FormatInt(timestamp, 10))
}

// Verify recomputes the signature with the given key and reports whether it
// matches the header.
func (m *Message) Verify(key string) bool {
	return m.Header.Sign == SignEnvelope(m.Header.MessageID, key, m.Header.Timestamp)
}

// Encode renders the envelope as JSON.
func (m *Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return b, nil
}

// ParseMessage decodes an inbound envelope and checks the fields every
// valid message must carry.
func ParseMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.Header.MessageID == "" || m.Header.Namespace == "" || m.Header.Method == "" {
		return nil, fmt.Errorf("%w: missing required header fields", ErrMalformedMessage)
	}
	return &m, nil
}

// ErrorPayload is the body of a method=ERROR reply or an ack that carries a
// device-side failure.
type ErrorPayload struct {
	Error struct {
		Code   int    `json:"code"`
		Detail string `json:"detail"`
	} `json:"error"`
}

// DeviceError extracts a device-reported error from a reply payload.
// Returns ok=false when the payload carries no error object.
func DeviceError(payload json.RawMessage) (code int, detail string, ok bool) {
	if len(payload) == 0 {
		return 0, "", false
	}
	var ep ErrorPayload
	if err := json.Unmarshal(payload, &ep); err != nil {
		return 0, "", false
	}
	if ep.Error.Code == 0 && ep.Error.Detail == "" {
		return 0, "", false
	}
	return ep.Error.Code, ep.Error.Detail, true
}

// ReplyError extracts a device-side rejection from a reply message. Method
// ERROR always counts as one; acks occasionally smuggle an error object in
// an otherwise normal payload.
func ReplyError(m *Message) (code int, detail string, failed bool) {
	code, detail, failed = DeviceError(m.Payload)
	if failed {
		return code, detail, true
	}
	if m.Header.Method == MethodError {
		return 0, "device returned an unspecified error", true
	}
	return 0, "", false
}
