package merr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error into one of the stable categories shared across
// transports and components. Kind strings are part of the library's public
// behavior and never change meaning between releases.
type Kind string

const (
	KindAuthentication       Kind = "AUTHENTICATION"
	KindMFARequired          Kind = "MFA_REQUIRED"
	KindMFAWrong             Kind = "MFA_WRONG"
	KindTokenExpired         Kind = "TOKEN_EXPIRED"
	KindTooManyTokens        Kind = "TOO_MANY_TOKENS"
	KindUnauthorized         Kind = "UNAUTHORIZED"
	KindHTTPAPIError         Kind = "HTTP_API_ERROR"
	KindBadDomain            Kind = "BAD_DOMAIN"
	KindAPILimitReached      Kind = "API_LIMIT_REACHED"
	KindResourceAccessDenied Kind = "RESOURCE_ACCESS_DENIED"
	KindRateLimit            Kind = "RATE_LIMIT"
	KindOperationLocked      Kind = "OPERATION_LOCKED"
	KindUnsupported          Kind = "UNSUPPORTED"
	KindValidation           Kind = "VALIDATION"
	KindNotFound             Kind = "NOT_FOUND"
	KindNetworkTimeout       Kind = "NETWORK_TIMEOUT"
	KindCommandTimeout       Kind = "COMMAND_TIMEOUT"
	KindCommandFailed        Kind = "COMMAND_FAILED"
	KindMQTTError            Kind = "MQTT_ERROR"
	KindUnconnected          Kind = "UNCONNECTED"
	KindUnknownDeviceType    Kind = "UNKNOWN_DEVICE_TYPE"
	KindParseError           Kind = "PARSE_ERROR"
	KindInitializationFailed Kind = "INITIALIZATION_FAILED"
)

// operationalKinds marks the kinds where a retry with backoff can plausibly
// succeed without new input. Everything else needs fresh credentials, a
// different request, or a code fix before retrying makes sense.
var operationalKinds = map[Kind]bool{
	KindHTTPAPIError:    true,
	KindRateLimit:       true,
	KindAPILimitReached: true,
	KindOperationLocked: true,
	KindNetworkTimeout:  true,
	KindCommandTimeout:  true,
	KindMQTTError:       true,
	KindUnconnected:     true,
}

// Command identifies the device request that produced a command error.
type Command struct {
	Method    string `json:"method"`
	Namespace string `json:"namespace"`
}

// Error is the typed error carried across component boundaries. Only Kind
// and Message are always set; the remaining fields are populated when the
// producing component has the context.
type Error struct {
	Kind        Kind   `json:"kind"`
	Message     string `json:"message"`
	ErrorCode   int    `json:"errorCode,omitempty"` // vendor numeric status
	Operational bool   `json:"operational"`

	DeviceUUID   string        `json:"deviceUuid,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
	HTTPStatus   int           `json:"httpStatusCode,omitempty"`
	Field        string        `json:"field,omitempty"`
	ResourceType string        `json:"resourceType,omitempty"`
	ResourceID   string        `json:"resourceId,omitempty"`
	Command      *Command      `json:"command,omitempty"`
	APIDomain    string        `json:"apiDomain,omitempty"`
	MQTTDomain   string        `json:"mqttDomain,omitempty"`

	cause error
}

// New returns an Error of the given kind. Operational is pre-set from the
// kind's default.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:        kind,
		Message:     message,
		Operational: operationalKinds[kind],
	}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap returns an Error of the given kind with cause attached for
// errors.Is/As traversal.
func Wrap(kind Kind, message string, cause error) *Error {
	e := New(kind, message)
	e.cause = cause
	return e
}

// WithCause attaches cause and returns the receiver for call chaining.
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	return e
}

// WithDevice attaches the device UUID and returns the receiver.
func (e *Error) WithDevice(uuid string) *Error {
	e.DeviceUUID = uuid
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.ErrorCode != 0:
		return fmt.Sprintf("%s: %s (code %d)", e.Kind, e.Message, e.ErrorCode)
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Cause returns the underlying error, or nil.
func (e *Error) Cause() error {
	return e.cause
}

// Record flattens the error into a single-level map suitable for structured
// logs or persistence. Zero-valued context fields are omitted.
func (e *Error) Record() map[string]any {
	r := map[string]any{
		"kind":        string(e.Kind),
		"message":     e.Message,
		"operational": e.Operational,
	}
	if e.ErrorCode != 0 {
		r["errorCode"] = e.ErrorCode
	}
	if e.DeviceUUID != "" {
		r["deviceUuid"] = e.DeviceUUID
	}
	if e.Timeout != 0 {
		r["timeoutMs"] = e.Timeout.Milliseconds()
	}
	if e.HTTPStatus != 0 {
		r["httpStatusCode"] = e.HTTPStatus
	}
	if e.Field != "" {
		r["field"] = e.Field
	}
	if e.ResourceType != "" {
		r["resourceType"] = e.ResourceType
	}
	if e.ResourceID != "" {
		r["resourceId"] = e.ResourceID
	}
	if e.Command != nil {
		r["method"] = e.Command.Method
		r["namespace"] = e.Command.Namespace
	}
	if e.APIDomain != "" {
		r["apiDomain"] = e.APIDomain
	}
	if e.MQTTDomain != "" {
		r["mqttDomain"] = e.MQTTDomain
	}
	if e.cause != nil {
		r["cause"] = e.cause.Error()
	}
	return r
}

// Fields returns the flat record as alternating key/value pairs for slog
// style loggers.
func (e *Error) Fields() []any {
	rec := e.Record()
	fields := make([]any, 0, len(rec)*2)
	// Stable leading keys, then the rest in map order.
	fields = append(fields, "kind", rec["kind"], "message", rec["message"])
	for k, v := range rec {
		if k == "kind" || k == "message" {
			continue
		}
		fields = append(fields, k, v)
	}
	return fields
}

// FromError extracts a *Error from err's chain.
func FromError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or the empty kind when err carries none.
func KindOf(err error) Kind {
	if e, ok := FromError(err); ok {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err's chain contains an Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsOperational reports whether err is a retry candidate. Errors outside
// the typed model are treated as non-operational.
func IsOperational(err error) bool {
	if e, ok := FromError(err); ok {
		return e.Operational
	}
	return false
}

// IsTimeout reports whether err is a network or command timeout.
func IsTimeout(err error) bool {
	k := KindOf(err)
	return k == KindNetworkTimeout || k == KindCommandTimeout
}

// Validation returns a VALIDATION error for a named input field.
func Validation(field, message string) *Error {
	e := New(KindValidation, message)
	e.Field = field
	return e
}

// NotFound returns a NOT_FOUND error for a typed resource.
func NotFound(resourceType, resourceID string) *Error {
	e := Newf(KindNotFound, "%s %q not found", resourceType, resourceID)
	e.ResourceType = resourceType
	e.ResourceID = resourceID
	return e
}

// Unsupported returns an UNSUPPORTED error for a namespace the device does
// not advertise.
func Unsupported(deviceUUID, namespace string) *Error {
	e := Newf(KindUnsupported, "device does not support %s", namespace)
	e.DeviceUUID = deviceUUID
	e.ResourceType = "namespace"
	e.ResourceID = namespace
	return e
}

// CommandTimeout returns a COMMAND_TIMEOUT error carrying the device, the
// deadline that expired, and the request that was in flight.
func CommandTimeout(deviceUUID string, timeout time.Duration, cmd Command) *Error {
	e := Newf(KindCommandTimeout, "no response within %s", timeout)
	e.DeviceUUID = deviceUUID
	e.Timeout = timeout
	e.Command = &cmd
	return e
}

// CommandFailed returns a COMMAND_FAILED error from a device-reported error
// payload.
func CommandFailed(deviceUUID string, code int, detail string) *Error {
	msg := detail
	if msg == "" {
		msg = "device rejected command"
	}
	e := New(KindCommandFailed, msg)
	e.DeviceUUID = deviceUUID
	e.ErrorCode = code
	return e
}

// Unconnected returns an UNCONNECTED error for a device with no usable
// transport.
func Unconnected(deviceUUID, message string) *Error {
	e := New(KindUnconnected, message)
	e.DeviceUUID = deviceUUID
	return e
}

// NetworkTimeout returns a NETWORK_TIMEOUT error wrapping the transport
// error that triggered it.
func NetworkTimeout(message string, cause error) *Error {
	return Wrap(KindNetworkTimeout, message, cause)
}

// HTTPFailure returns an HTTP_API_ERROR for a non-200 response.
func HTTPFailure(status int) *Error {
	e := Newf(KindHTTPAPIError, "unexpected HTTP status %d", status)
	e.HTTPStatus = status
	return e
}

// BadDomain returns a BAD_DOMAIN error carrying the endpoints the API
// redirected to after the redirect budget was exhausted.
func BadDomain(apiDomain, mqttDomain string) *Error {
	e := New(KindBadDomain, "API requires a different region endpoint")
	e.APIDomain = apiDomain
	e.MQTTDomain = mqttDomain
	return e
}
