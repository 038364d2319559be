package merr

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindThroughWrapping(t *testing.T) {
	base := CommandTimeout("dev-1", 5*time.Second, Command{Method: "SET", Namespace: "Appliance.Control.ToggleX"})
	wrapped := fmt.Errorf("toggle channel 0: %w", base)

	if !IsKind(wrapped, KindCommandTimeout) {
		t.Error("expected COMMAND_TIMEOUT kind through fmt.Errorf wrapping")
	}
	if KindOf(wrapped) != KindCommandTimeout {
		t.Errorf("KindOf = %q, want %q", KindOf(wrapped), KindCommandTimeout)
	}

	e, ok := FromError(wrapped)
	if !ok {
		t.Fatal("FromError failed to extract typed error")
	}
	if e.DeviceUUID != "dev-1" {
		t.Errorf("DeviceUUID = %q, want dev-1", e.DeviceUUID)
	}
	if e.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", e.Timeout)
	}
	if e.Command == nil || e.Command.Method != "SET" {
		t.Errorf("Command = %+v, want SET", e.Command)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if KindOf(errors.New("plain")) != "" {
		t.Error("plain errors must carry no kind")
	}
	if IsOperational(errors.New("plain")) {
		t.Error("plain errors must be non-operational")
	}
}

func TestOperationalDefaults(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindNetworkTimeout, true},
		{KindCommandTimeout, true},
		{KindRateLimit, true},
		{KindMQTTError, true},
		{KindUnconnected, true},
		{KindHTTPAPIError, true},
		{KindAuthentication, false},
		{KindTokenExpired, false},
		{KindValidation, false},
		{KindUnsupported, false},
		{KindUnknownDeviceType, false},
		{KindCommandFailed, false},
		{KindBadDomain, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := New(tt.kind, "x").Operational; got != tt.want {
				t.Errorf("operational = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "plain",
			err:  New(KindUnconnected, "device offline"),
			want: "UNCONNECTED: device offline",
		},
		{
			name: "with vendor code",
			err:  CommandFailed("dev", 5000, "illegal argument"),
			want: "COMMAND_FAILED: illegal argument (code 5000)",
		},
		{
			name: "with cause",
			err:  Wrap(KindNetworkTimeout, "post /config", errors.New("dial refused")),
			want: "NETWORK_TIMEOUT: post /config: dial refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecordIsFlat(t *testing.T) {
	e := CommandTimeout("uuid-9", 5*time.Second, Command{Method: "SET", Namespace: "Appliance.Control.Toggle"})
	e.cause = errors.New("broker gone")

	rec := e.Record()

	for k, v := range rec {
		switch v.(type) {
		case string, bool, int, int64, float64:
		default:
			t.Errorf("record field %q has non-flat type %T", k, v)
		}
	}

	if rec["deviceUuid"] != "uuid-9" {
		t.Errorf("deviceUuid = %v", rec["deviceUuid"])
	}
	if rec["timeoutMs"] != int64(5000) {
		t.Errorf("timeoutMs = %v, want 5000", rec["timeoutMs"])
	}
	if rec["namespace"] != "Appliance.Control.Toggle" {
		t.Errorf("namespace = %v", rec["namespace"])
	}
	if rec["cause"] != "broker gone" {
		t.Errorf("cause = %v", rec["cause"])
	}
	if _, present := rec["httpStatusCode"]; present {
		t.Error("zero-valued httpStatusCode must be omitted")
	}
}

func TestRecordMarshals(t *testing.T) {
	rec := BadDomain("iotx-eu.meross.com", "mqtt-eu-2.meross.com").Record()
	if _, err := json.Marshal(rec); err != nil {
		t.Fatalf("record must be JSON serializable: %v", err)
	}
	if rec["apiDomain"] != "iotx-eu.meross.com" {
		t.Errorf("apiDomain = %v", rec["apiDomain"])
	}
}

func TestNotFoundContext(t *testing.T) {
	e := NotFound("subdevice", "0100ab")
	if e.ResourceType != "subdevice" || e.ResourceID != "0100ab" {
		t.Errorf("resource context = %q/%q", e.ResourceType, e.ResourceID)
	}
	if !IsKind(e, KindNotFound) {
		t.Error("expected NOT_FOUND kind")
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(NetworkTimeout("login", nil)) {
		t.Error("NETWORK_TIMEOUT must report as timeout")
	}
	if !IsTimeout(CommandTimeout("d", time.Second, Command{})) {
		t.Error("COMMAND_TIMEOUT must report as timeout")
	}
	if IsTimeout(New(KindMQTTError, "x")) {
		t.Error("MQTT_ERROR must not report as timeout")
	}
}

func TestUnwrapChain(t *testing.T) {
	root := errors.New("tls handshake failed")
	e := Wrap(KindMQTTError, "connect", root)
	if !errors.Is(e, root) {
		t.Error("errors.Is must reach the cause through Unwrap")
	}
}
