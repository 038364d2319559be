package features

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nerrad567/meross-core/internal/protocol"
)

// NotificationKind names the known push families. Everything the registry
// does not recognize arrives as KindGeneric with its payload intact.
type NotificationKind string

const (
	KindToggle           NotificationKind = "toggle"
	KindToggleX          NotificationKind = "togglex"
	KindLight            NotificationKind = "light"
	KindSpray            NotificationKind = "spray"
	KindThermostatMode   NotificationKind = "thermostatMode"
	KindThermostatWindow NotificationKind = "thermostatWindow"
	KindRollerState      NotificationKind = "rollerState"
	KindRollerPosition   NotificationKind = "rollerPosition"
	KindGarageDoor       NotificationKind = "garageDoor"
	KindDiffuserLight    NotificationKind = "diffuserLight"
	KindDiffuserSpray    NotificationKind = "diffuserSpray"
	KindOnline           NotificationKind = "online"
	KindSystemAll        NotificationKind = "systemAll"
	KindBind             NotificationKind = "bind"
	KindUnbind           NotificationKind = "unbind"
	KindAlarm            NotificationKind = "alarm"
	KindSensorLatest     NotificationKind = "sensorLatest"
	KindTimer            NotificationKind = "timer"
	KindTrigger          NotificationKind = "trigger"
	KindHubOnline        NotificationKind = "hubOnline"
	KindHubToggleX       NotificationKind = "hubTogglex"
	KindHubBattery       NotificationKind = "hubBattery"
	KindHubTempHum       NotificationKind = "hubTempHum"
	KindHubSmoke         NotificationKind = "hubSmoke"
	KindHubAlert         NotificationKind = "hubAlert"
	KindHubMts100All     NotificationKind = "hubMts100All"
	KindHubMts100Temp    NotificationKind = "hubMts100Temperature"
	KindHubMts100Mode    NotificationKind = "hubMts100Mode"
	KindHubMts100Adjust  NotificationKind = "hubMts100Adjust"
	KindHubSubdeviceList NotificationKind = "hubSubdeviceList"
	KindGeneric          NotificationKind = "generic"
)

var notificationKinds = map[string]NotificationKind{
	protocol.NamespaceToggle:           KindToggle,
	protocol.NamespaceToggleX:          KindToggleX,
	protocol.NamespaceLight:            KindLight,
	protocol.NamespaceSpray:            KindSpray,
	protocol.NamespaceThermostat:       KindThermostatMode,
	protocol.NamespaceThermostatWindow: KindThermostatWindow,
	protocol.NamespaceRollerState:      KindRollerState,
	protocol.NamespaceRollerPos:        KindRollerPosition,
	protocol.NamespaceGarageDoor:       KindGarageDoor,
	protocol.NamespaceDiffuserLight:    KindDiffuserLight,
	protocol.NamespaceDiffuserSpray:    KindDiffuserSpray,
	protocol.NamespaceSystemOnline:     KindOnline,
	protocol.NamespaceSystemAll:        KindSystemAll,
	protocol.NamespaceBind:             KindBind,
	protocol.NamespaceUnbind:           KindUnbind,
	protocol.NamespaceAlarm:            KindAlarm,
	protocol.NamespaceSensorLatest:     KindSensorLatest,
	protocol.NamespaceTimerX:           KindTimer,
	protocol.NamespaceTriggerX:         KindTrigger,
	protocol.NamespaceHubOnline:        KindHubOnline,
	protocol.NamespaceHubToggleX:       KindHubToggleX,
	protocol.NamespaceHubBattery:       KindHubBattery,
	protocol.NamespaceHubSensorTempHum: KindHubTempHum,
	protocol.NamespaceHubSensorSmoke:   KindHubSmoke,
	protocol.NamespaceHubSensorAlert:   KindHubAlert,
	protocol.NamespaceHubMts100All:     KindHubMts100All,
	protocol.NamespaceHubMts100Temp:    KindHubMts100Temp,
	protocol.NamespaceHubMts100Mode:    KindHubMts100Mode,
	protocol.NamespaceHubMts100Adjust:  KindHubMts100Adjust,
	protocol.NamespaceHubSubdeviceList: KindHubSubdeviceList,
}

// Notification is one decoded PUSH. Entries holds the normalized channel
// list when the namespace has a known payload shape; the raw payload is
// always kept for consumers that want the whole thing.
type Notification struct {
	Kind       NotificationKind
	Namespace  string
	DeviceUUID string
	Timestamp  time.Time
	Payload    json.RawMessage
	Entries    []json.RawMessage
}

// ParseNotification types a push by namespace. Unknown namespaces come back
// as KindGeneric rather than an error so new firmware cannot wedge the
// dispatch loop.
func ParseNotification(deviceUUID, namespace string, ts time.Time, payload json.RawMessage) Notification {
	n := Notification{
		Kind:       KindGeneric,
		Namespace:  namespace,
		DeviceUUID: deviceUUID,
		Timestamp:  ts,
		Payload:    payload,
	}
	if kind, ok := notificationKinds[namespace]; ok {
		n.Kind = kind
	}
	if def, ok := defsByNamespace[namespace]; ok {
		// Best effort: a payload that does not normalize still surfaces
		// as a notification, it just carries no entries.
		if entries, err := PayloadEntries(payload, def.PayloadKey); err == nil {
			n.Entries = entries
		}
	}
	return n
}

// IsHub reports whether the push addresses sub-devices and should fan out
// by entry id.
func (n Notification) IsHub() bool {
	return strings.HasPrefix(n.Namespace, "Appliance.Hub.")
}
