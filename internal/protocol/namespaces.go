package protocol

// Device namespaces. A namespace names one ability family; the ability map
// reported by Appliance.System.Ability tells which of these a device
// understands.
//
// ============================================================
// System
// ============================================================

const (
	NamespaceSystemAll      = "Appliance.System.All"
	NamespaceSystemAbility  = "Appliance.System.Ability"
	NamespaceSystemOnline   = "Appliance.System.Online"
	NamespaceSystemHardware = "Appliance.System.Hardware"
	NamespaceSystemFirmware = "Appliance.System.Firmware"
	NamespaceSystemReport   = "Appliance.System.Report"
	NamespaceSystemDebug    = "Appliance.System.Debug"
	NamespaceSystemDND      = "Appliance.System.DNDMode"
)

// ============================================================
// Control
// ============================================================

const (
	NamespaceToggle           = "Appliance.Control.Toggle"
	NamespaceToggleX          = "Appliance.Control.ToggleX"
	NamespaceLight            = "Appliance.Control.Light"
	NamespaceElectricity      = "Appliance.Control.Electricity"
	NamespaceConsumptionX     = "Appliance.Control.ConsumptionX"
	NamespaceSpray            = "Appliance.Control.Spray"
	NamespaceGarageDoor       = "Appliance.GarageDoor.State"
	NamespaceRollerState      = "Appliance.RollerShutter.State"
	NamespaceRollerPos        = "Appliance.RollerShutter.Position"
	NamespaceRollerConfig     = "Appliance.RollerShutter.Config"
	NamespaceThermostat       = "Appliance.Control.Thermostat.Mode"
	NamespaceThermostatWindow = "Appliance.Control.Thermostat.WindowOpened"
	NamespaceTimerX           = "Appliance.Control.TimerX"
	NamespaceTriggerX         = "Appliance.Control.TriggerX"
	NamespaceBind             = "Appliance.Control.Bind"
	NamespaceUnbind           = "Appliance.Control.Unbind"
	NamespaceAlarm            = "Appliance.Control.Alarm"
	NamespaceSensorLatest     = "Appliance.Control.Sensor.LatestX"
)

// ============================================================
// Diffuser
// ============================================================

const (
	NamespaceDiffuserLight = "Appliance.Control.Diffuser.Light"
	NamespaceDiffuserSpray = "Appliance.Control.Diffuser.Spray"
)

// ============================================================
// Hub and sub-devices
// ============================================================

const (
	NamespaceHubOnline        = "Appliance.Hub.Online"
	NamespaceHubToggleX       = "Appliance.Hub.ToggleX"
	NamespaceHubBattery       = "Appliance.Hub.Battery"
	NamespaceHubSubdeviceList = "Appliance.Hub.SubdeviceList"
	NamespaceHubSensorAll     = "Appliance.Hub.Sensor.All"
	NamespaceHubSensorTempHum = "Appliance.Hub.Sensor.TempHum"
	NamespaceHubSensorSmoke   = "Appliance.Hub.Sensor.Smoke"
	NamespaceHubSensorAlert   = "Appliance.Hub.Sensor.Alert"
	NamespaceHubMts100All     = "Appliance.Hub.Mts100.All"
	NamespaceHubMts100Temp    = "Appliance.Hub.Mts100.Temperature"
	NamespaceHubMts100Mode    = "Appliance.Hub.Mts100.Mode"
	NamespaceHubMts100Adjust  = "Appliance.Hub.Mts100.Adjust"
)

// ============================================================
// Encryption
// ============================================================

const (
	NamespaceEncryptECDHE = "Appliance.Encrypt.ECDHE"
	NamespaceEncryptSuite = "Appliance.Encrypt.Suite"
)

// xVariants maps an extended namespace to the base namespace it shadows.
// When a device advertises both, only the extended form is exposed.
var xVariants = map[string]string{
	NamespaceToggleX: NamespaceToggle,
}

// BaseOf returns the base namespace shadowed by ns, or "" when ns has none.
func BaseOf(ns string) string {
	return xVariants[ns]
}

// ShadowedBy returns the extended namespace that shadows base, or "" when
// base has no extended form.
func ShadowedBy(base string) string {
	for x, b := range xVariants {
		if b == base {
			return x
		}
	}
	return ""
}
