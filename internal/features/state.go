package features

// Feature family names. Each names one cached state table on a device; hub
// namespaces reduce into the same tables on the owning sub-device.
const (
	FeatureToggle        = "toggle"
	FeatureLight         = "light"
	FeatureThermostat    = "thermostat"
	FeatureRoller        = "roller"
	FeatureGarage        = "garage"
	FeatureSpray         = "spray"
	FeatureDiffuserLight = "diffuserLight"
	FeatureDiffuserSpray = "diffuserSpray"
	FeatureElectricity   = "electricity"
	FeatureConsumption   = "consumption"
	FeatureTempHum       = "tempHum"
	FeatureSmoke         = "smoke"
	FeatureBattery       = "battery"
	FeatureOnline        = "online"
	FeatureMts100        = "mts100"
	FeatureHub           = "hub"
)

// State is one per-channel feature snapshot. Implementations are flat value
// structs with no reference fields, so assigning one through the interface
// already deep copies it.
type State interface {
	Feature() string
}

// FieldChange records one observed transition inside a reduction. Old is nil
// when the channel had no cached state before the entry applied.
type FieldChange struct {
	Field string
	Old   any
	New   any
}

// OnlineStatus mirrors the status codes devices report for themselves and
// for hub sub-devices.
type OnlineStatus int

const (
	OnlineStatusUnknown   OnlineStatus = -1
	OnlineStatusNotOnline OnlineStatus = 0
	OnlineStatusOnline    OnlineStatus = 1
	OnlineStatusOffline   OnlineStatus = 2
	OnlineStatusUpgrading OnlineStatus = 3
)

// IsOnline reports whether the status means the target is reachable.
func (s OnlineStatus) IsOnline() bool { return s == OnlineStatusOnline }

func (s OnlineStatus) String() string {
	switch s {
	case OnlineStatusNotOnline:
		return "not_online"
	case OnlineStatusOnline:
		return "online"
	case OnlineStatusOffline:
		return "offline"
	case OnlineStatusUpgrading:
		return "upgrading"
	default:
		return "unknown"
	}
}

// ToggleState is the switch position of one channel.
type ToggleState struct {
	IsOn bool
}

func (ToggleState) Feature() string { return FeatureToggle }

// LightState is a lamp channel. RGB and Temperature keep the wire integer
// forms; Mode carries the capacity flags the device last reported.
type LightState struct {
	IsOn        bool
	Brightness  int
	RGB         int
	Temperature int
	Mode        int
}

func (LightState) Feature() string { return FeatureLight }

// ThermostatState is one wall thermostat channel. Temperatures are tenths of
// a degree Celsius; State is the raw working word, nonzero while the relay
// drives the load.
type ThermostatState struct {
	IsOn        bool
	Mode        ThermostatMode
	State       int
	TargetTemp  int
	CurrentTemp int
	HeatTemp    int
	CoolTemp    int
	EcoTemp     int
	ManualTemp  int
	MinTemp     int
	MaxTemp     int
	Warning     bool
	WindowOpen  bool
}

func (ThermostatState) Feature() string { return FeatureThermostat }

// RollerState is one shutter channel. Position runs 0 (closed) to 100
// (open); State reports the motor direction.
type RollerState struct {
	Position int
	State    int
}

func (RollerState) Feature() string { return FeatureRoller }

// GarageState is one garage door channel.
type GarageState struct {
	Open bool
}

func (GarageState) Feature() string { return FeatureGarage }

// SprayState is one humidifier channel.
type SprayState struct {
	Mode SprayMode
}

func (SprayState) Feature() string { return FeatureSpray }

// DiffuserLightState is the lamp ring of a diffuser.
type DiffuserLightState struct {
	IsOn       bool
	Mode       int
	Brightness int
	RGB        int
}

func (DiffuserLightState) Feature() string { return FeatureDiffuserLight }

// DiffuserSprayState is the mist output of a diffuser.
type DiffuserSprayState struct {
	Mode int
}

func (DiffuserSprayState) Feature() string { return FeatureDiffuserSpray }

// ElectricityState is an instantaneous power reading. Units follow the wire:
// Power in milliwatts, Current in milliamps, Voltage in tenths of a volt.
type ElectricityState struct {
	Power   int
	Current int
	Voltage int
}

func (ElectricityState) Feature() string { return FeatureElectricity }

// TempHumState is an environment sensor reading in tenths of a degree and
// tenths of a percent relative humidity. Voltage is the battery cell in
// millivolts when the sensor reports it.
type TempHumState struct {
	Temperature int
	Humidity    int
	Voltage     int
}

func (TempHumState) Feature() string { return FeatureTempHum }

// SmokeState is a smoke alarm status word.
type SmokeState struct {
	Status    int
	Interconn int
}

func (SmokeState) Feature() string { return FeatureSmoke }

// BatteryState is a sub-device battery level in percent.
type BatteryState struct {
	Level int
}

func (BatteryState) Feature() string { return FeatureBattery }

// OnlineState tracks reachability for a device or sub-device.
type OnlineState struct {
	Status OnlineStatus
}

func (OnlineState) Feature() string { return FeatureOnline }

// Mts100State is one radiator valve. Temperatures are tenths of a degree;
// Adjust is the calibration offset in hundredths.
type Mts100State struct {
	IsOn        bool
	Mode        Mts100Mode
	CurrentTemp int
	TargetTemp  int
	Custom      int
	Comfort     int
	Economy     int
	Away        int
	MinTemp     int
	MaxTemp     int
	Heating     bool
	WindowOpen  bool
	Adjust      int
}

func (Mts100State) Feature() string { return FeatureMts100 }

// was returns the previous value for a change record, or nil when the
// channel had no cached state yet.
func was(had bool, v any) any {
	if !had {
		return nil
	}
	return v
}
