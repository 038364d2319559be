package features

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nerrad567/meross-core/internal/protocol"
)

// ReduceFunc folds one normalized payload entry into a channel state. old is
// nil when the channel has no cached state yet.
type ReduceFunc func(old State, entry json.RawMessage) (State, []FieldChange, error)

// FeatureDef ties one namespace to its feature family and wire shape. Name
// selects the state table entries reduce into; several namespaces may share
// one table, like the mts100 group.
type FeatureDef struct {
	Name       string     // feature family
	Ability    string     // namespace whose advertisement activates the def
	DigestKey  string     // System.All digest section, "" when it has none
	PayloadKey string     // object-or-array field in pushes and replies
	Reduce     ReduceFunc // nil for namespaces that never touch state
}

// defs is the canonical namespace registry. Order matters twice: the first
// active def of a family is its primary (the one GETs refresh through), and
// extended namespaces sit above the base form they shadow.
var defs = []FeatureDef{
	// ============================================================
	// Switching
	// ============================================================
	{Name: FeatureToggle, Ability: protocol.NamespaceToggleX, DigestKey: "togglex", PayloadKey: "togglex", Reduce: reduceToggle},
	{Name: FeatureToggle, Ability: protocol.NamespaceToggle, DigestKey: "toggle", PayloadKey: "toggle", Reduce: reduceToggle},
	{Name: FeatureToggle, Ability: protocol.NamespaceHubToggleX, PayloadKey: "togglex", Reduce: reduceToggle},

	// ============================================================
	// Lighting
	// ============================================================
	{Name: FeatureLight, Ability: protocol.NamespaceLight, DigestKey: "light", PayloadKey: "light", Reduce: reduceLight},
	{Name: FeatureDiffuserLight, Ability: protocol.NamespaceDiffuserLight, PayloadKey: "light", Reduce: reduceDiffuserLight},

	// ============================================================
	// Climate
	// ============================================================
	{Name: FeatureThermostat, Ability: protocol.NamespaceThermostat, PayloadKey: "mode", Reduce: reduceThermostatMode},
	{Name: FeatureThermostat, Ability: protocol.NamespaceThermostatWindow, PayloadKey: "windowOpened", Reduce: reduceThermostatWindow},
	{Name: FeatureSpray, Ability: protocol.NamespaceSpray, DigestKey: "spray", PayloadKey: "spray", Reduce: reduceSpray},
	{Name: FeatureDiffuserSpray, Ability: protocol.NamespaceDiffuserSpray, PayloadKey: "spray", Reduce: reduceDiffuserSpray},
	{Name: FeatureMts100, Ability: protocol.NamespaceHubMts100All, PayloadKey: "all", Reduce: reduceMts100All},
	{Name: FeatureMts100, Ability: protocol.NamespaceHubMts100Temp, PayloadKey: "temperature", Reduce: reduceMts100Temperature},
	{Name: FeatureMts100, Ability: protocol.NamespaceHubMts100Mode, PayloadKey: "mode", Reduce: reduceMts100Mode},
	{Name: FeatureMts100, Ability: protocol.NamespaceHubMts100Adjust, PayloadKey: "adjust", Reduce: reduceMts100Adjust},

	// ============================================================
	// Covers
	// ============================================================
	{Name: FeatureRoller, Ability: protocol.NamespaceRollerState, PayloadKey: "state", Reduce: reduceRollerState},
	{Name: FeatureRoller, Ability: protocol.NamespaceRollerPos, PayloadKey: "position", Reduce: reduceRollerPosition},
	{Name: FeatureRoller, Ability: protocol.NamespaceRollerConfig, PayloadKey: "config"},
	{Name: FeatureGarage, Ability: protocol.NamespaceGarageDoor, DigestKey: "garageDoor", PayloadKey: "state", Reduce: reduceGarage},

	// ============================================================
	// Energy
	// ============================================================
	{Name: FeatureElectricity, Ability: protocol.NamespaceElectricity, PayloadKey: "electricity", Reduce: reduceElectricity},
	{Name: FeatureConsumption, Ability: protocol.NamespaceConsumptionX, PayloadKey: "consumptionx"},

	// ============================================================
	// Sensors
	// ============================================================
	{Name: FeatureTempHum, Ability: protocol.NamespaceHubSensorAll, PayloadKey: "all", Reduce: reduceSensorAll},
	{Name: FeatureTempHum, Ability: protocol.NamespaceHubSensorTempHum, PayloadKey: "tempHum", Reduce: reduceTempHum},
	{Name: FeatureSmoke, Ability: protocol.NamespaceHubSensorSmoke, PayloadKey: "smokeAlarm", Reduce: reduceSmoke},
	{Name: FeatureBattery, Ability: protocol.NamespaceHubBattery, PayloadKey: "battery", Reduce: reduceBattery},

	// ============================================================
	// Presence
	// ============================================================
	{Name: FeatureOnline, Ability: protocol.NamespaceSystemOnline, PayloadKey: "online", Reduce: reduceOnline},
	{Name: FeatureOnline, Ability: protocol.NamespaceHubOnline, PayloadKey: "online", Reduce: reduceOnline},

	// ============================================================
	// Hub plumbing
	// ============================================================
	{Name: FeatureHub, Ability: protocol.NamespaceHubSubdeviceList, PayloadKey: "subdevice"},
}

// defsByNamespace indexes the registry for push routing.
var defsByNamespace = map[string]*FeatureDef{}

func init() {
	for i := range defs {
		def := &defs[i]
		if _, dup := defsByNamespace[def.Ability]; dup {
			panic(fmt.Sprintf("features: duplicate namespace %s", def.Ability))
		}
		defsByNamespace[def.Ability] = def
	}
}

// FeatureSet is the composed capability surface of one device or
// sub-device. It is immutable once built and safe to share.
type FeatureSet struct {
	abilities map[string]struct{}
	byName    map[string]*FeatureDef
	byNS      map[string]*FeatureDef
	byDigest  map[string]*FeatureDef
	names     []string
}

// Compose builds a feature set from an advertised ability list. When both a
// base namespace and its extended form are present only the extended def is
// kept, so a device advertising Toggle and ToggleX exposes ToggleX alone.
func Compose(abilities []string) *FeatureSet {
	fs := &FeatureSet{
		abilities: make(map[string]struct{}, len(abilities)),
		byName:    map[string]*FeatureDef{},
		byNS:      map[string]*FeatureDef{},
		byDigest:  map[string]*FeatureDef{},
	}
	for _, ns := range abilities {
		fs.abilities[ns] = struct{}{}
	}
	for i := range defs {
		def := &defs[i]
		if _, ok := fs.abilities[def.Ability]; !ok {
			continue
		}
		if x := protocol.ShadowedBy(def.Ability); x != "" {
			if _, ok := fs.abilities[x]; ok {
				continue
			}
		}
		fs.byNS[def.Ability] = def
		if def.DigestKey != "" {
			fs.byDigest[def.DigestKey] = def
		}
		if _, ok := fs.byName[def.Name]; !ok {
			fs.byName[def.Name] = def
			fs.names = append(fs.names, def.Name)
		}
	}
	sort.Strings(fs.names)
	return fs
}

// Has reports whether the raw ability was advertised, shadowed or not.
func (fs *FeatureSet) Has(namespace string) bool {
	_, ok := fs.abilities[namespace]
	return ok
}

// Feature returns the primary def of a feature family.
func (fs *FeatureSet) Feature(name string) (*FeatureDef, bool) {
	def, ok := fs.byName[name]
	return def, ok
}

// ByNamespace returns the active def for a namespace. Shadowed base
// namespaces resolve to nothing even when advertised.
func (fs *FeatureSet) ByNamespace(namespace string) (*FeatureDef, bool) {
	def, ok := fs.byNS[namespace]
	return def, ok
}

// Names lists the active feature families in sorted order.
func (fs *FeatureSet) Names() []string {
	out := make([]string, len(fs.names))
	copy(out, fs.names)
	return out
}

// Abilities lists every advertised namespace in sorted order.
func (fs *FeatureSet) Abilities() []string {
	out := make([]string, 0, len(fs.abilities))
	for ns := range fs.abilities {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// IsHub reports whether the device fronts sub-devices.
func (fs *FeatureSet) IsHub() bool {
	return fs.Has(protocol.NamespaceHubSubdeviceList)
}

// RequiresEncryption reports whether LAN bodies must be wrapped in the
// device cipher.
func (fs *FeatureSet) RequiresEncryption() bool {
	return fs.Has(protocol.NamespaceEncryptECDHE)
}

// DigestRoute is one reducible slice of a System.All digest.
type DigestRoute struct {
	Def     *FeatureDef
	Entries []json.RawMessage
}

// DigestRoutes flattens a System.All digest into per-namespace entry lists.
// Thermostat and diffuser sections nest their channel lists one level down;
// sections without an active def are skipped, matching how firmware ships
// digest keys for abilities it no longer advertises.
func (fs *FeatureSet) DigestRoutes(digest map[string]json.RawMessage) ([]DigestRoute, error) {
	keys := make([]string, 0, len(digest))
	for k := range digest {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var routes []DigestRoute
	for _, key := range keys {
		section := digest[key]
		switch key {
		case "thermostat":
			nested, err := fs.nestedRoutes(section, map[string]string{
				"mode":         protocol.NamespaceThermostat,
				"windowOpened": protocol.NamespaceThermostatWindow,
			})
			if err != nil {
				return nil, fmt.Errorf("digest thermostat: %w", err)
			}
			routes = append(routes, nested...)
		case "diffuser":
			nested, err := fs.nestedRoutes(section, map[string]string{
				"light": protocol.NamespaceDiffuserLight,
				"spray": protocol.NamespaceDiffuserSpray,
			})
			if err != nil {
				return nil, fmt.Errorf("digest diffuser: %w", err)
			}
			routes = append(routes, nested...)
		default:
			def, ok := fs.byDigest[key]
			if !ok {
				continue
			}
			entries, err := Entries(section)
			if err != nil {
				return nil, fmt.Errorf("digest %s: %w", key, err)
			}
			if len(entries) > 0 {
				routes = append(routes, DigestRoute{Def: def, Entries: entries})
			}
		}
	}
	return routes, nil
}

func (fs *FeatureSet) nestedRoutes(section json.RawMessage, byField map[string]string) ([]DigestRoute, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(section, &fields); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(byField))
	for f := range byField {
		names = append(names, f)
	}
	sort.Strings(names)

	var routes []DigestRoute
	for _, field := range names {
		raw, ok := fields[field]
		if !ok {
			continue
		}
		def, ok := fs.byNS[byField[field]]
		if !ok {
			continue
		}
		entries, err := Entries(raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		if len(entries) > 0 {
			routes = append(routes, DigestRoute{Def: def, Entries: entries})
		}
	}
	return routes, nil
}

// ============================================================
// Composition cache
// ============================================================

var (
	setMu    sync.Mutex
	setCache = map[string]*FeatureSet{}
)

// ForDevice composes or recalls the feature set for a hardware triple. Two
// devices of the same model on the same firmware share one set.
func ForDevice(deviceType, hardwareVersion, firmwareVersion string, abilities []string) *FeatureSet {
	key := deviceType + "|" + hardwareVersion + "|" + firmwareVersion
	setMu.Lock()
	defer setMu.Unlock()
	if fs, ok := setCache[key]; ok {
		return fs
	}
	fs := Compose(abilities)
	setCache[key] = fs
	return fs
}

// ============================================================
// Sub-device filtering
// ============================================================

// subdeviceFamilies maps model prefixes to the hub namespaces that family
// answers on. Models not listed here still get battery and presence.
var subdeviceFamilies = []struct {
	prefix    string
	abilities []string
}{
	{"ms100", []string{protocol.NamespaceHubSensorAll, protocol.NamespaceHubSensorTempHum}},
	{"ma151", []string{protocol.NamespaceHubSensorAll, protocol.NamespaceHubSensorSmoke}},
	{"gs559", []string{protocol.NamespaceHubSensorAll, protocol.NamespaceHubSensorSmoke}},
	{"mts100", []string{
		protocol.NamespaceHubMts100All,
		protocol.NamespaceHubMts100Temp,
		protocol.NamespaceHubMts100Mode,
		protocol.NamespaceHubMts100Adjust,
		protocol.NamespaceHubToggleX,
	}},
	{"mts150", []string{
		protocol.NamespaceHubMts100All,
		protocol.NamespaceHubMts100Temp,
		protocol.NamespaceHubMts100Mode,
		protocol.NamespaceHubMts100Adjust,
		protocol.NamespaceHubToggleX,
	}},
}

// subdeviceCommon is granted to every sub-device type when the hub
// advertises it.
var subdeviceCommon = []string{
	protocol.NamespaceHubBattery,
	protocol.NamespaceHubOnline,
}

// SubDeviceAbilities narrows a hub's abilities to what one sub-device model
// actually answers, so a valve never exposes the hygrometer surface its hub
// advertises. Unknown models keep only battery and presence.
func SubDeviceAbilities(subType string, hub *FeatureSet) []string {
	model := strings.ToLower(subType)
	var family []string
	for _, f := range subdeviceFamilies {
		if strings.HasPrefix(model, f.prefix) {
			family = f.abilities
			break
		}
	}
	var out []string
	for _, ns := range family {
		if hub.Has(ns) {
			out = append(out, ns)
		}
	}
	for _, ns := range subdeviceCommon {
		if hub.Has(ns) {
			out = append(out, ns)
		}
	}
	sort.Strings(out)
	return out
}

// ForSubDevice composes the feature set a sub-device model exposes through
// its hub.
func ForSubDevice(subType string, hub *FeatureSet) *FeatureSet {
	return Compose(SubDeviceAbilities(subType, hub))
}
