package features

import (
	"encoding/json"
	"testing"

	"github.com/nerrad567/meross-core/internal/protocol"
)

func abilitiesOf(fs *FeatureSet, namespaces ...string) bool {
	for _, ns := range namespaces {
		if _, ok := fs.ByNamespace(ns); !ok {
			return false
		}
	}
	return true
}

// ============================================================
// Composition
// ============================================================

func TestComposeShadowsBaseToggle(t *testing.T) {
	fs := Compose([]string{
		protocol.NamespaceSystemAll,
		protocol.NamespaceSystemOnline,
		protocol.NamespaceToggle,
		protocol.NamespaceToggleX,
	})
	def, ok := fs.Feature(FeatureToggle)
	if !ok {
		t.Fatal("toggle family missing")
	}
	if def.Ability != protocol.NamespaceToggleX {
		t.Errorf("primary toggle = %s, want ToggleX", def.Ability)
	}
	if _, ok := fs.ByNamespace(protocol.NamespaceToggle); ok {
		t.Error("shadowed base namespace should not resolve")
	}
	if !fs.Has(protocol.NamespaceToggle) {
		t.Error("raw ability list should still report the base form")
	}
}

func TestComposeBaseToggleAlone(t *testing.T) {
	fs := Compose([]string{protocol.NamespaceToggle})
	def, ok := fs.Feature(FeatureToggle)
	if !ok {
		t.Fatal("toggle family missing")
	}
	if def.Ability != protocol.NamespaceToggle {
		t.Errorf("primary toggle = %s, want base Toggle", def.Ability)
	}
}

func TestComposeUnknownAbilitiesIgnored(t *testing.T) {
	fs := Compose([]string{"Appliance.Control.FutureThing", protocol.NamespaceLight})
	if !abilitiesOf(fs, protocol.NamespaceLight) {
		t.Error("light should be active")
	}
	if len(fs.Names()) != 1 || fs.Names()[0] != FeatureLight {
		t.Errorf("names = %v, want [light]", fs.Names())
	}
	if !fs.Has("Appliance.Control.FutureThing") {
		t.Error("unknown abilities stay visible in the raw set")
	}
}

func TestComposeHubFlags(t *testing.T) {
	fs := Compose([]string{
		protocol.NamespaceHubSubdeviceList,
		protocol.NamespaceEncryptECDHE,
	})
	if !fs.IsHub() {
		t.Error("IsHub should be true")
	}
	if !fs.RequiresEncryption() {
		t.Error("RequiresEncryption should be true")
	}
	if Compose(nil).IsHub() {
		t.Error("empty set should not be a hub")
	}
}

func TestForDeviceCaches(t *testing.T) {
	abilities := []string{protocol.NamespaceToggleX}
	a := ForDevice("mss310", "6.0.0", "6.1.8", abilities)
	b := ForDevice("mss310", "6.0.0", "6.1.8", nil)
	if a != b {
		t.Error("same hardware triple should share one set")
	}
	c := ForDevice("mss310", "6.0.0", "6.2.0", abilities)
	if a == c {
		t.Error("different firmware should compose its own set")
	}
}

// ============================================================
// Sub-device filtering
// ============================================================

func hubSet() *FeatureSet {
	return Compose([]string{
		protocol.NamespaceSystemAll,
		protocol.NamespaceHubSubdeviceList,
		protocol.NamespaceHubOnline,
		protocol.NamespaceHubBattery,
		protocol.NamespaceHubToggleX,
		protocol.NamespaceHubSensorAll,
		protocol.NamespaceHubSensorTempHum,
		protocol.NamespaceHubMts100All,
		protocol.NamespaceHubMts100Temp,
		protocol.NamespaceHubMts100Mode,
		protocol.NamespaceHubMts100Adjust,
	})
}

func TestSubDeviceAbilitiesSensor(t *testing.T) {
	got := SubDeviceAbilities("ms100", hubSet())
	want := map[string]bool{
		protocol.NamespaceHubSensorAll:     true,
		protocol.NamespaceHubSensorTempHum: true,
		protocol.NamespaceHubBattery:       true,
		protocol.NamespaceHubOnline:        true,
	}
	if len(got) != len(want) {
		t.Fatalf("abilities = %v", got)
	}
	for _, ns := range got {
		if !want[ns] {
			t.Errorf("unexpected ability %s", ns)
		}
	}
}

func TestSubDeviceAbilitiesValve(t *testing.T) {
	fs := ForSubDevice("mts100v3", hubSet())
	if !abilitiesOf(fs,
		protocol.NamespaceHubMts100All,
		protocol.NamespaceHubMts100Temp,
		protocol.NamespaceHubMts100Mode,
		protocol.NamespaceHubMts100Adjust,
		protocol.NamespaceHubToggleX,
	) {
		t.Errorf("valve set missing namespaces: %v", fs.Abilities())
	}
	if _, ok := fs.ByNamespace(protocol.NamespaceHubSensorTempHum); ok {
		t.Error("a valve should not expose the hygrometer surface")
	}
	def, ok := fs.Feature(FeatureToggle)
	if !ok || def.Ability != protocol.NamespaceHubToggleX {
		t.Errorf("valve toggle should route through Hub.ToggleX, got %+v", def)
	}
}

func TestSubDeviceAbilitiesUnknownModel(t *testing.T) {
	got := SubDeviceAbilities("msXYZ", hubSet())
	if len(got) != 2 {
		t.Fatalf("unknown model abilities = %v, want battery and online only", got)
	}
	for _, ns := range got {
		if ns != protocol.NamespaceHubBattery && ns != protocol.NamespaceHubOnline {
			t.Errorf("unexpected ability %s", ns)
		}
	}
}

// ============================================================
// Digest routing
// ============================================================

func TestDigestRoutesFlatSections(t *testing.T) {
	fs := Compose([]string{
		protocol.NamespaceToggleX,
		protocol.NamespaceGarageDoor,
	})
	digest := map[string]json.RawMessage{
		"togglex":    json.RawMessage(`[{"channel":0,"onoff":1},{"channel":1,"onoff":0}]`),
		"garageDoor": json.RawMessage(`[{"channel":0,"open":1}]`),
		"triggerx":   json.RawMessage(`[]`),
		"mystery":    json.RawMessage(`{"whatever":true}`),
	}
	routes, err := fs.DigestRoutes(digest)
	if err != nil {
		t.Fatalf("DigestRoutes: %v", err)
	}
	if len(routes) != 2 {
		t.Fatalf("routes = %d, want 2", len(routes))
	}
	// Keys walk in sorted order, so garageDoor precedes togglex.
	if routes[0].Def.Ability != protocol.NamespaceGarageDoor || len(routes[0].Entries) != 1 {
		t.Errorf("route 0 = %s with %d entries", routes[0].Def.Ability, len(routes[0].Entries))
	}
	if routes[1].Def.Ability != protocol.NamespaceToggleX || len(routes[1].Entries) != 2 {
		t.Errorf("route 1 = %s with %d entries", routes[1].Def.Ability, len(routes[1].Entries))
	}
}

func TestDigestRoutesSingleObjectSection(t *testing.T) {
	fs := Compose([]string{protocol.NamespaceLight})
	digest := map[string]json.RawMessage{
		"light": json.RawMessage(`{"channel":0,"rgb":255,"luminance":60,"capacity":5,"onoff":1}`),
	}
	routes, err := fs.DigestRoutes(digest)
	if err != nil {
		t.Fatalf("DigestRoutes: %v", err)
	}
	if len(routes) != 1 || len(routes[0].Entries) != 1 {
		t.Fatalf("routes = %+v", routes)
	}
}

func TestDigestRoutesNestedThermostat(t *testing.T) {
	fs := Compose([]string{
		protocol.NamespaceThermostat,
		protocol.NamespaceThermostatWindow,
	})
	digest := map[string]json.RawMessage{
		"thermostat": json.RawMessage(`{
			"mode":[{"channel":0,"mode":1,"targetTemp":220,"currentTemp":215,"state":1,"onoff":1}],
			"windowOpened":[{"channel":0,"status":0}],
			"summerMode":[{"channel":0,"mode":0}]}`),
	}
	routes, err := fs.DigestRoutes(digest)
	if err != nil {
		t.Fatalf("DigestRoutes: %v", err)
	}
	if len(routes) != 2 {
		t.Fatalf("routes = %d, want mode and windowOpened", len(routes))
	}
	if routes[0].Def.Ability != protocol.NamespaceThermostat {
		t.Errorf("route 0 = %s", routes[0].Def.Ability)
	}
	if routes[1].Def.Ability != protocol.NamespaceThermostatWindow {
		t.Errorf("route 1 = %s", routes[1].Def.Ability)
	}
}

func TestDigestRoutesSkipInactive(t *testing.T) {
	// The device ships a togglex digest but never advertised the ability.
	fs := Compose([]string{protocol.NamespaceLight})
	digest := map[string]json.RawMessage{
		"togglex": json.RawMessage(`[{"channel":0,"onoff":1}]`),
	}
	routes, err := fs.DigestRoutes(digest)
	if err != nil {
		t.Fatalf("DigestRoutes: %v", err)
	}
	if len(routes) != 0 {
		t.Errorf("routes = %+v, want none", routes)
	}
}

// ============================================================
// Registry hygiene
// ============================================================

func TestRegistryPayloadKeys(t *testing.T) {
	for _, def := range defs {
		if def.Name == "" || def.Ability == "" || def.PayloadKey == "" {
			t.Errorf("incomplete def: %+v", def)
		}
	}
}

func TestRegistryReducersRejectGarbage(t *testing.T) {
	for _, def := range defs {
		if def.Reduce == nil {
			continue
		}
		if _, _, err := def.Reduce(nil, json.RawMessage(`{"truncated":`)); err == nil {
			t.Errorf("%s reducer accepted malformed json", def.Ability)
		}
	}
}
