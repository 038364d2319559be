package device

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/nerrad567/meross-core/internal/features"
	"github.com/nerrad567/meross-core/internal/merr"
	"github.com/nerrad567/meross-core/internal/protocol"
)

// Typed command surface. Every operation resolves the device snapshot,
// refuses uninitialized shells, builds the namespace payload, and sends it
// through the router. Successful SETs fold their own payload back into the
// cache so a mutation is visible immediately; the device's follow-up push
// then reduces to nothing when it agrees.

// Execute sends one raw command and returns the reply payload. The escape
// hatch for namespaces without a typed wrapper; nothing is absorbed.
func (r *Registry) Execute(ctx context.Context, uuid string, method protocol.Method, namespace string, payload any) (json.RawMessage, error) {
	d, err := r.Get(uuid)
	if err != nil {
		return nil, err
	}
	return r.exec.Execute(ctx, target(d), method, namespace, payload)
}

// ============================================================
// Switching
// ============================================================

// TurnOn powers one channel up through whichever toggle form the firmware
// speaks.
func (r *Registry) TurnOn(ctx context.Context, uuid string, channel int) error {
	return r.setToggle(ctx, uuid, channel, true)
}

// TurnOff powers one channel down.
func (r *Registry) TurnOff(ctx context.Context, uuid string, channel int) error {
	return r.setToggle(ctx, uuid, channel, false)
}

func (r *Registry) setToggle(ctx context.Context, uuid string, channel int, on bool) error {
	d, def, err := r.featureDevice(uuid, features.FeatureToggle)
	if err != nil {
		return err
	}
	var payload any
	switch def.Ability {
	case protocol.NamespaceToggleX:
		payload = features.ToggleXPayload(channel, on)
	case protocol.NamespaceToggle:
		payload = features.TogglePayload(on)
	default:
		// A pure hub exposes toggling per child only.
		return merr.Unsupported(uuid, def.Ability)
	}
	return r.set(ctx, d, def, payload)
}

// ToggleSubDevice switches one hub child, a valve usually, through the
// hub's togglex form.
func (r *Registry) ToggleSubDevice(ctx context.Context, hubUUID, id string, on bool) error {
	d, sd, err := r.subDeviceFor(hubUUID, id)
	if err != nil {
		return err
	}
	if sd.Features == nil || !sd.Features.Has(protocol.NamespaceHubToggleX) {
		return merr.Unsupported(hubUUID, protocol.NamespaceHubToggleX)
	}
	def, ok := d.Features.ByNamespace(protocol.NamespaceHubToggleX)
	if !ok {
		return merr.Unsupported(hubUUID, protocol.NamespaceHubToggleX)
	}
	return r.set(ctx, d, def, features.HubToggleXPayload(id, on))
}

// ============================================================
// Lighting
// ============================================================

// SetLightColor drives an RGB channel. Luminance 0 keeps the current level.
func (r *Registry) SetLightColor(ctx context.Context, uuid string, channel int, color features.RGB, luminance int) error {
	d, def, err := r.featureDevice(uuid, features.FeatureLight)
	if err != nil {
		return err
	}
	payload, err := features.LightColorPayload(channel, color, luminance)
	if err != nil {
		return err
	}
	return r.set(ctx, d, def, payload)
}

// SetLightTemperature drives a tunable white channel. Temperature runs 1
// cold to 100 warm.
func (r *Registry) SetLightTemperature(ctx context.Context, uuid string, channel, temperature, luminance int) error {
	d, def, err := r.featureDevice(uuid, features.FeatureLight)
	if err != nil {
		return err
	}
	payload, err := features.LightTemperaturePayload(channel, temperature, luminance)
	if err != nil {
		return err
	}
	return r.set(ctx, d, def, payload)
}

// SetLightLuminance dims a channel, 1 to 100.
func (r *Registry) SetLightLuminance(ctx context.Context, uuid string, channel, luminance int) error {
	d, def, err := r.featureDevice(uuid, features.FeatureLight)
	if err != nil {
		return err
	}
	payload, err := features.LightLuminancePayload(channel, luminance)
	if err != nil {
		return err
	}
	return r.set(ctx, d, def, payload)
}

// ============================================================
// Climate
// ============================================================

// SetThermostatMode selects a wall thermostat's operating mode.
func (r *Registry) SetThermostatMode(ctx context.Context, uuid string, channel int, mode features.ThermostatMode) error {
	d, def, err := r.featureDevice(uuid, features.FeatureThermostat)
	if err != nil {
		return err
	}
	payload, err := features.ThermostatModePayload(channel, mode)
	if err != nil {
		return err
	}
	return r.set(ctx, d, def, payload)
}

// SetThermostatPower switches a wall thermostat on or off without touching
// its mode.
func (r *Registry) SetThermostatPower(ctx context.Context, uuid string, channel int, on bool) error {
	d, def, err := r.featureDevice(uuid, features.FeatureThermostat)
	if err != nil {
		return err
	}
	return r.set(ctx, d, def, features.ThermostatOnOffPayload(channel, on))
}

// SetThermostatTarget sets the manual set point in tenths of a degree.
func (r *Registry) SetThermostatTarget(ctx context.Context, uuid string, channel, tenths int) error {
	d, def, err := r.featureDevice(uuid, features.FeatureThermostat)
	if err != nil {
		return err
	}
	payload, err := features.ThermostatTargetPayload(channel, tenths)
	if err != nil {
		return err
	}
	return r.set(ctx, d, def, payload)
}

// SetSprayMode drives a humidifier head.
func (r *Registry) SetSprayMode(ctx context.Context, uuid string, channel int, mode features.SprayMode) error {
	d, def, err := r.featureDevice(uuid, features.FeatureSpray)
	if err != nil {
		return err
	}
	payload, err := features.SprayPayload(channel, mode)
	if err != nil {
		return err
	}
	return r.set(ctx, d, def, payload)
}

// SetDiffuserSpray drives an oil diffuser's mist mode.
func (r *Registry) SetDiffuserSpray(ctx context.Context, uuid string, channel, mode int) error {
	d, def, err := r.featureDevice(uuid, features.FeatureDiffuserSpray)
	if err != nil {
		return err
	}
	return r.set(ctx, d, def, features.DiffuserSprayPayload(channel, mode))
}

// SetDiffuserLight drives an oil diffuser's lamp ring.
func (r *Registry) SetDiffuserLight(ctx context.Context, uuid string, channel int, on bool, mode int, color features.RGB, luminance int) error {
	d, def, err := r.featureDevice(uuid, features.FeatureDiffuserLight)
	if err != nil {
		return err
	}
	payload, err := features.DiffuserLightPayload(channel, on, mode, color, luminance)
	if err != nil {
		return err
	}
	return r.set(ctx, d, def, payload)
}

// ============================================================
// Valves (mts100 family)
// ============================================================

// SetMts100Mode selects a radiator valve's preset.
func (r *Registry) SetMts100Mode(ctx context.Context, hubUUID, id string, mode features.Mts100Mode) error {
	d, def, err := r.mts100Def(hubUUID, id, protocol.NamespaceHubMts100Mode)
	if err != nil {
		return err
	}
	payload, err := features.Mts100ModePayload(id, mode)
	if err != nil {
		return err
	}
	return r.set(ctx, d, def, payload)
}

// SetMts100Target sets a valve's custom set point in tenths of a degree,
// range 5.0 to 35.0.
func (r *Registry) SetMts100Target(ctx context.Context, hubUUID, id string, tenths int) error {
	d, def, err := r.mts100Def(hubUUID, id, protocol.NamespaceHubMts100Temp)
	if err != nil {
		return err
	}
	payload, err := features.Mts100SetPointPayload(id, tenths)
	if err != nil {
		return err
	}
	return r.set(ctx, d, def, payload)
}

// AdjustMts100 calibrates a valve's temperature reading, in hundredths of a
// degree up to plus or minus five degrees.
func (r *Registry) AdjustMts100(ctx context.Context, hubUUID, id string, hundredths int) error {
	d, def, err := r.mts100Def(hubUUID, id, protocol.NamespaceHubMts100Adjust)
	if err != nil {
		return err
	}
	payload, err := features.Mts100AdjustPayload(id, hundredths)
	if err != nil {
		return err
	}
	return r.set(ctx, d, def, payload)
}

func (r *Registry) mts100Def(hubUUID, id, namespace string) (*Device, *features.FeatureDef, error) {
	d, sd, err := r.subDeviceFor(hubUUID, id)
	if err != nil {
		return nil, nil, err
	}
	if sd.Features == nil || !sd.Features.Has(namespace) {
		return nil, nil, merr.Unsupported(hubUUID, namespace)
	}
	def, ok := d.Features.ByNamespace(namespace)
	if !ok {
		return nil, nil, merr.Unsupported(hubUUID, namespace)
	}
	return d, def, nil
}

// ============================================================
// Covers
// ============================================================

// Roller command positions.
const (
	RollerOpen  = 100
	RollerClose = 0
	RollerStop  = features.RollerPositionStop
)

// SetRollerPosition drives a cover towards a percentage, 0 closed to 100
// open; RollerStop halts it. Motion streams back as pushes, so nothing is
// absorbed from the echo.
func (r *Registry) SetRollerPosition(ctx context.Context, uuid string, channel, position int) error {
	d, _, err := r.featureDevice(uuid, features.FeatureRoller)
	if err != nil {
		return err
	}
	if !d.Features.Has(protocol.NamespaceRollerPos) {
		return merr.Unsupported(uuid, protocol.NamespaceRollerPos)
	}
	payload, err := features.RollerPositionPayload(channel, position)
	if err != nil {
		return err
	}
	_, err = r.exec.Execute(ctx, target(d), protocol.MethodSet, protocol.NamespaceRollerPos, payload)
	return err
}

// OpenGarage lifts a garage door.
func (r *Registry) OpenGarage(ctx context.Context, uuid string, channel int) error {
	return r.setGarage(ctx, uuid, channel, true)
}

// CloseGarage lowers a garage door.
func (r *Registry) CloseGarage(ctx context.Context, uuid string, channel int) error {
	return r.setGarage(ctx, uuid, channel, false)
}

func (r *Registry) setGarage(ctx context.Context, uuid string, channel int, open bool) error {
	d, def, err := r.featureDevice(uuid, features.FeatureGarage)
	if err != nil {
		return err
	}
	return r.set(ctx, d, def, features.GarageDoorPayload(channel, open, d.UUID))
}

// ============================================================
// Reads and polls
// ============================================================

// RefreshState forces a full System.All round trip and absorbs it with the
// poll source. Subscription ticks come through here.
func (r *Registry) RefreshState(ctx context.Context, uuid string) error {
	return r.refresh(ctx, uuid, SourcePoll)
}

// FetchState is RefreshState on behalf of a direct caller; the absorb is
// attributed to the command response.
func (r *Registry) FetchState(ctx context.Context, uuid string) (*Device, error) {
	if err := r.refresh(ctx, uuid, SourceResponse); err != nil {
		return nil, err
	}
	return r.Get(uuid)
}

func (r *Registry) refresh(ctx context.Context, uuid string, source Source) error {
	d, err := r.initialized(uuid)
	if err != nil {
		return err
	}
	raw, err := r.exec.Execute(ctx, target(d), protocol.MethodGet, protocol.NamespaceSystemAll, nil)
	if err != nil {
		return err
	}
	sys, err := features.ParseSystemAll(raw)
	if err != nil {
		return err
	}
	now := r.now()
	a := absorption{source: source, ts: now, now: now}
	var (
		changes []Change
		online  []OnlineEvent
		errs    []error
	)
	snap, err := r.mutate(uuid, func(d *Device) error {
		changes, online, errs = absorbSystemAll(d, sys, a)
		return nil
	})
	if err != nil {
		return err
	}
	r.finish(snap, a, changes, online, errs)
	return nil
}

// ReadElectricity fetches instant power metrics for one channel and folds
// them into the cache.
func (r *Registry) ReadElectricity(ctx context.Context, uuid string, channel int) (features.ElectricityState, error) {
	return r.readElectricity(ctx, uuid, channel, SourceResponse)
}

// PollElectricity is ReadElectricity with the poll source, for ticks.
func (r *Registry) PollElectricity(ctx context.Context, uuid string, channel int) error {
	_, err := r.readElectricity(ctx, uuid, channel, SourcePoll)
	return err
}

func (r *Registry) readElectricity(ctx context.Context, uuid string, channel int, source Source) (features.ElectricityState, error) {
	d, def, err := r.featureDevice(uuid, features.FeatureElectricity)
	if err != nil {
		return features.ElectricityState{}, err
	}
	payload := map[string]any{"electricity": map[string]int{"channel": channel}}
	raw, err := r.exec.Execute(ctx, target(d), protocol.MethodGet, def.Ability, payload)
	if err != nil {
		return features.ElectricityState{}, err
	}
	entries, err := features.PayloadEntries(raw, def.PayloadKey)
	if err != nil {
		return features.ElectricityState{}, err
	}
	now := r.now()
	a := absorption{source: source, ts: now, now: now}
	var changes []Change
	var errs []error
	snap, err := r.mutate(uuid, func(d *Device) error {
		changes, _, errs = reduceDevice(d, def, entries, a)
		return nil
	})
	if err != nil {
		return features.ElectricityState{}, err
	}
	r.finish(snap, a, changes, nil, errs)
	st, _ := snap.State(def.Name, channel).(features.ElectricityState)
	return st, nil
}

// ReadConsumption fetches the daily energy history. Entries pass through
// untouched; consumption never lands in the state tables.
func (r *Registry) ReadConsumption(ctx context.Context, uuid string, channel int) ([]features.ConsumptionEntry, error) {
	d, err := r.initialized(uuid)
	if err != nil {
		return nil, err
	}
	if !d.Features.Has(protocol.NamespaceConsumptionX) {
		return nil, merr.Unsupported(uuid, protocol.NamespaceConsumptionX)
	}
	payload := map[string]any{"consumptionx": map[string]int{"channel": channel}}
	raw, err := r.exec.Execute(ctx, target(d), protocol.MethodGet, protocol.NamespaceConsumptionX, payload)
	if err != nil {
		return nil, err
	}
	return features.ParseConsumption(raw)
}

// PollHub refreshes every child's state with one query per family the hub
// exposes: sensors in one sweep, valves in another.
func (r *Registry) PollHub(ctx context.Context, uuid string) error {
	d, err := r.initialized(uuid)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(d.SubDevices))
	for id := range d.SubDevices {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)

	for _, ns := range []string{protocol.NamespaceHubSensorAll, protocol.NamespaceHubMts100All} {
		def, ok := d.Features.ByNamespace(ns)
		if !ok {
			continue
		}
		raw, err := r.exec.Execute(ctx, target(d), protocol.MethodGet, ns, features.HubQueryPayload(def.PayloadKey, ids...))
		if err != nil {
			return err
		}
		entries, err := features.PayloadEntries(raw, def.PayloadKey)
		if err != nil {
			return err
		}
		now := r.now()
		a := absorption{source: SourcePoll, ts: now, now: now}
		var (
			changes []Change
			online  []OnlineEvent
			unknown []string
			errs    []error
		)
		snap, err := r.mutate(uuid, func(d *Device) error {
			changes, online, unknown, errs = fanOutHub(d, ns, entries, a)
			return nil
		})
		if err != nil {
			return err
		}
		for _, id := range unknown {
			r.logger.Debug("hub poll entry for unknown sub-device dropped",
				"device", uuid, "subdevice", id, "namespace", ns)
		}
		r.finish(snap, a, changes, online, errs)
	}
	return nil
}

// ReadDND reports whether the status LED is suppressed.
func (r *Registry) ReadDND(ctx context.Context, uuid string) (bool, error) {
	d, err := r.initialized(uuid)
	if err != nil {
		return false, err
	}
	if !d.Features.Has(protocol.NamespaceSystemDND) {
		return false, merr.Unsupported(uuid, protocol.NamespaceSystemDND)
	}
	raw, err := r.exec.Execute(ctx, target(d), protocol.MethodGet, protocol.NamespaceSystemDND, nil)
	if err != nil {
		return false, err
	}
	return features.ParseDND(raw)
}

// SetDND turns the status LED suppression on or off.
func (r *Registry) SetDND(ctx context.Context, uuid string, on bool) error {
	d, err := r.initialized(uuid)
	if err != nil {
		return err
	}
	if !d.Features.Has(protocol.NamespaceSystemDND) {
		return merr.Unsupported(uuid, protocol.NamespaceSystemDND)
	}
	_, err = r.exec.Execute(ctx, target(d), protocol.MethodSet, protocol.NamespaceSystemDND, features.DNDPayload(on))
	return err
}

// ============================================================
// Shared plumbing
// ============================================================

// initialized resolves a snapshot and refuses shells that have not been
// brought up.
func (r *Registry) initialized(uuid string) (*Device, error) {
	d, err := r.Get(uuid)
	if err != nil {
		return nil, err
	}
	if !d.Initialized || d.Features == nil {
		return nil, merr.Unconnected(uuid, "device not initialized")
	}
	return d, nil
}

// featureDevice resolves the snapshot plus the primary definition for one
// feature family.
func (r *Registry) featureDevice(uuid, feature string) (*Device, *features.FeatureDef, error) {
	d, err := r.initialized(uuid)
	if err != nil {
		return nil, nil, err
	}
	def, ok := d.Features.Feature(feature)
	if !ok {
		return nil, nil, merr.Unsupported(uuid, feature)
	}
	return d, def, nil
}

func (r *Registry) subDeviceFor(hubUUID, id string) (*Device, *SubDevice, error) {
	d, err := r.initialized(hubUUID)
	if err != nil {
		return nil, nil, err
	}
	sd, ok := d.SubDevices[id]
	if !ok {
		return nil, nil, merr.NotFound("sub-device", id).WithDevice(hubUUID)
	}
	return d, sd, nil
}

// set issues a SET and, on success, folds the request entries back into the
// cached state.
func (r *Registry) set(ctx context.Context, d *Device, def *features.FeatureDef, payload any) error {
	if _, err := r.exec.Execute(ctx, target(d), protocol.MethodSet, def.Ability, payload); err != nil {
		return err
	}
	r.absorbEcho(d.UUID, def, payload)
	return nil
}

// absorbEcho reduces a successful SET's own payload into cached state, so
// invariant "cache reflects the latest mutation" holds without waiting for
// the follow-up push.
func (r *Registry) absorbEcho(uuid string, def *features.FeatureDef, payload any) {
	if def.Reduce == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	entries, err := features.PayloadEntries(body, def.PayloadKey)
	if err != nil || len(entries) == 0 {
		return
	}
	now := r.now()
	a := absorption{source: SourceResponse, ts: now, now: now}
	var (
		changes []Change
		online  []OnlineEvent
		errs    []error
	)
	snap, err := r.mutate(uuid, func(d *Device) error {
		if strings.HasPrefix(def.Ability, "Appliance.Hub.") {
			changes, online, _, errs = fanOutHub(d, def.Ability, entries, a)
		} else {
			changes, online, errs = reduceDevice(d, def, entries, a)
		}
		return nil
	})
	if err != nil {
		return
	}
	r.finish(snap, a, changes, online, errs)
}
