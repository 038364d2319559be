// Package features maps device ability advertisements onto typed feature
// families: which namespaces a device understands, how their payloads are
// shaped on the wire, and how pushes and poll replies fold into per-channel
// state.
//
// A FeatureSet is composed once per (device type, hardware, firmware) triple
// from the ability map reported by Appliance.System.Ability. Extended
// namespaces shadow their base form, so a device advertising both Toggle and
// ToggleX exposes only the ToggleX surface. Hub sub-devices get a filtered
// set derived from their model type and the hub's own abilities.
//
// Reducers are pure: they take the previous channel state and one normalized
// payload entry and return the next state plus the field-level changes, so
// the caller owns locking, event emission, and the source attribution.
package features
