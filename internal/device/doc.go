// Package device provides the device registry for Meross Core.
//
// The registry is the central catalogue of every appliance the account can
// reach. It owns device lifecycle from cloud discovery through broker
// bring-up, keeps the per-feature state cache that push notifications and
// polls reduce into, and fans hub traffic out to sub-devices.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────────┐
//	│                           Device Registry                            │
//	│                                                                      │
//	│  ┌────────────────┐   ┌────────────────┐   ┌──────────────────────┐  │
//	│  │    Registry    │   │    Absorb      │   │       Emitter        │  │
//	│  │ (registry.go)  │──▶│ (absorb.go)    │──▶│     (events.go)      │  │
//	│  │                │   │                │   │                      │  │
//	│  │ • Discover     │   │ • System.All   │   │ • state / online     │  │
//	│  │ • Initialize   │   │ • reducers     │   │ • deviceInitialized  │  │
//	│  │ • Get/List/Find│   │ • hub fan-out  │   │ • deviceUpdate       │  │
//	│  └────────────────┘   └────────────────┘   └──────────────────────┘  │
//	│          │                                            │              │
//	└──────────│────────────────────────────────────────────│──────────────┘
//	           │                                            │
//	           ▼                                            ▼
//	┌─────────────────────┐                     ┌──────────────────────────┐
//	│   Command Router    │                     │   History (SQLite)       │
//	│  (LAN first, MQTT)  │                     │   state_history table    │
//	└─────────────────────┘                     └──────────────────────────┘
//
// # Cache discipline
//
// Reads hand out deep-copied snapshots. Writes clone the stored device,
// mutate the clone, and swap it in whole under the registry lock, so a
// snapshot held by a caller never changes underneath them. Reducers are
// pure and run inside the critical section; events and history writes
// happen strictly after the lock is released, and no lock is ever held
// across I/O.
//
// # Key Types
//
//   - Device: one appliance with identity, network metadata, feature set,
//     and the per-feature per-channel state cache
//   - SubDevice: one hub child, addressed through its hub
//   - Change: one observed field transition, typed "feature.field"
//   - Emitter: the event bus (state, online, deviceUpdate and friends)
//
// # Usage
//
//	registry := device.NewRegistry(cloudClient, router, sess, creds.Key, log)
//	sess.SetPushHandler(registry.HandlePush)
//
//	if _, err := registry.Discover(ctx, device.DiscoverOptions{}); err != nil {
//	    return err
//	}
//	if err := registry.Initialize(ctx); err != nil {
//	    log.Warn("some devices failed to initialize", "error", err)
//	}
//
//	registry.Events().On(device.EventState, func(_ string, payload any) {
//	    change := payload.(device.Change)
//	    log.Info("state", "type", change.Type, "new", change.New)
//	})
//
//	if err := registry.TurnOn(ctx, uuid, 0); err != nil {
//	    return err
//	}
package device
