package device

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/meross-core/internal/cloud"
	"github.com/nerrad567/meross-core/internal/command"
	"github.com/nerrad567/meross-core/internal/features"
	"github.com/nerrad567/meross-core/internal/infrastructure/logging"
	"github.com/nerrad567/meross-core/internal/merr"
	"github.com/nerrad567/meross-core/internal/protocol"
)

// initConcurrency bounds how many devices initialize in parallel; each init
// costs two or three broker round trips.
const initConcurrency = 4

// historyTimeout bounds one state history write.
const historyTimeout = 2 * time.Second

// executor delivers one command to a device and returns the reply payload.
// Satisfied by *command.Router.
type executor interface {
	Execute(ctx context.Context, target command.Target, method protocol.Method, namespace string, payload any) (json.RawMessage, error)
	Forget(deviceUUID string)
}

// lister is the cloud discovery surface. Satisfied by *cloud.Client.
type lister interface {
	ListDevices(ctx context.Context) ([]cloud.DeviceDescriptor, error)
	ListSubDevices(ctx context.Context, hubUUID string) ([]cloud.SubDeviceDescriptor, error)
}

// pushSession is the broker-side surface the registry drives. Satisfied by
// *session.Session.
type pushSession interface {
	SubscribeDevice(uuid string) error
	UnsubscribeDevice(uuid string) error
	RegisterCipher(uuid string, c *protocol.DeviceCipher)
	FailPending(deviceUUID string) int
}

// Registry owns every known Device. Reads hand out deep copies; writes
// clone the stored entry, mutate the clone, and swap it in whole, so a
// snapshot handed to a caller never changes underneath them. Events and
// history writes happen strictly after the lock is released, and no lock is
// ever held across I/O.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device

	cloud   lister
	exec    executor
	session pushSession
	key     string

	emitter *Emitter
	history HistoryRepository
	logger  *logging.Logger
	now     func() time.Time
}

// NewRegistry wires the registry over its transports. The account key is
// needed to derive LAN ciphers for firmwares that demand encryption.
func NewRegistry(cloudClient lister, exec executor, sess pushSession, accountKey string, logger *logging.Logger) *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		cloud:   cloudClient,
		exec:    exec,
		session: sess,
		key:     accountKey,
		emitter: newEmitter(logger),
		logger:  logger,
		now:     time.Now,
	}
}

// Events exposes the registry's event bus.
func (r *Registry) Events() *Emitter { return r.emitter }

// SetHistory enables change recording. Call before the first push arrives;
// pass nil to disable.
func (r *Registry) SetHistory(h HistoryRepository) { r.history = h }

// ============================================================
// Discovery and initialization
// ============================================================

// DiscoverOptions narrow the cloud device listing.
type DiscoverOptions struct {
	OnlineOnly bool
	Types      []string
	UUIDs      []string
}

func (o DiscoverOptions) match(row cloud.DeviceDescriptor) bool {
	if o.OnlineOnly && !row.OnlineStatus.IsOnline() {
		return false
	}
	if len(o.Types) > 0 && !containsFold(o.Types, row.Type) {
		return false
	}
	if len(o.UUIDs) > 0 && !containsExact(o.UUIDs, row.UUID) {
		return false
	}
	return true
}

// Discover pulls the account's device list over HTTP and registers a shell
// entry per matching row. Shells carry descriptor metadata only; Initialize
// turns them into usable devices. Already known devices get their
// descriptor fields refreshed in place.
func (r *Registry) Discover(ctx context.Context, opts DiscoverOptions) ([]cloud.DeviceDescriptor, error) {
	rows, err := r.cloud.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	var kept []cloud.DeviceDescriptor
	for _, row := range rows {
		if !opts.match(row) {
			continue
		}
		if row.UUID == "" {
			r.logger.Warn("discovery row without uuid dropped", "name", row.Name)
			continue
		}
		kept = append(kept, row)
		r.upsertDescriptor(row)
	}
	r.logger.Info("device discovery complete", "listed", len(rows), "matched", len(kept))
	return kept, nil
}

func (r *Registry) upsertDescriptor(row cloud.DeviceDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.devices[row.UUID]
	if !ok {
		r.devices[row.UUID] = fromDescriptor(row, r.now())
		return
	}
	next := cur.DeepCopy()
	next.applyDescriptor(row, r.now())
	r.devices[row.UUID] = next
}

// Initialize brings the named devices, or every registered one when the
// list is empty, online in parallel. A device that fails keeps its shell
// and is reported both through the joined error and the error event, so one
// flaky plug cannot abort the rest of the fleet.
func (r *Registry) Initialize(ctx context.Context, uuids ...string) error {
	targets := uuids
	if len(targets) == 0 {
		targets = r.registeredUUIDs()
	}

	var g errgroup.Group
	g.SetLimit(initConcurrency)
	var errMu sync.Mutex
	var errs []error
	for _, uuid := range targets {
		uuid := uuid
		g.Go(func() error {
			if err := r.InitializeDevice(ctx, uuid); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
				r.emitError(uuid, "initialize", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (r *Registry) registeredUUIDs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.devices))
	for uuid := range r.devices {
		out = append(out, uuid)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// InitializeDevice runs the full bring-up for one device: subscribe to its
// topic, fetch the ability map, compose the feature set, absorb a full
// System.All snapshot, and for hubs enumerate children. Calling it again
// refreshes everything in place.
func (r *Registry) InitializeDevice(ctx context.Context, uuid string) error {
	shell, err := r.Get(uuid)
	if err != nil {
		return err
	}

	if err := r.session.SubscribeDevice(uuid); err != nil {
		return merr.Wrap(merr.KindInitializationFailed, "subscribing device topic", err).WithDevice(uuid)
	}

	tgt := target(shell)
	abilityRaw, err := r.exec.Execute(ctx, tgt, protocol.MethodGet, protocol.NamespaceSystemAbility, nil)
	if err != nil {
		return initFailed(uuid, "fetching ability map", err)
	}
	abilities, err := features.ParseAbilities(abilityRaw)
	if err != nil {
		return initFailed(uuid, "parsing ability map", err)
	}
	fs := features.ForDevice(shell.Type, shell.HardwareVersion, shell.FirmwareVersion, abilities)

	allRaw, err := r.exec.Execute(ctx, tgt, protocol.MethodGet, protocol.NamespaceSystemAll, nil)
	if err != nil {
		return initFailed(uuid, "fetching system snapshot", err)
	}
	sys, err := features.ParseSystemAll(allRaw)
	if err != nil {
		return initFailed(uuid, "parsing system snapshot", err)
	}

	var cipher *protocol.DeviceCipher
	if fs.RequiresEncryption() && sys.Hardware.MACAddress != "" && r.key != "" {
		cipher, err = protocol.NewDeviceCipher(uuid, r.key, sys.Hardware.MACAddress)
		if err != nil {
			return initFailed(uuid, "deriving lan cipher", err)
		}
	}

	var subs []subListing
	if fs.IsHub() {
		subs, err = r.fetchSubDevices(ctx, tgt)
		if err != nil {
			return initFailed(uuid, "enumerating sub-devices", err)
		}
	}

	now := r.now()
	a := absorption{source: SourceResponse, ts: now, now: now}
	var (
		changes []Change
		online  []OnlineEvent
		errs    []error
	)
	snap, err := r.mutate(uuid, func(d *Device) error {
		d.Abilities = abilities
		d.Features = fs
		d.EncryptionSupported = fs.RequiresEncryption()
		if cipher != nil {
			d.Cipher = cipher
		}
		changes, online, errs = absorbSystemAll(d, sys, a)
		if fs.IsHub() {
			_, _, subOnline := reconcileSubDevices(d, subs, a)
			online = append(online, subOnline...)
		}
		d.Initialized = true
		return nil
	})
	if err != nil {
		return err
	}
	if cipher != nil {
		r.session.RegisterCipher(uuid, cipher)
	}

	r.logger.Info("device initialized",
		"device", uuid,
		"type", snap.Type,
		"features", fs.Names(),
		"subdevices", len(snap.SubDevices),
		"online", snap.OnlineStatus.String())
	r.finish(snap, a, changes, online, errs)
	r.emitter.Emit(EventDeviceInitialized, snap.DeepCopy())
	return nil
}

// InitializeSubDevice makes sure one hub child is usable, bringing the hub
// itself up first when needed.
func (r *Registry) InitializeSubDevice(ctx context.Context, hubUUID, id string) error {
	hub, err := r.Get(hubUUID)
	if err != nil {
		return err
	}
	if !hub.Initialized {
		if err := r.InitializeDevice(ctx, hubUUID); err != nil {
			return err
		}
	}
	if _, err := r.SubDevice(hubUUID, id); err == nil {
		return nil
	}

	// Not in the cached listing; ask the hub again before giving up.
	if err := r.refreshSubDevices(ctx, hubUUID); err != nil {
		return err
	}
	_, err = r.SubDevice(hubUUID, id)
	return err
}

// fetchSubDevices asks the hub for its children, falling back to the cloud
// listing when the hub does not answer the namespace.
func (r *Registry) fetchSubDevices(ctx context.Context, tgt command.Target) ([]subListing, error) {
	raw, err := r.exec.Execute(ctx, tgt, protocol.MethodGet, protocol.NamespaceHubSubdeviceList, nil)
	if err == nil {
		infos, perr := features.ParseSubDeviceList(raw)
		if perr == nil {
			return wrapInfos(infos), nil
		}
		r.logger.Debug("subdevice list parse failed, trying cloud listing",
			"device", tgt.DeviceUUID, "error", perr)
	}

	rows, cerr := r.cloud.ListSubDevices(ctx, tgt.DeviceUUID)
	if cerr != nil {
		return nil, cerr
	}
	out := make([]subListing, len(rows))
	for i, row := range rows {
		out[i] = subListing{
			SubDeviceInfo: features.SubDeviceInfo{
				ID:     row.ID,
				Type:   row.Type,
				Status: features.OnlineStatusUnknown,
			},
			Name:   row.Name,
			IconID: row.IconID,
		}
	}
	return out, nil
}

func (r *Registry) refreshSubDevices(ctx context.Context, hubUUID string) error {
	hub, err := r.Get(hubUUID)
	if err != nil {
		return err
	}
	subs, err := r.fetchSubDevices(ctx, target(hub))
	if err != nil {
		return err
	}
	now := r.now()
	a := absorption{source: SourceResponse, ts: now, now: now}
	var online []OnlineEvent
	snap, err := r.mutate(hubUUID, func(d *Device) error {
		_, _, online = reconcileSubDevices(d, subs, a)
		return nil
	})
	if err != nil {
		return err
	}
	r.finish(snap, a, nil, online, nil)
	return nil
}

// Remove drops a device. In-flight requests settle with UNCONNECTED, the
// topic subscription and LAN budget go with it, and listeners get a
// deviceRemoved carrying the final snapshot. Removing a hub removes its
// children implicitly; they only exist inside it.
func (r *Registry) Remove(uuid string) error {
	r.mu.Lock()
	cur, ok := r.devices[uuid]
	if !ok {
		r.mu.Unlock()
		return merr.NotFound("device", uuid)
	}
	delete(r.devices, uuid)
	r.mu.Unlock()

	r.session.FailPending(uuid)
	if err := r.session.UnsubscribeDevice(uuid); err != nil {
		r.logger.Warn("unsubscribe on remove failed", "device", uuid, "error", err)
	}
	r.exec.Forget(uuid)
	r.logger.Info("device removed", "device", uuid)
	r.emitter.Emit(EventDeviceRemoved, cur.DeepCopy())
	return nil
}

// ============================================================
// Lookups
// ============================================================

// Get returns a deep-copied snapshot of one device.
func (r *Registry) Get(uuid string) (*Device, error) {
	r.mu.RLock()
	d, ok := r.devices[uuid]
	r.mu.RUnlock()
	if !ok {
		return nil, merr.NotFound("device", uuid)
	}
	return d.DeepCopy(), nil
}

// List returns snapshots of every registered device, ordered by uuid.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.DeepCopy())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}

// Filter narrows Find results. The zero value matches everything.
type Filter struct {
	Type       string // device model, matched case-insensitively
	Feature    string // feature family the device must expose
	OnlineOnly bool
}

func (f Filter) matches(d *Device) bool {
	if f.Type != "" && !strings.EqualFold(f.Type, d.Type) {
		return false
	}
	if f.OnlineOnly && !d.IsOnline() {
		return false
	}
	if f.Feature != "" {
		if d.Features == nil {
			return false
		}
		if _, ok := d.Features.Feature(f.Feature); !ok {
			return false
		}
	}
	return true
}

// Find returns snapshots of the devices matching the filter, ordered by
// uuid.
func (r *Registry) Find(f Filter) []*Device {
	all := r.List()
	out := all[:0]
	for _, d := range all {
		if f.matches(d) {
			out = append(out, d)
		}
	}
	return out
}

// SubDevice returns a deep-copied snapshot of one hub child.
func (r *Registry) SubDevice(hubUUID, id string) (*SubDevice, error) {
	r.mu.RLock()
	var sd *SubDevice
	if d, ok := r.devices[hubUUID]; ok {
		sd = d.SubDevices[id]
	}
	r.mu.RUnlock()
	if sd == nil {
		return nil, merr.NotFound("sub-device", id).WithDevice(hubUUID)
	}
	return sd.DeepCopy(), nil
}

// ============================================================
// Mutation plumbing
// ============================================================

// mutate runs fn on a private clone of the stored device and swaps the
// clone in. fn must not do I/O; an error from fn abandons the clone.
func (r *Registry) mutate(uuid string, fn func(d *Device) error) (*Device, error) {
	r.mu.Lock()
	cur, ok := r.devices[uuid]
	if !ok {
		r.mu.Unlock()
		return nil, merr.NotFound("device", uuid)
	}
	next := cur.DeepCopy()
	if err := fn(next); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.devices[uuid] = next
	r.mu.Unlock()
	return next, nil
}

// finish publishes one absorb batch: per-entry errors to the log, online
// transitions, per-field state events, history rows, and the rolled-up
// update event. Always called with no locks held.
func (r *Registry) finish(d *Device, a absorption, changes []Change, online []OnlineEvent, errs []error) {
	for _, err := range errs {
		r.logger.Warn("absorb error", "device", d.UUID, "error", err)
	}
	for _, ev := range online {
		r.emitter.Emit(EventOnline, ev)
		switch {
		case ev.Current.IsOnline():
			r.emitter.Emit(EventConnected, ev)
		case ev.Previous.IsOnline():
			r.emitter.Emit(EventDisconnected, ev)
		}
		r.record(Change{
			DeviceUUID:  ev.DeviceUUID,
			SubDeviceID: ev.SubDeviceID,
			Type:        features.FeatureOnline + ".status",
			Old:         ev.Previous.String(),
			New:         ev.Current.String(),
			Source:      a.source,
			Timestamp:   ev.Timestamp,
		})
	}
	for _, ch := range changes {
		r.emitter.Emit(EventState, ch)
		r.record(ch)
	}
	if len(changes) > 0 || a.source == SourcePoll {
		r.emitter.Emit(EventDeviceUpdate, UpdateEvent{
			DeviceUUID: d.UUID,
			Source:     a.source,
			Timestamp:  a.ts,
			State:      copyStates(d.States),
			Changes:    changes,
		})
	}
}

func (r *Registry) record(ch Change) {
	if r.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := r.history.RecordChange(ctx, ch); err != nil {
		r.logger.Warn("state history write failed",
			"device", ch.DeviceUUID, "type", ch.Type, "error", err)
	}
}

func (r *Registry) emitError(uuid, op string, err error) {
	r.emitter.Emit(EventError, ErrorEvent{DeviceUUID: uuid, Op: op, Err: err})
}

// target shapes a snapshot for the command router.
func target(d *Device) command.Target {
	return command.Target{DeviceUUID: d.UUID, LANAddress: d.LANIP, Cipher: d.Cipher}
}

func initFailed(uuid, step string, err error) error {
	if merr.IsKind(err, merr.KindInitializationFailed) {
		return err
	}
	return merr.Wrap(merr.KindInitializationFailed, step, err).WithDevice(uuid)
}

func containsExact(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}
