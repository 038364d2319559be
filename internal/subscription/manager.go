package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/meross-core/internal/device"
	"github.com/nerrad567/meross-core/internal/features"
	"github.com/nerrad567/meross-core/internal/infrastructure/config"
	"github.com/nerrad567/meross-core/internal/infrastructure/logging"
	"github.com/nerrad567/meross-core/internal/merr"
)

// Event names emitted by this package, on top of the registry's own
// state/deviceUpdate stream.
const (
	// EventConsumption carries a ConsumptionEvent after each consumption
	// poll. Daily history rows are not channel state, so they bypass the
	// reducer path and surface whole.
	EventConsumption = "consumption"

	// EventDeviceList carries a DeviceListEvent after each device list
	// poll that observed a difference.
	EventDeviceList = "deviceList"
)

// ConsumptionEvent is the payload of EventConsumption.
type ConsumptionEvent struct {
	DeviceUUID string                      `json:"deviceUuid"`
	Channel    int                         `json:"channel"`
	Entries    []features.ConsumptionEntry `json:"entries"`
	Timestamp  time.Time                   `json:"timestamp"`
}

// poller is the slice of the registry a subscription drives. *device.Registry
// satisfies it; tests substitute a fake.
type poller interface {
	Get(uuid string) (*device.Device, error)
	RefreshState(ctx context.Context, uuid string) error
	PollElectricity(ctx context.Context, uuid string, channel int) error
	PollHub(ctx context.Context, uuid string) error
	ReadConsumption(ctx context.Context, uuid string, channel int) ([]features.ConsumptionEntry, error)
}

// events is where ticks publish what they learned. *device.Emitter
// satisfies it.
type events interface {
	Emit(event string, payload any)
}

// Options configures one subscription. The zero value of an interval
// disables that poller.
type Options struct {
	StateInterval       time.Duration
	ElectricityInterval time.Duration
	ConsumptionInterval time.Duration
	SmartCaching        bool
	CacheMaxAge         time.Duration

	// PollTimeout bounds one tick's round trip.
	PollTimeout time.Duration
}

// defaultPollTimeout bounds a tick when the caller does not say otherwise.
const defaultPollTimeout = 10 * time.Second

// OptionsFromConfig lifts the configuration section into per-subscription
// defaults.
func OptionsFromConfig(cfg config.SubscriptionConfig, pollTimeout time.Duration) Options {
	return Options{
		StateInterval:       time.Duration(cfg.StateInterval) * time.Second,
		ElectricityInterval: time.Duration(cfg.ElectricityInterval) * time.Second,
		ConsumptionInterval: time.Duration(cfg.ConsumptionInterval) * time.Second,
		SmartCaching:        cfg.SmartCaching,
		CacheMaxAge:         time.Duration(cfg.CacheMaxAge) * time.Second,
		PollTimeout:         pollTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.PollTimeout <= 0 {
		o.PollTimeout = defaultPollTimeout
	}
	if o.CacheMaxAge <= 0 {
		o.CacheMaxAge = 10 * time.Second
	}
	return o
}

// sub is one subscribed device's ticker group.
type sub struct {
	uuid string
	opts Options
	stop chan struct{}
}

// Manager runs the per-device pollers and the device list watcher. All
// methods are safe for concurrent use.
type Manager struct {
	reg      poller
	emitter  events
	defaults Options
	logger   *logging.Logger

	mu       sync.Mutex
	subs     map[string]*sub
	watching bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a manager over the registry's polling surface. defaults
// apply to Subscribe; SubscribeWith overrides them per device.
func New(reg poller, emitter events, defaults Options, logger *logging.Logger) *Manager {
	return &Manager{
		reg:      reg,
		emitter:  emitter,
		defaults: defaults.withDefaults(),
		logger:   logger.With("component", "subscription"),
		subs:     make(map[string]*sub),
		done:     make(chan struct{}),
	}
}

// Subscribe starts the default pollers for one device. Subscribing an
// already subscribed device restarts it with the current defaults.
func (m *Manager) Subscribe(uuid string) error {
	return m.SubscribeWith(uuid, m.defaults)
}

// SubscribeWith starts pollers for one device with explicit options.
// Which tickers run depends on the device's features: every device gets
// the state poller, metering plugs get electricity and consumption, hubs
// get a child sweep on the state interval.
func (m *Manager) SubscribeWith(uuid string, opts Options) error {
	select {
	case <-m.done:
		return merr.New(merr.KindValidation, "subscription manager closed")
	default:
	}

	d, err := m.reg.Get(uuid)
	if err != nil {
		return err
	}
	opts = opts.withDefaults()

	m.mu.Lock()
	if old, ok := m.subs[uuid]; ok {
		close(old.stop)
	}
	s := &sub{uuid: uuid, opts: opts, stop: make(chan struct{})}
	m.subs[uuid] = s
	m.mu.Unlock()

	isHub := d.Features != nil && d.Features.IsHub()
	hasElectricity := d.Features != nil && func() bool {
		_, ok := d.Features.Feature(features.FeatureElectricity)
		return ok
	}()
	hasConsumption := d.Features != nil && func() bool {
		_, ok := d.Features.Feature(features.FeatureConsumption)
		return ok
	}()

	if opts.StateInterval > 0 {
		m.spawn(s, opts.StateInterval, m.stateTick(s, isHub))
	}
	if hasElectricity && opts.ElectricityInterval > 0 {
		m.spawn(s, opts.ElectricityInterval, m.electricityTick(s, d.Channels))
	}
	if hasConsumption && opts.ConsumptionInterval > 0 {
		m.spawn(s, opts.ConsumptionInterval, m.consumptionTick(s))
	}

	m.logger.Info("device subscribed",
		"device", uuid,
		"state_interval", opts.StateInterval,
		"smart_caching", opts.SmartCaching,
		"hub", isHub,
		"metered", hasElectricity,
	)
	return nil
}

// Unsubscribe stops the pollers for one device. Unknown devices are a
// no-op.
func (m *Manager) Unsubscribe(uuid string) {
	m.mu.Lock()
	s, ok := m.subs[uuid]
	if ok {
		delete(m.subs, uuid)
	}
	m.mu.Unlock()
	if ok {
		close(s.stop)
		m.logger.Info("device unsubscribed", "device", uuid)
	}
}

// Subscribed reports whether a device currently has pollers running.
func (m *Manager) Subscribed(uuid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[uuid]
	return ok
}

// Close stops every poller and the watcher, then waits for in-flight
// ticks to finish.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		for uuid, s := range m.subs {
			close(s.stop)
			delete(m.subs, uuid)
		}
		m.mu.Unlock()
		m.wg.Wait()
		m.logger.Info("subscription manager stopped")
	})
}

// spawn runs one ticker loop until the subscription or the manager stops.
func (m *Manager) spawn(s *sub, interval time.Duration, tick func(ctx context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.opts.PollTimeout)
				tick(ctx)
				cancel()
			case <-s.stop:
				return
			case <-m.done:
				return
			}
		}
	}()
}

// stateTick refreshes the full snapshot, and for hubs sweeps the children
// afterwards so sensor-only sub-devices do not go stale between pushes.
func (m *Manager) stateTick(s *sub, isHub bool) func(ctx context.Context) {
	return func(ctx context.Context) {
		if m.fresh(s, "") {
			return
		}
		if err := m.reg.RefreshState(ctx, s.uuid); err != nil {
			m.tickError(s.uuid, "poll state", err)
			return
		}
		if isHub {
			if err := m.reg.PollHub(ctx, s.uuid); err != nil {
				m.tickError(s.uuid, "poll hub", err)
			}
		}
	}
}

func (m *Manager) electricityTick(s *sub, channels []device.ChannelInfo) func(ctx context.Context) {
	return func(ctx context.Context) {
		if m.fresh(s, features.FeatureElectricity) {
			return
		}
		for _, ch := range channels {
			if err := m.reg.PollElectricity(ctx, s.uuid, ch.Index); err != nil {
				m.tickError(s.uuid, "poll electricity", err)
				return
			}
		}
	}
}

// consumptionTick never consults freshness: daily history is not channel
// state and no push refreshes it.
func (m *Manager) consumptionTick(s *sub) func(ctx context.Context) {
	return func(ctx context.Context) {
		entries, err := m.reg.ReadConsumption(ctx, s.uuid, 0)
		if err != nil {
			m.tickError(s.uuid, "poll consumption", err)
			return
		}
		m.emitter.Emit(EventConsumption, ConsumptionEvent{
			DeviceUUID: s.uuid,
			Channel:    0,
			Entries:    entries,
			Timestamp:  time.Now(),
		})
	}
}

// fresh reports whether the named section, or the whole state table when
// section is empty, was refreshed recently enough to skip this tick.
func (m *Manager) fresh(s *sub, section string) bool {
	if !s.opts.SmartCaching {
		return false
	}
	d, err := m.reg.Get(s.uuid)
	if err != nil {
		return false
	}
	var last time.Time
	if section == "" {
		last = d.StateUpdatedAt
		if d.LastFullUpdate.After(last) {
			last = d.LastFullUpdate
		}
	} else {
		last = d.FreshAt[section]
	}
	return !last.IsZero() && time.Since(last) < s.opts.CacheMaxAge
}

func (m *Manager) tickError(uuid, op string, err error) {
	m.logger.Warn("poll failed", "device", uuid, "op", op, "error", err)
	m.emitter.Emit(device.EventError, device.ErrorEvent{DeviceUUID: uuid, Op: op, Err: err})
}
