package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/meross-core/internal/device"
	"github.com/nerrad567/meross-core/internal/features"
	"github.com/nerrad567/meross-core/internal/infrastructure/logging"
	"github.com/nerrad567/meross-core/internal/merr"
	"github.com/nerrad567/meross-core/internal/protocol"
)

// fakeRegistry counts poll calls and plays back a mutable device snapshot.
type fakeRegistry struct {
	mu          sync.Mutex
	device      *device.Device
	refreshes   int
	hubPolls    int
	elecPolls   []int
	consumption []features.ConsumptionEntry
	refreshErr  error
}

func (f *fakeRegistry) Get(uuid string) (*device.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.device == nil || f.device.UUID != uuid {
		return nil, merr.NotFound("device", uuid)
	}
	return f.device.DeepCopy(), nil
}

func (f *fakeRegistry) RefreshState(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return f.refreshErr
	}
	f.refreshes++
	f.device.StateUpdatedAt = time.Now()
	f.device.LastFullUpdate = f.device.StateUpdatedAt
	return nil
}

func (f *fakeRegistry) PollElectricity(_ context.Context, _ string, channel int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elecPolls = append(f.elecPolls, channel)
	if f.device.FreshAt == nil {
		f.device.FreshAt = make(map[string]time.Time)
	}
	f.device.FreshAt[features.FeatureElectricity] = time.Now()
	return nil
}

func (f *fakeRegistry) PollHub(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hubPolls++
	return nil
}

func (f *fakeRegistry) ReadConsumption(_ context.Context, _ string, _ int) ([]features.ConsumptionEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consumption, nil
}

func (f *fakeRegistry) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func (f *fakeRegistry) markFresh(at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.device.StateUpdatedAt = at
	f.device.LastFullUpdate = at
}

// captureEmitter records everything the manager publishes.
type captureEmitter struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	name    string
	payload any
}

func (c *captureEmitter) Emit(event string, payload any) {
	c.mu.Lock()
	c.events = append(c.events, capturedEvent{name: event, payload: payload})
	c.mu.Unlock()
}

func (c *captureEmitter) byName(name string) []capturedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []capturedEvent
	for _, ev := range c.events {
		if ev.name == name {
			out = append(out, ev)
		}
	}
	return out
}

func plugDevice(uuid string, abilities ...string) *device.Device {
	return &device.Device{
		UUID:        uuid,
		Type:        "mss310",
		Channels:    []device.ChannelInfo{{Index: 0, IsMaster: true}},
		Initialized: true,
		Features:    features.Compose(abilities),
	}
}

func newTestManager(reg poller, emitter events, opts Options) *Manager {
	return New(reg, emitter, opts, logging.Default())
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestSubscribePollsState(t *testing.T) {
	reg := &fakeRegistry{device: plugDevice("dev-1", protocol.NamespaceToggleX)}
	emitter := &captureEmitter{}
	m := newTestManager(reg, emitter, Options{
		StateInterval: 20 * time.Millisecond,
		PollTimeout:   time.Second,
	})
	defer m.Close()

	if err := m.Subscribe("dev-1"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !m.Subscribed("dev-1") {
		t.Fatal("Subscribed() = false after Subscribe()")
	}

	if !waitUntil(t, time.Second, func() bool { return reg.refreshCount() >= 2 }) {
		t.Fatalf("expected repeated state polls, got %d", reg.refreshCount())
	}
}

func TestSubscribeUnknownDevice(t *testing.T) {
	reg := &fakeRegistry{device: plugDevice("dev-1", protocol.NamespaceToggleX)}
	m := newTestManager(reg, &captureEmitter{}, Options{StateInterval: 20 * time.Millisecond})
	defer m.Close()

	if err := m.Subscribe("missing"); !merr.IsKind(err, merr.KindNotFound) {
		t.Fatalf("Subscribe() error = %v, want NOT_FOUND", err)
	}
}

// Smart caching: while the snapshot stays younger than the maximum age no
// poll goes out; once freshness stops moving, a poll occurs within one
// interval plus the maximum age.
func TestSmartCachingSuppressesPolls(t *testing.T) {
	reg := &fakeRegistry{device: plugDevice("dev-1", protocol.NamespaceToggleX)}
	emitter := &captureEmitter{}
	m := newTestManager(reg, emitter, Options{
		StateInterval: 25 * time.Millisecond,
		SmartCaching:  true,
		CacheMaxAge:   150 * time.Millisecond,
		PollTimeout:   time.Second,
	})
	defer m.Close()

	// Simulated pushes: keep the snapshot fresh for a while.
	stopPushes := make(chan struct{})
	var pushWG sync.WaitGroup
	pushWG.Add(1)
	go func() {
		defer pushWG.Done()
		ticker := time.NewTicker(30 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				reg.markFresh(time.Now())
			case <-stopPushes:
				return
			}
		}
	}()

	reg.markFresh(time.Now())
	if err := m.Subscribe("dev-1"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if got := reg.refreshCount(); got != 0 {
		t.Errorf("polls while pushes flowing = %d, want 0", got)
	}

	close(stopPushes)
	pushWG.Wait()

	// Poll must arrive within StateInterval + CacheMaxAge of the last push.
	if !waitUntil(t, 400*time.Millisecond, func() bool { return reg.refreshCount() >= 1 }) {
		t.Fatal("no poll after pushes stopped")
	}
}

func TestElectricityAndConsumptionPolls(t *testing.T) {
	reg := &fakeRegistry{
		device: plugDevice("dev-1",
			protocol.NamespaceToggleX,
			protocol.NamespaceElectricity,
			protocol.NamespaceConsumptionX,
		),
		consumption: []features.ConsumptionEntry{{Date: "2026-08-25", Value: 1234}},
	}
	emitter := &captureEmitter{}
	m := newTestManager(reg, emitter, Options{
		ElectricityInterval: 20 * time.Millisecond,
		ConsumptionInterval: 20 * time.Millisecond,
		PollTimeout:         time.Second,
	})
	defer m.Close()

	if err := m.Subscribe("dev-1"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if !waitUntil(t, time.Second, func() bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		return len(reg.elecPolls) >= 1
	}) {
		t.Fatal("no electricity poll")
	}

	if !waitUntil(t, time.Second, func() bool {
		return len(emitter.byName(EventConsumption)) >= 1
	}) {
		t.Fatal("no consumption event")
	}
	ev := emitter.byName(EventConsumption)[0].payload.(ConsumptionEvent)
	if ev.DeviceUUID != "dev-1" || len(ev.Entries) != 1 {
		t.Errorf("consumption event = %+v", ev)
	}
}

func TestHubSweepOnStateTick(t *testing.T) {
	hub := &device.Device{
		UUID:        "hub-1",
		Type:        "msh300",
		Channels:    []device.ChannelInfo{{Index: 0, IsMaster: true}},
		Initialized: true,
		Features: features.Compose([]string{
			protocol.NamespaceHubSubdeviceList,
			protocol.NamespaceHubSensorAll,
		}),
	}
	reg := &fakeRegistry{device: hub}
	m := newTestManager(reg, &captureEmitter{}, Options{
		StateInterval: 20 * time.Millisecond,
		PollTimeout:   time.Second,
	})
	defer m.Close()

	if err := m.Subscribe("hub-1"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if !waitUntil(t, time.Second, func() bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		return reg.hubPolls >= 1
	}) {
		t.Fatal("no hub sweep after state tick")
	}
}

func TestPollErrorForwarded(t *testing.T) {
	reg := &fakeRegistry{device: plugDevice("dev-1", protocol.NamespaceToggleX)}
	reg.refreshErr = merr.Unconnected("dev-1", "broker connection down")
	emitter := &captureEmitter{}
	m := newTestManager(reg, emitter, Options{
		StateInterval: 20 * time.Millisecond,
		PollTimeout:   time.Second,
	})
	defer m.Close()

	if err := m.Subscribe("dev-1"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if !waitUntil(t, time.Second, func() bool {
		return len(emitter.byName(device.EventError)) >= 1
	}) {
		t.Fatal("poll failure did not surface as an error event")
	}
	ev := emitter.byName(device.EventError)[0].payload.(device.ErrorEvent)
	if ev.DeviceUUID != "dev-1" || !merr.IsKind(ev.Err, merr.KindUnconnected) {
		t.Errorf("error event = %+v", ev)
	}
}

func TestUnsubscribeStopsPolling(t *testing.T) {
	reg := &fakeRegistry{device: plugDevice("dev-1", protocol.NamespaceToggleX)}
	m := newTestManager(reg, &captureEmitter{}, Options{
		StateInterval: 15 * time.Millisecond,
		PollTimeout:   time.Second,
	})
	defer m.Close()

	if err := m.Subscribe("dev-1"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	waitUntil(t, time.Second, func() bool { return reg.refreshCount() >= 1 })

	m.Unsubscribe("dev-1")
	if m.Subscribed("dev-1") {
		t.Error("Subscribed() = true after Unsubscribe()")
	}

	settled := reg.refreshCount()
	time.Sleep(100 * time.Millisecond)
	if got := reg.refreshCount(); got > settled+1 {
		t.Errorf("polls continued after Unsubscribe: %d -> %d", settled, got)
	}
}

func TestCloseStopsEverything(t *testing.T) {
	reg := &fakeRegistry{device: plugDevice("dev-1", protocol.NamespaceToggleX)}
	m := newTestManager(reg, &captureEmitter{}, Options{
		StateInterval: 15 * time.Millisecond,
		PollTimeout:   time.Second,
	})

	if err := m.Subscribe("dev-1"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	m.Close()
	m.Close() // idempotent

	if err := m.Subscribe("dev-1"); err == nil {
		t.Error("Subscribe() after Close() should fail")
	}

	settled := reg.refreshCount()
	time.Sleep(80 * time.Millisecond)
	if got := reg.refreshCount(); got != settled {
		t.Errorf("polls continued after Close: %d -> %d", settled, got)
	}
}

func TestResubscribeReplacesOptions(t *testing.T) {
	reg := &fakeRegistry{device: plugDevice("dev-1", protocol.NamespaceToggleX)}
	m := newTestManager(reg, &captureEmitter{}, Options{
		StateInterval: 15 * time.Millisecond,
		PollTimeout:   time.Second,
	})
	defer m.Close()

	if err := m.Subscribe("dev-1"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	// Re-subscribing with polling disabled must stop the old tickers.
	if err := m.SubscribeWith("dev-1", Options{PollTimeout: time.Second}); err != nil {
		t.Fatalf("SubscribeWith() error = %v", err)
	}

	settled := reg.refreshCount()
	time.Sleep(80 * time.Millisecond)
	if got := reg.refreshCount(); got > settled+1 {
		t.Errorf("old tickers survived resubscribe: %d -> %d", settled, got)
	}
}
