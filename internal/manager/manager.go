package manager

import (
	"context"
	"encoding/json"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/meross-core/internal/cloud"
	"github.com/nerrad567/meross-core/internal/command"
	"github.com/nerrad567/meross-core/internal/device"
	"github.com/nerrad567/meross-core/internal/infrastructure/config"
	"github.com/nerrad567/meross-core/internal/infrastructure/logging"
	"github.com/nerrad567/meross-core/internal/lan"
	"github.com/nerrad567/meross-core/internal/merr"
	"github.com/nerrad567/meross-core/internal/protocol"
	"github.com/nerrad567/meross-core/internal/session"
	"github.com/nerrad567/meross-core/internal/stats"
	"github.com/nerrad567/meross-core/internal/subscription"
)

// cloudAPI is the slice of the cloud client the manager keeps after
// construction. *cloud.Client satisfies it.
type cloudAPI interface {
	ListDevices(ctx context.Context) ([]cloud.DeviceDescriptor, error)
	ListSubDevices(ctx context.Context, hubUUID string) ([]cloud.SubDeviceDescriptor, error)
	Logout(ctx context.Context) error
}

// brokerSession is the session surface the manager and registry drive.
// *session.Session satisfies it.
type brokerSession interface {
	SubscribeDevice(uuid string) error
	UnsubscribeDevice(uuid string) error
	RegisterCipher(uuid string, c *protocol.DeviceCipher)
	FailPending(deviceUUID string) int
	SetPushHandler(fn session.PushHandler)
	SetRawObserver(fn session.RawObserver)
	SetOnReconnect(fn func())
	SetOnConnectionLost(fn func(err error))
	IsConnected() bool
	Close() error
}

// executor delivers commands. *command.Router satisfies it.
type executor interface {
	Execute(ctx context.Context, target command.Target, method protocol.Method, namespace string, payload any) (json.RawMessage, error)
	Forget(deviceUUID string)
}

// Manager is the process-wide handle over one account's runtime. All
// methods are safe for concurrent use.
type Manager struct {
	cfg    *config.Config
	logger *logging.Logger
	stats  *stats.Recorder

	cloud   cloudAPI
	creds   cloud.Credentials
	session brokerSession

	registry *device.Registry
	subs     *subscription.Manager

	closeOnce sync.Once
}

// Login authenticates with the configured account and brings the runtime
// up. The returned manager's Credentials should be persisted so later
// starts can use FromCredentials instead of spending another token.
func Login(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Manager, error) {
	rec := recorderFromConfig(cfg.Stats)
	cl := cloud.New(cfg.HTTP, cfg.Account.APIBaseURL, logger, rec)

	creds, err := cl.Login(ctx, cfg.Account.Email, cfg.Account.Password, cfg.Account.MFACode)
	if err != nil {
		return nil, err
	}
	cl.LogActivity(ctx, activityInfo())

	return open(cfg, cl, *creds, logger, rec)
}

// FromCredentials brings the runtime up over persisted credentials,
// skipping the password exchange. An expired token surfaces as
// TOKEN_EXPIRED on the first cloud call.
func FromCredentials(cfg *config.Config, creds *cloud.Credentials, logger *logging.Logger) (*Manager, error) {
	if creds == nil || creds.Token == "" || creds.Key == "" {
		return nil, merr.New(merr.KindValidation, "credentials missing token or key")
	}
	rec := recorderFromConfig(cfg.Stats)
	cl := cloud.New(cfg.HTTP, cfg.Account.APIBaseURL, logger, rec)
	cl.UseCredentials(creds)

	return open(cfg, cl, *creds, logger, rec)
}

// open connects the broker session and assembles the runtime over it.
func open(cfg *config.Config, cl *cloud.Client, creds cloud.Credentials, logger *logging.Logger, rec *stats.Recorder) (*Manager, error) {
	sess, err := session.Open(cfg.MQTT, creds, logger, rec)
	if err != nil {
		return nil, err
	}
	router := command.New(cfg, creds, sess, lan.New(logger, rec), logger)
	return assemble(cfg, creds, cl, sess, router, logger, rec), nil
}

// assemble wires the registry and subscription manager over the given
// transports. Split from open so tests can substitute fakes for the
// broker and router.
func assemble(cfg *config.Config, creds cloud.Credentials, cl cloudAPI, sess brokerSession, exec executor, logger *logging.Logger, rec *stats.Recorder) *Manager {
	m := &Manager{
		cfg:     cfg,
		logger:  logger.With("component", "manager"),
		stats:   rec,
		cloud:   cl,
		creds:   creds,
		session: sess,
	}
	m.registry = device.NewRegistry(cl, exec, sess, creds.Key, logger)
	m.subs = subscription.New(
		m.registry,
		m.registry.Events(),
		subscription.OptionsFromConfig(cfg.Subscription, cfg.CommandTimeout()),
		logger,
	)

	// Handlers before any device topic is subscribed, so the first push
	// already has somewhere to go.
	sess.SetPushHandler(m.registry.HandlePush)
	sess.SetRawObserver(m.registry.HandleRaw)
	sess.SetOnReconnect(m.handleReconnect)
	sess.SetOnConnectionLost(func(err error) {
		m.logger.Warn("broker link lost", "error", err)
	})
	return m
}

// Registry exposes the device registry: lookups, control operations, and
// direct Execute for namespaces without a typed helper.
func (m *Manager) Registry() *device.Registry { return m.registry }

// Events exposes the runtime's event bus.
func (m *Manager) Events() *device.Emitter { return m.registry.Events() }

// Stats exposes the sample recorder for windowed reports.
func (m *Manager) Stats() *stats.Recorder { return m.stats }

// Credentials returns the account credentials in use, for persistence.
func (m *Manager) Credentials() cloud.Credentials { return m.creds }

// IsConnected reports whether the broker link is up.
func (m *Manager) IsConnected() bool { return m.session.IsConnected() }

// SetHistory enables state change recording. Call before Initialize.
func (m *Manager) SetHistory(h device.HistoryRepository) { m.registry.SetHistory(h) }

// Discover pulls the account's device listing and registers shells.
func (m *Manager) Discover(ctx context.Context, opts device.DiscoverOptions) ([]cloud.DeviceDescriptor, error) {
	return m.registry.Discover(ctx, opts)
}

// Initialize brings the named devices, or all registered ones, online.
func (m *Manager) Initialize(ctx context.Context, uuids ...string) error {
	return m.registry.Initialize(ctx, uuids...)
}

// Devices returns snapshots of every registered device.
func (m *Manager) Devices() []*device.Device { return m.registry.List() }

// Device returns a snapshot of one device.
func (m *Manager) Device(uuid string) (*device.Device, error) { return m.registry.Get(uuid) }

// Subscribe starts the configured pollers for one device.
func (m *Manager) Subscribe(uuid string) error { return m.subs.Subscribe(uuid) }

// SubscribeWith starts pollers with explicit per-device options.
func (m *Manager) SubscribeWith(uuid string, opts subscription.Options) error {
	return m.subs.SubscribeWith(uuid, opts)
}

// Unsubscribe stops one device's pollers.
func (m *Manager) Unsubscribe(uuid string) { m.subs.Unsubscribe(uuid) }

// WatchDeviceList starts the cloud listing watcher at the configured
// interval.
func (m *Manager) WatchDeviceList() error {
	interval := time.Duration(m.cfg.Subscription.DeviceListInterval) * time.Second
	return m.subs.WatchDeviceList(m.cloud, interval)
}

// Logout invalidates the cloud token. Callers that persist credentials
// should delete the stored row afterwards; the token is dead either way.
func (m *Manager) Logout(ctx context.Context) error {
	return m.cloud.Logout(ctx)
}

// Close shuts the runtime down: pollers first, then the broker session so
// in-flight requests settle with UNCONNECTED. The cloud token is kept; see
// Logout.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.subs.Close()
		m.session.Close() //nolint:errcheck // Nothing recoverable at teardown.
		m.logger.Info("manager closed")
	})
	return nil
}

// handleReconnect runs after the broker link is re-established. Topic
// subscriptions are restored by the broker wrapper; state may have moved
// while the link was down, so every initialized device is refreshed in the
// background.
func (m *Manager) handleReconnect() {
	m.registry.Events().Emit(device.EventReconnect, nil)
	go m.refreshAfterReconnect()
}

func (m *Manager) refreshAfterReconnect() {
	for _, d := range m.registry.List() {
		if !d.Initialized {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CommandTimeout())
		err := m.registry.RefreshState(ctx, d.UUID)
		cancel()
		if err != nil {
			m.logger.Warn("post-reconnect refresh failed", "device", d.UUID, "error", err)
			m.registry.Events().Emit(device.EventError, device.ErrorEvent{
				DeviceUUID: d.UUID,
				Op:         "refresh after reconnect",
				Err:        err,
			})
		}
	}
}

func recorderFromConfig(cfg config.StatsConfig) *stats.Recorder {
	if !cfg.Enabled {
		return stats.Disabled()
	}
	return stats.New(cfg.Capacity)
}

// activityInfo is the client metadata posted once per login.
func activityInfo() cloud.ActivityInfo {
	return cloud.ActivityInfo{
		UUID:    uuid.NewString(),
		Vendor:  "meross",
		Model:   "generic",
		System:  runtime.GOOS,
		Version: runtime.Version(),
		Extra:   map[string]any{},
	}
}
