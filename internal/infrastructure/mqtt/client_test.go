package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/meross-core/internal/infrastructure/config"
)

func testMQTTConfig() config.MQTTConfig {
	return config.MQTTConfig{
		ClientPrefix:   "app",
		QoS:            1,
		KeepAlive:      30,
		ConnectTimeout: 10,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func testBroker() BrokerConfig {
	return BrokerConfig{
		Host:     "mqtt-eu-1.example.com",
		Port:     443,
		ClientID: "app-0123456789abcdef0123456789abcdef",
		Username: "98765",
		Password: "0123456789abcdef0123456789abcdef",
		TLS:      true,
	}
}

// =============================================================================
// Option Building Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testMQTTConfig()
	broker := testBroker()

	opts := buildClientOptions(cfg, broker)

	if len(opts.Servers) != 1 {
		t.Fatalf("len(Servers) = %d, want 1", len(opts.Servers))
	}
	url := opts.Servers[0].String()
	if url != "ssl://mqtt-eu-1.example.com:443" {
		t.Errorf("broker URL = %q, want ssl://mqtt-eu-1.example.com:443", url)
	}

	if opts.ClientID != broker.ClientID {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, broker.ClientID)
	}
	if opts.Username != broker.Username {
		t.Errorf("Username = %q, want %q", opts.Username, broker.Username)
	}
	if opts.Password != broker.Password {
		t.Errorf("Password not carried through")
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if opts.KeepAlive != 30 {
		t.Errorf("KeepAlive = %d, want 30", opts.KeepAlive)
	}
	if opts.TLSConfig == nil {
		t.Fatal("TLSConfig not set for TLS broker")
	}
}

func TestBuildClientOptions_PlainTCP(t *testing.T) {
	cfg := testMQTTConfig()
	broker := testBroker()
	broker.TLS = false
	broker.Port = 1883

	opts := buildClientOptions(cfg, broker)

	url := opts.Servers[0].String()
	if !strings.HasPrefix(url, "tcp://") {
		t.Errorf("broker URL = %q, want tcp:// scheme", url)
	}
	if opts.TLSConfig != nil {
		t.Error("TLSConfig set for plain TCP broker")
	}
}

func TestConnectTimeoutDefaults(t *testing.T) {
	cfg := testMQTTConfig()
	cfg.ConnectTimeout = 0
	if got := connectTimeout(cfg); got != defaultConnectTimeout {
		t.Errorf("connectTimeout = %v, want default %v", got, defaultConnectTimeout)
	}

	cfg.ConnectTimeout = 3
	if got := connectTimeout(cfg); got != 3*time.Second {
		t.Errorf("connectTimeout = %v, want 3s", got)
	}

	cfg.KeepAlive = 0
	if got := keepAlive(cfg); got != defaultKeepAlive {
		t.Errorf("keepAlive = %v, want default %v", got, defaultKeepAlive)
	}
}

// =============================================================================
// Validation Tests (no broker required)
// =============================================================================

// disconnectedClient returns a client that was never connected; IsConnected
// short-circuits on the tracked flag before touching the paho client.
func disconnectedClient() *Client {
	return &Client{
		cfg:           testMQTTConfig(),
		subscriptions: make(map[string]subscription),
	}
}

func TestPublishValidation(t *testing.T) {
	c := disconnectedClient()

	if err := c.Publish("", []byte("x"), 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("/appliance/x/subscribe", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}

	big := make([]byte, maxPayloadSize+1)
	if err := c.Publish("/appliance/x/subscribe", big, 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversized payload error = %v, want ErrPublishFailed", err)
	}

	if err := c.Publish("/appliance/x/subscribe", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := disconnectedClient()
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("/appliance/x/publish", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("/appliance/x/publish", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Subscribe("/appliance/x/publish", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v, want ErrNotConnected", err)
	}

	// Failed subscriptions must not be tracked.
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	c := disconnectedClient()

	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Unsubscribe("/appliance/x/publish"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v, want ErrNotConnected", err)
	}
}

func TestCloseNil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v, want nil", err)
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	c := disconnectedClient()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	c := disconnectedClient()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.HealthCheck(ctx); err == nil || errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want context error", err)
	}
}

// =============================================================================
// Handler Wrapping Tests
// =============================================================================

// recordingLogger captures log calls for assertions.
type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

// fakeMessage implements pahomqtt.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

var _ pahomqtt.Message = (*fakeMessage)(nil)

func TestWrapHandlerPanicRecovery(t *testing.T) {
	c := disconnectedClient()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	wrapped := c.wrapHandler(func(string, []byte) error {
		panic("boom")
	})

	// Must not propagate the panic.
	wrapped(nil, &fakeMessage{topic: "/appliance/x/publish", payload: []byte("{}")})

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.errors) != 1 {
		t.Fatalf("logged errors = %d, want 1", len(logger.errors))
	}
}

func TestWrapHandlerErrorLogged(t *testing.T) {
	c := disconnectedClient()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	wrapped := c.wrapHandler(func(string, []byte) error {
		return errors.New("handler failed")
	})

	wrapped(nil, &fakeMessage{topic: "/appliance/x/publish", payload: []byte("{}")})

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.warns) != 1 {
		t.Fatalf("logged warnings = %d, want 1", len(logger.warns))
	}
}

func TestWrapHandlerNoLogger(t *testing.T) {
	c := disconnectedClient()

	wrapped := c.wrapHandler(func(string, []byte) error {
		panic("boom")
	})

	// Panic recovery must work without a logger installed.
	wrapped(nil, &fakeMessage{topic: "/appliance/x/publish"})
}

func TestSetCallbacks(t *testing.T) {
	c := disconnectedClient()

	var connectCalled, disconnectCalled bool
	c.SetOnConnect(func() { connectCalled = true })
	c.SetOnDisconnect(func(error) { disconnectCalled = true })

	c.handleConnect()
	if !connectCalled {
		t.Error("onConnect callback not invoked")
	}
	if !c.connected {
		t.Error("handleConnect did not mark client connected")
	}

	c.handleDisconnect(errors.New("network down"))
	if !disconnectCalled {
		t.Error("onDisconnect callback not invoked")
	}
	if c.connected {
		t.Error("handleDisconnect did not mark client disconnected")
	}
}
