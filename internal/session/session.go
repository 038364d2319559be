package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/meross-core/internal/cloud"
	"github.com/nerrad567/meross-core/internal/infrastructure/config"
	"github.com/nerrad567/meross-core/internal/infrastructure/logging"
	"github.com/nerrad567/meross-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/meross-core/internal/merr"
	"github.com/nerrad567/meross-core/internal/protocol"
	"github.com/nerrad567/meross-core/internal/stats"
)

// broker is the slice of the MQTT client the session drives. *mqtt.Client
// satisfies it; tests substitute a fake.
type broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	PublishJSON(topic string, payload []byte) error
	IsConnected() bool
	Close() error
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
	SetLogger(logger mqtt.Logger)
}

// PushHandler receives device-originated traffic (PUSH and device-side SET)
// for fan-out to the registry.
type PushHandler func(deviceUUID string, msg *protocol.Message, raw []byte)

// RawObserver sees every attributed envelope crossing the session: outbound
// before encryption, inbound after decryption.
type RawObserver func(deviceUUID string, inbound bool, body []byte)

// pending is one command awaiting its ack.
type pending struct {
	ch         chan *protocol.Message
	deviceUUID string
	namespace  string
	method     protocol.Method
	cipher     *protocol.DeviceCipher
	sentAt     time.Time
}

// Session is the account's broker connection plus the reply correlation
// table. All methods are safe for concurrent use.
type Session struct {
	cfg    config.MQTTConfig
	conn   broker
	logger *logging.Logger
	stats  *stats.Recorder

	userID     string
	appID      string
	replyTopic string
	topics     protocol.Topics

	pendingMu sync.Mutex
	pending   map[string]*pending

	cipherMu sync.RWMutex
	ciphers  map[string]*protocol.DeviceCipher

	handlerMu  sync.RWMutex
	onPush     PushHandler
	onRaw      RawObserver
	onUp       func()
	onDown     func(err error)

	// connects counts broker connect callbacks; the first is the initial
	// connection, later ones are reconnects.
	connects atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

// Open connects to the account's broker and subscribes the reply topic.
//
// Broker identity derives entirely from the credentials: host is the
// account's mqttDomain on port 443, username the numeric user ID, password
// the MD5 digest of userId and key.
func Open(cfg config.MQTTConfig, creds cloud.Credentials, logger *logging.Logger, recorder *stats.Recorder) (*Session, error) {
	if creds.UserID == "" || creds.Key == "" || creds.MQTTDomain == "" {
		return nil, merr.New(merr.KindValidation, "credentials missing userId, key, or mqttDomain")
	}

	appID := protocol.NewAppID()
	conn, err := mqtt.Connect(cfg, mqtt.BrokerConfig{
		Host:     creds.MQTTDomain,
		Port:     protocol.BrokerPort,
		ClientID: protocol.ClientID(cfg.ClientPrefix, appID),
		Username: creds.UserID,
		Password: protocol.BrokerPassword(creds.UserID, creds.Key),
		TLS:      true,
	})
	if err != nil {
		return nil, merr.Wrap(merr.KindMQTTError, "connecting to "+creds.MQTTDomain, err)
	}

	s := newSession(conn, cfg, creds.UserID, appID, logger, recorder)
	if err := s.start(); err != nil {
		conn.Close() //nolint:errcheck // Connection is abandoned either way.
		return nil, err
	}
	return s, nil
}

// newSession wires a session onto an established broker connection.
func newSession(conn broker, cfg config.MQTTConfig, userID, appID string, logger *logging.Logger, recorder *stats.Recorder) *Session {
	if recorder == nil {
		recorder = stats.Disabled()
	}
	s := &Session{
		cfg:     cfg,
		conn:    conn,
		logger:  logger.With("component", "session"),
		stats:   recorder,
		userID:  userID,
		appID:   appID,
		pending: make(map[string]*pending),
		ciphers: make(map[string]*protocol.DeviceCipher),
		done:    make(chan struct{}),
	}
	s.replyTopic = s.topics.ClientReply(userID, appID)

	conn.SetLogger(s.logger)
	conn.SetOnConnect(s.handleBrokerUp)
	conn.SetOnDisconnect(s.handleBrokerDown)
	return s
}

func (s *Session) start() error {
	if err := s.conn.Subscribe(s.replyTopic, s.qos(), s.handleMessage); err != nil {
		return merr.Wrap(merr.KindMQTTError, "subscribing reply topic", err)
	}
	s.logger.Info("session established",
		"reply_topic", s.replyTopic,
		"client_id", protocol.ClientID(s.cfg.ClientPrefix, s.appID),
	)
	return nil
}

func (s *Session) qos() byte { return byte(s.cfg.QoS) }

// ReplyTopic is the per-client topic acks come back on. Outbound envelopes
// must carry it in header.from.
func (s *Session) ReplyTopic() string { return s.replyTopic }

// AppID identifies this broker session; one app ID maps to one client ID.
func (s *Session) AppID() string { return s.appID }

// UserID is the numeric account identifier the session authenticated with.
func (s *Session) UserID() string { return s.userID }

// IsConnected reports whether the broker link is up and the session open.
func (s *Session) IsConnected() bool {
	select {
	case <-s.done:
		return false
	default:
	}
	return s.conn.IsConnected()
}

// PendingCount reports commands awaiting replies.
func (s *Session) PendingCount() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// SubscribeDevice attaches the session to a device's publish topic. Called
// once per initialized device; the broker wrapper restores the subscription
// after a reconnect.
func (s *Session) SubscribeDevice(uuid string) error {
	if err := s.conn.Subscribe(s.topics.DevicePublish(uuid), s.qos(), s.handleMessage); err != nil {
		return merr.Wrap(merr.KindMQTTError, "subscribing device topic", err).WithDevice(uuid)
	}
	return nil
}

// UnsubscribeDevice detaches the session from a device's publish topic.
func (s *Session) UnsubscribeDevice(uuid string) error {
	if err := s.conn.Unsubscribe(s.topics.DevicePublish(uuid)); err != nil {
		return merr.Wrap(merr.KindMQTTError, "unsubscribing device topic", err).WithDevice(uuid)
	}
	return nil
}

// RegisterCipher arms payload encryption for a device. A nil cipher removes
// the registration.
func (s *Session) RegisterCipher(uuid string, c *protocol.DeviceCipher) {
	s.cipherMu.Lock()
	defer s.cipherMu.Unlock()
	if c == nil {
		delete(s.ciphers, uuid)
		return
	}
	s.ciphers[uuid] = c
}

func (s *Session) cipher(uuid string) *protocol.DeviceCipher {
	if uuid == "" {
		return nil
	}
	s.cipherMu.RLock()
	defer s.cipherMu.RUnlock()
	return s.ciphers[uuid]
}

// SetPushHandler installs the receiver for device-originated traffic.
// Register before subscribing device topics or early pushes are dropped.
func (s *Session) SetPushHandler(fn PushHandler) {
	s.handlerMu.Lock()
	s.onPush = fn
	s.handlerMu.Unlock()
}

// SetRawObserver installs a tap on attributed envelopes in both directions.
func (s *Session) SetRawObserver(fn RawObserver) {
	s.handlerMu.Lock()
	s.onRaw = fn
	s.handlerMu.Unlock()
}

// SetOnReconnect installs a callback fired after the broker link is
// re-established. The initial connection does not fire it.
func (s *Session) SetOnReconnect(fn func()) {
	s.handlerMu.Lock()
	s.onUp = fn
	s.handlerMu.Unlock()
}

// SetOnConnectionLost installs a callback fired when the broker link drops.
func (s *Session) SetOnConnectionLost(fn func(err error)) {
	s.handlerMu.Lock()
	s.onDown = fn
	s.handlerMu.Unlock()
}

// Request publishes a signed envelope to the device's command topic and
// waits for the matching ack.
//
// The caller owns the deadline through ctx. On expiry the pending entry is
// removed and COMMAND_TIMEOUT returned; explicit cancellation returns the
// context error without recording a reply. Device-reported failures map to
// COMMAND_FAILED.
func (s *Session) Request(ctx context.Context, deviceUUID string, msg *protocol.Message) (*protocol.Message, error) {
	select {
	case <-s.done:
		return nil, merr.Unconnected(deviceUUID, "session closed")
	default:
	}

	body, err := msg.Encode()
	if err != nil {
		return nil, err
	}

	var timeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline).Round(time.Millisecond)
	}

	ciph := s.cipher(deviceUUID)
	wire := body
	if ciph != nil {
		wire, err = ciph.WrapEncrypted(body)
		if err != nil {
			return nil, err
		}
	}

	p := &pending{
		ch:         make(chan *protocol.Message, 1),
		deviceUUID: deviceUUID,
		namespace:  msg.Header.Namespace,
		method:     msg.Header.Method,
		cipher:     ciph,
		sentAt:     time.Now(),
	}
	id := msg.Header.MessageID
	s.addPending(id, p)
	defer s.removePending(id)

	s.observeRaw(deviceUUID, false, body)

	if err := s.conn.PublishJSON(s.topics.DeviceSubscribe(deviceUUID), wire); err != nil {
		s.record(p, 0, true)
		if errors.Is(err, mqtt.ErrNotConnected) {
			return nil, merr.Unconnected(deviceUUID, "broker connection down")
		}
		return nil, merr.Wrap(merr.KindMQTTError, "publishing command", err).WithDevice(deviceUUID)
	}

	select {
	case reply := <-p.ch:
		if reply == nil {
			// Channel closed by FailPending: the device was removed
			// while this request was in flight.
			s.record(p, 0, true)
			return nil, merr.Unconnected(deviceUUID, "device removed")
		}
		s.record(p, time.Since(p.sentAt), false)
		if code, detail, failed := protocol.ReplyError(reply); failed {
			return nil, merr.CommandFailed(deviceUUID, code, detail)
		}
		return reply, nil

	case <-ctx.Done():
		s.record(p, 0, true)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, merr.CommandTimeout(deviceUUID, timeout, merr.Command{
				Method:    string(msg.Header.Method),
				Namespace: msg.Header.Namespace,
			})
		}
		return nil, ctx.Err()

	case <-s.done:
		return nil, merr.Unconnected(deviceUUID, "session closed")
	}
}

// FailPending settles every in-flight request addressed to deviceUUID with
// UNCONNECTED. The registry calls this when a device is removed so waiting
// callers do not run out their full command timeout.
func (s *Session) FailPending(deviceUUID string) int {
	s.pendingMu.Lock()
	failed := 0
	for id, p := range s.pending {
		if p.deviceUUID != deviceUUID {
			continue
		}
		delete(s.pending, id)
		close(p.ch)
		failed++
	}
	s.pendingMu.Unlock()
	if failed > 0 {
		s.logger.Debug("failed pending requests for removed device",
			"device", deviceUUID, "count", failed)
	}
	return failed
}

// Close tears the session down. Every in-flight Request settles immediately
// with UNCONNECTED before the broker connection is released.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		unanswered := s.PendingCount()
		close(s.done)
		s.conn.Close() //nolint:errcheck // Nothing recoverable at teardown.
		s.logger.Info("session closed", "unanswered", unanswered)
	})
	return nil
}

// handleMessage is the subscription callback for the reply topic and every
// device topic. Malformed traffic is logged and dropped; this path never
// reports an error back to the broker wrapper.
func (s *Session) handleMessage(topic string, payload []byte) error {
	deviceUUID := protocol.DeviceFromTopic(topic)

	body, err := protocol.UnwrapEncrypted(s.cipher(deviceUUID), payload)
	if err != nil {
		s.logger.Warn("dropping undecryptable message", "topic", topic, "error", err)
		return nil
	}

	msg, err := protocol.ParseMessage(body)
	if err != nil {
		if deviceUUID == "" {
			// Encrypted acks come back on the reply topic with no uuid in
			// the topic path; match them by trial decryption against the
			// ciphers of in-flight encrypted commands.
			msg, body = s.decryptPendingReply(payload)
		}
		if msg == nil {
			s.logger.Warn("dropping malformed message", "topic", topic, "error", err)
			return nil
		}
	}

	if deviceUUID == "" {
		deviceUUID = deviceOf(msg)
	}
	s.observeRaw(deviceUUID, true, body)

	if msg.Header.Method.IsAck() {
		if s.resolve(msg) {
			return nil
		}
		s.logger.Debug("unmatched ack dropped",
			"message_id", msg.Header.MessageID,
			"namespace", msg.Header.Namespace,
			"method", string(msg.Header.Method),
		)
		return nil
	}

	s.dispatchPush(deviceUUID, msg, body)
	return nil
}

// resolve hands an ack to its waiter. Reports false when no pending entry
// matches the messageId.
func (s *Session) resolve(msg *protocol.Message) bool {
	p := s.takePending(msg.Header.MessageID)
	if p == nil {
		return false
	}
	p.ch <- msg
	return true
}

// decryptPendingReply tries in-flight encrypted commands' ciphers against an
// unparseable reply-topic body. A decryption is accepted only when the
// resulting envelope's messageId is pending for the same device.
func (s *Session) decryptPendingReply(payload []byte) (*protocol.Message, []byte) {
	s.pendingMu.Lock()
	ciphers := make(map[string]*protocol.DeviceCipher)
	for _, p := range s.pending {
		if p.cipher != nil {
			ciphers[p.deviceUUID] = p.cipher
		}
	}
	s.pendingMu.Unlock()

	for uuid, c := range ciphers {
		body, err := protocol.UnwrapEncrypted(c, payload)
		if err != nil {
			continue
		}
		msg, err := protocol.ParseMessage(body)
		if err != nil {
			continue
		}
		if s.pendingDevice(msg.Header.MessageID) == uuid {
			return msg, body
		}
	}
	return nil, nil
}

func (s *Session) dispatchPush(deviceUUID string, msg *protocol.Message, raw []byte) {
	s.handlerMu.RLock()
	fn := s.onPush
	s.handlerMu.RUnlock()
	if fn == nil {
		s.logger.Debug("push received before handler registration", "namespace", msg.Header.Namespace)
		return
	}
	fn(deviceUUID, msg, raw)
}

func (s *Session) observeRaw(deviceUUID string, inbound bool, body []byte) {
	if deviceUUID == "" {
		return
	}
	s.handlerMu.RLock()
	fn := s.onRaw
	s.handlerMu.RUnlock()
	if fn != nil {
		fn(deviceUUID, inbound, body)
	}
}

func (s *Session) handleBrokerUp() {
	if s.connects.Add(1) == 1 {
		return
	}
	s.logger.Info("broker reconnected", "reply_topic", s.replyTopic)

	s.handlerMu.RLock()
	fn := s.onUp
	s.handlerMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (s *Session) handleBrokerDown(err error) {
	s.logger.Warn("broker connection lost", "error", err)

	s.handlerMu.RLock()
	fn := s.onDown
	s.handlerMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (s *Session) addPending(id string, p *pending) {
	s.pendingMu.Lock()
	s.pending[id] = p
	s.pendingMu.Unlock()
}

func (s *Session) removePending(id string) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

// takePending removes and returns the entry for id, or nil.
func (s *Session) takePending(id string) *pending {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	return p
}

func (s *Session) pendingDevice(id string) string {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if p, ok := s.pending[id]; ok {
		return p.deviceUUID
	}
	return ""
}

func (s *Session) record(p *pending, latency time.Duration, dropped bool) {
	s.stats.RecordMQTT(stats.MQTTSample{
		Namespace: p.namespace,
		Method:    string(p.method),
		Latency:   latency,
		Delayed:   !dropped && latency > stats.DelayedThreshold,
		Dropped:   dropped,
	})
}

// deviceOf attributes a message to a device when the topic alone cannot:
// replies carry the device's publish topic in header.from, and some
// firmwares only fill header.uuid.
func deviceOf(msg *protocol.Message) string {
	if uuid := protocol.DeviceFromTopic(msg.Header.From); uuid != "" {
		return uuid
	}
	return msg.Header.UUID
}
