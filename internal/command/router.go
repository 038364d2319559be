package command

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/meross-core/internal/cloud"
	"github.com/nerrad567/meross-core/internal/infrastructure/config"
	"github.com/nerrad567/meross-core/internal/infrastructure/logging"
	"github.com/nerrad567/meross-core/internal/lan"
	"github.com/nerrad567/meross-core/internal/merr"
	"github.com/nerrad567/meross-core/internal/protocol"
	"github.com/nerrad567/meross-core/internal/session"
)

// cloudTransport is the broker path. Satisfied by *session.Session.
type cloudTransport interface {
	Request(ctx context.Context, deviceUUID string, msg *protocol.Message) (*protocol.Message, error)
}

// lanTransport is the direct HTTP path. Satisfied by *lan.Client.
type lanTransport interface {
	Post(ctx context.Context, deviceUUID, lanAddr string, msg *protocol.Message, cipher *protocol.DeviceCipher) (*protocol.Message, error)
}

// Target identifies where a command can be delivered. LANAddress is empty
// when the device has not reported a local IP; Cipher is non-nil only for
// firmwares that require encrypted LAN payloads.
type Target struct {
	DeviceUUID string
	LANAddress string
	Cipher     *protocol.DeviceCipher
}

// settings is the subset of configuration the router acts on.
type settings struct {
	mode       string
	timeout    time.Duration
	lanTimeout time.Duration
	budget     int
	cooldown   time.Duration
}

// Router selects a transport per request and applies the LAN error budget.
// All methods are safe for concurrent use.
type Router struct {
	settings

	cloud      cloudTransport
	lan        lanTransport
	key        string
	replyTopic string
	budgets    *budgetTable
	logger     *logging.Logger
}

// New builds a Router over an open session and a LAN client.
func New(cfg *config.Config, creds cloud.Credentials, sess *session.Session, lanClient *lan.Client, logger *logging.Logger) *Router {
	return newRouter(settings{
		mode:       cfg.Transport.Mode,
		timeout:    cfg.CommandTimeout(),
		lanTimeout: cfg.LANTimeout(),
		budget:     cfg.Transport.ErrorBudget,
		cooldown:   cfg.LANCooldown(),
	}, sess, lanClient, creds.Key, sess.ReplyTopic(), logger)
}

func newRouter(st settings, cloudT cloudTransport, lanT lanTransport, key, replyTopic string, logger *logging.Logger) *Router {
	if st.timeout <= 0 {
		st.timeout = 10 * time.Second
	}
	return &Router{
		settings:   st,
		cloud:      cloudT,
		lan:        lanT,
		key:        key,
		replyTopic: replyTopic,
		budgets:    newBudgetTable(st.budget, st.cooldown),
		logger:     logger,
	}
}

// Execute sends one command to the device and returns the reply payload.
// The transport mode, the device's LAN state, and the method decide the
// route. A context without a deadline gets the configured default timeout.
func (r *Router) Execute(ctx context.Context, target Target, method protocol.Method, namespace string, payload any) (json.RawMessage, error) {
	if target.DeviceUUID == "" {
		return nil, merr.Validation("deviceUuid", "device uuid is required")
	}
	if method != protocol.MethodGet && method != protocol.MethodSet {
		return nil, merr.Validation("method", "method must be GET or SET")
	}
	if namespace == "" {
		return nil, merr.Validation("namespace", "namespace is required")
	}

	timeout := r.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline).Round(time.Millisecond)
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if r.tryLAN(target, method) {
		reply, err := r.postLAN(ctx, target, method, namespace, payload)
		if err == nil {
			r.budgets.succeed(target.DeviceUUID)
			return reply.Payload, nil
		}
		if !r.settleLANFailure(target.DeviceUUID, method, err) {
			return nil, err
		}
		if ctx.Err() != nil {
			// The LAN attempt consumed the whole deadline.
			return nil, merr.CommandTimeout(target.DeviceUUID, timeout, merr.Command{
				Method:    string(method),
				Namespace: namespace,
			})
		}
		r.logger.Debug("falling back to cloud transport",
			"device_uuid", target.DeviceUUID,
			"namespace", namespace,
			"error", err)
	}

	reply, err := r.publishCloud(ctx, target, method, namespace, payload)
	if err != nil {
		return nil, err
	}
	return reply.Payload, nil
}

// Forget drops transport state for a device that left the registry.
func (r *Router) Forget(deviceUUID string) {
	r.budgets.forget(deviceUUID)
}

// LANStatus reports the remaining error budget and, when the budget is
// spent, the time LAN stays disabled until.
func (r *Router) LANStatus(deviceUUID string) (remaining int, disabledUntil time.Time) {
	return r.budgets.snapshot(deviceUUID)
}

// tryLAN decides whether the LAN path should be attempted first.
func (r *Router) tryLAN(target Target, method protocol.Method) bool {
	switch r.mode {
	case config.TransportModeLANFirst:
	case config.TransportModeLANFirstGet:
		if method != protocol.MethodGet {
			return false
		}
	default:
		return false
	}
	if target.LANAddress == "" {
		return false
	}

	ok, probe := r.budgets.allow(target.DeviceUUID)
	if probe {
		r.logger.Debug("probing lan after cooldown", "device_uuid", target.DeviceUUID)
	}
	return ok
}

// settleLANFailure updates the budget for a failed LAN attempt and reports
// whether falling back to the broker is allowed.
func (r *Router) settleLANFailure(deviceUUID string, method protocol.Method, err error) bool {
	if merr.IsKind(err, merr.KindCommandFailed) {
		// The device answered; the transport is healthy and the error is
		// final on any route.
		r.budgets.succeed(deviceUUID)
		return false
	}
	if merr.IsKind(err, merr.KindValidation) {
		return false
	}

	if remaining := r.budgets.fail(deviceUUID); remaining == 0 {
		r.logger.Warn("lan transport disabled for device",
			"device_uuid", deviceUUID,
			"cooldown", r.cooldown.String())
	}

	if method == protocol.MethodGet {
		return true
	}
	// A SET is retried only when nothing suggests the device processed it.
	return merr.IsKind(err, merr.KindNetworkTimeout) || merr.IsKind(err, merr.KindHTTPAPIError)
}

func (r *Router) postLAN(ctx context.Context, target Target, method protocol.Method, namespace string, payload any) (*protocol.Message, error) {
	msg, err := r.buildCommand(method, namespace, payload)
	if err != nil {
		return nil, err
	}

	// Bound the LAN attempt so a dead link leaves deadline for fallback.
	if r.lanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.lanTimeout)
		defer cancel()
	}
	return r.lan.Post(ctx, target.DeviceUUID, target.LANAddress, msg, target.Cipher)
}

func (r *Router) publishCloud(ctx context.Context, target Target, method protocol.Method, namespace string, payload any) (*protocol.Message, error) {
	msg, err := r.buildCommand(method, namespace, payload)
	if err != nil {
		return nil, err
	}
	return r.cloud.Request(ctx, target.DeviceUUID, msg)
}

// buildCommand signs a fresh envelope. Each attempt gets its own message ID
// so replies from an abandoned attempt can not match a later one.
func (r *Router) buildCommand(method protocol.Method, namespace string, payload any) (*protocol.Message, error) {
	msg, err := protocol.NewMessage(method, namespace, payload, r.key, r.replyTopic)
	if err != nil {
		return nil, merr.Validation("payload", err.Error())
	}
	return msg, nil
}

// Interface checks against the concrete transports.
var (
	_ cloudTransport = (*session.Session)(nil)
	_ lanTransport   = (*lan.Client)(nil)
)
