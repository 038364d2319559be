package lan

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/meross-core/internal/infrastructure/logging"
	"github.com/nerrad567/meross-core/internal/merr"
	"github.com/nerrad567/meross-core/internal/protocol"
	"github.com/nerrad567/meross-core/internal/stats"
)

// maxResponseSize caps a device reply. System.All on a hub with many
// sub-devices stays well under this.
const maxResponseSize = 1 << 20 // 1MB

// Client posts command envelopes to devices on the local network.
// Safe for concurrent use across devices.
type Client struct {
	http   *http.Client
	logger *logging.Logger
	stats  *stats.Recorder
}

// New returns a LAN client. A nil recorder disables sampling.
func New(logger *logging.Logger, recorder *stats.Recorder) *Client {
	if recorder == nil {
		recorder = stats.Disabled()
	}
	return &Client{
		// Device firmwares serve one request at a time; keep at most one
		// idle connection per device and let ctx own the deadline.
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 1,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		logger: logger.With("component", "lan"),
		stats:  recorder,
	}
}

// Post sends an envelope to the device's /config endpoint and returns the
// decoded reply.
//
// The ctx deadline is the transport deadline; on expiry NETWORK_TIMEOUT is
// returned so the router can count a LAN failure and fall back. A reply
// carrying a device-side rejection maps to COMMAND_FAILED, which the
// router must not retry over cloud.
func (c *Client) Post(ctx context.Context, deviceUUID, lanIP string, msg *protocol.Message, cipher *protocol.DeviceCipher) (*protocol.Message, error) {
	if lanIP == "" {
		return nil, merr.New(merr.KindValidation, "device has no LAN address").WithDevice(deviceUUID)
	}

	body, err := msg.Encode()
	if err != nil {
		return nil, err
	}
	wire := body
	if cipher != nil {
		wire, err = cipher.WrapEncrypted(body)
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+lanIP+"/config", bytes.NewReader(wire))
	if err != nil {
		return nil, merr.Wrap(merr.KindValidation, "building LAN request", err).WithDevice(deviceUUID)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(msg, 0, true)
		if isTimeout(err) {
			return nil, merr.NetworkTimeout("LAN request to "+lanIP+" timed out", err).WithDevice(deviceUUID)
		}
		return nil, merr.Wrap(merr.KindHTTPAPIError, "LAN request to "+lanIP+" failed", err).WithDevice(deviceUUID)
	}
	defer resp.Body.Close() //nolint:errcheck // Read side close.

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.record(msg, 0, true)
		if isTimeout(err) {
			return nil, merr.NetworkTimeout("LAN request to "+lanIP+" timed out", err).WithDevice(deviceUUID)
		}
		return nil, merr.Wrap(merr.KindHTTPAPIError, "reading LAN response", err).WithDevice(deviceUUID)
	}

	if resp.StatusCode != http.StatusOK {
		c.record(msg, 0, true)
		return nil, merr.HTTPFailure(resp.StatusCode).WithDevice(deviceUUID)
	}

	plain, err := protocol.UnwrapEncrypted(cipher, raw)
	if err != nil {
		c.record(msg, 0, true)
		return nil, merr.Wrap(merr.KindParseError, "decrypting LAN response", err).WithDevice(deviceUUID)
	}
	reply, err := protocol.ParseMessage(plain)
	if err != nil {
		c.record(msg, 0, true)
		return nil, merr.Wrap(merr.KindParseError, "parsing LAN response", err).WithDevice(deviceUUID)
	}

	c.record(msg, time.Since(start), false)

	if code, detail, failed := protocol.ReplyError(reply); failed {
		return nil, merr.CommandFailed(deviceUUID, code, detail)
	}
	return reply, nil
}

func (c *Client) record(msg *protocol.Message, latency time.Duration, dropped bool) {
	c.stats.RecordMQTT(stats.MQTTSample{
		Namespace: msg.Header.Namespace,
		Method:    string(msg.Header.Method),
		Latency:   latency,
		Delayed:   !dropped && latency > stats.DelayedThreshold,
		Dropped:   dropped,
	})
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
