package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/meross-core/internal/infrastructure/config"
	"github.com/nerrad567/meross-core/internal/infrastructure/logging"
	"github.com/nerrad567/meross-core/internal/merr"
	"github.com/nerrad567/meross-core/internal/protocol"
	"github.com/nerrad567/meross-core/internal/stats"
)

// Vendor API endpoints.
const (
	pathLogin         = "/v1/Auth/signIn"
	pathDevList       = "/v1/Device/devList"
	pathGetSubDevices = "/v1/Hub/getSubDevices"
	pathLogout        = "/v1/Profile/logout"
	pathLogUser       = "/log/user"
)

// API status values handled structurally rather than via the error table.
const (
	apiStatusOK       = 0
	apiStatusRedirect = 1030
)

// Headers the vendor API expects on every request. The header name "vender"
// is the vendor's own spelling.
const (
	headerVender = "meross"
	appType      = "MerossIOT"
	appVersion   = "1.3.0"
	appLanguage  = "EN"
	userAgent    = "okhttp/3.6.0"
)

// Client is the signed HTTP client for the vendor REST API.
//
// The API and MQTT domains are mutable because apiStatus 1030 responses can
// redirect the account to a different region mid-session; both domains are
// always updated together.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	cfg     config.HTTPConfig
	logger  *logging.Logger
	stats   *stats.Recorder
	http    *http.Client
	timeout time.Duration

	mu         sync.RWMutex
	baseURL    string
	mqttDomain string
	token      string
}

// New creates a Client pointed at baseURL. The recorder may be
// stats.Disabled() when sampling is off but must not be nil.
func New(cfg config.HTTPConfig, baseURL string, logger *logging.Logger, recorder *stats.Recorder) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second

	return &Client{
		cfg:     cfg,
		logger:  logger.With("component", "cloud"),
		stats:   recorder,
		http:    &http.Client{},
		timeout: timeout,
		baseURL: normalizeBaseURL(baseURL),
	}
}

// UseCredentials installs previously persisted credentials so that API calls
// authenticate without a fresh login.
func (c *Client) UseCredentials(creds *Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = creds.Token
	if creds.HTTPDomain != "" {
		c.baseURL = normalizeBaseURL(creds.HTTPDomain)
	}
	if creds.MQTTDomain != "" {
		c.mqttDomain = creds.MQTTDomain
	}
}

// BaseURL returns the current API base URL (scheme included).
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// MQTTDomain returns the broker host learned from login or a redirect.
// Empty until either has happened.
func (c *Client) MQTTDomain() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttDomain
}

// Login authenticates with the vendor API and returns the account
// credentials. The password is MD5-hashed before it goes on the wire, as the
// API requires. An empty mfaCode is valid for accounts without MFA; accounts
// that need one fail with MFA_REQUIRED until it is supplied.
func (c *Client) Login(ctx context.Context, email, password, mfaCode string) (*Credentials, error) {
	if email == "" {
		return nil, merr.Validation("email", "email is required")
	}
	if password == "" {
		return nil, merr.Validation("password", "password is required")
	}

	params := loginParams{
		Email:      email,
		Password:   protocol.MD5Hex(password),
		MFACode:    mfaCode,
		Encryption: 1,
		Agree:      0,
		MobileInfo: defaultMobileInfo(),
	}

	var data loginData
	if err := c.call(ctx, pathLogin, params, &data); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.token = data.Token
	if data.Domain != "" {
		c.baseURL = normalizeBaseURL(data.Domain)
	}
	if data.MQTTDomain != "" {
		c.mqttDomain = data.MQTTDomain
	}
	baseURL := c.baseURL
	mqttDomain := c.mqttDomain
	c.mu.Unlock()

	creds := &Credentials{
		Token:      data.Token,
		Key:        data.Key,
		UserID:     data.UserID,
		UserEmail:  data.Email,
		HTTPDomain: baseURL,
		MQTTDomain: mqttDomain,
		IssuedAt:   time.Now().UTC(),
	}

	c.logger.Info("logged in",
		"user_id", creds.UserID,
		"api_domain", baseURL,
		"mqtt_domain", mqttDomain,
	)

	return creds, nil
}

// ListDevices fetches every device bound to the account.
func (c *Client) ListDevices(ctx context.Context) ([]DeviceDescriptor, error) {
	var devices []DeviceDescriptor
	if err := c.call(ctx, pathDevList, struct{}{}, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// ListSubDevices fetches the sub-devices paired to the given hub.
func (c *Client) ListSubDevices(ctx context.Context, hubUUID string) ([]SubDeviceDescriptor, error) {
	if hubUUID == "" {
		return nil, merr.Validation("hubUuid", "hub uuid is required")
	}

	params := struct {
		UUID string `json:"uuid"`
	}{UUID: hubUUID}

	var subs []SubDeviceDescriptor
	if err := c.call(ctx, pathGetSubDevices, params, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// Logout invalidates the session token. The local token is dropped only
// after the API accepted the call.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.call(ctx, pathLogout, struct{}{}, nil); err != nil {
		return err
	}

	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()

	c.logger.Info("logged out")
	return nil
}

// LogActivity posts client telemetry to /log/user. It is fire-and-forget:
// any failure is logged at debug and swallowed, and the call is skipped
// entirely when disabled in config.
func (c *Client) LogActivity(ctx context.Context, info ActivityInfo) {
	if !c.cfg.LogActivity {
		return
	}
	if info.Extra == nil {
		info.Extra = map[string]any{}
	}

	if err := c.call(ctx, pathLogUser, info, nil); err != nil {
		c.logger.Debug("activity log failed", "error", err)
	}
}

// call posts params to path and decodes the envelope's data field into out
// (skipped when out is nil). The default timeout applies when the caller's
// context has no deadline of its own.
func (c *Client) call(ctx context.Context, path string, params, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	data, err := c.post(ctx, path, params)
	if err != nil {
		return err
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return merr.Wrap(merr.KindParseError, "decoding "+path+" response data", err)
	}
	return nil
}

// post runs the request, following region redirects up to the configured
// cap. Each retry re-signs the request against the updated domain.
func (c *Client) post(ctx context.Context, path string, params any) (json.RawMessage, error) {
	for attempt := 0; ; attempt++ {
		data, err := c.postOnce(ctx, path, params)
		if err == nil {
			return data, nil
		}

		apiErr, ok := merr.FromError(err)
		if !ok || apiErr.Kind != merr.KindBadDomain {
			return nil, err
		}
		if !c.cfg.AutoRedirect || attempt >= c.cfg.MaxRedirects || apiErr.APIDomain == "" {
			return nil, err
		}

		c.applyRedirect(apiErr.APIDomain, apiErr.MQTTDomain)
		c.logger.Info("following API domain redirect",
			"api_domain", apiErr.APIDomain,
			"mqtt_domain", apiErr.MQTTDomain,
			"attempt", attempt+1,
		)
	}
}

// postOnce performs a single signed POST and interprets the response
// envelope. apiStatus 1030 comes back as a BAD_DOMAIN error carrying the
// replacement domains for post to act on.
func (c *Client) postOnce(ctx context.Context, path string, params any) (json.RawMessage, error) {
	body, err := c.signedBody(params)
	if err != nil {
		return nil, err
	}

	url := c.BaseURL() + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, merr.Wrap(merr.KindHTTPAPIError, "building request for "+path, err)
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		c.record(url, 0, -1, latency)
		if isTimeout(err) {
			return nil, merr.NetworkTimeout("request to "+path+" timed out", err)
		}
		return nil, merr.Wrap(merr.KindHTTPAPIError, "request to "+path+" failed", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-side close

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.record(url, resp.StatusCode, -1, latency)
		return nil, merr.Wrap(merr.KindHTTPAPIError, "reading response from "+path, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.record(url, resp.StatusCode, -1, latency)
		return nil, merr.HTTPFailure(resp.StatusCode)
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.record(url, resp.StatusCode, -1, latency)
		return nil, merr.Wrap(merr.KindParseError, "decoding response envelope from "+path, err)
	}

	c.record(url, resp.StatusCode, envelope.APIStatus, latency)

	switch envelope.APIStatus {
	case apiStatusOK:
		return envelope.Data, nil
	case apiStatusRedirect:
		var rd redirectData
		_ = json.Unmarshal(envelope.Data, &rd) //nolint:errcheck // Absent data leaves both domains empty
		return nil, merr.BadDomain(rd.Domain, rd.MQTTDomain)
	default:
		return nil, apiError(envelope.APIStatus, envelope.Info)
	}
}

// signedBody wraps params in the vendor envelope:
// {params: base64(JSON), sign: MD5(secret||ts||nonce||params), timestamp, nonce}.
func (c *Client) signedBody(params any) ([]byte, error) {
	encoded, err := protocol.EncodeParams(params)
	if err != nil {
		return nil, merr.Wrap(merr.KindParseError, "encoding request params", err)
	}

	timestamp := time.Now().UnixMilli()
	nonce := protocol.Nonce()

	body := requestEnvelope{
		Params:    encoded,
		Sign:      protocol.SignParams(timestamp, nonce, encoded),
		Timestamp: timestamp,
		Nonce:     nonce,
	}
	return json.Marshal(body)
}

func (c *Client) setHeaders(req *http.Request) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	req.Header.Set("Authorization", "Basic "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("vender", headerVender)
	req.Header.Set("AppVersion", appVersion)
	req.Header.Set("AppType", appType)
	req.Header.Set("AppLanguage", appLanguage)
	req.Header.Set("User-Agent", userAgent)
}

// applyRedirect updates both domains under one lock so no request observes
// the API domain from one region and the MQTT domain from another.
func (c *Client) applyRedirect(apiDomain, mqttDomain string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.baseURL = normalizeBaseURL(apiDomain)
	if mqttDomain != "" {
		c.mqttDomain = mqttDomain
	}
}

func (c *Client) record(url string, httpStatus, apiStatus int, latency time.Duration) {
	c.stats.RecordHTTP(stats.HTTPSample{
		URL:        url,
		Method:     http.MethodPost,
		HTTPStatus: httpStatus,
		APIStatus:  apiStatus,
		Latency:    latency,
	})
}

// normalizeBaseURL turns a bare domain from the API into a usable base URL.
// Redirect payloads carry "iotx-eu.meross.com" style hosts without a scheme.
func normalizeBaseURL(domain string) string {
	domain = strings.TrimSuffix(domain, "/")
	if strings.Contains(domain, "://") {
		return domain
	}
	return "https://" + domain
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// requestEnvelope is the signed wire form of every API request body.
type requestEnvelope struct {
	Params    string `json:"params"`
	Sign      string `json:"sign"`
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
}

// apiResponse is the vendor response envelope common to every endpoint.
type apiResponse struct {
	APIStatus int             `json:"apiStatus"`
	SysStatus int             `json:"sysStatus,omitempty"`
	Info      string          `json:"info,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// redirectData is the data carried by an apiStatus 1030 response.
type redirectData struct {
	Domain     string `json:"domain"`
	MQTTDomain string `json:"mqttDomain"`
}

type loginParams struct {
	Email      string     `json:"email"`
	Password   string     `json:"password"`
	MFACode    string     `json:"mfaCode,omitempty"`
	Encryption int        `json:"encryption"`
	Agree      int        `json:"agree"`
	MobileInfo mobileInfo `json:"mobileInfo"`
}

type mobileInfo struct {
	DeviceModel     string `json:"deviceModel"`
	MobileOS        string `json:"mobileOs"`
	MobileOSVersion string `json:"mobileOsVersion"`
	CarrierName     string `json:"carrier"`
}

func defaultMobileInfo() mobileInfo {
	return mobileInfo{
		DeviceModel:     "generic",
		MobileOS:        "linux",
		MobileOSVersion: "unknown",
		CarrierName:     "",
	}
}

// loginData is the data field of a successful signIn. The vendor spells the
// user ID field "userid" on this endpoint only.
type loginData struct {
	Token      string `json:"token"`
	Key        string `json:"key"`
	UserID     string `json:"userid"`
	Email      string `json:"email"`
	Domain     string `json:"domain,omitempty"`
	MQTTDomain string `json:"mqttDomain,omitempty"`
}
