package cloud

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/meross-core/internal/infrastructure/config"
	"github.com/nerrad567/meross-core/internal/infrastructure/logging"
	"github.com/nerrad567/meross-core/internal/merr"
	"github.com/nerrad567/meross-core/internal/protocol"
	"github.com/nerrad567/meross-core/internal/stats"
)

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{
		Level:  "error",
		Format: "text",
		Output: "stderr",
	}, "test")
}

func testHTTPConfig() config.HTTPConfig {
	return config.HTTPConfig{
		Timeout:      5,
		AutoRedirect: true,
		MaxRedirects: 3,
		LogActivity:  true,
	}
}

func newTestClient(baseURL string, cfg config.HTTPConfig, recorder *stats.Recorder) *Client {
	if recorder == nil {
		recorder = stats.Disabled()
	}
	return New(cfg, baseURL, testLogger(), recorder)
}

// decodeEnvelope verifies the request signature and returns the decoded
// params JSON.
func decodeEnvelope(t *testing.T, r *http.Request) []byte {
	t.Helper()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("reading request body: %v", err)
	}

	var env struct {
		Params    string `json:"params"`
		Sign      string `json:"sign"`
		Timestamp int64  `json:"timestamp"`
		Nonce     string `json:"nonce"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decoding request envelope: %v", err)
	}

	if env.Nonce == "" || len(env.Nonce) != 16 {
		t.Errorf("nonce = %q, want 16 characters", env.Nonce)
	}
	if want := protocol.SignParams(env.Timestamp, env.Nonce, env.Params); env.Sign != want {
		t.Errorf("request sign = %q, want %q", env.Sign, want)
	}

	decoded, err := base64.StdEncoding.DecodeString(env.Params)
	if err != nil {
		t.Fatalf("params are not valid base64: %v", err)
	}
	return decoded
}

func writeAPIResponse(t *testing.T, w http.ResponseWriter, apiStatus int, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshaling response data: %v", err)
	}
	resp := map[string]any{
		"apiStatus": apiStatus,
		"data":      json.RawMessage(raw),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Fatalf("writing response: %v", err)
	}
}

func TestLogin_Success(t *testing.T) {
	var gotAuth atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathLogin {
			t.Errorf("path = %q, want %q", r.URL.Path, pathLogin)
		}
		gotAuth.Store(r.Header.Get("Authorization"))

		params := decodeEnvelope(t, r)
		var login struct {
			Email      string `json:"email"`
			Password   string `json:"password"`
			Encryption int    `json:"encryption"`
		}
		if err := json.Unmarshal(params, &login); err != nil {
			t.Fatalf("decoding login params: %v", err)
		}
		if login.Email != "user@example.com" {
			t.Errorf("email = %q", login.Email)
		}
		if want := protocol.MD5Hex("hunter2"); login.Password != want {
			t.Errorf("password = %q, want MD5 %q", login.Password, want)
		}
		if login.Encryption != 1 {
			t.Errorf("encryption = %d, want 1", login.Encryption)
		}

		writeAPIResponse(t, w, apiStatusOK, map[string]any{
			"token":      "tok-123",
			"key":        "key-456",
			"userid":     "98765",
			"email":      "user@example.com",
			"mqttDomain": "mqtt-eu-1.example.com",
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL, testHTTPConfig(), nil)

	creds, err := client.Login(context.Background(), "user@example.com", "hunter2", "")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if creds.Token != "tok-123" {
		t.Errorf("Token = %q", creds.Token)
	}
	if creds.Key != "key-456" {
		t.Errorf("Key = %q", creds.Key)
	}
	if creds.UserID != "98765" {
		t.Errorf("UserID = %q", creds.UserID)
	}
	if creds.UserEmail != "user@example.com" {
		t.Errorf("UserEmail = %q", creds.UserEmail)
	}
	if creds.MQTTDomain != "mqtt-eu-1.example.com" {
		t.Errorf("MQTTDomain = %q", creds.MQTTDomain)
	}
	if creds.IssuedAt.IsZero() {
		t.Error("IssuedAt not set")
	}

	// Pre-login requests carry an empty Basic token.
	if got := gotAuth.Load().(string); got != "Basic " {
		t.Errorf("pre-login Authorization = %q, want empty Basic", got)
	}
	if got := client.MQTTDomain(); got != "mqtt-eu-1.example.com" {
		t.Errorf("MQTTDomain() = %q", got)
	}
}

func TestLogin_Validation(t *testing.T) {
	client := newTestClient("https://iotx.example.com", testHTTPConfig(), nil)

	_, err := client.Login(context.Background(), "", "pw", "")
	if !merr.IsKind(err, merr.KindValidation) {
		t.Errorf("kind = %v, want VALIDATION", merr.KindOf(err))
	}

	_, err = client.Login(context.Background(), "user@example.com", "", "")
	if !merr.IsKind(err, merr.KindValidation) {
		t.Errorf("kind = %v, want VALIDATION", merr.KindOf(err))
	}
}

func TestLogin_MFARequired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIResponse(t, w, 1033, nil)
	}))
	defer server.Close()

	client := newTestClient(server.URL, testHTTPConfig(), nil)

	_, err := client.Login(context.Background(), "user@example.com", "pw", "")
	if !merr.IsKind(err, merr.KindMFARequired) {
		t.Fatalf("kind = %v, want MFA_REQUIRED", merr.KindOf(err))
	}
	apiErr, _ := merr.FromError(err)
	if apiErr.ErrorCode != 1033 {
		t.Errorf("ErrorCode = %d, want 1033", apiErr.ErrorCode)
	}
}

func TestAPIErrorMapping(t *testing.T) {
	tests := []struct {
		code int
		want merr.Kind
	}{
		{1000, merr.KindAuthentication},
		{1004, merr.KindAuthentication},
		{1008, merr.KindAuthentication},
		{1019, merr.KindTokenExpired},
		{1022, merr.KindTokenExpired},
		{1200, merr.KindTokenExpired},
		{1028, merr.KindRateLimit},
		{1032, merr.KindMFAWrong},
		{1033, merr.KindMFARequired},
		{1035, merr.KindOperationLocked},
		{1042, merr.KindAPILimitReached},
		{1043, merr.KindResourceAccessDenied},
		{1301, merr.KindTooManyTokens},
		{20101, merr.KindValidation},
		{20106, merr.KindNotFound},
		{20112, merr.KindUnsupported},
		{5000, merr.KindHTTPAPIError},
	}

	for _, tt := range tests {
		err := apiError(tt.code, "test")
		if err.Kind != tt.want {
			t.Errorf("apiError(%d) kind = %v, want %v", tt.code, err.Kind, tt.want)
		}
		if err.ErrorCode != tt.code {
			t.Errorf("apiError(%d) ErrorCode = %d", tt.code, err.ErrorCode)
		}
	}
}

func TestListDevices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathDevList {
			t.Errorf("path = %q, want %q", r.URL.Path, pathDevList)
		}
		decodeEnvelope(t, r)

		writeAPIResponse(t, w, apiStatusOK, []map[string]any{
			{
				"uuid":           "2209011234567890",
				"devName":        "Kitchen Plug",
				"deviceType":     "mss310",
				"hdwareVersion":  "2.0.0",
				"fmwareVersion":  "2.1.17",
				"onlineStatus":   1,
				"domain":         "mqtt-eu-1.example.com",
				"reservedDomain": "mqtt-eu-1.example.com",
				"channels":       []map[string]any{{}, {"type": "Switch", "devName": "Lamp"}},
			},
			{
				"uuid":         "2209019876543210",
				"devName":      "Hub",
				"deviceType":   "msh300",
				"onlineStatus": 2,
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL, testHTTPConfig(), nil)

	devices, err := client.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("len(devices) = %d, want 2", len(devices))
	}

	d := devices[0]
	if d.UUID != "2209011234567890" {
		t.Errorf("UUID = %q", d.UUID)
	}
	if d.Name != "Kitchen Plug" {
		t.Errorf("Name = %q", d.Name)
	}
	if d.Type != "mss310" {
		t.Errorf("Type = %q", d.Type)
	}
	if d.FirmwareVersion != "2.1.17" {
		t.Errorf("FirmwareVersion = %q", d.FirmwareVersion)
	}
	if !d.OnlineStatus.IsOnline() {
		t.Errorf("OnlineStatus = %v, want online", d.OnlineStatus)
	}
	if len(d.Channels) != 2 || d.Channels[1].Name != "Lamp" {
		t.Errorf("Channels = %+v", d.Channels)
	}

	if devices[1].OnlineStatus != StatusOffline {
		t.Errorf("second device OnlineStatus = %v, want offline", devices[1].OnlineStatus)
	}
}

func TestListSubDevices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathGetSubDevices {
			t.Errorf("path = %q, want %q", r.URL.Path, pathGetSubDevices)
		}

		params := decodeEnvelope(t, r)
		var req struct {
			UUID string `json:"uuid"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			t.Fatalf("decoding params: %v", err)
		}
		if req.UUID != "hub-uuid-1" {
			t.Errorf("uuid = %q, want hub-uuid-1", req.UUID)
		}

		writeAPIResponse(t, w, apiStatusOK, []map[string]any{
			{"subDeviceId": "0001", "subDeviceType": "ms100", "subDeviceName": "Bedroom"},
			{"subDeviceId": "0002", "subDeviceType": "mts100v3"},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL, testHTTPConfig(), nil)

	subs, err := client.ListSubDevices(context.Background(), "hub-uuid-1")
	if err != nil {
		t.Fatalf("ListSubDevices() error = %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("len(subs) = %d, want 2", len(subs))
	}
	if subs[0].ID != "0001" || subs[0].Type != "ms100" || subs[0].Name != "Bedroom" {
		t.Errorf("subs[0] = %+v", subs[0])
	}
}

func TestListSubDevices_RequiresUUID(t *testing.T) {
	client := newTestClient("https://iotx.example.com", testHTTPConfig(), nil)

	_, err := client.ListSubDevices(context.Background(), "")
	if !merr.IsKind(err, merr.KindValidation) {
		t.Errorf("kind = %v, want VALIDATION", merr.KindOf(err))
	}
}

func TestHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(server.URL, testHTTPConfig(), nil)

	_, err := client.ListDevices(context.Background())
	if !merr.IsKind(err, merr.KindHTTPAPIError) {
		t.Fatalf("kind = %v, want HTTP_API_ERROR", merr.KindOf(err))
	}
	apiErr, _ := merr.FromError(err)
	if apiErr.HTTPStatus != http.StatusBadGateway {
		t.Errorf("HTTPStatus = %d, want 502", apiErr.HTTPStatus)
	}
}

func TestRedirectRetry(t *testing.T) {
	// Second region answers the retried request.
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIResponse(t, w, apiStatusOK, []map[string]any{
			{"uuid": "dev-1", "devName": "Plug", "deviceType": "mss110", "onlineStatus": 1},
		})
	}))
	defer target.Close()

	var firstCalls atomic.Int32
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		firstCalls.Add(1)
		writeAPIResponse(t, w, apiStatusRedirect, map[string]any{
			"domain":     target.URL,
			"mqttDomain": "mqtt-us-1.example.com",
		})
	}))
	defer first.Close()

	client := newTestClient(first.URL, testHTTPConfig(), nil)

	devices, err := client.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 1 || devices[0].UUID != "dev-1" {
		t.Fatalf("devices = %+v", devices)
	}

	if got := firstCalls.Load(); got != 1 {
		t.Errorf("first region called %d times, want 1", got)
	}
	if got := client.BaseURL(); got != target.URL {
		t.Errorf("BaseURL() = %q, want %q", got, target.URL)
	}
	if got := client.MQTTDomain(); got != "mqtt-us-1.example.com" {
		t.Errorf("MQTTDomain() = %q", got)
	}
}

func TestRedirectCap(t *testing.T) {
	var selfURL atomic.Value
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		// Always redirect back to ourselves.
		writeAPIResponse(t, w, apiStatusRedirect, map[string]any{
			"domain":     selfURL.Load().(string),
			"mqttDomain": "mqtt.example.com",
		})
	}))
	defer server.Close()
	selfURL.Store(server.URL)

	cfg := testHTTPConfig()
	cfg.MaxRedirects = 2
	client := newTestClient(server.URL, cfg, nil)

	_, err := client.ListDevices(context.Background())
	if !merr.IsKind(err, merr.KindBadDomain) {
		t.Fatalf("kind = %v, want BAD_DOMAIN", merr.KindOf(err))
	}

	apiErr, _ := merr.FromError(err)
	if apiErr.MQTTDomain != "mqtt.example.com" {
		t.Errorf("MQTTDomain = %q", apiErr.MQTTDomain)
	}

	// Initial attempt plus MaxRedirects retries.
	if got := calls.Load(); got != 3 {
		t.Errorf("server called %d times, want 3", got)
	}
}

func TestRedirectDisabled(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeAPIResponse(t, w, apiStatusRedirect, map[string]any{
			"domain": "iotx-eu.example.com",
		})
	}))
	defer server.Close()

	cfg := testHTTPConfig()
	cfg.AutoRedirect = false
	client := newTestClient(server.URL, cfg, nil)

	_, err := client.ListDevices(context.Background())
	if !merr.IsKind(err, merr.KindBadDomain) {
		t.Fatalf("kind = %v, want BAD_DOMAIN", merr.KindOf(err))
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1", got)
	}
}

func TestNetworkTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		writeAPIResponse(t, w, apiStatusOK, nil)
	}))
	defer server.Close()

	client := newTestClient(server.URL, testHTTPConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.ListDevices(ctx)
	if !merr.IsKind(err, merr.KindNetworkTimeout) {
		t.Fatalf("kind = %v, want NETWORK_TIMEOUT", merr.KindOf(err))
	}
	if !merr.IsOperational(err) {
		t.Error("network timeout should be operational")
	}
}

func TestLogout_ClearsToken(t *testing.T) {
	var lastAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastAuth.Store(r.Header.Get("Authorization"))
		writeAPIResponse(t, w, apiStatusOK, nil)
	}))
	defer server.Close()

	client := newTestClient(server.URL, testHTTPConfig(), nil)
	client.UseCredentials(&Credentials{Token: "tok-789"})

	if err := client.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if got := lastAuth.Load().(string); got != "Basic tok-789" {
		t.Errorf("logout Authorization = %q, want token still attached", got)
	}

	// Subsequent calls go out without the old token.
	if _, err := client.ListDevices(context.Background()); err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if got := lastAuth.Load().(string); got != "Basic " {
		t.Errorf("post-logout Authorization = %q, want empty Basic", got)
	}
}

func TestLogActivity_SwallowsFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL, testHTTPConfig(), nil)

	// Must not panic or surface the failure.
	client.LogActivity(context.Background(), ActivityInfo{System: "linux", Version: "1.0.0"})
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1", got)
	}
}

func TestLogActivity_DisabledSkipsCall(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeAPIResponse(t, w, apiStatusOK, nil)
	}))
	defer server.Close()

	cfg := testHTTPConfig()
	cfg.LogActivity = false
	client := newTestClient(server.URL, cfg, nil)

	client.LogActivity(context.Background(), ActivityInfo{})
	if got := calls.Load(); got != 0 {
		t.Errorf("server called %d times, want 0", got)
	}
}

func TestStatsRecorded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIResponse(t, w, apiStatusOK, []map[string]any{})
	}))
	defer server.Close()

	recorder := stats.New(10)
	client := newTestClient(server.URL, testHTTPConfig(), recorder)

	if _, err := client.ListDevices(context.Background()); err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}

	report := recorder.HTTPWindow(time.Minute)
	if report.Total != 1 {
		t.Fatalf("Total = %d, want 1", report.Total)
	}
	if report.ByAPIStatus[apiStatusOK] != 1 {
		t.Errorf("ByAPIStatus[0] = %d, want 1", report.ByAPIStatus[apiStatusOK])
	}
	if report.ByHTTPStatus[http.StatusOK] != 1 {
		t.Errorf("ByHTTPStatus[200] = %d, want 1", report.ByHTTPStatus[http.StatusOK])
	}
	wantURL := server.URL + pathDevList
	if report.ByURL[wantURL] != 1 {
		t.Errorf("ByURL[%q] = %d, want 1", wantURL, report.ByURL[wantURL])
	}
}
