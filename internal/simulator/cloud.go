package simulator

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/meross-core/internal/protocol"
)

// API status codes the simulator hands out. The ranges match the vendor's:
// 1000-1008 authentication, 1019 dead token, 1030 region redirect.
const (
	statusOK           = 0
	statusBadPassword  = 1004
	statusBadSignature = 1005
	statusTokenExpired = 1019
	statusRedirect     = 1030
)

// Account is the one account the fake cloud knows about.
type Account struct {
	Email      string
	Password   string
	Key        string
	Token      string
	UserID     string
	MQTTDomain string
}

// DeviceRow is a devList entry in the vendor's wire spelling.
type DeviceRow struct {
	UUID            string `json:"uuid"`
	Name            string `json:"devName"`
	Type            string `json:"deviceType"`
	HardwareVersion string `json:"hdwareVersion,omitempty"`
	FirmwareVersion string `json:"fmwareVersion,omitempty"`
	OnlineStatus    int    `json:"onlineStatus"`
	Domain          string `json:"domain,omitempty"`
	Region          string `json:"region,omitempty"`
}

// SubDeviceRow is a getSubDevices entry.
type SubDeviceRow struct {
	ID   string `json:"subDeviceId"`
	Type string `json:"subDeviceType"`
	Name string `json:"subDeviceName,omitempty"`
}

// Cloud is the fake vendor API. Safe for concurrent use; mutate the account
// or device list between requests as a scenario needs.
type Cloud struct {
	mu         sync.Mutex
	account    Account
	devices    []DeviceRow
	subdevices map[string][]SubDeviceRow
	redirect   *redirectOnce
	tokenDead  bool

	signIns  int
	logouts  int
	activity int
}

type redirectOnce struct {
	domain     string
	mqttDomain string
}

// NewCloud returns a fake cloud serving the given account.
func NewCloud(account Account) *Cloud {
	return &Cloud{
		account:    account,
		subdevices: make(map[string][]SubDeviceRow),
	}
}

// AddDevice appends a row to the devList response.
func (c *Cloud) AddDevice(row DeviceRow) {
	c.mu.Lock()
	c.devices = append(c.devices, row)
	c.mu.Unlock()
}

// AddSubDevices registers the getSubDevices rows for a hub.
func (c *Cloud) AddSubDevices(hubUUID string, rows ...SubDeviceRow) {
	c.mu.Lock()
	c.subdevices[hubUUID] = append(c.subdevices[hubUUID], rows...)
	c.mu.Unlock()
}

// RedirectOnce makes the next signIn answer apiStatus 1030 with the given
// replacement domains instead of credentials. The one after succeeds.
func (c *Cloud) RedirectOnce(domain, mqttDomain string) {
	c.mu.Lock()
	c.redirect = &redirectOnce{domain: domain, mqttDomain: mqttDomain}
	c.mu.Unlock()
}

// ExpireToken invalidates the account token until the next signIn.
func (c *Cloud) ExpireToken() {
	c.mu.Lock()
	c.tokenDead = true
	c.mu.Unlock()
}

// SignIns returns how many signIn calls were accepted.
func (c *Cloud) SignIns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signIns
}

// Logouts returns how many logout calls were accepted.
func (c *Cloud) Logouts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logouts
}

// ActivityPosts returns how many /log/user calls were accepted.
func (c *Cloud) ActivityPosts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activity
}

// Handler returns the routed API surface.
func (c *Cloud) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/Auth/signIn", c.handleSignIn)
	r.Post("/v1/Device/devList", c.handleDevList)
	r.Post("/v1/Hub/getSubDevices", c.handleGetSubDevices)
	r.Post("/v1/Profile/logout", c.handleLogout)
	r.Post("/log/user", c.handleLogUser)
	return r
}

func (c *Cloud) handleSignIn(w http.ResponseWriter, r *http.Request) {
	params, ok := c.verifiedParams(w, r)
	if !ok {
		return
	}

	c.mu.Lock()
	if rd := c.redirect; rd != nil {
		c.redirect = nil
		c.mu.Unlock()
		writeEnvelope(w, statusRedirect, "region moved", map[string]string{
			"domain":     rd.domain,
			"mqttDomain": rd.mqttDomain,
		})
		return
	}
	account := c.account
	c.mu.Unlock()

	var login struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(params, &login); err != nil {
		writeEnvelope(w, statusBadSignature, "malformed params", nil)
		return
	}
	if login.Email != account.Email || login.Password != protocol.MD5Hex(account.Password) {
		writeEnvelope(w, statusBadPassword, "wrong email or password", nil)
		return
	}

	c.mu.Lock()
	c.signIns++
	c.tokenDead = false
	c.mu.Unlock()

	writeEnvelope(w, statusOK, "", map[string]string{
		"token":      account.Token,
		"key":        account.Key,
		"userid":     account.UserID,
		"email":      account.Email,
		"mqttDomain": account.MQTTDomain,
	})
}

func (c *Cloud) handleDevList(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.verifiedParams(w, r); !ok {
		return
	}
	if !c.authorized(w, r) {
		return
	}

	c.mu.Lock()
	rows := make([]DeviceRow, len(c.devices))
	copy(rows, c.devices)
	c.mu.Unlock()

	writeEnvelope(w, statusOK, "", rows)
}

func (c *Cloud) handleGetSubDevices(w http.ResponseWriter, r *http.Request) {
	params, ok := c.verifiedParams(w, r)
	if !ok {
		return
	}
	if !c.authorized(w, r) {
		return
	}

	var req struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		writeEnvelope(w, statusBadSignature, "malformed params", nil)
		return
	}

	c.mu.Lock()
	rows := append([]SubDeviceRow(nil), c.subdevices[req.UUID]...)
	c.mu.Unlock()

	writeEnvelope(w, statusOK, "", rows)
}

func (c *Cloud) handleLogout(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.verifiedParams(w, r); !ok {
		return
	}
	if !c.authorized(w, r) {
		return
	}

	c.mu.Lock()
	c.tokenDead = true
	c.logouts++
	c.mu.Unlock()

	writeEnvelope(w, statusOK, "", nil)
}

func (c *Cloud) handleLogUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.verifiedParams(w, r); !ok {
		return
	}

	c.mu.Lock()
	c.activity++
	c.mu.Unlock()

	writeEnvelope(w, statusOK, "", nil)
}

// verifiedParams checks the signed request envelope and returns the decoded
// params JSON. On failure it writes the rejection itself.
func (c *Cloud) verifiedParams(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeEnvelope(w, statusBadSignature, "unreadable body", nil)
		return nil, false
	}

	var env struct {
		Params    string `json:"params"`
		Sign      string `json:"sign"`
		Timestamp int64  `json:"timestamp"`
		Nonce     string `json:"nonce"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		writeEnvelope(w, statusBadSignature, "malformed envelope", nil)
		return nil, false
	}
	if env.Sign != protocol.SignParams(env.Timestamp, env.Nonce, env.Params) {
		writeEnvelope(w, statusBadSignature, "signature mismatch", nil)
		return nil, false
	}

	params, err := base64.StdEncoding.DecodeString(env.Params)
	if err != nil {
		writeEnvelope(w, statusBadSignature, "params not base64", nil)
		return nil, false
	}
	return params, true
}

// authorized checks the Basic token of an authenticated endpoint. The
// account token is valid from construction, as if issued by an earlier
// login, until a logout or ExpireToken kills it.
func (c *Cloud) authorized(w http.ResponseWriter, r *http.Request) bool {
	c.mu.Lock()
	want := "Basic " + c.account.Token
	dead := c.tokenDead
	c.mu.Unlock()

	if dead || r.Header.Get("Authorization") != want {
		writeEnvelope(w, statusTokenExpired, "token expired", nil)
		return false
	}
	return true
}

func writeEnvelope(w http.ResponseWriter, apiStatus int, info string, data any) {
	resp := map[string]any{"apiStatus": apiStatus}
	if info != "" {
		resp["info"] = info
	}
	if data != nil {
		resp["data"] = data
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp) //nolint:errcheck // Best effort towards a test client.
}
