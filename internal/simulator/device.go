package simulator

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/meross-core/internal/protocol"
)

// Firmware error codes the fake device reports. 5001 is the code real
// firmware uses for a signature mismatch.
const (
	deviceErrSign        = 5001
	deviceErrUnsupported = 5000
)

// Device is a fake plug answering POST /config the way firmware does.
// It keeps per-channel toggle state and, when a light ability is present,
// one light state.
type Device struct {
	uuid            string
	devType         string
	mac             string
	key             string
	hardwareVersion string
	firmwareVersion string
	abilities       []string

	mu       sync.Mutex
	onoff    []bool
	light    lightState
	cipher   *protocol.DeviceCipher
	requests int
}

type lightState struct {
	Channel     int `json:"channel"`
	Capacity    int `json:"capacity,omitempty"`
	RGB         int `json:"rgb,omitempty"`
	Temperature int `json:"temperature,omitempty"`
	Luminance   int `json:"luminance,omitempty"`
}

// NewDevice builds a fake device. channels is the toggle channel count
// (masters plug: 1). abilities is what System.Ability reports; System.All,
// System.Ability, and System.Online are always understood.
func NewDevice(uuid, devType, key, mac string, channels int, abilities ...string) *Device {
	if channels < 1 {
		channels = 1
	}
	return &Device{
		uuid:            uuid,
		devType:         devType,
		mac:             mac,
		key:             key,
		hardwareVersion: "6.0.0",
		firmwareVersion: "6.1.8",
		abilities:       abilities,
		onoff:           make([]bool, channels),
	}
}

// EnableEncryption makes the device require the AES envelope wrapper on
// both directions, deriving the key the way firmware does.
func (d *Device) EnableEncryption() error {
	c, err := protocol.NewDeviceCipher(d.uuid, d.key, d.mac)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.cipher = c
	d.mu.Unlock()
	return nil
}

// On reports the toggle state of one channel.
func (d *Device) On(channel int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if channel < 0 || channel >= len(d.onoff) {
		return false
	}
	return d.onoff[channel]
}

// SetOn flips a channel directly, for seeding a scenario.
func (d *Device) SetOn(channel int, on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if channel >= 0 && channel < len(d.onoff) {
		d.onoff[channel] = on
	}
}

// Requests returns how many /config posts the device has answered.
func (d *Device) Requests() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests
}

// Handler returns the device's HTTP surface.
func (d *Device) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/config", d.handleConfig)
	return r
}

func (d *Device) handleConfig(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.requests++
	cipher := d.cipher
	d.mu.Unlock()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	plain := body
	if cipher != nil {
		plain, err = protocol.UnwrapEncrypted(cipher, body)
		if err != nil {
			http.Error(w, "undecryptable body", http.StatusBadRequest)
			return
		}
	}

	msg, err := protocol.ParseMessage(plain)
	if err != nil {
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}
	if !msg.Verify(d.key) {
		d.reply(w, cipher, d.errorReply(msg, deviceErrSign, "sign error"))
		return
	}

	d.reply(w, cipher, d.dispatch(msg))
}

// dispatch answers one verified request envelope.
func (d *Device) dispatch(msg *protocol.Message) *protocol.Message {
	switch {
	case msg.Header.Namespace == protocol.NamespaceSystemAll && msg.Header.Method == protocol.MethodGet:
		return d.ack(msg, protocol.MethodGetAck, d.systemAll())
	case msg.Header.Namespace == protocol.NamespaceSystemAbility && msg.Header.Method == protocol.MethodGet:
		return d.ack(msg, protocol.MethodGetAck, d.abilityMap())
	case msg.Header.Namespace == protocol.NamespaceToggleX:
		return d.handleToggleX(msg)
	case msg.Header.Namespace == protocol.NamespaceLight && d.hasAbility(protocol.NamespaceLight):
		return d.handleLight(msg)
	default:
		return d.errorReply(msg, deviceErrUnsupported, "namespace "+msg.Header.Namespace+" not supported")
	}
}

func (d *Device) handleToggleX(msg *protocol.Message) *protocol.Message {
	if msg.Header.Method == protocol.MethodGet {
		d.mu.Lock()
		entries := make([]map[string]int, len(d.onoff))
		for ch, on := range d.onoff {
			entries[ch] = map[string]int{"channel": ch, "onoff": boolToInt(on)}
		}
		d.mu.Unlock()
		return d.ack(msg, protocol.MethodGetAck, map[string]any{"togglex": entries})
	}

	var set struct {
		ToggleX struct {
			Channel int `json:"channel"`
			OnOff   int `json:"onoff"`
		} `json:"togglex"`
	}
	if err := json.Unmarshal(msg.Payload, &set); err != nil {
		return d.errorReply(msg, deviceErrUnsupported, "malformed togglex payload")
	}

	d.mu.Lock()
	if set.ToggleX.Channel >= 0 && set.ToggleX.Channel < len(d.onoff) {
		d.onoff[set.ToggleX.Channel] = set.ToggleX.OnOff == 1
	}
	d.mu.Unlock()

	return d.ack(msg, protocol.MethodSetAck, map[string]any{})
}

func (d *Device) handleLight(msg *protocol.Message) *protocol.Message {
	if msg.Header.Method == protocol.MethodGet {
		d.mu.Lock()
		light := d.light
		d.mu.Unlock()
		return d.ack(msg, protocol.MethodGetAck, map[string]any{"light": light})
	}

	var set struct {
		Light lightState `json:"light"`
	}
	if err := json.Unmarshal(msg.Payload, &set); err != nil {
		return d.errorReply(msg, deviceErrUnsupported, "malformed light payload")
	}

	d.mu.Lock()
	d.light = set.Light
	d.mu.Unlock()

	return d.ack(msg, protocol.MethodSetAck, map[string]any{})
}

// systemAll renders the full device snapshot, digest included.
func (d *Device) systemAll() map[string]any {
	d.mu.Lock()
	entries := make([]map[string]int, len(d.onoff))
	for ch, on := range d.onoff {
		entries[ch] = map[string]int{"channel": ch, "onoff": boolToInt(on)}
	}
	light := d.light
	d.mu.Unlock()

	digest := map[string]any{"togglex": entries}
	if d.hasAbility(protocol.NamespaceLight) {
		digest["light"] = light
	}

	return map[string]any{
		"all": map[string]any{
			"system": map[string]any{
				"hardware": map[string]any{
					"type":       d.devType,
					"version":    d.hardwareVersion,
					"uuid":       d.uuid,
					"macAddress": d.mac,
				},
				"firmware": map[string]any{
					"version": d.firmwareVersion,
				},
				"online": map[string]any{"status": 1},
			},
			"digest": digest,
		},
	}
}

func (d *Device) abilityMap() map[string]any {
	abilities := map[string]any{
		protocol.NamespaceSystemAll:     map[string]any{},
		protocol.NamespaceSystemAbility: map[string]any{},
		protocol.NamespaceSystemOnline:  map[string]any{},
	}
	for _, ns := range d.abilities {
		abilities[ns] = map[string]any{}
	}
	return map[string]any{"ability": abilities}
}

func (d *Device) hasAbility(ns string) bool {
	for _, a := range d.abilities {
		if a == ns {
			return true
		}
	}
	return false
}

// ack builds a signed reply echoing the request's message ID.
func (d *Device) ack(req *protocol.Message, method protocol.Method, payload any) *protocol.Message {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(`{}`)
	}
	ts := time.Now().Unix()
	return &protocol.Message{
		Header: protocol.Header{
			MessageID:      req.Header.MessageID,
			Namespace:      req.Header.Namespace,
			Method:         method,
			PayloadVersion: 1,
			From:           "/appliance/" + d.uuid + "/publish",
			Timestamp:      ts,
			Sign:           protocol.SignEnvelope(req.Header.MessageID, d.key, ts),
		},
		Payload: raw,
	}
}

func (d *Device) errorReply(req *protocol.Message, code int, detail string) *protocol.Message {
	payload := fmt.Sprintf(`{"error":{"code":%d,"detail":%q}}`, code, detail)
	reply := d.ack(req, protocol.MethodError, map[string]any{})
	reply.Payload = json.RawMessage(payload)
	return reply
}

func (d *Device) reply(w http.ResponseWriter, cipher *protocol.DeviceCipher, msg *protocol.Message) {
	body, err := msg.Encode()
	if err != nil {
		http.Error(w, "encoding reply", http.StatusInternalServerError)
		return
	}
	if cipher != nil {
		body, err = cipher.WrapEncrypted(body)
		if err != nil {
			http.Error(w, "encrypting reply", http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body) //nolint:errcheck // Best effort towards a test client.
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
