package device

import (
	"sync"

	"github.com/nerrad567/meross-core/internal/infrastructure/logging"
)

// Event names emitted by the registry. The payload type each carries is
// noted alongside.
const (
	EventDeviceInitialized = "deviceInitialized" // *Device snapshot
	EventDeviceRemoved     = "deviceRemoved"     // *Device snapshot
	EventConnected         = "connected"         // OnlineEvent
	EventDisconnected      = "disconnected"      // OnlineEvent
	EventReconnect         = "reconnect"         // nil
	EventError             = "error"             // ErrorEvent
	EventPushNotification  = "pushNotification"  // features.Notification
	EventState             = "state"             // Change
	EventOnline            = "online"            // OnlineEvent
	EventRawData           = "rawData"           // RawEvent, inbound
	EventRawSendData       = "rawSendData"       // RawEvent, outbound
	EventDeviceUpdate      = "deviceUpdate"      // UpdateEvent
)

// Handler receives one event. Handlers run synchronously on the goroutine
// that emitted, so they must not block; hand long work off to a channel.
type Handler func(event string, payload any)

type listener struct {
	id   int
	fn   Handler
	once bool
}

// Emitter is the registry's event bus. Listeners fire in registration
// order; a panicking handler is logged and does not stop delivery.
type Emitter struct {
	mu        sync.Mutex
	seq       int
	listeners map[string][]listener
	logger    *logging.Logger
}

func newEmitter(logger *logging.Logger) *Emitter {
	return &Emitter{
		listeners: make(map[string][]listener),
		logger:    logger,
	}
}

// On registers fn for every occurrence of event. The returned func removes
// the registration; calling it more than once is harmless.
func (e *Emitter) On(event string, fn Handler) func() {
	return e.add(event, fn, false)
}

// Once registers fn for the next occurrence of event only.
func (e *Emitter) Once(event string, fn Handler) func() {
	return e.add(event, fn, true)
}

func (e *Emitter) add(event string, fn Handler, once bool) func() {
	e.mu.Lock()
	e.seq++
	id := e.seq
	e.listeners[event] = append(e.listeners[event], listener{id: id, fn: fn, once: once})
	e.mu.Unlock()
	return func() { e.remove(event, id) }
}

func (e *Emitter) remove(event string, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ls := e.listeners[event]
	for i, l := range ls {
		if l.id == id {
			e.listeners[event] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// Emit delivers payload to every listener registered for event. Once
// listeners are dropped before their handler runs, so a re-entrant Emit
// cannot fire them twice.
func (e *Emitter) Emit(event string, payload any) {
	e.mu.Lock()
	ls := e.listeners[event]
	fns := make([]Handler, 0, len(ls))
	var kept []listener
	for _, l := range ls {
		fns = append(fns, l.fn)
		if !l.once {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(e.listeners, event)
	} else {
		e.listeners[event] = kept
	}
	e.mu.Unlock()

	for _, fn := range fns {
		e.call(event, payload, fn)
	}
}

func (e *Emitter) call(event string, payload any, fn Handler) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("event handler panicked", "event", event, "panic", rec)
		}
	}()
	fn(event, payload)
}
