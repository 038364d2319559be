package device

import (
	"github.com/nerrad567/meross-core/internal/features"
	"github.com/nerrad567/meross-core/internal/protocol"
)

// HandlePush is the session's push callback. It runs on the broker's
// receive goroutine, so everything here is in-memory: parse, reduce on a
// private clone under the registry lock, then emit after release.
func (r *Registry) HandlePush(deviceUUID string, msg *protocol.Message, raw []byte) {
	now := r.now()
	a := absorption{source: SourcePush, ts: headerTime(msg.Header, now), now: now}

	n := features.ParseNotification(deviceUUID, msg.Header.Namespace, a.ts, msg.Payload)
	r.emitter.Emit(EventPushNotification, n)

	var (
		changes []Change
		online  []OnlineEvent
		unknown []string
		errs    []error
	)
	snap, err := r.mutate(deviceUUID, func(d *Device) error {
		changes, online, unknown, errs = dispatch(d, n, a)
		return nil
	})
	if err != nil {
		// A push for a device the registry never adopted. Deliberate:
		// devices join through discovery, not by talking first.
		r.logger.Debug("push for unknown device dropped",
			"device", deviceUUID, "namespace", n.Namespace)
		return
	}
	for _, id := range unknown {
		r.logger.Debug("hub entry for unknown sub-device dropped",
			"device", deviceUUID, "subdevice", id, "namespace", n.Namespace)
	}
	r.finish(snap, a, changes, online, errs)
}

// HandleRaw is the session's wire tap. Inbound frames surface as rawData,
// outbound as rawSendData.
func (r *Registry) HandleRaw(deviceUUID string, inbound bool, body []byte) {
	ev := RawEvent{DeviceUUID: deviceUUID, Body: body, Timestamp: r.now()}
	if inbound {
		r.emitter.Emit(EventRawData, ev)
	} else {
		r.emitter.Emit(EventRawSendData, ev)
	}
}
