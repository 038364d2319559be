// Package lan talks to devices directly over the local network.
//
// Devices expose a single HTTP endpoint, POST http://<lanIp>/config, that
// accepts the same signed JSON envelope the broker carries and answers
// with the same reply shape. A LAN exchange skips the cloud round trip
// entirely, which matters for latency-sensitive callers and keeps working
// when the vendor cloud is unreachable.
//
// The client is stateless: per-device addressing, deadlines, and ciphers
// all arrive with the call. Transport selection and the per-device LAN
// error budget live in the command router, not here.
package lan
