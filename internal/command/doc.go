// Package command routes device commands over the cheapest transport that
// is currently believed to work.
//
// Two transports exist: LAN HTTP (direct POST to the device on the local
// network) and cloud MQTT (publish through the vendor broker). Which one a
// request tries first is a policy decision, configured as a transport mode:
//
//	mqtt_only      every command goes through the broker
//	lan_first      try LAN, fall back to the broker on transport failure
//	lan_first_get  like lan_first, but only for GET; SETs go straight to
//	               the broker because a retried SET can execute twice
//
// # Error Budget
//
// LAN reachability is tracked per device. Every transport-level LAN failure
// spends one unit of a fixed budget; when the budget is gone, LAN is skipped
// for that device for a cooldown window. After the window the device gets a
// budget of one, so a single failed probe re-disables LAN immediately while
// a successful probe restores the full budget. A device that answers over
// LAN, even with an error payload, proves the transport healthy and resets
// the budget.
//
// # Fallback
//
// Falling back builds a fresh envelope. Message IDs are never reused across
// transports, so a late LAN reply can not be confused with the broker reply.
// The fallback attempt runs against the remaining deadline of the original
// request. SETs fall back only when the LAN attempt failed without any
// evidence the device processed it (connection errors, timeouts, non-200
// responses). A device-reported error is returned as-is and never retried.
package command
