// Package simulator provides in-process stand-ins for the vendor cloud API
// and for a LAN-reachable device, so transport code can be exercised
// end-to-end without the network.
//
// Cloud serves the signed REST endpoints (signIn, devList, getSubDevices,
// logout, activity log) with full request signature verification and the
// canned failure modes the real API exhibits, including apiStatus 1030
// region redirects. Device answers POST /config the way plug firmware does:
// envelope signature check, System.All and System.Ability snapshots,
// ToggleX and Light control, and optional AES encryption of the whole
// exchange.
//
// Both hand out an http.Handler; wrap it in an httptest.Server and point
// the real client at the server's address.
package simulator
