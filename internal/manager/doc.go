// Package manager assembles the full runtime behind one handle: cloud
// client, broker session, command router, device registry, and the
// subscription pollers, built from one Config and one set of account
// credentials.
//
// Construction comes in two flavours. Login authenticates with the
// configured email and password and is the path for a first run.
// FromCredentials skips the password exchange and reuses persisted
// credentials; the vendor throttles token issuance per account, so callers
// that store credentials should always prefer it.
//
// Close stops the pollers first, then the broker session, so no tick can
// observe a closed session. It deliberately does not invalidate the cloud
// token: a stored token survives restarts. Logout is the explicit
// sign-out.
package manager
