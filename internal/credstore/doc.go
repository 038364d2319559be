// Package credstore persists cloud credentials across restarts.
//
// A successful login yields a token, the account signing key, and the
// region-specific API and broker domains. Logging in again on every start
// wastes a round trip and, worse, counts against the vendor's token limit;
// accounts that log in too often start seeing TOO_MANY_TOKENS. The store
// keeps one row per account email in the local SQLite database so a
// restart reuses the existing token until it expires.
//
// The stored blob is exactly the Credentials value the cloud client
// produces. Nothing here interprets the token; expiry is only discovered
// when the vendor rejects it, at which point the caller deletes the row
// and logs in fresh.
package credstore
