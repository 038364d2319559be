// Package stats keeps bounded in-memory samples of HTTP and MQTT activity
// for observability.
//
// Two fixed-capacity rings (default 1000 samples each) record one entry per
// cloud API call and one per device command. Aggregation queries walk only
// the samples inside the requested time window, so a busy session with a
// full ring answers "what happened in the last minute" without touching the
// rest of the history.
//
// The recorder is safe for concurrent use and can be created disabled, in
// which case recording is a no-op and reports come back empty.
package stats
