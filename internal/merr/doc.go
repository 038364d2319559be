// Package merr defines the typed error model shared by every component of
// Meross Core.
//
// Errors that cross a component boundary (HTTP client, MQTT session, command
// router, device registry) are *merr.Error values. Each carries a stable
// Kind so callers can decide between re-authentication, retry with backoff,
// and surfacing to the application, without string matching.
//
// # Kinds
//
// Kinds fall into four rough groups:
//
//   - account/API: AUTHENTICATION, MFA_REQUIRED, MFA_WRONG, TOKEN_EXPIRED,
//     TOO_MANY_TOKENS, UNAUTHORIZED, HTTP_API_ERROR, BAD_DOMAIN,
//     API_LIMIT_REACHED, RESOURCE_ACCESS_DENIED, RATE_LIMIT, OPERATION_LOCKED
//   - request validation: UNSUPPORTED, VALIDATION, NOT_FOUND
//   - transport: NETWORK_TIMEOUT, COMMAND_TIMEOUT, COMMAND_FAILED,
//     MQTT_ERROR, UNCONNECTED
//   - lifecycle: UNKNOWN_DEVICE_TYPE, PARSE_ERROR, INITIALIZATION_FAILED
//
// # Usage
//
//	_, err := dev.TurnOn(ctx, 0)
//	if merr.IsKind(err, merr.KindCommandTimeout) {
//	    // device did not answer in time; safe to retry a GET, not a SET
//	}
//
//	if e, ok := merr.FromError(err); ok {
//	    logger.Warn("command failed", e.Fields()...)
//	}
//
// Internal guard conditions inside a package still use plain sentinel
// errors; they are converted to merr kinds at the package boundary.
package merr
