package cloud

import "github.com/nerrad567/meross-core/internal/merr"

// apiError maps a non-zero apiStatus onto a typed error. The table mirrors
// the vendor's status ranges; anything unlisted is a generic HTTP API error
// that still carries the raw code.
func apiError(code int, info string) *merr.Error {
	if info == "" {
		info = "API request rejected"
	}

	kind := merr.KindHTTPAPIError
	switch {
	case code >= 1000 && code <= 1008:
		kind = merr.KindAuthentication
	case code == 1019 || code == 1022 || code == 1200:
		kind = merr.KindTokenExpired
	case code == 1028:
		kind = merr.KindRateLimit
	case code == 1032:
		kind = merr.KindMFAWrong
	case code == 1033:
		kind = merr.KindMFARequired
	case code == 1035:
		kind = merr.KindOperationLocked
	case code == 1042:
		kind = merr.KindAPILimitReached
	case code == 1043:
		kind = merr.KindResourceAccessDenied
	case code == 1301:
		kind = merr.KindTooManyTokens
	case code == 20101:
		kind = merr.KindValidation
	case code == 20106:
		kind = merr.KindNotFound
	case code == 20112:
		kind = merr.KindUnsupported
	}

	e := merr.New(kind, info)
	e.ErrorCode = code
	return e
}
