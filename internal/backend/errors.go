package backend

import "strings"

// transportErrorStrings identify connectivity-related failures as opposed
// to application errors like a missing script function. Matched against
// the lowercased error message, same approach as the teacher's
// backends/redis connErrorStrings table.
var transportErrorStrings = []string{
	"connection refused",
	"connection reset",
	"network is unreachable",
	"no such host",
	"i/o timeout",
	"broken pipe",
	"connection pool exhausted",
	"context deadline exceeded",
}

// functionMissingStrings identify a backend-application error that the sync
// worker and the limiter can recover from by reloading the script module.
var functionMissingStrings = []string{
	"function not found",
	"noscript",
}

func matchesAny(err error, patterns []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransportError reports whether err looks like a connection-level
// failure rather than an application error from the backend.
func IsTransportError(err error) bool {
	return matchesAny(err, transportErrorStrings)
}

// IsFunctionMissing reports whether err indicates the script module needs
// to be (re)loaded.
func IsFunctionMissing(err error) bool {
	return matchesAny(err, functionMissingStrings)
}
