package middleware

import (
	"net/http"
	"strings"

	"github.com/Wikid82/memoryorgan/internal/util"
)

const maxLoggedValue = 200

// Headers whose values never reach the logs. Wallet signatures are bearer
// proofs for as long as the signed message is accepted.
var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"cookie":              {},
	"set-cookie":          {},
	"proxy-authorization": {},
	"x-api-key":           {},
	"x-forwarded-for":     {},
	"x-wallet-signature":  {},
}

// SanitizeHeaders returns a map of header keys to redacted/sanitized values
// for safe logging.
func SanitizeHeaders(h http.Header) map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string, len(h))
	for k, vals := range h {
		if _, ok := sensitiveHeaders[strings.ToLower(k)]; ok {
			out[k] = []string{"<redacted>"}
			continue
		}
		sanitized := make([]string, 0, len(vals))
		for _, v := range vals {
			sanitized = append(sanitized, util.Truncate(util.SanitizeForLog(v), maxLoggedValue))
		}
		out[k] = sanitized
	}
	return out
}

// SanitizePath prepares a request path for safe logging. It does not
// include query parameters.
func SanitizePath(p string) string {
	if i := strings.Index(p, "?"); i != -1 {
		p = p[:i]
	}
	return util.Truncate(util.SanitizeForLog(p), maxLoggedValue)
}
