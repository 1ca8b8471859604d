package utils

import (
	"net/url"
	"strings"
)

// ResolveReference resolves ref against base the way a browser resolves a
// Location header. Absolute refs are returned verbatim.
func ResolveReference(base, ref string) string {
	r, err := url.Parse(ref)
	if err != nil || r.IsAbs() {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// BearerAuthorization returns the Authorization header value for token,
// or "" when token is empty.
func BearerAuthorization(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	return "Bearer " + token
}

// RedactURL strips user info and query from raw for logging.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.User = nil
	if u.RawQuery != "" {
		u.RawQuery = "..."
	}
	return u.String()
}
