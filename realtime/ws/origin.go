package ws

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// OriginAllowed validates r's Origin header against an allow-list.
// Matching is case-insensitive throughout. Entries support:
//
//   - Full Origin values with scheme, e.g. "https://example.com" or
//     "http://127.0.0.1:5173" (port included in the comparison)
//   - Hostnames, e.g. "example.com" (any scheme, any port)
//   - host:port pairs, e.g. "example.com:5173"
//   - Wildcard hostnames, e.g. "*.example.com" (matches example.com and
//     every subdomain)
//   - Exact non-standard Origin values, e.g. "null"
//
// Requests without an Origin header are governed by allowNoOrigin. Policy
// for an empty allow-list belongs to the caller; this function rejects.
func OriginAllowed(r *http.Request, allowed []string, allowNoOrigin bool) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return allowNoOrigin
	}
	host := ""
	hostname := ""
	if parsed, err := url.Parse(origin); err == nil {
		host = strings.ToLower(parsed.Host)
		hostname = strings.ToLower(parsed.Hostname())
	}
	for _, entry := range allowed {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "://") {
			if strings.EqualFold(origin, entry) {
				return true
			}
			continue
		}
		if base, ok := strings.CutPrefix(entry, "*."); ok {
			if hostname != "" && base != "" &&
				(hostname == base || strings.HasSuffix(hostname, "."+base)) {
				return true
			}
			continue
		}
		// host:port entries compare against the full Host; bare hostnames
		// ignore the port.
		if host != "" {
			if _, _, err := net.SplitHostPort(entry); err == nil {
				if host == entry {
					return true
				}
				continue
			}
		}
		if hostname != "" && hostname == entry {
			return true
		}
		// Non-URL Origin values such as "null".
		if strings.EqualFold(origin, entry) {
			return true
		}
	}
	return false
}

// NewOriginChecker adapts OriginAllowed to the upgrader's CheckOrigin shape.
func NewOriginChecker(allowed []string, allowNoOrigin bool) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		return OriginAllowed(r, allowed, allowNoOrigin)
	}
}
