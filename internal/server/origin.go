package server

import (
	"net/url"
	"strings"
)

// OriginChecker returns a predicate accepting origins whose scheme and host
// match one of allowed. Entries may omit the scheme, in which case any
// scheme matches. An empty list returns nil, which accepts every origin.
func OriginChecker(allowed []string) func(string) bool {
	var origins []*url.URL
	for _, raw := range allowed {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "://") {
			raw = "//" + raw
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		origins = append(origins, u)
	}
	if len(origins) == 0 {
		return nil
	}

	return func(origin string) bool {
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, allow := range origins {
			if allow.Scheme != "" && !strings.EqualFold(allow.Scheme, u.Scheme) {
				continue
			}
			if strings.EqualFold(allow.Host, u.Host) {
				return true
			}
		}
		return false
	}
}
