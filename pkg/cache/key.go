package cache

import (
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every key this package writes.
const KeyPrefix = "feed"

// Key identifies a cached response.
type Key struct {
	// Path is the request path (e.g. "/messages/sample")
	Path string

	// Query holds the query parameters (e.g. offset=20)
	Query url.Values
}

// String generates a deterministic key string.
//
//	feed:messages/sample:limit=20:offset=40
//
// Repeated query values are joined with commas in their original order.
func (k Key) String() string {
	parts := []string{KeyPrefix}

	if path := strings.Trim(k.Path, "/"); path != "" {
		parts = append(parts, path)
	}

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, name+"="+strings.Join(k.Query[name], ","))
		}
	}

	return strings.Join(parts, ":")
}
