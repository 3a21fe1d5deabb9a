package client

import (
	"sort"
	"strings"
)

// Request describes one read-only call to an upstream research service.
// The wire format is owned by the transport; stages only supply a path and
// query parameters.
type Request struct {
	Path   string
	Params map[string]string
}

// Response is the result of an upstream call
type Response struct {
	StatusCode int
	Body       []byte
	FromCache  bool
}

// CacheKey computes a deterministic cache key from the service name and
// the normalized (sorted) request parameters.
func CacheKey(service string, req Request) string {
	keys := make([]string, 0, len(req.Params))
	for k := range req.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(service)
	b.WriteByte('|')
	b.WriteString(req.Path)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(req.Params[k])
	}
	return b.String()
}
