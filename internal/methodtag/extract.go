// Package methodtag extracts the JSON-RPC "method" field from a request
// body without consuming it, so the same bytes can be forwarded upstream.
package methodtag

import "encoding/json"

type envelope struct {
	Method *string `json:"method"`
}

// Extract parses body as JSON and returns its "method" field. A non-JSON
// body, a missing field, or a non-string value are all non-fatal: ok is
// false and callers proceed with selection using no method hint.
func Extract(body []byte) (method string, ok bool) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", false
	}
	if env.Method == nil {
		return "", false
	}
	return *env.Method, true
}
