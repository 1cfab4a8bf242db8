// Package sanitize strips markup out of untrusted client payloads before
// the relay logic sees them, and validates file names and URLs that get
// passed between peers.
package sanitize

import (
	"encoding/json"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
)

var policy = bluemonday.StrictPolicy()

// String removes any markup from a single value.
func String(s string) string {
	return policy.Sanitize(s)
}

// Bytes walks a JSON document and sanitizes every string value, however
// deeply nested. Payloads come from untrusted browsers, so anything that
// fails to parse is returned untouched for the caller to reject on its own
// terms rather than dropped here.
func Bytes(data []byte) []byte {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return data
	}
	out, err := json.Marshal(walk(v))
	if err != nil {
		log.Warn().Err(err).Str("module", "sanitize").Msg("re-encode failed")
		return data
	}
	return out
}

func walk(v any) any {
	switch t := v.(type) {
	case string:
		return String(t)
	case map[string]any:
		for k, e := range t {
			t[k] = walk(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = walk(e)
		}
		return t
	default:
		return v
	}
}
