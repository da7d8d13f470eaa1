package supabridge

import (
	"encoding/json"
	"math"
)

// Claims is a decoded upstream token payload.
type Claims map[string]any

// String returns the claim as a string, or "" when it is absent or not a string.
func (c Claims) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Int64 returns a numeric claim truncated to whole seconds. Non-numeric and
// non-finite values report false.
func (c Claims) Int64(key string) (int64, bool) {
	switch v := c[key].(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}

		f, err := v.Float64()
		if err != nil {
			return 0, false
		}

		return truncate(f)
	case float64:
		return truncate(v)
	case float32:
		return truncate(float64(v))
	case int:
		return int64(v), true
	case int64:
		return v, true
	case int32:
		return int64(v), true
	default:
		return 0, false
	}
}

func truncate(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}

	return int64(f), true
}
