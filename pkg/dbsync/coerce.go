package dbsync

import (
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// coerceInt64 converts an id value as returned by any of the drivers
func coerceInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, errors.Errorf("id out of range: %d", v)
		}
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, errors.Errorf("id is not an integer: %v", v)
		}
		return int64(v), nil
	case []byte:
		// This means it was sent as a unicode encoded string
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	case nil:
		return 0, errors.Errorf("id is NULL")
	default:
		return 0, errors.Errorf("can't convert id of type %T to an integer", value)
	}
}
