package dbsync

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceInt64(t *testing.T) {
	for _, value := range []interface{}{
		int64(42), int32(42), 42, uint64(42), uint32(42), float64(42), []byte("42"), "42",
	} {
		id, err := coerceInt64(value)
		require.NoError(t, err, "%T", value)
		assert.Equal(t, int64(42), id, "%T", value)
	}

	id, err := coerceInt64("-7")
	require.NoError(t, err)
	assert.Equal(t, int64(-7), id)
}

func TestCoerceInt64Errors(t *testing.T) {
	for _, value := range []interface{}{
		nil, uint64(math.MaxUint64), 1.5, "abc", []byte("1e3"), time.Now(), true,
	} {
		_, err := coerceInt64(value)
		assert.Error(t, err, "%T %v", value, value)
	}
}
