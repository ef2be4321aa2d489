package internal

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/xxh3"
)

func TestJumpHash_Bounds(t *testing.T) {
	require.Equal(t, 0, JumpHash(42, 0))
	require.Equal(t, 0, JumpHash(42, -3))
	require.Equal(t, 0, JumpHash(42, 1))

	for i := range 1000 {
		b := JumpHash(xxh3.HashString(string(rune(i))), 7)
		require.GreaterOrEqual(t, b, 0)
		require.Less(t, b, 7)
	}
}

func TestJumpHash_MinimalMovement(t *testing.T) {
	moved := 0
	const keys = 10000
	for i := range keys {
		h := uint64(i) * 0x9E3779B97F4A7C15
		before := JumpHash(h, 10)
		after := JumpHash(h, 11)
		if before != after {
			require.Equal(t, 10, after, "keys only move to the new bucket")
			moved++
		}
	}
	// roughly 1/11 of the keys move
	require.InDelta(t, keys/11, moved, keys/40)
}
