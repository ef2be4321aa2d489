package xmemcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticServers(t *testing.T) {
	servers := StaticServers("server1:11211", "server2:11211", "server3:11211")

	require.Len(t, servers, 3)
	assert.Equal(t, Server{Addr: "server1:11211", Weight: 1}, servers[0])
	assert.Equal(t, "server3:11211", servers[2].Addr)

	assert.Empty(t, StaticServers())
}

func TestServer_Weight(t *testing.T) {
	assert.Equal(t, 1, Server{Addr: "a:1"}.weight())
	assert.Equal(t, 1, Server{Addr: "a:1", Weight: -3}.weight())
	assert.Equal(t, 4, Server{Addr: "a:1", Weight: 4}.weight())
}

func TestParseServers(t *testing.T) {
	servers, err := ParseServers("10.0.0.1:11211=2 10.0.0.2:11211,\tlocalhost:11212=5")
	require.NoError(t, err)
	assert.Equal(t, []Server{
		{Addr: "10.0.0.1:11211", Weight: 2},
		{Addr: "10.0.0.2:11211", Weight: 1},
		{Addr: "localhost:11212", Weight: 5},
	}, servers)
}

func TestParseServers_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		is    error
	}{
		{name: "empty", input: "  ,", is: ErrNoServers},
		{name: "duplicate", input: "a:1 a:1", is: ErrServerExists},
		{name: "missing port", input: "localhost"},
		{name: "bad weight", input: "a:1=x"},
		{name: "zero weight", input: "a:1=0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseServers(tt.input)
			require.Error(t, err)
			if tt.is != nil {
				require.ErrorIs(t, err, tt.is)
			}
		})
	}
}
