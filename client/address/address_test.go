package address_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flwr-go/flower-node/client/address"
)

func TestParse_IPv4(t *testing.T) {
	p, err := address.Parse("127.0.0.1:9092")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", p.Host)
	assert.EqualValues(t, 9092, p.Port)
	assert.False(t, p.IPv6)
	assert.Equal(t, "127.0.0.1:9092", p.String())
}

func TestParse_Hostname(t *testing.T) {
	p, err := address.Parse("superlink.example.com:9092")
	require.NoError(t, err)
	assert.Equal(t, "superlink.example.com", p.Host)
	assert.Equal(t, "superlink.example.com:9092", p.String())
}

func TestParse_BracketedIPv6(t *testing.T) {
	p, err := address.Parse("[::1]:9092")
	require.NoError(t, err)
	assert.Equal(t, "::1", p.Host)
	assert.EqualValues(t, 9092, p.Port)
	assert.True(t, p.IPv6)
	assert.Equal(t, "[::1]:9092", p.String())
}

func TestParse_BracketlessIPv6(t *testing.T) {
	p, err := address.Parse("2001:db8::1:9092")
	require.NoError(t, err)
	assert.True(t, p.IPv6)
	assert.EqualValues(t, 9092, p.Port)
	assert.Equal(t, "[2001:db8::1]:9092", p.String())
}

func TestParse_Malformed(t *testing.T) {
	for _, raw := range []string{"", "noport", ":9092", "host:", "host:notaport", "host:0"} {
		_, err := address.Parse(raw)
		assert.Error(t, err, raw)
	}
}
