package kafka

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSeedURIPlain(t *testing.T) {
	addr, err := parseSeedURI("kafka://broker1:9093")
	require.NoError(t, err)
	require.Equal(t, "broker1", addr.Host)
	require.Equal(t, int32(9093), addr.Port)
	require.False(t, addr.TLS)
}

func TestParseSeedURITLS(t *testing.T) {
	addr, err := parseSeedURI("kafka+ssl://broker1:9093")
	require.NoError(t, err)
	require.True(t, addr.TLS)
}

func TestParseSeedURIDefaultPort(t *testing.T) {
	addr, err := parseSeedURI("kafka://broker1")
	require.NoError(t, err)
	require.Equal(t, int32(defaultBrokerPort), addr.Port)
}

func TestParseSeedURIRejectsUnknownScheme(t *testing.T) {
	_, err := parseSeedURI("http://broker1")
	require.ErrorIs(t, err, ErrInvalidURI)
	require.Contains(t, err.Error(), "invalid protocol `http` in `http://broker1`")
}

func TestParseSeedURIsFailsOnFirstBad(t *testing.T) {
	_, err := parseSeedURIs([]string{"kafka://broker1", "ftp://broker2"})
	require.ErrorIs(t, err, ErrInvalidURI)
}
