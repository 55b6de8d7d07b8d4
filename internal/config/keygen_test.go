package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateKeyProducesDistinctKeypairs(t *testing.T) {
	a, err := GenerateKey()
	require.NoError(t, err)
	b, err := GenerateKey()
	require.NoError(t, err)

	require.NotEqual(t, a.PublicKeyHex, b.PublicKeyHex)
	require.True(t, strings.HasPrefix(a.Account, "k:"))
	require.Equal(t, a.Account, "k:"+a.PublicKeyHex)
	require.Len(t, a.PublicKeyHex, 64)  // 32 bytes hex-encoded
	require.Len(t, a.PrivateKeyHex, 128) // 64 bytes hex-encoded
}
