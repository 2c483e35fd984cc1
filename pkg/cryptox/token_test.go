package cryptox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantLen int
	}{
		{"128-bit token", TokenSize128, 22},
		{"256-bit token", TokenSize256, 43},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := GenerateToken(tt.size)
			require.NoError(t, err)
			require.Len(t, token, tt.wantLen)

			other, err := GenerateToken(tt.size)
			require.NoError(t, err)
			require.NotEqual(t, token, other, "tokens should be unique")
		})
	}
}

func TestGenerateToken_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		token, err := GenerateToken(size)
		require.Error(t, err)
		require.Empty(t, token)
	}
}

func TestFingerprintToken(t *testing.T) {
	a := FingerprintToken("token-a")

	require.Equal(t, a, FingerprintToken("token-a"), "fingerprint should be deterministic")
	require.NotEqual(t, a, FingerprintToken("token-b"))
	require.Len(t, a, 43, "SHA-256 base64url should be 43 chars")

	require.True(t, EqualFingerprints(a, FingerprintToken("token-a")))
	require.False(t, EqualFingerprints(a, FingerprintToken("token-b")))
}
