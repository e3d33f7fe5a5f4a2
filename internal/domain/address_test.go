package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	got, err := NormalizeAddress(" 0x9858EfFD232B4033E47d90003D41EC34EcaEda94 ")
	require.NoError(t, err)
	require.Equal(t, "0x9858effd232b4033e47d90003d41ec34ecaeda94", got)

	for _, bad := range []string{"", "0x123", "0x0000000000000000000000000000000000000000", "not-an-address"} {
		_, err := NormalizeAddress(bad)
		require.ErrorIs(t, err, ErrInvalidAddress, bad)
	}
	require.True(t, SameAddress("0xABC", " 0xabc"))
}

func TestNormalizeTxHash(t *testing.T) {
	raw := "0x" + strings.Repeat("AB", 32)
	got, err := NormalizeTxHash(raw)
	require.NoError(t, err)
	require.Equal(t, strings.ToLower(raw), got)

	got, err = NormalizeTxHash(strings.Repeat("cd", 32))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(got, "0x"))

	_, err = NormalizeTxHash("0x1234")
	require.ErrorIs(t, err, ErrInvalidTxHash)
}
