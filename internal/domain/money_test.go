package domain

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{name: "whole", raw: "1", want: "1", ok: true},
		{name: "fraction", raw: " 0.5 ", want: "0.5", ok: true},
		{name: "one_wei", raw: "0.000000000000000001", want: "0.000000000000000001", ok: true},
		{name: "too_precise", raw: "0.0000000000000000001", ok: false},
		{name: "zero", raw: "0", ok: false},
		{name: "negative", raw: "-1", ok: false},
		{name: "empty", raw: "", ok: false},
		{name: "garbage", raw: "ten", ok: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAmount(tc.raw)
			if !tc.ok {
				require.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			require.True(t, got.Equal(decimal.RequireFromString(tc.want)))
		})
	}
}

func TestWeiConversion(t *testing.T) {
	half := decimal.RequireFromString("0.5")
	wei := ToWei(half)
	require.Equal(t, "500000000000000000", wei.String())
	require.True(t, FromWei(wei).Equal(half))

	require.True(t, FromWei(nil).IsZero())
	require.Equal(t, big.NewInt(1), ToWei(decimal.RequireFromString("0.0000000000000000019")))
}
