// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package arbmath

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaturatingUnsigned(t *testing.T) {
	t.Run("add", func(t *testing.T) {
		require.Equal(t, uint64(5), SaturatingUAdd(uint64(2), uint64(3)))
		require.Equal(t, uint64(math.MaxUint64), SaturatingUAdd(uint64(math.MaxUint64-1), uint64(2)))
		require.Equal(t, uint8(255), SaturatingUAdd(uint8(200), uint8(100)))
	})
	t.Run("sub", func(t *testing.T) {
		require.Equal(t, uint64(1), SaturatingUSub(uint64(3), uint64(2)))
		require.Equal(t, uint64(0), SaturatingUSub(uint64(2), uint64(3)))
		require.Equal(t, uint64(0), SaturatingUSub(uint64(3), uint64(3)))
	})
	t.Run("mul", func(t *testing.T) {
		require.Equal(t, uint64(6), SaturatingUMul(uint64(2), uint64(3)))
		require.Equal(t, uint64(0), SaturatingUMul(uint64(0), uint64(math.MaxUint64)))
		require.Equal(t, uint64(math.MaxUint64), SaturatingUMul(uint64(1)<<40, uint64(1)<<40))
	})
}

func TestMinMax(t *testing.T) {
	require.Equal(t, uint64(3), MinInt(uint64(3), uint64(7)))
	require.Equal(t, 7, MaxInt(3, 7, -1))
	require.Equal(t, int64(-1), MaxInt(int64(-1)))
}

func TestBigHelpers(t *testing.T) {
	a := big.NewInt(10)
	b := big.NewInt(4)
	require.Equal(t, big.NewInt(14), BigAdd(a, b))
	require.Equal(t, big.NewInt(6), BigSub(a, b))
	require.Equal(t, big.NewInt(40), BigMulByUint(a, 4))
	require.Equal(t, big.NewInt(2), BigDivByUint(a, 4))
	require.Equal(t, big.NewInt(15), BigMulByUfrac(a, 3, 2))
	require.True(t, BigLessThan(b, a))
	require.True(t, BigGreaterThan(a, b))
	require.True(t, BigGreaterThanOrEqual(a, big.NewInt(10)))
	require.Equal(t, b, BigMin(a, b))
	require.True(t, BigIsZero(nil))
	require.True(t, BigIsZero(new(big.Int)))
	require.False(t, BigIsZero(a))

	c := BigCopy(a)
	c.SetInt64(1)
	require.Equal(t, big.NewInt(10), a, "copy must not alias")
	require.Equal(t, new(big.Int), BigCopy(nil))
}
