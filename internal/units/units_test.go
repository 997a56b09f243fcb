package units

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSmallestUnit(t *testing.T) {
	t.Run("whole ether", func(t *testing.T) {
		got, err := ToSmallestUnit(decimal.RequireFromString("2.0"), 18)
		require.NoError(t, err)
		assert.Equal(t, "2000000000000000000", got)
	})

	t.Run("truncates extra digits", func(t *testing.T) {
		got, err := ToSmallestUnit(decimal.RequireFromString("1.23456789119"), 9)
		require.NoError(t, err)
		assert.Equal(t, "1234567891", got)
	})

	t.Run("truncates toward zero for negatives", func(t *testing.T) {
		got, err := ToSmallestUnit(decimal.RequireFromString("-1.99"), 0)
		require.NoError(t, err)
		assert.Equal(t, "-1", got)
	})

	t.Run("zero precision", func(t *testing.T) {
		got, err := ToSmallestUnit(decimal.RequireFromString("42.9"), 0)
		require.NoError(t, err)
		assert.Equal(t, "42", got)
	})

	t.Run("negative precision", func(t *testing.T) {
		_, err := ToSmallestUnit(decimal.NewFromInt(1), -1)
		assert.ErrorIs(t, err, ErrInvalidPrecision)
	})
}

func TestFromSmallestUnit(t *testing.T) {
	got, err := FromSmallestUnit(decimal.RequireFromString("2006000000000000000"), 18)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("2.006")), "got %s", got)

	_, err = FromSmallestUnit(decimal.NewFromInt(1), -3)
	assert.ErrorIs(t, err, ErrInvalidPrecision)
}

func TestParseSmallestUnit(t *testing.T) {
	got, err := ParseSmallestUnit(" 123456789 ", 9)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("0.123456789")))

	_, err = ParseSmallestUnit("12abc", 9)
	assert.Error(t, err)
}

func TestRoundTripTruncates(t *testing.T) {
	cases := []struct {
		amount    string
		precision int32
	}{
		{"0", 0},
		{"0", 18},
		{"2.0", 18},
		{"1.000000000000000000123", 18},
		{"31.4159265358979", 6},
		{"0.999999999", 3},
		{"123456789.987654321", 9},
		{"7.5", 0},
	}

	for _, tc := range cases {
		amount := decimal.RequireFromString(tc.amount)
		raw, err := ToSmallestUnit(amount, tc.precision)
		require.NoError(t, err)

		back, err := ParseSmallestUnit(raw, tc.precision)
		require.NoError(t, err)
		assert.True(t, back.Equal(amount.Truncate(tc.precision)),
			"amount %s precision %d: got %s", tc.amount, tc.precision, back)
	}
}

func TestPercent(t *testing.T) {
	got := Percent(decimal.RequireFromString("0.006"), decimal.RequireFromString("2.0"))
	assert.True(t, got.Equal(decimal.RequireFromString("0.3")), "got %s", got)

	assert.True(t, Percent(decimal.NewFromInt(1), decimal.Zero).IsZero())

	third := Percent(decimal.NewFromInt(1), decimal.NewFromInt(3))
	assert.True(t, third.GreaterThan(decimal.RequireFromString("33.333333333333333333")))
}
