package arbitrage

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roundtrip-arb-alerts/internal/fetcher"
)

func candidate(amount string, decimals int32, label string) fetcher.Candidate {
	return fetcher.Candidate{Amount: decimal.RequireFromString(amount), Decimals: decimals, Label: label, Provider: "test"}
}

func TestSelectBest(t *testing.T) {
	t.Run("maximum across precisions", func(t *testing.T) {
		candidates := []fetcher.Candidate{
			candidate("15000000000", 9, "relay"),              // 15.0
			candidate("15100000", 6, "across"),                // 15.1
			candidate("14990000000000000000", 18, "stargate"), // 14.99
		}
		best, amount, err := SelectBest(candidates, nil)
		require.NoError(t, err)
		assert.Equal(t, "across", best.Label)
		assert.True(t, amount.Equal(decimal.RequireFromString("15.1")))

		for _, c := range candidates {
			n, err := c.Normalized()
			require.NoError(t, err)
			assert.True(t, amount.GreaterThanOrEqual(n))
		}
	})

	t.Run("excluded label never selected", func(t *testing.T) {
		candidates := []fetcher.Candidate{
			candidate("100", 0, "mayanMCTP"),
			candidate("90", 0, "relay"),
		}
		best, _, err := SelectBest(candidates, []string{"MAYANmctp"})
		require.NoError(t, err)
		assert.Equal(t, "relay", best.Label)
	})

	t.Run("ties keep first seen", func(t *testing.T) {
		candidates := []fetcher.Candidate{
			candidate("2000000000", 9, "first"),
			candidate("2000000000000000000", 18, "second"),
		}
		best, _, err := SelectBest(candidates, nil)
		require.NoError(t, err)
		assert.Equal(t, "first", best.Label)
	})

	t.Run("empty set", func(t *testing.T) {
		_, _, err := SelectBest(nil, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("fully excluded set", func(t *testing.T) {
		_, _, err := SelectBest([]fetcher.Candidate{candidate("1", 0, "MAYAN")}, []string{"mayan"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("invalid precision skipped", func(t *testing.T) {
		best, _, err := SelectBest([]fetcher.Candidate{
			candidate("999", -1, "broken"),
			candidate("1", 0, "ok"),
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", best.Label)
	})

	t.Run("deterministic across calls", func(t *testing.T) {
		candidates := []fetcher.Candidate{
			candidate("5", 0, "a"),
			candidate("7", 0, "b"),
			candidate("7", 0, "c"),
		}
		first, _, _ := SelectBest(candidates, nil)
		for i := 0; i < 10; i++ {
			again, _, _ := SelectBest(candidates, nil)
			assert.Equal(t, first, again)
		}
		assert.Equal(t, "b", first.Label)
	})
}
