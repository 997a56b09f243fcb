package arbitrage

import (
	"strings"

	"github.com/shopspring/decimal"

	"roundtrip-arb-alerts/internal/fetcher"
)

// SelectBest returns the candidate with the largest human-scale output after
// dropping excluded labels (case-insensitive). Ties keep the earliest candidate.
// Candidates that cannot be normalized are ignored.
func SelectBest(candidates []fetcher.Candidate, exclude []string) (fetcher.Candidate, decimal.Decimal, error) {
	var (
		best       fetcher.Candidate
		bestAmount decimal.Decimal
		found      bool
	)

	for _, candidate := range candidates {
		if isExcluded(candidate.Label, exclude) {
			continue
		}
		amount, err := candidate.Normalized()
		if err != nil {
			continue
		}
		if !found || amount.GreaterThan(bestAmount) {
			best, bestAmount, found = candidate, amount, true
		}
	}

	if !found {
		return fetcher.Candidate{}, decimal.Decimal{}, ErrNotFound
	}
	return best, bestAmount, nil
}

func isExcluded(label string, exclude []string) bool {
	label = strings.TrimSpace(label)
	for _, name := range exclude {
		if strings.EqualFold(label, strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}
