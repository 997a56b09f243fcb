package arbitrage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roundtrip-arb-alerts/internal/fetcher"
)

type stubFetcher struct {
	name       string
	candidates []fetcher.Candidate
	err        error
	delay      time.Duration
	calls      int32

	mu       sync.Mutex
	requests []fetcher.TransferRequest
}

func (s *stubFetcher) Name() string { return s.name }

func (s *stubFetcher) FetchCandidates(ctx context.Context, req fetcher.TransferRequest) ([]fetcher.Candidate, error) {
	atomic.AddInt32(&s.calls, 1)
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.candidates, s.err
}

func (s *stubFetcher) callCount() int { return int(atomic.LoadInt32(&s.calls)) }

func testRoute(forward, back []fetcher.QuoteFetcher) Route {
	return Route{
		Name:         "base-solana",
		Home:         fetcher.Venue{Name: "base", Kind: fetcher.VenueEVM, LiFiChainID: 8453},
		Remote:       fetcher.Venue{Name: "solana", Kind: fetcher.VenueSolana, LiFiChainID: 1151111081099710},
		HomeAsset:    fetcher.Asset{Symbol: "ETH", Address: "0x0000000000000000000000000000000000000000", Decimals: 18},
		RemoteAsset:  fetcher.Asset{Symbol: "SOL", Address: "11111111111111111111111111111111", Decimals: 9},
		HomeWallet:   "0xhome",
		RemoteWallet: "solwallet",
		Input:        decimal.RequireFromString("2.0"),
		Forward:      Leg{Fetchers: forward},
		Return:       Leg{Fetchers: back},
	}
}

func newTestEvaluator() *Evaluator {
	return NewEvaluator(EvaluatorOptions{CallTimeout: time.Second}, zerolog.Nop())
}

func TestEvaluateProfit(t *testing.T) {
	fwd := &stubFetcher{name: "lifi", candidates: []fetcher.Candidate{
		candidate("15000000000", 9, "relay"),
		candidate("15500000000", 9, "mayanMCTP"),
	}}
	back := &stubFetcher{name: "lifi", candidates: []fetcher.Candidate{
		candidate("2006000000000000000", 18, "across"),
	}}

	route := testRoute([]fetcher.QuoteFetcher{fwd}, []fetcher.QuoteFetcher{back})
	route.Forward.Exclude = []string{"mayanmctp"}

	result, err := newTestEvaluator().Evaluate(context.Background(), route)
	require.NoError(t, err)

	assert.Equal(t, "relay", result.Forward.Selected.Label)
	assert.True(t, result.Forward.Amount.Equal(decimal.RequireFromString("15")))
	assert.Equal(t, "across", result.Return.Selected.Label)
	assert.True(t, result.Profit.Equal(decimal.RequireFromString("0.006")), "profit %s", result.Profit)
	assert.True(t, result.ProfitPct.Equal(decimal.RequireFromString("0.3")), "pct %s", result.ProfitPct)
	assert.Equal(t, "base-solana", result.Route)
	assert.NotEqual(t, uuid.Nil, result.ID)

	require.Len(t, fwd.requests, 1)
	assert.Equal(t, "2000000000000000000", fwd.requests[0].AmountIn)
	assert.Equal(t, "0xhome", fwd.requests[0].Sender)
	assert.Equal(t, "solwallet", fwd.requests[0].Recipient)

	require.Len(t, back.requests, 1)
	assert.Equal(t, "15000000000", back.requests[0].AmountIn)
	assert.Equal(t, "solana", back.requests[0].Origin.Name)
	assert.Equal(t, "base", back.requests[0].Destination.Name)
	assert.Equal(t, "SOL", back.requests[0].AssetIn.Symbol)
	assert.Equal(t, "solwallet", back.requests[0].Sender)
}

func TestEvaluatePartialProviderFailure(t *testing.T) {
	failing := &stubFetcher{name: "lifi", err: fetcher.ErrNoRouteFound}
	surviving := &stubFetcher{name: "mayan", candidates: []fetcher.Candidate{candidate("15000000000", 9, "MAYAN")}}
	back := &stubFetcher{name: "lifi", candidates: []fetcher.Candidate{candidate("1990000000000000000", 18, "relay")}}

	route := testRoute([]fetcher.QuoteFetcher{failing, surviving}, []fetcher.QuoteFetcher{back})
	result, err := newTestEvaluator().Evaluate(context.Background(), route)
	require.NoError(t, err)

	assert.Equal(t, "MAYAN", result.Forward.Selected.Label)
	assert.True(t, result.Profit.Equal(decimal.RequireFromString("-0.01")))
	assert.Equal(t, 1, back.callCount())
}

func TestEvaluateAllForwardProvidersFail(t *testing.T) {
	first := &stubFetcher{name: "lifi", err: fetcher.ErrNoRouteFound}
	second := &stubFetcher{name: "mayan"}
	back := &stubFetcher{name: "lifi", candidates: []fetcher.Candidate{candidate("1", 18, "relay")}}

	route := testRoute([]fetcher.QuoteFetcher{first, second}, []fetcher.QuoteFetcher{back})
	_, err := newTestEvaluator().Evaluate(context.Background(), route)

	assert.ErrorIs(t, err, ErrNoForwardRoute)
	assert.ErrorIs(t, err, fetcher.ErrNoRouteFound)
	assert.Equal(t, 0, back.callCount(), "return leg must never be requested")
}

func TestEvaluateReturnLegFails(t *testing.T) {
	fwd := &stubFetcher{name: "lifi", candidates: []fetcher.Candidate{candidate("15000000000", 9, "relay")}}
	back := &stubFetcher{name: "lifi", err: errors.New("boom")}

	_, err := newTestEvaluator().Evaluate(context.Background(), testRoute([]fetcher.QuoteFetcher{fwd}, []fetcher.QuoteFetcher{back}))
	assert.ErrorIs(t, err, ErrNoReturnRoute)
	assert.NotErrorIs(t, err, ErrNoForwardRoute)
}

func TestEvaluateExcludeForwardOnReturn(t *testing.T) {
	fwd := &stubFetcher{name: "lifi", candidates: []fetcher.Candidate{candidate("15000000000", 9, "relay")}}
	back := &stubFetcher{name: "lifi", candidates: []fetcher.Candidate{
		candidate("2100000000000000000", 18, "Relay"),
		candidate("2000000000000000000", 18, "across"),
	}}

	route := testRoute([]fetcher.QuoteFetcher{fwd}, []fetcher.QuoteFetcher{back})
	route.ExcludeForwardOnReturn = true

	result, err := newTestEvaluator().Evaluate(context.Background(), route)
	require.NoError(t, err)
	assert.Equal(t, "across", result.Return.Selected.Label)

	route.ExcludeForwardOnReturn = false
	result, err = newTestEvaluator().Evaluate(context.Background(), route)
	require.NoError(t, err)
	assert.Equal(t, "Relay", result.Return.Selected.Label)
}

func TestEvaluateSlowProviderIsBounded(t *testing.T) {
	slow := &stubFetcher{name: "slow", delay: time.Minute, candidates: []fetcher.Candidate{candidate("99000000000", 9, "slow")}}
	fast := &stubFetcher{name: "fast", candidates: []fetcher.Candidate{candidate("15000000000", 9, "relay")}}
	back := &stubFetcher{name: "lifi", candidates: []fetcher.Candidate{candidate("2000000000000000000", 18, "across")}}

	evaluator := NewEvaluator(EvaluatorOptions{CallTimeout: 50 * time.Millisecond}, zerolog.Nop())

	start := time.Now()
	result, err := evaluator.Evaluate(context.Background(), testRoute([]fetcher.QuoteFetcher{slow, fast}, []fetcher.QuoteFetcher{back}))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, "relay", result.Forward.Selected.Label)
}

func TestEvaluateIndependentOfCompletionOrder(t *testing.T) {
	back := &stubFetcher{name: "lifi", candidates: []fetcher.Candidate{candidate("2000000000000000000", 18, "across")}}

	for i := 0; i < 5; i++ {
		a := &stubFetcher{name: "a", delay: time.Duration(i%2) * 10 * time.Millisecond, candidates: []fetcher.Candidate{candidate("15000000000", 9, "first")}}
		b := &stubFetcher{name: "b", delay: time.Duration((i+1)%2) * 10 * time.Millisecond, candidates: []fetcher.Candidate{candidate("15000000000", 9, "second")}}

		result, err := newTestEvaluator().Evaluate(context.Background(), testRoute([]fetcher.QuoteFetcher{a, b}, []fetcher.QuoteFetcher{back}))
		require.NoError(t, err)
		assert.Equal(t, "first", result.Forward.Selected.Label)
	}
}

type panickingFetcher struct{}

func (panickingFetcher) Name() string { return "panicky" }

func (panickingFetcher) FetchCandidates(ctx context.Context, req fetcher.TransferRequest) ([]fetcher.Candidate, error) {
	panic("unexpected payload")
}

func TestEvaluateRecoversProviderPanic(t *testing.T) {
	fast := &stubFetcher{name: "fast", candidates: []fetcher.Candidate{candidate("15000000000", 9, "relay")}}
	back := &stubFetcher{name: "lifi", candidates: []fetcher.Candidate{candidate("2000000000000000000", 18, "across")}}

	_, err := newTestEvaluator().Evaluate(context.Background(), testRoute([]fetcher.QuoteFetcher{panickingFetcher{}, fast}, []fetcher.QuoteFetcher{back}))
	require.NoError(t, err)
}

func TestEvaluateWithoutProviders(t *testing.T) {
	_, err := newTestEvaluator().Evaluate(context.Background(), testRoute(nil, nil))
	assert.ErrorIs(t, err, ErrNoForwardRoute)
}
