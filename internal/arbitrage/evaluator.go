package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"roundtrip-arb-alerts/internal/fetcher"
	"roundtrip-arb-alerts/internal/units"
)

// EvaluatorOptions tune cycle evaluation.
type EvaluatorOptions struct {
	// CallTimeout bounds each provider call independently of its siblings.
	CallTimeout time.Duration
}

// Evaluator runs forward and return legs of a route and computes profit.
// It holds no cross-cycle state.
type Evaluator struct {
	opts   EvaluatorOptions
	logger zerolog.Logger
	now    func() time.Time
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(opts EvaluatorOptions, logger zerolog.Logger) *Evaluator {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 15 * time.Second
	}
	return &Evaluator{
		opts:   opts,
		logger: logger.With().Str("component", "evaluator").Logger(),
		now:    time.Now,
	}
}

// Evaluate prices one round trip. The return leg is only requested once the
// forward leg has a selected candidate; a failed leg fails the whole cycle.
func (e *Evaluator) Evaluate(ctx context.Context, route Route) (CycleResult, error) {
	started := e.now().UTC()

	amountIn, err := units.ToSmallestUnit(route.Input, route.HomeAsset.Decimals)
	if err != nil {
		return CycleResult{}, fmt.Errorf("route %s input: %w", route.Name, err)
	}

	forwardReq := fetcher.TransferRequest{
		Origin:      route.Home,
		Destination: route.Remote,
		AssetIn:     route.HomeAsset,
		AssetOut:    route.RemoteAsset,
		AmountIn:    amountIn,
		Sender:      route.HomeWallet,
		Recipient:   route.RemoteWallet,
	}
	forward, err := e.runLeg(ctx, forwardReq, route.Forward.Fetchers, route.Forward.Exclude)
	if err != nil {
		return CycleResult{}, fmt.Errorf("route %s: %w", route.Name, errors.Join(ErrNoForwardRoute, err))
	}

	returnIn, err := units.ToSmallestUnit(forward.Amount, route.RemoteAsset.Decimals)
	if err != nil {
		return CycleResult{}, fmt.Errorf("route %s return input: %w", route.Name, err)
	}

	returnReq := fetcher.TransferRequest{
		Origin:      route.Remote,
		Destination: route.Home,
		AssetIn:     route.RemoteAsset,
		AssetOut:    route.HomeAsset,
		AmountIn:    returnIn,
		Sender:      route.RemoteWallet,
		Recipient:   route.HomeWallet,
	}
	exclude := route.Return.Exclude
	if route.ExcludeForwardOnReturn {
		exclude = append(append([]string(nil), exclude...), forward.Selected.Label)
	}
	back, err := e.runLeg(ctx, returnReq, route.Return.Fetchers, exclude)
	if err != nil {
		return CycleResult{}, fmt.Errorf("route %s: %w", route.Name, errors.Join(ErrNoReturnRoute, err))
	}

	profit := back.Amount.Sub(route.Input)

	return CycleResult{
		ID:         uuid.New(),
		Route:      route.Name,
		StartedAt:  started,
		Duration:   e.now().UTC().Sub(started),
		Input:      route.Input,
		Forward:    forward,
		Return:     back,
		Profit:     profit,
		ProfitPct:  units.Percent(profit, route.Input),
		HomeSymbol: route.HomeAsset.Symbol,
		MidSymbol:  route.RemoteAsset.Symbol,
	}, nil
}

// runLeg queries every fetcher concurrently and selects over the union of
// successful results, kept in fetcher order so completion order is irrelevant.
func (e *Evaluator) runLeg(ctx context.Context, req fetcher.TransferRequest, fetchers []fetcher.QuoteFetcher, exclude []string) (LegResult, error) {
	if len(fetchers) == 0 {
		return LegResult{}, errors.New("no quote providers configured")
	}

	results := make([][]fetcher.Candidate, len(fetchers))
	failures := make([]error, len(fetchers))

	var g errgroup.Group
	g.SetLimit(len(fetchers))
	for i, f := range fetchers {
		i, f := i, f // per-iteration copies for go 1.21 loop semantics
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					failures[i] = fmt.Errorf("%s: panic: %v", f.Name(), r)
				}
			}()

			callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
			defer cancel()

			candidates, err := f.FetchCandidates(callCtx, req)
			if err != nil {
				failures[i] = fmt.Errorf("%s: %w", f.Name(), err)
				return nil
			}
			results[i] = candidates
			return nil
		})
	}
	// failures are collected per index, not through the group
	_ = g.Wait()

	var (
		union []fetcher.Candidate
		errs  []error
	)
	for i := range fetchers {
		union = append(union, results[i]...)
		if failures[i] != nil {
			errs = append(errs, failures[i])
			e.logger.Warn().Err(failures[i]).
				Str("from", req.Origin.Name).
				Str("to", req.Destination.Name).
				Msg("quote provider failed")
		}
	}

	selected, amount, err := SelectBest(union, exclude)
	if err != nil {
		return LegResult{}, errors.Join(append([]error{err}, errs...)...)
	}

	return LegResult{Selected: selected, Amount: amount, Candidates: len(union)}, nil
}
