package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"roundtrip-arb-alerts/internal/arbitrage"
	"roundtrip-arb-alerts/internal/fetcher"
	"roundtrip-arb-alerts/internal/service"
	"roundtrip-arb-alerts/internal/units"
)

const simulatedProvider = "simulated"

// SimulateAlert 用固定报价跑一次完整的评估与告警流程，用于验证告警通道配置。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}

	broadcaster, closeNotifiers, err := a.newBroadcaster()
	if err != nil {
		return err
	}
	defer closeNotifiers()
	if broadcaster.Len() == 0 {
		return errors.New("no alert channel configured")
	}

	spec, err := a.simulatedRoute(opts)
	if err != nil {
		return err
	}

	svc := service.New(service.Options{
		Routes:        []service.RouteSpec{spec},
		AlertsEnabled: true,
	}, service.Deps{
		Evaluator:  a.newEvaluator(),
		Dispatcher: broadcaster,
	}, a.Logger)

	outcomes, err := svc.RunOnce(ctx, 0)
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		return errors.New("simulation produced no outcome")
	}

	o := outcomes[0]
	if o.Err != nil {
		return o.Err
	}
	if o.Decision == nil || !o.Decision.Notify {
		reason := "unknown"
		if o.Decision != nil {
			reason = o.Decision.Reason
		}
		return fmt.Errorf("profit %s did not trigger an alert: %s", o.Result.Profit, reason)
	}
	if o.Delivered == 0 {
		return errors.New("alert delivery failed on every channel; see logs")
	}

	a.Logger.Info().
		Str("route", spec.Route.Name).
		Str("profit", o.Result.Profit.String()).
		Int("delivered", o.Delivered).
		Msg("simulated alert sent")
	return nil
}

// simulatedRoute takes the configured route and replaces both legs with fixed quotes
// so the round trip yields exactly opts.Profit.
func (a *App) simulatedRoute(opts SimulateOptions) (service.RouteSpec, error) {
	if len(a.Config.Routes) == 0 {
		return service.RouteSpec{}, errors.New("no route configured")
	}
	name := opts.Route
	if name == "" {
		name = a.Config.Routes[0].Name
	}
	rc, ok := a.Config.Route(name)
	if !ok {
		return service.RouteSpec{}, fmt.Errorf("unknown route %q", name)
	}

	spec, err := a.buildRoute(rc, nil)
	if err != nil {
		return service.RouteSpec{}, err
	}

	forwardLabel := defaultLabel(opts.ForwardLabel)
	returnLabel := defaultLabel(opts.ReturnLabel)

	// 中间资产数量仅用于展示，直接沿用输入数量。
	forward, err := newStaticFetcher(forwardLabel, rc.Input, rc.RemoteAsset.Decimals)
	if err != nil {
		return service.RouteSpec{}, err
	}
	back, err := newStaticFetcher(returnLabel, rc.Input.Add(opts.Profit), rc.HomeAsset.Decimals)
	if err != nil {
		return service.RouteSpec{}, err
	}

	spec.Route.Forward = arbitrage.Leg{Fetchers: []fetcher.QuoteFetcher{forward}}
	spec.Route.Return = arbitrage.Leg{Fetchers: []fetcher.QuoteFetcher{back}}
	spec.Route.ExcludeForwardOnReturn = false
	return spec, nil
}

func defaultLabel(label string) string {
	if label == "" {
		return simulatedProvider
	}
	return label
}

// staticFetcher always answers with the same candidate.
type staticFetcher struct {
	candidate fetcher.Candidate
}

var _ fetcher.QuoteFetcher = (*staticFetcher)(nil)

func newStaticFetcher(label string, amount decimal.Decimal, decimals int32) (*staticFetcher, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("simulated amount %s is negative", amount)
	}
	raw, err := units.ToSmallestUnit(amount, decimals)
	if err != nil {
		return nil, err
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	return &staticFetcher{candidate: fetcher.Candidate{
		Amount:   value,
		Decimals: decimals,
		Label:    label,
		Provider: simulatedProvider,
	}}, nil
}

func (s *staticFetcher) Name() string { return simulatedProvider }

func (s *staticFetcher) FetchCandidates(ctx context.Context, req fetcher.TransferRequest) ([]fetcher.Candidate, error) {
	return []fetcher.Candidate{s.candidate}, nil
}
