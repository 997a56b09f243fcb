package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"roundtrip-arb-alerts/internal/alerting"
	"roundtrip-arb-alerts/internal/arbitrage"
	"roundtrip-arb-alerts/internal/scheduler"
	"roundtrip-arb-alerts/internal/storage"
)

// CycleEvaluator prices one round trip; *arbitrage.Evaluator satisfies it.
type CycleEvaluator interface {
	Evaluate(ctx context.Context, route arbitrage.Route) (arbitrage.CycleResult, error)
}

// Dispatcher delivers notifications and never fails; *alerting.Broadcaster satisfies it.
type Dispatcher interface {
	Send(ctx context.Context, note alerting.Notification) int
}

// GasAnnotator reports venue gas prices; *fetcher.GasOracle satisfies it.
type GasAnnotator interface {
	Enabled(venue string) bool
	GasPriceGwei(ctx context.Context, venue string) (decimal.Decimal, error)
}

// RouteSpec pairs a route with its alert thresholds.
type RouteSpec struct {
	Route      arbitrage.Route
	Thresholds alerting.Thresholds
}

// Options configure the service.
type Options struct {
	Routes          []RouteSpec
	AlertsEnabled   bool
	AdvisoryLockKey int64
	// LockTimeout bounds the advisory lock attempt.
	LockTimeout time.Duration
	// GasTimeout bounds the gas price lookup that annotates alerts.
	GasTimeout time.Duration
}

const (
	defaultLockTimeout = 3 * time.Second
	defaultGasTimeout  = 2 * time.Second
)

// Deps are the collaborators of the service. Only Evaluator is required.
type Deps struct {
	Scheduler  *scheduler.Scheduler
	Evaluator  CycleEvaluator
	Policy     *alerting.Policy
	History    *alerting.History
	Dispatcher Dispatcher
	Samples    storage.CycleSampleStore
	Alerts     storage.AlertStore
	Locker     storage.AdvisoryLocker
	Gas        GasAnnotator
}

// Outcome is the result of one route within an iteration.
type Outcome struct {
	Route     string
	Result    arbitrage.CycleResult
	Err       error
	Decision  *alerting.Decision
	Delivered int
}

// Service drives route evaluation and the alerting that follows it.
type Service struct {
	opts   Options
	deps   Deps
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs the monitoring service.
func New(opts Options, deps Deps, logger zerolog.Logger) *Service {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	if opts.GasTimeout <= 0 {
		opts.GasTimeout = defaultGasTimeout
	}
	if deps.Policy == nil {
		deps.Policy = alerting.NewPolicy()
	}
	if deps.History == nil {
		deps.History = alerting.NewHistory()
	}
	if deps.Locker == nil {
		if l, ok := deps.Samples.(storage.AdvisoryLocker); ok {
			deps.Locker = l
		}
	}
	return &Service{
		opts:   opts,
		deps:   deps,
		logger: logger.With().Str("component", "service").Logger(),
		now:    time.Now,
	}
}

// History exposes the alert history owned by the service.
func (s *Service) History() *alerting.History {
	return s.deps.History
}

// Run drives RunOnce on the scheduler until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.deps.Scheduler.Run(ctx, s.Tick)
}

// Tick adapts RunOnce to scheduler.TickFunc.
func (s *Service) Tick(ctx context.Context, iteration uint64) error {
	_, err := s.RunOnce(ctx, iteration)
	return err
}

// RunOnce 执行一次轮询：并发评估所有路线，再按配置顺序逐条记录、持久化与告警。
// A failed route never affects the others.
func (s *Service) RunOnce(ctx context.Context, iteration uint64) ([]Outcome, error) {
	unlock, proceed := s.acquireLock(ctx, iteration)
	if !proceed {
		return nil, nil
	}
	if unlock != nil {
		defer unlock()
	}

	outcomes := s.evaluateAll(ctx)

	var notify []int
	for i := range outcomes {
		spec := s.opts.Routes[i]
		outcome := &outcomes[i]

		s.logOutcome(iteration, spec, *outcome)
		s.persistSample(ctx, spec, *outcome)

		if outcome.Err != nil || !s.opts.AlertsEnabled {
			continue
		}

		decision := s.deps.Policy.Decide(outcome.Result, spec.Thresholds, s.deps.History)
		outcome.Decision = &decision
		if !decision.Notify {
			s.logger.Debug().
				Str("route", spec.Route.Name).
				Str("pair", decision.Pair.String()).
				Str("reason", decision.Reason).
				Msg("alert suppressed")
			continue
		}
		notify = append(notify, i)
	}

	annotations := s.gasAnnotations(ctx, notify)

	for k, i := range notify {
		spec := s.opts.Routes[i]
		outcome := &outcomes[i]
		decision := *outcome.Decision

		note := decision.Notification
		note.AdditionalMsg = annotations[k]

		if s.deps.Dispatcher != nil {
			outcome.Delivered = s.deps.Dispatcher.Send(ctx, note)
		}
		s.persistAlert(ctx, decision, outcome.Delivered)

		s.logger.Info().
			Str("route", spec.Route.Name).
			Str("cycle_id", outcome.Result.ID.String()).
			Str("pair", decision.Pair.String()).
			Str("profit", outcome.Result.Profit.String()).
			Str("severity", string(decision.Severity)).
			Str("reason", decision.Reason).
			Int("delivered", outcome.Delivered).
			Msg("alert dispatched")
	}

	return outcomes, nil
}

// Check evaluates every route once and reports what the policy would decide.
// Nothing is persisted or sent and the service history is left as is.
func (s *Service) Check(ctx context.Context) []Outcome {
	outcomes := s.evaluateAll(ctx)
	scratch := alerting.NewHistory()
	for i := range outcomes {
		spec := s.opts.Routes[i]
		s.logOutcome(0, spec, outcomes[i])
		if outcomes[i].Err != nil {
			continue
		}
		decision := s.deps.Policy.Decide(outcomes[i].Result, spec.Thresholds, scratch)
		outcomes[i].Decision = &decision
	}
	return outcomes
}

// evaluateAll runs every route concurrently; outcomes keep configuration order.
func (s *Service) evaluateAll(ctx context.Context) []Outcome {
	outcomes := make([]Outcome, len(s.opts.Routes))

	var g errgroup.Group
	for i, spec := range s.opts.Routes {
		i, spec := i, spec // per-iteration copies for go 1.21 loop semantics
		outcomes[i].Route = spec.Route.Name
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					outcomes[i].Err = fmt.Errorf("route %s: panic: %v", spec.Route.Name, r)
				}
			}()
			result, err := s.deps.Evaluator.Evaluate(ctx, spec.Route)
			outcomes[i].Result = result
			outcomes[i].Err = err
			return nil
		})
	}
	// errors are carried per index in outcomes
	_ = g.Wait()

	return outcomes
}

func (s *Service) logOutcome(iteration uint64, spec RouteSpec, outcome Outcome) {
	if outcome.Err != nil {
		event := s.logger.Error().Err(outcome.Err).
			Uint64("iteration", iteration).
			Str("route", spec.Route.Name)
		switch {
		case errors.Is(outcome.Err, arbitrage.ErrNoForwardRoute):
			event = event.Str("leg", "forward")
		case errors.Is(outcome.Err, arbitrage.ErrNoReturnRoute):
			event = event.Str("leg", "return")
		}
		event.Msg("cycle failed")
		return
	}

	r := outcome.Result
	s.logger.Info().
		Uint64("iteration", iteration).
		Str("route", r.Route).
		Str("cycle_id", r.ID.String()).
		Str("input", r.Input.String()+" "+r.HomeSymbol).
		Str("forward_label", r.Forward.Selected.Label).
		Str("mid", r.Forward.Amount.StringFixed(6)+" "+r.MidSymbol).
		Str("return_label", r.Return.Selected.Label).
		Str("output", r.Return.Amount.StringFixed(6)+" "+r.HomeSymbol).
		Str("profit", r.Profit.StringFixed(6)).
		Str("profit_pct", r.ProfitPct.StringFixed(3)).
		Dur("duration", r.Duration).
		Msg("cycle evaluated")
}

func (s *Service) persistSample(ctx context.Context, spec RouteSpec, outcome Outcome) {
	if s.deps.Samples == nil {
		return
	}

	sample := storage.CycleSample{
		Route:  spec.Route.Name,
		Input:  spec.Route.Input,
		Status: storage.StatusOK,
	}
	if outcome.Err != nil {
		msg := outcome.Err.Error()
		sample.ID = uuid.New()
		sample.StartedAt = s.now().UTC()
		sample.Status = storage.StatusFailed
		sample.Error = &msg
	} else {
		r := outcome.Result
		sample.ID = r.ID
		sample.StartedAt = r.StartedAt
		sample.ForwardAmount = r.Forward.Amount
		sample.ForwardLabel = r.Forward.Selected.Label
		sample.ReturnAmount = r.Return.Amount
		sample.ReturnLabel = r.Return.Selected.Label
		sample.Profit = r.Profit
		sample.ProfitPct = r.ProfitPct
	}

	if err := s.deps.Samples.InsertCycleSample(ctx, sample); err != nil {
		s.logger.Error().Err(err).Str("route", spec.Route.Name).Msg("failed to persist cycle sample")
	}
}

func (s *Service) persistAlert(ctx context.Context, decision alerting.Decision, delivered int) {
	if s.deps.Alerts == nil {
		return
	}
	note := decision.Notification
	record := storage.AlertRecord{
		CycleID:      note.CycleID,
		Route:        note.Route,
		ForwardLabel: note.ForwardLabel,
		ReturnLabel:  note.ReturnLabel,
		Profit:       note.Profit,
		Threshold:    decision.Threshold,
		Severity:     string(decision.Severity),
		Delivered:    delivered,
	}
	if _, err := s.deps.Alerts.InsertAlert(ctx, record); err != nil {
		s.logger.Error().Err(err).Str("route", note.Route).Msg("failed to persist alert record")
	}
}

// gasAnnotations looks up the home venue gas price of every notifying route
// concurrently. A slow or failing RPC yields an empty annotation.
func (s *Service) gasAnnotations(ctx context.Context, indices []int) []string {
	annotations := make([]string, len(indices))
	if s.deps.Gas == nil || len(indices) == 0 {
		return annotations
	}

	var g errgroup.Group
	for k, i := range indices {
		k := k // per-iteration copy for go 1.21 loop semantics
		route := s.opts.Routes[i].Route
		g.Go(func() error {
			annotations[k] = s.gasAnnotation(ctx, route)
			return nil
		})
	}
	// lookups never fail the iteration
	_ = g.Wait()

	return annotations
}

func (s *Service) gasAnnotation(ctx context.Context, route arbitrage.Route) string {
	if !s.deps.Gas.Enabled(route.Home.Name) {
		return ""
	}
	gasCtx, cancel := context.WithTimeout(ctx, s.opts.GasTimeout)
	defer cancel()

	gwei, err := s.deps.Gas.GasPriceGwei(gasCtx, route.Home.Name)
	if err != nil {
		s.logger.Debug().Err(err).Str("venue", route.Home.Name).Msg("gas price unavailable")
		return ""
	}
	return fmt.Sprintf("Gas on %s: %s gwei\n", route.Home.Name, gwei.StringFixed(4))
}

// acquireLock reports whether this iteration should run. Only a lock held by
// another instance skips it; lock errors are logged and the iteration runs unlocked.
func (s *Service) acquireLock(ctx context.Context, iteration uint64) (func(), bool) {
	if s.opts.AdvisoryLockKey == 0 || s.deps.Locker == nil {
		return nil, true
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.opts.LockTimeout)
	defer cancel()

	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(lockCtx, s.opts.AdvisoryLockKey)
	if err != nil {
		s.logger.Warn().Err(err).Uint64("iteration", iteration).Msg("advisory lock unavailable; evaluating without it")
		return nil, true
	}
	if !acquired {
		s.logger.Debug().Uint64("iteration", iteration).Msg("skip iteration because advisory lock held elsewhere")
		return nil, false
	}
	return unlock, true
}
