package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roundtrip-arb-alerts/internal/alerting"
	"roundtrip-arb-alerts/internal/arbitrage"
	"roundtrip-arb-alerts/internal/fetcher"
	"roundtrip-arb-alerts/internal/scheduler"
	"roundtrip-arb-alerts/internal/storage"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type scriptedEvaluator struct {
	mu      sync.Mutex
	profits map[string][]string
	errs    map[string]error
	calls   map[string]int
}

func newScriptedEvaluator() *scriptedEvaluator {
	return &scriptedEvaluator{
		profits: make(map[string][]string),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (e *scriptedEvaluator) Evaluate(_ context.Context, route arbitrage.Route) (arbitrage.CycleResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.calls[route.Name]
	e.calls[route.Name]++
	if err := e.errs[route.Name]; err != nil {
		return arbitrage.CycleResult{}, err
	}
	script := e.profits[route.Name]
	if n >= len(script) {
		return arbitrage.CycleResult{}, fmt.Errorf("route %s: %w", route.Name, arbitrage.ErrNoReturnRoute)
	}
	profit := d(script[n])
	return arbitrage.CycleResult{
		ID:         uuid.New(),
		Route:      route.Name,
		StartedAt:  time.Now().UTC(),
		Input:      route.Input,
		Forward:    arbitrage.LegResult{Selected: fetcher.Candidate{Label: "A"}, Amount: d("15")},
		Return:     arbitrage.LegResult{Selected: fetcher.Candidate{Label: "B"}, Amount: route.Input.Add(profit)},
		Profit:     profit,
		ProfitPct:  profit.Div(route.Input).Mul(decimal.NewFromInt(100)),
		HomeSymbol: "ETH",
		MidSymbol:  "SOL",
	}, nil
}

type recordingDispatcher struct {
	notes []alerting.Notification
}

func (r *recordingDispatcher) Send(_ context.Context, note alerting.Notification) int {
	r.notes = append(r.notes, note)
	return 1
}

type memoryStore struct {
	samples []storage.CycleSample
	alerts  []storage.AlertRecord
	fail    bool
}

func (m *memoryStore) InsertCycleSample(_ context.Context, sample storage.CycleSample) error {
	if m.fail {
		return errors.New("db down")
	}
	m.samples = append(m.samples, sample)
	return nil
}

func (m *memoryStore) ListSamplesBetween(context.Context, string, time.Time, time.Time) ([]storage.CycleSample, error) {
	return m.samples, nil
}

func (m *memoryStore) ListRecentSamples(context.Context, int) ([]storage.CycleSample, error) {
	return m.samples, nil
}

func (m *memoryStore) CountSamples(context.Context) (int64, error) {
	return int64(len(m.samples)), nil
}

func (m *memoryStore) InsertAlert(_ context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	if m.fail {
		return storage.AlertRecord{}, errors.New("db down")
	}
	m.alerts = append(m.alerts, alert)
	return alert, nil
}

func (m *memoryStore) ListRecentAlerts(context.Context, int) ([]storage.AlertRecord, error) {
	return m.alerts, nil
}

func (m *memoryStore) DeleteAlertsBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type stubLocker struct {
	acquired bool
	unlocked int
	err      error
	// block waits for the caller's deadline before failing
	block bool
}

func (l *stubLocker) TryAdvisoryLock(ctx context.Context, _ int64) (func(), bool, error) {
	if l.block {
		<-ctx.Done()
		return nil, false, ctx.Err()
	}
	if l.err != nil {
		return nil, false, l.err
	}
	if !l.acquired {
		return nil, false, nil
	}
	return func() { l.unlocked++ }, true, nil
}

type stubGas struct{}

func (stubGas) Enabled(venue string) bool { return venue == "base" }

func (stubGas) GasPriceGwei(context.Context, string) (decimal.Decimal, error) {
	return d("0.0123"), nil
}

func spec(name string) RouteSpec {
	return RouteSpec{
		Route: arbitrage.Route{
			Name:  name,
			Home:  fetcher.Venue{Name: "base"},
			Input: d("2"),
		},
		Thresholds: alerting.Thresholds{Default: d("0.004"), MinRepeatDelta: d("0.0002")},
	}
}

func TestRunOnceAlertsAndSuppressesRepeats(t *testing.T) {
	eval := newScriptedEvaluator()
	eval.profits["r"] = []string{"0.005", "0.0051", "0.0055"}
	dispatcher := &recordingDispatcher{}
	store := &memoryStore{}

	svc := New(Options{Routes: []RouteSpec{spec("r")}, AlertsEnabled: true}, Deps{
		Evaluator:  eval,
		Dispatcher: dispatcher,
		Samples:    store,
		Alerts:     store,
	}, zerolog.Nop())

	var delivered []int
	for i := uint64(1); i <= 3; i++ {
		outcomes, err := svc.RunOnce(context.Background(), i)
		require.NoError(t, err)
		require.Len(t, outcomes, 1)
		require.NotNil(t, outcomes[0].Decision)
		delivered = append(delivered, outcomes[0].Delivered)
	}

	assert.Equal(t, []int{1, 0, 1}, delivered)
	require.Len(t, dispatcher.notes, 2)
	assert.True(t, dispatcher.notes[1].Profit.Equal(d("0.0055")))
	assert.Len(t, store.samples, 3)
	assert.Len(t, store.alerts, 2)
	assert.Equal(t, "A", store.alerts[0].ForwardLabel)
}

func TestRunOnceIsolatesFailingRoute(t *testing.T) {
	eval := newScriptedEvaluator()
	eval.errs["broken"] = fmt.Errorf("route broken: %w", arbitrage.ErrNoForwardRoute)
	eval.profits["ok"] = []string{"0.01"}
	dispatcher := &recordingDispatcher{}
	store := &memoryStore{}

	svc := New(Options{Routes: []RouteSpec{spec("broken"), spec("ok")}, AlertsEnabled: true}, Deps{
		Evaluator:  eval,
		Dispatcher: dispatcher,
		Samples:    store,
	}, zerolog.Nop())

	outcomes, err := svc.RunOnce(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.Equal(t, "broken", outcomes[0].Route)
	assert.ErrorIs(t, outcomes[0].Err, arbitrage.ErrNoForwardRoute)
	assert.Nil(t, outcomes[0].Decision)
	assert.Equal(t, "ok", outcomes[1].Route)
	assert.NoError(t, outcomes[1].Err)
	assert.Len(t, dispatcher.notes, 1)

	require.Len(t, store.samples, 2)
	assert.Equal(t, storage.StatusFailed, store.samples[0].Status)
	require.NotNil(t, store.samples[0].Error)
	assert.Equal(t, storage.StatusOK, store.samples[1].Status)
}

func TestRunOnceStorageFailureDoesNotBlockAlerts(t *testing.T) {
	eval := newScriptedEvaluator()
	eval.profits["r"] = []string{"0.01"}
	dispatcher := &recordingDispatcher{}
	store := &memoryStore{fail: true}

	svc := New(Options{Routes: []RouteSpec{spec("r")}, AlertsEnabled: true}, Deps{
		Evaluator:  eval,
		Dispatcher: dispatcher,
		Samples:    store,
		Alerts:     store,
		Gas:        stubGas{},
	}, zerolog.Nop())

	_, err := svc.RunOnce(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, dispatcher.notes, 1)
	assert.Contains(t, dispatcher.notes[0].AdditionalMsg, "0.0123 gwei")
	assert.Equal(t, 1, svc.History().Len())
}

func TestRunOnceAlertsDisabled(t *testing.T) {
	eval := newScriptedEvaluator()
	eval.profits["r"] = []string{"1"}
	dispatcher := &recordingDispatcher{}

	svc := New(Options{Routes: []RouteSpec{spec("r")}}, Deps{Evaluator: eval, Dispatcher: dispatcher}, zerolog.Nop())
	outcomes, err := svc.RunOnce(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, outcomes[0].Decision)
	assert.Empty(t, dispatcher.notes)
	assert.Equal(t, 0, svc.History().Len())
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	eval := newScriptedEvaluator()
	eval.profits["r"] = []string{"0.01"}
	locker := &stubLocker{}

	svc := New(Options{Routes: []RouteSpec{spec("r")}, AdvisoryLockKey: 42}, Deps{Evaluator: eval, Locker: locker}, zerolog.Nop())

	outcomes, err := svc.RunOnce(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, outcomes)
	assert.Equal(t, 0, eval.calls["r"])

	locker.acquired = true
	outcomes, err = svc.RunOnce(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, outcomes, 1)
	assert.Equal(t, 1, locker.unlocked)
}

func TestRunOnceEvaluatesWhenLockFails(t *testing.T) {
	eval := newScriptedEvaluator()
	eval.profits["r"] = []string{"0.01"}
	dispatcher := &recordingDispatcher{}
	locker := &stubLocker{err: errors.New("db unreachable")}

	svc := New(Options{Routes: []RouteSpec{spec("r")}, AlertsEnabled: true, AdvisoryLockKey: 42}, Deps{
		Evaluator:  eval,
		Dispatcher: dispatcher,
		Locker:     locker,
	}, zerolog.Nop())

	outcomes, err := svc.RunOnce(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, 1, eval.calls["r"])
	assert.Len(t, dispatcher.notes, 1)
	assert.Equal(t, 0, locker.unlocked)
}

func TestRunOnceBoundsLockAttempt(t *testing.T) {
	eval := newScriptedEvaluator()
	eval.profits["r"] = []string{"0.01"}
	dispatcher := &recordingDispatcher{}

	svc := New(Options{
		Routes:          []RouteSpec{spec("r")},
		AlertsEnabled:   true,
		AdvisoryLockKey: 42,
		LockTimeout:     20 * time.Millisecond,
	}, Deps{
		Evaluator:  eval,
		Dispatcher: dispatcher,
		Locker:     &stubLocker{block: true},
	}, zerolog.Nop())

	start := time.Now()
	outcomes, err := svc.RunOnce(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Len(t, dispatcher.notes, 1)
	assert.Less(t, time.Since(start), time.Second)
}

type slowGas struct{}

func (slowGas) Enabled(string) bool { return true }

func (slowGas) GasPriceGwei(ctx context.Context, _ string) (decimal.Decimal, error) {
	<-ctx.Done()
	return decimal.Decimal{}, ctx.Err()
}

func TestRunOnceSlowGasDoesNotDelayAlerts(t *testing.T) {
	eval := newScriptedEvaluator()
	eval.profits["a"] = []string{"0.01"}
	eval.profits["b"] = []string{"0.02"}
	dispatcher := &recordingDispatcher{}

	svc := New(Options{
		Routes:        []RouteSpec{spec("a"), spec("b")},
		AlertsEnabled: true,
		GasTimeout:    200 * time.Millisecond,
	}, Deps{
		Evaluator:  eval,
		Dispatcher: dispatcher,
		Gas:        slowGas{},
	}, zerolog.Nop())

	start := time.Now()
	outcomes, err := svc.RunOnce(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	require.Len(t, dispatcher.notes, 2)
	assert.Equal(t, "a", dispatcher.notes[0].Route)
	assert.Equal(t, "b", dispatcher.notes[1].Route)
	assert.Empty(t, dispatcher.notes[0].AdditionalMsg)
	// both lookups share one deadline instead of running back to back
	assert.Less(t, time.Since(start), 390*time.Millisecond)
}

func TestCheckDoesNotTouchHistory(t *testing.T) {
	eval := newScriptedEvaluator()
	eval.profits["r"] = []string{"0.01", "0.01"}
	dispatcher := &recordingDispatcher{}

	svc := New(Options{Routes: []RouteSpec{spec("r")}, AlertsEnabled: true}, Deps{Evaluator: eval, Dispatcher: dispatcher}, zerolog.Nop())

	for i := 0; i < 2; i++ {
		outcomes := svc.Check(context.Background())
		require.Len(t, outcomes, 1)
		require.NotNil(t, outcomes[0].Decision)
		assert.True(t, outcomes[0].Decision.Notify)
	}
	assert.Empty(t, dispatcher.notes)
	assert.Equal(t, 0, svc.History().Len())
}

func TestRunUsesScheduler(t *testing.T) {
	eval := newScriptedEvaluator()
	eval.profits["r"] = []string{"0.01", "0.01"}
	dispatcher := &recordingDispatcher{}

	sched := scheduler.New(scheduler.Options{Interval: time.Millisecond, MaxIterations: 2}, zerolog.Nop())
	svc := New(Options{Routes: []RouteSpec{spec("r")}, AlertsEnabled: true}, Deps{
		Scheduler:  sched,
		Evaluator:  eval,
		Dispatcher: dispatcher,
	}, zerolog.Nop())

	require.NoError(t, svc.Run(context.Background()))
	assert.Equal(t, 2, eval.calls["r"])
	assert.Len(t, dispatcher.notes, 1, "identical profit must not alert twice")
}
