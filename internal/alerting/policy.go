package alerting

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"roundtrip-arb-alerts/internal/arbitrage"
)

// Wildcard matches any label in a threshold pair.
const Wildcard = "*"

// Decision reasons.
const (
	ReasonBelowThreshold = "below_threshold"
	ReasonDuplicate      = "duplicate"
	ReasonFirstAlert     = "first_alert"
	ReasonImproved       = "improved"
)

// Severity tags an alert; it never affects suppression.
type Severity string

const (
	SeverityStandard Severity = "standard"
	SeverityHigh     Severity = "high"
)

// Pair is the ordered (forward, return) provider labels of a cycle.
type Pair struct {
	Forward string
	Return  string
}

// NewPair normalises labels for lookups.
func NewPair(forward, ret string) Pair {
	return Pair{
		Forward: strings.ToLower(strings.TrimSpace(forward)),
		Return:  strings.ToLower(strings.TrimSpace(ret)),
	}
}

func (p Pair) String() string {
	return p.Forward + "->" + p.Return
}

// Thresholds hold per-route alerting parameters.
type Thresholds struct {
	Default        decimal.Decimal
	Pairs          map[Pair]decimal.Decimal
	HighConfidence decimal.Decimal
	MinRepeatDelta decimal.Decimal
}

// Lookup resolves the threshold for p: exact pair, then (forward, *), then (*, return), then Default.
func (t Thresholds) Lookup(p Pair) decimal.Decimal {
	p = NewPair(p.Forward, p.Return)
	for _, key := range []Pair{p, {p.Forward, Wildcard}, {Wildcard, p.Return}} {
		if v, ok := t.Pairs[key]; ok {
			return v
		}
	}
	return t.Default
}

// HistoryEntry remembers the last notified profit of a pair.
type HistoryEntry struct {
	LastNotifiedProfit decimal.Decimal
	LastNotifiedAt     time.Time
}

type historyKey struct {
	route string
	pair  Pair
}

// History is the in-memory alert log. It is not safe for concurrent use and
// must only be touched from the poll loop.
type History struct {
	entries map[historyKey]HistoryEntry
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{entries: make(map[historyKey]HistoryEntry)}
}

// Get returns the entry for route and pair.
func (h *History) Get(route string, p Pair) (HistoryEntry, bool) {
	entry, ok := h.entries[historyKey{route: route, pair: NewPair(p.Forward, p.Return)}]
	return entry, ok
}

// Len reports the number of tracked pairs.
func (h *History) Len() int {
	return len(h.entries)
}

func (h *History) record(route string, p Pair, entry HistoryEntry) {
	h.entries[historyKey{route: route, pair: p}] = entry
}

// Decision is the outcome of Policy.Decide.
type Decision struct {
	Notify       bool
	Reason       string
	Pair         Pair
	Threshold    decimal.Decimal
	Severity     Severity
	Notification Notification
	// Message is the rendered Markdown text of Notification.
	Message string
}

// Policy decides whether a cycle result warrants a notification.
type Policy struct {
	now func() time.Time
}

// NewPolicy constructs a Policy using the wall clock.
func NewPolicy() *Policy {
	return &Policy{now: time.Now}
}

// Decide applies the pair threshold and repeat suppression. When it decides to
// notify, history is updated before returning, whatever happens to delivery.
func (p *Policy) Decide(result arbitrage.CycleResult, thresholds Thresholds, history *History) Decision {
	pair := NewPair(result.Forward.Selected.Label, result.Return.Selected.Label)
	threshold := thresholds.Lookup(pair)

	decision := Decision{Pair: pair, Threshold: threshold, Severity: SeverityStandard}
	if result.Profit.LessThan(threshold) {
		decision.Reason = ReasonBelowThreshold
		return decision
	}

	if last, ok := history.Get(result.Route, pair); ok {
		if !result.Profit.Sub(last.LastNotifiedProfit).GreaterThan(thresholds.MinRepeatDelta) {
			decision.Reason = ReasonDuplicate
			return decision
		}
		decision.Reason = ReasonImproved
	} else {
		decision.Reason = ReasonFirstAlert
	}

	if thresholds.HighConfidence.IsPositive() && result.Profit.GreaterThanOrEqual(thresholds.HighConfidence) {
		decision.Severity = SeverityHigh
	}

	now := p.now().UTC()
	history.record(result.Route, pair, HistoryEntry{LastNotifiedProfit: result.Profit, LastNotifiedAt: now})

	decision.Notify = true
	decision.Notification = newNotification(result, threshold, decision.Severity, now)
	decision.Message = renderMessage(decision.Notification)
	return decision
}
