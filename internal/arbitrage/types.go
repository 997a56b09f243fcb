// Package arbitrage evaluates round-trip transfer cycles across two venues.
package arbitrage

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"roundtrip-arb-alerts/internal/fetcher"
)

var (
	// ErrNotFound is returned by SelectBest when no candidate survives filtering.
	ErrNotFound = errors.New("no selectable candidate")
	// ErrNoForwardRoute fails a cycle whose home->remote leg produced nothing.
	ErrNoForwardRoute = errors.New("no forward route")
	// ErrNoReturnRoute fails a cycle whose remote->home leg produced nothing.
	ErrNoReturnRoute = errors.New("no return route")
)

// Leg lists the providers queried for one direction and the labels never selected on it.
type Leg struct {
	Fetchers []fetcher.QuoteFetcher
	Exclude  []string
}

// Route describes one monitored round trip.
type Route struct {
	Name         string
	Home         fetcher.Venue
	Remote       fetcher.Venue
	HomeAsset    fetcher.Asset
	RemoteAsset  fetcher.Asset
	HomeWallet   string
	RemoteWallet string
	// Input is the human-scale amount of HomeAsset sent on the forward leg.
	Input   decimal.Decimal
	Forward Leg
	Return  Leg
	// ExcludeForwardOnReturn drops the forward leg's label from return candidates.
	ExcludeForwardOnReturn bool
}

// LegResult is the selected quote of one leg.
type LegResult struct {
	Selected   fetcher.Candidate
	Amount     decimal.Decimal
	Candidates int
}

// CycleResult is one evaluated forward+return round trip.
type CycleResult struct {
	ID         uuid.UUID
	Route      string
	StartedAt  time.Time
	Duration   time.Duration
	Input      decimal.Decimal
	Forward    LegResult
	Return     LegResult
	Profit     decimal.Decimal
	ProfitPct  decimal.Decimal
	HomeSymbol string
	MidSymbol  string
}
