package fetcher

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"roundtrip-arb-alerts/internal/units"
)

var (
	// ErrNoRouteFound indicates a provider returned no usable quote.
	ErrNoRouteFound = errors.New("no route found")
	// ErrMalformedResponse indicates a provider response lacked required fields.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrTimeout marks a call that exceeded its deadline.
	ErrTimeout = errors.New("quote request timed out")
)

// VenueKind distinguishes address formats across venues.
type VenueKind string

const (
	VenueEVM    VenueKind = "evm"
	VenueSolana VenueKind = "solana"
)

// Venue identifies a chain as each provider names it.
type Venue struct {
	Name        string
	Kind        VenueKind
	LiFiChainID int64
	MayanChain  string
}

// Asset describes a token on a venue.
type Asset struct {
	Symbol   string
	Address  string
	Decimals int32
}

// TransferRequest asks a provider to quote moving AmountIn of AssetIn on
// Origin into AssetOut on Destination. AmountIn is in smallest units.
type TransferRequest struct {
	Origin      Venue
	Destination Venue
	AssetIn     Asset
	AssetOut    Asset
	AmountIn    string
	Sender      string
	Recipient   string
}

// Candidate is a single quote option. Amount is in smallest units of the output asset.
type Candidate struct {
	Amount   decimal.Decimal
	Decimals int32
	Label    string
	Provider string
}

// Normalized converts the candidate amount to human scale.
func (c Candidate) Normalized() (decimal.Decimal, error) {
	return units.FromSmallestUnit(c.Amount, c.Decimals)
}

// QuoteFetcher retrieves transfer quotes from one provider.
type QuoteFetcher interface {
	Name() string
	FetchCandidates(ctx context.Context, req TransferRequest) ([]Candidate, error)
}
