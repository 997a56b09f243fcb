package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrGasOracleNotConfigured means no RPC endpoint is known for the venue.
var ErrGasOracleNotConfigured = errors.New("gas oracle: rpc url not configured")

// GasPriceReader is the subset of ethclient used by the oracle.
type GasPriceReader interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// GasOracleOptions parameterise the EVM gas oracle.
type GasOracleOptions struct {
	// RPCURLs maps venue name to an EVM JSON-RPC endpoint.
	RPCURLs map[string]string
	Timeout time.Duration
}

// GasOracle reports the suggested gas price of EVM venues. Clients are dialled
// lazily and kept for the life of the process.
type GasOracle struct {
	opts    GasOracleOptions
	logger  zerolog.Logger
	dial    func(ctx context.Context, rawURL string) (GasPriceReader, error)
	clients map[string]GasPriceReader
	mu      sync.Mutex
}

// NewGasOracle builds an oracle backed by go-ethereum's ethclient.
func NewGasOracle(opts GasOracleOptions, logger zerolog.Logger) *GasOracle {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &GasOracle{
		opts:   opts,
		logger: logger.With().Str("component", "gas_oracle").Logger(),
		dial: func(ctx context.Context, rawURL string) (GasPriceReader, error) {
			return ethclient.DialContext(ctx, rawURL)
		},
		clients: make(map[string]GasPriceReader),
	}
}

// Enabled reports whether venue has an RPC endpoint.
func (g *GasOracle) Enabled(venue string) bool {
	if g == nil {
		return false
	}
	return g.opts.RPCURLs[venue] != ""
}

// GasPriceGwei returns the venue's suggested gas price in gwei.
func (g *GasOracle) GasPriceGwei(ctx context.Context, venue string) (decimal.Decimal, error) {
	if !g.Enabled(venue) {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrGasOracleNotConfigured, venue)
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	client, err := g.getClient(ctx, venue)
	if err != nil {
		return decimal.Decimal{}, err
	}

	wei, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("suggest gas price on %s: %w", venue, err)
	}

	return decimal.NewFromBigInt(wei, -9), nil
}

func (g *GasOracle) getClient(ctx context.Context, venue string) (GasPriceReader, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if client, ok := g.clients[venue]; ok {
		return client, nil
	}

	client, err := g.dial(ctx, g.opts.RPCURLs[venue])
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", venue, err)
	}
	g.clients[venue] = client
	return client, nil
}
