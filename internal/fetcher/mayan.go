package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"roundtrip-arb-alerts/internal/units"
)

const (
	mayanQuotePath      = "/quote"
	defaultMayanBaseURL = "https://price-api.mayan.finance/v3"
	mayanProviderName   = "mayan"
	mayanLabel          = "MAYAN"
)

// MayanOptions parameterise the Mayan quote fetcher.
type MayanOptions struct {
	BaseURL     string
	SlippageBps int
	Referrer    string
	Timeout     time.Duration
	UserAgent   string
}

// Mayan fetches ranked quotes from the Mayan price API. It is supplementary:
// every failure is logged and turned into an empty result.
type Mayan struct {
	opts    MayanOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewMayan constructs a Mayan fetcher on top of a shared client.
func NewMayan(opts MayanOptions, client *http.Client, logger zerolog.Logger) *Mayan {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.SlippageBps <= 0 {
		opts.SlippageBps = 300
	}
	if client == nil {
		client = NewHTTPClient(HTTPOptions{Timeout: opts.Timeout})
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultMayanBaseURL
	}

	return &Mayan{
		opts:    opts,
		logger:  logger.With().Str("component", "mayan_fetcher").Logger(),
		client:  client,
		baseURL: baseURL,
	}
}

// Name implements QuoteFetcher.
func (m *Mayan) Name() string { return mayanProviderName }

// FetchCandidates never returns an error; unavailability only shrinks the candidate set.
func (m *Mayan) FetchCandidates(ctx context.Context, req TransferRequest) ([]Candidate, error) {
	if req.Origin.MayanChain == "" || req.Destination.MayanChain == "" {
		m.logger.Debug().Str("from", req.Origin.Name).Str("to", req.Destination.Name).Msg("venue not served by mayan")
		return nil, nil
	}

	candidates, err := m.fetch(ctx, req)
	if err != nil {
		m.logger.Warn().Err(err).
			Str("from", req.Origin.Name).
			Str("to", req.Destination.Name).
			Msg("mayan quote unavailable")
		return nil, nil
	}
	return candidates, nil
}

func (m *Mayan) fetch(ctx context.Context, req TransferRequest) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	query := url.Values{}
	query.Set("amountIn64", req.AmountIn)
	query.Set("fromToken", req.AssetIn.Address)
	query.Set("fromChain", req.Origin.MayanChain)
	query.Set("toToken", req.AssetOut.Address)
	query.Set("toChain", req.Destination.MayanChain)
	query.Set("slippageBps", strconv.Itoa(m.opts.SlippageBps))
	query.Set("wormhole", "true")
	query.Set("swift", "true")
	query.Set("mctp", "true")
	if m.opts.Referrer != "" {
		query.Set("referrer", m.opts.Referrer)
	}

	endpoint := m.baseURL + mayanQuotePath + "?" + query.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create mayan request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
		httpReq.Header.Set("User-Agent", ua)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, transportError(mayanProviderName, err)
	}
	defer resp.Body.Close()

	raw, err := readBody(resp)
	if err != nil {
		return nil, transportError(mayanProviderName, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: mayan api error (%d): %s", ErrNoRouteFound, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var quoteRes mayanQuoteResponse
	if err := json.Unmarshal(raw, &quoteRes); err != nil {
		return nil, fmt.Errorf("%w: decode mayan quotes: %v", ErrMalformedResponse, err)
	}

	candidates := make([]Candidate, 0, len(quoteRes.Quotes))
	for _, q := range quoteRes.Quotes {
		candidate, err := q.candidate(req.AssetOut.Decimals)
		if err != nil {
			m.logger.Debug().Err(err).Str("type", q.Type).Msg("skipping unusable mayan quote")
			continue
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

type mayanQuoteResponse struct {
	Quotes []mayanQuote `json:"quotes"`
}

type mayanQuote struct {
	Type              string      `json:"type"`
	ExpectedAmountOut json.Number `json:"expectedAmountOut"`
	MinAmountOut      json.Number `json:"minAmountOut"`
	ToToken           struct {
		Decimals *int32 `json:"decimals"`
	} `json:"toToken"`
}

// candidate converts the human-scale quote back into smallest units of the output asset.
func (q mayanQuote) candidate(fallbackDecimals int32) (Candidate, error) {
	raw := q.ExpectedAmountOut.String()
	if raw == "" {
		raw = q.MinAmountOut.String()
	}
	if raw == "" {
		return Candidate{}, fmt.Errorf("%w: mayan quote without output amount", ErrMalformedResponse)
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: mayan amount %q: %v", ErrMalformedResponse, raw, err)
	}

	decimals := fallbackDecimals
	if q.ToToken.Decimals != nil {
		decimals = *q.ToToken.Decimals
	}

	smallest, err := units.ToSmallestUnit(amount, decimals)
	if err != nil {
		return Candidate{}, err
	}

	return Candidate{
		Amount:   decimal.RequireFromString(smallest),
		Decimals: decimals,
		Label:    mayanLabel,
		Provider: mayanProviderName,
	}, nil
}

var _ QuoteFetcher = (*Mayan)(nil)
