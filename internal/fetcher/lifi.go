package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	lifiRoutesPath     = "/advanced/routes"
	defaultLiFiBaseURL = "https://api.jumper.exchange/p/lifi"
	lifiProviderName   = "lifi"
)

// LiFiOptions parameterise the LI.FI advanced-routes fetcher.
type LiFiOptions struct {
	BaseURL          string
	APIKey           string
	Integrator       string
	Order            string
	Slippage         float64
	MaxPriceImpact   float64
	AllowSwitchChain bool
	Timeout          time.Duration
	UserAgent        string
}

// LiFi fetches multi-route quotes from the LI.FI aggregator.
type LiFi struct {
	opts    LiFiOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewLiFi constructs a LI.FI fetcher on top of a shared client.
func NewLiFi(opts LiFiOptions, client *http.Client, logger zerolog.Logger) *LiFi {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Order == "" {
		opts.Order = "CHEAPEST"
	}
	if client == nil {
		client = NewHTTPClient(HTTPOptions{Timeout: opts.Timeout})
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultLiFiBaseURL
	}

	return &LiFi{
		opts:    opts,
		logger:  logger.With().Str("component", "lifi_fetcher").Logger(),
		client:  client,
		baseURL: baseURL,
	}
}

// Name implements QuoteFetcher.
func (l *LiFi) Name() string { return lifiProviderName }

// FetchCandidates requests every route LI.FI knows for req.
func (l *LiFi) FetchCandidates(ctx context.Context, req TransferRequest) ([]Candidate, error) {
	if req.AmountIn == "" || req.AmountIn == "0" {
		return nil, errors.New("lifi: amount in must be greater than zero")
	}
	if req.Origin.LiFiChainID == 0 || req.Destination.LiFiChainID == 0 {
		return nil, fmt.Errorf("%w: lifi chain id missing for %s->%s", ErrNoRouteFound, req.Origin.Name, req.Destination.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	payload := lifiRoutesRequest{
		FromAddress:      normalizeAddress(req.Origin.Kind, req.Sender),
		FromAmount:       req.AmountIn,
		FromChainID:      req.Origin.LiFiChainID,
		FromTokenAddress: normalizeAddress(req.Origin.Kind, req.AssetIn.Address),
		ToAddress:        normalizeAddress(req.Destination.Kind, req.Recipient),
		ToChainID:        req.Destination.LiFiChainID,
		ToTokenAddress:   normalizeAddress(req.Destination.Kind, req.AssetOut.Address),
		Options: lifiRouteOptions{
			Integrator:       l.opts.Integrator,
			Order:            l.opts.Order,
			Slippage:         l.opts.Slippage,
			MaxPriceImpact:   l.opts.MaxPriceImpact,
			AllowSwitchChain: l.opts.AllowSwitchChain,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal lifi request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+lifiRoutesPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create lifi request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(l.opts.UserAgent); ua != "" {
		httpReq.Header.Set("User-Agent", ua)
	}
	if l.opts.Integrator != "" {
		httpReq.Header.Set("x-lifi-integrator", l.opts.Integrator)
	}
	if l.opts.APIKey != "" {
		httpReq.Header.Set("x-lifi-api-key", l.opts.APIKey)
	}

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return nil, transportError(lifiProviderName, err)
	}
	defer resp.Body.Close()

	raw, err := readBody(resp)
	if err != nil {
		return nil, transportError(lifiProviderName, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %w", ErrNoRouteFound, parseLiFiError(resp.StatusCode, raw))
	}

	var routesRes lifiRoutesResponse
	if err := json.Unmarshal(raw, &routesRes); err != nil {
		return nil, fmt.Errorf("%w: decode lifi routes: %v", ErrMalformedResponse, err)
	}
	if len(routesRes.Routes) == 0 {
		return nil, fmt.Errorf("%w: lifi %s->%s", ErrNoRouteFound, req.Origin.Name, req.Destination.Name)
	}

	candidates := make([]Candidate, 0, len(routesRes.Routes))
	for _, route := range routesRes.Routes {
		candidate, err := route.candidate()
		if err != nil {
			l.logger.Debug().Err(err).Str("route_id", route.ID).Msg("skipping unusable lifi route")
			continue
		}
		candidates = append(candidates, candidate)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no lifi route carried an output amount and decimals", ErrMalformedResponse)
	}

	l.logger.Debug().
		Str("from", req.Origin.Name).
		Str("to", req.Destination.Name).
		Int("routes", len(candidates)).
		Msg("lifi routes received")
	return candidates, nil
}

// normalizeAddress checksums EVM addresses and leaves everything else untouched.
func normalizeAddress(kind VenueKind, addr string) string {
	addr = strings.TrimSpace(addr)
	if kind == VenueEVM && common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return addr
}

type lifiRoutesRequest struct {
	FromAddress      string           `json:"fromAddress,omitempty"`
	FromAmount       string           `json:"fromAmount"`
	FromChainID      int64            `json:"fromChainId"`
	FromTokenAddress string           `json:"fromTokenAddress"`
	ToAddress        string           `json:"toAddress,omitempty"`
	ToChainID        int64            `json:"toChainId"`
	ToTokenAddress   string           `json:"toTokenAddress"`
	Options          lifiRouteOptions `json:"options"`
}

type lifiRouteOptions struct {
	Integrator       string  `json:"integrator,omitempty"`
	Order            string  `json:"order,omitempty"`
	Slippage         float64 `json:"slippage,omitempty"`
	MaxPriceImpact   float64 `json:"maxPriceImpact,omitempty"`
	AllowSwitchChain bool    `json:"allowSwitchChain"`
}

type lifiRoutesResponse struct {
	Routes []lifiRoute `json:"routes"`
}

type lifiRoute struct {
	ID          string `json:"id"`
	ToAmount    string `json:"toAmount"`
	ToAmountMin string `json:"toAmountMin"`
	ToToken     struct {
		Symbol   string `json:"symbol"`
		Decimals *int32 `json:"decimals"`
	} `json:"toToken"`
	Steps []struct {
		Tool string `json:"tool"`
	} `json:"steps"`
}

// candidate prefers the exact output and falls back to the guaranteed minimum.
func (r lifiRoute) candidate() (Candidate, error) {
	rawAmount := strings.TrimSpace(r.ToAmount)
	if rawAmount == "" {
		rawAmount = strings.TrimSpace(r.ToAmountMin)
	}
	if rawAmount == "" {
		return Candidate{}, fmt.Errorf("%w: route %s has neither toAmount nor toAmountMin", ErrMalformedResponse, r.ID)
	}
	if r.ToToken.Decimals == nil || *r.ToToken.Decimals < 0 {
		return Candidate{}, fmt.Errorf("%w: route %s lacks toToken.decimals", ErrMalformedResponse, r.ID)
	}

	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: route %s amount %q: %v", ErrMalformedResponse, r.ID, rawAmount, err)
	}

	label := lifiProviderName
	if len(r.Steps) > 0 && strings.TrimSpace(r.Steps[0].Tool) != "" {
		label = strings.TrimSpace(r.Steps[0].Tool)
	}

	return Candidate{
		Amount:   amount,
		Decimals: *r.ToToken.Decimals,
		Label:    label,
		Provider: lifiProviderName,
	}, nil
}

type lifiErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func parseLiFiError(status int, payload []byte) error {
	var apiErr lifiErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("lifi api error (%d): %s", status, apiErr.Message)
	}
	if len(payload) > 0 {
		return fmt.Errorf("lifi api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("lifi api error (%d)", status)
}

var _ QuoteFetcher = (*LiFi)(nil)
