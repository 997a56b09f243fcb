package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"roundtrip-arb-alerts/internal/alerting"
	"roundtrip-arb-alerts/internal/arbitrage"
	"roundtrip-arb-alerts/internal/config"
	"roundtrip-arb-alerts/internal/fetcher"
	"roundtrip-arb-alerts/internal/scheduler"
	"roundtrip-arb-alerts/internal/service"
	"roundtrip-arb-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newHTTPClient() *http.Client {
	h := a.Config.HTTP
	return fetcher.NewHTTPClient(fetcher.HTTPOptions{
		Timeout:             h.RequestTimeout,
		MaxIdleConns:        h.MaxIdleConns,
		MaxIdleConnsPerHost: h.MaxIdleConnsPerHost,
		IdleConnTimeout:     h.IdleConnTimeout,
	})
}

// newFetchers builds one fetcher per enabled provider, all sharing client.
func (a *App) newFetchers(client *http.Client) map[string]fetcher.QuoteFetcher {
	fetchers := make(map[string]fetcher.QuoteFetcher, 2)
	if a.Config.LiFi.Enabled {
		c := a.Config.LiFi
		fetchers[config.ProviderLiFi] = fetcher.NewLiFi(fetcher.LiFiOptions{
			BaseURL:          c.BaseURL,
			APIKey:           c.APIKey,
			Integrator:       c.Integrator,
			Order:            c.Order,
			Slippage:         c.Slippage,
			MaxPriceImpact:   c.MaxPriceImpact,
			AllowSwitchChain: true,
			Timeout:          a.Config.HTTP.RequestTimeout,
			UserAgent:        a.Config.HTTP.UserAgent,
		}, client, a.Logger)
	}
	if a.Config.Mayan.Enabled {
		c := a.Config.Mayan
		fetchers[config.ProviderMayan] = fetcher.NewMayan(fetcher.MayanOptions{
			BaseURL:     c.BaseURL,
			SlippageBps: c.SlippageBps,
			Referrer:    c.Referrer,
			Timeout:     a.Config.HTTP.RequestTimeout,
			UserAgent:   a.Config.HTTP.UserAgent,
		}, client, a.Logger)
	}
	return fetchers
}

// buildRoutes converts configured routes into evaluator routes with thresholds.
func (a *App) buildRoutes(fetchers map[string]fetcher.QuoteFetcher) ([]service.RouteSpec, error) {
	specs := make([]service.RouteSpec, 0, len(a.Config.Routes))
	for _, rc := range a.Config.Routes {
		spec, err := a.buildRoute(rc, fetchers)
		if err != nil {
			return nil, err
		}
		if len(spec.Route.Forward.Fetchers) == 0 || len(spec.Route.Return.Fetchers) == 0 {
			return nil, fmt.Errorf("route %s: every leg needs an enabled provider", rc.Name)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (a *App) buildRoute(rc config.RouteConfig, fetchers map[string]fetcher.QuoteFetcher) (service.RouteSpec, error) {
	home, ok := a.Config.Venues[rc.Home]
	if !ok {
		return service.RouteSpec{}, fmt.Errorf("route %s: unknown venue %q", rc.Name, rc.Home)
	}
	remote, ok := a.Config.Venues[rc.Remote]
	if !ok {
		return service.RouteSpec{}, fmt.Errorf("route %s: unknown venue %q", rc.Name, rc.Remote)
	}

	route := arbitrage.Route{
		Name:                   rc.Name,
		Home:                   toVenue(rc.Home, home),
		Remote:                 toVenue(rc.Remote, remote),
		HomeAsset:              toAsset(rc.HomeAsset),
		RemoteAsset:            toAsset(rc.RemoteAsset),
		HomeWallet:             rc.HomeWallet,
		RemoteWallet:           rc.RemoteWallet,
		Input:                  rc.Input,
		Forward:                arbitrage.Leg{Fetchers: pick(fetchers, rc.ForwardProviders), Exclude: rc.ForwardExclude},
		Return:                 arbitrage.Leg{Fetchers: pick(fetchers, rc.ReturnProviders), Exclude: rc.ReturnExclude},
		ExcludeForwardOnReturn: rc.ExcludeForwardOnReturn,
	}
	return service.RouteSpec{Route: route, Thresholds: toThresholds(rc.Thresholds)}, nil
}

func toVenue(name string, vc config.VenueConfig) fetcher.Venue {
	return fetcher.Venue{
		Name:        name,
		Kind:        fetcher.VenueKind(vc.Kind),
		LiFiChainID: vc.LiFiChainID,
		MayanChain:  vc.MayanChain,
	}
}

func toAsset(ac config.AssetConfig) fetcher.Asset {
	return fetcher.Asset{Symbol: ac.Symbol, Address: ac.Address, Decimals: ac.Decimals}
}

func toThresholds(tc config.ThresholdConfig) alerting.Thresholds {
	t := alerting.Thresholds{
		Default:        tc.Default,
		HighConfidence: tc.HighConfidence,
	}
	if tc.MinRepeatDelta != nil {
		t.MinRepeatDelta = *tc.MinRepeatDelta
	}
	if len(tc.Pairs) > 0 {
		t.Pairs = make(map[alerting.Pair]decimal.Decimal, len(tc.Pairs))
		for _, p := range tc.Pairs {
			t.Pairs[alerting.NewPair(p.Forward, p.Return)] = p.Threshold
		}
	}
	return t
}

func pick(fetchers map[string]fetcher.QuoteFetcher, names []string) []fetcher.QuoteFetcher {
	picked := make([]fetcher.QuoteFetcher, 0, len(names))
	for _, name := range names {
		if f, ok := fetchers[strings.ToLower(name)]; ok {
			picked = append(picked, f)
		}
	}
	return picked
}

func (a *App) newBroadcaster() (*alerting.Broadcaster, func(), error) {
	var (
		notifiers []alerting.Notifier
		closers   []func()
	)
	cfg := a.Config.Alerting
	if cfg.Telegram.Enabled && channelEnabled(cfg.Channels, "telegram") {
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, a.Config.HTTP.RequestTimeout, a.Logger))
	}
	if cfg.Discord.Enabled && channelEnabled(cfg.Channels, "discord") {
		discord, err := alerting.NewDiscordNotifier(cfg.Discord.WebhookURL, a.Logger)
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, discord)
		closers = append(closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			discord.Close(ctx)
		})
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	return alerting.NewBroadcaster(a.Logger, notifiers...), closeAll, nil
}

// channelEnabled treats an empty channel list as "all configured channels".
func channelEnabled(channels []string, name string) bool {
	if len(channels) == 0 {
		return true
	}
	for _, c := range channels {
		if strings.EqualFold(strings.TrimSpace(c), name) {
			return true
		}
	}
	return false
}

func (a *App) newGasOracle() *fetcher.GasOracle {
	urls := make(map[string]string)
	for name, venue := range a.Config.Venues {
		if venue.Kind == config.VenueKindEVM && venue.RPCURL != "" {
			urls[name] = venue.RPCURL
		}
	}
	if len(urls) == 0 {
		return nil
	}
	return fetcher.NewGasOracle(fetcher.GasOracleOptions{RPCURLs: urls, Timeout: a.Config.HTTP.RequestTimeout}, a.Logger)
}

func (a *App) newEvaluator() *arbitrage.Evaluator {
	return arbitrage.NewEvaluator(arbitrage.EvaluatorOptions{CallTimeout: a.Config.Scheduler.CallTimeout}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	if err := a.Config.RequireWallets(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}
	if store != nil {
		applied, err := storage.ApplyMigrations(ctx, store.Pool(), a.Config.Database.MigrationsPath)
		if err != nil {
			return err
		}
		if len(applied) > 0 {
			a.Logger.Info().Strs("migrations", applied).Msg("database schema ensured")
		}
	}

	routes, err := a.buildRoutes(a.newFetchers(a.newHTTPClient()))
	if err != nil {
		return err
	}

	deps := service.Deps{
		Scheduler: scheduler.New(scheduler.Options{
			Interval:      a.Config.Scheduler.Interval,
			StartupDelay:  a.Config.Scheduler.StartupDelay,
			MaxIterations: opts.Iterations,
		}, a.Logger),
		Evaluator: a.newEvaluator(),
	}
	if gas := a.newGasOracle(); gas != nil {
		deps.Gas = gas
	}
	if store != nil {
		deps.Samples = store
		deps.Alerts = store
		deps.Locker = store
	}
	if a.Config.Alerting.Enabled {
		broadcaster, closeNotifiers, err := a.newBroadcaster()
		if err != nil {
			return err
		}
		defer closeNotifiers()
		if broadcaster.Len() == 0 {
			a.Logger.Warn().Msg("alerting enabled but no channel configured; alerts will only be logged")
		}
		deps.Dispatcher = broadcaster
	}

	svc := service.New(service.Options{
		Routes:          routes,
		AlertsEnabled:   a.Config.Alerting.Enabled,
		AdvisoryLockKey: a.Config.Scheduler.AdvisoryLockKey,
	}, deps, a.Logger)

	a.Logger.Info().
		Int("routes", len(routes)).
		Dur("interval", a.Config.Scheduler.Interval).
		Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// RunOptions configure the run command.
type RunOptions struct {
	// Iterations stops after that many polls; zero runs until interrupted.
	Iterations uint64
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	Route     string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}

// PruneOptions configure the prune command.
type PruneOptions struct {
	OlderThan time.Duration
	DryRun    bool
}

// SimulateOptions configure the simulate-alert command.
type SimulateOptions struct {
	Route        string
	Profit       decimal.Decimal
	ForwardLabel string
	ReturnLabel  string
}
