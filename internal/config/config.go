package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"roundtrip-arb-alerts/internal/logging"
)

// Provider names accepted in route provider lists.
const (
	ProviderLiFi  = "lifi"
	ProviderMayan = "mayan"
)

// Venue kinds.
const (
	VenueKindEVM    = "evm"
	VenueKindSolana = "solana"
)

const (
	// EVMNative is the zero address used for native gas tokens on EVM venues.
	EVMNative = "0x0000000000000000000000000000000000000000"
	// SolanaNative is the system program address LI.FI uses for native SOL.
	SolanaNative = "11111111111111111111111111111111"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig              `mapstructure:"app"`
	Logging   logging.Config         `mapstructure:"logging"`
	Database  DatabaseConfig         `mapstructure:"database"`
	Scheduler SchedulerConfig        `mapstructure:"scheduler"`
	HTTP      HTTPConfig             `mapstructure:"http"`
	LiFi      LiFiConfig             `mapstructure:"lifi"`
	Mayan     MayanConfig            `mapstructure:"mayan"`
	Venues    map[string]VenueConfig `mapstructure:"venues"`
	Routes    []RouteConfig          `mapstructure:"routes"`
	Alerting  AlertingConfig         `mapstructure:"alerting"`
	Export    ExportConfig           `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. Persistence is off when DSN is empty.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	// CallTimeout bounds every provider call of a cycle.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// HTTPConfig tunes the shared outbound client.
type HTTPConfig struct {
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
	UserAgent           string        `mapstructure:"user_agent"`
}

// LiFiConfig captures the multi-route aggregator.
type LiFiConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	Integrator     string  `mapstructure:"integrator"`
	Order          string  `mapstructure:"order"`
	Slippage       float64 `mapstructure:"slippage"`
	MaxPriceImpact float64 `mapstructure:"max_price_impact"`
}

// MayanConfig captures the single-quote provider.
type MayanConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BaseURL     string `mapstructure:"base_url"`
	SlippageBps int    `mapstructure:"slippage_bps"`
	Referrer    string `mapstructure:"referrer"`
}

// VenueConfig describes one chain.
type VenueConfig struct {
	Kind        string `mapstructure:"kind"`
	LiFiChainID int64  `mapstructure:"lifi_chain_id"`
	MayanChain  string `mapstructure:"mayan_chain"`
	// RPCURL enables gas price annotation for EVM venues.
	RPCURL string `mapstructure:"rpc_url"`
}

// AssetConfig describes the token moved on a venue.
type AssetConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Address  string `mapstructure:"address"`
	Decimals int32  `mapstructure:"decimals"`
}

// RouteConfig describes one monitored round trip.
type RouteConfig struct {
	Name                   string          `mapstructure:"name"`
	Home                   string          `mapstructure:"home"`
	Remote                 string          `mapstructure:"remote"`
	HomeAsset              AssetConfig     `mapstructure:"home_asset"`
	RemoteAsset            AssetConfig     `mapstructure:"remote_asset"`
	HomeWallet             string          `mapstructure:"home_wallet"`
	RemoteWallet           string          `mapstructure:"remote_wallet"`
	Input                  decimal.Decimal `mapstructure:"input"`
	ForwardProviders       []string        `mapstructure:"forward_providers"`
	ReturnProviders        []string        `mapstructure:"return_providers"`
	ForwardExclude         []string        `mapstructure:"forward_exclude"`
	ReturnExclude          []string        `mapstructure:"return_exclude"`
	ExcludeForwardOnReturn bool            `mapstructure:"exclude_forward_on_return"`
	Thresholds             ThresholdConfig `mapstructure:"thresholds"`
}

// ThresholdConfig holds alert thresholds in units of the home asset.
type ThresholdConfig struct {
	Default        decimal.Decimal       `mapstructure:"default"`
	HighConfidence decimal.Decimal       `mapstructure:"high_confidence"`
	// MinRepeatDelta nil means unset; an explicit zero re-alerts on any improvement.
	MinRepeatDelta *decimal.Decimal      `mapstructure:"min_repeat_delta"`
	Pairs          []PairThresholdConfig `mapstructure:"pairs"`
}

// PairThresholdConfig overrides the default for an ordered provider pair; "*" is a wildcard.
type PairThresholdConfig struct {
	Forward   string          `mapstructure:"forward"`
	Return    string          `mapstructure:"return"`
	Threshold decimal.Decimal `mapstructure:"threshold"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// DiscordConfig 描述 Discord webhook 告警参数。
type DiscordConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load layers .env and environment variables over the config file and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("ARBWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyRouteDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "arbwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("scheduler.interval", "15s")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x61726277))
	v.SetDefault("scheduler.call_timeout", "15s")

	v.SetDefault("http.request_timeout", "10s")
	v.SetDefault("http.max_idle_conns", 32)
	v.SetDefault("http.max_idle_conns_per_host", 8)
	v.SetDefault("http.idle_conn_timeout", "90s")
	v.SetDefault("http.user_agent", "arbwatcher/1.0")

	v.SetDefault("lifi.enabled", true)
	v.SetDefault("lifi.base_url", "https://api.jumper.exchange/p/lifi")
	v.SetDefault("lifi.integrator", "jumper.exchange")
	v.SetDefault("lifi.order", "CHEAPEST")
	v.SetDefault("lifi.slippage", 0.005)
	v.SetDefault("lifi.max_price_impact", 0.4)

	v.SetDefault("mayan.enabled", true)
	v.SetDefault("mayan.base_url", "https://price-api.mayan.finance/v3")
	v.SetDefault("mayan.slippage_bps", 300)

	for name, venue := range defaultVenues() {
		v.SetDefault("venues."+name+".kind", venue.Kind)
		v.SetDefault("venues."+name+".lifi_chain_id", venue.LiFiChainID)
		v.SetDefault("venues."+name+".mayan_chain", venue.MayanChain)
	}

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.discord.enabled", false)

	v.SetDefault("export.max_data_points", 100000)

	// secrets are usually supplied through ARBWATCHER_* variables
	v.SetDefault("database.dsn", "")
	v.SetDefault("lifi.api_key", "")
	v.SetDefault("mayan.referrer", "")
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.discord.webhook_url", "")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func defaultVenues() map[string]VenueConfig {
	return map[string]VenueConfig{
		"base":     {Kind: VenueKindEVM, LiFiChainID: 8453, MayanChain: "base"},
		"solana":   {Kind: VenueKindSolana, LiFiChainID: 1151111081099710, MayanChain: "solana"},
		"arbitrum": {Kind: VenueKindEVM, LiFiChainID: 42161, MayanChain: "arbitrum"},
		"polygon":  {Kind: VenueKindEVM, LiFiChainID: 137, MayanChain: "polygon"},
		"optimism": {Kind: VenueKindEVM, LiFiChainID: 10, MayanChain: "optimism"},
		"ethereum": {Kind: VenueKindEVM, LiFiChainID: 1, MayanChain: "ethereum"},
	}
}

// DefaultRoute is the Base<->Solana round trip used when no routes are configured.
func DefaultRoute() RouteConfig {
	return RouteConfig{
		Name:             "base-solana",
		Home:             "base",
		Remote:           "solana",
		HomeAsset:        AssetConfig{Symbol: "ETH", Address: EVMNative, Decimals: 18},
		RemoteAsset:      AssetConfig{Symbol: "SOL", Address: SolanaNative, Decimals: 9},
		HomeWallet:       "${BASE_WALLET}",
		RemoteWallet:     "${SOLANA_WALLET}",
		Input:            decimal.RequireFromString("2.0"),
		ForwardProviders: []string{ProviderLiFi},
		ReturnProviders:  []string{ProviderLiFi, ProviderMayan},
		ForwardExclude:   []string{"mayanMCTP"},
		Thresholds: ThresholdConfig{
			Default: decimal.RequireFromString("0.008"),
			Pairs: []PairThresholdConfig{
				{Forward: "mayan", Return: "*", Threshold: decimal.RequireFromString("0.015")},
				{Forward: "*", Return: "mayan", Threshold: decimal.RequireFromString("0.015")},
			},
		},
	}
}

func (c *Config) applyRouteDefaults() {
	if len(c.Routes) == 0 {
		c.Routes = []RouteConfig{DefaultRoute()}
	}
	for i := range c.Routes {
		r := &c.Routes[i]
		r.HomeWallet = os.ExpandEnv(strings.TrimSpace(r.HomeWallet))
		r.RemoteWallet = os.ExpandEnv(strings.TrimSpace(r.RemoteWallet))
		if r.Name == "" {
			r.Name = r.Home + "-" + r.Remote
		}
		if len(r.ForwardProviders) == 0 {
			r.ForwardProviders = []string{ProviderLiFi}
		}
		if len(r.ReturnProviders) == 0 {
			r.ReturnProviders = []string{ProviderLiFi}
		}
		if r.Thresholds.MinRepeatDelta == nil {
			// 0.01% of the input amount.
			delta := r.Input.Div(decimal.NewFromInt(10000))
			r.Thresholds.MinRepeatDelta = &delta
		}
	}
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			StringToDecimalHookFunc(),
		)
	}
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// StringToDecimalHookFunc decodes strings and numbers into decimal.Decimal.
func StringToDecimalHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != decimalType {
			return data, nil
		}
		switch value := data.(type) {
		case string:
			if strings.TrimSpace(value) == "" {
				return decimal.Zero, nil
			}
			return decimal.NewFromString(strings.TrimSpace(value))
		case float64:
			return decimal.NewFromFloat(value), nil
		case float32:
			return decimal.NewFromFloat32(value), nil
		case int:
			return decimal.NewFromInt(int64(value)), nil
		case int64:
			return decimal.NewFromInt(value), nil
		}
		return data, nil
	}
}

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.StartupDelay < 0 {
		return fmt.Errorf("scheduler.startup_delay cannot be negative")
	}
	if c.HTTP.RequestTimeout <= 0 {
		return fmt.Errorf("http.request_timeout must be greater than zero")
	}
	if !c.LiFi.Enabled && !c.Mayan.Enabled {
		return fmt.Errorf("at least one of lifi.enabled or mayan.enabled must be true")
	}

	for name, venue := range c.Venues {
		if venue.Kind != VenueKindEVM && venue.Kind != VenueKindSolana {
			return fmt.Errorf("venues.%s.kind must be %q or %q", name, VenueKindEVM, VenueKindSolana)
		}
	}

	if len(c.Routes) == 0 {
		return fmt.Errorf("at least one route must be configured")
	}
	seen := make(map[string]struct{}, len(c.Routes))
	for i, route := range c.Routes {
		if _, dup := seen[route.Name]; dup {
			return fmt.Errorf("routes[%d]: duplicate route name %q", i, route.Name)
		}
		seen[route.Name] = struct{}{}
		if err := c.validateRoute(route); err != nil {
			return fmt.Errorf("routes[%d] %s: %w", i, route.Name, err)
		}
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.Discord.Enabled && c.Alerting.Discord.WebhookURL == "" {
		return fmt.Errorf("alerting.discord.webhook_url 必须配置")
	}
	return nil
}

func (c *Config) validateRoute(route RouteConfig) error {
	home, ok := c.Venues[route.Home]
	if !ok {
		return fmt.Errorf("unknown home venue %q", route.Home)
	}
	remote, ok := c.Venues[route.Remote]
	if !ok {
		return fmt.Errorf("unknown remote venue %q", route.Remote)
	}
	if route.Home == route.Remote {
		return fmt.Errorf("home and remote venues must differ")
	}
	if !route.Input.IsPositive() {
		return fmt.Errorf("input must be greater than zero")
	}
	if route.HomeAsset.Decimals < 0 || route.RemoteAsset.Decimals < 0 {
		return fmt.Errorf("asset decimals cannot be negative")
	}
	if route.HomeAsset.Address == "" || route.RemoteAsset.Address == "" {
		return fmt.Errorf("asset addresses are required")
	}

	for _, leg := range []struct {
		name      string
		providers []string
	}{
		{"forward_providers", route.ForwardProviders},
		{"return_providers", route.ReturnProviders},
	} {
		enabled := 0
		for _, p := range leg.providers {
			switch strings.ToLower(p) {
			case ProviderLiFi:
				if c.LiFi.Enabled {
					enabled++
				}
			case ProviderMayan:
				if c.Mayan.Enabled {
					enabled++
				}
			default:
				return fmt.Errorf("%s: unknown provider %q", leg.name, p)
			}
		}
		if enabled == 0 {
			return fmt.Errorf("%s: no enabled provider", leg.name)
		}
	}

	t := route.Thresholds
	if t.Default.IsNegative() || t.HighConfidence.IsNegative() || (t.MinRepeatDelta != nil && t.MinRepeatDelta.IsNegative()) {
		return fmt.Errorf("thresholds cannot be negative")
	}
	for _, pair := range t.Pairs {
		if pair.Forward == "" || pair.Return == "" {
			return fmt.Errorf("pair thresholds need forward and return labels (use \"*\" for any)")
		}
		if pair.Threshold.IsNegative() {
			return fmt.Errorf("pair threshold %s->%s cannot be negative", pair.Forward, pair.Return)
		}
	}

	if err := validateWallet(home, route.HomeWallet); err != nil {
		return fmt.Errorf("home_wallet: %w", err)
	}
	if err := validateWallet(remote, route.RemoteWallet); err != nil {
		return fmt.Errorf("remote_wallet: %w", err)
	}
	return nil
}

func validateWallet(venue VenueConfig, wallet string) error {
	if wallet == "" {
		return nil
	}
	if venue.Kind == VenueKindEVM && !common.IsHexAddress(wallet) {
		return fmt.Errorf("%q is not a valid EVM address", wallet)
	}
	return nil
}

// RequireWallets reports routes whose wallets are still unset. Quoting needs both wallets.
func (c *Config) RequireWallets() error {
	var errs []error
	for _, route := range c.Routes {
		if route.HomeWallet == "" {
			errs = append(errs, fmt.Errorf("route %s: home_wallet is empty", route.Name))
		}
		if route.RemoteWallet == "" {
			errs = append(errs, fmt.Errorf("route %s: remote_wallet is empty", route.Name))
		}
	}
	return errors.Join(errs...)
}

// Route returns the named route.
func (c *Config) Route(name string) (RouteConfig, bool) {
	for _, route := range c.Routes {
		if route.Name == name {
			return route, true
		}
	}
	return RouteConfig{}, false
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
