package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Market     MarketConfig
	Exchange   ExchangeConfig
	Trading    TradingConfig
	Supervisor SupervisorConfig
	Retry      RetryConfig
	Feed       FeedConfig
	Cache      CacheConfig
	Journal    JournalConfig
	Notify     NotifyConfig
	Metrics    MetricsConfig
	Report     ReportConfig
	Runtime    RuntimeConfig
}

type MarketConfig struct {
	TokenAPIURL    string
	RugCheckURL    string
	RPS            float64
	Burst          int
	MaxRugScore    int
	MinLPLockedPct float64
}

type ExchangeConfig struct {
	QuoteURL                 string
	SwapURL                  string
	ApiKey                   string
	RPCURL                   string
	SignerURL                string
	SignerToken              string
	Wallet                   string
	PriorityFeeMicroLamports int64
	MaxPriceImpactPct        float64
	RPS                      float64
	PaperSlippagePct         float64
}

type TakeProfitStage struct {
	Ratio    float64 `mapstructure:"ratio"`
	Fraction float64 `mapstructure:"fraction"`
}

type TradingConfig struct {
	QuoteMint          string
	QuoteDecimals      int
	AmountPerTrade     float64
	TakeProfit         float64
	StopLoss           float64
	TakeProfitStages   []TakeProfitStage
	TrailingDelta      float64
	TrailingActivation float64
	LiquidityDropRatio float64
	TripFlags          []string
	RejectFlags        []string
	MaxPositions       int
	MaxCapital         float64
	SlippageBps        int
	ExcludedMints      []string
	MinScore           float64
	MinLiquidity       float64
	Workers            int
}

type SupervisorConfig struct {
	PollInterval        time.Duration
	ConfirmInterval     time.Duration
	ConfirmTimeout      time.Duration
	MaxSellAttempts     int
	SellBackoff         time.Duration
	SellBackoffMax      time.Duration
	Concurrency         int
	DrainTimeout        time.Duration
	MaxMissingSnapshots int
}

type RetryConfig struct {
	Attempts    int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	CallTimeout time.Duration
}

type FeedConfig struct {
	Enabled      bool
	URL          string
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CandidateTTL  time.Duration
}

type JournalConfig struct {
	PostgresDSN string
}

type NotifyConfig struct {
	TelegramToken  string
	TelegramChatID int64
	Events         []string
	Buffer         int
}

type MetricsConfig struct {
	Addr string
}

type ReportConfig struct {
	Cron string
}

type RuntimeConfig struct {
	DryRun bool
	Log    LogConfig
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

const (
	WSOL = "So11111111111111111111111111111111111111112"
	USDT = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
	USDC = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func Load() (*Config, error) {
	path := os.Getenv("SNIPEBOT_CONFIG")
	if path == "" {
		path = "configs/config.yaml"
	}
	return LoadFile(path)
}

func LoadFile(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("Не удалось прочитать конфиг %s: %w", path, err)
		}
	}

	cfg := &Config{}

	cfg.Market = MarketConfig{
		TokenAPIURL:    v.GetString("market.token_api_url"),
		RugCheckURL:    v.GetString("market.rugcheck_url"),
		RPS:            v.GetFloat64("market.rps"),
		Burst:          v.GetInt("market.burst"),
		MaxRugScore:    v.GetInt("market.max_rug_score"),
		MinLPLockedPct: v.GetFloat64("market.min_lp_locked_pct"),
	}

	cfg.Exchange = ExchangeConfig{
		QuoteURL:                 v.GetString("exchange.quote_url"),
		SwapURL:                  v.GetString("exchange.swap_url"),
		ApiKey:                   envSub(v, "exchange.api_key"),
		RPCURL:                   envSub(v, "exchange.rpc_url"),
		SignerURL:                envSub(v, "exchange.signer_url"),
		SignerToken:              envSub(v, "exchange.signer_token"),
		Wallet:                   envSub(v, "exchange.wallet"),
		PriorityFeeMicroLamports: v.GetInt64("exchange.priority_fee_micro_lamports"),
		MaxPriceImpactPct:        v.GetFloat64("exchange.max_price_impact_pct"),
		RPS:                      v.GetFloat64("exchange.rps"),
		PaperSlippagePct:         v.GetFloat64("exchange.paper_slippage_pct"),
	}

	var stages []TakeProfitStage
	if err := v.UnmarshalKey("trading.take_profit_stages", &stages); err != nil {
		return nil, fmt.Errorf("Некорректные ступени take profit: %w", err)
	}

	cfg.Trading = TradingConfig{
		QuoteMint:          v.GetString("trading.quote_mint"),
		QuoteDecimals:      v.GetInt("trading.quote_decimals"),
		AmountPerTrade:     v.GetFloat64("trading.amount_per_trade"),
		TakeProfit:         v.GetFloat64("trading.take_profit"),
		StopLoss:           v.GetFloat64("trading.stop_loss"),
		TakeProfitStages:   stages,
		TrailingDelta:      v.GetFloat64("trading.trailing_delta"),
		TrailingActivation: v.GetFloat64("trading.trailing_activation"),
		LiquidityDropRatio: v.GetFloat64("trading.liquidity_drop_ratio"),
		TripFlags:          v.GetStringSlice("trading.trip_flags"),
		RejectFlags:        v.GetStringSlice("trading.reject_flags"),
		MaxPositions:       v.GetInt("trading.max_positions"),
		MaxCapital:         v.GetFloat64("trading.max_capital"),
		SlippageBps:        v.GetInt("trading.slippage_bps"),
		ExcludedMints:      v.GetStringSlice("trading.excluded_mints"),
		MinScore:           v.GetFloat64("trading.min_score"),
		MinLiquidity:       v.GetFloat64("trading.min_liquidity"),
		Workers:            v.GetInt("trading.workers"),
	}

	cfg.Supervisor = SupervisorConfig{
		PollInterval:        v.GetDuration("supervisor.poll_interval"),
		ConfirmInterval:     v.GetDuration("supervisor.confirm_interval"),
		ConfirmTimeout:      v.GetDuration("supervisor.confirm_timeout"),
		MaxSellAttempts:     v.GetInt("supervisor.max_sell_attempts"),
		SellBackoff:         v.GetDuration("supervisor.sell_backoff"),
		SellBackoffMax:      v.GetDuration("supervisor.sell_backoff_max"),
		Concurrency:         v.GetInt("supervisor.concurrency"),
		DrainTimeout:        v.GetDuration("supervisor.drain_timeout"),
		MaxMissingSnapshots: v.GetInt("supervisor.max_missing_snapshots"),
	}

	cfg.Retry = RetryConfig{
		Attempts:    v.GetInt("retry.attempts"),
		BaseDelay:   v.GetDuration("retry.base_delay"),
		MaxDelay:    v.GetDuration("retry.max_delay"),
		CallTimeout: v.GetDuration("retry.call_timeout"),
	}

	cfg.Feed = FeedConfig{
		Enabled:      v.GetBool("feed.enabled"),
		URL:          v.GetString("feed.url"),
		ReconnectMin: v.GetDuration("feed.reconnect_min"),
		ReconnectMax: v.GetDuration("feed.reconnect_max"),
	}

	cfg.Cache = CacheConfig{
		RedisAddr:     envSub(v, "cache.redis_addr"),
		RedisPassword: envSub(v, "cache.redis_password"),
		RedisDB:       v.GetInt("cache.redis_db"),
		CandidateTTL:  v.GetDuration("cache.candidate_ttl"),
	}

	cfg.Journal = JournalConfig{
		PostgresDSN: envSub(v, "journal.postgres_dsn"),
	}

	cfg.Notify = NotifyConfig{
		TelegramToken:  envSub(v, "notify.telegram_token"),
		TelegramChatID: v.GetInt64("notify.telegram_chat_id"),
		Events:         v.GetStringSlice("notify.events"),
		Buffer:         v.GetInt("notify.buffer"),
	}

	cfg.Metrics = MetricsConfig{Addr: v.GetString("metrics.addr")}
	cfg.Report = ReportConfig{Cron: v.GetString("report.cron")}

	cfg.Runtime = RuntimeConfig{
		DryRun: v.GetBool("runtime.dry_run"),
		Log: LogConfig{
			Level:      v.GetString("runtime.log.level"),
			Format:     v.GetString("runtime.log.format"),
			File:       v.GetString("runtime.log.file"),
			MaxSize:    v.GetInt("runtime.log.max_size"),
			MaxBackups: v.GetInt("runtime.log.max_backups"),
			MaxAge:     v.GetInt("runtime.log.max_age"),
			Compress:   v.GetBool("runtime.log.compress"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("market.token_api_url", "https://datapi.jup.ag/v1")
	v.SetDefault("market.rugcheck_url", "https://api.rugcheck.xyz/v1")
	v.SetDefault("market.rps", 5.0)
	v.SetDefault("market.burst", 5)
	v.SetDefault("market.max_rug_score", 1)
	v.SetDefault("market.min_lp_locked_pct", 0.0)

	v.SetDefault("exchange.quote_url", "https://api.jup.ag/swap/v1/quote")
	v.SetDefault("exchange.swap_url", "https://api.jup.ag/swap/v1/swap")
	v.SetDefault("exchange.priority_fee_micro_lamports", 100_000)
	v.SetDefault("exchange.max_price_impact_pct", 5.0)
	v.SetDefault("exchange.rps", 2.0)
	v.SetDefault("exchange.paper_slippage_pct", 0.3)

	v.SetDefault("trading.quote_mint", USDT)
	v.SetDefault("trading.quote_decimals", 6)
	v.SetDefault("trading.amount_per_trade", 1.0)
	v.SetDefault("trading.take_profit", 0.40)
	v.SetDefault("trading.stop_loss", 0.50)
	v.SetDefault("trading.trailing_delta", 0.0)
	v.SetDefault("trading.trailing_activation", 0.0)
	v.SetDefault("trading.liquidity_drop_ratio", 0.5)
	v.SetDefault("trading.trip_flags", []string{"mint_authority_active", "freeze_authority_active", "liquidity_pulled", "high_rug_score"})
	v.SetDefault("trading.reject_flags", []string{"mint_authority_active", "freeze_authority_active", "liquidity_pulled", "high_rug_score"})
	v.SetDefault("trading.max_positions", 2)
	v.SetDefault("trading.max_capital", 15.0)
	v.SetDefault("trading.slippage_bps", 50)
	v.SetDefault("trading.excluded_mints", []string{USDT})
	v.SetDefault("trading.min_score", 55.0)
	v.SetDefault("trading.min_liquidity", 100_000.0)
	v.SetDefault("trading.workers", 4)

	v.SetDefault("supervisor.poll_interval", "60s")
	v.SetDefault("supervisor.confirm_interval", "2s")
	v.SetDefault("supervisor.confirm_timeout", "45s")
	v.SetDefault("supervisor.max_sell_attempts", 5)
	v.SetDefault("supervisor.sell_backoff", "2s")
	v.SetDefault("supervisor.sell_backoff_max", "30s")
	v.SetDefault("supervisor.concurrency", 4)
	v.SetDefault("supervisor.drain_timeout", "60s")
	v.SetDefault("supervisor.max_missing_snapshots", 30)

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("retry.call_timeout", "10s")

	v.SetDefault("feed.enabled", true)
	v.SetDefault("feed.url", "wss://pumpportal.fun/api/data")
	v.SetDefault("feed.reconnect_min", "1s")
	v.SetDefault("feed.reconnect_max", "30s")

	v.SetDefault("cache.candidate_ttl", "24h")

	v.SetDefault("notify.buffer", 64)

	v.SetDefault("metrics.addr", ":9102")
	v.SetDefault("report.cron", "@every 15m")

	v.SetDefault("runtime.dry_run", true)
	v.SetDefault("runtime.log.level", "info")
	v.SetDefault("runtime.log.format", "text")
	v.SetDefault("runtime.log.file", "stdout")
	v.SetDefault("runtime.log.max_size", 50)
	v.SetDefault("runtime.log.max_backups", 5)
	v.SetDefault("runtime.log.max_age", 14)
}

func envSub(v *viper.Viper, key string) string {
	val := v.GetString(key)
	if val == "" {
		return ""
	}

	re := regexp.MustCompile(`\$\{(\w+)\}`)
	return re.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}
