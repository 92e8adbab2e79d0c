package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/arbwatch/types"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

const (
	defaultDexAName         = "QuickSwap"
	defaultDexBName         = "SushiSwap"
	defaultReferenceSymbol  = "USDC"
	defaultTradeAmount      = 1000.0
	defaultMinProfit        = 5.0
	defaultPollIntervalSecs = 10
	defaultDBPath           = "arbitrage_log.db3"
	defaultQuoteTimeoutSecs = 10
	defaultAlertCooldown    = 60
)

// Second-leg failure policies
const (
	SecondLegSkip  = "skip"
	SecondLegFatal = "fatal"
)

type Config struct {
	// Chain and sources
	RPCURL     string `json:"rpc_url" yaml:"rpc_url"`
	DexARouter string `json:"dex_a_router" yaml:"dex_a_router"`
	DexBRouter string `json:"dex_b_router" yaml:"dex_b_router"`
	DexAName   string `json:"dex_a_name" yaml:"dex_a_name"`
	DexBName   string `json:"dex_b_name" yaml:"dex_b_name"`

	// Tokens
	ReferenceSymbol  string            `json:"reference_symbol" yaml:"reference_symbol"`
	ReferenceAddress string            `json:"reference_address" yaml:"reference_address"`
	Tokens           []string          `json:"tokens" yaml:"tokens"`
	TokenAddresses   map[string]string `json:"token_addresses" yaml:"token_addresses"`

	// Detection
	TradeAmount      float64 `json:"trade_amount" yaml:"trade_amount"`
	MinProfit        float64 `json:"min_profit" yaml:"min_profit"`
	PollIntervalSecs int     `json:"poll_interval_secs" yaml:"poll_interval_secs"`
	SecondLegPolicy  string  `json:"second_leg_policy" yaml:"second_leg_policy"`
	PairConcurrency  int     `json:"pair_concurrency" yaml:"pair_concurrency"`

	// RPC hardening
	QuoteTimeoutSecs int             `json:"quote_timeout_secs" yaml:"quote_timeout_secs"`
	RPCRateLimit     RateLimitConfig `json:"rpc_rate_limit" yaml:"rpc_rate_limit"`

	// Storage
	DBPath string `json:"db_path" yaml:"db_path"`

	// Operations
	StatusAddr        string `json:"status_addr" yaml:"status_addr"`
	DiscordWebhookURL string `json:"discord_webhook_url" yaml:"discord_webhook_url"`
	AlertCooldownSecs int    `json:"alert_cooldown_secs" yaml:"alert_cooldown_secs"`
	LogLevel          string `json:"log_level" yaml:"log_level"`

	// Resolved by ValidateConfig
	Reference   types.Token    `json:"-" yaml:"-"`
	Monitored   []types.Token  `json:"-" yaml:"-"`
	DexAAddress common.Address `json:"-" yaml:"-"`
	DexBAddress common.Address `json:"-" yaml:"-"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int     `json:"burst_size" yaml:"burst_size"`
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}

	return nil
}

// TradeAmountDecimal returns the trade size in reference units
func (c *Config) TradeAmountDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.TradeAmount)
}

// MinProfitDecimal returns the opportunity threshold in reference units
func (c *Config) MinProfitDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.MinProfit)
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSecs) * time.Second
}

func (c *Config) QuoteTimeout() time.Duration {
	return time.Duration(c.QuoteTimeoutSecs) * time.Second
}

func (c *Config) AlertCooldown() time.Duration {
	return time.Duration(c.AlertCooldownSecs) * time.Second
}

func DefaultConfig() *Config {
	return &Config{
		DexAName:         defaultDexAName,
		DexBName:         defaultDexBName,
		ReferenceSymbol:  defaultReferenceSymbol,
		TokenAddresses:   map[string]string{},
		TradeAmount:      defaultTradeAmount,
		MinProfit:        defaultMinProfit,
		PollIntervalSecs: defaultPollIntervalSecs,
		SecondLegPolicy:  SecondLegSkip,
		PairConcurrency:  1,
		QuoteTimeoutSecs: defaultQuoteTimeoutSecs,
		RPCRateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			BurstSize:         10,
		},
		DBPath:            defaultDBPath,
		AlertCooldownSecs: defaultAlertCooldown,
		LogLevel:          "info",
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// and the process environment, then validates it. Call LoadEnv first if a
// .env file should be honoured.
func LoadConfig(cfgFile string) (*Config, error) {
	cfg := DefaultConfig()

	if cfgFile != "" {
		raw, err := os.ReadFile(cfgFile)
		if err != nil {
			return nil, newConfigurationError("failed to read config file %s: %v", cfgFile, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, newConfigurationError("failed to decode config file %s: %v", cfgFile, err)
		}
		addresses := make(map[string]string, len(cfg.TokenAddresses))
		for symbol, addr := range cfg.TokenAddresses {
			addresses[normalizeSymbol(symbol)] = addr
		}
		cfg.TokenAddresses = addresses
	}

	env := &envOverrides{}
	env.str(&cfg.RPCURL, EnvRPCURL)
	env.str(&cfg.DexARouter, EnvDexARouter)
	env.str(&cfg.DexBRouter, EnvDexBRouter)
	env.str(&cfg.DexAName, EnvDexAName)
	env.str(&cfg.DexBName, EnvDexBName)
	env.str(&cfg.ReferenceAddress, EnvReferenceAddress)
	env.str(&cfg.ReferenceSymbol, EnvReferenceSymbol)
	env.list(&cfg.Tokens, EnvTokens)
	env.float(&cfg.TradeAmount, EnvTradeAmount)
	env.float(&cfg.MinProfit, EnvMinProfit)
	env.integer(&cfg.PollIntervalSecs, EnvPollInterval)
	env.str(&cfg.DBPath, EnvDBPath)
	env.integer(&cfg.QuoteTimeoutSecs, EnvQuoteTimeout)
	env.float(&cfg.RPCRateLimit.RequestsPerSecond, EnvRateLimitRPS)
	env.integer(&cfg.RPCRateLimit.BurstSize, EnvRateLimitBurst)
	env.str(&cfg.SecondLegPolicy, EnvSecondLegPolicy)
	env.integer(&cfg.PairConcurrency, EnvPairConcurrency)
	env.str(&cfg.StatusAddr, EnvStatusAddr)
	env.str(&cfg.DiscordWebhookURL, EnvDiscordWebhook)
	env.integer(&cfg.AlertCooldownSecs, EnvAlertCooldown)
	env.str(&cfg.LogLevel, EnvLogLevel)
	for _, symbol := range cfg.Tokens {
		symbol = normalizeSymbol(symbol)
		if symbol == "" {
			continue
		}
		if v := strings.TrimSpace(os.Getenv(TokenAddressEnv(symbol))); v != "" {
			cfg.TokenAddresses[symbol] = v
		}
	}
	if len(env.problems) > 0 {
		return nil, &ConfigurationError{Problems: env.problems}
	}

	if err := cfg.ValidateConfig(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidateConfig checks every setting and resolves addresses and tokens.
// All problems are reported together in a single *ConfigurationError.
func (c *Config) ValidateConfig() error {
	var problems []string

	if c.RPCURL == "" {
		problems = append(problems, EnvRPCURL+" must be set")
	}
	c.DexAAddress, problems = parseAddress(c.DexARouter, EnvDexARouter, problems)
	c.DexBAddress, problems = parseAddress(c.DexBRouter, EnvDexBRouter, problems)
	if c.DexAName == "" || c.DexBName == "" {
		problems = append(problems, "source names must not be empty")
	} else if c.DexAName == c.DexBName {
		problems = append(problems, "source names must differ")
	}

	if c.TradeAmount < 0 {
		problems = append(problems, "trade amount must not be negative")
	}
	if c.PollIntervalSecs <= 0 {
		problems = append(problems, "poll interval must be positive")
	}
	if c.QuoteTimeoutSecs <= 0 {
		problems = append(problems, "quote timeout must be positive")
	}
	if c.PairConcurrency <= 0 {
		problems = append(problems, "pair concurrency must be positive")
	}
	if c.AlertCooldownSecs < 0 {
		problems = append(problems, "alert cooldown must not be negative")
	}
	if c.SecondLegPolicy != SecondLegSkip && c.SecondLegPolicy != SecondLegFatal {
		problems = append(problems, fmt.Sprintf("second leg policy must be %q or %q", SecondLegSkip, SecondLegFatal))
	}
	if c.DBPath == "" {
		problems = append(problems, "db path must not be empty")
	}
	if err := c.RPCRateLimit.Validate(); err != nil {
		problems = append(problems, fmt.Sprintf("RPC rate limit error: %v", err))
	}

	// Reference token
	refSymbol := normalizeSymbol(c.ReferenceSymbol)
	refDecimals, ok := TokenDecimals(refSymbol)
	if !ok {
		problems = append(problems, fmt.Sprintf("decimals for token %s are not defined", refSymbol))
	}
	var refAddress common.Address
	refAddress, problems = parseAddress(c.ReferenceAddress, EnvReferenceAddress, problems)
	c.Reference = types.Token{Symbol: refSymbol, Address: refAddress, Decimals: refDecimals}

	// Monitored tokens, in configured order
	c.Monitored = c.Monitored[:0]
	seen := make(map[string]bool)
	for _, raw := range c.Tokens {
		symbol := normalizeSymbol(raw)
		if symbol == "" {
			continue
		}
		if seen[symbol] {
			problems = append(problems, fmt.Sprintf("token %s is listed twice", symbol))
			continue
		}
		seen[symbol] = true

		decimals, ok := TokenDecimals(symbol)
		if !ok {
			problems = append(problems, fmt.Sprintf("decimals for token %s are not defined", symbol))
			continue
		}
		var addr common.Address
		before := len(problems)
		addr, problems = parseAddress(c.TokenAddresses[symbol], TokenAddressEnv(symbol), problems)
		if len(problems) > before {
			continue
		}
		if addr == refAddress {
			problems = append(problems, fmt.Sprintf("token %s has the same address as the reference token", symbol))
			continue
		}
		c.Monitored = append(c.Monitored, types.Token{Symbol: symbol, Address: addr, Decimals: decimals})
	}
	if len(seen) == 0 {
		problems = append(problems, EnvTokens+" must list at least one token")
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}

	return nil
}

func parseAddress(value, name string, problems []string) (common.Address, []string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, append(problems, name+" must be set")
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, append(problems, fmt.Sprintf("%s is not a valid address: %q", name, value))
	}
	return common.HexToAddress(value), problems
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
