package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvRPCURL           = "RPC_URL"
	EnvDexARouter       = "DEX_QUICKSWAP"
	EnvDexBRouter       = "DEX_SUSHISWAP"
	EnvDexAName         = "DEX_A_NAME"
	EnvDexBName         = "DEX_B_NAME"
	EnvReferenceAddress = "USDC_ADDRESS"
	EnvReferenceSymbol  = "REFERENCE_SYMBOL"
	EnvTokens           = "TOKENS_TO_MONITOR"
	EnvTradeAmount      = "TRADE_AMOUNT_USDC"
	EnvMinProfit        = "MIN_PROFIT_USDC"
	EnvPollInterval     = "POLL_INTERVAL_SECS"
	EnvDBPath           = "DB_PATH"
	EnvQuoteTimeout     = "QUOTE_TIMEOUT_SECS"
	EnvRateLimitRPS     = "RPC_RATE_LIMIT_RPS"
	EnvRateLimitBurst   = "RPC_RATE_LIMIT_BURST"
	EnvSecondLegPolicy  = "SECOND_LEG_POLICY"
	EnvPairConcurrency  = "PAIR_CONCURRENCY"
	EnvStatusAddr       = "STATUS_ADDR"
	EnvDiscordWebhook   = "DISCORD_WEBHOOK_URL"
	EnvAlertCooldown    = "ALERT_COOLDOWN_SECS"
	EnvLogLevel         = "LOG_LEVEL"
)

// TokenAddressEnv returns the variable holding the address of a monitored token
func TokenAddressEnv(symbol string) string {
	return strings.ToUpper(symbol) + "_ADDRESS"
}

// LoadEnv loads environment variables from a .env file. A missing file is
// only an error when required is set; variables already set are left
// untouched.
func LoadEnv(file string, required bool) error {
	err := godotenv.Load(file)
	if err == nil {
		return nil
	}
	if !required && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// envOverrides applies non-empty environment variables on top of a Config,
// collecting parse problems instead of silently dropping them.
type envOverrides struct {
	problems []string
}

func (e *envOverrides) str(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func (e *envOverrides) integer(dst *int, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.problems = append(e.problems, key+" must be an integer, got "+strconv.Quote(v))
		return
	}
	*dst = n
}

func (e *envOverrides) float(dst *float64, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.problems = append(e.problems, key+" must be a number, got "+strconv.Quote(v))
		return
	}
	*dst = f
}

func (e *envOverrides) list(dst *[]string, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	*dst = strings.Split(v, ",")
}
