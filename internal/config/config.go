package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prontopos/pronto-core/internal/domain/pricing"
	"github.com/shopspring/decimal"
)

// Config is the environment contract consumed by the lifecycle core.
// Collaborator settings (DSN, AMQP URL) are carried but not interpreted here.
type Config struct {
	ServiceName string
	Env         string
	HTTPAddr    string

	Currency       string
	TaxRate        decimal.Decimal
	PriceMode      pricing.Mode
	TipPresets     []decimal.Decimal
	SessionTimeout time.Duration

	DatabaseURL string
	AMQPURL     string
}

// Load reads configuration from the environment. It returns an error for any
// value it cannot parse; callers are expected to exit with code 2 on failure.
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getenvDefault("SERVICE_NAME", "pronto-core"),
		Env:         getenvDefault("ENV", "dev"),
		HTTPAddr:    getenvDefault("PRONTO_HTTP_ADDR", ":8080"),
		Currency:    getenvDefault("PRONTO_CURRENCY", "MXN"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		AMQPURL:     os.Getenv("AMQP_URL"),
	}

	rate, err := decimal.NewFromString(getenvDefault("PRONTO_TAX_RATE", "0.16"))
	if err != nil {
		return nil, fmt.Errorf("config: PRONTO_TAX_RATE: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("config: PRONTO_TAX_RATE must be in [0, 1), got %s", rate)
	}
	cfg.TaxRate = rate

	mode, err := pricing.ParseMode(getenvDefault("PRONTO_PRICE_MODE", string(pricing.TaxInclusive)))
	if err != nil {
		return nil, fmt.Errorf("config: PRONTO_PRICE_MODE: %w", err)
	}
	cfg.PriceMode = mode

	presets, err := parseTipPresets(getenvDefault("PRONTO_TIP_PRESETS", "10,15,20"))
	if err != nil {
		return nil, fmt.Errorf("config: PRONTO_TIP_PRESETS: %w", err)
	}
	cfg.TipPresets = presets

	timeoutMin, err := strconv.Atoi(getenvDefault("PRONTO_SESSION_TIMEOUT_MIN", "120"))
	if err != nil || timeoutMin <= 0 {
		return nil, fmt.Errorf("config: PRONTO_SESSION_TIMEOUT_MIN must be a positive integer")
	}
	cfg.SessionTimeout = time.Duration(timeoutMin) * time.Minute

	return cfg, nil
}

func parseTipPresets(raw string) ([]decimal.Decimal, error) {
	parts := strings.Split(raw, ",")
	out := make([]decimal.Decimal, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := decimal.NewFromString(p)
		if err != nil {
			return nil, fmt.Errorf("invalid tip percentage %q: %w", p, err)
		}
		if d.IsNegative() {
			return nil, fmt.Errorf("tip percentage %q must not be negative", p)
		}
		out = append(out, d)
	}
	return out, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
