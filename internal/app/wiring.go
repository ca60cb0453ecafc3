package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/fx"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/procurement"
)

// NewRateProvider builds the FX provider. Without FX_ENDPOINT the static
// FX_STATIC_RATES table is served; otherwise the upstream endpoint is cached
// in Redis.
func NewRateProvider(cfg *Config, redisClient *redis.Client, logger *slog.Logger) (fx.Provider, error) {
	if cfg.FXEndpoint == "" {
		rates := make(fx.StaticRates, len(cfg.FXRates))
		for pair, raw := range cfg.FXRates {
			rate, err := decimal.NewFromString(strings.TrimSpace(raw))
			if err != nil || !rate.IsPositive() {
				return nil, fmt.Errorf("fx static rate %s: invalid value %q", pair, raw)
			}
			rates[strings.ToUpper(strings.TrimSpace(pair))] = rate
		}
		return rates, nil
	}
	upstream := fx.NewHTTPProvider(cfg.FXEndpoint, &http.Client{Timeout: cfg.FXTimeout})
	if redisClient == nil {
		return upstream, nil
	}
	return fx.NewCachedProvider(upstream, redisClient, cfg.FXCacheTTL, logger), nil
}

// NewTolerancePolicy loads the match tolerance policy seeded with the
// configured defaults.
func NewTolerancePolicy(cfg *Config) (*procurement.TolerancePolicy, error) {
	return procurement.LoadTolerancePolicy(cfg.MatchToleranceFile, cfg.MatchTolerance())
}
