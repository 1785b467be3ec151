// Package config loads service and market configuration from environment
// variables. A .env file is read first when present (local development).
//
// Market is passed by value into every clearing call; nothing in the engine
// reads configuration from ambient state.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/lemx/clearing-engine/internal/model"
)

var (
	ErrNoTiers          = errors.New("config: at least one quality tier is required")
	ErrDuplicateTier    = errors.New("config: duplicate quality tier")
	ErrInvalidTier      = errors.New("config: invalid quality tier entry")
	ErrInvalidInterval  = errors.New("config: interval length must be positive")
	ErrInvalidIteration = errors.New("config: max iterations must be at least 1")
	ErrInvalidPriceBand = errors.New("config: price min must not exceed price max")
	ErrNoSchemes        = errors.New("config: at least one pricing scheme is required")
)

// Tier is one entry of the quality dictionary.
type Tier struct {
	Quality model.Quality `json:"quality"`
	Name    string        `json:"name"`
}

// Market holds the market parameters consumed by the engine and validator.
type Market struct {
	// Tiers is the quality dictionary, sorted ascending by Quality.
	Tiers []Tier

	// PriceExponent is the number of decimal places of fixed-point prices
	// (price 81500 with exponent 6 is 0.0815 currency units).
	PriceExponent int32

	// IntervalSeconds is the delivery interval length.
	IntervalSeconds int64

	// MaxIterations bounds the preference-satisfaction loop.
	MaxIterations int

	// Schemes are the pricing schemes computed when a request names none.
	Schemes []model.PricingScheme

	// ApplyPremium and FairnessShuffle are request defaults.
	ApplyPremium    bool
	FairnessShuffle bool

	// PriceMin and PriceMax bound submitted fixed-point prices.
	PriceMin int64
	PriceMax int64

	// MaxUserQuantity caps one user's open quantity per interval and side.
	MaxUserQuantity int64
}

// Server holds process-level settings.
type Server struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration
	Workers     int
	ShuffleSeed int64
}

// Config is everything loaded at startup.
type Config struct {
	Server Server
	Market Market
}

// DefaultMarket returns the market defaults used when no env overrides exist.
func DefaultMarket() Market {
	return Market{
		Tiers: []Tier{
			{Quality: 0, Name: "na"},
			{Quality: 1, Name: "local"},
			{Quality: 2, Name: "green"},
			{Quality: 3, Name: "green_local"},
		},
		PriceExponent:   6,
		IntervalSeconds: 900,
		MaxIterations:   300,
		Schemes:         []model.PricingScheme{model.Uniform, model.Discriminatory},
		PriceMin:        -10_000_000,
		PriceMax:        10_000_000,
		MaxUserQuantity: 1_000_000_000,
	}
}

// Load reads configuration from the environment and validates the market part.
// Call this once at application startup.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env is optional

	def := DefaultMarket()
	m := Market{
		PriceExponent:   int32(getEnvInt("PRICE_EXPONENT", int(def.PriceExponent))),
		IntervalSeconds: getEnvInt64("INTERVAL_SECONDS", def.IntervalSeconds),
		MaxIterations:   getEnvInt("MAX_ITERATIONS", def.MaxIterations),
		ApplyPremium:    getEnvBool("APPLY_PREMIUM", false),
		FairnessShuffle: getEnvBool("FAIRNESS_SHUFFLE", false),
		PriceMin:        getEnvInt64("PRICE_MIN", def.PriceMin),
		PriceMax:        getEnvInt64("PRICE_MAX", def.PriceMax),
		MaxUserQuantity: getEnvInt64("MAX_USER_QUANTITY", def.MaxUserQuantity),
	}

	tiers, err := ParseTiers(getEnv("QUALITY_TIERS", ""))
	if err != nil {
		return nil, err
	}
	if tiers == nil {
		tiers = def.Tiers
	}
	m.Tiers = tiers

	m.Schemes = def.Schemes
	if raw := getEnvList("PRICING_SCHEMES"); raw != nil {
		m.Schemes = nil
		for _, s := range raw {
			scheme, err := model.ParsePricingScheme(s)
			if err != nil {
				return nil, fmt.Errorf("config: PRICING_SCHEMES: %w", err)
			}
			m.Schemes = append(m.Schemes, scheme)
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &Config{
		Server: Server{
			Port:        getEnv("PORT", "8080"),
			DatabaseURL: getEnv("DATABASE_URL", ""),
			RedisURL:    getEnv("REDIS_URL", ""),
			CacheTTL:    time.Duration(getEnvInt("CACHE_TTL_SECONDS", 30)) * time.Second,
			Workers:     max(1, getEnvInt("CLEARING_WORKERS", 4)),
			ShuffleSeed: getEnvInt64("SHUFFLE_SEED", 0),
		},
		Market: m,
	}, nil
}

// ParseTiers parses "0:na,1:local" into a sorted tier list.
// An empty string returns nil so the caller can apply defaults.
func ParseTiers(s string) ([]Tier, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var tiers []Tier
	for _, part := range strings.Split(s, ",") {
		value, name, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTier, part)
		}
		q, err := strconv.ParseInt(value, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTier, part)
		}
		tiers = append(tiers, Tier{Quality: model.Quality(q), Name: name})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Quality < tiers[j].Quality })
	return tiers, nil
}

// Validate checks internal consistency.
func (m Market) Validate() error {
	if len(m.Tiers) == 0 {
		return ErrNoTiers
	}
	seen := make(map[model.Quality]bool, len(m.Tiers))
	for _, t := range m.Tiers {
		if seen[t.Quality] {
			return fmt.Errorf("%w: %d", ErrDuplicateTier, t.Quality)
		}
		seen[t.Quality] = true
	}
	if m.IntervalSeconds <= 0 {
		return ErrInvalidInterval
	}
	if m.MaxIterations < 1 {
		return ErrInvalidIteration
	}
	if m.PriceMin > m.PriceMax {
		return ErrInvalidPriceBand
	}
	if len(m.Schemes) == 0 {
		return ErrNoSchemes
	}
	return nil
}

// Qualities returns the tier values in ascending order.
func (m Market) Qualities() []model.Quality {
	qs := make([]model.Quality, len(m.Tiers))
	for i, t := range m.Tiers {
		qs[i] = t.Quality
	}
	return qs
}

// HasQuality reports whether q is in the tier dictionary.
func (m Market) HasQuality(q model.Quality) bool {
	for _, t := range m.Tiers {
		if t.Quality == q {
			return true
		}
	}
	return false
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvList splits a comma-separated variable; unset or empty returns nil.
func getEnvList(key string) []string {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
