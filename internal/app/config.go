package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/merchkit/promo-engine/internal/domain/coupon"
)

// Config holds the complete application configuration, loadable from
// environment variables (PROMO_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (PROMO_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (PROMO_API_KEY_PEPPER)" flag:"api-key-pepper"`

	// MinOrderBasis selects which subtotal a coupon's minimum order amount is
	// checked against: "eligible" (only lines the coupon applies to) or "cart".
	MinOrderBasis string `default:"eligible" usage:"Coupon minimum order basis: eligible or cart" flag:"min-order-basis"`

	Eligibility EligibilityConfig
	Reservation ReservationConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// EligibilityConfig controls the storefront eligibility map cache.
type EligibilityConfig struct {
	CacheSize int           `default:"1024" usage:"Max cached eligibility maps" flag:"eligibility-cache-size"`
	CacheTTL  time.Duration `default:"30s"  usage:"Eligibility map cache TTL" flag:"eligibility-cache-ttl"`
}

// ReservationConfig controls redemption slot reservations.
type ReservationConfig struct {
	TTL           time.Duration `default:"10m" usage:"Reservation lifetime before expiry" flag:"reservation-ttl"`
	SweepInterval time.Duration `default:"1m"  usage:"Expired reservation sweep interval" flag:"reservation-sweep-interval"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "PROMO",
		Files:     []string{"config.yaml", "/etc/promo/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set PROMO_DATABASE_URL or DATABASE_URL")
	}
	if _, err := cfg.minOrderBasis(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// minOrderBasis parses the configured basis into its domain type.
func (c *Config) minOrderBasis() (coupon.MinOrderBasis, error) {
	switch coupon.MinOrderBasis(c.MinOrderBasis) {
	case coupon.BasisEligible:
		return coupon.BasisEligible, nil
	case coupon.BasisCart:
		return coupon.BasisCart, nil
	default:
		return "", errors.Errorf("invalid min order basis %q: want eligible or cart", c.MinOrderBasis)
	}
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's PROMO_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
