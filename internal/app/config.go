package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/oolio-coupon-engine/internal/domain/stacking"
)

// Config holds the complete application configuration, loadable from
// environment variables (COUPON_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL, in-memory store when empty" flag:"database-url"`
	RedisURL     string `usage:"Redis URL for quotes and commit locks, in-process when empty" flag:"redis-url"`
	ImageBaseURL string `default:"" usage:"Base URL for product images" flag:"image-base-url"`
	Admin        AdminConfig
	Demo         DemoConfig
	Engine       EngineConfig
	Checkout     CheckoutConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// AdminConfig controls API key authentication of the admin routes.
type AdminConfig struct {
	Pepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	// APIKeys are accepted in addition to the api_keys table. Without a
	// database they are the only keys.
	APIKeys []string `usage:"Raw admin API keys" flag:"admin-api-keys"`
}

// DemoConfig loads the demo menu and coupons at startup.
type DemoConfig struct {
	Seed  bool     `default:"false" usage:"Seed demo products, coupons and rules" flag:"demo-seed"`
	Users []string `usage:"Users that receive every demo coupon" flag:"demo-users"`
}

// EngineConfig bounds the combination search.
type EngineConfig struct {
	MaxCandidates    int      `default:"64" usage:"Eligible coupons considered per evaluation"`
	DefaultMaxStack  int      `default:"3" usage:"Stack size when no rule sets one"`
	MaxCombinations  int      `default:"4096" usage:"Combinations generated per evaluation"`
	MaxAlternatives  int      `default:"10" usage:"Alternatives returned with a preview"`
	Policy           string   `default:"max_discount" usage:"max_discount, max_consumption or protect_high_value"`
	ProtectedCoupons []string `usage:"Coupon ids kept back by protect_high_value"`
}

// CheckoutConfig controls quotes and order placement.
type CheckoutConfig struct {
	QuoteTTL    time.Duration `default:"15m" usage:"Lifetime of previewed combinations"`
	MaxAttempts int           `default:"3" usage:"Evaluate and commit attempts per order"`
	LockTTL     time.Duration `default:"10s" usage:"Lifetime of the per-order commit lock"`
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
		EnvPrefix: "COUPON",
		Files:     []string{"config.yaml", "/etc/coupon/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if _, err := c.policy(); err != nil {
		return errors.Wrap(err, "engine policy")
	}
	if len(c.Admin.APIKeys) > 0 && c.Admin.Pepper == "" {
		return errors.New("admin api keys require COUPON_ADMIN_PEPPER")
	}
	return nil
}

func (c *Config) policy() (stacking.Policy, error) {
	return stacking.ParsePolicy(c.Engine.Policy, c.Engine.ProtectedCoupons)
}

func (c *Config) stackingConfig() (stacking.Config, error) {
	p, err := c.policy()
	if err != nil {
		return stacking.Config{}, err
	}
	return stacking.Config{
		Limits: stacking.Limits{
			MaxCandidates:   c.Engine.MaxCandidates,
			DefaultMaxStack: c.Engine.DefaultMaxStack,
			MaxCombinations: c.Engine.MaxCombinations,
		},
		MaxAlternatives: c.Engine.MaxAlternatives,
		Policy:          p,
	}, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's COUPON_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
