package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the webhook server configuration, loadable from environment
// variables (POS_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"Webhook server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (POS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Webhook     WebhookConfig
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
}

// WebhookConfig carries the per-platform shared secrets used to verify
// delivery signatures.
type WebhookConfig struct {
	ShopifySecret string `usage:"Shared secret for order platform webhook signatures" flag:"shopify-secret"`
	SealSecret    string `usage:"Shared secret for subscription platform webhook signatures" flag:"seal-secret"`
}

// RateLimitConfig controls the per-sender token bucket limiter.
type RateLimitConfig struct {
	Max    int           `default:"300" usage:"Max requests per window per sender"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "POS",
		Files:     []string{"config.yaml", "/etc/pos-webhooks/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set POS_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Webhook.ShopifySecret == "" {
		return nil, errors.New("order platform webhook secret is required: set POS_WEBHOOK_SHOPIFY_SECRET")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps hosting-platform environment variables with
// standard names (DATABASE_URL, PORT) onto the POS_-prefixed configuration.
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
