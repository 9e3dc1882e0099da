package ruststore

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Backend endpoint. SSL is a config toggle because some hosts terminate TLS
// badly enough that the store has to fall back to plain HTTP.
const (
	apiURL      = "https://store-api.moscow.ovh/index.php"
	apiNoSSLURL = "http://store-api.moscow.ovh/index.php"
)

// Config holds all store client configuration loaded from environment
// variables, read once at startup.
type Config struct {
	// Credentials bound into every backend request.
	StoreID   string `envconfig:"STORE_ID" default:"0"`
	ServerID  string `envconfig:"SERVER_ID" default:"0"`
	ServerKey string `envconfig:"SERVER_KEY" default:"key"`

	EnableSSL bool `envconfig:"STORE_ENABLE_SSL" default:"false"`

	// APIURL overrides the backend endpoint entirely. Useful for staging
	// backends; leave empty for the production endpoint.
	APIURL string `envconfig:"STORE_API_URL" default:""`

	// StackInOneSlot forces every granted quantity into a single inventory
	// slot instead of the stack-aware split.
	StackInOneSlot bool `envconfig:"STORE_STACK_IN_ONE_SLOT" default:"false"`

	// Building-zone policies for grants.
	OnlyCupboardGive     bool `envconfig:"STORE_ONLY_CUPBOARD_GIVE" default:"false"`
	BanOtherCupboardGive bool `envconfig:"STORE_BAN_OTHER_CUPBOARD_GIVE" default:"true"`

	// EnhancedDurabilityModifier scales the durability of enhanced item
	// variants. Clamped to (0, 5] on load.
	EnhancedDurabilityModifier float64 `envconfig:"STORE_ENHANCED_DURABILITY_MODIFIER" default:"1"`

	// IconBaseURL is the printf template resolving an item shortname to its
	// icon asset.
	IconBaseURL string `envconfig:"STORE_ICON_BASE_URL" default:"http://static.moscow.ovh/images/games/rust/icons/%s.png"`

	ErrorLogPath string `envconfig:"STORE_ERROR_LOG_PATH" default:"./logs/ruststore_errors.log"`
	GiveLogPath  string `envconfig:"STORE_GIVE_LOG_PATH" default:"./logs/ruststore_give.log"`

	// CartGraceWindow is how long a granted record stays in the cart before
	// the eviction sweep may remove it.
	CartGraceWindow time.Duration `envconfig:"STORE_CART_GRACE_WINDOW" default:"30s"`

	// BulkGrantWindow is how long the grant-all guard stays active before it
	// is considered stale.
	BulkGrantWindow time.Duration `envconfig:"STORE_BULK_GRANT_WINDOW" default:"30s"`
}

// BaseURL returns the backend endpoint for the configured SSL mode, or the
// explicit override when one is set.
func (c *Config) BaseURL() string {
	if c.APIURL != "" {
		return c.APIURL
	}
	if c.EnableSSL {
		return apiURL
	}
	return apiNoSSLURL
}

// Load reads configuration from environment variables and clamps
// out-of-range values.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.EnhancedDurabilityModifier > 5 {
		cfg.EnhancedDurabilityModifier = 5
	}
	if cfg.EnhancedDurabilityModifier <= 0 {
		cfg.EnhancedDurabilityModifier = 1
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
