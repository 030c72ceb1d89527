package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// Config is the immutable runtime configuration. It is built once in main
// and passed explicitly into each component; nothing reads the environment
// after startup.
type Config struct {
	ServiceName string
	Env         string
	ListenAddr  string

	// Payment processor.
	ProcessorSecretKey   string
	WebhookSigningSecret string

	// Commerce platform.
	ShopDomain         string
	ShopAccessToken    string
	CommerceAPIVersion string

	// Pricing.
	VATRate  decimal.Decimal
	Currency string

	// Redirect targets for payment artifacts.
	AppBaseURL string

	// Best-effort CRM mirror endpoint. Empty disables mirroring.
	CRMMirrorURL string
}

// Load reads configuration from the environment and validates the fields the
// core flows cannot run without.
func Load() (Config, error) {
	rate, err := decimal.NewFromString(getenvDefault("VAT_RATE", "0.20"))
	if err != nil {
		return Config{}, fmt.Errorf("config: parse VAT_RATE: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Config{}, fmt.Errorf("config: VAT_RATE must be in [0,1), got %s", rate)
	}

	cfg := Config{
		ServiceName: getenvDefault("SERVICE_NAME", "paybridge"),
		Env:         getenvDefault("ENV", "dev"),
		ListenAddr:  getenvDefault("LISTEN_ADDR", ":8080"),

		ProcessorSecretKey:   os.Getenv("PROCESSOR_SECRET_KEY"),
		WebhookSigningSecret: os.Getenv("WEBHOOK_SIGNING_SECRET"),

		ShopDomain:         os.Getenv("SHOP_DOMAIN"),
		ShopAccessToken:    os.Getenv("SHOP_ACCESS_TOKEN"),
		CommerceAPIVersion: getenvDefault("COMMERCE_API_VERSION", "2024-10"),

		VATRate:  rate,
		Currency: strings.ToLower(getenvDefault("CURRENCY", "gbp")),

		AppBaseURL:   strings.TrimRight(getenvDefault("APP_BASE_URL", "http://localhost:8080"), "/"),
		CRMMirrorURL: os.Getenv("CRM_MIRROR_URL"),
	}

	var missing []string
	if cfg.ProcessorSecretKey == "" {
		missing = append(missing, "PROCESSOR_SECRET_KEY")
	}
	if cfg.WebhookSigningSecret == "" {
		missing = append(missing, "WEBHOOK_SIGNING_SECRET")
	}
	if cfg.ShopDomain == "" {
		missing = append(missing, "SHOP_DOMAIN")
	}
	if cfg.ShopAccessToken == "" {
		missing = append(missing, "SHOP_ACCESS_TOKEN")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("config: missing required environment: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

// CommerceBaseURL is the versioned admin API root of the commerce platform.
func (c Config) CommerceBaseURL() string {
	return fmt.Sprintf("https://%s/admin/api/%s", c.ShopDomain, c.CommerceAPIVersion)
}

// AdminOrderURL is the human-facing admin page for an order on the commerce
// platform.
func (c Config) AdminOrderURL(orderID string) string {
	return fmt.Sprintf("https://%s/admin/orders/%s", c.ShopDomain, orderID)
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
