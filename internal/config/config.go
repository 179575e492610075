// Package config defines the global configuration structure for the Memberlane
// backend. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup (fail fast).
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"memberlane/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the Memberlane backend.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"memberlane-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	Billing  BillingConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// RequestTimeout bounds each inbound webhook request; on expiry the
	// handler returns a retryable failure instead of holding the connection.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"25s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// BillingConfig holds Stripe integration credentials and the tier catalog.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`

	// TierCatalog is a JSON mapping from Stripe price IDs to internal tier
	// names, e.g. {"price_1abc": "Gold", "price_2def": "Silver"}.
	// It is parsed once at startup and passed by reference into the
	// reconciler; there is no ambient global price map.
	TierCatalog string `envconfig:"TIER_CATALOG_JSON" validate:"required,json"`
}

// ParseTierCatalog decodes the TierCatalog JSON into a price-ID -> tier map.
// Unknown tier names fail the parse so a catalog typo stops startup instead of
// granting an unrecognized tier at checkout.
func (b BillingConfig) ParseTierCatalog() (map[string]types.MembershipTier, error) {
	var raw map[string]string
	if err := json.Unmarshal([]byte(b.TierCatalog), &raw); err != nil {
		return nil, err
	}
	m := make(map[string]types.MembershipTier, len(raw))
	for priceID, name := range raw {
		tier, ok := types.ParseMembershipTier(name)
		if !ok {
			return nil, fmt.Errorf("tier catalog: unknown tier %q for price %q", name, priceID)
		}
		m[priceID] = tier
	}
	return m, nil
}
