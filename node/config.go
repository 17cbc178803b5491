// Copyright 2025 The darve-server Authors
// This file is part of darve-server.
//
// darve-server is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// darve-server is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with darve-server. If not, see <http://www.gnu.org/licenses/>.

package node

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/naoina/toml"
)

// Config collects every tunable of a running node. All fields have working
// defaults; a TOML file and environment variables override them in that
// order.
type Config struct {
	// HTTPAddr is the listen address of the API server.
	HTTPAddr string

	// DatabaseURL selects the backing store. Empty runs the in-memory
	// store, anything else is a postgres DSN.
	DatabaseURL string

	// JWTSecret signs session tokens. Mandatory outside tests.
	JWTSecret string

	// TokenTTL bounds session token validity.
	TokenTTL time.Duration

	// AllowedOrigins configures CORS for browser clients.
	AllowedOrigins []string

	// StripeWebhookSecret verifies inbound Stripe signatures.
	StripeWebhookSecret string

	// PayPal payout credentials. All three empty disables the payout
	// client; withdrawals then wait for operator-driven webhooks.
	PayPalBaseURL      string
	PayPalClientID     string
	PayPalClientSecret string

	// WithdrawFeeRate overrides the default withdrawal fee when positive.
	WithdrawFeeRate float64

	// SweepInterval is the task settlement sweep period.
	SweepInterval time.Duration

	// PresenceLinger is how long a disconnected user still counts as
	// online.
	PresenceLinger time.Duration

	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string

	// LogFile routes logs to a rotated file instead of stderr when set.
	LogFile string
}

// DefaultConfig is the config a bare node starts with.
var DefaultConfig = Config{
	HTTPAddr:       ":8080",
	TokenTTL:       24 * time.Hour,
	SweepInterval:  30 * time.Second,
	PresenceLinger: 10 * time.Second,
	LogLevel:       "info",
}

// tomlSettings mirrors the strict decoding used for config files: unknown
// keys are an error pointing at the offending field rather than silently
// ignored.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// LoadConfig reads a TOML config file over the defaults. A missing path
// returns the defaults untouched.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	if err := tomlSettings.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto the config. Deployment
// secrets ride the environment so they never land in a config file.
func (c *Config) ApplyEnv() {
	setString(&c.HTTPAddr, "DARVE_HTTP_ADDR")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.JWTSecret, "JWT_SECRET")
	setString(&c.StripeWebhookSecret, "STRIPE_WEBHOOK_SECRET")
	setString(&c.PayPalBaseURL, "PAYPAL_BASE_URL")
	setString(&c.PayPalClientID, "PAYPAL_CLIENT_ID")
	setString(&c.PayPalClientSecret, "PAYPAL_CLIENT_SECRET")
	setString(&c.LogLevel, "DARVE_LOG_LEVEL")
	setString(&c.LogFile, "DARVE_LOG_FILE")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate rejects configs a node cannot start with.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("node: JWTSecret is required")
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("node: HTTPAddr is required")
	}
	return nil
}
