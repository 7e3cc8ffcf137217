/*
Package config loads process configuration from the environment.

SOURCES (later wins):
 1. Struct tag defaults
 2. A .env file, if present
 3. The process environment

KEYS:

	PORT              HTTP port (default 8080)
	DATABASE_PATH     SQLite path, ":memory:" for a throwaway database
	INVOICE_PREFIX    Fallback invoice number prefix (default INV)
	DEFAULT_TAX_RATE  Fallback organization tax rate, e.g. 0.15
	LOG_LEVEL         trace, debug, info, warn, error
	LOG_FORMAT        json or console
	LOG_FILE_PATH     Write logs to this file instead of stdout
	CORS_ORIGINS      Comma-separated allowed origins

Values stored in the settings table override INVOICE_PREFIX and
DEFAULT_TAX_RATE at runtime.
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/callumsoutar/flight-service-pro-sub000/invoice"
)

type Config struct {
	Port           int             `envconfig:"PORT" default:"8080"`
	DatabasePath   string          `envconfig:"DATABASE_PATH" default:"flight-ledger.db"`
	InvoicePrefix  string          `envconfig:"INVOICE_PREFIX" default:"INV"`
	DefaultTaxRate decimal.Decimal `envconfig:"DEFAULT_TAX_RATE" default:"0"`
	LogLevel       string          `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat      string          `envconfig:"LOG_FORMAT" default:"json"`
	LogFilePath    string          `envconfig:"LOG_FILE_PATH"`
	CORSOrigins    []string        `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://localhost:8080"`
}

// Load reads envFiles (".env" when none are given) into the environment and
// processes it into a Config. Missing env files are ignored.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("error loading environment variables: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks values envconfig cannot.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.DatabasePath == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if c.DefaultTaxRate.IsNegative() {
		return fmt.Errorf("DEFAULT_TAX_RATE must not be negative, got %s", c.DefaultTaxRate)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q, want json or console", c.LogFormat)
	}
	return nil
}

// InvoiceDefaults returns the settings used when nothing is stored.
func (c Config) InvoiceDefaults() invoice.StaticSettings {
	return invoice.StaticSettings{
		Prefix:  c.InvoicePrefix,
		TaxRate: c.DefaultTaxRate,
	}
}

func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }
