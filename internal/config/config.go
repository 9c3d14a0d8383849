package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Storage
	DataBackend  string `env:"DATA_BACKEND" envDefault:"memory"`
	SQLiteDBPath string `env:"SQLITE_DB_PATH" envDefault:"./data/ledger.db"`
	// AuditBackend defaults to DataBackend when empty.
	AuditBackend string `env:"AUDIT_BACKEND"`

	// AMQP (optional)
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"ledger"`
	AMQPQueue    string `env:"AMQP_QUEUE" envDefault:"ledger_notifications"`

	// Google Sheets audit sink
	GoogleSpreadsheetID      string `env:"GOOGLE_SPREADSHEET_ID"`
	GoogleAuditSheetName     string `env:"GOOGLE_AUDIT_SHEET_NAME" envDefault:"Audit"`
	GoogleServiceAccountJSON string `env:"GOOGLE_SERVICE_ACCOUNT_JSON"`
	GoogleServiceAccountFile string `env:"GOOGLE_SERVICE_ACCOUNT_FILE"`

	// Caching
	CacheDefaultTTL      time.Duration `env:"CACHE_DEFAULT_TTL" envDefault:"5m"`
	CacheCleanupInterval time.Duration `env:"CACHE_CLEANUP_INTERVAL" envDefault:"1m"`
	DuplicateCacheTTL    time.Duration `env:"DUPLICATE_CACHE_TTL" envDefault:"30s"`
	EventHistorySize     int           `env:"EVENT_HISTORY_SIZE" envDefault:"100"`

	// Worker
	ReconcileInterval       time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1h"`
	ReconcileLookbackMonths int           `env:"RECONCILE_LOOKBACK_MONTHS" envDefault:"2"`

	MerchantRulesFile string `env:"MERCHANT_RULES_FILE"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	DefaultCurrency   string `env:"DEFAULT_CURRENCY" envDefault:"PLN"`
}

var (
	dataBackends  = []string{"memory", "sqlite"}
	auditBackends = []string{"memory", "sqlite", "sheets"}
	logLevels     = []string{"debug", "info", "warn", "warning", "error"}
	currencyRe    = regexp.MustCompile(`^[A-Z]{3}$`)
)

// Load parses the environment. It does not validate.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// Audit returns the effective audit backend.
func (c *Config) Audit() string {
	if c.AuditBackend == "" {
		return c.DataBackend
	}
	return c.AuditBackend
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if !slices.Contains(dataBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, dataBackends))
	}
	audit := c.Audit()
	if !slices.Contains(auditBackends, audit) {
		errors = append(errors, fmt.Sprintf("invalid audit backend '%s': must be one of %v", audit, auditBackends))
	}
	if audit == "sqlite" && c.DataBackend != "sqlite" {
		errors = append(errors, "sqlite audit backend requires the sqlite data backend")
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if audit == "sheets" {
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using the sheets audit backend")
		}
		hasJSON := c.GoogleServiceAccountJSON != ""
		hasFile := c.GoogleServiceAccountFile != ""
		if !hasJSON && !hasFile {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for the sheets audit backend")
		}
		if hasFile {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if c.CacheDefaultTTL <= 0 {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must be positive", c.CacheDefaultTTL))
	}
	if c.CacheCleanupInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid cache cleanup interval %v: must be at least 1 second", c.CacheCleanupInterval))
	}
	if c.DuplicateCacheTTL <= 0 {
		errors = append(errors, fmt.Sprintf("invalid duplicate cache TTL %v: must be positive", c.DuplicateCacheTTL))
	}
	if c.EventHistorySize < 1 {
		errors = append(errors, fmt.Sprintf("invalid event history size %d: must be at least 1", c.EventHistorySize))
	}

	if c.ReconcileInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid reconcile interval %v: must be at least 1 second", c.ReconcileInterval))
	} else if c.ReconcileInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid reconcile interval %v: must be at most 24 hours", c.ReconcileInterval))
	}
	if c.ReconcileLookbackMonths < 0 || c.ReconcileLookbackMonths > 24 {
		errors = append(errors, fmt.Sprintf("invalid reconcile lookback %d: must be between 0 and 24 months", c.ReconcileLookbackMonths))
	}

	if c.MerchantRulesFile != "" {
		if _, err := os.Stat(c.MerchantRulesFile); err != nil {
			errors = append(errors, fmt.Sprintf("merchant rules file is not readable: %v", err))
		}
	}
	if !slices.Contains(logLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}
	if !currencyRe.MatchString(c.DefaultCurrency) {
		errors = append(errors, fmt.Sprintf("invalid default currency '%s': must be a 3-letter ISO code", c.DefaultCurrency))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}
