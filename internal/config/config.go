package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultNPDAnnualLimit = 2400000

type Config struct {
	// HTTP operator API
	HTTPAddr   string
	AdminToken string
	AdminIDs   []int64

	// Storage
	SQLiteDBPath string
	ExportDir    string

	// Mail source. SpoolDir, when set, replaces IMAP with a directory of .eml files.
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPassword       string
	EmailFromFilter    string
	EmailSubjectFilter string
	DaysToCheck        int
	AllowedExtensions  []string
	SpoolDir           string

	// Schedule
	Timezone    string
	DailyHour   int
	DailyMinute int
	RetryDelay  time.Duration

	// Tax
	TaxDescription string
	NPDAnnualLimit decimal.Decimal

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Ledger sink
	LedgerBackend       string
	GoogleSpreadsheetID string
	GoogleLedgerSheet   string

	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		HTTPAddr:   getEnv("HTTP_ADDR", ":8081"),
		AdminToken: getEnv("ADMIN_TOKEN", ""),
		AdminIDs:   getEnvInt64List("ADMIN_IDS"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/npdbot.db"),
		ExportDir:    getEnv("EXPORT_DIR", "./data/exports"),

		IMAPHost:           getEnv("IMAP_HOST", ""),
		IMAPPort:           getEnvInt("IMAP_PORT", 993),
		IMAPUser:           getEnv("IMAP_USER", ""),
		IMAPPassword:       getEnv("IMAP_PASSWORD", ""),
		EmailFromFilter:    getEnv("EMAIL_FROM_FILTER", ""),
		EmailSubjectFilter: getEnv("EMAIL_SUBJECT_FILTER", ""),
		DaysToCheck:        getEnvInt("DAYS_TO_CHECK", 7),
		AllowedExtensions:  getEnvList("ALLOWED_EXTENSIONS", []string{".csv"}),
		SpoolDir:           getEnv("SPOOL_DIR", ""),

		Timezone:    getEnv("TIMEZONE", "UTC"),
		DailyHour:   getEnvInt("DAILY_HOUR", 10),
		DailyMinute: getEnvInt("DAILY_MINUTE", 0),
		RetryDelay:  getEnvDuration("RETRY_DELAY", time.Hour),

		TaxDescription: getEnv("TAX_DESCRIPTION", "Доступ к IT-сервису"),
		NPDAnnualLimit: getEnvDecimal("NPD_ANNUAL_LIMIT", decimal.NewFromInt(DefaultNPDAnnualLimit)),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "npdbot"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "registry_ingested"),

		LedgerBackend:       getEnv("LEDGER_BACKEND", "memory"),
		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleLedgerSheet:   getEnv("GOOGLE_LEDGER_SHEET", "Ledger"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// UsesSpool reports whether deliveries are read from SpoolDir instead of IMAP.
func (c *Config) UsesSpool() bool {
	return c.SpoolDir != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if _, port, err := net.SplitHostPort(c.HTTPAddr); err != nil {
		errors = append(errors, fmt.Sprintf("invalid HTTP address '%s': %v", c.HTTPAddr, err))
	} else if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
		errors = append(errors, fmt.Sprintf("invalid HTTP port '%s': must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
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
	if c.ExportDir == "" {
		errors = append(errors, "export directory cannot be empty")
	}

	if c.UsesSpool() {
		if info, err := os.Stat(c.SpoolDir); err != nil || !info.IsDir() {
			errors = append(errors, fmt.Sprintf("spool directory does not exist: %s", c.SpoolDir))
		}
	} else {
		if c.IMAPHost == "" {
			errors = append(errors, "IMAP_HOST is required when SPOOL_DIR is not set")
		}
		if c.IMAPUser == "" || c.IMAPPassword == "" {
			errors = append(errors, "IMAP_USER and IMAP_PASSWORD are required when SPOOL_DIR is not set")
		}
		if c.IMAPPort < 1 || c.IMAPPort > 65535 {
			errors = append(errors, fmt.Sprintf("invalid IMAP port %d: must be between 1 and 65535", c.IMAPPort))
		}
	}
	if c.DaysToCheck < 1 {
		errors = append(errors, fmt.Sprintf("invalid days to check %d: must be at least 1", c.DaysToCheck))
	}
	if len(c.AllowedExtensions) == 0 {
		errors = append(errors, "at least one allowed attachment extension is required")
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}
	if c.DailyHour < 0 || c.DailyHour > 23 {
		errors = append(errors, fmt.Sprintf("invalid daily hour %d: must be between 0 and 23", c.DailyHour))
	}
	if c.DailyMinute < 0 || c.DailyMinute > 59 {
		errors = append(errors, fmt.Sprintf("invalid daily minute %d: must be between 0 and 59", c.DailyMinute))
	}
	if c.RetryDelay < time.Second {
		errors = append(errors, fmt.Sprintf("invalid retry delay %v: must be at least 1 second", c.RetryDelay))
	} else if c.RetryDelay > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid retry delay %v: must be at most 24 hours", c.RetryDelay))
	}

	if !c.NPDAnnualLimit.IsPositive() {
		errors = append(errors, fmt.Sprintf("invalid NPD annual limit %s: must be positive", c.NPDAnnualLimit))
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

	validBackends := []string{"memory", "sheets"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.LedgerBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid ledger backend '%s': must be one of %v", c.LedgerBackend, validBackends))
	}
	if c.LedgerBackend == "sheets" && c.GoogleSpreadsheetID == "" {
		errors = append(errors, "Google Spreadsheet ID is required when using sheets backend")
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvInt64List parses a comma separated list of ids. Items that are not
// numbers are ignored.
func getEnvInt64List(key string) []int64 {
	var out []int64
	for _, item := range getEnvList(key, nil) {
		if id, err := strconv.ParseInt(item, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}
