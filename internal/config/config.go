// Package config loads the kiosk agent configuration from the environment.
//
// Values come from environment variables (optionally seeded from a .env
// file in the working directory) via github.com/caarlos0/env.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the kiosk agent configuration.
type Config struct {
	// IsDev switches logging to the human readable console encoder.
	IsDev bool `env:"KIOSK_DEV" envDefault:"false"`

	// DBPath is the SQLite file holding settings, roster and journal.
	DBPath string `env:"KIOSK_DB_PATH" envDefault:"./examkiosk.db"`

	// RosterFile, when set, is imported into the roster at startup.
	RosterFile string `env:"KIOSK_ROSTER_FILE"`

	API     APIConfig
	Scanner ScannerConfig
	Printer PrinterConfig
	HTTP    HTTPConfig
	Board   BoardConfig
}

// APIConfig describes the remote exam API.
type APIConfig struct {
	BaseURL string        `env:"KIOSK_API_BASE_URL" envDefault:"https://ai.kiut.uz"`
	Timeout time.Duration `env:"KIOSK_HTTP_TIMEOUT" envDefault:"10s"`
}

// ScannerConfig describes the local RFID event stream.
type ScannerConfig struct {
	URL         string `env:"KIOSK_SCANNER_URL" envDefault:"ws://localhost:8000/ws"`
	AutoConnect bool   `env:"KIOSK_AUTOCONNECT" envDefault:"true"`
}

// PrinterConfig describes the local print service.
type PrinterConfig struct {
	URL     string        `env:"KIOSK_PRINT_URL" envDefault:"http://localhost:8000/print"`
	Timeout time.Duration `env:"KIOSK_PRINT_TIMEOUT" envDefault:"15s"`
}

// HTTPConfig describes the local UI backend.
type HTTPConfig struct {
	Addr           string   `env:"KIOSK_HTTP_ADDR" envDefault:":8080"`
	AllowedOrigins []string `env:"KIOSK_ALLOWED_ORIGINS" envDefault:"http://localhost:3000,http://localhost:5173" envSeparator:","`
	TLSEnabled     bool     `env:"KIOSK_TLS_ENABLED" envDefault:"false"`
	CertDir        string   `env:"KIOSK_CERT_DIR" envDefault:"./certs"`
}

// BoardConfig controls how long transient messages stay visible.
type BoardConfig struct {
	ErrorTTL   time.Duration `env:"KIOSK_ERROR_TTL" envDefault:"5s"`
	SuccessTTL time.Duration `env:"KIOSK_SUCCESS_TTL" envDefault:"3s"`
}

// Load reads .env (if present) and the environment into a Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Sanitize applies guardrails to values loaded from the environment.
func (c *Config) Sanitize() {
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")

	if c.API.Timeout <= 0 {
		c.API.Timeout = 10 * time.Second
	}
	if c.Printer.Timeout <= 0 {
		c.Printer.Timeout = 15 * time.Second
	}
	if c.Board.ErrorTTL <= 0 {
		c.Board.ErrorTTL = 5 * time.Second
	}
	if c.Board.SuccessTTL <= 0 {
		c.Board.SuccessTTL = 3 * time.Second
	}

	if c.DBPath == "" {
		c.DBPath = "./examkiosk.db"
	}
	if !filepath.IsAbs(c.DBPath) {
		if cwd, err := os.Getwd(); err == nil {
			c.DBPath = filepath.Join(cwd, c.DBPath)
		}
	}
}

// Validate checks that the endpoint URLs are usable.
func (c *Config) Validate() error {
	checks := []struct {
		name    string
		raw     string
		schemes []string
	}{
		{"KIOSK_API_BASE_URL", c.API.BaseURL, []string{"http", "https"}},
		{"KIOSK_SCANNER_URL", c.Scanner.URL, []string{"ws", "wss"}},
		{"KIOSK_PRINT_URL", c.Printer.URL, []string{"http", "https"}},
	}
	for _, chk := range checks {
		u, err := url.Parse(chk.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", chk.name, err)
		}
		if !contains(chk.schemes, u.Scheme) || u.Host == "" {
			return fmt.Errorf("%s: unsupported url %q", chk.name, chk.raw)
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
