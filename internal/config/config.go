package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/rl1809/stock-workflow/internal/core/domain"
)

const (
	StorageMemory = "memory"
	StorageMySQL  = "mysql"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GRPC_ADDR" envDefault:":50051"`

	Storage   string `env:"STORAGE" envDefault:"memory"`
	MySQLDSN  string `env:"MYSQL_DSN" envDefault:"root:root@tcp(localhost:3306)/inventory?parseTime=true"`
	RedisAddr string `env:"REDIS_ADDR"` // empty keeps idempotency keys in process

	IdempotencyTTL   time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	OperationTimeout time.Duration `env:"OPERATION_TIMEOUT" envDefault:"5s"`

	DefaultLowStockThreshold int    `env:"DEFAULT_LOW_STOCK_THRESHOLD" envDefault:"10"`
	RestockMultiplier        int    `env:"RESTOCK_MULTIPLIER" envDefault:"3"`
	DefaultSupplierID        string `env:"DEFAULT_SUPPLIER_ID"`

	PageSize    int `env:"PAGE_SIZE" envDefault:"25"`
	MaxPageSize int `env:"MAX_PAGE_SIZE" envDefault:"100"`

	AuditWorkers   int `env:"AUDIT_WORKERS" envDefault:"4"`
	AuditQueueSize int `env:"AUDIT_QUEUE_SIZE" envDefault:"10000"`

	// SeedAccounts provisions accounts at startup, each as id:role:display name.
	SeedAccounts []string `env:"SEED_ACCOUNTS" envSeparator:","`

	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"` // host:port of an OTLP/HTTP collector
	OTelInsecure bool   `env:"OTEL_INSECURE" envDefault:"true"`
}

// Load reads .env files that exist, then the environment. Variables already
// set in the environment win over .env values.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env", ".env.local"}
	}
	existing := make([]string, 0, len(envFiles))
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return Config{}, fmt.Errorf("load env files: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// FromMap builds a Config from vars alone, ignoring the process environment.
func FromMap(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Storage != StorageMemory && c.Storage != StorageMySQL {
		errs = append(errs, fmt.Errorf("STORAGE must be %q or %q, got %q", StorageMemory, StorageMySQL, c.Storage))
	}
	if c.Storage == StorageMySQL && c.MySQLDSN == "" {
		errs = append(errs, errors.New("MYSQL_DSN is required for mysql storage"))
	}
	if c.DefaultLowStockThreshold < 0 {
		errs = append(errs, errors.New("DEFAULT_LOW_STOCK_THRESHOLD must not be negative"))
	}
	if c.RestockMultiplier < 1 {
		errs = append(errs, errors.New("RESTOCK_MULTIPLIER must be at least 1"))
	}
	if c.PageSize < 1 || c.MaxPageSize < c.PageSize {
		errs = append(errs, errors.New("PAGE_SIZE must be positive and not exceed MAX_PAGE_SIZE"))
	}
	if c.AuditWorkers < 1 || c.AuditQueueSize < 1 {
		errs = append(errs, errors.New("AUDIT_WORKERS and AUDIT_QUEUE_SIZE must be positive"))
	}
	if c.OperationTimeout <= 0 {
		errs = append(errs, errors.New("OPERATION_TIMEOUT must be positive"))
	}
	if _, err := c.Accounts(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Accounts parses SeedAccounts.
func (c Config) Accounts() ([]domain.Account, error) {
	accounts := make([]domain.Account, 0, len(c.SeedAccounts))
	for _, raw := range c.SeedAccounts {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) < 2 || parts[0] == "" {
			return nil, fmt.Errorf("SEED_ACCOUNTS entry %q: want id:role[:name]", raw)
		}
		role := domain.Role(parts[1])
		if !role.Valid() {
			return nil, fmt.Errorf("SEED_ACCOUNTS entry %q: unknown role %q", raw, parts[1])
		}
		acc := domain.Account{ID: parts[0], Role: role, DisplayName: parts[0]}
		if len(parts) == 3 && parts[2] != "" {
			acc.DisplayName = parts[2]
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}
