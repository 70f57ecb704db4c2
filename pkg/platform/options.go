package platform

import (
	"database/sql"

	"github.com/owenisas/please-touch-grass/pkg/audit"
	"github.com/owenisas/please-touch-grass/pkg/provider"
)

// Options configures the platform.
type Options struct {
	// Config is the platform configuration.
	Config *Config

	// DB is an already opened database (optional, opened from
	// database.dsn if not provided). A provided DB is not closed on Stop.
	DB *sql.DB

	// Provider (optional, a Reddit client is built from config if not provided).
	Provider provider.Client

	// AuditLogger (optional, created from config if not provided).
	AuditLogger audit.Logger
}

// Option is a functional option for configuring the platform.
type Option func(*Options)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithDB sets the database connection.
func WithDB(db *sql.DB) Option {
	return func(o *Options) {
		o.DB = db
	}
}

// WithProvider sets the provider client.
func WithProvider(p provider.Client) Option {
	return func(o *Options) {
		o.Provider = p
	}
}

// WithAuditLogger sets the audit logger.
func WithAuditLogger(logger audit.Logger) Option {
	return func(o *Options) {
		o.AuditLogger = logger
	}
}
