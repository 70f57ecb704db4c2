package platform

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted when the config file leaves a value empty.
const (
	EnvRedditClientID     = "REDDIT_CLIENT_ID"
	EnvRedditClientSecret = "REDDIT_CLIENT_SECRET"
	EnvRedditRedirectURI  = "REDDIT_REDIRECT_URI"
	EnvSecretKey          = "TOUCHGRASS_SECRET_KEY"
	EnvDatabaseDSN        = "TOUCHGRASS_DATABASE_DSN"
)

// Config holds the service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Reddit   RedditConfig   `yaml:"reddit"`
	Session  SessionConfig  `yaml:"session"`
	State    StateConfig    `yaml:"state"`
	Security SecurityConfig `yaml:"security"`
	Activity ActivityConfig `yaml:"activity"`
	Database DatabaseConfig `yaml:"database"`
	Audit    AuditConfig    `yaml:"audit"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address string `yaml:"address" validate:"required"`

	// FrontendURL, when set, receives the browser after the OAuth callback.
	FrontendURL string `yaml:"frontend_url" validate:"omitempty,url"`

	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `yaml:"cors_origins" validate:"dive,required"`

	// CookieSecure marks the session cookie Secure. Enable behind TLS.
	CookieSecure bool `yaml:"cookie_secure"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedditConfig configures the OAuth application registered with Reddit.
type RedditConfig struct {
	ClientID     string        `yaml:"client_id" validate:"required"`
	ClientSecret string        `yaml:"client_secret" validate:"required"`
	RedirectURI  string        `yaml:"redirect_uri" validate:"required,url"`
	UserAgent    string        `yaml:"user_agent"`
	Scopes       []string      `yaml:"scopes"`
	Timeout      time.Duration `yaml:"timeout"`
	AuthURL      string        `yaml:"auth_url" validate:"omitempty,url"`
	TokenURL     string        `yaml:"token_url" validate:"omitempty,url"`
	APIBaseURL   string        `yaml:"api_base_url" validate:"omitempty,url"`
}

// SessionConfig configures server-side sessions.
type SessionConfig struct {
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	MaxLifetime     time.Duration `yaml:"max_lifetime"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	CookieName      string        `yaml:"cookie_name"`
}

// StateConfig configures pending OAuth states.
type StateConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// SecurityConfig holds the secret all signing and encryption keys are
// derived from.
type SecurityConfig struct {
	SecretKey string `yaml:"secret_key" validate:"required,min=32"`
}

// ActivityConfig configures activity collection.
type ActivityConfig struct {
	PageLimit  int    `yaml:"page_limit" validate:"min=1,max=100"`
	Sort       string `yaml:"sort" validate:"oneof=new hot top controversial"`
	TimeWindow string `yaml:"time_window" validate:"oneof=hour day week month year all"`
}

// DatabaseConfig configures the optional PostgreSQL database.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// AuditConfig configures the authentication audit trail.
type AuditConfig struct {
	Enabled         bool          `yaml:"enabled"`
	RetentionDays   int           `yaml:"retention_days" validate:"min=0"`
	MemoryCapacity  int           `yaml:"memory_capacity" validate:"min=0"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// LoadConfig loads configuration from a file. An empty path yields the
// defaults plus environment fallbacks.
// The path is expected to come from command line arguments, controlled by the administrator.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		// #nosec G304 -- path is from CLI args, controlled by admin
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		data = []byte(expandEnvVars(string(data)))

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnvFallbacks(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

func applyEnvFallbacks(cfg *Config) {
	fallback := func(dst *string, env string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
	}
	fallback(&cfg.Reddit.ClientID, EnvRedditClientID)
	fallback(&cfg.Reddit.ClientSecret, EnvRedditClientSecret)
	fallback(&cfg.Reddit.RedirectURI, EnvRedditRedirectURI)
	fallback(&cfg.Security.SecretKey, EnvSecretKey)
	fallback(&cfg.Database.DSN, EnvDatabaseDSN)
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Session.AccessTokenTTL == 0 {
		cfg.Session.AccessTokenTTL = time.Hour
	}
	if cfg.Session.MaxLifetime == 0 {
		cfg.Session.MaxLifetime = 720 * time.Hour
	}
	if cfg.Session.CleanupInterval == 0 {
		cfg.Session.CleanupInterval = 5 * time.Minute
	}
	if cfg.State.TTL == 0 {
		cfg.State.TTL = 10 * time.Minute
	}
	if cfg.State.CleanupInterval == 0 {
		cfg.State.CleanupInterval = time.Minute
	}
	if cfg.Activity.PageLimit == 0 {
		cfg.Activity.PageLimit = 100
	}
	if cfg.Activity.Sort == "" {
		cfg.Activity.Sort = "new"
	}
	if cfg.Activity.TimeWindow == "" {
		cfg.Activity.TimeWindow = "all"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = 90
	}
	if cfg.Audit.MemoryCapacity == 0 {
		cfg.Audit.MemoryCapacity = 1000
	}
	if cfg.Audit.CleanupInterval == 0 {
		cfg.Audit.CleanupInterval = 24 * time.Hour
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// newValidator reports fields by their yaml names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validating config: %w", err)
		}
		for _, fe := range verrs {
			field := strings.TrimPrefix(fe.Namespace(), "Config.")
			errs = append(errs, fmt.Sprintf("%s fails %q", field, fe.Tag()))
		}
	}

	if c.Database.AutoMigrate && c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required when auto_migrate is enabled")
	}
	if c.Session.MaxLifetime > 0 && c.Session.MaxLifetime < c.Session.AccessTokenTTL {
		errs = append(errs, "session.max_lifetime must not be shorter than session.access_token_ttl")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
