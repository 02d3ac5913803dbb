package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "JURY"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabaseDriver      = DatabaseDriverSQLite
	defaultDatabasePath        = "jury.db"
	defaultLogLevel            = "info"
	defaultSessionIssuer       = "jury-sessions"
	defaultHeartbeatMinSeconds = 120
	defaultAdminIssuer         = "tauth"
	defaultAdminCookieName     = "app_session"
)

const (
	// DatabaseDriverSQLite selects the embedded sqlite store.
	DatabaseDriverSQLite = "sqlite"
	// DatabaseDriverMySQL selects a MySQL server reached through database.dsn.
	DatabaseDriverMySQL = "mysql"
	// DatabaseDriverPostgres selects a PostgreSQL server reached through database.dsn.
	DatabaseDriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	DatabaseDriver       string
	DatabasePath         string
	DatabaseDSN          string
	LogLevel             string
	SessionSigningSecret string
	SessionIssuer        string
	SessionTTL           time.Duration
	HeartbeatMinInterval time.Duration
	AdminSigningSecret   string
	AdminIssuer          string
	AdminCookieName      string
	AdminRequiredRole    string
	AllowedOrigins       []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.ttl_minutes", 0)
	configViper.SetDefault("heartbeat.min_interval_seconds", defaultHeartbeatMinSeconds)
	configViper.SetDefault("admin.issuer", defaultAdminIssuer)
	configViper.SetDefault("admin.cookie_name", defaultAdminCookieName)
	configViper.SetDefault("admin.required_role", "")
	configViper.SetDefault("cors.allowed_origins", []string{"*"})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:         configViper.GetString("database.path"),
		DatabaseDSN:          configViper.GetString("database.dsn"),
		LogLevel:             configViper.GetString("log.level"),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionIssuer:        configViper.GetString("session.issuer"),
		SessionTTL:           time.Duration(configViper.GetInt("session.ttl_minutes")) * time.Minute,
		HeartbeatMinInterval: time.Duration(configViper.GetInt("heartbeat.min_interval_seconds")) * time.Second,
		AdminSigningSecret:   configViper.GetString("admin.signing_secret"),
		AdminIssuer:          configViper.GetString("admin.issuer"),
		AdminCookieName:      configViper.GetString("admin.cookie_name"),
		AdminRequiredRole:    strings.TrimSpace(configViper.GetString("admin.required_role")),
		AllowedOrigins:       configViper.GetStringSlice("cors.allowed_origins"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.AdminSigningSecret) == "" {
		return fmt.Errorf("admin.signing_secret is required")
	}
	if strings.TrimSpace(c.AdminCookieName) == "" {
		return fmt.Errorf("admin.cookie_name is required")
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("session.ttl_minutes must not be negative")
	}
	if c.HeartbeatMinInterval < 0 {
		return fmt.Errorf("heartbeat.min_interval_seconds must not be negative")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverMySQL, DatabaseDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the %s driver", c.DatabaseDriver)
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	return nil
}
