package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firehouse/internal/logging"
)

const (
	DriverSQLite   = "sqlite"
	DriverMongoDB  = "mongodb"
	DriverPostgres = "postgres"
)

type Config struct {
	Root   string
	Domain string
	Server *Server
	Data   *Data
	Auth   *Auth
	Forum  *Forum
	Logger logging.Config
}

type Server struct {
	Addr               string
	CorsAllowedOrigins []string
}

type Data struct {
	Driver   string
	SQLite   *SQLite
	MongoDB  *MongoDB
	Postgres *Postgres
}

type SQLite struct {
	Path string
}

type MongoDB struct {
	URI      string
	Database string
}

type Postgres struct {
	DSN string
}

type Auth struct {
	JWTSecret  string
	SessionTTL time.Duration
}

type Forum struct {
	PageSize      int
	LegacyListUID bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("root", "swallow")
	v.SetDefault("domain", "default-domain")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_allowed_origins", []string{"*"})
	v.SetDefault("data.driver", DriverSQLite)
	v.SetDefault("data.sqlite.path", "./data/firehouse.db")
	v.SetDefault("data.mongodb.database", "firehouse")
	v.SetDefault("auth.jwt_secret", "firehouse-dev-secret")
	v.SetDefault("auth.session_ttl", 24*time.Hour)
	v.SetDefault("forum.page_size", 10)
	v.SetDefault("forum.legacy_list_uid", false)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
}

// Load reads the configuration. An empty path searches ./config.yaml and
// /etc/firehouse; a missing file is fine, defaults and FIREHOUSE_* env
// variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("firehouse")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/firehouse")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Root:   v.GetString("root"),
		Domain: v.GetString("domain"),
		Server: &Server{
			Addr:               v.GetString("server.addr"),
			CorsAllowedOrigins: v.GetStringSlice("server.cors_allowed_origins"),
		},
		Data: &Data{
			Driver: v.GetString("data.driver"),
			SQLite: &SQLite{Path: v.GetString("data.sqlite.path")},
			MongoDB: &MongoDB{
				URI:      v.GetString("data.mongodb.uri"),
				Database: v.GetString("data.mongodb.database"),
			},
			Postgres: &Postgres{DSN: v.GetString("data.postgres.dsn")},
		},
		Auth: &Auth{
			JWTSecret:  v.GetString("auth.jwt_secret"),
			SessionTTL: v.GetDuration("auth.session_ttl"),
		},
		Forum: &Forum{
			PageSize:      v.GetInt("forum.page_size"),
			LegacyListUID: v.GetBool("forum.legacy_list_uid"),
		},
		Logger: logging.Config{
			Level:      v.GetString("logger.level"),
			Format:     v.GetString("logger.format"),
			Output:     v.GetString("logger.output"),
			OutputFile: v.GetString("logger.output_file"),
		},
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings the rest of the module relies on.
func (c *Config) Validate() error {
	if c.Root == "" || c.Domain == "" {
		return errors.New("config: root and domain must be set")
	}
	// sqlite holds accounts and sessions whichever driver keeps documents.
	if c.Data.SQLite.Path == "" {
		return errors.New("config: data.sqlite.path is empty")
	}
	switch c.Data.Driver {
	case DriverSQLite:
	case DriverMongoDB:
		if c.Data.MongoDB.URI == "" {
			return errors.New("config: data.mongodb.uri is empty")
		}
	case DriverPostgres:
		if c.Data.Postgres == nil || c.Data.Postgres.DSN == "" {
			return errors.New("config: data.postgres.dsn is empty")
		}
	default:
		return fmt.Errorf("config: unknown data driver %q", c.Data.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("config: auth.jwt_secret is empty")
	}
	if c.Auth.SessionTTL <= 0 {
		return errors.New("config: auth.session_ttl must be positive")
	}
	return nil
}
