// Package config loads the server configuration from flags and DOCSERVER_*
// environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/stevemurr/collection-crud/store"
)

const (
	DefaultEnvPrefix = "DOCSERVER"

	DefaultHost       = "0.0.0.0"
	DefaultPort       = 8080
	DefaultBackend    = "json"
	DefaultDataDir    = "./data"
	DefaultCollection = "documents"
	DefaultLogLevel   = "info"
	DefaultParamsKey  = "id"
)

// reserved paths the server registers itself
var reserved = map[string]bool{"live": true, "ready": true, "metrics": true}

type Config struct {
	Host           string   `json:"host,omitempty"            mapstructure:"host"`
	Port           int      `json:"port,omitempty"            mapstructure:"port"`
	Backend        string   `json:"backend,omitempty"         mapstructure:"backend"`
	DataDir        string   `json:"data_dir,omitempty"        mapstructure:"data_dir"`
	DSN            string   `json:"dsn,omitempty"             mapstructure:"dsn"`
	Database       string   `json:"database,omitempty"        mapstructure:"database"`
	Password       string   `json:"-"                         mapstructure:"password"`
	Collections    []string `json:"collections,omitempty"     mapstructure:"collections"`
	AllowedOrigins []string `json:"allowed_origins,omitempty" mapstructure:"allowed_origins"`
	LogLevel       string   `json:"log_level,omitempty"       mapstructure:"log_level"`
	ParamsKey      string   `json:"params_key,omitempty"      mapstructure:"params_key"`
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Store returns the backend settings.
func (c *Config) Store() store.Config {
	return store.Config{
		Backend:  c.Backend,
		DataDir:  c.DataDir,
		DSN:      c.DSN,
		Database: c.Database,
		Password: c.Password,
	}
}

// RegisterFlags adds one flag per key. Flags left unset fall back to the
// environment and then to the defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("host", DefaultHost, "listen host")
	fs.Int("port", DefaultPort, "listen port")
	fs.String("backend", DefaultBackend, "store backend: json, sqlite, memory, postgres, mongo, redis")
	fs.String("data-dir", DefaultDataDir, "directory for the json and sqlite backends")
	fs.String("dsn", "", "postgres connection string, mongo URI or redis address")
	fs.String("database", "", "mongo database name or redis DB number")
	fs.StringSlice("collections", []string{DefaultCollection}, "collections to expose, comma separated")
	fs.StringSlice("allowed-origins", []string{"*"}, "CORS allowed origins")
	fs.String("log-level", DefaultLogLevel, "debug, info, warn, error or development")
	fs.String("params-key", DefaultParamsKey, "path parameter name for document ids")
}

// Load reads the configuration. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.NewWithOptions(
		viper.KeyDelimiter("."),
		viper.EnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")),
	)

	v.SetEnvPrefix(DefaultEnvPrefix)
	v.AutomaticEnv()

	defaults := map[string]any{
		"host":            DefaultHost,
		"port":            DefaultPort,
		"backend":         DefaultBackend,
		"data_dir":        DefaultDataDir,
		"dsn":             "",
		"database":        "",
		"password":        "",
		"collections":     []string{DefaultCollection},
		"allowed_origins": []string{"*"},
		"log_level":       DefaultLogLevel,
		"params_key":      DefaultParamsKey,
	}
	for key, value := range defaults {
		_ = v.BindEnv(key)
		v.SetDefault(key, value)
	}

	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	config.Collections = splitList(config.Collections)
	config.AllowedOrigins = splitList(config.AllowedOrigins)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the port and the collection names.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if len(c.Collections) == 0 {
		return fmt.Errorf("no collections configured")
	}
	seen := map[string]bool{}
	for _, name := range c.Collections {
		if err := store.ValidateCollection(name); err != nil {
			return err
		}
		if reserved[name] {
			return fmt.Errorf("collection name %q is reserved", name)
		}
		if seen[name] {
			return fmt.Errorf("collection %q configured twice", name)
		}
		seen[name] = true
	}
	return nil
}

// splitList trims entries and splits any that still hold commas, which
// happens when a list comes from a single environment variable.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
