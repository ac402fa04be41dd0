// Package config loads runtime settings from an optional YAML file and
// SFA_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "SFA"

// Config is the full runtime configuration of the API server and CLI.
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Store    StoreConfig    `mapstructure:"store"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
	Metadata MetadataConfig `mapstructure:"metadata"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit   float64  `mapstructure:"rate_limit"`
	RateBurst   int      `mapstructure:"rate_burst"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Kind            string        `mapstructure:"kind"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetadataConfig names the reserved organizations and lists organizations
// whose roles survive a member's re-affiliation.
type MetadataConfig struct {
	UnaffiliatedOrganization string   `mapstructure:"unaffiliated_organization"`
	ReferenceOrganization    string   `mapstructure:"reference_organization"`
	PrivilegedOrganizations  []string `mapstructure:"privileged_organizations"`
}

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.rate_limit", 50.0)
	v.SetDefault("http.rate_burst", 100)
	v.SetDefault("http.cors_origins", []string{})
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("store.kind", StoreMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_open_conns", 50)
	v.SetDefault("store.max_idle_conns", 25)
	v.SetDefault("store.conn_max_lifetime", 15*time.Minute)
	v.SetDefault("store.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "sfa")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("metadata.unaffiliated_organization", "Unaffiliated")
	v.SetDefault("metadata.reference_organization", "Reference")
	v.SetDefault("metadata.privileged_organizations", []string{})
}

// Load reads path when non-empty, then overlays the environment. SFA_STORE_DSN
// sets store.dsn, SFA_HTTP_CORS_ORIGINS takes a comma separated list.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.HTTP.CORSOrigins = splitList(cfg.HTTP.CORSOrigins)
	cfg.Metadata.PrivilegedOrganizations = splitList(cfg.Metadata.PrivilegedOrganizations)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	switch c.Store.Kind {
	case StoreMemory:
	case StorePostgres:
		if c.Store.DSN == "" {
			return errors.New("config: store.dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown store kind %q", c.Store.Kind)
	}
	if c.Metadata.UnaffiliatedOrganization == c.Metadata.ReferenceOrganization {
		return errors.New("config: reserved organization names must differ")
	}
	if c.HTTP.RateLimit < 0 {
		return errors.New("config: http.rate_limit must not be negative")
	}
	return nil
}

// splitList flattens entries that arrived as one comma separated string
// from the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
