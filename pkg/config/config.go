package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the access service
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Content    ContentConfig    `mapstructure:"content"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	LogLevel   string           `mapstructure:"log_level"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	ReadTimeout   int    `mapstructure:"read_timeout"`
	WriteTimeout  int    `mapstructure:"write_timeout"`
	IdleTimeout   int    `mapstructure:"idle_timeout"`
	RateLimit     int    `mapstructure:"rate_limit"`
	RateLimitOn   bool   `mapstructure:"rate_limit_enabled"`
}

// DatabaseConfig holds PostgreSQL configuration. When Enabled is false the
// service runs entirely from in-memory state.
type DatabaseConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// ContentConfig holds the external content store endpoint configuration
type ContentConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// JWTConfig holds JWT authentication configuration
type JWTConfig struct {
	Secret        string `mapstructure:"secret"`
	ExpiryMinutes int    `mapstructure:"expiry_minutes"`
	Issuer        string `mapstructure:"issuer"`
}

// PolicyConfig holds authorization policy knobs
type PolicyConfig struct {
	CreatorRoles   []string `mapstructure:"creator_roles"`
	GranteeRoles   []string `mapstructure:"grantee_roles"`
	BootstrapAdmin string   `mapstructure:"bootstrap_admin"`
}

// MonitoringConfig holds metrics and health check configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
	HealthPath  string `mapstructure:"health_path"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/phr-access")

	setDefaults()

	viper.SetEnvPrefix("PHR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideWithEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 15)
	viper.SetDefault("server.write_timeout", 15)
	viper.SetDefault("server.idle_timeout", 60)
	viper.SetDefault("server.rate_limit", 120)
	viper.SetDefault("server.rate_limit_enabled", true)

	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "phr_access")
	viper.SetDefault("database.user", "phr")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 300)

	viper.SetDefault("content.endpoint", "http://localhost:5001")
	viper.SetDefault("content.timeout_seconds", 30)

	viper.SetDefault("jwt.expiry_minutes", 60)
	viper.SetDefault("jwt.issuer", "phr-access")

	viper.SetDefault("policy.creator_roles", []string{"patient", "doctor"})
	viper.SetDefault("policy.grantee_roles", []string{"patient", "doctor", "researcher"})
	viper.SetDefault("policy.bootstrap_admin", "")

	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_path", "/metrics")
	viper.SetDefault("monitoring.health_path", "/health")

	viper.SetDefault("log_level", "info")
}

func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("PHR_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PHR_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("PHR_JWT_SECRET"); v != "" {
		cfg.JWT.Secret = v
	}
	if v := os.Getenv("PHR_CONTENT_ENDPOINT"); v != "" {
		cfg.Content.Endpoint = v
	}
	if v := os.Getenv("PHR_POLICY_BOOTSTRAP_ADMIN"); v != "" {
		cfg.Policy.BootstrapAdmin = v
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.JWT.Secret == "" {
		return fmt.Errorf("jwt secret is required")
	}
	if len(cfg.JWT.Secret) < 32 {
		return fmt.Errorf("jwt secret must be at least 32 characters")
	}
	if cfg.Database.Enabled {
		if cfg.Database.Host == "" {
			return fmt.Errorf("database host is required when database is enabled")
		}
		if cfg.Database.Name == "" {
			return fmt.Errorf("database name is required when database is enabled")
		}
	}
	if cfg.Content.Endpoint == "" {
		return fmt.Errorf("content endpoint is required")
	}
	if len(cfg.Policy.GranteeRoles) == 0 {
		return fmt.Errorf("policy grantee_roles must not be empty")
	}
	return nil
}
