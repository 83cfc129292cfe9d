package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full set of process knobs, loaded once at startup from the
// environment (optionally seeded by .env files and a yaml config file).
type Config struct {
	AppEnv          string        `mapstructure:"APP_ENV" validate:"required,oneof=development staging production test"`
	HTTPAddr        string        `mapstructure:"HTTP_ADDR" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT" validate:"required"`

	LogLevel  string `mapstructure:"LOG_LEVEL" validate:"required,oneof=debug info warn error dpanic panic fatal"`
	LogFormat string `mapstructure:"LOG_FORMAT" validate:"required,oneof=json console"`

	DatabaseURL string `mapstructure:"DATABASE_URL" validate:"required,url|uri"`

	RedisAddr     string `mapstructure:"REDIS_ADDR" validate:"required,hostname_port"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	AsynqConcurrency int `mapstructure:"ASYNQ_CONCURRENCY" validate:"gte=1,lte=1000"`

	// MasterKeyHex is the process-wide vault master key, 32 bytes hex encoded.
	MasterKeyHex string `mapstructure:"MASTER_KEY_HEX" validate:"required,len=64,hexadecimal"`

	JWTSecret string `mapstructure:"JWT_SECRET" validate:"required,min=16"`

	// OAuthClientID identifies this installation to the provider's OAuth flow.
	OAuthClientID string `mapstructure:"OAUTH_CLIENT_ID"`

	// WorkspaceDir is the root under which per-machine Terraform workspaces live.
	WorkspaceDir string `mapstructure:"WORKSPACE_DIR"`
	// TFModuleDir is the directory holding the machine Terraform module.
	TFModuleDir string `mapstructure:"TF_MODULE_DIR" validate:"required"`

	ReconcileInterval time.Duration `mapstructure:"RECONCILE_INTERVAL" validate:"required"`

	// ProviderBaseURL overrides the cloud provider API endpoint (tests, proxies).
	ProviderBaseURL string `mapstructure:"PROVIDER_BASE_URL"`

	GoMaxProcs int `mapstructure:"GOMAXPROCS" validate:"gte=0,lte=4096"`
}

// MasterKey decodes MASTER_KEY_HEX. Validation guarantees this succeeds after Load.
func (c *Config) MasterKey() []byte {
	b, _ := hex.DecodeString(c.MasterKeyHex)
	return b
}

var (
	cfg      *Config
	validate = validator.New(validator.WithRequiredStructEnabled())
)

var defaults = map[string]any{
	"APP_ENV":            "development",
	"HTTP_ADDR":          "0.0.0.0:8080",
	"SHUTDOWN_TIMEOUT":   "15s",
	"LOG_LEVEL":          "info",
	"LOG_FORMAT":         "json",
	"ASYNQ_CONCURRENCY":  10,
	"TF_MODULE_DIR":      "./modules/machine",
	"RECONCILE_INTERVAL": "5m",
	"GOMAXPROCS":         0,
}

var envKeys = []string{
	"APP_ENV",
	"HTTP_ADDR",
	"SHUTDOWN_TIMEOUT",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"DATABASE_URL",
	"REDIS_ADDR",
	"REDIS_PASSWORD",
	"ASYNQ_CONCURRENCY",
	"MASTER_KEY_HEX",
	"JWT_SECRET",
	"OAUTH_CLIENT_ID",
	"WORKSPACE_DIR",
	"TF_MODULE_DIR",
	"RECONCILE_INTERVAL",
	"PROVIDER_BASE_URL",
	"GOMAXPROCS",
}

// Load reads configuration through viper. Precedence: environment, then an
// optional config.yaml, then defaults. Missing .env files are not an error.
func Load() (*Config, error) {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	_ = v.ReadInConfig()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}

	// Durations arrive as strings from the environment.
	var err error
	if c.ShutdownTimeout, err = parseDuration(v, "SHUTDOWN_TIMEOUT", c.ShutdownTimeout); err != nil {
		return nil, err
	}
	if c.ReconcileInterval, err = parseDuration(v, "RECONCILE_INTERVAL", c.ReconcileInterval); err != nil {
		return nil, err
	}

	if c.WorkspaceDir == "" {
		c.WorkspaceDir = os.TempDir()
	}

	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if c.GoMaxProcs > 0 {
		runtime.GOMAXPROCS(c.GoMaxProcs)
	}

	cfg = &c
	return cfg, nil
}

func parseDuration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	s := v.GetString(key)
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// MustLoad loads configuration or exits the process on failure.
func MustLoad() *Config {
	c, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return c
}

// Get returns the loaded configuration. Panics if not loaded.
func Get() *Config {
	if cfg == nil {
		panic("config not loaded: call config.Load or config.MustLoad first")
	}
	return cfg
}
