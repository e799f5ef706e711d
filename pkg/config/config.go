package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/saturnines/vacsync/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g. AKENEO_BASE_URL.
const EnvPrefix = "AKENEO"

// Config holds the connection settings and limits of one run
type Config struct {
	BaseURL   string
	ClientID  string
	Secret    string
	Username  string
	Password  string
	TokenPath string

	ExportPath   string
	PatchLimit   int
	PromiseLimit int
	ChunkSize    int

	RequestTimeout     time.Duration
	LoadTimeout        time.Duration
	TokenRefreshBefore time.Duration

	JournalPath string
	CatalogPath string
}

// TokenURL is BaseURL joined with TokenPath.
func (c *Config) TokenURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(c.TokenPath, "/")
}

// NewViper returns a viper instance with defaults and env bindings.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("base_url", "")
	v.SetDefault("client_id", "")
	v.SetDefault("secret", "")
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("token_path", "/api/oauth/v1/token")
	v.SetDefault("export_path", ".")
	v.SetDefault("patch_limit", 100)
	v.SetDefault("promise_limit", 16)
	v.SetDefault("chunk_size", 1600)
	v.SetDefault("request_timeout", "0s")
	v.SetDefault("load_timeout", "60s")
	v.SetDefault("token_refresh_before", "5m")
	v.SetDefault("journal_path", "")
	v.SetDefault("catalog_path", "")

	// Bind environment variables with AKENEO_ prefix
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads .env (if present), the optional config file and the
// environment. Flags bound to v beforehand take precedence over both.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	// a missing .env is the normal case
	_ = godotenv.Load()

	if v == nil {
		v = NewViper()
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.WrapError(err, errors.ErrConfiguration, "read config file")
		}
	}

	cfg := &Config{
		BaseURL:            v.GetString("base_url"),
		ClientID:           v.GetString("client_id"),
		Secret:             v.GetString("secret"),
		Username:           v.GetString("username"),
		Password:           v.GetString("password"),
		TokenPath:          v.GetString("token_path"),
		ExportPath:         v.GetString("export_path"),
		PatchLimit:         v.GetInt("patch_limit"),
		PromiseLimit:       v.GetInt("promise_limit"),
		ChunkSize:          v.GetInt("chunk_size"),
		RequestTimeout:     v.GetDuration("request_timeout"),
		LoadTimeout:        v.GetDuration("load_timeout"),
		TokenRefreshBefore: v.GetDuration("token_refresh_before"),
		JournalPath:        v.GetString("journal_path"),
		CatalogPath:        v.GetString("catalog_path"),
	}

	if errs := Validate(cfg); len(errs) > 0 {
		return nil, errs
	}
	return cfg, nil
}

// Validate checks required credentials and positive limits
func Validate(cfg *Config) ValidationErrors {
	var errs ValidationErrors

	required := []struct{ field, value string }{
		{"base_url", cfg.BaseURL},
		{"client_id", cfg.ClientID},
		{"secret", cfg.Secret},
		{"username", cfg.Username},
		{"token_path", cfg.TokenPath},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, ValidationError{
				Field:   r.field,
				Message: fmt.Sprintf("is required (set %s_%s)", EnvPrefix, strings.ToUpper(r.field)),
			})
		}
	}

	positive := []struct {
		field string
		value int
	}{
		{"patch_limit", cfg.PatchLimit},
		{"promise_limit", cfg.PromiseLimit},
		{"chunk_size", cfg.ChunkSize},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, ValidationError{Field: p.field, Message: fmt.Sprintf("must be positive, got %d", p.value)})
		}
	}

	if cfg.RequestTimeout < 0 {
		errs = append(errs, ValidationError{Field: "request_timeout", Message: "must not be negative"})
	}
	if cfg.LoadTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "load_timeout", Message: "must be positive"})
	}
	if cfg.TokenRefreshBefore < 0 {
		errs = append(errs, ValidationError{Field: "token_refresh_before", Message: "must not be negative"})
	}

	return errs
}
