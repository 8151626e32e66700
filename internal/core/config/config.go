package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultPath = "./configs/config.yaml"

type HTTP struct {
	Host               string
	Port               int
	ReadTimeoutSec     int      `mapstructure:"read_timeout_sec"`
	WriteTimeoutSec    int      `mapstructure:"write_timeout_sec"`
	IdleTimeoutSec     int      `mapstructure:"idle_timeout_sec"`
	RequestTimeoutSec  int      `mapstructure:"request_timeout_sec"`
	MaxBodyBytes       int64    `mapstructure:"max_body_bytes"`
	MaxConcurrent      int64    `mapstructure:"max_concurrent"`
	RateLimitRPS       float64  `mapstructure:"rate_limit_rps"`
	RateLimitBurst     int      `mapstructure:"rate_limit_burst"`
	AuthRateLimitRPS   float64  `mapstructure:"auth_rate_limit_rps"`
	AuthRateLimitBurst int      `mapstructure:"auth_rate_limit_burst"`
	CORSOrigins        []string `mapstructure:"cors_origins"`
}

type App struct {
	Name    string
	Env     string
	Debug   bool
	SiteURL string `mapstructure:"site_url"`
	HTTP    HTTP
}

type Log struct {
	Level      string
	JSON       bool
	File       string
	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
	MaxAgeDays int `mapstructure:"max_age_days"`
	Compress   bool
}

type Session struct {
	Secret   string
	TTLHours int `mapstructure:"ttl_hours"`
	Secure   bool
}

type DB struct {
	DSN               string
	TLS               string
	MinConns          int32  `mapstructure:"min_conns"`
	MaxConns          int32  `mapstructure:"max_conns"`
	AcquireTimeoutSec int    `mapstructure:"acquire_timeout_sec"`
	HealthCheckSec    int    `mapstructure:"health_check_sec"`
	LogLevel          string `mapstructure:"log_level"`
}

type Redis struct {
	Enable   bool   `mapstructure:"enable"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type OpenID struct {
	Endpoint   string
	TimeoutSec int `mapstructure:"timeout_sec"`
}

type CDN struct {
	BaseURL string `mapstructure:"base_url"`
}

type Config struct {
	App     App
	Log     Log
	Session Session
	DB      DB
	Redis   Redis `mapstructure:"redis"`
	OpenID  OpenID
	CDN     CDN
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "mordhub")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.debug", false)
	v.SetDefault("app.site_url", "http://localhost:3000")
	v.SetDefault("app.http.host", "0.0.0.0")
	v.SetDefault("app.http.port", 3000)
	v.SetDefault("app.http.read_timeout_sec", 10)
	v.SetDefault("app.http.write_timeout_sec", 30)
	v.SetDefault("app.http.idle_timeout_sec", 60)
	v.SetDefault("app.http.request_timeout_sec", 20)
	v.SetDefault("app.http.max_body_bytes", 1<<20)
	v.SetDefault("app.http.max_concurrent", 256)
	v.SetDefault("app.http.rate_limit_rps", 200)
	v.SetDefault("app.http.rate_limit_burst", 400)
	v.SetDefault("app.http.auth_rate_limit_rps", 1)
	v.SetDefault("app.http.auth_rate_limit_burst", 10)
	v.SetDefault("app.http.cors_origins", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("log.compress", true)

	v.SetDefault("session.secret", "")
	v.SetDefault("session.ttl_hours", 24*30)
	v.SetDefault("session.secure", false)

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.tls", "")
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.acquire_timeout_sec", 10)
	v.SetDefault("db.health_check_sec", 30)
	v.SetDefault("db.log_level", "warn")

	v.SetDefault("redis.enable", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "mordhub:")

	v.SetDefault("openid.endpoint", "https://steamcommunity.com/openid/login")
	v.SetDefault("openid.timeout_sec", 10)

	v.SetDefault("cdn.base_url", "https://res.cloudinary.com/zeta64/image/upload")
}

// Load reads an optional YAML file then APP_* environment overrides. The
// canonical DATABASE_URL, COOKIE_SECRET and SITE_URL variables are honoured
// as well. An empty path falls back to CONFIG_PATH, then to
// ./configs/config.yaml when it exists.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		if _, err := os.Stat(defaultPath); err == nil {
			path = defaultPath
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, env := range map[string]string{
		"db.dsn":         "DATABASE_URL",
		"session.secret": "COOKIE_SECRET",
		"app.site_url":   "SITE_URL",
	} {
		if err := v.BindEnv(key, "APP_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.App.SiteURL = strings.TrimRight(c.App.SiteURL, "/")
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.DB.DSN == "" {
		errs = append(errs, errors.New("db.dsn (DATABASE_URL) is required"))
	}
	if len(c.Session.Secret) < 32 {
		errs = append(errs, errors.New("session.secret (COOKIE_SECRET) must be at least 32 bytes"))
	}
	if u, err := url.Parse(c.App.SiteURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("app.site_url (SITE_URL) %q must be an absolute http(s) url", c.App.SiteURL))
	}
	if c.DB.MinConns < 0 || c.DB.MaxConns < 1 || c.DB.MinConns > c.DB.MaxConns {
		errs = append(errs, fmt.Errorf("db pool: need 0 <= min_conns <= max_conns, got %d/%d", c.DB.MinConns, c.DB.MaxConns))
	}
	switch c.DB.TLS {
	case "", "disable", "verify":
	default:
		errs = append(errs, fmt.Errorf("db.tls %q: want disable or verify", c.DB.TLS))
	}
	if c.DB.AcquireTimeoutSec <= 0 || c.OpenID.TimeoutSec <= 0 || c.App.HTTP.RequestTimeoutSec <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.App.HTTP.Port <= 0 || c.App.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("app.http.port %d out of range", c.App.HTTP.Port))
	}
	return errors.Join(errs...)
}

func (c *Config) Release() bool { return c.App.Env == "prod" || c.App.Env == "production" }

func (d DB) AcquireTimeout() time.Duration { return time.Duration(d.AcquireTimeoutSec) * time.Second }

func (d DB) HealthCheckPeriod() time.Duration { return time.Duration(d.HealthCheckSec) * time.Second }

func (s Session) TTL() time.Duration { return time.Duration(s.TTLHours) * time.Hour }
