package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the BFF and the mock backend.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	Backend BackendConfig
	Session SessionConfig
	Login   LoginConfig
	DB      DBConfig
	Redis   RedisConfig
	Mock    MockConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

type SessionConfig struct {
	CookieName    string
	RefreshTTL    time.Duration
	DefaultLocale string
	// IdleTimeout evicts unused sessions from process memory. Persistence keeps them.
	IdleTimeout   time.Duration
}

type LoginConfig struct {
	RatePerMinute int
	Burst         int
}

// DBConfig is optional: without DB_HOST the audit trail stays in memory.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional: without REDIS_HOST sessions are kept in process memory.
type RedisConfig struct {
	Host string
	Port int
}

type MockConfig struct {
	Port      int
	JWTSecret string
	AccessTTL time.Duration
}

const (
	defaultBackendURL  = "http://localhost:8000/api/v1"
	defaultTimeout     = 30 * time.Second
	defaultRefreshTTL  = 7 * 24 * time.Hour
	defaultIdleTimeout = 30 * time.Minute
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error
	collect := func(err error) {
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
	}
	var err error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, err = optionalInt("APP_PORT", 8080)
	collect(err)

	c.Backend.BaseURL = strings.TrimSpace(os.Getenv("BACKEND_BASE_URL"))
	c.Backend.Timeout, err = optionalDuration("REQUEST_TIMEOUT")
	collect(err)

	c.Session.CookieName = strings.TrimSpace(os.Getenv("SESSION_COOKIE_NAME"))
	c.Session.RefreshTTL, err = optionalDuration("REFRESH_TOKEN_TTL")
	collect(err)
	c.Session.DefaultLocale = strings.TrimSpace(os.Getenv("DEFAULT_LOCALE"))
	c.Session.IdleTimeout, err = optionalDuration("SESSION_IDLE_TIMEOUT")
	collect(err)

	c.Login.RatePerMinute, err = optionalInt("LOGIN_RATE_PER_MIN", 0)
	collect(err)
	c.Login.Burst, err = optionalInt("LOGIN_RATE_BURST", 0)
	collect(err)

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, err = optionalInt("DB_PORT", 5432)
	collect(err)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, err = optionalInt("REDIS_PORT", 6379)
	collect(err)

	c.Mock.Port, err = optionalInt("MOCK_PORT", 8000)
	collect(err)
	c.Mock.JWTSecret = os.Getenv("MOCK_JWT_SECRET")
	c.Mock.AccessTTL, err = optionalDuration("MOCK_ACCESS_TTL")
	collect(err)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks invariants and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = defaultBackendURL
	}
	if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("BACKEND_BASE_URL must be an absolute URL, got %q", c.Backend.BaseURL))
	} else if c.IsProduction() && u.Scheme != "https" {
		errs = append(errs, errors.New("BACKEND_BASE_URL must use https in production"))
	}
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = defaultTimeout
	}

	if c.Session.CookieName == "" {
		c.Session.CookieName = "nawra_sid"
	}
	if c.Session.RefreshTTL <= 0 {
		c.Session.RefreshTTL = defaultRefreshTTL
	}
	if c.Session.IdleTimeout <= 0 {
		c.Session.IdleTimeout = defaultIdleTimeout
	}
	switch c.Session.DefaultLocale {
	case "":
		c.Session.DefaultLocale = "en"
	case "en", "ar":
	default:
		errs = append(errs, fmt.Errorf("DEFAULT_LOCALE must be en or ar, got %q", c.Session.DefaultLocale))
	}

	if c.Login.RatePerMinute <= 0 {
		c.Login.RatePerMinute = 10
	}
	if c.Login.Burst <= 0 {
		c.Login.Burst = 5
	}

	if c.DBEnabled() {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required when DB_HOST is set"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required when DB_HOST is set"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if c.RedisEnabled() && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	if c.IsProduction() && !c.RedisEnabled() {
		errs = append(errs, errors.New("REDIS_HOST is required in production"))
	}

	if c.Mock.AccessTTL <= 0 {
		c.Mock.AccessTTL = 15 * time.Minute
	}
	if c.Mock.Port <= 0 || c.Mock.Port > 65535 {
		errs = append(errs, fmt.Errorf("MOCK_PORT must be a valid port, got %d", c.Mock.Port))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) DBEnabled() bool    { return c.DB.Host != "" }
func (c Config) RedisEnabled() bool { return c.Redis.Host != "" }

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) MockAddr() string {
	return fmt.Sprintf(":%d", c.Mock.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func optionalInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// optionalDuration returns 0 when unset; Validate applies the default.
func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
