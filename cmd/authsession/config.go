package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/authsession/internal/logger"
)

const (
	defaultListenAddr   = "localhost:4000"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
	defaultCORSOrigin   = "http://localhost:3000"
	defaultAccessTTL    = 15 * time.Minute
	defaultRefreshTTL   = 7 * 24 * time.Hour
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to
	// Users are kept in memory if empty (and no redis set)
	DatabaseDSN string

	// Redis to keep users in, e.g. redis://localhost:6379/0
	// Used if database is not set
	RedisURL string

	// Secret keys to sign access and refresh tokens. Both required and must differ
	AccessSecret  string
	RefreshSecret string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Browser origin allowed to make credentialed requests
	CORSOrigin string

	// Set 'Secure' attribute on refresh cookie
	CookieSecure bool

	// Clear stored refresh token on logout, not only the cookie
	RevokeOnLogout bool

	// Environment
	Environment string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:    defaultLoggingLevel,
		ListenAddr:  defaultListenAddr,
		Environment: defaultEnvironment,
		CORSOrigin:  defaultCORSOrigin,
		AccessTTL:   defaultAccessTTL,
		RefreshTTL:  defaultRefreshTTL,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setPort := func(value string) error {
		if value == "" {
			return nil
		}
		if _, err := strconv.ParseUint(value, 10, 16); err != nil {
			return fmt.Errorf("invalid port %q", value)
		}
		c.ListenAddr = ":" + value
		return nil
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}
	setBool := func(o *bool) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			b, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}
			*o = b
			return nil
		}
	}

	var errs []error

	// PORT wins over RUN_ADDRESS when both set
	_ = setString(&c.ListenAddr)(getenv("RUN_ADDRESS"))
	if err := setPort(getenv("PORT")); err != nil {
		errs = append(errs, fmt.Errorf("env PORT: %w", err))
	}

	envMap := map[string]func(string) error{
		"DATABASE_URI":         setString(&c.DatabaseDSN),
		"REDIS_URL":            setString(&c.RedisURL),
		"ACCESS_TOKEN_SECRET":  setString(&c.AccessSecret),
		"REFRESH_TOKEN_SECRET": setString(&c.RefreshSecret),
		"ACCESS_TOKEN_TTL":     setDuration(&c.AccessTTL),
		"REFRESH_TOKEN_TTL":    setDuration(&c.RefreshTTL),
		"CORS_ORIGIN":          setString(&c.CORSOrigin),
		"COOKIE_SECURE":        setBool(&c.CookieSecure),
		"REVOKE_ON_LOGOUT":     setBool(&c.RevokeOnLogout),
		"LOG_LEVEL":            setString(&c.LogLevel),
		"ENVIRONMENT":          setString(&c.Environment),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("env %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("authsession", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string, in-memory store if empty")
	fs.StringVarP(&c.RedisURL, "redis", "r", c.RedisURL, "Redis URL, used if database is not set")
	fs.StringVar(&c.AccessSecret, "access-secret", c.AccessSecret, "Access token secret key")
	fs.StringVar(&c.RefreshSecret, "refresh-secret", c.RefreshSecret, "Refresh token secret key")
	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "Refresh token lifetime")
	fs.StringVarP(&c.CORSOrigin, "cors-origin", "o", c.CORSOrigin, "Origin allowed to make credentialed requests")
	fs.BoolVar(&c.CookieSecure, "cookie-secure", c.CookieSecure, "Send refresh cookie over https only")
	fs.BoolVar(&c.RevokeOnLogout, "revoke-on-logout", c.RevokeOnLogout, "Clear stored refresh token on logout")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (development, production)")

	return fs.Parse(args)
}
