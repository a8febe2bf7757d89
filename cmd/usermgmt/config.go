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

	"github.com/nstepanov/usermgmt/internal/logger"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = EnvProduction
	defaultSMTPPort     = 587
)

// Environments the service knows how to run in. The environment picks
// the log output format.
const (
	EnvDevelopment = "dev"
	EnvProduction  = "prod"
)

type Config struct {
	// Default logging level
	LogLevel string

	// Environment (dev, prod)
	Environment string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Secret key
	// Access tokens are signed symmetrically, so this key is used for that purpose
	SecretKey string

	// Issuer and audience stamped into and verified on access tokens
	JWTIssuer   string
	JWTAudience string

	// Token and staged registration lifetimes
	// Zero means the service defaults apply
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ConfirmationTTL time.Duration

	// Outbound mail for confirmation codes
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	SMTPDisplayName string

	// Avatar bucket. Empty endpoint disables avatar uploads.
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3PublicURL string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:    defaultLoggingLevel,
		Environment: defaultEnvironment,
		ListenAddr:  defaultListenAddr,
		SMTPPort:    defaultSMTPPort,
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
	var parseErr error

	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}
	setInt := func(o *int) func(value string) {
		return func(value string) {
			if value == "" {
				return
			}
			parsed, err := strconv.Atoi(value)
			if err != nil {
				parseErr = errors.Join(parseErr, fmt.Errorf("invalid int value %q: %w", value, err))
				return
			}
			*o = parsed
		}
	}
	setDuration := func(o *time.Duration) func(value string) {
		return func(value string) {
			if value == "" {
				return
			}
			parsed, err := time.ParseDuration(value)
			if err != nil {
				parseErr = errors.Join(parseErr, fmt.Errorf("invalid duration value %q: %w", value, err))
				return
			}
			*o = parsed
		}
	}

	envMap := map[string]func(string){
		"RUN_ADDRESS":       setString(&c.ListenAddr),
		"DATABASE_URI":      setString(&c.DatabaseDSN),
		"SECRET_KEY":        setString(&c.SecretKey),
		"LOG_LEVEL":         setString(&c.LogLevel),
		"ENVIRONMENT":       setString(&c.Environment),
		"JWT_ISSUER":        setString(&c.JWTIssuer),
		"JWT_AUDIENCE":      setString(&c.JWTAudience),
		"ACCESS_TOKEN_TTL":  setDuration(&c.AccessTokenTTL),
		"REFRESH_TOKEN_TTL": setDuration(&c.RefreshTokenTTL),
		"CONFIRMATION_TTL":  setDuration(&c.ConfirmationTTL),
		"SMTP_HOST":         setString(&c.SMTPHost),
		"SMTP_PORT":         setInt(&c.SMTPPort),
		"SMTP_USERNAME":     setString(&c.SMTPUsername),
		"SMTP_PASSWORD":     setString(&c.SMTPPassword),
		"SMTP_FROM":         setString(&c.SMTPFrom),
		"SMTP_DISPLAY_NAME": setString(&c.SMTPDisplayName),
		"S3_ENDPOINT":       setString(&c.S3Endpoint),
		"S3_ACCESS_KEY":     setString(&c.S3AccessKey),
		"S3_SECRET_KEY":     setString(&c.S3SecretKey),
		"S3_BUCKET":         setString(&c.S3Bucket),
		"S3_PUBLIC_URL":     setString(&c.S3PublicURL),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}

	return parseErr
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("usermgmt", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")

	return fs.Parse(args)
}
