package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
)

var ErrMissingRequiredValue = errors.New("missing required value")
var ErrInvalidValue = errors.New("invalid value")

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

const defaultPort = "8080"
const defaultCompletionAPIURL = "https://openrouter.ai/api/v1"

var defaultAllowedOrigins = []string{"chatrelay.app", "chatrelay-web.pages.dev"}

type Config struct {
	port                   string
	cloudSQLUnixSocketPath string
	dBPassword             string
	dBUsername             string
	dBConnectionString     string
	sentryDSN              string
	completionAPIKey       string
	completionAPIURL       string
	googleCloudProject     string
	allowedOrigins         []string
	env                    environment
}

func (c *Config) Port() string {
	return c.port
}

func (c *Config) CloudSQLUnixSocketPath() string {
	return c.cloudSQLUnixSocketPath
}

func (c *Config) DBPassword() string {
	return c.dBPassword
}

func (c *Config) DBUsername() string {
	return c.dBUsername
}

// Overrides the other database settings when set
func (c *Config) DBConnectionString() string {
	return c.dBConnectionString
}

func (c *Config) SentryDSN() string {
	return c.sentryDSN
}

func (c *Config) CompletionAPIKey() string {
	return c.completionAPIKey
}

func (c *Config) CompletionAPIURL() string {
	return c.completionAPIURL
}

func (c *Config) GoogleCloudProject() string {
	return c.googleCloudProject
}

// Domain suffixes of the frontends allowed to call the api from a browser
func (c *Config) AllowedOrigins() []string {
	return slices.Clone(c.allowedOrigins)
}

func (c *Config) Environment() string {
	return string(c.env)
}

func (c *Config) IsProduction() bool {
	return c.env == production
}

func (c *Config) IsStaging() bool {
	return c.env == staging
}

func (c *Config) IsDevelopment() bool {
	return c.env == development
}

// Return a string representation suitable for logging etc
func (c *Config) NonSensitiveString() string {
	return fmt.Sprintf(
		"Config{env: %s, port: %s, completionAPIURL: %s, allowedOrigins: %s, ...}",
		string(c.env), c.port, c.completionAPIURL, strings.Join(c.allowedOrigins, ","),
	)
}

func ConfigFromEnv() (Config, error) {
	missingKey := func(key string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingRequiredValue, key)
	}

	var env environment
	rawEnv, ok := os.LookupEnv("CHATRELAY_ENVIRONMENT")
	if !ok {
		return missingKey("CHATRELAY_ENVIRONMENT")
	}
	switch rawEnv {
	case "production":
		env = production
	case "staging":
		env = staging
	case "development":
		env = development
	default:
		return Config{}, fmt.Errorf("%w: CHATRELAY_ENVIRONMENT (%s)", ErrInvalidValue, rawEnv)
	}
	if string(env) == "" {
		panic("logic error: env is empty")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	completionAPIURL := os.Getenv("COMPLETION_API_URL")
	if completionAPIURL == "" {
		completionAPIURL = defaultCompletionAPIURL
	}
	if parsed, err := url.Parse(completionAPIURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Config{}, fmt.Errorf("%w: COMPLETION_API_URL (%s)", ErrInvalidValue, completionAPIURL)
	}

	allowedOrigins := defaultAllowedOrigins
	if rawAllowedOrigins := os.Getenv("ALLOWED_ORIGINS"); rawAllowedOrigins != "" {
		allowedOrigins = nil
		for origin := range strings.SplitSeq(rawAllowedOrigins, ",") {
			origin = strings.TrimSpace(origin)
			if origin == "" {
				continue
			}
			if strings.HasPrefix(origin, ".") || strings.Contains(origin, "://") {
				return Config{}, fmt.Errorf("%w: ALLOWED_ORIGINS (%s)", ErrInvalidValue, origin)
			}
			allowedOrigins = append(allowedOrigins, origin)
		}
		if len(allowedOrigins) == 0 {
			return Config{}, fmt.Errorf("%w: ALLOWED_ORIGINS (%s)", ErrInvalidValue, rawAllowedOrigins)
		}
	}

	cloudSQLUnixSocketPath := os.Getenv("CLOUDSQL_UNIX_SOCKET")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbUsername := os.Getenv("DB_USERNAME")
	dbConnectionString := os.Getenv("DB_CONNECTION_STRING")
	sentryDSN := os.Getenv("SENTRY_DSN")
	completionAPIKey := os.Getenv("COMPLETION_API_KEY")
	googleCloudProject := os.Getenv("GOOGLE_CLOUD_PROJECT")

	if env == production || env == staging {
		if dbConnectionString == "" {
			if cloudSQLUnixSocketPath == "" {
				return missingKey("CLOUDSQL_UNIX_SOCKET")
			}
			if dbUsername == "" {
				return missingKey("DB_USERNAME")
			}
			if dbPassword == "" {
				return missingKey("DB_PASSWORD")
			}
		}
		if sentryDSN == "" {
			return missingKey("SENTRY_DSN")
		}
		if completionAPIKey == "" {
			return missingKey("COMPLETION_API_KEY")
		}
		if googleCloudProject == "" {
			return missingKey("GOOGLE_CLOUD_PROJECT")
		}
	}

	return Config{
		port:                   port,
		cloudSQLUnixSocketPath: cloudSQLUnixSocketPath,
		dBPassword:             dbPassword,
		dBUsername:             dbUsername,
		dBConnectionString:     dbConnectionString,
		sentryDSN:              sentryDSN,
		completionAPIKey:       completionAPIKey,
		completionAPIURL:       completionAPIURL,
		googleCloudProject:     googleCloudProject,
		allowedOrigins:         slices.Clone(allowedOrigins),
		env:                    env,
	}, nil
}
