package config_test

import (
	"testing"

	"github.com/Amund211/chatrelay/internal/config"
	"github.com/stretchr/testify/require"
)

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

var allVariablesExceptEnv = []string{
	"PORT",
	"CLOUDSQL_UNIX_SOCKET",
	"DB_PASSWORD",
	"DB_USERNAME",
	"DB_CONNECTION_STRING",
	"SENTRY_DSN",
	"COMPLETION_API_KEY",
	"COMPLETION_API_URL",
	"GOOGLE_CLOUD_PROJECT",
	"ALLOWED_ORIGINS",
}

var requiredInDeployedEnvironments = []string{
	"CLOUDSQL_UNIX_SOCKET",
	"DB_PASSWORD",
	"DB_USERNAME",
	"SENTRY_DSN",
	"COMPLETION_API_KEY",
	"GOOGLE_CLOUD_PROJECT",
}

type expectedConfig struct {
	port               string
	socketPath         string
	username           string
	password           string
	connectionString   string
	sentryDSN          string
	completionAPIKey   string
	completionAPIURL   string
	googleCloudProject string
	allowedOrigins     []string
	env                environment
}

func TestGetConfig(t *testing.T) {
	clearAll := func(t *testing.T) {
		t.Helper()
		for _, variable := range allVariablesExceptEnv {
			t.Setenv(variable, "")
		}
	}

	compareConfig := func(t *testing.T, expected expectedConfig, conf config.Config) {
		t.Helper()
		require.Equal(t, expected.port, conf.Port())
		require.Equal(t, expected.socketPath, conf.CloudSQLUnixSocketPath())
		require.Equal(t, expected.username, conf.DBUsername())
		require.Equal(t, expected.password, conf.DBPassword())
		require.Equal(t, expected.connectionString, conf.DBConnectionString())
		require.Equal(t, expected.sentryDSN, conf.SentryDSN())
		require.Equal(t, expected.completionAPIKey, conf.CompletionAPIKey())
		require.Equal(t, expected.completionAPIURL, conf.CompletionAPIURL())
		require.Equal(t, expected.googleCloudProject, conf.GoogleCloudProject())
		require.Equal(t, expected.allowedOrigins, conf.AllowedOrigins())
		require.Equal(t, expected.env == production, conf.IsProduction())
		require.Equal(t, expected.env == staging, conf.IsStaging())
		require.Equal(t, expected.env == development, conf.IsDevelopment())
		require.Equal(t, string(expected.env), conf.Environment())
	}

	t.Run("environment is missing", func(t *testing.T) {
		// CHATRELAY_ENVIRONMENT is required, so this should fail
		_, err := config.ConfigFromEnv()
		require.ErrorIs(t, err, config.ErrMissingRequiredValue)
	})

	t.Run("development defaults", func(t *testing.T) {
		clearAll(t)
		t.Setenv("CHATRELAY_ENVIRONMENT", "development")

		conf, err := config.ConfigFromEnv()
		require.NoError(t, err)
		compareConfig(t, expectedConfig{
			port:             "8080",
			completionAPIURL: "https://openrouter.ai/api/v1",
			allowedOrigins:   []string{"chatrelay.app", "chatrelay-web.pages.dev"},
			env:              development,
		}, conf)
	})

	t.Run("values are read correctly", func(t *testing.T) {
		for _, variable := range allVariablesExceptEnv {
			t.Setenv(variable, variable)
		}
		t.Setenv("COMPLETION_API_URL", "http://localhost:1234/v1")

		for _, env := range []environment{production, staging, development} {
			t.Run(string(env), func(t *testing.T) {
				t.Setenv("CHATRELAY_ENVIRONMENT", string(env))

				conf, err := config.ConfigFromEnv()
				require.NoError(t, err)
				compareConfig(t, expectedConfig{
					port:               "PORT",
					socketPath:         "CLOUDSQL_UNIX_SOCKET",
					username:           "DB_USERNAME",
					password:           "DB_PASSWORD",
					connectionString:   "DB_CONNECTION_STRING",
					sentryDSN:          "SENTRY_DSN",
					completionAPIKey:   "COMPLETION_API_KEY",
					completionAPIURL:   "http://localhost:1234/v1",
					googleCloudProject: "GOOGLE_CLOUD_PROJECT",
					allowedOrigins:     []string{"ALLOWED_ORIGINS"},
					env:                env,
				}, conf)
			})
		}
	})

	t.Run("production and staging fail when missing variables", func(t *testing.T) {
		clearAll(t)
		for _, variable := range requiredInDeployedEnvironments {
			t.Setenv(variable, "placeholder_value")
		}

		for _, env := range []environment{production, staging} {
			t.Run(string(env), func(t *testing.T) {
				t.Setenv("CHATRELAY_ENVIRONMENT", string(env))

				_, err := config.ConfigFromEnv()
				require.NoError(t, err)

				for _, variable := range requiredInDeployedEnvironments {
					t.Run(variable, func(t *testing.T) {
						t.Setenv(variable, "")

						_, err := config.ConfigFromEnv()
						require.ErrorIs(t, err, config.ErrMissingRequiredValue)
					})
				}
			})
		}
	})

	t.Run("connection string replaces cloudsql settings", func(t *testing.T) {
		clearAll(t)
		t.Setenv("CHATRELAY_ENVIRONMENT", "production")
		t.Setenv("DB_CONNECTION_STRING", "host=db")
		t.Setenv("SENTRY_DSN", "dsn")
		t.Setenv("COMPLETION_API_KEY", "key")
		t.Setenv("GOOGLE_CLOUD_PROJECT", "project")

		conf, err := config.ConfigFromEnv()
		require.NoError(t, err)
		require.Equal(t, "host=db", conf.DBConnectionString())
	})

	t.Run("invalid environment", func(t *testing.T) {
		for _, env := range []string{"", "invalid", "my-env"} {
			t.Run(env, func(t *testing.T) {
				t.Setenv("CHATRELAY_ENVIRONMENT", env)
				_, err := config.ConfigFromEnv()
				require.ErrorIs(t, err, config.ErrInvalidValue)
			})
		}
	})

	t.Run("invalid completion api url", func(t *testing.T) {
		clearAll(t)
		t.Setenv("CHATRELAY_ENVIRONMENT", "development")
		t.Setenv("COMPLETION_API_URL", "not a url")

		_, err := config.ConfigFromEnv()
		require.ErrorIs(t, err, config.ErrInvalidValue)
	})

	t.Run("allowed origins", func(t *testing.T) {
		clearAll(t)
		t.Setenv("CHATRELAY_ENVIRONMENT", "development")

		t.Setenv("ALLOWED_ORIGINS", " chatrelay.app, ,staging.chatrelay.app ")
		conf, err := config.ConfigFromEnv()
		require.NoError(t, err)
		require.Equal(t, []string{"chatrelay.app", "staging.chatrelay.app"}, conf.AllowedOrigins())

		for _, invalid := range []string{",", " , ", ".chatrelay.app", "https://chatrelay.app"} {
			t.Run(invalid, func(t *testing.T) {
				t.Setenv("ALLOWED_ORIGINS", invalid)
				_, err := config.ConfigFromEnv()
				require.ErrorIs(t, err, config.ErrInvalidValue)
			})
		}
	})
}
