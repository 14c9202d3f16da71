/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	EventExchange           string `mapstructure:"EVENT_EXCHANGE"`
	AccountServiceURL       string `mapstructure:"ACCOUNT_SERVICE_URL"`
	AccountServiceAPIKey    string `mapstructure:"ACCOUNT_SERVICE_INTERNAL_API_KEY"`
	AccountCallTimeoutSecs  int    `mapstructure:"ACCOUNT_CALL_TIMEOUT_SECONDS"`
	DefaultCurrency         string `mapstructure:"DEFAULT_CURRENCY"`
	DefaultPageSize         int    `mapstructure:"DEFAULT_PAGE_SIZE"`
	MaxPageSize             int    `mapstructure:"MAX_PAGE_SIZE"`
	OutboxSweepSchedule     string `mapstructure:"OUTBOX_SWEEP_SCHEDULE"`
	OutboxBatchSize         int    `mapstructure:"OUTBOX_BATCH_SIZE"`
	StuckSagaReportSchedule string `mapstructure:"STUCK_SAGA_REPORT_SCHEDULE"`
	StuckSagaAgeSeconds     int    `mapstructure:"STUCK_SAGA_AGE_SECONDS"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8084")
	viper.SetDefault("EVENT_EXCHANGE", "bank.events")
	viper.SetDefault("ACCOUNT_CALL_TIMEOUT_SECONDS", 10)
	viper.SetDefault("DEFAULT_CURRENCY", "ZAR")
	viper.SetDefault("DEFAULT_PAGE_SIZE", 20)
	viper.SetDefault("MAX_PAGE_SIZE", 100)
	viper.SetDefault("OUTBOX_SWEEP_SCHEDULE", "@every 1s")
	viper.SetDefault("OUTBOX_BATCH_SIZE", 100)
	viper.SetDefault("STUCK_SAGA_REPORT_SCHEDULE", "@every 1m")
	viper.SetDefault("STUCK_SAGA_AGE_SECONDS", 300)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("ACCOUNT_SERVICE_URL")
	_ = viper.BindEnv("ACCOUNT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("ACCOUNT_CALL_TIMEOUT_SECONDS")
	_ = viper.BindEnv("DEFAULT_CURRENCY")
	_ = viper.BindEnv("DEFAULT_PAGE_SIZE")
	_ = viper.BindEnv("MAX_PAGE_SIZE")
	_ = viper.BindEnv("OUTBOX_SWEEP_SCHEDULE")
	_ = viper.BindEnv("OUTBOX_BATCH_SIZE")
	_ = viper.BindEnv("STUCK_SAGA_REPORT_SCHEDULE")
	_ = viper.BindEnv("STUCK_SAGA_AGE_SECONDS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file; using environment values", "error", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	config.DefaultCurrency = strings.ToUpper(strings.TrimSpace(config.DefaultCurrency))
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = "ZAR"
	}
	if config.DefaultPageSize <= 0 {
		config.DefaultPageSize = 20
	}
	if config.MaxPageSize < config.DefaultPageSize {
		config.MaxPageSize = config.DefaultPageSize
	}
	if config.OutboxBatchSize <= 0 {
		config.OutboxBatchSize = 100
	}
	if config.AccountCallTimeoutSecs <= 0 {
		config.AccountCallTimeoutSecs = 10
	}
	if config.StuckSagaAgeSeconds <= 0 {
		config.StuckSagaAgeSeconds = 300
	}

	return
}
