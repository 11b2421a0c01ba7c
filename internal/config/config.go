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
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the registration service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort            string `mapstructure:"SERVER_PORT"`
	DatabaseURL           string `mapstructure:"DATABASE_URL"`
	RedisURL              string `mapstructure:"REDIS_URL"`
	RedisDedupPrefix      string `mapstructure:"REDIS_DEDUP_PREFIX"`
	RabbitMQURL           string `mapstructure:"RABBITMQ_URL"`
	RegistryAPIBaseURL    string `mapstructure:"REGISTRY_API_BASE_URL"`
	RegistryAPIKey        string `mapstructure:"REGISTRY_API_KEY"`
	RegistryWebhookSecret string `mapstructure:"REGISTRY_WEBHOOK_SECRET"`
	BillingAPIBaseURL     string `mapstructure:"BILLING_API_BASE_URL"`
	BillingAPIKey         string `mapstructure:"BILLING_API_KEY"`
	ClerkJWKSURL          string `mapstructure:"CLERK_JWKS_URL"`
	CronSecret            string `mapstructure:"CRON_SECRET"`
	PendingSyncBatchSize  int    `mapstructure:"PENDING_SYNC_BATCH_SIZE"`

	// Scheduler binary settings.
	SyncServiceURL      string `mapstructure:"SYNC_SERVICE_URL"`
	StatusCheckSchedule string `mapstructure:"STATUS_CHECK_SCHEDULE"`
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
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_DEDUP_PREFIX", "covecrm:a2p:webhook_event")
	viper.SetDefault("PENDING_SYNC_BATCH_SIZE", 100)
	viper.SetDefault("STATUS_CHECK_SCHEDULE", "*/5 * * * *")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_DEDUP_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REGISTRY_API_BASE_URL")
	_ = viper.BindEnv("REGISTRY_API_KEY")
	_ = viper.BindEnv("REGISTRY_WEBHOOK_SECRET")
	_ = viper.BindEnv("BILLING_API_BASE_URL")
	_ = viper.BindEnv("BILLING_API_KEY")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("CRON_SECRET", "CRON_SECRET", "CRON_TOKEN", "CRON_KEY")
	_ = viper.BindEnv("PENDING_SYNC_BATCH_SIZE")
	_ = viper.BindEnv("SYNC_SERVICE_URL")
	_ = viper.BindEnv("STATUS_CHECK_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.CronSecret = strings.TrimSpace(config.CronSecret)
	if config.CronSecret == "" {
		// Legacy deployments exported the cron credential under these names.
		for _, env := range []string{"CRON_TOKEN", "CRON_KEY"} {
			if v := strings.TrimSpace(os.Getenv(env)); v != "" {
				config.CronSecret = v
				break
			}
		}
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisDedupPrefix = strings.TrimSpace(config.RedisDedupPrefix)
	if config.RedisDedupPrefix == "" {
		config.RedisDedupPrefix = "covecrm:a2p:webhook_event"
	}

	if config.PendingSyncBatchSize <= 0 {
		config.PendingSyncBatchSize = 100
	}

	return
}
