/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the relay-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`

	SMSAPIBaseURL    string `mapstructure:"SMS_API_BASE_URL"`
	SMSAccountSID    string `mapstructure:"SMS_ACCOUNT_SID"`
	SMSAuthToken     string `mapstructure:"SMS_AUTH_TOKEN"`
	SMSFromNumber    string `mapstructure:"SMS_FROM_NUMBER"`
	VerifyServiceSID string `mapstructure:"VERIFY_SERVICE_SID"`

	ModelAPIBaseURL     string `mapstructure:"MODEL_API_BASE_URL"`
	ModelAPIKey         string `mapstructure:"MODEL_API_KEY"`
	ModelName           string `mapstructure:"MODEL_NAME"`
	ModelTimeoutSeconds int    `mapstructure:"MODEL_TIMEOUT_SECONDS"`
	FallbackReply       string `mapstructure:"FALLBACK_REPLY"`

	CheckoutAPIBaseURL string `mapstructure:"CHECKOUT_API_BASE_URL"`
	CheckoutAPIKey     string `mapstructure:"CHECKOUT_API_KEY"`
	CheckoutSuccessURL string `mapstructure:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL  string `mapstructure:"CHECKOUT_CANCEL_URL"`

	MessageCostCents          int64  `mapstructure:"MESSAGE_COST_CENTS"`
	MaxTopUpCents             int64  `mapstructure:"MAX_TOPUP_CENTS"`
	InboundRateLimitPerMinute int    `mapstructure:"INBOUND_RATE_LIMIT_PER_MINUTE"`
	JWTSecret                 string `mapstructure:"JWT_SECRET"`
	JWTTTLMinutes             int    `mapstructure:"JWT_TTL_MINUTES"`
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
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "relay:rate_limit")
	viper.SetDefault("SMS_API_BASE_URL", "https://api.twilio.com/2010-04-01")
	viper.SetDefault("MODEL_API_BASE_URL", "https://openrouter.ai/api/v1")
	viper.SetDefault("MODEL_NAME", "google/gemini-flash-1.5")
	viper.SetDefault("MODEL_TIMEOUT_SECONDS", 30)
	viper.SetDefault("CHECKOUT_API_BASE_URL", "https://api.stripe.com")
	viper.SetDefault("MESSAGE_COST_CENTS", 1)
	viper.SetDefault("MAX_TOPUP_CENTS", 2000)
	viper.SetDefault("INBOUND_RATE_LIMIT_PER_MINUTE", 0)
	viper.SetDefault("JWT_TTL_MINUTES", 1440)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("SMS_API_BASE_URL")
	_ = viper.BindEnv("SMS_ACCOUNT_SID")
	_ = viper.BindEnv("SMS_AUTH_TOKEN")
	_ = viper.BindEnv("SMS_FROM_NUMBER")
	_ = viper.BindEnv("VERIFY_SERVICE_SID")
	_ = viper.BindEnv("MODEL_API_BASE_URL")
	_ = viper.BindEnv("MODEL_API_KEY")
	_ = viper.BindEnv("MODEL_NAME")
	_ = viper.BindEnv("MODEL_TIMEOUT_SECONDS")
	_ = viper.BindEnv("FALLBACK_REPLY")
	_ = viper.BindEnv("CHECKOUT_API_BASE_URL")
	_ = viper.BindEnv("CHECKOUT_API_KEY")
	_ = viper.BindEnv("CHECKOUT_SUCCESS_URL")
	_ = viper.BindEnv("CHECKOUT_CANCEL_URL")
	_ = viper.BindEnv("MESSAGE_COST_CENTS")
	_ = viper.BindEnv("MESSAGE_COST")
	_ = viper.BindEnv("MAX_TOPUP_CENTS")
	_ = viper.BindEnv("MAX_TOPUP")
	_ = viper.BindEnv("INBOUND_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("JWT_TTL_MINUTES")

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

	// Allow specifying the message cost in whole currency units via MESSAGE_COST.
	if viper.IsSet("MESSAGE_COST") {
		costStr := strings.TrimSpace(viper.GetString("MESSAGE_COST"))
		if costStr != "" {
			costValue, parseErr := strconv.ParseFloat(costStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid MESSAGE_COST\" value=%q err=%v", costStr, parseErr)
			} else {
				config.MessageCostCents = int64(math.Round(costValue * 100))
			}
		}
	}

	// Same for the top-up cap via MAX_TOPUP.
	if viper.IsSet("MAX_TOPUP") {
		capStr := strings.TrimSpace(viper.GetString("MAX_TOPUP"))
		if capStr != "" {
			capValue, parseErr := strconv.ParseFloat(capStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid MAX_TOPUP\" value=%q err=%v", capStr, parseErr)
			} else {
				config.MaxTopUpCents = int64(math.Round(capValue * 100))
			}
		}
	}

	if config.MessageCostCents <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive message cost configured; coercing to 1 cent\" cost_cents=%d", config.MessageCostCents)
		config.MessageCostCents = 1
	}
	if config.MaxTopUpCents <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive top-up cap configured; coercing to default\" cap_cents=%d", config.MaxTopUpCents)
		config.MaxTopUpCents = 2000
	}
	if config.ModelTimeoutSeconds <= 0 {
		config.ModelTimeoutSeconds = 30
	}
	if config.JWTTTLMinutes <= 0 {
		config.JWTTTLMinutes = 1440
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "relay:rate_limit"
	}

	return
}
