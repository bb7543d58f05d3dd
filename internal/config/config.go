/**
 * @description
 * This package handles the configuration management for the membership
 * service. It uses the Viper library to read configuration from environment
 * variables, providing a centralized and straightforward way to manage
 * application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the membership service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	JWTSecret            string `mapstructure:"JWT_SECRET"`

	// Business rule constants. Monetary values are in cents; the commission
	// rate is in basis points (4000 = 40%).
	MonthlyFeeCents   int64 `mapstructure:"MONTHLY_FEE_CENTS"`
	CommissionRateBps int64 `mapstructure:"COMMISSION_RATE_BPS"`
	GracePeriodDays   int   `mapstructure:"GRACE_PERIOD_DAYS"`
	FlexibleMinMonths int   `mapstructure:"FLEXIBLE_MIN_MONTHS"`
	FlexibleMaxMonths int   `mapstructure:"FLEXIBLE_MAX_MONTHS"`

	// Payment reminder job.
	ReminderJobSchedule string `mapstructure:"REMINDER_JOB_SCHEDULE"`
	ReminderWindowDays  int    `mapstructure:"REMINDER_WINDOW_DAYS"`

	// Referral submission rate limiting.
	ReferralSubmitRateLimitPerMinute int `mapstructure:"REFERRAL_SUBMIT_RATE_LIMIT_PER_MINUTE"`
}

// GracePeriod returns the configured grace window as a duration.
func (c Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodDays) * 24 * time.Hour
}

// ReminderWindow returns the configured reminder look-ahead as a duration.
func (c Config) ReminderWindow() time.Duration {
	return time.Duration(c.ReminderWindowDays) * 24 * time.Hour
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to automatically bind environment variables to the
// Config struct. Out-of-range configuration values are coerced back to their
// defaults with a warning; business input validation is never relaxed this
// way, only deployment knobs.
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
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "maandhise:rate_limit")
	viper.SetDefault("MONTHLY_FEE_CENTS", 100) // one dollar buys one month
	viper.SetDefault("COMMISSION_RATE_BPS", 4000)
	viper.SetDefault("GRACE_PERIOD_DAYS", 30)
	viper.SetDefault("FLEXIBLE_MIN_MONTHS", 1)
	viper.SetDefault("FLEXIBLE_MAX_MONTHS", 120)
	viper.SetDefault("REMINDER_JOB_SCHEDULE", "0 9 * * *")
	viper.SetDefault("REMINDER_WINDOW_DAYS", 3)
	viper.SetDefault("REFERRAL_SUBMIT_RATE_LIMIT_PER_MINUTE", 10)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("MONTHLY_FEE_CENTS")
	_ = viper.BindEnv("COMMISSION_RATE_BPS")
	_ = viper.BindEnv("GRACE_PERIOD_DAYS")
	_ = viper.BindEnv("FLEXIBLE_MIN_MONTHS")
	_ = viper.BindEnv("FLEXIBLE_MAX_MONTHS")
	_ = viper.BindEnv("REMINDER_JOB_SCHEDULE")
	_ = viper.BindEnv("REMINDER_WINDOW_DAYS")
	_ = viper.BindEnv("REFERRAL_SUBMIT_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
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

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "maandhise:rate_limit"
	}

	if config.MonthlyFeeCents <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive monthly fee configured; using default\" fee_cents=%d", config.MonthlyFeeCents)
		config.MonthlyFeeCents = 100
	}
	if config.CommissionRateBps < 0 || config.CommissionRateBps > 10000 {
		log.Printf("level=warn component=config msg=\"commission rate out of range; using default\" rate_bps=%d", config.CommissionRateBps)
		config.CommissionRateBps = 4000
	}
	if config.GracePeriodDays < 0 {
		log.Printf("level=warn component=config msg=\"negative grace period configured; using default\" days=%d", config.GracePeriodDays)
		config.GracePeriodDays = 30
	}
	if config.FlexibleMinMonths < 1 {
		config.FlexibleMinMonths = 1
	}
	if config.FlexibleMaxMonths < config.FlexibleMinMonths {
		log.Printf("level=warn component=config msg=\"flexible month ceiling below floor; using default\" max=%d", config.FlexibleMaxMonths)
		config.FlexibleMaxMonths = 120
	}
	if config.ReminderWindowDays <= 0 {
		config.ReminderWindowDays = 3
	}
	if strings.TrimSpace(config.ReminderJobSchedule) == "" {
		config.ReminderJobSchedule = "0 9 * * *"
	}
	if config.ReferralSubmitRateLimitPerMinute < 0 {
		config.ReferralSubmitRateLimitPerMinute = 0
	}

	return
}
