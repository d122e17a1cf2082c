package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Env            string `env:"ENVIRONMENT"`
	ServerPort     int    `env:"SERVER_PORT" envDefault:"8080"`
	DatabasePath   string `env:"DATABASE_PATH" envDefault:"engage.sqlite"`
	BasicAuthCreds string `env:"BASIC_AUTH_CREDS"`

	Push struct {
		BaseURL     string `env:"PUSH_API_BASE_URL"`
		APIKey      string `env:"PUSH_API_KEY"`
		TimeoutSecs int    `env:"PUSH_TIMEOUT_SECS" envDefault:"10"`
		MaxRetries  uint64 `env:"PUSH_MAX_RETRIES" envDefault:"3"`
	}

	Engine struct {
		ShortReminderAfter time.Duration `env:"SHORT_REMINDER_AFTER" envDefault:"168h"` // 7 days
		LongReminderAfter  time.Duration `env:"LONG_REMINDER_AFTER" envDefault:"720h"` // 30 days
		ReminderHour       int           `env:"REMINDER_HOUR" envDefault:"18"`
		CelebrationHour    int           `env:"CELEBRATION_HOUR" envDefault:"9"`
		IdentityTTL        time.Duration `env:"IDENTITY_TTL" envDefault:"720h"`
		WakeupInterval     time.Duration `env:"WAKEUP_INTERVAL" envDefault:"1h"`
		LocalPendingQuota  int           `env:"LOCAL_PENDING_QUOTA" envDefault:"64"`
	}

	log   *zap.Logger
	creds map[string]string
}

func NewConfig(lc fx.Lifecycle, log *zap.Logger) *Config {
	cfg := &Config{log: log}
	env.Parse(cfg)

	creds, err := cfg.parseCreds()
	if err != nil {
		if cfg.Env == "development" || cfg.Env == "" {
			cfg.log.Sugar().Infof("%s (credentials will be set to default in development env)", err)
			creds = map[string]string{"admin": "password"}
		} else {
			cfg.log.Sugar().Panic(err)
		}
	}
	cfg.creds = creds

	return cfg
}

func (cfg *Config) GetCreds() map[string]string {
	return cfg.creds
}

func (cfg *Config) parseCreds() (map[string]string, error) {
	if cfg.BasicAuthCreds == "" {
		return nil, errors.New("BASIC_AUTH_CREDS envvar must be populated")
	}

	creds := strings.Split(cfg.BasicAuthCreds, ",")
	if len(creds) == 0 {
		return nil, errors.New("BASIC_AUTH_CREDS envvar should be filled with comma-separated values -- user1:pass1,user2:pass2")
	}

	result := make(map[string]string)
	for _, cred := range creds {
		userPass := strings.Split(cred, ":")
		if len(userPass) != 2 {
			return nil, fmt.Errorf("failed to parse '%s', each credential should be delimited by a colon -- user1:pass1,user2:pass2", cred)
		}

		user, pass := userPass[0], userPass[1]
		result[strings.Trim(user, " ")] = strings.Trim(pass, " ")
	}

	return result, nil
}
