// Package config loads runtime configuration with three layers of
// precedence: code defaults, an optional YAML file, then environment
// variables.
package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" yaml:"listen_addr" validate:"required"`

	// Empty means verification codes are held in process memory.
	OTPRedisAddr string `env:"OTP_REDIS_ADDR" yaml:"otp_redis_addr"`

	// Empty SMTPHost means codes are logged instead of emailed,
	// which is the development setup.
	SMTPHost     string `env:"SMTP_HOST"     yaml:"smtp_host"`
	SMTPPort     uint16 `env:"SMTP_PORT"     yaml:"smtp_port" validate:"min=0,max=65535"`
	SMTPFrom     string `env:"SMTP_FROM"     yaml:"smtp_from" validate:"omitempty,email"`
	SMTPUsername string `env:"SMTP_USERNAME" yaml:"smtp_username"`
	SMTPPassword string `env:"SMTP_PASSWORD" yaml:"smtp_password"`

	// The master code bypasses email verification. Off unless
	// explicitly enabled; meant for local testing only.
	OTPMasterEnabled bool   `env:"OTP_MASTER_ENABLED" yaml:"otp_master_enabled"`
	OTPMasterCode    string `env:"OTP_MASTER_CODE"    yaml:"otp_master_code" validate:"omitempty,min=4"`

	MaxConns    int           `env:"MAX_CONNS"    yaml:"max_conns" validate:"min=0"`
	IdleTimeout time.Duration `env:"IDLE_TIMEOUT" yaml:"idle_timeout"`
}

func defaults() *Config {
	return &Config{
		ListenAddr:    ":8080",
		SMTPPort:      587,
		OTPMasterCode: "0000",
	}
}

// Load builds the effective configuration. path names an optional
// YAML file; an empty path skips the file layer. Environment
// variables always win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			zap.L().Error("config_file_read_failed", zap.String("path", path), zap.Error(err))
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			zap.L().Error("config_file_parse_failed", zap.String("path", path), zap.Error(err))
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
