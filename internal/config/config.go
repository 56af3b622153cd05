package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode   string `mapstructure:"mode"`
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"`

	RelayURL      string        `mapstructure:"relay_url"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`

	StunServers       []string `mapstructure:"stun_servers"`
	TurnURL           string   `mapstructure:"turn_url"`
	TurnUsername      string   `mapstructure:"turn_username"`
	TurnCredential    string   `mapstructure:"turn_credential"`
	CandidatePoolSize uint8    `mapstructure:"candidate_pool_size"`

	DisconnectGrace time.Duration `mapstructure:"disconnect_grace"`
	RestartDelay    time.Duration `mapstructure:"restart_delay"`
	FailureGrace    time.Duration `mapstructure:"failure_grace"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("relay_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("retry_attempts", 5)
	v.SetDefault("retry_delay", "2s")
	v.SetDefault("stun_servers", []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
	})
	v.SetDefault("candidate_pool_size", 2)
	v.SetDefault("disconnect_grace", "15s")
	v.SetDefault("restart_delay", "5s")
	v.SetDefault("failure_grace", "3s")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
