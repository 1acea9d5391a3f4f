// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config loads the proxy's environment-driven configuration.
package config

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the proxy's application configuration.
type Config struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogFile  string `mapstructure:"log_file"`

	// CommunicationMode selects the endpoint implementation to mount.
	// Only "websocket" is implemented today; any other value fails startup.
	CommunicationMode string `mapstructure:"communication_mode" validate:"required"`

	// Upstream chunking thresholds, one per endpoint (spec.md §4.3, §14 Open
	// Question #1: 16000 bytes chosen for /proxy, not 32KiB).
	InteractiveChunkThreshold int `mapstructure:"interactive_chunk_threshold" validate:"required"`
	TelephonyChunkThreshold   int `mapstructure:"telephony_chunk_threshold" validate:"required"`

	// TelephonyAggregateThreshold is the downstream merge threshold on /call
	// (spec.md §4.4, §14 Open Question #2: 12.5KiB chosen over 64KiB).
	TelephonyAggregateThreshold int `mapstructure:"telephony_aggregate_threshold" validate:"required"`

	TouchSoundDirectory string `mapstructure:"touch_sound_directory" validate:"required"`
	TouchFrameSize      int    `mapstructure:"touch_frame_size" validate:"required"`
	TouchFramePaceMs    int    `mapstructure:"touch_frame_pace_ms" validate:"required"`

	WelcomeContainerPath string `mapstructure:"welcome_container_path" validate:"required"`

	ReceiveTimeoutMs int `mapstructure:"receive_timeout_ms" validate:"required"`

	// DebugAudioDir, when non-empty, enables the opt-in diagnostic tap that
	// writes each flushed /call upstream chunk to disk (SPEC_FULL.md §12).
	DebugAudioDir string `mapstructure:"debug_audio_dir"`

	MetricsEnabled bool `mapstructure:"metrics_enabled"`
}

// InitConfig reads configuration from the environment (and an optional .env
// file), applying documented defaults for anything unset.
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefaults(vConfig)

	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("reading configuration from environment variables only: %v", err)
	}

	return vConfig, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "app.log")
	v.SetDefault("COMMUNICATION_MODE", "websocket")

	v.SetDefault("INTERACTIVE_CHUNK_THRESHOLD", 16000)
	v.SetDefault("TELEPHONY_CHUNK_THRESHOLD", 16384)
	v.SetDefault("TELEPHONY_AGGREGATE_THRESHOLD", 12800)

	v.SetDefault("TOUCH_SOUND_DIRECTORY", "./assets/touch")
	v.SetDefault("TOUCH_FRAME_SIZE", 5120)
	v.SetDefault("TOUCH_FRAME_PACE_MS", 50)

	v.SetDefault("WELCOME_CONTAINER_PATH", "./assets/welcome.wav")

	v.SetDefault("RECEIVE_TIMEOUT_MS", 1000)

	v.SetDefault("DEBUG_AUDIO_DIR", "")
	v.SetDefault("METRICS_ENABLED", true)
}

// GetApplicationConfig unmarshals and validates the proxy configuration.
func GetApplicationConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if cfg.CommunicationMode != "websocket" {
		return nil, fmt.Errorf("unsupported communication mode %q (only \"websocket\" is implemented)", cfg.CommunicationMode)
	}

	return &cfg, nil
}
