// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config loads and validates the bridge's environment-driven
// configuration.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the application configuration structure, unmarshalled from
// environment variables (optionally backed by an .env file).
type Config struct {
	// Server
	Port       int    `mapstructure:"port" validate:"required"`
	BridgeHost string `mapstructure:"bridge_host" validate:"required"`
	LogLevel   string `mapstructure:"log_level" validate:"required"`
	LogPath    string `mapstructure:"log_path" validate:"required"`

	// Inference (OpenAI Realtime)
	OpenAIAPIKey           string `mapstructure:"openai_api_key" validate:"required"`
	OpenAIRealtimeModel    string `mapstructure:"openai_realtime_model" validate:"required"`
	OpenAIVoice            string `mapstructure:"openai_voice" validate:"required"`
	VoiceAgentInstructions string `mapstructure:"voice_agent_instructions"`

	// Datastore (Postgres, Supabase-shaped)
	SupabaseURL            string `mapstructure:"supabase_url" validate:"required"`
	SupabaseServiceRoleKey string `mapstructure:"supabase_service_role_key"`
	SupabaseAnonKey        string `mapstructure:"supabase_anon_key"`

	// Carrier (Telnyx)
	TelnyxAPIKey       string `mapstructure:"telnyx_api_key" validate:"required"`
	TelnyxConnectionID string `mapstructure:"telnyx_connection_id" validate:"required"`
	TelnyxPhoneNumber  string `mapstructure:"telnyx_phone_number" validate:"required"`

	// Mode switches
	AudioBridgeURL string `mapstructure:"audio_bridge_url"`
	AudioRelayURL  string `mapstructure:"audio_relay_url"`

	// Cleanup
	CronSecret string `mapstructure:"cron_secret"`
}

// RealtimeModeEnabled reports whether the deploy-time switch selects the
// realtime media-WS path over the legacy per-turn path (spec.md §4.4).
func (c *Config) RealtimeModeEnabled() bool {
	return c.AudioBridgeURL != ""
}

// Load reads configuration from the environment (and an optional .env file
// pointed to by ENV_PATH), applies defaults, and validates the result.
// Startup configuration errors are fatal — Load returns an error and the
// caller is expected to exit.
func Load() (*Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	v.AddConfigPath(".")
	v.SetConfigName(".env")
	v.SetConfigType("env")

	if path := os.Getenv("ENV_PATH"); path != "" {
		v.SetConfigFile(path)
	}

	setDefaults(v)
	v.AutomaticEnv()
	_ = v.ReadInConfig() // absence of a .env file is not fatal; env vars suffice

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("BRIDGE_HOST", "0.0.0.0")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PATH", "./log/bridge.log")

	v.SetDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview")
	v.SetDefault("OPENAI_VOICE", "alloy")
	v.SetDefault("VOICE_AGENT_INSTRUCTIONS", "")

	// Keys without a real default are still registered so Unmarshal picks
	// them up from the environment; "required" validation rejects them if
	// they stay empty.
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("SUPABASE_URL", "")
	v.SetDefault("SUPABASE_SERVICE_ROLE_KEY", "")
	v.SetDefault("SUPABASE_ANON_KEY", "")
	v.SetDefault("TELNYX_API_KEY", "")
	v.SetDefault("TELNYX_CONNECTION_ID", "")
	v.SetDefault("TELNYX_PHONE_NUMBER", "")

	v.SetDefault("AUDIO_BRIDGE_URL", "")
	v.SetDefault("AUDIO_RELAY_URL", "")
	v.SetDefault("CRON_SECRET", "")
}
