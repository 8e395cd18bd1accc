// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "BRIDGE_HOST", "LOG_LEVEL", "LOG_PATH",
		"OPENAI_API_KEY", "OPENAI_REALTIME_MODEL", "OPENAI_VOICE", "VOICE_AGENT_INSTRUCTIONS",
		"SUPABASE_URL", "SUPABASE_SERVICE_ROLE_KEY", "SUPABASE_ANON_KEY",
		"TELNYX_API_KEY", "TELNYX_CONNECTION_ID", "TELNYX_PHONE_NUMBER",
		"AUDIO_BRIDGE_URL", "AUDIO_RELAY_URL", "CRON_SECRET", "ENV_PATH",
	} {
		require.NoError(t, os.Unsetenv(k))
	}
}

func requiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SUPABASE_URL", "postgres://localhost/test")
	t.Setenv("TELNYX_API_KEY", "telnyx-test")
	t.Setenv("TELNYX_CONNECTION_ID", "conn-1")
	t.Setenv("TELNYX_PHONE_NUMBER", "+15550001234")
}

func TestLoad_AppliesDefaults(t *testing.T) {
	clearEnv(t)
	requiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.BridgeHost)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "gpt-4o-realtime-preview", cfg.OpenAIRealtimeModel)
	assert.Equal(t, "alloy", cfg.OpenAIVoice)
	assert.False(t, cfg.RealtimeModeEnabled())
}

func TestLoad_RealtimeModeEnabledWhenAudioBridgeURLSet(t *testing.T) {
	clearEnv(t)
	requiredEnv(t)
	t.Setenv("AUDIO_BRIDGE_URL", "wss://bridge.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.RealtimeModeEnabled())
}

func TestLoad_MissingRequiredFieldFails(t *testing.T) {
	clearEnv(t)
	// Deliberately omit TELNYX_API_KEY.
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SUPABASE_URL", "postgres://localhost/test")
	t.Setenv("TELNYX_CONNECTION_ID", "conn-1")
	t.Setenv("TELNYX_PHONE_NUMBER", "+15550001234")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	clearEnv(t)
	requiredEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("VOICE_AGENT_INSTRUCTIONS", "Be concise and friendly.")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "Be concise and friendly.", cfg.VoiceAgentInstructions)
}
