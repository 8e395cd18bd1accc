// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	logger, err := New("voicebridge-test", "debug", path)
	require.NoError(t, err)

	logger.Infof("hello %s", "world")
	_ = logger.Sync() // zap's Sync on the stdout core can spuriously error on some platforms

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello world")
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	logger, err := New("voicebridge-test", "not-a-level", path)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestWith_ReturnsIndependentLoggerCarryingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	logger, err := New("voicebridge-test", "debug", path)
	require.NoError(t, err)

	scoped := logger.With("call_id", "call-42")
	scoped.Infof("scoped message")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "call-42")
}

func TestNewNop_NeverPanics(t *testing.T) {
	logger := NewNop()
	logger.Infof("noop %d", 1)
	logger.Debugf("noop")
	logger.Warnf("noop")
	logger.Errorf("noop")
	_ = logger.Sync()
}
