package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewZapLogger_Levels(t *testing.T) {
	l, err := NewZapLogger(Development, "")
	require.NoError(t, err)
	require.NotNil(t, l)

	_, err = NewZapLogger(Production, "warn")
	require.NoError(t, err)

	_, err = NewZapLogger(Production, "loud")
	require.Error(t, err)

	_, err = NewZapLogger("staging", "")
	require.Error(t, err)
}

func TestZapLogger_WithAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapLoggerFrom(zap.New(core)).With("component", "control")

	l.Infof("connected to %s", "ws://x")
	l.Warn("dropped frame", "type", "info")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "connected to ws://x", entries[0].Message)
	assert.Equal(t, "control", entries[0].ContextMap()["component"])
	assert.Equal(t, "info", entries[1].ContextMap()["type"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestNoOpLogger(t *testing.T) {
	l := NewNoOpLogger()
	l.Info("ignored")
	assert.NotNil(t, l.With("k", "v"))
}
