package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_Environments(t *testing.T) {
	for _, env := range []string{"prod", "local", "dev", "docker", "test"} {
		t.Run(env, func(t *testing.T) {
			l, err := NewLogger(env, Options{})
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestNewLogger_UnknownEnv(t *testing.T) {
	_, err := NewLogger("staging", Options{})
	assert.Error(t, err)
}

func TestNewLogger_LevelOverride(t *testing.T) {
	l, err := NewLogger("prod", Options{Level: "debug"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = NewLogger("test", Options{})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
}

func TestNewLogger_InvalidOptions(t *testing.T) {
	_, err := NewLogger("prod", Options{Level: "loud"})
	assert.Error(t, err)

	_, err = NewLogger("prod", Options{Format: "xml"})
	assert.Error(t, err)
}

func TestFromContext_Default(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
	assert.False(t, l.Core().Enabled(zapcore.ErrorLevel))
}

func TestWith_AddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := ContextWithLogger(context.Background(), zap.New(core))

	ctx = With(ctx, zap.String("principal", "u1"))
	FromContext(ctx).Info("Entity saved", zap.String("path", "products"))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "u1", fields["principal"])
	assert.Equal(t, "products", fields["path"])
}
