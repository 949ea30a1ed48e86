package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubLoggingConfig struct {
	defaultLevel    string
	development     bool
	componentLevels map[string]string
}

func (c *stubLoggingConfig) GetComponentLevel(component string) string {
	return c.componentLevels[component]
}

func (c *stubLoggingConfig) GetDefaultLevel() string { return c.defaultLevel }

func (c *stubLoggingConfig) IsDevelopment() bool { return c.development }

// observed returns a logger whose entries are captured for inspection.
func observed(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	atomicLevel := zap.NewAtomicLevelAt(level)
	core, logs := observer.New(atomicLevel)
	return &Logger{SugaredLogger: zap.New(core).Sugar(), atomicLevel: atomicLevel}, logs
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		for _, development := range []bool{false, true} {
			l, err := NewLogger(level, development)
			require.NoError(t, err)
			require.Equal(t, level, l.GetLevel())
			require.Empty(t, l.GetComponent())
		}
	}

	l, err := NewLogger("verbose", false)
	require.Error(t, err)
	require.Nil(t, l)
}

func TestNewComponentLogger_PanicsOnInvalidLevel(t *testing.T) {
	require.Panics(t, func() {
		NewComponentLogger("pipeline", "loud", false)
	})
}

func TestLogger_WithComponent(t *testing.T) {
	base, logs := observed(zapcore.InfoLevel)

	pipelineLog := base.WithComponent("pipeline")
	storeLog := base.WithComponent("entity-store")

	pipelineLog.Infof("block committed: block=%d", 42)
	storeLog.Debug("hidden at info level")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "block committed: block=42", entries[0].Message)
	require.Equal(t, "pipeline", entries[0].ContextMap()["component"])

	// children share the parent's level
	require.NoError(t, base.SetLevel("debug"))
	require.Equal(t, "debug", storeLog.GetLevel())
	storeLog.Debug("now visible")
	require.Equal(t, 1, logs.FilterMessage("now visible").Len())
	require.Equal(t, "entity-store", logs.FilterMessage("now visible").All()[0].ContextMap()["component"])
}

func TestLogger_SetLevel(t *testing.T) {
	l, logs := observed(zapcore.WarnLevel)

	l.Info("dropped")
	l.Warn("kept")
	require.Equal(t, 1, logs.Len())

	require.Error(t, l.SetLevel("chatty"))
	require.Equal(t, "warn", l.GetLevel())

	require.NoError(t, l.SetLevel("error"))
	l.Warn("dropped too")
	require.Equal(t, 1, logs.Len())
}

func TestNewComponentLoggerFromConfig(t *testing.T) {
	tests := []struct {
		name          string
		component     string
		config        LoggingConfig
		expectedLevel string
	}{
		{
			name:      "component override",
			component: "chain-client",
			config: &stubLoggingConfig{
				defaultLevel:    "info",
				componentLevels: map[string]string{"chain-client": "warn"},
			},
			expectedLevel: "warn",
		},
		{
			name:          "falls back to the default level",
			component:     "reorg-manager",
			config:        &stubLoggingConfig{defaultLevel: "error"},
			expectedLevel: "error",
		},
		{
			name:          "empty config levels fall back to info",
			component:     "decoder",
			config:        &stubLoggingConfig{development: true},
			expectedLevel: "info",
		},
		{
			name:          "nil config",
			component:     "maintenance",
			config:        nil,
			expectedLevel: "info",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewComponentLoggerFromConfig(tt.component, tt.config)
			require.Equal(t, tt.component, l.GetComponent())
			require.Equal(t, tt.expectedLevel, l.GetLevel())
		})
	}
}

func TestNewNopLogger(t *testing.T) {
	l := NewNopLogger()
	require.NotPanics(t, func() {
		l.Errorf("discarded: %v", "anything")
		_ = l.Close()
	})
	require.Equal(t, "info", l.GetLevel())
}
