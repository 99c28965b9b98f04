package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/sanoy-si/doom-blocker-backend/config"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.ObservabilityConfig
		wantLevel zapcore.Level
		wantErr   bool
	}{
		{
			name:      "default json logger",
			cfg:       config.ObservabilityConfig{LogLevel: "info", LogFormat: config.LogFormatJSON},
			wantLevel: zapcore.InfoLevel,
		},
		{
			name:      "development text logger",
			cfg:       config.ObservabilityConfig{LogLevel: "debug", LogFormat: config.LogFormatText},
			wantLevel: zapcore.DebugLevel,
		},
		{
			name:      "defaults when not set",
			cfg:       config.ObservabilityConfig{},
			wantLevel: zapcore.InfoLevel,
		},
		{
			name:    "invalid log level",
			cfg:     config.ObservabilityConfig{LogLevel: "verbose", LogFormat: config.LogFormatJSON},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := initLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
				assert.Contains(t, err.Error(), "invalid log level")
				return
			}

			require.NoError(t, err)
			require.NotNil(t, logger)
			defer logger.Sync()

			assert.True(t, logger.Core().Enabled(tt.wantLevel))
			assert.False(t, logger.Core().Enabled(tt.wantLevel-1))
		})
	}
}
