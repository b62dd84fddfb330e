package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/ShayCichocki/conductor/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggerConfig
		wantErr bool
	}{
		{"json info", config.LoggerConfig{Level: "info", Format: "json"}, false},
		{"console debug", config.LoggerConfig{Level: "debug", Format: "console"}, false},
		{"uppercase level", config.LoggerConfig{Level: "WARN"}, false},
		{"bad level", config.LoggerConfig{Level: "chatty"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && logger == nil {
				t.Fatal("expected non-nil logger")
			}
		})
	}
}

func TestNew_LevelIsApplied(t *testing.T) {
	logger, err := New(config.LoggerConfig{Level: "error"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should be disabled at error level")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
}
