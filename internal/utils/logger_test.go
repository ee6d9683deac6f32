package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestInitLoggerLevels(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	tests := []struct {
		name    string
		debug   bool
		logFile bool
		want    zerolog.Level
	}{
		{"stderr only", false, false, zerolog.WarnLevel},
		{"log file", false, true, zerolog.InfoLevel},
		{"debug", true, false, zerolog.DebugLevel},
		{"debug with file", true, true, zerolog.DebugLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.logFile {
				path = filepath.Join(t.TempDir(), "run.log")
			}
			closer, err := InitLogger(tt.debug, path)
			if err != nil {
				t.Fatalf("InitLogger: %v", err)
			}
			defer closer.Close()
			if got := zerolog.GlobalLevel(); got != tt.want {
				t.Errorf("level = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInitLoggerWritesFile(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	defer SetLogOutput(os.Stderr)
	path := filepath.Join(t.TempDir(), "run.log")
	closer, err := InitLogger(false, path)
	if err != nil {
		t.Fatalf("InitLogger: %v", err)
	}
	log.Info().Str("op", "utils/logger").Msg("hello file")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Errorf("log file = %q, want message", data)
	}
}

func TestInitLoggerBadPath(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	path := filepath.Join(t.TempDir(), "missing", "run.log")
	if _, err := InitLogger(false, path); err == nil {
		t.Fatal("expected error for unwritable log path")
	}
}
