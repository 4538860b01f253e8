package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Level = %s, want info", cfg.Level)
	}
	if cfg.Pretty {
		t.Error("Pretty = true, want JSON output by default")
	}
	if cfg.Output == nil {
		t.Error("Output = nil, want stderr")
	}
}

// logAll emits one line per level, tagged with the level name.
func logAll(logger zerolog.Logger) {
	logger.Trace().Msg("trace: state notified")
	logger.Debug().Msg("debug: fetching offset 20")
	logger.Info().Msg("info: collector progress")
	logger.Warn().Msg("warn: page fetch failed")
	logger.Error().Msg("error: error budget critical")
}

func TestSetup_LevelFiltering(t *testing.T) {
	all := []string{"trace:", "debug:", "info:", "warn:", "error:"}

	tests := []struct {
		level LogLevel
		// index of the first level that must be written
		from int
	}{
		{LevelTrace, 0},
		{LevelDebug, 1},
		{LevelInfo, 2},
		{LevelWarn, 3},
		{LevelError, 4},
		{"bogus", 2},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := &bytes.Buffer{}
			logAll(Setup(Config{Level: tt.level, Output: buf}))

			output := buf.String()
			for i, prefix := range all {
				written := strings.Contains(output, prefix)
				if want := i >= tt.from; written != want {
					t.Errorf("level %s: %q written = %v, want %v", tt.level, prefix, written, want)
				}
			}
		})
	}
}

func TestSetup_NilOutput(t *testing.T) {
	// Falls back to stderr instead of panicking on the first write.
	logger := Setup(Config{Level: LevelError})
	logger.Debug().Msg("filtered")
}

func TestSetup_Pretty(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Pretty: true, Output: buf})

	logger.Info().Int("offset", 20).Msg("Fetching messages")

	output := buf.String()
	if strings.HasPrefix(strings.TrimSpace(output), "{") {
		t.Errorf("Expected console output, got JSON %q", output)
	}
	if !strings.Contains(output, "Fetching messages") || !strings.Contains(output, "offset") {
		t.Errorf("console output missing message or field: %q", output)
	}
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelDebug, Output: buf})

	logger := NewLogger("message-loader")
	logger.Debug().
		Int("offset", 40).
		Uint64("generation", 3).
		Msg("Fetching messages")

	var line struct {
		Level      string `json:"level"`
		Component  string `json:"component"`
		Offset     int    `json:"offset"`
		Generation uint64 `json:"generation"`
		Message    string `json:"message"`
		Time       string `json:"time"`
	}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not one JSON line: %v\n%s", err, buf.String())
	}

	if line.Component != "message-loader" {
		t.Errorf("component = %q, want message-loader", line.Component)
	}
	if line.Level != "debug" || line.Offset != 40 || line.Generation != 3 {
		t.Errorf("unexpected fields: %+v", line)
	}
	if line.Message != "Fetching messages" {
		t.Errorf("message = %q", line.Message)
	}
	if line.Time == "" {
		t.Error("missing timestamp")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{" Info ", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"WARN", LevelWarn, false},
		{"trace", LevelTrace, false},
		{"verbose", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseLevel_ZerologMapping(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelTrace, zerolog.TraceLevel},
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel}, // unknown names fall back to info
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}
