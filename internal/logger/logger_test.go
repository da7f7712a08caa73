package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConfigureWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "info", Format: "json", Output: &buf})
	defer Configure(Config{Level: "info", Format: "json"})

	Info("task advanced", "task_id", "t-1", "percent", 40)
	Debug("hidden at info level")

	out := buf.String()
	if !strings.Contains(out, `"task_id":"t-1"`) {
		t.Errorf("expected task_id field in output, got %s", out)
	}
	if !strings.Contains(out, `"percent":40`) {
		t.Errorf("expected percent field in output, got %s", out)
	}
	if strings.Contains(out, "hidden at info level") {
		t.Error("debug message should be filtered at info level")
	}
}

func TestForAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf})
	defer Configure(Config{Level: "info", Format: "json"})

	l := For("collector")
	l.Info().Msg("hello")
	if !strings.Contains(buf.String(), `"component":"collector"`) {
		t.Errorf("expected component field, got %s", buf.String())
	}
}
