package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupJSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	Setup("debug", "json", &buf)

	l := Get("engine")
	l.Debug().Str("client_id", "publisher-00001").Msg("connected")

	out := buf.String()
	if !strings.Contains(out, `"component":"engine"`) {
		t.Errorf("output missing component field: %s", out)
	}
	if !strings.Contains(out, `"client_id":"publisher-00001"`) {
		t.Errorf("output missing client_id field: %s", out)
	}
}

func TestSetupLevelFilters(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	Setup("error", "json", &buf)

	l := Get("engine")
	l.Info().Msg("should be dropped")

	if buf.Len() != 0 {
		t.Errorf("info log written at error level: %s", buf.String())
	}
}
