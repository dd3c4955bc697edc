package logging

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
		{"Warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"garbage", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConsoleRingEviction(t *testing.T) {
	r := NewConsoleRing(3)
	for i := 0; i < 5; i++ {
		r.Append(ConsoleEntry{Message: strings.Repeat("x", i+1)})
	}
	got := r.Snapshot()
	if len(got) != 3 {
		t.Fatalf("ring size = %d, want 3", len(got))
	}
	if got[0].Message != "xxx" || got[2].Message != "xxxxx" {
		t.Errorf("eviction kept wrong entries: %+v", got)
	}
}

func TestConsoleRingNotify(t *testing.T) {
	r := NewConsoleRing(10)
	var seen []string
	r.SetNotify(func(e ConsoleEntry) { seen = append(seen, e.Message) })
	r.Append(ConsoleEntry{Message: "one"})
	r.Append(ConsoleEntry{Message: "two"})
	if len(seen) != 2 || seen[1] != "two" {
		t.Errorf("notify saw %v", seen)
	}
}

func TestLoggerMirrorsIntoRing(t *testing.T) {
	ring := NewConsoleRing(10)
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Hook(ring)

	logger.Info().Str("symbol", "R_100").Msg("tick stream subscribed")
	logger.Debug().Msg("not operator visible")

	got := ring.Snapshot()
	if len(got) != 1 {
		t.Fatalf("ring holds %d entries, want 1", len(got))
	}
	if got[0].Message != "tick stream subscribed" || got[0].Level != "info" {
		t.Errorf("mirrored entry = %+v", got[0])
	}
	if !strings.Contains(buf.String(), `"symbol":"R_100"`) {
		t.Errorf("primary output missing fields: %s", buf.String())
	}
}
