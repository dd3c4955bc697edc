package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration
type Config struct {
	Level  string `json:"level"`
	Output string `json:"output"` // "stdout", "stderr", or file path
	Pretty bool   `json:"pretty"` // Console-formatted instead of JSON
}

// ParseLevel converts a string to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// New builds the root logger. Every emitted line is also mirrored into the
// ring so operator consoles can replay recent history on connect.
func New(cfg *Config, ring *ConsoleRing) zerolog.Logger {
	var output io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		output = os.Stderr
	} else if cfg.Output != "" && cfg.Output != "stdout" {
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			output = file
		}
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(output).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	if ring != nil {
		logger = logger.Hook(ring)
	}
	return logger
}

// ConsoleEntry is one line of operator-visible console output.
type ConsoleEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// ConsoleRing keeps the most recent log lines for console replay and fans
// live lines out to an optional listener (the push hub).
type ConsoleRing struct {
	mu       sync.Mutex
	entries  []ConsoleEntry
	capacity int
	notify   func(ConsoleEntry)
}

// NewConsoleRing creates a ring holding up to capacity entries.
func NewConsoleRing(capacity int) *ConsoleRing {
	if capacity <= 0 {
		capacity = 200
	}
	return &ConsoleRing{capacity: capacity}
}

// SetNotify registers the live listener. Called once at wiring time.
func (r *ConsoleRing) SetNotify(fn func(ConsoleEntry)) {
	r.mu.Lock()
	r.notify = fn
	r.mu.Unlock()
}

// Run implements zerolog.Hook.
func (r *ConsoleRing) Run(e *zerolog.Event, level zerolog.Level, message string) {
	if message == "" || level < zerolog.InfoLevel {
		return
	}
	r.Append(ConsoleEntry{Timestamp: time.Now().UTC(), Level: level.String(), Message: message})
}

// Append records an entry, evicting the oldest when full.
func (r *ConsoleRing) Append(entry ConsoleEntry) {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	if len(r.entries) > r.capacity {
		r.entries = r.entries[len(r.entries)-r.capacity:]
	}
	notify := r.notify
	r.mu.Unlock()
	if notify != nil {
		notify(entry)
	}
}

// Clear discards the buffered entries.
func (r *ConsoleRing) Clear() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}

// Snapshot returns a copy of the buffered entries, oldest first.
func (r *ConsoleRing) Snapshot() []ConsoleEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConsoleEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
