package config

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger from the Advanced section.
// LogFormat "json" writes structured lines; anything else uses the console writer.
func (c *AppConfig) NewLogger(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level, err := zerolog.ParseLevel(strings.ToLower(c.Advanced.LogLevel))
	if err != nil || c.Advanced.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	if !strings.EqualFold(c.Advanced.LogFormat, "json") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
