// Package sysutil holds process-level helpers used while lifelogd starts:
// logger setup and preparing the on-disk locations it writes to.
package sysutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ParseLevel maps a level name to a zerolog level. Unknown or empty names
// map to info.
func ParseLevel(lvl string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetupLogging sets the global level and replaces the global logger with
// one writing to w. With pretty set the output is human-readable console
// text instead of JSON lines.
func SetupLogging(lvl string, pretty bool, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	zerolog.SetGlobalLevel(ParseLevel(lvl))
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// EnsureDir creates dir (and parents) when missing and checks that it is a
// writable directory.
func EnsureDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("empty directory path")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("%s not writable: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// EnsureParentDir prepares the directory holding file. Relative names in the
// working directory and sqlite memory DSNs need nothing.
func EnsureParentDir(file string) error {
	if file == "" || strings.HasPrefix(file, "file:") || strings.Contains(file, ":memory:") {
		return nil
	}
	dir := filepath.Dir(file)
	if dir == "." {
		return nil
	}
	return EnsureDir(dir)
}
