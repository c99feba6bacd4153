// Package logging installs the process-wide slog handler.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Options selects where and how verbosely to log.
type Options struct {
	// Path, when set, receives the log instead of stderr.
	Path  string
	Debug bool
}

// Init sets the default slog logger. The returned closer releases the log
// file, if any.
func Init(opts Options) (io.Closer, error) {
	var (
		w       io.Writer = os.Stderr
		closer  io.Closer = nopCloser{}
		noColor           = !term.IsTerminal(int(os.Stderr.Fd()))
	)

	if opts.Path != "" {
		f, err := os.OpenFile(opts.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("error opening log file: %w", err)
		}
		w, closer, noColor = f, f, true
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      level,
			AddSource:  opts.Debug,
			TimeFormat: time.DateTime,
			NoColor:    noColor,
		}),
	))

	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
