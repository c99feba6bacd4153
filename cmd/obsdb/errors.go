package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/obsdb/obsdb/internal/catalog"
	"github.com/obsdb/obsdb/internal/config"
	"github.com/obsdb/obsdb/internal/database"
	"github.com/obsdb/obsdb/internal/hermes"
	"github.com/obsdb/obsdb/internal/mirror"
	"github.com/obsdb/obsdb/internal/runner"
)

// knownErrors only get their message printed. Anything else is unexpected
// and printed with its stack.
var knownErrors = []error{
	config.ErrInvalid,
	runner.ErrLocked,
	hermes.ErrTooManyPages,
	hermes.ErrFeed,
	mirror.ErrNotFound,
	mirror.ErrEmptyResponse,
	catalog.ErrNoParent,
	catalog.ErrVersionMismatch,
	database.ErrNotFound,
	context.Canceled,
}

func reportError(w io.Writer, err error) {
	for _, known := range knownErrors {
		if errors.Is(err, known) {
			fmt.Fprintf(w, "error: %v\n", err)
			return
		}
	}
	fmt.Fprintf(w, "error: %+v\n", err)
}
