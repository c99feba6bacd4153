// Package status persists the named integer cursors that let a run resume
// where the previous one stopped.
package status

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/obsdb/obsdb/internal/filesystem"
)

// Unset is the value of a cursor that was never written. Any unset cursor
// forces a full rebuild of the stages depending on it.
const Unset int64 = -1

// Status holds the cursors of the last run.
type Status struct {
	Mirror        int64 `json:"mirror"`
	DB            int64 `json:"db"`
	XML           int64 `json:"xml"`
	ConfMtime     int64 `json:"conf_mtime"`
	OpensuseMtime int64 `json:"opensuse_mtime"`
	UpstreamMtime int64 `json:"upstream_mtime"`
}

// New returns a status with every cursor unset.
func New() Status {
	return Status{
		Mirror:        Unset,
		DB:            Unset,
		XML:           Unset,
		ConfMtime:     Unset,
		OpensuseMtime: Unset,
		UpstreamMtime: Unset,
	}
}

func (s *Status) fields() []struct {
	key  string
	dest *int64
} {
	return []struct {
		key  string
		dest *int64
	}{
		{"mirror", &s.Mirror},
		{"db", &s.DB},
		{"xml", &s.XML},
		{"conf-mtime", &s.ConfMtime},
		{"opensuse-mtime", &s.OpensuseMtime},
		{"upstream-mtime", &s.UpstreamMtime},
	}
}

// Load reads the status file at path. A missing file yields New().
// Malformed lines are skipped with a warning.
func Load(path string) (Status, error) {
	s := New()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return s, fmt.Errorf("failed to read status file: %w", err)
	}

	byKey := map[string]*int64{}
	for _, f := range s.fields() {
		byKey[f.key] = f.dest
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			slog.Warn("ignoring malformed status line", "path", path, "line", line)
			continue
		}
		dest, known := byKey[strings.TrimSpace(key)]
		if !known {
			slog.Warn("ignoring unknown status key", "path", path, "key", key)
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			slog.Warn("ignoring malformed status value", "path", path, "key", key, "value", value)
			continue
		}
		*dest = n
	}
	if err := scanner.Err(); err != nil {
		return New(), fmt.Errorf("failed to parse status file: %w", err)
	}

	return s, nil
}

// Save atomically replaces the status file at path.
func (s Status) Save(path string) error {
	var buf bytes.Buffer
	for _, f := range s.fields() {
		fmt.Fprintf(&buf, "%s=%d\n", f.key, *f.dest)
	}
	if err := filesystem.WriteAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write status file: %w", err)
	}
	return nil
}

// AnyUnset reports whether one of the event cursors was never written.
func (s Status) AnyUnset() bool {
	return s.Mirror == Unset || s.DB == Unset || s.XML == Unset
}

// Oldest returns the smallest event cursor, the point the feed has to be
// read from.
func (s Status) Oldest() int64 {
	return min(s.Mirror, s.DB, s.XML)
}
