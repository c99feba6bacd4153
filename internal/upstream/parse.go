// Package upstream reads the upstream version databases and keeps them in
// upstream.db for the catalog.
package upstream

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// MatchFile is the name-match file of the upstream directory. Every other
// regular file of the directory is a branch file.
const MatchFile = "upstream-packages-match.txt"

// Sources of a branch file line.
const (
	SourceFallback = "fallback"
	SourceUpstream = "upstream"
	SourceNonFGO   = "nonfgo"
	SourceFGO      = "fgo"
	SourceCPAN     = "cpan"
	SourcePyPI     = "pypi"
)

const cpanBaseURL = "http://cpan.perl.org/CPAN/authors/id/"

// Match maps a source package to its upstream name. UpstreamName may carry a
// limit, as in "gtk+|2.90".
type Match struct {
	SrcPackage   string
	UpstreamName string
}

// Record is one line of a branch file.
type Record struct {
	Name       string
	Version    string
	URL        string
	IsFallback bool
}

// SplitLimit splits "name|limit" into its parts; limit is empty for plain
// names.
func SplitLimit(upstreamName string) (name, limit string) {
	name, limit, _ = strings.Cut(upstreamName, "|")
	return name, limit
}

// ParseMatches reads a name-match file: UPSTREAM_NAME:SRC_PACKAGE lines, an
// empty right side meaning the upstream name without its limit.
func ParseMatches(r io.Reader) ([]Match, error) {
	var matches []Match
	err := scanLines(r, func(lineNo int, line string) {
		upstreamName, src, ok := strings.Cut(line, ":")
		if !ok {
			src = ""
		}
		upstreamName, src = strings.TrimSpace(upstreamName), strings.TrimSpace(src)
		if upstreamName == "" {
			slog.Warn("ignoring name-match line without upstream name", "line", lineNo)
			return
		}
		if src == "" {
			src, _ = SplitLimit(upstreamName)
		}
		matches = append(matches, Match{SrcPackage: src, UpstreamName: upstreamName})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", MatchFile, err)
	}
	return matches, nil
}

// ParseBranch reads a branch file: SOURCE:NAME:VERSION:URL_OR_PATH lines.
func ParseBranch(r io.Reader) ([]Record, error) {
	var records []Record
	err := scanLines(r, func(lineNo int, line string) {
		fields := strings.SplitN(line, ":", 4)
		if len(fields) < 3 {
			slog.Warn("ignoring malformed upstream line", "line", lineNo, "content", line)
			return
		}
		for len(fields) < 4 {
			fields = append(fields, "")
		}

		source, name, version, tail := fields[0], fields[1], fields[2], fields[3]
		if name == "" || version == "" {
			slog.Warn("ignoring upstream line without name or version", "line", lineNo)
			return
		}

		url, ok := assembleURL(source, name, version, tail)
		if !ok {
			slog.Warn("ignoring upstream line with unknown source", "line", lineNo, "source", source)
			return
		}
		records = append(records, Record{
			Name:       name,
			Version:    version,
			URL:        url,
			IsFallback: source == SourceFallback,
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func assembleURL(source, name, version, tail string) (string, bool) {
	switch source {
	case SourceFGO:
		return fmt.Sprintf("https://download.gnome.org/sources/%s/%s/%s-%s.tar.xz", name, majMin(version), name, version), true
	case SourceCPAN:
		return cpanBaseURL + tail, true
	case SourcePyPI, SourceNonFGO:
		return tail, true
	case SourceFallback, SourceUpstream:
		return "", true
	default:
		return "", false
	}
}

// majMin is the directory of a version on download.gnome.org: the first two
// components, or the first alone when it is a number of at least 40 (the
// versioning scheme used since GNOME 40).
func majMin(version string) string {
	parts := strings.Split(version, ".")
	if len(parts) == 1 {
		return version
	}
	if major := parts[0]; isNumber(major) && Ge(major, "40") {
		return major
	}
	return parts[0] + "." + parts[1]
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func scanLines(r io.Reader, fn func(lineNo int, line string)) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fn(lineNo, line)
	}
	return scanner.Err()
}

// fanOut adds the "name|limit" records of matches to records: such a record
// takes the version of the plain name when it is below the limit.
func fanOut(records []Record, matches []Match) []Record {
	byName := make(map[string]Record, len(records))
	for _, rec := range records {
		byName[rec.Name] = rec
	}

	for _, m := range matches {
		name, limit := SplitLimit(m.UpstreamName)
		if limit == "" {
			continue
		}
		if _, ok := byName[m.UpstreamName]; ok {
			continue
		}
		base, ok := byName[name]
		if !ok || Ge(base.Version, limit) {
			continue
		}
		rec := base
		rec.Name = m.UpstreamName
		byName[rec.Name] = rec
		records = append(records, rec)
	}
	return records
}
