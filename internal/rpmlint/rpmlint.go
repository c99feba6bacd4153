// Package rpmlint parses the rpmlint reports fetched from build results.
package rpmlint

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Levels of a finding.
const (
	LevelError   = "E"
	LevelWarning = "W"
	LevelInfo    = "I"
)

// Report is one finding of an rpmlint run.
type Report struct {
	Binary string
	Arch   string
	Level  string
	Type   string
	Detail string
	Descr  string
}

var (
	findingLine = regexp.MustCompile(`^([^\s:]+)\.([A-Za-z0-9_]+): ([WEI]): (\S+)\s*(.*)$`)
	// build logs prefix every line with the elapsed time
	timestampPrefix = regexp.MustCompile(`^\[\s*\d+s\]\s?`)
	summaryLine     = regexp.MustCompile(`^\d+ packages? and \d+ specfiles? checked`)
)

// Parse reads a report. Each finding may be followed by an indented
// description paragraph, which ends at the first empty line. Findings of a
// type seen with a description elsewhere in the report share it.
func Parse(r io.Reader) ([]Report, error) {
	var (
		reports []Report
		descr   []string
		inDescr bool
	)

	flush := func() {
		if inDescr && len(reports) > 0 && len(descr) > 0 {
			reports[len(reports)-1].Descr = strings.Join(descr, " ")
		}
		descr = descr[:0]
		inDescr = false
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := timestampPrefix.ReplaceAllString(scanner.Text(), "")

		if m := findingLine.FindStringSubmatch(line); m != nil {
			flush()
			reports = append(reports, Report{
				Binary: m[1],
				Arch:   m[2],
				Level:  m[3],
				Type:   m[4],
				Detail: strings.TrimSpace(m[5]),
			})
			inDescr = true
			continue
		}

		text := strings.TrimSpace(line)
		switch {
		case text == "":
			flush()
		case summaryLine.MatchString(text):
			flush()
		case inDescr && (line != text || len(descr) > 0 || startsParagraph(line)):
			descr = append(descr, text)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rpmlint report: %w", err)
	}
	flush()

	shareDescriptions(reports)
	return reports, nil
}

// startsParagraph accepts unindented description text directly below a
// finding, as printed by older rpmlint versions.
func startsParagraph(line string) bool {
	return !strings.Contains(line, ": ")
}

func shareDescriptions(reports []Report) {
	byType := map[string]string{}
	for _, r := range reports {
		if r.Descr != "" {
			if _, ok := byType[r.Type]; !ok {
				byType[r.Type] = r.Descr
			}
		}
	}
	for i := range reports {
		if reports[i].Descr == "" {
			reports[i].Descr = byType[reports[i].Type]
		}
	}
}
