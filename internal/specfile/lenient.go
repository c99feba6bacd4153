package specfile

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"
	"unicode"
)

var releaseLine = regexp.MustCompile(`(?i)^release\s*:`)

// LenientEqual compares two spec files ignoring whitespace, comments,
// Release: lines and everything from %changelog on.
func LenientEqual(a, b []byte) bool {
	na, nb := normalize(a), normalize(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

func normalize(content []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "%changelog") {
			break
		}
		if line == "" || strings.HasPrefix(line, "#") || releaseLine.MatchString(line) {
			continue
		}
		lines = append(lines, strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, line))
	}
	return lines
}
