package specfile

import (
	"regexp"
	"strconv"
	"strings"
)

// TagBlock is the structured comment preceding a PatchN: line:
//
//	# PATCH-FIX-UPSTREAM fix.patch bnc#123 someone@example.org -- Fix the build
type TagBlock struct {
	Tag         string
	TagFilename string
	ShortDescr  string
	Descr       string

	Bnc  int64
	Bgo  int64
	Bmo  int64
	Bln  int64
	Brc  int64
	Fate int64
	Cve  int64
}

var (
	categoryToken = regexp.MustCompile(`^[A-Z][A-Z0-9]*(-[A-Z0-9]+)+:?$`)
	patchFilename = regexp.MustCompile(`(?i)\.(diff|patch)$`)
	trackerToken  = regexp.MustCompile(`(?i)^\(?(bnc|boo|bsc|bgo|bmo|bln|brc|fate|cve)#([0-9][0-9-]*)[),.;:]*$`)
	cveToken      = regexp.MustCompile(`(?i)^\(?cve-([0-9]{4})-([0-9]+)[),.;:]*$`)
)

// ParseTag parses a tag comment line. Text that does not start with a
// category is kept whole as the short description.
func ParseTag(line string) TagBlock {
	text := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
	tokens := strings.Fields(text)

	var t TagBlock
	if len(tokens) == 0 {
		return t
	}
	if !categoryToken.MatchString(tokens[0]) {
		t.ShortDescr = text
		return t
	}
	t.Tag = strings.TrimSuffix(tokens[0], ":")
	tokens = tokens[1:]

	if len(tokens) > 0 && patchFilename.MatchString(tokens[0]) {
		t.TagFilename = tokens[0]
		tokens = tokens[1:]
	}

	for len(tokens) > 0 && t.tracker(tokens[0]) {
		tokens = tokens[1:]
	}

	if len(tokens) > 0 && strings.Contains(tokens[0], "@") {
		tokens = tokens[1:]
	}
	// trackers sometimes follow the address
	for len(tokens) > 0 && t.tracker(tokens[0]) {
		tokens = tokens[1:]
	}

	if len(tokens) > 0 && tokens[0] == "--" {
		tokens = tokens[1:]
	}
	t.ShortDescr = strings.Join(tokens, " ")
	return t
}

// tracker records token when it is a bug reference. The first reference of
// each tracker wins.
func (t *TagBlock) tracker(token string) bool {
	if m := cveToken.FindStringSubmatch(token); m != nil {
		setOnce(&t.Cve, m[1]+m[2])
		return true
	}

	m := trackerToken.FindStringSubmatch(token)
	if m == nil {
		return false
	}
	digits := strings.ReplaceAll(m[2], "-", "")
	switch strings.ToLower(m[1]) {
	case "bnc", "boo", "bsc":
		setOnce(&t.Bnc, digits)
	case "bgo":
		setOnce(&t.Bgo, digits)
	case "bmo":
		setOnce(&t.Bmo, digits)
	case "bln":
		setOnce(&t.Bln, digits)
	case "brc":
		setOnce(&t.Brc, digits)
	case "fate":
		setOnce(&t.Fate, digits)
	case "cve":
		setOnce(&t.Cve, digits)
	}
	return true
}

func setOnce(field *int64, digits string) {
	if *field != 0 || digits == "" {
		return
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return
	}
	*field = n
}
