package upstream

import "strings"

// Compare orders two versions. Versions are split on '-' into segments and
// every segment on '.' into components; numeric components compare
// numerically, others lexicographically, and on an equal prefix the longer
// version wins. The result is -1, 0 or 1.
//
// Compare is a total preorder, so "1.02" and "1.2" are equal.
func Compare(a, b string) int {
	sa, sb := strings.Split(a, "-"), strings.Split(b, "-")
	for i := 0; i < len(sa) && i < len(sb); i++ {
		if c := compareSegment(sa[i], sb[i]); c != 0 {
			return c
		}
	}
	return compareInt(len(sa), len(sb))
}

// Ge reports whether a >= b.
func Ge(a, b string) bool { return Compare(a, b) >= 0 }

// Gt reports whether a > b.
func Gt(a, b string) bool { return Compare(a, b) > 0 }

func compareSegment(a, b string) int {
	ca, cb := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(ca) && i < len(cb); i++ {
		if c := compareComponent(ca[i], cb[i]); c != 0 {
			return c
		}
	}
	return compareInt(len(ca), len(cb))
}

// compareComponent compares the leading digits numerically and the rest
// lexicographically. A component without leading digits sorts before any
// component with them.
func compareComponent(a, b string) int {
	da, ra := splitDigits(a)
	db, rb := splitDigits(b)
	switch {
	case da == "" && db != "":
		return -1
	case da != "" && db == "":
		return 1
	}
	if c := compareDigits(da, db); c != 0 {
		return c
	}
	return strings.Compare(ra, rb)
}

func splitDigits(s string) (digits, rest string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i], s[i:]
}

func compareDigits(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if c := compareInt(len(a), len(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
