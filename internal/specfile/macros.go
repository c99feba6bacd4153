package specfile

import (
	"strings"
)

const maxExpansionDepth = 10

// macros holds the %define and %global values of a spec file.
type macros map[string]string

func (m macros) define(line string) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return
	}
	name := fields[1]
	if strings.ContainsAny(name, "()") {
		// parametric macros are never used in the tags we read
		return
	}
	value := ""
	rest := strings.TrimSpace(line)[len(fields[0]):]
	if idx := strings.Index(rest, name); idx >= 0 {
		value = strings.TrimSpace(rest[idx+len(name):])
	}
	m[name] = value
}

func (m macros) undefine(line string) {
	fields := strings.Fields(line)
	if len(fields) >= 2 {
		delete(m, fields[1])
	}
}

// expand substitutes %{name}, %{?name} and %name until nothing changes.
// Unknown %{name} and %name references are kept verbatim; unknown %{?name}
// expand to nothing.
func (m macros) expand(s string) string {
	for range maxExpansionDepth {
		next := m.expandOnce(s)
		if next == s {
			return next
		}
		s = next
	}
	return s
}

func (m macros) expandOnce(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '%' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}

		next := s[i+1]
		switch {
		case next == '%':
			b.WriteString("%%")
			i++
		case next == '{':
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				b.WriteString(s[i:])
				return b.String()
			}
			body := s[i+2 : i+2+end]
			b.WriteString(m.lookupBraced(body, s[i:i+3+end]))
			i += 2 + end
		case isIdentStart(next):
			j := i + 1
			for j < len(s) && isIdent(s[j]) {
				j++
			}
			name := s[i+1 : j]
			if value, ok := m[name]; ok {
				b.WriteString(value)
			} else {
				b.WriteString(s[i:j])
			}
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (m macros) lookupBraced(body, raw string) string {
	optional := false
	if strings.HasPrefix(body, "?") {
		optional = true
		body = body[1:]
	} else if strings.HasPrefix(body, "!?") {
		// %{!?name:value}: value when name is undefined
		name, value, _ := strings.Cut(body[2:], ":")
		if _, ok := m[name]; ok {
			return ""
		}
		return value
	}

	name, alternative, hasAlternative := strings.Cut(body, ":")
	value, ok := m[name]
	switch {
	case optional && hasAlternative:
		if ok {
			return alternative
		}
		return ""
	case ok:
		return value
	case optional:
		return ""
	default:
		return raw
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdent(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
