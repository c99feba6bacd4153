// Package specfile extracts from RPM spec files what the catalog records:
// binary packages, sources, patches with their tag blocks, and the order in
// which %prep applies the patches.
package specfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Spec is the parsed content of a spec file.
type Spec struct {
	Name    string
	Version string
	// Packages lists the binary packages, the main package first when its
	// Name: was seen.
	Packages []*Package
	Sources  []Source
	Patches  []*Patch
}

// Package is a binary package built from the spec.
type Package struct {
	Name        string
	Summary     string
	Description string
}

// Source is a SourceN: declaration.
type Source struct {
	Filename string
	Number   int
}

// Patch is a PatchN: declaration and what %prep does with it.
type Patch struct {
	Filename string
	Number   int
	// ApplyOrder is the position of the patch among the applied patches, or
	// -1 when %prep never applies it.
	ApplyOrder int
	Disabled   bool
	TagBlock
}

var (
	tagLine      = regexp.MustCompile(`^(?i)(name|version|summary|source\d*|patch\d*)\s*:\s*(.*)$`)
	numberSuffix = regexp.MustCompile(`\d+$`)
)

// sections that end the preamble, a %package or a %description block.
var sectionNames = map[string]bool{
	"package": true, "description": true, "prep": true, "build": true,
	"install": true, "check": true, "clean": true, "files": true,
	"changelog": true, "pre": true, "post": true, "preun": true,
	"postun": true, "pretrans": true, "posttrans": true, "verifyscript": true,
	"triggerin": true, "triggerun": true, "triggerpostun": true,
	"filetriggerin": true, "filetriggerun": true, "lang_package": true,
}

type section int

const (
	sectionPreamble section = iota
	sectionPackage
	sectionDescription
	sectionPrep
	sectionOther
)

type parser struct {
	spec    *Spec
	macros  macros
	section section

	current *Package
	byName  map[string]*Package
	// summary seen before the first Name: or %package.
	pendingSummary string

	description     *Package
	descriptionText []string

	comments []string

	applied   []int
	autoApply []autoRange
}

type autoRange struct {
	min, max int
}

// ParseFile parses the spec at path.
func ParseFile(path string) (*Spec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	spec, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}

// Parse reads a spec file.
func Parse(r io.Reader) (*Spec, error) {
	p := &parser{
		spec:   &Spec{},
		macros: macros{},
		byName: map[string]*Package{},
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var continued string
	for scanner.Scan() {
		line := scanner.Text()
		if continued != "" {
			line = continued + "\n" + line
			continued = ""
		}
		if isDefinition(line) && strings.HasSuffix(line, `\`) {
			continued = strings.TrimSuffix(line, `\`)
			continue
		}
		p.line(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if continued != "" {
		p.line(continued)
	}
	p.finish()
	return p.spec, nil
}

func isDefinition(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "%define") || strings.HasPrefix(trimmed, "%global")
}

func (p *parser) line(raw string) {
	line := strings.TrimSpace(raw)

	switch {
	case strings.HasPrefix(line, "%define") || strings.HasPrefix(line, "%global"):
		p.macros.define(line)
		return
	case strings.HasPrefix(line, "%undefine"):
		p.macros.undefine(line)
		return
	}

	if name, args, ok := sectionHeader(line); ok {
		p.startSection(name, args)
		return
	}

	switch p.section {
	case sectionPreamble, sectionPackage:
		p.preambleLine(line)
	case sectionDescription:
		p.descriptionText = append(p.descriptionText, raw)
	case sectionPrep:
		p.prepLine(line)
	}
}

func sectionHeader(line string) (name string, args []string, ok bool) {
	if !strings.HasPrefix(line, "%") {
		return "", nil, false
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 || !sectionNames[fields[0]] {
		return "", nil, false
	}
	return fields[0], fields[1:], true
}

func (p *parser) startSection(name string, args []string) {
	p.endDescription()
	p.comments = nil

	switch name {
	case "package":
		p.section = sectionPackage
		p.current = p.addPackage(p.subpackageName(args))
	case "lang_package":
		p.section = sectionOther
		main := p.mainName()
		if main == "" {
			return
		}
		lang := p.addPackage(main + "-lang")
		if lang.Summary == "" {
			lang.Summary = "Languages for package " + main
		}
	case "description":
		p.section = sectionDescription
		p.description = p.addPackage(p.subpackageName(args))
	case "prep":
		p.section = sectionPrep
	default:
		p.section = sectionOther
	}
}

// subpackageName resolves the arguments of %package and %description.
func (p *parser) subpackageName(args []string) string {
	var name string
	explicit := false
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-n" && i+1 < len(args):
			name = args[i+1]
			explicit = true
			i++
		case strings.HasPrefix(args[i], "-"):
			// -f <file> and similar options
			if args[i] == "-f" {
				i++
			}
		case name == "":
			name = args[i]
		}
	}
	name = p.macros.expand(name)

	main := p.mainName()
	switch {
	case name == "":
		return main
	case explicit || main == "":
		return name
	default:
		return main + "-" + name
	}
}

func (p *parser) mainName() string {
	return p.spec.Name
}

// addPackage returns the binary package called name, creating it. A summary
// seen before any package is attached to the first package created.
func (p *parser) addPackage(name string) *Package {
	if pkg, ok := p.byName[name]; ok {
		return pkg
	}
	pkg := &Package{Name: name, Summary: p.pendingSummary}
	p.pendingSummary = ""
	p.byName[name] = pkg
	p.spec.Packages = append(p.spec.Packages, pkg)
	return pkg
}

func (p *parser) preambleLine(line string) {
	if strings.HasPrefix(line, "#") {
		p.comments = append(p.comments, line)
		return
	}
	if line == "" {
		p.comments = nil
		return
	}

	comments := p.comments
	p.comments = nil

	m := tagLine.FindStringSubmatch(line)
	if m == nil {
		return
	}
	key := strings.ToLower(m[1])
	value := p.macros.expand(strings.TrimSpace(m[2]))

	switch {
	case key == "name":
		if p.section != sectionPreamble || p.spec.Name != "" {
			return
		}
		p.spec.Name = value
		p.macros["name"] = value
		p.current = p.addPackage(value)
	case key == "version":
		if p.section == sectionPreamble && p.spec.Version == "" {
			p.spec.Version = value
			p.macros["version"] = value
		}
	case key == "summary":
		if p.current == nil {
			p.pendingSummary = value
		} else if p.current.Summary == "" {
			p.current.Summary = value
		}
	case strings.HasPrefix(key, "source"):
		p.spec.Sources = append(p.spec.Sources, Source{Filename: basename(value), Number: declaredNumber(key)})
	case strings.HasPrefix(key, "patch"):
		patch := &Patch{Filename: basename(value), Number: declaredNumber(key), ApplyOrder: -1}
		if len(comments) > 0 {
			patch.TagBlock = ParseTag(comments[len(comments)-1])
			if len(comments) > 1 {
				patch.Descr = joinComments(comments[:len(comments)-1])
			}
		}
		p.spec.Patches = append(p.spec.Patches, patch)
	}
}

func joinComments(lines []string) string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, strings.TrimSpace(strings.TrimLeft(l, "#")))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func declaredNumber(key string) int {
	digits := numberSuffix.FindString(key)
	if digits == "" {
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

func basename(value string) string {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return ""
	}
	v := fields[0]
	if i := strings.LastIndex(v, "/"); i >= 0 && i < len(v)-1 {
		v = v[i+1:]
	}
	if i := strings.Index(v, "#"); i > 0 {
		v = v[:i]
	}
	return v
}

func (p *parser) endDescription() {
	if p.description == nil {
		return
	}
	text := strings.TrimSpace(strings.Join(p.descriptionText, "\n"))
	if p.description.Description == "" {
		p.description.Description = text
	}
	p.description = nil
	p.descriptionText = nil
}

func (p *parser) prepLine(line string) {
	line = p.macros.expand(line)
	switch {
	case strings.HasPrefix(line, "%patch"):
		p.applied = append(p.applied, patchNumbers(line)...)
	case strings.HasPrefix(line, "%autosetup"), strings.HasPrefix(line, "%autopatch"):
		p.autoApply = append(p.autoApply, autoPatchRange(line))
	}
}

// patchNumbers returns the patches applied by a %patch line: %patchN,
// %patch N, %patch -P N (repeatable) and a bare %patch for patch 0.
func patchNumbers(line string) []int {
	fields := strings.Fields(line)
	first := fields[0]

	var numbers []int
	if suffix := strings.TrimPrefix(first, "%patch"); suffix != "" {
		n, err := strconv.Atoi(suffix)
		if err != nil {
			return nil
		}
		numbers = append(numbers, n)
	}

	for i := 1; i < len(fields); i++ {
		f := fields[i]
		switch {
		case f == "-P" && i+1 < len(fields):
			if n, err := strconv.Atoi(fields[i+1]); err == nil {
				numbers = append(numbers, n)
			}
			i++
		case strings.HasPrefix(f, "-P"):
			if n, err := strconv.Atoi(f[2:]); err == nil {
				numbers = append(numbers, n)
			}
		case f == "-p" || f == "-F" || f == "-b" || f == "-z" || f == "-d" || f == "-o" || f == "-D":
			i++
		case strings.HasPrefix(f, "-"):
		default:
			if n, err := strconv.Atoi(f); err == nil {
				numbers = append(numbers, n)
			}
		}
	}

	if len(numbers) == 0 && first == "%patch" {
		numbers = append(numbers, 0)
	}
	return numbers
}

func autoPatchRange(line string) autoRange {
	r := autoRange{min: -1, max: -1}
	fields := strings.Fields(line)
	for i := 1; i < len(fields); i++ {
		f := fields[i]
		var target *int
		var value string
		switch {
		case f == "-m" || f == "-M":
			if i+1 >= len(fields) {
				continue
			}
			value = fields[i+1]
			i++
		case strings.HasPrefix(f, "-m") || strings.HasPrefix(f, "-M"):
			value = f[2:]
		default:
			continue
		}
		if f[1] == 'm' {
			target = &r.min
		} else {
			target = &r.max
		}
		if n, err := strconv.Atoi(value); err == nil {
			*target = n
		}
	}
	return r
}

func (r autoRange) contains(n int) bool {
	return (r.min < 0 || n >= r.min) && (r.max < 0 || n <= r.max)
}

func (p *parser) finish() {
	p.endDescription()

	order := 0
	apply := func(patch *Patch) {
		if patch.ApplyOrder >= 0 {
			return
		}
		patch.ApplyOrder = order
		order++
	}

	byNumber := map[int]*Patch{}
	for _, patch := range p.spec.Patches {
		if _, dup := byNumber[patch.Number]; !dup {
			byNumber[patch.Number] = patch
		}
	}
	for _, n := range p.applied {
		if patch, ok := byNumber[n]; ok {
			apply(patch)
		}
	}

	for _, r := range p.autoApply {
		for _, patch := range p.spec.Patches {
			if r.contains(patch.Number) {
				apply(patch)
			}
		}
	}

	for _, patch := range p.spec.Patches {
		patch.Disabled = patch.ApplyOrder < 0
	}
}

// BinaryPackage returns the binary package called name, or nil.
func (s *Spec) BinaryPackage(name string) *Package {
	for _, pkg := range s.Packages {
		if pkg.Name == name {
			return pkg
		}
	}
	return nil
}

// String renders a short description, for logs.
func (s *Spec) String() string {
	return fmt.Sprintf("%s-%s (%d packages, %d sources, %d patches)", s.Name, s.Version, len(s.Packages), len(s.Sources), len(s.Patches))
}
