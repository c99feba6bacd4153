package specfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const geditSpec = `#
# spec file for package gedit
#
%define _name gedit
%define major 3.38
%global pkgver %{major}.1

Name:           %{_name}
Version:        %{pkgver}
Release:        0
Summary:        UTF-8 text editor
License:        GPL-2.0-or-later
URL:            https://wiki.gnome.org/Apps/Gedit
Source0:        https://download.gnome.org/sources/%{name}/%{major}/%{name}-%{version}.tar.xz
Source1:        %{name}-rpmlintrc
# PATCH-FIX-UPSTREAM gedit-fix-crash.patch bgo#123456 bnc#987 someone@example.org -- Fix crash on close
Patch0:         gedit-fix-crash.patch
# This one is not ready yet.
# PATCH-FEATURE-OPENSUSE gedit-branding.patch boo#1 -- Use openSUSE branding
Patch1:         gedit-branding.patch
# PATCH-FIX-SLE gedit-cve.diff CVE-2020-12345 -- Security fix
Patch2:         gedit-cve.diff
Patch3:         gedit-unused.patch
BuildRequires:  pkgconfig

%description
gedit is the official text editor of the GNOME desktop environment.

%package devel
Summary:        Development files for gedit

%description devel
Headers for plugins.

%package -n libgedit0
Summary:        Shared library of gedit

%description -n libgedit0
The shared library.

%lang_package

%prep
%setup -q
%patch -P 2 -p1
%patch0 -p1
# %patch1 -p1

%build
%patch3 -p1
%configure

%changelog
`

func TestParseSpec(t *testing.T) {
	spec, err := Parse(strings.NewReader(geditSpec))
	require.NoError(t, err)

	assert.Equal(t, "gedit", spec.Name)
	assert.Equal(t, "3.38.1", spec.Version)

	names := []string{}
	for _, p := range spec.Packages {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"gedit", "gedit-devel", "libgedit0", "gedit-lang"}, names)

	assert.Equal(t, "UTF-8 text editor", spec.Packages[0].Summary)
	assert.Equal(t, "gedit is the official text editor of the GNOME desktop environment.", spec.Packages[0].Description)
	assert.Equal(t, "Development files for gedit", spec.BinaryPackage("gedit-devel").Summary)
	assert.Equal(t, "Headers for plugins.", spec.BinaryPackage("gedit-devel").Description)
	assert.Equal(t, "The shared library.", spec.BinaryPackage("libgedit0").Description)
	assert.Equal(t, "Languages for package gedit", spec.BinaryPackage("gedit-lang").Summary)

	assert.Equal(t, []Source{
		{Filename: "gedit-3.38.1.tar.xz", Number: 0},
		{Filename: "gedit-rpmlintrc", Number: 1},
	}, spec.Sources)
}

func TestPatchApplicationAndTags(t *testing.T) {
	spec, err := Parse(strings.NewReader(geditSpec))
	require.NoError(t, err)
	require.Len(t, spec.Patches, 4)

	crash, branding, cve, unused := spec.Patches[0], spec.Patches[1], spec.Patches[2], spec.Patches[3]

	assert.Equal(t, "gedit-fix-crash.patch", crash.Filename)
	assert.Equal(t, 0, crash.Number)
	assert.Equal(t, 1, crash.ApplyOrder)
	assert.False(t, crash.Disabled)
	assert.Equal(t, "PATCH-FIX-UPSTREAM", crash.Tag)
	assert.Equal(t, "gedit-fix-crash.patch", crash.TagFilename)
	assert.Equal(t, int64(123456), crash.Bgo)
	assert.Equal(t, int64(987), crash.Bnc)
	assert.Equal(t, "Fix crash on close", crash.ShortDescr)

	assert.Equal(t, -1, branding.ApplyOrder)
	assert.True(t, branding.Disabled)
	assert.Equal(t, int64(1), branding.Bnc)
	assert.Equal(t, "This one is not ready yet.", branding.Descr)

	assert.Equal(t, 0, cve.ApplyOrder)
	assert.Equal(t, int64(202012345), cve.Cve)
	assert.Equal(t, "gedit-cve.diff", cve.TagFilename)

	assert.Equal(t, 3, unused.Number)
	assert.Equal(t, -1, unused.ApplyOrder)
	assert.True(t, unused.Disabled)
	assert.Equal(t, TagBlock{}, unused.TagBlock)

	for _, p := range spec.Patches {
		if !p.Disabled {
			assert.GreaterOrEqual(t, p.ApplyOrder, 0)
		}
	}
}

func TestAutosetupAppliesAllPatchesInDeclarationOrder(t *testing.T) {
	spec, err := Parse(strings.NewReader(`Name: foo
Version: 1
Patch10: ten.patch
Patch2: two.patch
Patch5: five.patch

%prep
%autosetup -p1
`))
	require.NoError(t, err)

	orders := []int{}
	for _, p := range spec.Patches {
		orders = append(orders, p.ApplyOrder)
		assert.False(t, p.Disabled)
	}
	assert.Equal(t, []int{0, 1, 2}, orders)
}

func TestAutopatchBounds(t *testing.T) {
	spec, err := Parse(strings.NewReader(`Name: foo
Patch1: one.patch
Patch2: two.patch
Patch100: hundred.patch

%prep
%autopatch -p1 -M 99
`))
	require.NoError(t, err)
	assert.Equal(t, 0, spec.Patches[0].ApplyOrder)
	assert.Equal(t, 1, spec.Patches[1].ApplyOrder)
	assert.True(t, spec.Patches[2].Disabled)
}

func TestSummaryBeforeName(t *testing.T) {
	spec, err := Parse(strings.NewReader(`Summary: Early summary
Name: early
Version: 1

%package extra
Summary: Extra bits
`))
	require.NoError(t, err)
	require.Len(t, spec.Packages, 2)
	assert.Equal(t, "early", spec.Packages[0].Name)
	assert.Equal(t, "Early summary", spec.Packages[0].Summary)
	assert.Equal(t, "Extra bits", spec.Packages[1].Summary)
}

func TestSummaryBufferIsClearedAfterFirstAttach(t *testing.T) {
	spec, err := Parse(strings.NewReader(`Summary: Buffered
%package -n first
%package -n second
`))
	require.NoError(t, err)
	require.Len(t, spec.Packages, 2)
	assert.Equal(t, "Buffered", spec.Packages[0].Summary)
	assert.Empty(t, spec.Packages[1].Summary)
}

func TestMacroExpansion(t *testing.T) {
	m := macros{"name": "foo", "ver": "%{major}.2", "major": "1"}

	assert.Equal(t, "foo-1.2", m.expand("%{name}-%{ver}"))
	assert.Equal(t, "foo-1.2", m.expand("%name-%ver"))
	assert.Equal(t, "x", m.expand("x%{?undefined}"))
	assert.Equal(t, "%{undefined}", m.expand("%{undefined}"))
	assert.Equal(t, "-y", m.expand("%{?name:-y}"))
	assert.Equal(t, "", m.expand("%{!?name:fallback}"))
	assert.Equal(t, "fallback", m.expand("%{!?other:fallback}"))

	loop := macros{"a": "%{a}a"}
	assert.NotPanics(t, func() { loop.expand("%{a}") })
}

func TestMultilineDefine(t *testing.T) {
	spec, err := Parse(strings.NewReader("%define longname foo\\\nbar\nName: x\nSummary: %{longname}\n"))
	require.NoError(t, err)
	require.Len(t, spec.Packages, 1)
	assert.Equal(t, "foo\nbar", spec.Packages[0].Summary)
}

func TestParseTag(t *testing.T) {
	tests := []struct {
		line string
		want TagBlock
	}{
		{
			line: "# PATCH-FIX-UPSTREAM: x.patch bsc#42 -- Fix x",
			want: TagBlock{Tag: "PATCH-FIX-UPSTREAM", TagFilename: "x.patch", Bnc: 42, ShortDescr: "Fix x"},
		},
		{
			line: "# PATCH-MISSING-TAG -- Fix y",
			want: TagBlock{Tag: "PATCH-MISSING-TAG", ShortDescr: "Fix y"},
		},
		{
			line: "# PATCH-FIX-OPENSUSE fate#310 bmo#11 bln#12 brc#13 cve#2019-0001 a@b.org Do things",
			want: TagBlock{Tag: "PATCH-FIX-OPENSUSE", Fate: 310, Bmo: 11, Bln: 12, Brc: 13, Cve: 20190001, ShortDescr: "Do things"},
		},
		{
			line: "# Fix the build with new gcc",
			want: TagBlock{ShortDescr: "Fix the build with new gcc"},
		},
		{
			line: "# PATCH-FIX-UPSTREAM bnc#1 bnc#2 keep first",
			want: TagBlock{Tag: "PATCH-FIX-UPSTREAM", Bnc: 1, ShortDescr: "keep first"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTag(tt.line))
		})
	}
}

func TestPatchNumbers(t *testing.T) {
	tests := []struct {
		line string
		want []int
	}{
		{line: "%patch0 -p1", want: []int{0}},
		{line: "%patch0 -p 1", want: []int{0}},
		{line: "%patch -P 2 -p 1", want: []int{2}},
		{line: "%patch -P3 -P 4", want: []int{3, 4}},
		{line: "%patch 5 -b .orig", want: []int{5}},
		{line: "%patch -F 3", want: []int{0}},
		{line: "%patch", want: []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, patchNumbers(tt.line))
		})
	}
}

const parentSpec = `Name: pkg2
Version: 1.0
Release: 0
%define flavor plain
Summary: A package

%build
make %{?_smp_mflags}

%changelog
* Mon Jan 01 2024 someone@example.org
- initial
`

func TestLenientEqual(t *testing.T) {
	child := `Name:   pkg2
Version: 1.0
Release: 42
# local comment
%define flavor plain
Summary:    A package

%build
make   %{?_smp_mflags}

%changelog
* Tue Jan 02 2024 other@example.org
- rebuilt
`
	assert.True(t, LenientEqual([]byte(parentSpec), []byte(child)))

	changedMacro := strings.Replace(child, "%define flavor plain", "%define flavor fancy", 1)
	assert.False(t, LenientEqual([]byte(parentSpec), []byte(changedMacro)))
}
