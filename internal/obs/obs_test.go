package obs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryLinkDetection(t *testing.T) {
	tests := []struct {
		name   string
		xml    string
		isLink bool
	}{
		{
			name:   "no linkinfo",
			xml:    `<directory name="p" srcmd5="abc"><entry name="p.spec" md5="1" mtime="10"/></directory>`,
			isLink: false,
		},
		{
			name:   "one linkinfo with xsrcmd5",
			xml:    `<directory name="p" srcmd5="abc"><linkinfo project="A" package="p" srcmd5="s" xsrcmd5="x"/></directory>`,
			isLink: true,
		},
		{
			name:   "one linkinfo with lsrcmd5 only",
			xml:    `<directory name="p" srcmd5="abc"><linkinfo project="A" package="p" lsrcmd5="l"/></directory>`,
			isLink: true,
		},
		{
			name:   "linkinfo without md5s",
			xml:    `<directory name="p" srcmd5="abc"><linkinfo project="A" package="p"/></directory>`,
			isLink: false,
		},
		{
			name: "two linkinfo records",
			xml: `<directory name="p" srcmd5="abc">
				<linkinfo project="A" package="p" xsrcmd5="x"/>
				<linkinfo project="B" package="p" xsrcmd5="y"/>
			</directory>`,
			isLink: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDirectory([]byte(tt.xml))
			require.NoError(t, err)
			assert.Equal(t, tt.isLink, d.IsLink())
		})
	}
}

func TestDirectoryEntries(t *testing.T) {
	d, err := ParseDirectory([]byte(`<directory name="p" rev="3" srcmd5="abc">
		<entry name="p.changes" md5="c" size="10" mtime="100"/>
		<entry name="p.spec" md5="s" size="20" mtime="200"/>
	</directory>`))
	require.NoError(t, err)

	assert.Equal(t, "abc", d.Srcmd5)
	assert.Equal(t, []string{"p.changes", "p.spec"}, d.Names())

	e, ok := d.Entry("p.spec")
	require.True(t, ok)
	assert.Equal(t, Entry{Name: "p.spec", MD5: "s", Size: 20, Mtime: 200}, e)

	_, ok = d.Entry("missing")
	assert.False(t, ok)
}

func TestParseLinkPatches(t *testing.T) {
	l, err := ParseLink([]byte(`<link project="A" package="p"><patches><apply name="x.patch"/></patches></link>`))
	require.NoError(t, err)
	assert.Equal(t, "A", l.Project)
	assert.True(t, l.HasPatches())

	plain, err := ParseLink([]byte(`<link project="A" package="p"/>`))
	require.NoError(t, err)
	assert.False(t, plain.HasPatches())

	branch, err := ParseLink([]byte(`<link project="A"><patches><branch/></patches></link>`))
	require.NoError(t, err)
	assert.True(t, branch.HasPatches())
}

func TestPackageMetaDevelTarget(t *testing.T) {
	m, err := ParsePackageMeta([]byte(`<package name="gedit" project="openSUSE:Factory"><title>gedit</title><devel project="GNOME:Factory"/></package>`))
	require.NoError(t, err)

	project, pkg, ok := m.DevelTarget()
	require.True(t, ok)
	assert.Equal(t, "GNOME:Factory", project)
	assert.Equal(t, "gedit", pkg)

	none, err := ParsePackageMeta([]byte(`<package name="x" project="A"/>`))
	require.NoError(t, err)
	_, _, ok = none.DevelTarget()
	assert.False(t, ok)
}

func TestParseProjectStatus(t *testing.T) {
	s, err := ParseProjectStatus([]byte(`<packages>
		<package project="A" name="plain" srcmd5="s1" version="1.0"/>
		<package project="A" name="linked" srcmd5="s2" verifymd5="v2"><link project="B" package="linked"/></package>
	</packages>`))
	require.NoError(t, err)
	require.Len(t, s.Packages, 2)

	assert.False(t, s.Packages[0].IsLink())
	assert.True(t, s.Packages[1].IsLink())
	assert.Equal(t, "v2", s.Packages[1].ExpandedMD5())
}
