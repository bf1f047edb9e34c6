package remotefs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"":        "",
		"foo":     "foo",
		"/foo":    "foo",
		"foo/":    "foo",
		" /a/b/ ": "a/b",
		"//a//":   "/a/",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
}

func TestNormalizeIsIdempotentOnSingleSlashes(t *testing.T) {
	for _, p := range []string{"", "a", "/a/b", "a/b/", " x/y "} {
		once := Normalize(p)
		assert.Equal(t, once, Normalize(once))
	}
}

func TestSplitPathDropsEmptyAndDotSegments(t *testing.T) {
	assert.Equal(t, []string{}, SplitPath(""))
	assert.Equal(t, []string{"a", "b"}, SplitPath("/a/./b/"))
	assert.Equal(t, []string{"a", "b"}, SplitPath("a//b"))
	assert.Equal(t, []string{"..", "c"}, SplitPath("../c"))
}

func TestIsAbsolute(t *testing.T) {
	assert.True(t, IsAbsolute("/"))
	assert.True(t, IsAbsolute("  /a"))
	assert.False(t, IsAbsolute("a/b"))
	assert.False(t, IsAbsolute("   "))
}

func TestCompletePath(t *testing.T) {
	cases := []struct {
		dir, file, want string
	}{
		{"", "file", "file"},
		{"", "/file", "file"},
		{"/dir", "/file", "/dir/file"},
		{"dir", "/file", "dir/file"},
		{"/dir", "file", "/dir/file"},
		{"/dir/", "/file", "/dir/file"},
		{"/", "file", "/file"},
	}
	for _, tc := range cases {
		got, err := CompletePath(tc.dir, tc.file)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "CompletePath(%q, %q)", tc.dir, tc.file)
	}
}

func TestCompletePathRejectsEmptyFilename(t *testing.T) {
	_, err := CompletePath("", "")
	require.ErrorIs(t, err, ErrEmptyFilename)

	_, err = CompletePath("dir", "/")
	require.ErrorIs(t, err, ErrEmptyFilename)
}
