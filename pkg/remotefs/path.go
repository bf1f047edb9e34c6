package remotefs

import (
	"errors"
	"strings"
)

// ErrEmptyFilename is returned by CompletePath when no file name is left
// after normalization.
var ErrEmptyFilename = errors.New("filename is empty")

// Normalize trims whitespace and strips exactly one leading and one trailing slash.
func Normalize(p string) string {
	d := strings.TrimSpace(p)
	d = strings.TrimPrefix(d, "/")
	d = strings.TrimSuffix(d, "/")
	return d
}

// IsAbsolute reports whether p starts with a slash once surrounding
// whitespace is removed.
func IsAbsolute(p string) bool {
	return strings.HasPrefix(strings.TrimSpace(p), "/")
}

// SplitPath normalizes p and returns its segments with empty and "."
// components removed.
func SplitPath(p string) []string {
	normalized := Normalize(p)
	if normalized == "" {
		return []string{}
	}
	parts := strings.Split(normalized, "/")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		segments = append(segments, part)
	}
	return segments
}

// CompletePath joins a directory and a file name. The result is absolute
// only when dir is.
func CompletePath(dir, filename string) (string, error) {
	name := Normalize(filename)
	if name == "" {
		return "", ErrEmptyFilename
	}

	var sb strings.Builder
	if IsAbsolute(dir) {
		sb.WriteByte('/')
	}
	sb.WriteString(Normalize(dir))
	if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "/") {
		sb.WriteByte('/')
	}
	sb.WriteString(name)
	return sb.String(), nil
}
