package facts

import (
	"errors"
	"path"
	"strings"
)

var (
	ErrAbsolutePath = errors.New("absolute path")
	ErrBackslash    = errors.New("backslash in path")
	ErrEmptyPath    = errors.New("empty path")
	ErrEscapesRoot  = errors.New("path escapes project root")
)

// CanonicalPath validates and cleans a project-relative path. It never
// converts an absolute path into a relative one: doing so would need the
// producer's root, which this layer does not know.
func CanonicalPath(p string) (string, error) {
	if p == "" {
		return "", ErrEmptyPath
	}
	if strings.Contains(p, `\`) {
		return "", ErrBackslash
	}
	if strings.HasPrefix(p, "/") || isDrivePath(p) {
		return "", ErrAbsolutePath
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrEscapesRoot
	}
	return clean, nil
}

func isDrivePath(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
