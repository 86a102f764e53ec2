package filestore

import (
	"path"
	"strings"

	"github.com/mir-akbar/codecollab/sessions"
)

// ignoredSegments are archive housekeeping entries that are silently
// skipped during ingestion.
var ignoredSegments = map[string]bool{
	"__MACOSX":  true,
	".DS_Store": true,
	"Thumbs.db": true,
}

// NormalizePath converts a client-supplied path into the canonical
// stored form: forward slashes, no leading slash, no dot-dot segments.
func NormalizePath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "", sessions.E(sessions.KindValidation, "file path is required")
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", sessions.E(sessions.KindValidation, "file path may not contain ..")
		}
		if seg == "" || seg == "." {
			return "", sessions.E(sessions.KindValidation, "file path contains an empty segment")
		}
	}
	return p, nil
}

// Ignored reports whether an archive entry path falls under the
// ignore policy.
func Ignored(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if ignoredSegments[seg] {
			return true
		}
	}
	return strings.HasPrefix(path.Base(p), "._")
}

// Extension returns the lower-cased extension including the dot
func Extension(p string) string {
	return strings.ToLower(path.Ext(p))
}

// ParentFolder returns the containing folder path, nil for root files
func ParentFolder(p string) *string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return nil
	}
	return &dir
}

func extensionAllowed(p string, allowed []string) bool {
	ext := Extension(p)
	for _, a := range allowed {
		if ext == a {
			return true
		}
	}
	return false
}
