// Package ignore decides which filesystem entries are excluded from
// mirroring and maintains the ignore file inside the mirror repository.
package ignore

import (
	"path/filepath"
	"strings"
)

// Match reports whether path is excluded by any of the given patterns.
// Both the path and each pattern are normalized to be relative to
// baseDir before matching, since patterns are authored relative to the
// base (typically the home directory).
//
// Matching is deliberately permissive: a pattern matches when it globs
// any slash-separated suffix segment of the normalized path, or when it
// occurs in the path as a plain substring. This catches patterns like
// "*.log" at any directory depth and is looser than anchored gitignore
// semantics on purpose.
func Match(path string, patterns []string, baseDir string) bool {
	p := normalize(path, baseDir)
	if p == "" {
		return false
	}

	for _, pattern := range patterns {
		pat := normalize(pattern, baseDir)
		if pat == "" {
			continue
		}
		if matchOne(p, pat) {
			return true
		}
	}
	return false
}

// matchOne matches a single normalized pattern against a normalized path.
func matchOne(path, pattern string) bool {
	// Glob match against the full path and every path suffix, so a
	// pattern without slashes applies at any depth.
	segments := strings.Split(path, "/")
	for i := range segments {
		suffix := strings.Join(segments[i:], "/")
		if ok, err := filepath.Match(pattern, suffix); err == nil && ok {
			return true
		}
		// A directory pattern also excludes everything beneath it.
		if ok, err := filepath.Match(pattern, segments[i]); err == nil && ok {
			return true
		}
	}

	// Fall back to plain substring containment.
	return strings.Contains(path, pattern)
}

// normalize strips a leading baseDir (or "~/") prefix and cleans the
// result to slash-separated relative form.
func normalize(p, baseDir string) string {
	p = filepath.ToSlash(filepath.Clean(p))
	base := filepath.ToSlash(filepath.Clean(baseDir))

	if base != "" && base != "." {
		if p == base {
			return ""
		}
		p = strings.TrimPrefix(p, base+"/")
	}
	p = strings.TrimPrefix(p, "~/")
	p = strings.TrimPrefix(p, "./")
	return strings.TrimPrefix(p, "/")
}
