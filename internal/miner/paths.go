package miner

import (
	"fmt"
	"path/filepath"
	"strings"
)

// normalize returns the absolute, cleaned form of path.
func normalize(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

// under reports whether p is prefix or lies beneath it.
func under(prefix, p string) bool {
	if p == prefix {
		return true
	}
	if strings.HasSuffix(prefix, string(filepath.Separator)) {
		return strings.HasPrefix(p, prefix)
	}
	return strings.HasPrefix(p, prefix+string(filepath.Separator))
}

// isDirectChild reports whether p is an immediate child of dir.
func isDirectChild(dir, p string) bool {
	return p != dir && filepath.Dir(p) == dir
}
