package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Path confines file access to a single root directory. It prevents
// path traversal attacks (CWE-22), including escapes through symbolic
// links.
type Path struct {
	root string
}

// NewPath creates a validator rooted at dir. The directory must exist;
// symlinks in the root itself are resolved up front so containment
// checks compare real paths.
func NewPath(dir string) (*Path, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", dir, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("root directory %s: %w", abs, err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return nil, fmt.Errorf("root directory %s: %w", real, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", real)
	}
	return &Path{root: real}, nil
}

// Root returns the resolved root directory.
func (p *Path) Root() string { return p.root }

// Validate resolves path and returns its absolute form. Relative paths
// are interpreted against the root, not the process working directory.
// It fails when the cleaned path or its symlink-resolved form leaves
// the root.
//
// A path whose target does not exist yet passes as long as it stays
// inside the root, so callers that create files can validate first.
func (p *Path) Validate(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(p.root, abs)
	}
	abs = filepath.Clean(abs)
	if !p.contains(abs) {
		return "", fmt.Errorf("access denied: %s is outside %s", abs, p.root)
	}

	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return abs, nil
		}
		return "", fmt.Errorf("resolve %s: %w", abs, err)
	}
	if real != abs && !p.contains(real) {
		return "", fmt.Errorf("access denied: %s resolves outside %s", path, p.root)
	}
	return real, nil
}

func (p *Path) contains(abs string) bool {
	if abs == p.root {
		return true
	}
	return strings.HasPrefix(abs, p.root+string(filepath.Separator))
}
