package tools

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/strandlabs/strand/internal/security"
	"github.com/strandlabs/strand/internal/testutil"
)

func newTestProject(t *testing.T) (*Project, string) {
	t.Helper()
	root := t.TempDir()
	paths, err := security.NewPath(root)
	if err != nil {
		t.Fatal(err)
	}
	p, err := NewProject(paths, testutil.DiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	return p, root
}

func TestNewProject(t *testing.T) {
	root := t.TempDir()
	paths, err := security.NewPath(root)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewProject(nil, testutil.DiscardLogger()); err == nil {
		t.Error("NewProject(nil validator) error = nil, want error")
	}
	if _, err := NewProject(paths, nil); err == nil {
		t.Error("NewProject(nil logger) error = nil, want error")
	}
	if _, err := NewProject(paths, testutil.DiscardLogger()); err != nil {
		t.Errorf("NewProject() error = %v", err)
	}
}

func TestProject_ReadFile(t *testing.T) {
	p, root := newTestProject(t)

	content := "package main\n\nfunc main() {}\n"
	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "docs"), 0o755); err != nil {
		t.Fatal(err)
	}

	t.Run("reads file", func(t *testing.T) {
		out, err := p.ReadFile(nil, ReadProjectFileInput{Path: "main.go"})
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		if out.Content != content {
			t.Errorf("Content = %q, want %q", out.Content, content)
		}
		if out.Size != int64(len(content)) {
			t.Errorf("Size = %d, want %d", out.Size, len(content))
		}
		if out.Truncated {
			t.Error("Truncated = true for small file")
		}
		if out.Path != "main.go" {
			t.Errorf("Path = %q, want the requested path echoed", out.Path)
		}
	})

	t.Run("traversal denied", func(t *testing.T) {
		_, err := p.ReadFile(nil, ReadProjectFileInput{Path: "../../../etc/passwd"})
		if err == nil {
			t.Fatal("ReadFile(traversal) error = nil, want error")
		}
		if !strings.Contains(err.Error(), "invalid path") {
			t.Errorf("error = %v, want invalid path", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := p.ReadFile(nil, ReadProjectFileInput{Path: "nope.txt"})
		if err == nil || !strings.Contains(err.Error(), "not found") {
			t.Errorf("ReadFile(missing) error = %v, want not found", err)
		}
	})

	t.Run("directory rejected", func(t *testing.T) {
		_, err := p.ReadFile(nil, ReadProjectFileInput{Path: "docs"})
		if err == nil || !strings.Contains(err.Error(), "directory") {
			t.Errorf("ReadFile(dir) error = %v, want directory error", err)
		}
	})

	t.Run("binary rejected", func(t *testing.T) {
		bin := append([]byte("ELF"), 0, 1, 2)
		if err := os.WriteFile(filepath.Join(root, "prog"), bin, 0o600); err != nil {
			t.Fatal(err)
		}
		_, err := p.ReadFile(nil, ReadProjectFileInput{Path: "prog"})
		if err == nil || !strings.Contains(err.Error(), "binary") {
			t.Errorf("ReadFile(binary) error = %v, want binary error", err)
		}
	})

	t.Run("oversized file truncated", func(t *testing.T) {
		big := bytes.Repeat([]byte("0123456789abcdef"), (MaxFileBytes/16)+8)
		if err := os.WriteFile(filepath.Join(root, "big.txt"), big, 0o600); err != nil {
			t.Fatal(err)
		}
		out, err := p.ReadFile(nil, ReadProjectFileInput{Path: "big.txt"})
		if err != nil {
			t.Fatalf("ReadFile(big) error = %v", err)
		}
		if !out.Truncated {
			t.Error("Truncated = false for oversized file")
		}
		if len(out.Content) != MaxFileBytes {
			t.Errorf("len(Content) = %d, want %d", len(out.Content), MaxFileBytes)
		}
		if out.Size != int64(len(big)) {
			t.Errorf("Size = %d, want full size %d", out.Size, len(big))
		}
	})
}
