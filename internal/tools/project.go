package tools

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/strandlabs/strand/internal/security"
)

// ReadProjectFileName is the Genkit tool name for reading project files.
const ReadProjectFileName = "read_project_file"

// MaxFileBytes caps how much of a file read_project_file returns.
// Larger files are truncated and flagged, not rejected.
const MaxFileBytes = 256 << 10

// ReadProjectFileInput defines input for the read_project_file tool.
type ReadProjectFileInput struct {
	Path string `json:"path" jsonschema_description:"File path relative to the project root (e.g., 'README.md', 'src/main.go')"`
}

// ReadProjectFileOutput is the read_project_file tool result.
type ReadProjectFileOutput struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Size      int64  `json:"size"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Project provides file access confined to a project root.
type Project struct {
	paths  *security.Path
	logger *slog.Logger
}

// NewProject creates a Project toolset rooted at the validator's root.
func NewProject(paths *security.Path, logger *slog.Logger) (*Project, error) {
	if paths == nil {
		return nil, fmt.Errorf("path validator is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Project{paths: paths, logger: logger}, nil
}

// RegisterProject registers the project file tools with Genkit.
func RegisterProject(g *genkit.Genkit, p *Project) ([]ai.Tool, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if p == nil {
		return nil, fmt.Errorf("project is required")
	}

	return []ai.Tool{
		genkit.DefineTool(g, ReadProjectFileName,
			"Read a text file from the project directory. "+
				"Paths are relative to the project root; access outside the root is denied. "+
				"Returns the file content, its size in bytes, and whether the content was truncated. "+
				"Use this to inspect source files, configuration, or documentation the user refers to.",
			p.ReadFile),
	}, nil
}

// ReadFile reads a project file after path validation. Binary files
// are rejected, oversized files come back truncated.
func (p *Project) ReadFile(_ *ai.ToolContext, input ReadProjectFileInput) (ReadProjectFileOutput, error) {
	abs, err := p.paths.Validate(input.Path)
	if err != nil {
		p.logger.Warn("project file access denied", "path", input.Path, "error", err)
		return ReadProjectFileOutput{}, fmt.Errorf("invalid path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return ReadProjectFileOutput{}, fmt.Errorf("file not found: %s", input.Path)
		}
		return ReadProjectFileOutput{}, fmt.Errorf("stat %s: %w", input.Path, err)
	}
	if info.IsDir() {
		return ReadProjectFileOutput{}, fmt.Errorf("%s is a directory, not a file", input.Path)
	}

	f, err := os.Open(abs)
	if err != nil {
		return ReadProjectFileOutput{}, fmt.Errorf("open %s: %w", input.Path, err)
	}
	defer func() { _ = f.Close() }()

	// Read one byte past the cap to detect truncation without loading
	// the whole file.
	data, err := io.ReadAll(io.LimitReader(f, MaxFileBytes+1))
	if err != nil {
		return ReadProjectFileOutput{}, fmt.Errorf("read %s: %w", input.Path, err)
	}

	truncated := false
	if len(data) > MaxFileBytes {
		data = data[:MaxFileBytes]
		truncated = true
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return ReadProjectFileOutput{}, fmt.Errorf("%s looks like a binary file", input.Path)
	}

	return ReadProjectFileOutput{
		Path:      input.Path,
		Content:   strings.ToValidUTF8(string(data), ""),
		Size:      info.Size(),
		Truncated: truncated,
	}, nil
}
