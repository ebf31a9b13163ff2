package tools

import (
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/strandlabs/strand/internal/security"
)

// Config configures the assembled tool kit.
type Config struct {
	// ProjectRoot is the directory read_project_file is confined to.
	// Empty disables that tool.
	ProjectRoot string
	Logger      *slog.Logger
}

// Register defines every shipped tool on g and returns the handles in
// registration order. Sessions look tools up by name, so the returned
// slice is informational; passing it along keeps the set explicit.
func Register(g *genkit.Genkit, cfg Config) ([]ai.Tool, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	var all []ai.Tool

	clock, err := NewClock(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("clock toolset: %w", err)
	}
	clockTools, err := RegisterClock(g, clock)
	if err != nil {
		return nil, fmt.Errorf("register clock: %w", err)
	}
	all = append(all, clockTools...)

	web, err := NewWeb(security.NewURL(), cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("web toolset: %w", err)
	}
	webTools, err := RegisterWeb(g, web)
	if err != nil {
		return nil, fmt.Errorf("register web: %w", err)
	}
	all = append(all, webTools...)

	if cfg.ProjectRoot != "" {
		paths, err := security.NewPath(cfg.ProjectRoot)
		if err != nil {
			return nil, fmt.Errorf("project root: %w", err)
		}
		project, err := NewProject(paths, cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("project toolset: %w", err)
		}
		projectTools, err := RegisterProject(g, project)
		if err != nil {
			return nil, fmt.Errorf("register project: %w", err)
		}
		all = append(all, projectTools...)
	}

	return all, nil
}
