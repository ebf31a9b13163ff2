package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// ErrNoModelConfigured indicates no usable provider could be found for
// a generation: nothing was selected explicitly, the project file named
// no usable provider, and no provider key is present in the
// environment. Fatal to session creation, reported before streaming.
var ErrNoModelConfigured = errors.New("no model configured")

// Model provider identifiers used in Config.Provider and project files.
// ProviderGoogleAI is the Genkit plugin name gemini models register
// under; it is accepted as an alias for "gemini".
const (
	ProviderGemini   = "gemini"
	ProviderOpenAI   = "openai"
	ProviderOllama   = "ollama"
	ProviderGoogleAI = "googleai"
)

// Default models per provider, used when the environment supplies a key
// but no model preference.
const (
	DefaultGeminiModel = "gemini-2.5-flash"
	DefaultOpenAIModel = "gpt-4o-mini"
)

// Resolution is the outcome of the model resolution chain: the provider
// the session will run against and the bare model name.
type Resolution struct {
	Provider string
	Model    string
}

// FullName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "openai/gpt-4o-mini",
// "ollama/llama3.3".
func (r Resolution) FullName() string {
	switch r.Provider {
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + r.Model
	case ProviderOllama:
		return ProviderOllama + "/" + r.Model
	default:
		return ProviderGoogleAI + "/" + r.Model
	}
}

// Project is the per-directory model preference file (strand.yaml).
// Entries are ordered: the first whose provider is usable wins.
type Project struct {
	Models []ProjectModel `mapstructure:"models"`
}

// ProjectModel is one provider preference in a project file.
type ProjectModel struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

// projectFileName is looked up in the working directory unless
// Config.ProjectFile points elsewhere.
const projectFileName = "strand.yaml"

// ProjectPath returns the effective project file path: the configured
// override, or strand.yaml in the working directory.
func (c *Config) ProjectPath() string {
	if c.ProjectFile != "" {
		return c.ProjectFile
	}
	return projectFileName
}

// ResolveModel resolves which model a session will run against.
//
// The chain, first hit wins:
//  1. explicit selection ("provider/model" or a bare model name)
//  2. the project file's first entry whose provider is usable
//  3. the configured model preference (config file or STRAND_* env)
//  4. the first provider with a key in the environment
//
// When every step comes up empty the session cannot start:
// ErrNoModelConfigured.
func (c *Config) ResolveModel(explicit string) (Resolution, error) {
	if explicit != "" {
		return c.resolveSelection(explicit)
	}

	if res, ok := c.projectResolution(); ok {
		return res, nil
	}

	if c.ModelName != "" {
		provider := c.Provider
		if provider == "" {
			provider = ProviderGemini
		}
		if !knownProvider(provider) {
			return Resolution{}, fmt.Errorf("%w: %q", ErrInvalidProvider, provider)
		}
		return Resolution{Provider: normalizeProvider(provider), Model: c.ModelName}, nil
	}

	if res, ok := c.environmentResolution(); ok {
		return res, nil
	}

	return Resolution{}, ErrNoModelConfigured
}

// resolveSelection parses an explicit "provider/model" or bare model
// selection. A bare model name runs against the configured provider,
// falling back to gemini.
func (c *Config) resolveSelection(selection string) (Resolution, error) {
	if provider, model, ok := strings.Cut(selection, "/"); ok {
		if !knownProvider(provider) {
			return Resolution{}, fmt.Errorf("%w: %q", ErrInvalidProvider, provider)
		}
		if model == "" {
			return Resolution{}, fmt.Errorf("%w: selection %q names no model", ErrNoModelConfigured, selection)
		}
		return Resolution{Provider: normalizeProvider(provider), Model: model}, nil
	}

	provider := c.Provider
	if provider == "" {
		provider = ProviderGemini
	}
	if !knownProvider(provider) {
		return Resolution{}, fmt.Errorf("%w: %q", ErrInvalidProvider, provider)
	}
	return Resolution{Provider: normalizeProvider(provider), Model: selection}, nil
}

// projectResolution consults the project file, if one exists.
func (c *Config) projectResolution() (Resolution, bool) {
	project, err := LoadProject(c.ProjectPath())
	if err != nil || project == nil {
		return Resolution{}, false
	}

	for _, m := range project.Models {
		if m.Model == "" || !knownProvider(m.Provider) {
			continue
		}
		if providerUsable(m.Provider) {
			return Resolution{Provider: normalizeProvider(m.Provider), Model: m.Model}, true
		}
	}
	return Resolution{}, false
}

// environmentResolution picks the first provider whose key (or, for
// ollama, model name) is present in the environment.
func (c *Config) environmentResolution() (Resolution, bool) {
	if os.Getenv("GEMINI_API_KEY") != "" {
		return Resolution{Provider: ProviderGemini, Model: DefaultGeminiModel}, true
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return Resolution{Provider: ProviderOpenAI, Model: DefaultOpenAIModel}, true
	}
	if c.OllamaModel != "" {
		return Resolution{Provider: ProviderOllama, Model: c.OllamaModel}, true
	}
	return Resolution{}, false
}

// LoadProject reads a project file. A missing file is not an error; it
// returns (nil, nil).
func LoadProject(path string) (*Project, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checking project file: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading project file %s: %w", path, err)
	}

	var project Project
	if err := v.Unmarshal(&project); err != nil {
		return nil, fmt.Errorf("parsing project file %s: %w", path, err)
	}
	return &project, nil
}

func knownProvider(provider string) bool {
	switch provider {
	case ProviderGemini, ProviderGoogleAI, ProviderOpenAI, ProviderOllama:
		return true
	}
	return false
}

// normalizeProvider collapses the googleai alias onto gemini.
func normalizeProvider(provider string) string {
	if provider == ProviderGoogleAI {
		return ProviderGemini
	}
	return provider
}

// providerUsable reports whether a provider could serve a generation
// right now. Ollama is assumed reachable; it talks to a local server
// and fails at generation time if it is not.
func providerUsable(provider string) bool {
	switch provider {
	case ProviderGemini, ProviderGoogleAI:
		return os.Getenv("GEMINI_API_KEY") != ""
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY") != ""
	case ProviderOllama:
		return true
	}
	return false
}
