package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
}

func writeProjectFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strand.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing project file: %v", err)
	}
	return path
}

func TestResolveModelExplicitSelection(t *testing.T) {
	clearProviderEnv(t)
	cfg := &Config{}

	t.Run("provider qualified", func(t *testing.T) {
		res, err := cfg.ResolveModel("openai/gpt-4o")
		if err != nil {
			t.Fatalf("ResolveModel() error = %v", err)
		}
		if res.Provider != ProviderOpenAI || res.Model != "gpt-4o" {
			t.Errorf("ResolveModel() = %+v, want openai/gpt-4o", res)
		}
		if res.FullName() != "openai/gpt-4o" {
			t.Errorf("FullName() = %q, want %q", res.FullName(), "openai/gpt-4o")
		}
	})

	t.Run("bare model uses configured provider", func(t *testing.T) {
		cfg := &Config{Provider: ProviderOllama}
		res, err := cfg.ResolveModel("llama3.3")
		if err != nil {
			t.Fatalf("ResolveModel() error = %v", err)
		}
		if res.Provider != ProviderOllama || res.Model != "llama3.3" {
			t.Errorf("ResolveModel() = %+v, want ollama/llama3.3", res)
		}
	})

	t.Run("bare model defaults to gemini", func(t *testing.T) {
		res, err := cfg.ResolveModel("gemini-2.5-pro")
		if err != nil {
			t.Fatalf("ResolveModel() error = %v", err)
		}
		if res.Provider != ProviderGemini {
			t.Errorf("Provider = %q, want %q", res.Provider, ProviderGemini)
		}
		if res.FullName() != "googleai/gemini-2.5-pro" {
			t.Errorf("FullName() = %q, want %q", res.FullName(), "googleai/gemini-2.5-pro")
		}
	})

	t.Run("unknown provider rejected", func(t *testing.T) {
		if _, err := cfg.ResolveModel("anthropic/claude"); !errors.Is(err, ErrInvalidProvider) {
			t.Errorf("ResolveModel() error = %v, want ErrInvalidProvider", err)
		}
	})

	t.Run("explicit wins over everything", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "key")
		cfg := &Config{Provider: ProviderGemini, ModelName: "gemini-2.5-flash"}
		res, err := cfg.ResolveModel("openai/gpt-4o-mini")
		if err != nil {
			t.Fatalf("ResolveModel() error = %v", err)
		}
		if res.Provider != ProviderOpenAI {
			t.Errorf("Provider = %q, want %q", res.Provider, ProviderOpenAI)
		}
	})
}

func TestResolveModelProjectFile(t *testing.T) {
	clearProviderEnv(t)

	t.Run("first usable entry wins", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "key")
		path := writeProjectFile(t, `
models:
  - provider: gemini
    model: gemini-2.5-pro
  - provider: openai
    model: gpt-4o-mini
`)
		cfg := &Config{ProjectFile: path}

		// No gemini key: the gemini entry is skipped.
		res, err := cfg.ResolveModel("")
		if err != nil {
			t.Fatalf("ResolveModel() error = %v", err)
		}
		if res.Provider != ProviderOpenAI || res.Model != "gpt-4o-mini" {
			t.Errorf("ResolveModel() = %+v, want openai/gpt-4o-mini", res)
		}
	})

	t.Run("project wins over configured preference", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "key")
		path := writeProjectFile(t, "models:\n  - provider: gemini\n    model: gemini-2.5-pro\n")
		cfg := &Config{ProjectFile: path, Provider: ProviderOpenAI, ModelName: "gpt-4o"}

		res, err := cfg.ResolveModel("")
		if err != nil {
			t.Fatalf("ResolveModel() error = %v", err)
		}
		if res.Model != "gemini-2.5-pro" {
			t.Errorf("Model = %q, want project file's %q", res.Model, "gemini-2.5-pro")
		}
	})

	t.Run("missing file falls through", func(t *testing.T) {
		cfg := &Config{
			ProjectFile: filepath.Join(t.TempDir(), "absent.yaml"),
			Provider:    ProviderOllama,
			ModelName:   "llama3.3",
		}
		res, err := cfg.ResolveModel("")
		if err != nil {
			t.Fatalf("ResolveModel() error = %v", err)
		}
		if res.Provider != ProviderOllama {
			t.Errorf("Provider = %q, want %q", res.Provider, ProviderOllama)
		}
	})
}

func TestResolveModelEnvironment(t *testing.T) {
	t.Run("gemini key", func(t *testing.T) {
		clearProviderEnv(t)
		t.Setenv("GEMINI_API_KEY", "key")
		cfg := &Config{ProjectFile: filepath.Join(t.TempDir(), "absent.yaml")}

		res, err := cfg.ResolveModel("")
		if err != nil {
			t.Fatalf("ResolveModel() error = %v", err)
		}
		if res.Provider != ProviderGemini || res.Model != DefaultGeminiModel {
			t.Errorf("ResolveModel() = %+v, want gemini default", res)
		}
	})

	t.Run("openai key", func(t *testing.T) {
		clearProviderEnv(t)
		t.Setenv("OPENAI_API_KEY", "key")
		cfg := &Config{ProjectFile: filepath.Join(t.TempDir(), "absent.yaml")}

		res, err := cfg.ResolveModel("")
		if err != nil {
			t.Fatalf("ResolveModel() error = %v", err)
		}
		if res.Provider != ProviderOpenAI || res.Model != DefaultOpenAIModel {
			t.Errorf("ResolveModel() = %+v, want openai default", res)
		}
	})

	t.Run("ollama model configured", func(t *testing.T) {
		clearProviderEnv(t)
		cfg := &Config{
			ProjectFile: filepath.Join(t.TempDir(), "absent.yaml"),
			OllamaModel: "llama3.3",
		}

		res, err := cfg.ResolveModel("")
		if err != nil {
			t.Fatalf("ResolveModel() error = %v", err)
		}
		if res.Provider != ProviderOllama || res.Model != "llama3.3" {
			t.Errorf("ResolveModel() = %+v, want ollama/llama3.3", res)
		}
	})
}

func TestResolveModelNothingConfigured(t *testing.T) {
	clearProviderEnv(t)
	cfg := &Config{ProjectFile: filepath.Join(t.TempDir(), "absent.yaml")}

	_, err := cfg.ResolveModel("")
	if !errors.Is(err, ErrNoModelConfigured) {
		t.Errorf("ResolveModel() error = %v, want ErrNoModelConfigured", err)
	}
}

func TestProjectPath(t *testing.T) {
	if got := (&Config{}).ProjectPath(); got != projectFileName {
		t.Errorf("ProjectPath() = %q, want %q", got, projectFileName)
	}
	if got := (&Config{ProjectFile: "/tmp/other.yaml"}).ProjectPath(); got != "/tmp/other.yaml" {
		t.Errorf("ProjectPath() = %q, want configured override", got)
	}
}

func TestLoadProject(t *testing.T) {
	t.Run("missing file is nil, nil", func(t *testing.T) {
		project, err := LoadProject(filepath.Join(t.TempDir(), "absent.yaml"))
		if err != nil {
			t.Fatalf("LoadProject() error = %v", err)
		}
		if project != nil {
			t.Errorf("LoadProject() = %+v, want nil", project)
		}
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		path := writeProjectFile(t, "models: [unclosed")
		if _, err := LoadProject(path); err == nil {
			t.Error("LoadProject() error = nil, want parse error")
		}
	})
}
