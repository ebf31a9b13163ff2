package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/genkit"

	"github.com/strandlabs/strand/internal/config"
	"github.com/strandlabs/strand/internal/conversation"
	"github.com/strandlabs/strand/internal/log"
	"github.com/strandlabs/strand/internal/tools"
)

// devConfig returns a configuration Setup can complete without any
// provider key, database or network.
func devConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("DATABASE_URL", "")
	return &config.Config{
		Mode:        config.ModeDev,
		OllamaHost:  "http://localhost:11434",
		OllamaModel: "llama3.3",
		ProjectFile: filepath.Join(t.TempDir(), "absent.yaml"),
	}
}

func TestSetupDevMode(t *testing.T) {
	cfg := devConfig(t)

	a, err := Setup(context.Background(), cfg, log.NewNop())
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	if a.Genkit == nil {
		t.Fatal("Genkit not initialized")
	}
	if _, ok := a.Store.(*conversation.MemoryStore); !ok {
		t.Errorf("Store = %T, want *conversation.MemoryStore in dev mode", a.Store)
	}
	if a.Pool != nil {
		t.Errorf("Pool = %v, want nil without a database", a.Pool)
	}
	if a.Registry == nil {
		t.Fatal("Registry not initialized")
	}
	if n := a.Registry.Len(); n != 0 {
		t.Errorf("Registry.Len() = %d, want 0", n)
	}
	if len(a.HMACSecret) != 32 {
		t.Errorf("len(HMACSecret) = %d, want 32", len(a.HMACSecret))
	}
	if a.SystemPrompt == "" {
		t.Error("SystemPrompt is empty")
	}

	names := make(map[string]bool)
	for _, tool := range a.Tools {
		names[tool.Name()] = true
	}
	for _, want := range []string{tools.CurrentTimeName, tools.FetchWebpageName, tools.ReadProjectFileName} {
		if !names[want] {
			t.Errorf("tool %q not registered, have %v", want, names)
		}
	}

	// The configured ollama model must be resolvable by full name;
	// ollama has no auto-discovery.
	if m := genkit.LookupModel(a.Genkit, "ollama/llama3.3"); m == nil {
		t.Error("LookupModel(ollama/llama3.3) = nil, want registered model")
	}
}

func TestSetupPingerIsUntypedNil(t *testing.T) {
	cfg := devConfig(t)

	a, err := Setup(context.Background(), cfg, log.NewNop())
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer a.Close()

	// A plain interface conversion of the nil pool would be non-nil and
	// flip the readiness probe into pinging nothing.
	if p := a.Pinger(); p != nil {
		t.Errorf("Pinger() = %#v, want untyped nil", p)
	}
}

func TestSetupNilConfig(t *testing.T) {
	_, err := Setup(context.Background(), nil, log.NewNop())
	if !errors.Is(err, config.ErrConfigNil) {
		t.Errorf("Setup(nil) error = %v, want ErrConfigNil", err)
	}
}

func TestSetupProdWithoutSecret(t *testing.T) {
	cfg := devConfig(t)
	cfg.Mode = config.ModeProd

	// Fails on the missing secret before any database dial.
	_, err := Setup(context.Background(), cfg, log.NewNop())
	if !errors.Is(err, config.ErrMissingHMACSecret) {
		t.Errorf("Setup() error = %v, want ErrMissingHMACSecret", err)
	}
}

func TestSetupUsesConfiguredSecret(t *testing.T) {
	cfg := devConfig(t)
	cfg.HMACSecret = strings.Repeat("k", 32)

	a, err := Setup(context.Background(), cfg, log.NewNop())
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer a.Close()

	if string(a.HMACSecret) != cfg.HMACSecret {
		t.Errorf("HMACSecret = %q, want the configured value", a.HMACSecret)
	}
}

func TestProvideHMACSecret(t *testing.T) {
	t.Run("dev generates distinct ephemeral keys", func(t *testing.T) {
		cfg := &config.Config{Mode: config.ModeDev}
		first, err := provideHMACSecret(cfg, log.NewNop())
		if err != nil {
			t.Fatalf("provideHMACSecret() error = %v", err)
		}
		second, err := provideHMACSecret(cfg, log.NewNop())
		if err != nil {
			t.Fatalf("provideHMACSecret() error = %v", err)
		}
		if len(first) != 32 || len(second) != 32 {
			t.Errorf("secret lengths = %d, %d, want 32", len(first), len(second))
		}
		if bytes.Equal(first, second) {
			t.Error("two ephemeral secrets are identical")
		}
	})

	t.Run("configured secret wins in any mode", func(t *testing.T) {
		cfg := &config.Config{Mode: config.ModeProd, HMACSecret: strings.Repeat("p", 32)}
		secret, err := provideHMACSecret(cfg, log.NewNop())
		if err != nil {
			t.Fatalf("provideHMACSecret() error = %v", err)
		}
		if string(secret) != cfg.HMACSecret {
			t.Errorf("secret = %q, want configured value", secret)
		}
	})

	t.Run("prod without secret rejected", func(t *testing.T) {
		cfg := &config.Config{Mode: config.ModeProd}
		if _, err := provideHMACSecret(cfg, log.NewNop()); !errors.Is(err, config.ErrMissingHMACSecret) {
			t.Errorf("provideHMACSecret() error = %v, want ErrMissingHMACSecret", err)
		}
	})
}

func TestOllamaModels(t *testing.T) {
	absent := filepath.Join(t.TempDir(), "absent.yaml")

	projectWithOllama := filepath.Join(t.TempDir(), "strand.yaml")
	content := "models:\n  - provider: ollama\n    model: qwen2.5-coder\n  - provider: gemini\n    model: gemini-2.5-pro\n"
	if err := os.WriteFile(projectWithOllama, []byte(content), 0o600); err != nil {
		t.Fatalf("writing project file: %v", err)
	}

	tests := []struct {
		name string
		cfg  *config.Config
		want []string
	}{
		{
			name: "nothing configured",
			cfg:  &config.Config{ProjectFile: absent},
			want: nil,
		},
		{
			name: "dedicated ollama model",
			cfg:  &config.Config{OllamaModel: "llama3.3", ProjectFile: absent},
			want: []string{"llama3.3"},
		},
		{
			name: "model preference counts only for ollama provider",
			cfg:  &config.Config{Provider: config.ProviderGemini, ModelName: "gemini-2.5-flash", ProjectFile: absent},
			want: nil,
		},
		{
			name: "ollama preference added and deduplicated",
			cfg: &config.Config{
				Provider:    config.ProviderOllama,
				ModelName:   "llama3.3",
				OllamaModel: "llama3.3",
				ProjectFile: absent,
			},
			want: []string{"llama3.3"},
		},
		{
			name: "project file ollama entries included",
			cfg:  &config.Config{OllamaModel: "llama3.3", ProjectFile: projectWithOllama},
			want: []string{"llama3.3", "qwen2.5-coder"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ollamaModels(tt.cfg)
			if len(got) != len(tt.want) {
				t.Fatalf("ollamaModels() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ollamaModels()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestAppCloseNilSafety(t *testing.T) {
	tests := []struct {
		name string
		app  *App
	}{
		{"zero value", &App{}},
		{"logger only", &App{Logger: log.NewNop()}},
		{"cleanup only", &App{dbCleanup: func() {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.app.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
		})
	}
}

func TestAppCloseIdempotent(t *testing.T) {
	cfg := devConfig(t)

	a, err := Setup(context.Background(), cfg, log.NewNop())
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
