package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/strandlabs/strand/db"
	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/config"
	"github.com/strandlabs/strand/internal/conversation"
	"github.com/strandlabs/strand/internal/log"
	"github.com/strandlabs/strand/internal/sqlc"
	"github.com/strandlabs/strand/internal/tools"
)

// defaultSystemPrompt frames every session this backend starts.
const defaultSystemPrompt = `You are strand, an assistant running in a developer's terminal.

Be direct, accurate and concise. Use the available tools when they
help: check the clock instead of guessing at dates, read project files
instead of assuming their contents, fetch web pages when asked about
them. When a tool fails, say so and continue with what you know.

Format answers in Markdown.`

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
//
// A nil logger falls back to slog.Default via log.New's zero config.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = log.New(log.Config{})
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	secret, err := provideHMACSecret(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.HMACSecret = secret

	// Genkit and the store are independent; the store side runs
	// migrations and dials PostgreSQL, so initialize both at once.
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		g, err := provideGenkit(egCtx, cfg, logger)
		if err != nil {
			return err
		}
		a.Genkit = g
		return nil
	})
	eg.Go(func() error {
		return provideStore(egCtx, a, logger)
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	a.Registry = agent.NewRegistry(logger.With("component", "registry"))

	if err := provideTools(a, logger); err != nil {
		return nil, err
	}

	a.SystemPrompt = defaultSystemPrompt
	return a, nil
}

// provideHMACSecret returns the cookie-signing key. A configured
// secret is used as-is; dev mode without one gets an ephemeral random
// key, which resets every anonymous identity on restart. Prod without
// a secret is rejected (Validate already refuses it, this is the
// backstop for configs built in code).
func provideHMACSecret(cfg *config.Config, logger log.Logger) ([]byte, error) {
	if cfg.HMACSecret != "" {
		return []byte(cfg.HMACSecret), nil
	}
	if cfg.Mode == config.ModeProd {
		return nil, fmt.Errorf("%w: set STRAND_HMAC_SECRET", config.ErrMissingHMACSecret)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating ephemeral cookie secret: %w", err)
	}
	logger.Info("dev mode: ephemeral cookie secret, identities reset on restart")
	return secret, nil
}

// provideGenkit initializes Genkit with every provider the environment
// can serve. The model is resolved per session (config.ResolveModel),
// so unlike a fixed single-provider setup all usable plugins register
// up front and each session picks among them by full model name.
//
// The cloud plugins refuse to initialize without their key, so each
// joins only when its key is present. Ollama talks to a local server
// and always registers; its models have no auto-discovery and need
// explicit definitions.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
	providers := []string{config.ProviderOllama}

	hasGemini := os.Getenv("GEMINI_API_KEY") != ""
	hasOpenAI := os.Getenv("OPENAI_API_KEY") != ""

	var g *genkit.Genkit
	switch {
	case hasGemini && hasOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin, &googlegenai.GoogleAI{}, &openai.OpenAI{}))
		providers = append(providers, config.ProviderGemini, config.ProviderOpenAI)
	case hasGemini:
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin, &googlegenai.GoogleAI{}))
		providers = append(providers, config.ProviderGemini)
	case hasOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin, &openai.OpenAI{}))
		providers = append(providers, config.ProviderOpenAI)
	default:
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
	}
	if g == nil {
		return nil, errors.New("initializing genkit")
	}

	models := ollamaModels(cfg)
	for _, name := range models {
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: name,
			Type: "chat",
		}, nil)
	}

	logger.Info("initialized genkit",
		"providers", providers,
		"ollama_host", cfg.OllamaHost,
		"ollama_models", models)
	return g, nil
}

// ollamaModels collects every ollama model the configuration can
// resolve to: the dedicated ollama_model setting, model_name when the
// preference points at ollama, and any ollama entries in the project
// file. A model requested explicitly beyond these fails at generation
// time with an error envelope, not at boot.
func ollamaModels(cfg *config.Config) []string {
	var names []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	add(cfg.OllamaModel)
	if cfg.Provider == config.ProviderOllama {
		add(cfg.ModelName)
	}
	if project, err := config.LoadProject(cfg.ProjectPath()); err == nil && project != nil {
		for _, m := range project.Models {
			if m.Provider == config.ProviderOllama {
				add(m.Model)
			}
		}
	}
	return names
}

// provideStore picks the persistence backend: PostgreSQL in prod and
// whenever DATABASE_URL is set, the in-memory store otherwise.
func provideStore(ctx context.Context, a *App, logger log.Logger) error {
	cfg := a.Config
	if cfg.Mode != config.ModeProd && os.Getenv("DATABASE_URL") == "" {
		logger.Info("conversations held in memory; set DATABASE_URL to persist them")
		a.Store = conversation.NewMemoryStore()
		return nil
	}

	pool, cleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	a.Pool = pool
	a.dbCleanup = cleanup
	a.Store = conversation.New(sqlc.New(pool), pool, logger.With("component", "store"))
	return nil
}

// provideDBPool runs migrations and creates a PostgreSQL connection
// pool configured with sensible defaults for connection management.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	cleanup := func() {
		pool.Close()
	}

	return pool, cleanup, nil
}

// provideTools registers the shipped tool kit. The project root for
// read_project_file is the backend's working directory.
func provideTools(a *App, logger log.Logger) error {
	kit, err := tools.Register(a.Genkit, tools.Config{
		ProjectRoot: ".",
		Logger:      logger.With("component", "tools"),
	})
	if err != nil {
		return fmt.Errorf("registering tools: %w", err)
	}
	a.Tools = kit

	logger.Debug("tools registered at construction", "count", len(kit))
	return nil
}
