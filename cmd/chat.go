package cmd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "charm.land/bubbletea/v2"

	"github.com/strandlabs/strand/internal/client"
	"github.com/strandlabs/strand/internal/log"
	"github.com/strandlabs/strand/internal/tui"
)

// defaultServerAddr is where a locally started `strand serve` listens.
const defaultServerAddr = "127.0.0.1:3400"

// chatOptions holds the parsed `strand chat` flags.
type chatOptions struct {
	// server is the normalized base URL, e.g. "http://127.0.0.1:3400".
	server string

	// conversation pins the conversation to open. Empty resumes the
	// remembered one.
	conversation string

	// fresh starts a new conversation instead of resuming.
	fresh bool
}

// parseChatFlags parses `strand chat` flags from args.
func parseChatFlags(args []string) (chatOptions, error) {
	flags := flag.NewFlagSet("chat", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)

	server := flags.String("server", defaultServerAddr, "Server base URL or host:port")
	conversation := flags.String("conversation", "", "Conversation id to open")
	fresh := flags.Bool("new", false, "Start a fresh conversation")

	if err := flags.Parse(args); err != nil {
		return chatOptions{}, fmt.Errorf("parsing chat flags: %w", err)
	}

	base, err := normalizeServerURL(*server)
	if err != nil {
		return chatOptions{}, err
	}

	return chatOptions{
		server:       base,
		conversation: *conversation,
		fresh:        *fresh,
	}, nil
}

// normalizeServerURL turns a user-supplied address into a base URL.
// Accepts host:port, :port and full http(s) URLs; a bare port binds to
// the loopback host.
func normalizeServerURL(addr string) (string, error) {
	if addr == "" {
		return "", fmt.Errorf("server address is required")
	}
	if !strings.Contains(addr, "://") {
		if strings.HasPrefix(addr, ":") {
			addr = "127.0.0.1" + addr
		}
		addr = "http://" + addr
	}

	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid server address %q: %w", addr, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid server address %q: scheme must be http or https", addr)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server address %q: missing host", addr)
	}

	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// runChat initializes and starts the interactive client with Bubble Tea TUI.
func runChat() error {
	args := []string{}
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}
	opts, err := parseChatFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stateDir, err := client.DefaultStateDir()
	if err != nil {
		return fmt.Errorf("resolving state directory: %w", err)
	}
	st, err := client.LoadState(stateDir)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	conversationID := st.ConversationID
	switch {
	case opts.conversation != "":
		conversationID = opts.conversation
	case opts.fresh:
		conversationID = ""
	}

	// The TUI owns the terminal; client logs go to a file instead of
	// stderr so the alt screen stays intact.
	logger := log.NewNop()
	if os.Getenv("DEBUG") != "" {
		f, ferr := os.OpenFile(filepath.Join(stateDir, "chat.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if ferr == nil {
			defer f.Close()
			logger = log.NewWithWriter(f, log.Config{Level: slog.LevelDebug})
		}
	}

	registry := client.NewRegistry(client.RegistryConfig{
		BaseURL: opts.server,
		Logger:  logger,
		Cookie:  st.Cookie,
		CookieChanged: func(value string) {
			persistCookie(logger, stateDir, value)
		},
	})
	consumer := registry.RegisterOrGet(conversationID)

	model, err := tui.New(ctx, consumer)
	if err != nil {
		return fmt.Errorf("creating TUI: %w", err)
	}
	program := tea.NewProgram(model, tea.WithContext(ctx))

	if _, err = program.Run(); err != nil {
		return fmt.Errorf("TUI exited: %w", err)
	}

	persistConversation(stateDir, consumer.ID(), opts.fresh)
	return nil
}

// persistCookie stores a minted identity cookie as soon as the server
// hands it out, so a crash mid-session does not orphan the
// conversations it owns.
func persistCookie(logger log.Logger, dir, value string) {
	st, err := client.LoadState(dir)
	if err != nil {
		logger.Warn("loading state for cookie update", "error", err)
		st = client.State{}
	}
	st.Cookie = value
	if err := client.SaveState(dir, st); err != nil {
		logger.Warn("persisting identity cookie", "error", err)
	}
}

// persistConversation remembers the conversation for the next run. A
// provisional id means the server never saw this conversation; nothing
// to remember, though an explicit --new clears the previous one.
func persistConversation(dir, id string, fresh bool) {
	if client.IsProvisional(id) {
		if !fresh {
			return
		}
		if err := client.ClearConversation(dir); err != nil {
			slog.Warn("clearing remembered conversation", "error", err)
		}
		return
	}

	st, err := client.LoadState(dir)
	if err != nil {
		slog.Warn("loading state", "error", err)
		st = client.State{}
	}
	st.ConversationID = id
	if err := client.SaveState(dir, st); err != nil {
		slog.Warn("persisting conversation id", "error", err)
	}
}
