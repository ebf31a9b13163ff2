package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/strandlabs/strand/internal/client"
	"github.com/strandlabs/strand/internal/conversation"
)

// identityCookieName is the server's identity cookie; sending it back
// scopes list and delete to this installation's conversations.
const identityCookieName = "strand_uid"

// conversationsTimeout bounds each conversations API call.
const conversationsTimeout = 10 * time.Second

// conversationsCommand holds the parsed `strand conversations` invocation.
type conversationsCommand struct {
	action string // "list" or "delete"
	id     string
	server string
}

// parseConversationsArgs parses `strand conversations <action>` from args.
// Supports:
//   - strand conversations list [--server addr]
//   - strand conversations delete <id> [--server addr]
//   - strand conversations delete --server addr <id>
func parseConversationsArgs(args []string) (conversationsCommand, error) {
	if len(args) == 0 {
		return conversationsCommand{}, errors.New("usage: strand conversations <list|delete <id>> [--server addr]")
	}

	cmd := conversationsCommand{action: args[0]}
	rest := args[1:]

	switch cmd.action {
	case "list":
	case "delete":
		// Check for positional argument first (strand conversations delete <id> --server ...)
		if len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
			cmd.id = rest[0]
			rest = rest[1:]
		}
	default:
		return conversationsCommand{}, fmt.Errorf("unknown conversations action: %s", cmd.action)
	}

	flags := flag.NewFlagSet("conversations", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)
	server := flags.String("server", defaultServerAddr, "Server base URL or host:port")

	if err := flags.Parse(rest); err != nil {
		return conversationsCommand{}, fmt.Errorf("parsing conversations flags: %w", err)
	}
	if cmd.action == "delete" && cmd.id == "" {
		if flags.NArg() == 0 {
			return conversationsCommand{}, errors.New("usage: strand conversations delete <id>")
		}
		cmd.id = flags.Arg(0)
	}

	base, err := normalizeServerURL(*server)
	if err != nil {
		return conversationsCommand{}, err
	}
	cmd.server = base
	return cmd, nil
}

// runConversations executes the conversations command, writing human
// output to out.
func runConversations(out io.Writer) error {
	args := []string{}
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}
	cmd, err := parseConversationsArgs(args)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, conversationsTimeout)
	defer cancelTimeout()

	stateDir, err := client.DefaultStateDir()
	if err != nil {
		return fmt.Errorf("resolving state directory: %w", err)
	}
	st, err := client.LoadState(stateDir)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	switch cmd.action {
	case "list":
		summaries, err := fetchConversations(ctx, cmd.server, st.Cookie)
		if err != nil {
			return err
		}
		renderConversations(out, summaries)
	case "delete":
		if err := deleteConversation(ctx, cmd.server, st.Cookie, cmd.id); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted conversation %s\n", cmd.id)
		if st.ConversationID == cmd.id {
			if err := client.ClearConversation(stateDir); err != nil {
				slog.Warn("clearing remembered conversation", "error", err)
			}
		}
	}
	return nil
}

// apiEnvelope mirrors the server's response envelope.
type apiEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// fetchConversations lists the caller's conversations.
func fetchConversations(ctx context.Context, baseURL, cookie string) ([]conversation.Summary, error) {
	resp, err := apiRequest(ctx, http.MethodGet, baseURL+"/api/v1/conversations", cookie)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiFailure(resp)
	}

	var env apiEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding conversations: %w", err)
	}
	var summaries []conversation.Summary
	if err := json.Unmarshal(env.Data, &summaries); err != nil {
		return nil, fmt.Errorf("decoding conversations: %w", err)
	}
	return summaries, nil
}

// deleteConversation deletes one conversation by id.
func deleteConversation(ctx context.Context, baseURL, cookie, id string) error {
	resp, err := apiRequest(ctx, http.MethodDelete, baseURL+"/api/v1/conversations/"+url.PathEscape(id), cookie)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return apiFailure(resp)
	}
	return nil
}

func apiRequest(ctx context.Context, method, requestURL, cookie string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: identityCookieName, Value: cookie})
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	return resp, nil
}

// apiFailure turns a non-2xx response into an error, salvaging the
// server's code and message when the body carries the standard envelope.
func apiFailure(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	if err == nil {
		var env apiEnvelope
		if jsonErr := json.Unmarshal(body, &env); jsonErr == nil && env.Error != nil {
			return fmt.Errorf("server error %d (%s): %s", resp.StatusCode, env.Error.Code, env.Error.Message)
		}
	}
	return fmt.Errorf("server error %d", resp.StatusCode)
}

// renderConversations writes a summary table.
func renderConversations(w io.Writer, summaries []conversation.Summary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No conversations yet.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tTURNS\tUPDATED")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
			s.ID, s.Title, s.TurnCount, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	tw.Flush()
}
