package cmd

import (
	"strings"
	"testing"

	"github.com/strandlabs/strand/internal/client"
	"github.com/strandlabs/strand/internal/log"
)

func TestParseRateBurst(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{name: "unset", value: "", want: 0},
		{name: "valid", value: "15", want: 15},
		{name: "zero", value: "0", want: 0},
		{name: "negative", value: "-1", want: 0},
		{name: "non-numeric", value: "abc", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STRAND_RATE_BURST", tt.value)
			if got := parseRateBurst(); got != tt.want {
				t.Errorf("parseRateBurst() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestVersionString(t *testing.T) {
	t.Parallel()

	s := versionString()
	if !strings.Contains(s, "strand") {
		t.Errorf("versionString() = %q, want it to name the binary", s)
	}
	if !strings.Contains(s, Version) {
		t.Errorf("versionString() = %q, want it to contain %q", s, Version)
	}
}

func TestNormalizeServerURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		addr    string
		want    string
		wantErr bool
	}{
		{name: "host port", addr: "127.0.0.1:3400", want: "http://127.0.0.1:3400"},
		{name: "bare port", addr: ":8080", want: "http://127.0.0.1:8080"},
		{name: "hostname", addr: "example.com:9000", want: "http://example.com:9000"},
		{name: "hostname no port", addr: "example.com", want: "http://example.com"},
		{name: "http url", addr: "http://example.com:9000", want: "http://example.com:9000"},
		{name: "https url", addr: "https://ai.example.com", want: "https://ai.example.com"},
		{name: "trailing slash stripped", addr: "https://ai.example.com/strand/", want: "https://ai.example.com/strand"},
		{name: "default addr", addr: defaultServerAddr, want: "http://" + defaultServerAddr},

		{name: "empty", addr: "", wantErr: true},
		{name: "bad scheme", addr: "ftp://example.com", wantErr: true},
		{name: "missing host", addr: "http://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := normalizeServerURL(tt.addr)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("normalizeServerURL(%q) = %q, want error", tt.addr, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalizeServerURL(%q) error: %v", tt.addr, err)
			}
			if got != tt.want {
				t.Errorf("normalizeServerURL(%q) = %q, want %q", tt.addr, got, tt.want)
			}
		})
	}
}

func TestParseChatFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		want    chatOptions
		wantErr bool
	}{
		{
			name: "defaults",
			args: nil,
			want: chatOptions{server: "http://" + defaultServerAddr},
		},
		{
			name: "server host port",
			args: []string{"--server", "localhost:9000"},
			want: chatOptions{server: "http://localhost:9000"},
		},
		{
			name: "server url",
			args: []string{"--server", "https://ai.example.com"},
			want: chatOptions{server: "https://ai.example.com"},
		},
		{
			name: "conversation",
			args: []string{"--conversation", "b2ccd4d2-0000-0000-0000-000000000000"},
			want: chatOptions{
				server:       "http://" + defaultServerAddr,
				conversation: "b2ccd4d2-0000-0000-0000-000000000000",
			},
		},
		{
			name: "new",
			args: []string{"--new"},
			want: chatOptions{server: "http://" + defaultServerAddr, fresh: true},
		},
		{
			name: "combined",
			args: []string{"--server", ":7000", "--new"},
			want: chatOptions{server: "http://127.0.0.1:7000", fresh: true},
		},
		{
			name:    "unknown flag",
			args:    []string{"--bogus"},
			wantErr: true,
		},
		{
			name:    "bad server",
			args:    []string{"--server", "ftp://example.com"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseChatFlags(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseChatFlags(%v) = %+v, want error", tt.args, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseChatFlags(%v) error: %v", tt.args, err)
			}
			if got != tt.want {
				t.Errorf("parseChatFlags(%v) = %+v, want %+v", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseMCPFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "default", args: nil, want: "."},
		{name: "explicit root", args: []string{"--project-root", "/srv/project"}, want: "/srv/project"},
		{name: "disabled", args: []string{"--project-root", ""}, want: ""},
		{name: "unknown flag", args: []string{"--bogus"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseMCPFlags(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseMCPFlags(%v) = %q, want error", tt.args, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseMCPFlags(%v) error: %v", tt.args, err)
			}
			if got != tt.want {
				t.Errorf("parseMCPFlags(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseConversationsArgs(t *testing.T) {
	t.Parallel()

	defaultBase := "http://" + defaultServerAddr

	tests := []struct {
		name    string
		args    []string
		want    conversationsCommand
		wantErr bool
	}{
		{
			name: "list",
			args: []string{"list"},
			want: conversationsCommand{action: "list", server: defaultBase},
		},
		{
			name: "list with server",
			args: []string{"list", "--server", "localhost:9000"},
			want: conversationsCommand{action: "list", server: "http://localhost:9000"},
		},
		{
			name: "delete positional id",
			args: []string{"delete", "abc-123"},
			want: conversationsCommand{action: "delete", id: "abc-123", server: defaultBase},
		},
		{
			name: "delete id then flag",
			args: []string{"delete", "abc-123", "--server", ":7000"},
			want: conversationsCommand{action: "delete", id: "abc-123", server: "http://127.0.0.1:7000"},
		},
		{
			name: "delete flag then id",
			args: []string{"delete", "--server", ":7000", "abc-123"},
			want: conversationsCommand{action: "delete", id: "abc-123", server: "http://127.0.0.1:7000"},
		},

		{name: "no action", args: nil, wantErr: true},
		{name: "unknown action", args: []string{"archive"}, wantErr: true},
		{name: "delete without id", args: []string{"delete"}, wantErr: true},
		{name: "delete with only flags", args: []string{"delete", "--server", ":7000"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseConversationsArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseConversationsArgs(%v) = %+v, want error", tt.args, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseConversationsArgs(%v) error: %v", tt.args, err)
			}
			if got != tt.want {
				t.Errorf("parseConversationsArgs(%v) = %+v, want %+v", tt.args, got, tt.want)
			}
		})
	}
}

func TestPersistCookie(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := client.SaveState(dir, client.State{ConversationID: "keep-me"}); err != nil {
		t.Fatalf("SaveState() error: %v", err)
	}

	persistCookie(log.NewNop(), dir, "minted-cookie")

	st, err := client.LoadState(dir)
	if err != nil {
		t.Fatalf("LoadState() error: %v", err)
	}
	if st.Cookie != "minted-cookie" {
		t.Errorf("Cookie = %q, want %q", st.Cookie, "minted-cookie")
	}
	if st.ConversationID != "keep-me" {
		t.Errorf("ConversationID = %q, want it preserved", st.ConversationID)
	}
}

func TestPersistConversation(t *testing.T) {
	t.Parallel()

	t.Run("permanent id is remembered", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		if err := client.SaveState(dir, client.State{Cookie: "c", ConversationID: "old"}); err != nil {
			t.Fatalf("SaveState() error: %v", err)
		}

		persistConversation(dir, "b2ccd4d2-0000-0000-0000-000000000000", false)

		st, err := client.LoadState(dir)
		if err != nil {
			t.Fatalf("LoadState() error: %v", err)
		}
		if st.ConversationID != "b2ccd4d2-0000-0000-0000-000000000000" {
			t.Errorf("ConversationID = %q, want the new id", st.ConversationID)
		}
		if st.Cookie != "c" {
			t.Errorf("Cookie = %q, want it preserved", st.Cookie)
		}
	})

	t.Run("provisional id leaves state alone", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		if err := client.SaveState(dir, client.State{ConversationID: "remembered"}); err != nil {
			t.Fatalf("SaveState() error: %v", err)
		}

		persistConversation(dir, client.NewProvisionalID(), false)

		st, err := client.LoadState(dir)
		if err != nil {
			t.Fatalf("LoadState() error: %v", err)
		}
		if st.ConversationID != "remembered" {
			t.Errorf("ConversationID = %q, want %q", st.ConversationID, "remembered")
		}
	})

	t.Run("provisional id with fresh clears the remembered conversation", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		if err := client.SaveState(dir, client.State{Cookie: "c", ConversationID: "remembered"}); err != nil {
			t.Fatalf("SaveState() error: %v", err)
		}

		persistConversation(dir, client.NewProvisionalID(), true)

		st, err := client.LoadState(dir)
		if err != nil {
			t.Fatalf("LoadState() error: %v", err)
		}
		if st.ConversationID != "" {
			t.Errorf("ConversationID = %q, want it cleared", st.ConversationID)
		}
		if st.Cookie != "c" {
			t.Errorf("Cookie = %q, want it preserved", st.Cookie)
		}
	})
}
