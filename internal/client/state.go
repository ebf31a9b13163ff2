package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const (
	stateDirName  = ".strand"
	stateFileName = "state.json"
	stateLockName = "state.lock"
)

// State is what a CLI run remembers between invocations: the identity
// cookie the server minted for it, which keeps conversation ownership
// stable, and the conversation the user was last in.
type State struct {
	Cookie         string `json:"cookie,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// DefaultStateDir returns ~/.strand, creating it if needed.
func DefaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, stateDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating state directory: %w", err)
	}
	return dir, nil
}

// LoadState reads the persisted state under dir. A missing file is a
// fresh install, not an error.
func LoadState(dir string) (State, error) {
	lock := flock.New(filepath.Join(dir, stateLockName))
	if err := lock.RLock(); err != nil {
		return State{}, fmt.Errorf("locking state file: %w", err)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(filepath.Join(dir, stateFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("reading state file: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parsing state file: %w", err)
	}
	return st, nil
}

// SaveState writes st under dir atomically: temp file plus rename,
// under an exclusive lock, so concurrent strand processes never read a
// partial write or interleave their own.
func SaveState(dir string, st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	lock := flock.New(filepath.Join(dir, stateLockName))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking state file: %w", err)
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(dir, stateFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing state file: %w", err)
	}
	// The cookie is a bearer credential for this installation's
	// conversations; keep it out of other users' reach.
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("setting state file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, stateFileName)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// ClearConversation drops the remembered conversation, keeping the
// identity cookie. Idempotent: clearing when nothing is remembered is
// not an error.
func ClearConversation(dir string) error {
	st, err := LoadState(dir)
	if err != nil {
		return err
	}
	if st.ConversationID == "" {
		return nil
	}
	st.ConversationID = ""
	return SaveState(dir, st)
}
