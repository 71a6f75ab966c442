// Package store persists sessions as one JSON document per session under a
// directory, using write-temp-then-rename for atomicity and a forward-only
// schema migrator for older files.
package store

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lennartpollvogt/mochi-server/internal/session"
)

// ErrNotFound is returned when a session id has no file on disk.
var ErrNotFound = errors.New("session not found")

// ErrCorrupted is returned when a session file fails validation even after
// migration. The store never attempts to auto-repair a corrupted document.
var ErrCorrupted = errors.New("session file corrupted")

// ModelValidator checks whether a model name is known to the upstream
// daemon. The store is storage-only; callers that need model validation on
// create (mirroring the original SessionManager.create_session) pass one
// in rather than the store importing the upstream client itself.
type ModelValidator func(model string) error

// Store manages session documents under one directory.
type Store struct {
	dir string
	mu  sync.Mutex // serializes writes to avoid interleaved temp-file races
}

// New creates a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// ForAgent returns a Store scoped to the parallel agent-session namespace
// {dir}/{agentName}, using the identical document schema.
func (s *Store) ForAgent(agentName string) (*Store, error) {
	return New(filepath.Join(s.dir, agentName))
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// NewSessionID mints a 10-character lowercase hex session identifier.
func NewSessionID() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("store: generating session id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Create mints a new session id, validates the model (if validate is
// non-nil), and persists an empty session with the given model and
// optional system prompt. dynamicContextEnabled seeds the new session's
// ContextWindowConfig.DynamicEnabled, spec's per-session
// `dynamic_enabled: bool = True`-by-default field.
func (s *Store) Create(model string, systemPrompt string, systemPromptSource string, validate ModelValidator, dynamicContextEnabled bool) (*session.Session, error) {
	if validate != nil {
		if err := validate(model); err != nil {
			return nil, err
		}
	}

	id, err := NewSessionID()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &session.Session{
		Metadata: session.Metadata{
			SessionID:     id,
			Model:         model,
			CreatedAt:     now,
			UpdatedAt:     now,
			FormatVersion: session.CurrentFormatVersion,
			ToolSettings:  session.ToolSettings{Policy: session.PolicyConfirmDestructive},
			ContextWindow: session.ContextWindowConfig{DynamicEnabled: dynamicContextEnabled},
		},
	}

	if systemPrompt != "" {
		msgID, err := NewSessionID()
		if err != nil {
			return nil, err
		}
		sess.Messages = append(sess.Messages, session.Message{
			Role:       session.RoleSystem,
			ID:         msgID,
			Timestamp:  now,
			Content:    systemPrompt,
			SourceFile: systemPromptSource,
		})
	}
	sess.Touch()

	if err := s.save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads a session by id, migrating it forward if it was written by an
// older format version.
func (s *Store) Get(id string) (*session.Session, error) {
	raw, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: reading %s: %w", id, err)
	}

	doc, err := migrate(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	var sess session.Session
	if err := json.Unmarshal(doc, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if err := sess.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return &sess, nil
}

// Summary is the condensed listing entry returned by List.
type Summary struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
}

// List returns every session's summary, newest (by UpdatedAt) first.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: listing %s: %w", s.dir, err)
	}

	var summaries []Summary
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		id := e.Name()[:len(e.Name())-len(".json")]
		sess, err := s.Get(id)
		if err != nil {
			// A session that fails to load is skipped, not fatal to the
			// listing as a whole.
			continue
		}
		summaries = append(summaries, Summary{
			ID:           sess.Metadata.SessionID,
			Model:        sess.Metadata.Model,
			UpdatedAt:    sess.Metadata.UpdatedAt,
			MessageCount: sess.Metadata.MessageCount,
			Preview:      preview(sess),
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

func preview(sess *session.Session) string {
	const maxLen = 100
	for _, m := range sess.Messages {
		if m.Role != session.RoleUser {
			continue
		}
		r := []rune(m.Content)
		if len(r) > maxLen {
			return string(r[:maxLen]) + "…"
		}
		return string(r)
	}
	return ""
}

// Delete removes a session's file. Returns ErrNotFound if it does not exist.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("store: deleting %s: %w", id, err)
	}
	return nil
}

// PatchMetadata applies mutate to a freshly loaded session's metadata and
// saves it. mutate must not touch Messages.
func (s *Store) PatchMetadata(id string, mutate func(*session.Metadata)) (*session.Session, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	mutate(&sess.Metadata)
	sess.Touch()
	if err := s.save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// AppendMessage appends msg to the session and persists it.
func (s *Store) AppendMessage(id string, msg session.Message) (*session.Session, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	sess.Messages = append(sess.Messages, msg)
	sess.Touch()
	if err := s.save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// EditMessage rewrites the content of the user message at index and
// truncates every message after it, mirroring the "edit and regenerate"
// behavior of the original implementation.
func (s *Store) EditMessage(id string, index int, content string) (*session.Session, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(sess.Messages) {
		return nil, fmt.Errorf("store: message index %d out of range", index)
	}
	if sess.Messages[index].Role != session.RoleUser {
		return nil, fmt.Errorf("store: can only edit user messages")
	}

	sess.Messages[index].Content = content
	sess.Messages[index].Timestamp = time.Now().UTC()
	sess.Messages = sess.Messages[:index+1]
	sess.Touch()

	if err := s.save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// SetSystemMessage replaces the session's system message (inserting one at
// index 0 if none exists yet) without truncating history.
func (s *Store) SetSystemMessage(id, content, sourceFile string) (*session.Session, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	msgID, err := NewSessionID()
	if err != nil {
		return nil, err
	}
	msg := session.Message{
		Role:       session.RoleSystem,
		ID:         msgID,
		Timestamp:  time.Now().UTC(),
		Content:    content,
		SourceFile: sourceFile,
	}

	if _, idx, ok := sess.SystemMessage(); ok {
		sess.Messages[idx] = msg
	} else {
		sess.Messages = append([]session.Message{msg}, sess.Messages...)
	}
	sess.Touch()

	if err := s.save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// RemoveSystemMessage deletes the session's system message, if any.
func (s *Store) RemoveSystemMessage(id string) (*session.Session, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	_, idx, ok := sess.SystemMessage()
	if !ok {
		return nil, fmt.Errorf("store: session %s has no system message", id)
	}
	sess.Messages = append(sess.Messages[:idx], sess.Messages[idx+1:]...)
	sess.Touch()

	if err := s.save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// GetMessages returns the session's full message list.
func (s *Store) GetMessages(id string) ([]session.Message, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Messages, nil
}

// Save persists sess as-is; the orchestrator uses this directly when it has
// already mutated an in-memory session across several steps of one turn.
func (s *Store) Save(sess *session.Session) error {
	return s.save(sess)
}

func (s *Store) save(sess *session.Session) error {
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("store: refusing to save invalid session: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshaling session %s: %w", sess.Metadata.SessionID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, sess.Metadata.SessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path(sess.Metadata.SessionID)); err != nil {
		return fmt.Errorf("store: renaming into place: %w", err)
	}
	return nil
}
