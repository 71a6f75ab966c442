// Package prompts manages system-prompt files stored as .md documents
// under one directory, the filesystem-backed collaborator behind the
// system-prompts HTTP surface.
package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MaxContentLength bounds a prompt file's size, mirroring the original
// service's 20,000-character ceiling.
const MaxContentLength = 20000

const previewLength = 250

// Store manages .md prompt files under one directory.
type Store struct {
	dir string
}

// New creates a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("prompts: creating %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Item is one prompt file's listing metadata.
type Item struct {
	Filename  string `json:"filename"`
	Preview   string `json:"preview"`
	WordCount int    `json:"word_count"`
}

// List returns every .md file under the directory, sorted by filename.
func (s *Store) List() ([]Item, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("prompts: listing %s: %w", s.dir, err)
	}

	var items []Item
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		content, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		items = append(items, Item{
			Filename:  e.Name(),
			Preview:   preview(string(content)),
			WordCount: len(strings.Fields(string(content))),
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Filename < items[j].Filename })
	return items, nil
}

// Get returns the full content of a prompt file.
func (s *Store) Get(filename string) (string, error) {
	if err := validateFilename(filename); err != nil {
		return "", err
	}
	raw, err := os.ReadFile(s.path(filename))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("prompts: reading %s: %w", filename, err)
	}
	return string(raw), nil
}

// Create writes a new prompt file, failing if one already exists.
func (s *Store) Create(filename, content string) error {
	if err := validateFilename(filename); err != nil {
		return err
	}
	if err := validateContent(content); err != nil {
		return err
	}
	if _, err := os.Stat(s.path(filename)); err == nil {
		return ErrExists
	}
	return os.WriteFile(s.path(filename), []byte(content), 0o644)
}

// Update overwrites an existing prompt file's content.
func (s *Store) Update(filename, content string) error {
	if err := validateFilename(filename); err != nil {
		return err
	}
	if err := validateContent(content); err != nil {
		return err
	}
	if _, err := os.Stat(s.path(filename)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("prompts: statting %s: %w", filename, err)
	}
	return os.WriteFile(s.path(filename), []byte(content), 0o644)
}

// Delete removes a prompt file.
func (s *Store) Delete(filename string) error {
	if err := validateFilename(filename); err != nil {
		return err
	}
	if err := os.Remove(s.path(filename)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("prompts: deleting %s: %w", filename, err)
	}
	return nil
}

func (s *Store) path(filename string) string {
	return filepath.Join(s.dir, filename)
}

func preview(content string) string {
	r := []rune(content)
	if len(r) <= previewLength {
		return content
	}
	return strings.TrimRight(string(r[:previewLength-3]), " \t\n") + "..."
}

func validateFilename(filename string) error {
	if filename == "" {
		return fmt.Errorf("%w: filename cannot be empty", ErrInvalid)
	}
	if !strings.HasSuffix(filename, ".md") {
		return fmt.Errorf("%w: filename must end with .md", ErrInvalid)
	}
	if strings.ContainsAny(filename, "/\\") {
		return fmt.Errorf("%w: filename cannot contain path separators", ErrInvalid)
	}
	if strings.HasPrefix(filename, ".") {
		return fmt.Errorf("%w: filename cannot start with a dot", ErrInvalid)
	}
	return nil
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content cannot be empty or whitespace only", ErrInvalid)
	}
	if len([]rune(content)) > MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", ErrInvalid, MaxContentLength)
	}
	return nil
}
