package prompts

import (
	"errors"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestCreateGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create("helpful.md", "Be helpful and concise."); err != nil {
		t.Fatalf("Create: %v", err)
	}

	content, err := s.Get("helpful.md")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if content != "Be helpful and concise." {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestCreateRejectsDuplicateFilename(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create("helpful.md", "one"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create("helpful.md", "two"); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestCreateRejectsInvalidFilenames(t *testing.T) {
	s := newTestStore(t)
	cases := []string{"", "noext", "nested/name.md", ".hidden.md"}
	for _, name := range cases {
		if err := s.Create(name, "content"); !errors.Is(err, ErrInvalid) {
			t.Fatalf("filename %q: expected ErrInvalid, got %v", name, err)
		}
	}
}

func TestCreateRejectsEmptyOrOversizedContent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create("empty.md", "   "); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for blank content, got %v", err)
	}
	if err := s.Create("huge.md", strings.Repeat("a", MaxContentLength+1)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for oversized content, got %v", err)
	}
}

func TestUpdateRequiresExistingFile(t *testing.T) {
	s := newTestStore(t)
	if err := s.Update("missing.md", "content"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Create("present.md", "v1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Update("present.md", "v2"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	content, err := s.Get("present.md")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if content != "v2" {
		t.Fatalf("expected updated content, got %q", content)
	}
}

func TestDeleteRemovesFile(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create("gone.md", "content"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete("gone.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("gone.md"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListReturnsPreviewAndWordCount(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create("a.md", "one two three"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create("b.md", strings.Repeat("word ", 100)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	items, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Filename != "a.md" || items[0].WordCount != 3 {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	if !strings.HasSuffix(items[1].Preview, "...") {
		t.Fatalf("expected truncated preview for long content, got %q", items[1].Preview)
	}
}
