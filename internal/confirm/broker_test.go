package confirm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResolveApproved(t *testing.T) {
	b := New()
	b.Register("call-1", time.Second)

	go func() {
		time.Sleep(10 * time.Millisecond)
		if err := b.Resolve("call-1", true); err != nil {
			t.Errorf("Resolve: %v", err)
		}
	}()

	d, err := b.Await(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if !d.Approved || d.TimedOut {
		t.Fatalf("expected approved decision, got %+v", d)
	}
}

func TestTimeoutIsImplicitDenial(t *testing.T) {
	b := New()
	b.Register("call-2", 20*time.Millisecond)

	d, err := b.Await(context.Background(), "call-2")
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if d.Approved || !d.TimedOut {
		t.Fatalf("expected timed-out denial, got %+v", d)
	}
}

func TestContextCancelDenies(t *testing.T) {
	b := New()
	b.Register("call-3", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	d, err := b.Await(ctx, "call-3")
	if err == nil {
		t.Fatal("expected context error")
	}
	if d.Approved {
		t.Fatal("expected denial on cancellation")
	}
}

func TestResolveUnknownIDErrors(t *testing.T) {
	b := New()
	err := b.Resolve("ghost", true)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDoubleResolveKeepsFirstDecision(t *testing.T) {
	b := New()
	b.Register("call-4", time.Second)
	if err := b.Resolve("call-4", true); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	err := b.Resolve("call-4", false)
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}

	d, err := b.Await(context.Background(), "call-4")
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if !d.Approved {
		t.Fatalf("expected the first decision (approved) to stand, got %+v", d)
	}
}
