package kvstore

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("expected hit with %q, got %q ok=%v err=%v", "v", v, ok, err)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("expected key gone after delete")
	}

	// Deleting a missing key is not an error.
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestMemoryStoreFailWrites(t *testing.T) {
	s := NewMemoryStore()
	s.FailWrites = true

	err := s.Set(context.Background(), "k", "v")
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}
