package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := New(Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	data := []byte(`{"url":"https://example.com"}`)
	if err := store.Put(ctx, "abc123/homepage.json", data, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "abc123/homepage.json")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Get = %q, want %q", got, data)
	}
}

func TestGetMissingKey(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "no/such/key")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing key error = %v, want ErrNotFound", err)
	}
}

func TestTTLExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "expiring/entry.json", []byte("payload"), time.Millisecond); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	_, err := store.Get(ctx, "expiring/entry.json")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expired entry error = %v, want ErrNotFound", err)
	}

	// The expired entry is gone for good, not just hidden
	_, err = store.Get(ctx, "expiring/entry.json")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Second read of expired entry error = %v, want ErrNotFound", err)
	}
}

func TestNoTTLNeverExpires(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "persistent/entry.json", []byte("payload"), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "persistent/entry.json")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Get = %q, want payload", got)
	}
}

func TestPutOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "key", []byte("old"), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, "key", []byte("new"), 0); err != nil {
		t.Fatalf("Second put failed: %v", err)
	}

	got, err := store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "new" {
		t.Errorf("Get = %q, want new", got)
	}
}
