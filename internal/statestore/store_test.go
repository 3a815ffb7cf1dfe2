package statestore

import (
	"context"
	"testing"
)

func testRoundTrip(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if err := store.Set(ctx, map[string][]byte{
		KeyUsageMonth:  []byte(`{"characters":8}`),
		KeyTokenBucket: []byte(`{"tokens":5}`),
	}); err != nil {
		t.Fatalf("set records: %v", err)
	}

	found, err := store.Get(ctx, KeyUsageMonth, KeyTokenBucket, KeyCacheTable)
	if err != nil {
		t.Fatalf("get records: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 records, got %d", len(found))
	}
	if string(found[KeyUsageMonth]) != `{"characters":8}` {
		t.Fatalf("unexpected month usage payload: %s", found[KeyUsageMonth])
	}
	if _, exists := found[KeyCacheTable]; exists {
		t.Fatal("expected missing key to be omitted")
	}

	if err := store.Remove(ctx, KeyUsageMonth); err != nil {
		t.Fatalf("remove record: %v", err)
	}
	found, err = store.Get(ctx, KeyUsageMonth)
	if err != nil {
		t.Fatalf("get after remove: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("expected removed key to be absent, got %d records", len(found))
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()
	testRoundTrip(t, store)
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := OpenBadgerInMemory()
	if err != nil {
		t.Fatalf("open in-memory badger: %v", err)
	}
	defer store.Close()
	testRoundTrip(t, store)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	payload := []byte("original")
	if err := store.Set(ctx, map[string][]byte{"k": payload}); err != nil {
		t.Fatalf("set: %v", err)
	}
	payload[0] = 'X'

	found, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(found["k"]) != "original" {
		t.Fatalf("stored value was aliased: %s", found["k"])
	}
}
