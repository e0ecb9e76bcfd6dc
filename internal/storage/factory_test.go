package storage

import (
	"testing"
)

func TestNewStoreMemory(t *testing.T) {
	for _, kind := range []string{"", KindMemory} {
		store, err := NewStore(kind, "")
		if err != nil {
			t.Fatalf("new memory store %q: %v", kind, err)
		}
		if _, ok := store.(*MemoryStore); !ok {
			t.Fatalf("expected memory store for %q, got %T", kind, store)
		}
	}
}

func TestNewStorePostgres(t *testing.T) {
	store, err := NewStore(KindPostgres, "postgres://localhost/db")
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	if _, ok := store.(*PostgresStore); !ok {
		t.Fatalf("expected postgres store, got %T", store)
	}
	if err := CloseIfSupported(store); err != nil {
		t.Fatalf("close unopened store: %v", err)
	}
}

func TestNewStoreUnsupported(t *testing.T) {
	_, err := NewStore("unknown", "")
	if err == nil {
		t.Fatal("expected unsupported store error")
	}
}

func TestCloseIfSupportedWithoutCloser(t *testing.T) {
	if err := CloseIfSupported(NewMemoryStore()); err != nil {
		t.Fatalf("close memory store: %v", err)
	}
}
