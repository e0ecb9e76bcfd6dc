package storage

import "fmt"

const (
	KindMemory   = "memory"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

func DefaultStoreKind() string {
	return KindPostgres
}

// NewStore builds a store; dsn is a file path for sqlite and a connection
// string for postgres.
func NewStore(kind, dsn string) (Store, error) {
	switch kind {
	case "", KindMemory:
		return NewMemoryStore(), nil
	case KindSQLite:
		return newSQLiteStore(dsn)
	case KindPostgres:
		return NewPostgresStore(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
