package storage

import (
	"context"
	"errors"

	"stratasample/internal/model"
)

var ErrNotInitialized = errors.New("store is not initialized")

// Store is an append-only tabular sink for sample records.
type Store interface {
	Init(ctx context.Context) error
	// EnsureTable creates table when it does not exist yet.
	EnsureTable(ctx context.Context, table model.TableName, srid int) error
	TableExists(ctx context.Context, table model.TableName) (bool, error)
	DistinctIdentities(ctx context.Context, table model.TableName) (model.IdentitySet, error)
	// Append writes all records or none of them, creating table if needed.
	Append(ctx context.Context, table model.TableName, srid int, records []model.Record) error
	CountByPeriodClass(ctx context.Context, table model.TableName) ([]model.PeriodClassCount, error)
}
