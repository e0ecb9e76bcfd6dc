//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"stratasample/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps records in a single SQLite file. Schema-qualified names
// are flattened to "<schema>__<name>".
type SQLiteStore struct {
	path string

	mu      sync.RWMutex
	db      *sql.DB
	ensured map[string]bool
}

func newSQLiteStore(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	// One writer; the pipeline never issues concurrent statements.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	s.ensured = make(map[string]bool)
	return nil
}

func sqliteTableName(table model.TableName) string {
	if table.Schema == "" || table.Schema == "main" {
		return table.Name
	}
	return table.Schema + "__" + table.Name
}

func quoteSQLiteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *SQLiteStore) EnsureTable(ctx context.Context, table model.TableName, _ int) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	name := sqliteTableName(table)
	s.mu.RLock()
	done := s.ensured[name]
	s.mu.RUnlock()
	if done {
		return nil
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			uuid_muestra TEXT NOT NULL,
			year INTEGER NOT NULL,
			clase_referencia TEXT NOT NULL,
			valor INTEGER NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			geometria BLOB NOT NULL,
			srid INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (uuid_muestra);
	`, quoteSQLiteIdent(name), quoteSQLiteIdent(name+"_uuid_muestra_idx")))
	if err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}

	s.mu.Lock()
	s.ensured[name] = true
	s.mu.Unlock()
	return nil
}

func (s *SQLiteStore) TableExists(ctx context.Context, table model.TableName) (bool, error) {
	db, err := s.getDB()
	if err != nil {
		return false, err
	}

	var n int
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
		sqliteTableName(table)).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) DistinctIdentities(ctx context.Context, table model.TableName) (model.IdentitySet, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT uuid_muestra FROM %s`, quoteSQLiteIdent(sqliteTableName(table))))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := model.IdentitySet{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		// Values that are not UUIDs can never collide with a sample identity.
		if id, err := uuid.Parse(raw); err == nil {
			set.Add(id)
		}
	}
	return set, rows.Err()
}

func (s *SQLiteStore) Append(ctx context.Context, table model.TableName, srid int, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.EnsureTable(ctx, table, srid); err != nil {
		return err
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (%s, srid) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		quoteSQLiteIdent(sqliteTableName(table)), recordColumns))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		geom, err := encodePoint(rec)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, rec.SampleID.String(), rec.Year, rec.ClassName, rec.Value, rec.X, rec.Y, geom, srid); err != nil {
			return fmt.Errorf("insert %s/%d: %w", rec.SampleID, rec.Year, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func (s *SQLiteStore) CountByPeriodClass(ctx context.Context, table model.TableName) ([]model.PeriodClassCount, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT year, clase_referencia, COUNT(*)
		FROM %s
		GROUP BY year, clase_referencia
		ORDER BY year, clase_referencia
	`, quoteSQLiteIdent(sqliteTableName(table))))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PeriodClassCount
	for rows.Next() {
		var c model.PeriodClassCount
		if err := rows.Scan(&c.Year, &c.ClassName, &c.Records); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}
