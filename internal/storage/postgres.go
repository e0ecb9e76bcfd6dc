package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"stratasample/internal/model"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultPostgresSchema = "public"

	// Postgres caps a statement at 65535 bind parameters.
	postgresRowsPerInsert = 65535 / 7
)

var sqlOpen = sql.Open

// PostgresStore writes records to a PostGIS-enabled database.
type PostgresStore struct {
	dsn string

	mu      sync.RWMutex
	db      *sql.DB
	ensured map[string]bool
}

func NewPostgresStore(dsn string) *PostgresStore {
	return &PostgresStore{dsn: dsn}
}

func (s *PostgresStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dsn == "" {
		return errors.New("postgres dsn is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sqlOpen("pgx", s.dsn)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("connect: %w", err)
	}

	s.db = db
	s.ensured = make(map[string]bool)
	return nil
}

func postgresSchema(table model.TableName) string {
	if table.Schema == "" {
		return defaultPostgresSchema
	}
	return table.Schema
}

func postgresIdent(table model.TableName) string {
	return pgx.Identifier{postgresSchema(table), table.Name}.Sanitize()
}

func (s *PostgresStore) EnsureTable(ctx context.Context, table model.TableName, srid int) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	key := table.String()
	s.mu.RLock()
	done := s.ensured[key]
	s.mu.RUnlock()
	if done {
		return nil
	}

	for _, stmt := range createTableStatements(table, srid) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure table %s: %w", table, err)
		}
	}

	s.mu.Lock()
	s.ensured[key] = true
	s.mu.Unlock()
	return nil
}

func createTableStatements(table model.TableName, srid int) []string {
	ident := postgresIdent(table)
	index := pgx.Identifier{table.Name + "_uuid_muestra_idx"}.Sanitize()
	return []string{
		"CREATE SCHEMA IF NOT EXISTS " + pgx.Identifier{postgresSchema(table)}.Sanitize(),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			uuid_muestra TEXT NOT NULL,
			year INTEGER NOT NULL,
			clase_referencia TEXT NOT NULL,
			valor BIGINT NOT NULL,
			x DOUBLE PRECISION NOT NULL,
			y DOUBLE PRECISION NOT NULL,
			geometria geometry(Point, %d) NOT NULL
		)`, ident, srid),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (uuid_muestra)", index, ident),
	}
}

func (s *PostgresStore) TableExists(ctx context.Context, table model.TableName) (bool, error) {
	db, err := s.getDB()
	if err != nil {
		return false, err
	}

	var exists bool
	err = db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)
	`, postgresSchema(table), table.Name).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *PostgresStore) DistinctIdentities(ctx context.Context, table model.TableName) (model.IdentitySet, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT DISTINCT uuid_muestra::text FROM "+postgresIdent(table))
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
		if id, err := uuid.Parse(raw); err == nil {
			set.Add(id)
		}
	}
	return set, rows.Err()
}

func (s *PostgresStore) Append(ctx context.Context, table model.TableName, srid int, records []model.Record) error {
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

	for start := 0; start < len(records); start += postgresRowsPerInsert {
		end := min(start+postgresRowsPerInsert, len(records))
		query, args, err := buildInsert(table, srid, records[start:end])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert rows %d-%d: %w", start, end, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// buildInsert renders one multi-row INSERT for records.
func buildInsert(table model.TableName, srid int, records []model.Record) (string, []any, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", postgresIdent(table), recordColumns)

	args := make([]any, 0, len(records)*7)
	for i, rec := range records {
		geom, err := encodePoint(rec)
		if err != nil {
			return "", nil, err
		}
		if i > 0 {
			b.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, ST_SetSRID(ST_GeomFromWKB($%d), %d))",
			n+1, n+2, n+3, n+4, n+5, n+6, n+7, srid)
		args = append(args, rec.SampleID.String(), rec.Year, rec.ClassName, rec.Value, rec.X, rec.Y, geom)
	}
	return b.String(), args, nil
}

func (s *PostgresStore) CountByPeriodClass(ctx context.Context, table model.TableName) ([]model.PeriodClassCount, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT year, clase_referencia, COUNT(*)
		FROM `+postgresIdent(table)+`
		GROUP BY year, clase_referencia
		ORDER BY year, clase_referencia
	`)
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

func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *PostgresStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}
