// Package sqlexec applies validated database operations to PostgreSQL. It
// builds parameterized INSERT, UPDATE and DELETE statements from envelope
// payloads and runs them on a bounded pgx connection pool. Values are always
// bound as statement parameters, never interpolated into SQL text.
package sqlexec

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	errspkg "github.com/oprelay/oprelay/internal/runtime/errors"
	loggingpkg "github.com/oprelay/oprelay/internal/runtime/logging"
)

// Execer is the subset of pgxpool.Pool the executor needs. Satisfied by
// *pgxpool.Pool, *pgx.Conn and transaction handles.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGExecutor runs parameterized mutations against PostgreSQL. Column order
// within a statement is stable (sorted keys) and placeholders are
// positionally distinct between SET and WHERE clauses. The zero value is not
// usable; construct with NewPGExecutor.
type PGExecutor struct {
	db     Execer
	logger loggingpkg.ServiceLogger
}

// NewPGExecutor builds an executor on top of an established pool or
// connection. A nil logger disables logging.
func NewPGExecutor(db Execer, logger loggingpkg.ServiceLogger) (*PGExecutor, error) {
	if db == nil {
		return nil, errspkg.ErrDatabaseRequired
	}
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}
	return &PGExecutor{db: db, logger: logger}, nil
}

// Connect establishes the bounded connection pool and verifies connectivity
// with a ping. A failure here aborts startup; it is never a per-message
// error. Non-positive bounds keep pgxpool's defaults.
func Connect(ctx context.Context, databaseURL string, minConns, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Insert executes INSERT INTO table (cols...) VALUES ($1..$n) with columns
// taken from data's keys in sorted order.
func (e *PGExecutor) Insert(ctx context.Context, table string, data map[string]any) error {
	sql, args, err := buildInsert(table, data)
	if err != nil {
		return err
	}
	return e.exec(ctx, sql, args)
}

// Update executes UPDATE table SET ... WHERE ... with SET parameters bound
// before WHERE parameters.
func (e *PGExecutor) Update(ctx context.Context, table string, data, where map[string]any) error {
	sql, args, err := buildUpdate(table, data, where)
	if err != nil {
		return err
	}
	return e.exec(ctx, sql, args)
}

// Delete executes DELETE FROM table WHERE ... . An empty where clause is
// rejected before any SQL is built, so an unscoped delete cannot reach the
// store even if validation was bypassed.
func (e *PGExecutor) Delete(ctx context.Context, table string, where map[string]any) error {
	sql, args, err := buildDelete(table, where)
	if err != nil {
		return err
	}
	return e.exec(ctx, sql, args)
}

func (e *PGExecutor) exec(ctx context.Context, sql string, args []any) error {
	tag, err := e.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	e.logger.Trace("Statement executed", loggingpkg.LogFields{
		"command":       tag.String(),
		"rows_affected": tag.RowsAffected(),
	})
	return nil
}

// buildInsert renders the column list and value placeholders from data's
// sorted keys. Identifiers are quoted through pgx.
func buildInsert(table string, data map[string]any) (string, []any, error) {
	if table == "" {
		return "", nil, errspkg.ErrTableRequired
	}
	if len(data) == 0 {
		return "", nil, errspkg.ErrEmptyData
	}

	cols := sortedKeys(data)
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		quoted[i] = pgx.Identifier{col}.Sanitize()
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = data[col]
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{table}.Sanitize(),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
	)
	return sql, args, nil
}

// buildUpdate binds SET values as $1..$m and WHERE values as $m+1..$n so the
// two clauses never share a placeholder.
func buildUpdate(table string, data, where map[string]any) (string, []any, error) {
	if table == "" {
		return "", nil, errspkg.ErrTableRequired
	}
	if len(data) == 0 {
		return "", nil, errspkg.ErrEmptyData
	}
	if len(where) == 0 {
		return "", nil, errspkg.ErrEmptyWhereClause
	}

	args := make([]any, 0, len(data)+len(where))

	setCols := sortedKeys(data)
	setParts := make([]string, len(setCols))
	for i, col := range setCols {
		setParts[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{col}.Sanitize(), len(args)+1)
		args = append(args, data[col])
	}

	whereSQL, args := buildConjunction(where, args)

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		pgx.Identifier{table}.Sanitize(),
		strings.Join(setParts, ", "),
		whereSQL,
	)
	return sql, args, nil
}

func buildDelete(table string, where map[string]any) (string, []any, error) {
	if table == "" {
		return "", nil, errspkg.ErrTableRequired
	}
	if len(where) == 0 {
		return "", nil, errspkg.ErrEmptyWhereClause
	}

	whereSQL, args := buildConjunction(where, nil)

	sql := fmt.Sprintf("DELETE FROM %s WHERE %s",
		pgx.Identifier{table}.Sanitize(),
		whereSQL,
	)
	return sql, args, nil
}

// buildConjunction renders an AND-joined equality clause from where's sorted
// keys, continuing the placeholder numbering after the supplied args.
func buildConjunction(where map[string]any, args []any) (string, []any) {
	cols := sortedKeys(where)
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{col}.Sanitize(), len(args)+1)
		args = append(args, where[col])
	}
	return strings.Join(parts, " AND "), args
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
