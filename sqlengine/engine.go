// Package sqlengine runs SQL over the trace store. Registry tables are
// mirrored into an in-memory SQLite database; with the sqlite_vtable build
// tag the interval_intersect operator is available as an eponymous virtual
// table reading the registry directly.
package sqlengine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"traceproc/intersect"
	"traceproc/storage"
)

// OperatorName is the SQL name of the interval_intersect operator.
const OperatorName = "interval_intersect"

var (
	// ErrClosed is returned by every call after Close.
	ErrClosed = errors.New("sqlengine: engine closed")
	// ErrReservedName is returned when a table would shadow the operator.
	ErrReservedName = errors.New("sqlengine: reserved table name")
)

type mirror struct {
	table storage.Table
	rows  int
}

// Engine is a single-connection SQLite database over a registry. It is not
// safe for concurrent use.
type Engine struct {
	db       *sql.DB
	reg      *storage.Registry
	logger   log.Logger
	driver   string
	mirrored map[string]mirror
}

// Open creates an engine over reg and mirrors its current tables.
func Open(ctx context.Context, reg *storage.Registry, logger log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	e := &Engine{
		reg:      reg,
		logger:   log.With(logger, "component", "sqlengine"),
		driver:   "sqlite3_traceproc_" + uuid.NewString(),
		mirrored: make(map[string]mirror),
	}

	// One driver per engine: the connect hook closes over this registry.
	sql.Register(e.driver, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return registerModules(conn, reg)
		},
	})

	db, err := sql.Open(e.driver, ":memory:")
	if err != nil {
		return nil, errors.Wrap(err, "sqlengine: open")
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqlengine: ping")
	}
	e.db = db

	_ = level.Debug(e.logger).Log("msg", "engine opened", "driver", e.driver, "vtab", VTabEnabled)
	if err := e.Sync(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

// Registry returns the registry behind the engine.
func (e *Engine) Registry() *storage.Registry { return e.reg }

// Close releases the database.
func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

// ═════════════════════════════════ Sync ═════════════════════════════════════

// Sync mirrors every registry table whose identity or row count changed
// since the last call.
func (e *Engine) Sync(ctx context.Context) error {
	if e.db == nil {
		return ErrClosed
	}
	for _, name := range e.reg.Names() {
		t, _ := e.reg.Lookup(name)
		if m, ok := e.mirrored[name]; ok && m.table == t && m.rows == t.RowCount() {
			continue
		}
		if err := e.mirror(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) mirror(ctx context.Context, t storage.Table) error {
	name := t.Name()
	if strings.EqualFold(name, OperatorName) {
		return errors.Wrapf(ErrReservedName, "%s", name)
	}
	cols := t.Columns()
	defs := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = quoteIdent(c.Name) + " " + c.Type.SQLType()
		marks[i] = "?"
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlengine: begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
		return errors.Wrapf(err, "sqlengine: drop %s", name)
	}
	if _, err := tx.ExecContext(ctx, "CREATE TABLE "+quoteIdent(name)+" ("+strings.Join(defs, ", ")+")"); err != nil {
		return errors.Wrapf(err, "sqlengine: create %s", name)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+quoteIdent(name)+" VALUES ("+strings.Join(marks, ", ")+")")
	if err != nil {
		return errors.Wrapf(err, "sqlengine: prepare insert %s", name)
	}
	defer stmt.Close()

	rows := t.RowCount()
	vals := make([]any, len(cols))
	for r := 0; r < rows; r++ {
		for c := range cols {
			vals[c] = t.Value(r, c)
		}
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			return errors.Wrapf(err, "sqlengine: insert into %s row %d", name, r)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "sqlengine: commit %s", name)
	}

	e.mirrored[name] = mirror{table: t, rows: rows}
	_ = level.Debug(e.logger).Log("msg", "table mirrored", "table", name, "rows", rows)
	return nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// ═════════════════════════════════ Query ════════════════════════════════════

// Exec runs a statement that returns no rows.
func (e *Engine) Exec(ctx context.Context, query string, args ...any) error {
	if e.db == nil {
		return ErrClosed
	}
	_, err := e.db.ExecContext(ctx, query, args...)
	return errors.Wrap(err, "sqlengine: exec")
}

// Query runs query and materialises the result as a table named "query".
func (e *Engine) Query(ctx context.Context, query string, args ...any) (*storage.RuntimeTable, error) {
	return e.query(ctx, "query", query, args...)
}

// CreateTableFromQuery runs query, registers the result as name and mirrors
// it so later queries can read it.
func (e *Engine) CreateTableFromQuery(ctx context.Context, name, query string, args ...any) (*storage.RuntimeTable, error) {
	if strings.EqualFold(name, OperatorName) {
		return nil, errors.Wrapf(ErrReservedName, "%s", name)
	}
	t, err := e.query(ctx, name, query, args...)
	if err != nil {
		return nil, err
	}
	if err := e.reg.Register(t); err != nil {
		return nil, err
	}
	if err := e.mirror(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// IntersectTables intersects the named tables, partitioned by partitions,
// and registers the result as into.
func (e *Engine) IntersectTables(ctx context.Context, into string, tables, partitions []string) (*storage.RuntimeTable, error) {
	if strings.EqualFold(into, OperatorName) {
		return nil, errors.Wrapf(ErrReservedName, "%s", into)
	}
	in := make([]storage.Table, len(tables))
	for i, name := range tables {
		t, ok := e.reg.Lookup(name)
		if !ok {
			return nil, errors.Newf("sqlengine: table '%s' not found", name)
		}
		in[i] = t
	}
	out, err := intersect.IntersectAll(ctx, in, partitions)
	if err != nil {
		return nil, err
	}
	out.Rename(into)
	if err := e.reg.Register(out); err != nil {
		return nil, err
	}
	if e.db != nil {
		if err := e.mirror(ctx, out); err != nil {
			return nil, err
		}
	}
	_ = level.Info(e.logger).Log("msg", "tables intersected", "into", into, "inputs", len(tables), "rows", out.RowCount())
	return out, nil
}

func (e *Engine) query(ctx context.Context, name, query string, args ...any) (*storage.RuntimeTable, error) {
	if e.db == nil {
		return nil, ErrClosed
	}
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlengine: query")
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.Wrap(err, "sqlengine: column types")
	}
	data := make([][]any, len(types))
	scan := make([]any, len(types))
	ptrs := make([]any, len(types))
	for i := range scan {
		ptrs[i] = &scan[i]
	}
	n := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "sqlengine: scan")
		}
		for i, v := range scan {
			data[i] = append(data[i], normaliseValue(v))
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlengine: rows")
	}

	specs := make([]storage.ColumnSpec, len(types))
	for i, ct := range types {
		specs[i] = storage.ColumnSpec{Name: ct.Name(), Type: columnType(ct.DatabaseTypeName(), data[i])}
	}
	out := storage.NewRuntimeTable(name, specs)
	row := make([]any, len(types))
	for r := 0; r < n; r++ {
		for c := range row {
			row[c] = data[c][r]
		}
		if err := out.AddRow(row...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func normaliseValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case int:
		return int64(x)
	}
	return v
}

// columnType picks a storage type from the declared type, falling back to
// the values for expressions and ANY columns.
func columnType(decl string, vals []any) storage.ColumnType {
	switch strings.ToUpper(decl) {
	case "INTEGER", "INT", "BIGINT":
		return storage.Int64
	case "REAL", "DOUBLE", "FLOAT":
		return storage.Float64
	case "TEXT":
		return storage.String
	}
	sawInt, sawFloat := false, false
	for _, v := range vals {
		switch v.(type) {
		case nil:
		case int64:
			sawInt = true
		case float64:
			sawFloat = true
		default:
			return storage.String
		}
	}
	switch {
	case sawFloat:
		return storage.Float64
	case sawInt:
		return storage.Int64
	}
	return storage.String
}
