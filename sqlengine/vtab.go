//go:build sqlite_vtable

package sqlengine

import (
	"github.com/cockroachdb/errors"
	"github.com/mattn/go-sqlite3"

	"traceproc/intersect"
	"traceproc/storage"
)

// VTabEnabled reports whether interval_intersect is available in SQL.
const VTabEnabled = true

func registerModules(conn *sqlite3.SQLiteConn, reg *storage.Registry) error {
	return conn.CreateModule(OperatorName, &intersectModule{reg: reg})
}

// ───────────────────────────────── Module ──────────────────────────────────

type intersectModule struct {
	reg *storage.Registry
}

func (m *intersectModule) EponymousOnlyModule() {}

func (m *intersectModule) Create(c *sqlite3.SQLiteConn, args []string) (sqlite3.VTab, error) {
	return m.Connect(c, args)
}

func (m *intersectModule) Connect(c *sqlite3.SQLiteConn, _ []string) (sqlite3.VTab, error) {
	if err := c.DeclareVTab(intersect.Schema); err != nil {
		return nil, errors.Wrap(err, "interval_intersect operator: declare")
	}
	return &intersectTable{reg: m.reg}, nil
}

func (m *intersectModule) DestroyModule() {}

// ───────────────────────────────── Table ───────────────────────────────────

type intersectTable struct {
	reg *storage.Registry
}

func (t *intersectTable) BestIndex(cs []sqlite3.InfoConstraint, _ []sqlite3.InfoOrderBy) (*sqlite3.IndexResult, error) {
	in := make([]intersect.Constraint, len(cs))
	for i, c := range cs {
		in[i] = intersect.Constraint{Column: c.Column, Op: convertOp(c.Op), Usable: c.Usable}
	}
	plan, err := intersect.BestIndex(in, t.reg.MaxRows())
	if err != nil {
		return nil, err
	}
	return &sqlite3.IndexResult{
		Used:          plan.Used,
		IdxNum:        int(plan.Mode),
		IdxStr:        plan.IdxStr,
		EstimatedCost: plan.EstimatedCost,
		EstimatedRows: plan.EstimatedRows,
	}, nil
}

func convertOp(op sqlite3.Op) intersect.Op {
	switch op {
	case sqlite3.OpEQ:
		return intersect.OpEQ
	case sqlite3.OpLT:
		return intersect.OpLT
	case sqlite3.OpLE:
		return intersect.OpLE
	case sqlite3.OpGT:
		return intersect.OpGT
	case sqlite3.OpGE:
		return intersect.OpGE
	}
	return intersect.OpOther
}

func (t *intersectTable) Open() (sqlite3.VTabCursor, error) {
	return &intersectCursor{c: intersect.NewCursor(t.reg)}, nil
}

func (t *intersectTable) Disconnect() error { return nil }
func (t *intersectTable) Destroy() error    { return nil }

// ───────────────────────────────── Cursor ──────────────────────────────────

type intersectCursor struct {
	c *intersect.Cursor
}

func (c *intersectCursor) Filter(idxNum int, idxStr string, vals []any) error {
	return c.c.Filter(idxNum, idxStr, vals)
}

func (c *intersectCursor) Next() error {
	c.c.Next()
	return nil
}

func (c *intersectCursor) EOF() bool { return c.c.EOF() }

func (c *intersectCursor) Column(ctx *sqlite3.SQLiteContext, col int) error {
	v, err := c.c.Column(col)
	if err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		ctx.ResultNull()
	case int64:
		ctx.ResultInt64(x)
	case float64:
		ctx.ResultDouble(x)
	case string:
		ctx.ResultText(x)
	default:
		return errors.Newf("interval_intersect operator: unsupported value %T", v)
	}
	return nil
}

func (c *intersectCursor) Rowid() (int64, error) { return c.c.Rowid(), nil }

func (c *intersectCursor) Close() error { return nil }
