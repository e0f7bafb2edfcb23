package reindexer

import (
	"context"
	"time"

	"github.com/thedenisnikulin/reindexer/engine"
	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/wal"
)

// Select executes a SELECT query.
func (db *DB) Select(ctx context.Context, q *query.Query) (*engine.QueryResults, error) {
	start := time.Now()
	res, err := db.execQuery(ctx, q)
	db.metrics.recordSelect(time.Since(start), err)
	return res, err
}

// ExecSQL parses and executes a SQL statement. SELECT, UPDATE, DELETE
// and TRUNCATE are supported.
func (db *DB) ExecSQL(ctx context.Context, sql string) (*engine.QueryResults, error) {
	start := time.Now()
	q, err := query.ParseSQL(sql)
	if err != nil {
		db.metrics.recordSelect(time.Since(start), err)
		return nil, err
	}
	res, err := db.execQuery(ctx, q)
	db.metrics.recordSelect(time.Since(start), err)
	return res, err
}

// ExecDSL executes a query given as the JSON DSL document.
func (db *DB) ExecDSL(ctx context.Context, dsl []byte) (*engine.QueryResults, error) {
	q, err := query.ParseDSL(dsl)
	if err != nil {
		return nil, err
	}
	return db.Select(ctx, q)
}

// ExecBinary executes a query given in the binary wire encoding.
func (db *DB) ExecBinary(ctx context.Context, data []byte) (*engine.QueryResults, error) {
	q, err := query.ParseBinary(data)
	if err != nil {
		return nil, err
	}
	return db.execQuery(ctx, q)
}

func (db *DB) execQuery(ctx context.Context, q *query.Query) (*engine.QueryResults, error) {
	ns, err := db.namespace(q.Namespace)
	if err != nil {
		return nil, err
	}
	switch q.Type {
	case query.QuerySelect:
		return ns.Select(ctx, q, db.resolve())
	case query.QueryUpdate:
		return ns.UpdateQuery(ctx, q, db.resolve(), wal.EmptyLSN)
	case query.QueryDelete:
		return ns.DeleteQuery(ctx, q, db.resolve(), wal.EmptyLSN)
	case query.QueryTruncate:
		if err := ns.Truncate(ctx); err != nil {
			return nil, err
		}
		return &engine.QueryResults{TotalCount: -1}, nil
	}
	return nil, errs.Params("unsupported query type %s", q.Type)
}
