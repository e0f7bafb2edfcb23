// Package reindexer provides an embedded in-memory document database
// with secondary indexes, SQL and JSON-DSL queries, and optional
// persistence.
//
// Documents are schemaless JSON items grouped into namespaces. Declared
// indexes (hash, btree, store, full-text, TTL, geometry and composite)
// accelerate filtering; fields without an index are still queryable by
// JSON path. Every write lands in a per-namespace write-ahead ring, so
// followers can replicate by tailing WAL records.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, err := reindexer.Open(
//	    reindexer.WithLocalStorage("./data", storage.CodecZstd),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer db.Close()
//
//	err = db.OpenNamespace(ctx, "items",
//	    index.Def{Name: "id", JSONPaths: []string{"id"}, IndexType: "hash", FieldType: "int", IsPK: true},
//	    index.Def{Name: "price", JSONPaths: []string{"price"}, IndexType: "tree", FieldType: "int"},
//	)
//
//	_, err = db.Upsert(ctx, "items", []byte(`{"id": 1, "name": "tea", "price": 350}`))
//
// Query with SQL:
//
//	res, err := db.ExecSQL(ctx, "SELECT * FROM items WHERE price > 100 ORDER BY price DESC LIMIT 10")
//	for _, item := range res.Items {
//	    fmt.Println(string(item.JSON))
//	}
//
// Or build the query programmatically:
//
//	q := query.New("items").
//	    Where("price", query.CondGt, variant.NewInt(100)).
//	    SortBy("price", true)
//	res, err := db.Select(ctx, q)
//
// # Transactions
//
// Transactions buffer writes and apply them atomically on commit. Large
// transactions commit against a namespace copy so concurrent readers
// never block:
//
//	tx, _ := db.BeginTransaction("items")
//	tx.Upsert([]byte(`{"id": 2, "name": "coffee", "price": 500}`))
//	tx.Upsert([]byte(`{"id": 3, "name": "juice", "price": 420}`))
//	err = db.CommitTransaction(ctx, tx)
//
// # Replication
//
// A master fans WAL records out to subscribers; a slave opened with
// WithSlaveMode applies them through ApplyWALRecord and rejects direct
// writes. DataHash in the replication state lets both sides verify they
// converged without shipping items.
package reindexer
