package reindexer_test

import (
	"context"
	"fmt"
	"log"

	"github.com/thedenisnikulin/reindexer"
	"github.com/thedenisnikulin/reindexer/index"
	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/variant"
)

// Example_sql demonstrates declaring a namespace, writing items and
// querying them with SQL.
func Example_sql() {
	ctx := context.Background()

	db, err := reindexer.Open()
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	err = db.OpenNamespace(ctx, "items",
		index.Def{Name: "id", JSONPaths: []string{"id"}, IndexType: "hash", FieldType: "int", IsPK: true},
		index.Def{Name: "price", JSONPaths: []string{"price"}, IndexType: "tree", FieldType: "int"},
	)
	if err != nil {
		log.Fatal(err)
	}

	for _, doc := range []string{
		`{"id": 1, "name": "tea", "price": 350}`,
		`{"id": 2, "name": "coffee", "price": 500}`,
		`{"id": 3, "name": "juice", "price": 420}`,
	} {
		if _, err := db.Upsert(ctx, "items", []byte(doc)); err != nil {
			log.Fatal(err)
		}
	}

	res, err := db.ExecSQL(ctx, "SELECT * FROM items WHERE price > 400 ORDER BY price DESC")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.Count())
	// Output: 2
}

// Example_queryBuilder demonstrates the programmatic query builder.
func Example_queryBuilder() {
	ctx := context.Background()

	db, err := reindexer.Open()
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	err = db.OpenNamespace(ctx, "items",
		index.Def{Name: "id", JSONPaths: []string{"id"}, IndexType: "hash", FieldType: "int", IsPK: true},
	)
	if err != nil {
		log.Fatal(err)
	}

	if _, err := db.Upsert(ctx, "items", []byte(`{"id": 1, "kind": "fruit"}`)); err != nil {
		log.Fatal(err)
	}

	q := query.New("items").Where("kind", query.CondEq, variant.NewString("fruit"))
	res, err := db.Select(ctx, q)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.Count())
	// Output: 1
}

// Example_transaction demonstrates a buffered transaction.
func Example_transaction() {
	ctx := context.Background()

	db, err := reindexer.Open()
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	err = db.OpenNamespace(ctx, "items",
		index.Def{Name: "id", JSONPaths: []string{"id"}, IndexType: "hash", FieldType: "int", IsPK: true},
	)
	if err != nil {
		log.Fatal(err)
	}

	tx, err := db.BeginTransaction("items")
	if err != nil {
		log.Fatal(err)
	}
	tx.Upsert([]byte(`{"id": 1}`))
	tx.Upsert([]byte(`{"id": 2}`))
	if err := db.CommitTransaction(ctx, tx); err != nil {
		log.Fatal(err)
	}

	res, err := db.ExecSQL(ctx, "SELECT * FROM items")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.Count())
	// Output: 2
}
