package fongo

import (
	"testing"

	"github.com/mozhou-tech/fongo-go/pkg/value"
)

func TestDatabase_CollectionLifecycle(t *testing.T) {
	db := newTestClient(t).Database("test")

	if err := db.CreateCollection("a"); err != nil {
		t.Fatalf("Failed to create collection: %v", err)
	}
	if err := db.CreateCollection("a"); err != nil {
		t.Errorf("Creating an existing collection should be a no-op, got %v", err)
	}
	if _, err := db.Collection("b").Insert(value.D("_id", 1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if names := db.CollectionNames(); len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Expected [a b], got %v", names)
	}

	if err := db.DropCollection("a"); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}
	err := db.DropCollection("a")
	if !IsCollectionNotFoundError(err) {
		t.Errorf("Expected CollectionNotFound, got %v", err)
	}

	for _, bad := range []string{"", "a$b", "nul\x00"} {
		if err := db.CreateCollection(bad); !IsBadValueError(err) {
			t.Errorf("Expected BadValue for %q, got %v", bad, err)
		}
	}
}

func TestDatabase_RenameCollection(t *testing.T) {
	db := newTestClient(t).Database("test")
	src := db.Collection("src")
	insertJSON(t, src, pieData)
	insertJSON(t, db.Collection("taken"), `[{"_id": "old"}]`)

	if err := db.RenameCollection("missing", "x", false); !IsCollectionNotFoundError(err) {
		t.Errorf("Expected CollectionNotFound, got %v", err)
	}
	if err := db.RenameCollection("src", "taken", false); !IsBadValueError(err) {
		t.Errorf("Expected BadValue for existing target, got %v", err)
	}
	if err := db.RenameCollection("src", "taken", true); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if src.Exists() {
		t.Error("Source should no longer exist")
	}
	moved := db.Collection("taken")
	if got := ids(findAll(t, moved)); len(got) != 4 || got[0] != 1 {
		t.Errorf("Expected the source documents under the new name, got %v", got)
	}
	if d, _ := moved.FindByID(value.Int32(3)); d == nil || d.GetString("type") != "shepherd's" {
		t.Errorf("Expected index to follow the rename, got %s", d)
	}
}

func TestClient_Registry(t *testing.T) {
	client := newTestClient(t)
	if client.Name() == "" {
		t.Error("Expected a generated client name")
	}
	if client.DefaultDatabase().Name() != "test" {
		t.Errorf("Expected default database test, got %s", client.DefaultDatabase().Name())
	}
	if client.Database("x") != client.Database("x") {
		t.Error("Expected the same database instance for the same name")
	}
	if client.Database("x").Client() != client {
		t.Error("Database should point back to its client")
	}
	if _, err := client.Database("y").Collection("c").Insert(value.D()); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	names := client.DatabaseNames()
	if len(names) < 2 || names[0] > names[1] {
		t.Errorf("Expected sorted database names, got %v", names)
	}

	if err := client.DropDatabase("y"); err != nil {
		t.Fatalf("DropDatabase failed: %v", err)
	}
	if n, _ := client.Database("y").Collection("c").Count(nil); n != 0 {
		t.Errorf("Expected dropped database to be empty, got %d", n)
	}
}

func TestClient_IsolatedRegistries(t *testing.T) {
	a := newTestClient(t)
	b := newTestClient(t)
	if _, err := a.Database("test").Collection("c").Insert(value.D("_id", 1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if b.Database("test").HasCollection("c") {
		t.Error("Clients must not share databases")
	}
}

func TestClient_Close(t *testing.T) {
	client := NewClient(ClientOptions{Name: "closing", Logger: newTestClient(t).logger})
	db := client.Database("test")
	coll := db.Collection("c")
	if _, err := coll.Insert(value.D("_id", 1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := coll.Insert(value.D("_id", 2)); !IsClosedError(err) {
		t.Errorf("Expected Closed error after close, got %v", err)
	}
	if _, err := client.Database("other").Collection("c").Count(nil); !IsClosedError(err) {
		t.Errorf("Expected Closed error from a new database, got %v", err)
	}
	res := coll.Aggregate(value.D("$out", "x"))
	if res.OK() || !IsClosedError(res.Err()) || res.Code() != CodeClientClosed {
		t.Errorf("Expected a failed command result, got %s", res.Document())
	}
	if err := client.DropDatabase("test"); !IsClosedError(err) {
		t.Errorf("Expected Closed error from DropDatabase, got %v", err)
	}
}
