package fongo

import (
	"testing"

	"github.com/mozhou-tech/fongo-go/pkg/value"
)

func outStageDoc(target string) *value.Document {
	return value.D("$out", target)
}

// TestAggregateOut_CopiesSource 测试 $out 写入已存在的空集合
func TestAggregateOut_CopiesSource(t *testing.T) {
	db := newTestClient(t).Database("test")
	coll := newCollection(t, db)
	second := newCollection(t, db)
	if err := db.CreateCollection(second.Name()); err != nil {
		t.Fatalf("Failed to create destination: %v", err)
	}
	insertJSON(t, coll, pieData)

	res := coll.Aggregate(outStageDoc(second.Name()))
	if !res.OK() {
		t.Fatalf("Expected ok result, got %s", res.Document())
	}
	assertSameDocs(t, res.Result(), parseDocs(t, pieData))

	n, err := second.Count(nil)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if n != 4 {
		t.Errorf("Expected 4 documents in destination, got %d", n)
	}
	first, err := second.FindOne(value.D("_id", 1))
	if err != nil || first == nil {
		t.Fatalf("Failed to find _id 1: %v", err)
	}
	if first.GetString("type") != "apple" || first.GetString("category") != "pie" {
		t.Errorf("Unexpected document for _id 1: %s", first)
	}
	last, _ := second.FindOne(value.D("_id", 4))
	if last.GetString("type") != "chicken pot" {
		t.Errorf("Expected chicken pot, got %s", last)
	}
}

// TestAggregateOut_EmptySource 测试空源集合
func TestAggregateOut_EmptySource(t *testing.T) {
	db := newTestClient(t).Database("test")
	coll := newCollection(t, db)
	second := newCollection(t, db)
	insertJSON(t, coll, `[]`)

	res := coll.Aggregate(outStageDoc(second.Name()))
	if !res.OK() {
		t.Fatalf("Expected ok result, got %s", res.Document())
	}
	if got := res.Result(); got == nil || len(got) != 0 {
		t.Errorf("Expected an empty non-nil result, got %v", got)
	}
	if !second.Exists() {
		t.Error("Expected destination to exist after $out")
	}
	if n, _ := second.Count(nil); n != 0 {
		t.Errorf("Expected empty destination, got %d documents", n)
	}
}

// TestAggregateOut_NonExistentDestination 测试目标集合不存在时自动创建
func TestAggregateOut_NonExistentDestination(t *testing.T) {
	db := newTestClient(t).Database("test")
	coll := newCollection(t, db)
	insertJSON(t, coll, pieData)

	if db.HasCollection("new_collection") {
		t.Fatal("new_collection should not exist yet")
	}
	res := coll.Aggregate(outStageDoc("new_collection"))
	if !res.OK() {
		t.Fatalf("Expected ok result, got %s", res.Document())
	}
	assertSameDocs(t, res.Result(), parseDocs(t, pieData))

	created := db.Collection("new_collection")
	if n, _ := created.Count(nil); n != 4 {
		t.Errorf("Expected 4 documents, got %d", n)
	}
	for _, src := range parseDocs(t, pieData) {
		id, _ := src.Get("_id")
		got, err := created.FindByID(id)
		if err != nil || got == nil {
			t.Fatalf("Failed to find %s: %v", id, err)
		}
		if !got.Equal(src) {
			t.Errorf("Expected %s, got %s", src, got)
		}
	}
}

func TestAggregateOut_ReplacesExistingContents(t *testing.T) {
	db := newTestClient(t).Database("test")
	coll := newCollection(t, db)
	dest := newCollection(t, db)
	insertJSON(t, coll, pieData)
	insertJSON(t, dest, `[{"_id": 100, "stale": true}, {"_id": "x", "stale": true}]`)

	res := coll.Aggregate(value.D("$match", value.D("sec", "main")), outStageDoc(dest.Name()))
	if !res.OK() {
		t.Fatalf("Expected ok result, got %s", res.Document())
	}
	got := findAll(t, dest)
	if want := []int64{3, 4}; len(got) != 2 || ids(got)[0] != want[0] || ids(got)[1] != want[1] {
		t.Fatalf("Expected _ids %v, got %v", want, ids(got))
	}
	if n, _ := dest.Count(value.D("stale", true)); n != 0 {
		t.Errorf("Expected prior contents to be gone, %d remain", n)
	}
}

func TestAggregateOut_Idempotent(t *testing.T) {
	db := newTestClient(t).Database("test")
	coll := newCollection(t, db)
	dest := newCollection(t, db)
	insertJSON(t, coll, pieData)

	pipeline := []*value.Document{
		value.D("$sort", value.D("_id", -1)),
		outStageDoc(dest.Name()),
	}
	first := coll.Aggregate(pipeline...)
	afterFirst := findAll(t, dest)
	second := coll.Aggregate(pipeline...)
	afterSecond := findAll(t, dest)

	if !first.OK() || !second.OK() {
		t.Fatalf("Expected both runs to succeed: %s / %s", first.Document(), second.Document())
	}
	assertSameDocs(t, afterSecond, afterFirst)
	if got := ids(afterSecond); got[0] != 4 || got[3] != 1 {
		t.Errorf("Expected destination in pipeline output order, got %v", got)
	}
}

func TestAggregateOut_SourceUntouched(t *testing.T) {
	db := newTestClient(t).Database("test")
	coll := newCollection(t, db)
	insertJSON(t, coll, pieData)

	res := coll.Aggregate(
		value.D("$project", value.D("type", 1)),
		outStageDoc("projected"),
	)
	if !res.OK() {
		t.Fatalf("Expected ok result, got %s", res.Document())
	}
	assertSameDocs(t, findAll(t, coll), parseDocs(t, pieData))

	projected := findAll(t, db.Collection("projected"))
	if len(projected) != 4 || projected[0].Has("sec") || !projected[0].Has("type") {
		t.Errorf("Unexpected projected contents: %v", projected)
	}
}

func TestAggregateOut_GeneratesMissingIDs(t *testing.T) {
	db := newTestClient(t).Database("test")
	coll := newCollection(t, db)
	insertJSON(t, coll, pieData)

	res := coll.Aggregate(
		value.D("$group", value.D("_id", "$sec", "n", value.D("$sum", 1))),
		value.D("$project", value.D("_id", 0, "sec", "$_id", "n", 1)),
		outStageDoc("by_sec"),
	)
	if !res.OK() {
		t.Fatalf("Expected ok result, got %s", res.Document())
	}
	written := res.Result()
	stored := findAll(t, db.Collection("by_sec"))
	if len(written) != 2 || len(stored) != 2 {
		t.Fatalf("Expected 2 documents, got result=%d stored=%d", len(written), len(stored))
	}
	for i := range written {
		id, ok := written[i].Get("_id")
		if !ok || id.Kind() != value.KindObjectID {
			t.Fatalf("Expected a generated ObjectId, got %s", written[i])
		}
		if !written[i].Equal(stored[i]) {
			t.Errorf("Result %s does not match stored %s", written[i], stored[i])
		}
	}
	if stored[0].GetString("sec") != "dessert" || stored[0].GetInt("n") != 2 {
		t.Errorf("Unexpected first group %s", stored[0])
	}
}

func TestAggregateOut_DuplicateIDLeavesDestination(t *testing.T) {
	db := newTestClient(t).Database("test")
	coll := newCollection(t, db)
	dest := newCollection(t, db)
	insertJSON(t, coll, pieData)
	insertJSON(t, dest, `[{"_id": "keep"}]`)

	res := coll.Aggregate(
		value.D("$project", value.D("_id", "$category")),
		outStageDoc(dest.Name()),
	)
	if res.OK() {
		t.Fatal("Expected duplicate _id to fail the pipeline")
	}
	if !IsDuplicateKeyError(res.Err()) || res.Code() != CodeDuplicateKey {
		t.Errorf("Expected DuplicateKey, got %v (code %d)", res.Err(), res.Code())
	}
	if got := findAll(t, dest); len(got) != 1 || got[0].GetString("_id") != "keep" {
		t.Errorf("Destination should be untouched, got %v", got)
	}
}

func TestAggregateOut_NotLastStage(t *testing.T) {
	db := newTestClient(t).Database("test")
	coll := newCollection(t, db)
	insertJSON(t, coll, pieData)

	res := coll.Aggregate(outStageDoc("never"), value.D("$match", value.D()))
	if res.OK() {
		t.Fatal("Expected $out in the middle to be rejected")
	}
	if !IsBadPipelineStageError(res.Err()) || res.Code() != CodeOutNotLastStage {
		t.Errorf("Expected BadPipelineStage 40601, got %v (code %d)", res.Err(), res.Code())
	}
	if ok, _ := res.Get("ok"); ok.IsTruthy() {
		t.Errorf("Expected ok: 0, got %s", res.Document())
	}
	if res.ErrMsg() == "" {
		t.Error("Expected an error message")
	}
	if db.HasCollection("never") {
		t.Error("Rejected pipeline must not create the destination")
	}
}

func TestAggregateOut_UnknownStageBeforeOut(t *testing.T) {
	db := newTestClient(t).Database("test")
	coll := newCollection(t, db)
	dest := newCollection(t, db)
	insertJSON(t, coll, pieData)
	insertJSON(t, dest, `[{"_id": 1}]`)

	res := coll.Aggregate(value.D("$bogus", 1), outStageDoc(dest.Name()))
	if !IsBadPipelineStageError(res.Err()) || res.Code() != CodeUnrecognizedStage {
		t.Errorf("Expected unrecognized stage error, got %v", res.Err())
	}
	if n, _ := dest.Count(nil); n != 1 {
		t.Errorf("Destination must not change, has %d documents", n)
	}

	res = coll.Aggregate(value.D("$match", value.D("a", value.D("$bogus", 1))), outStageDoc(dest.Name()))
	if !IsInvalidQueryOperatorError(res.Err()) {
		t.Errorf("Expected InvalidQueryOperator, got %v", res.Err())
	}
	if n, _ := dest.Count(nil); n != 1 {
		t.Errorf("Destination must not change, has %d documents", n)
	}
}

func TestAggregateOut_DocumentForm(t *testing.T) {
	db := newTestClient(t).Database("kitchen")
	coll := newCollection(t, db)
	insertJSON(t, coll, pieData)

	res := coll.Aggregate(value.D("$out", value.D("db", "kitchen", "coll", "menu")))
	if !res.OK() {
		t.Fatalf("Expected ok result, got %s", res.Document())
	}
	if n, _ := db.Collection("menu").Count(nil); n != 4 {
		t.Errorf("Expected 4 documents, got %d", n)
	}

	res = coll.Aggregate(value.D("$out", value.D("db", "elsewhere", "coll", "menu")))
	if !IsBadValueError(res.Err()) {
		t.Errorf("Expected cross-database $out to be rejected, got %v", res.Err())
	}
	res = coll.Aggregate(value.D("$out", 42))
	if !IsBadValueError(res.Err()) {
		t.Errorf("Expected a non-string target to be rejected, got %v", res.Err())
	}
	res = coll.Aggregate(outStageDoc(""))
	if !IsBadValueError(res.Err()) {
		t.Errorf("Expected an empty target to be rejected, got %v", res.Err())
	}
}

func TestAggregateOut_IntoSource(t *testing.T) {
	db := newTestClient(t).Database("test")
	coll := newCollection(t, db)
	insertJSON(t, coll, pieData)

	res := coll.Aggregate(value.D("$match", value.D("sec", "dessert")), outStageDoc(coll.Name()))
	if !res.OK() {
		t.Fatalf("Expected ok result, got %s", res.Document())
	}
	if got := ids(findAll(t, coll)); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("Expected source replaced by its dessert rows, got %v", got)
	}
}

func TestAggregate_NoOutLeavesDatabase(t *testing.T) {
	client := newTestClient(t)
	db := client.Database("test")
	coll := newCollection(t, db)
	insertJSON(t, coll, pieData)

	res := coll.Aggregate(value.D("$match", value.D("type", "cherry")))
	if !res.OK() {
		t.Fatalf("Expected ok result, got %s", res.Document())
	}
	if got := ids(res.Result()); len(got) != 1 || got[0] != 2 {
		t.Errorf("Expected [2], got %v", got)
	}
	if names := db.CollectionNames(); len(names) != 1 {
		t.Errorf("Expected only the source collection, got %v", names)
	}
}

func TestAggregate_MissingSource(t *testing.T) {
	db := newTestClient(t).Database("test")
	res := db.Collection("ghost").Aggregate(outStageDoc("dest"))
	if !res.OK() {
		t.Fatalf("Expected ok result, got %s", res.Document())
	}
	if len(res.Result()) != 0 {
		t.Errorf("Expected empty result, got %v", res.Result())
	}
	if !db.HasCollection("dest") || db.HasCollection("ghost") {
		t.Errorf("Expected only dest to exist, got %v", db.CollectionNames())
	}
}
