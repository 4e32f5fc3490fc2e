package fongo

import (
	"testing"

	"github.com/mozhou-tech/fongo-go/pkg/value"
)

const orderData = `[
	{"_id": 1, "cust": "ann", "status": "A", "amount": 50, "items": [{"sku": "x", "qty": 1}, {"sku": "y", "qty": 2}]},
	{"_id": 2, "cust": "bob", "status": "A", "amount": 100, "items": [{"sku": "x", "qty": 5}]},
	{"_id": 3, "cust": "ann", "status": "D", "amount": 25.5, "items": []},
	{"_id": 4, "cust": "cid", "status": "A", "amount": 75}
]`

func aggregate(t *testing.T, coll *Collection, pipeline ...*value.Document) []*value.Document {
	t.Helper()
	res := coll.Aggregate(pipeline...)
	if !res.OK() {
		t.Fatalf("Aggregate failed: %v", res.Err())
	}
	return res.Result()
}

func ordersCollection(t *testing.T) *Collection {
	t.Helper()
	coll := newCollection(t, newTestClient(t).Database("shop"))
	insertJSON(t, coll, orderData)
	return coll
}

func TestAggregate_MatchSortSkipLimit(t *testing.T) {
	coll := ordersCollection(t)
	got := aggregate(t, coll,
		value.D("$match", value.D("status", "A")),
		value.D("$sort", value.D("amount", -1)),
		value.D("$skip", 1),
		value.D("$limit", 1),
	)
	if want := []int64{4}; len(got) != 1 || ids(got)[0] != want[0] {
		t.Errorf("Expected %v, got %v", want, ids(got))
	}
}

func TestAggregate_Group(t *testing.T) {
	coll := ordersCollection(t)
	got := aggregate(t, coll,
		value.D("$group", value.D(
			"_id", "$cust",
			"total", value.D("$sum", "$amount"),
			"avg", value.D("$avg", "$amount"),
			"orders", value.D("$sum", 1),
			"first", value.D("$first", "$_id"),
			"last", value.D("$last", "$_id"),
			"max", value.D("$max", "$amount"),
			"min", value.D("$min", "$amount"),
			"statuses", value.D("$addToSet", "$status"),
			"ids", value.D("$push", "$_id"),
			"n", value.D("$count", value.D()),
		)),
	)
	if len(got) != 3 {
		t.Fatalf("Expected 3 groups, got %d: %v", len(got), got)
	}
	ann := got[0]
	if ann.GetString("_id") != "ann" {
		t.Fatalf("Expected groups in first-seen order, got %s first", ann)
	}
	if ann.GetFloat("total") != 75.5 || ann.GetFloat("avg") != 37.75 {
		t.Errorf("Unexpected totals for ann: %s", ann)
	}
	if ann.GetInt("orders") != 2 || ann.GetInt("n") != 2 {
		t.Errorf("Expected 2 orders for ann: %s", ann)
	}
	if ann.GetInt("first") != 1 || ann.GetInt("last") != 3 {
		t.Errorf("Unexpected first/last for ann: %s", ann)
	}
	if ann.GetInt("max") != 50 || ann.GetFloat("min") != 25.5 {
		t.Errorf("Unexpected min/max for ann: %s", ann)
	}
	if len(ann.GetArray("statuses")) != 2 || len(ann.GetArray("ids")) != 2 {
		t.Errorf("Unexpected arrays for ann: %s", ann)
	}

	bob := got[1]
	total, _ := bob.Get("total")
	if total.Kind() != value.KindInt32 || bob.GetInt("total") != 100 {
		t.Errorf("Expected integer total for bob, got %s", total)
	}
}

func TestAggregate_GroupNullKeyAndErrors(t *testing.T) {
	coll := ordersCollection(t)
	got := aggregate(t, coll, value.D("$group", value.D("_id", nil, "n", value.D("$sum", 1))))
	if len(got) != 1 || got[0].GetInt("n") != 4 {
		t.Fatalf("Expected a single group of 4, got %v", got)
	}
	id, _ := got[0].Get("_id")
	if !id.IsNull() {
		t.Errorf("Expected null _id, got %s", id)
	}

	res := coll.Aggregate(value.D("$group", value.D("n", value.D("$sum", 1))))
	if !IsBadValueError(res.Err()) {
		t.Errorf("Expected missing _id to be rejected, got %v", res.Err())
	}
	res = coll.Aggregate(value.D("$group", value.D("_id", nil, "n", value.D("$median", 1))))
	if !IsBadPipelineStageError(res.Err()) {
		t.Errorf("Expected unknown accumulator to be rejected, got %v", res.Err())
	}
}

func TestAggregate_Unwind(t *testing.T) {
	coll := ordersCollection(t)
	got := aggregate(t, coll, value.D("$unwind", "$items"))
	if want := []int64{1, 1, 2}; len(got) != len(want) {
		t.Fatalf("Expected _ids %v, got %v", want, ids(got))
	}
	if got[1].GetDocument("items").GetString("sku") != "y" {
		t.Errorf("Expected second unwound item y, got %s", got[1])
	}

	got = aggregate(t, coll, value.D("$unwind", value.D(
		"path", "$items",
		"includeArrayIndex", "idx",
		"preserveNullAndEmptyArrays", true,
	)))
	if want := []int64{1, 1, 2, 3, 4}; len(got) != len(want) {
		t.Fatalf("Expected _ids %v, got %v", want, ids(got))
	}
	if got[1].GetInt("idx") != 1 {
		t.Errorf("Expected idx 1, got %s", got[1])
	}
	if idx, _ := got[3].Get("idx"); !idx.IsNull() {
		t.Errorf("Expected null idx for empty array, got %s", got[3])
	}
	if got[3].Has("items") || got[4].Has("items") {
		t.Errorf("Expected preserved empty and missing arrays without the field, got %s / %s", got[3], got[4])
	}

	nulls := newCollection(t, coll.Database())
	insertJSON(t, nulls, `[{"_id": 1, "sizes": null}, {"_id": 2, "sizes": []}]`)
	got = aggregate(t, nulls, value.D("$unwind", value.D("path", "$sizes", "preserveNullAndEmptyArrays", true)))
	if len(got) != 2 {
		t.Fatalf("Expected both documents preserved, got %v", got)
	}
	if v, has := got[0].Get("sizes"); !has || !v.IsNull() {
		t.Errorf("Expected null to be kept, got %s", got[0])
	}
	if got[1].Has("sizes") {
		t.Errorf("Expected empty array field to be removed, got %s", got[1])
	}
	if stored, _ := nulls.FindByID(value.Int32(2)); stored == nil || !stored.Has("sizes") {
		t.Errorf("Unwind must not modify stored documents, got %s", stored)
	}

	res := coll.Aggregate(value.D("$unwind", "items"))
	if !IsBadValueError(res.Err()) {
		t.Errorf("Expected path without $ to be rejected, got %v", res.Err())
	}
}

func TestAggregate_Project(t *testing.T) {
	coll := ordersCollection(t)
	got := aggregate(t, coll,
		value.D("$match", value.D("_id", 1)),
		value.D("$project", value.D(
			"cust", 1,
			"items.sku", 1,
			"double", value.D("$multiply", []any{"$amount", 2}),
			"label", value.D("$concat", []any{"$cust", "-", "$status"}),
		)),
	)
	if len(got) != 1 {
		t.Fatalf("Expected 1 document, got %d", len(got))
	}
	doc := got[0]
	if keys := doc.Keys(); keys[0] != "_id" || doc.Has("status") || doc.Has("amount") {
		t.Errorf("Unexpected projected keys %v", keys)
	}
	if doc.GetInt("double") != 100 || doc.GetString("label") != "ann-A" {
		t.Errorf("Unexpected computed fields: %s", doc)
	}
	items := doc.GetArray("items")
	if len(items) != 2 {
		t.Fatalf("Expected 2 projected items, got %v", items)
	}
	first, _ := items[0].AsDocument()
	if first.Has("qty") || first.GetString("sku") != "x" {
		t.Errorf("Expected only sku in items, got %s", first)
	}

	got = aggregate(t, coll, value.D("$match", value.D("_id", 2)), value.D("$project", value.D("items", 0, "_id", 0)))
	if got[0].Has("items") || got[0].Has("_id") || !got[0].Has("cust") {
		t.Errorf("Unexpected exclusion projection result: %s", got[0])
	}

	res := coll.Aggregate(value.D("$project", value.D("cust", 1, "status", 0)))
	if !IsBadValueError(res.Err()) {
		t.Errorf("Expected mixed projection to be rejected, got %v", res.Err())
	}
}

func TestAggregate_AddFieldsUnsetCount(t *testing.T) {
	coll := ordersCollection(t)
	got := aggregate(t, coll,
		value.D("$addFields", value.D(
			"big", value.D("$gte", []any{"$amount", 75}),
			"meta.itemCount", value.D("$size", value.D("$ifNull", []any{"$items", []any{}})),
		)),
		value.D("$set", value.D("upper", value.D("$toUpper", "$cust"))),
		value.D("$unset", []any{"items", "status"}),
	)
	if len(got) != 4 {
		t.Fatalf("Expected 4 documents, got %d", len(got))
	}
	if !got[1].GetBool("big") || got[0].GetBool("big") {
		t.Errorf("Unexpected big flags: %s / %s", got[0], got[1])
	}
	if got[0].GetDocument("meta").GetInt("itemCount") != 2 || got[3].GetDocument("meta").GetInt("itemCount") != 0 {
		t.Errorf("Unexpected item counts: %s / %s", got[0], got[3])
	}
	if got[2].GetString("upper") != "ANN" || got[2].Has("items") || got[2].Has("status") {
		t.Errorf("Unexpected document after $set/$unset: %s", got[2])
	}

	counted := aggregate(t, coll, value.D("$match", value.D("status", "A")), value.D("$count", "active"))
	if len(counted) != 1 || counted[0].GetInt("active") != 3 {
		t.Errorf("Expected {active: 3}, got %v", counted)
	}
	if none := aggregate(t, coll, value.D("$match", value.D("status", "Z")), value.D("$count", "n")); len(none) != 0 {
		t.Errorf("Expected no output for an empty $count, got %v", none)
	}
}

// TestAggregate_CaseConversion 测试 $toUpper/$toLower 对数值与日期使用其字符串形式
func TestAggregate_CaseConversion(t *testing.T) {
	coll := newCollection(t, newTestClient(t).Database("test"))
	insertJSON(t, coll, `[
		{"_id": 1, "v": {"$numberLong": "5"}},
		{"_id": 2, "v": 2.5},
		{"_id": 3, "v": {"$date": "2024-03-01T10:20:30.123Z"}},
		{"_id": 4, "v": "MiXed"},
		{"_id": 5, "v": null},
		{"_id": 6, "v": true},
		{"_id": 7, "v": {"$numberInt": "-7"}}
	]`)
	got := aggregate(t, coll,
		value.D("$project", value.D(
			"up", value.D("$toUpper", "$v"),
			"low", value.D("$toLower", "$v"),
		)),
	)
	want := []struct {
		up, low string
		null    bool
	}{
		{up: "5", low: "5"},
		{up: "2.5", low: "2.5"},
		{up: "2024-03-01T10:20:30.123Z", low: "2024-03-01t10:20:30.123z"},
		{up: "MIXED", low: "mixed"},
		{up: "", low: ""},
		{null: true},
		{up: "-7", low: "-7"},
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d documents, got %d", len(want), len(got))
	}
	for i, w := range want {
		up, _ := got[i].Get("up")
		if w.null {
			if !up.IsNull() {
				t.Errorf("_id %d: expected null, got %s", i+1, got[i])
			}
			continue
		}
		if got[i].GetString("up") != w.up || got[i].GetString("low") != w.low {
			t.Errorf("_id %d: expected %q/%q, got %s", i+1, w.up, w.low, got[i])
		}
	}
}

func TestAggregate_StageErrors(t *testing.T) {
	coll := ordersCollection(t)
	cases := []struct {
		name  string
		stage *value.Document
		check func(error) bool
	}{
		{"two keys", value.D("$match", value.D(), "$limit", 1), IsBadPipelineStageError},
		{"unknown stage", value.D("$lookup", value.D()), IsBadPipelineStageError},
		{"unknown expression", value.D("$project", value.D("x", value.D("$foo", 1))), IsBadPipelineStageError},
		{"negative skip", value.D("$skip", -1), IsBadValueError},
		{"zero limit", value.D("$limit", 0), IsBadValueError},
		{"bad sort", value.D("$sort", value.D("a", 2)), IsBadValueError},
		{"bad count", value.D("$count", "$n"), IsBadValueError},
		{"arity", value.D("$project", value.D("x", value.D("$divide", []any{1}))), IsBadValueError},
	}
	for _, c := range cases {
		res := coll.Aggregate(c.stage)
		if res.OK() || !c.check(res.Err()) {
			t.Errorf("%s: unexpected result %v", c.name, res.Err())
		}
	}
}

func TestRegisterStage(t *testing.T) {
	RegisterStage("$tagAll", func(spec value.Value) (Stage, error) {
		tag, ok := spec.AsString()
		if !ok {
			return nil, NewError(ErrorKindBadValue, CodeBadValue, "$tagAll needs a string", nil)
		}
		return mapStage(func(doc *value.Document) *value.Document {
			out := doc.Clone()
			out.Set("tag", value.String(tag))
			return out
		}), nil
	})

	coll := ordersCollection(t)
	got := aggregate(t, coll, value.D("$tagAll", "seen"))
	for _, d := range got {
		if d.GetString("tag") != "seen" {
			t.Errorf("Expected tag on %s", d)
		}
	}
	if src := findAll(t, coll); src[0].Has("tag") {
		t.Error("Registered stage must not modify stored documents")
	}
}
