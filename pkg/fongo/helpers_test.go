package fongo

import (
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/mozhou-tech/fongo-go/pkg/value"
	"github.com/sirupsen/logrus"
)

const pieData = `[
	{"_id": 1, "sec": "dessert", "category": "pie", "type": "apple"},
	{"_id": 2, "sec": "dessert", "category": "pie", "type": "cherry"},
	{"_id": 3, "sec": "main", "category": "pie", "type": "shepherd's"},
	{"_id": 4, "sec": "main", "category": "pie", "type": "chicken pot"}
]`

func newTestClient(t *testing.T) *Client {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c := NewClient(ClientOptions{Logger: logger})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// newCollection 返回名字唯一的集合句柄。
func newCollection(t *testing.T, db *Database) *Collection {
	t.Helper()
	return db.Collection("coll_" + uuid.NewString())
}

func parseDocs(t *testing.T, literal string) []*value.Document {
	t.Helper()
	docs, err := value.ParseExtJSONArray(literal)
	if err != nil {
		t.Fatalf("Failed to parse fixture: %v", err)
	}
	return docs
}

func parseDoc(t *testing.T, literal string) *value.Document {
	t.Helper()
	d, err := value.ParseExtJSON(literal)
	if err != nil {
		t.Fatalf("Failed to parse %s: %v", literal, err)
	}
	return d
}

func insertJSON(t *testing.T, coll *Collection, literal string) {
	t.Helper()
	if _, err := coll.InsertMany(parseDocs(t, literal)...); err != nil {
		t.Fatalf("Failed to insert fixture: %v", err)
	}
}

func findAll(t *testing.T, coll *Collection) []*value.Document {
	t.Helper()
	docs, err := coll.Find(nil).All()
	if err != nil {
		t.Fatalf("Failed to scan %s: %v", coll.Name(), err)
	}
	return docs
}

func assertSameDocs(t *testing.T, got, want []*value.Document) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("Expected %d documents, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("Document %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func ids(docs []*value.Document) []int64 {
	out := make([]int64, len(docs))
	for i, d := range docs {
		out[i] = d.GetInt("_id")
	}
	return out
}
