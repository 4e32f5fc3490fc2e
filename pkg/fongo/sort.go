package fongo

import (
	"sort"

	"github.com/mozhou-tech/fongo-go/pkg/value"
)

// sortKey 排序字段定义。
type sortKey struct {
	path string
	desc bool
}

// parseSortSpec 解析 {field: 1|-1, ...}，字段顺序即优先级。
func parseSortSpec(spec *value.Document) ([]sortKey, error) {
	if spec.Len() == 0 {
		return nil, badValue("sort specification must not be empty")
	}
	keys := make([]sortKey, 0, spec.Len())
	for _, f := range spec.Fields() {
		dir, ok := integralOperand(f.Value)
		if !ok || (dir != 1 && dir != -1) {
			return nil, badValue("sort order for %q must be 1 or -1, got %s", f.Key, f.Value)
		}
		keys = append(keys, sortKey{path: f.Key, desc: dir == -1})
	}
	return keys, nil
}

// sortValue 取排序用的值：数组按升序取最小元素、降序取最大元素，缺失按 Null。
func sortValue(doc *value.Document, path string, desc bool) value.Value {
	leaves, found := value.Resolve(doc, path)
	if !found {
		return value.Null()
	}
	var (
		best value.Value
		seen bool
	)
	consider := func(v value.Value) {
		if !seen {
			best, seen = v, true
			return
		}
		c := value.Compare(v, best)
		if (desc && c > 0) || (!desc && c < 0) {
			best = v
		}
	}
	for _, leaf := range leaves {
		if arr, ok := leaf.AsArray(); ok {
			for _, e := range arr {
				consider(e)
			}
			continue
		}
		consider(leaf)
	}
	if !seen {
		return value.Null()
	}
	return best
}

// sortDocuments 稳定排序，相同键保持输入顺序。
func sortDocuments(docs []*value.Document, keys []sortKey) {
	type row struct {
		doc  *value.Document
		vals []value.Value
	}
	rows := make([]row, len(docs))
	for i, d := range docs {
		vals := make([]value.Value, len(keys))
		for k, key := range keys {
			vals[k] = sortValue(d, key.path, key.desc)
		}
		rows[i] = row{doc: d, vals: vals}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for k, key := range keys {
			c := value.Compare(rows[i].vals[k], rows[j].vals[k])
			if c == 0 {
				continue
			}
			if key.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	for i := range rows {
		docs[i] = rows[i].doc
	}
}
