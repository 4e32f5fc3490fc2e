package fongo

import (
	"github.com/mozhou-tech/fongo-go/pkg/value"
	"github.com/sirupsen/logrus"
)

// Query 提供链式的 find 查询 API。
type Query struct {
	collection *Collection
	filter     *value.Document
	sort       *value.Document
	skip       int
	limit      int
}

// Sort 设置排序，格式为 {field: 1} 或 {field: -1}。
func (q *Query) Sort(spec *value.Document) *Query {
	q.sort = spec
	return q
}

// Skip 设置跳过的文档数。
func (q *Query) Skip(n int) *Query {
	q.skip = n
	return q
}

// Limit 设置返回的最大文档数，负数表示不限制。
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Cursor 执行查询并返回惰性游标。
// 无排序时过滤在迭代过程中进行；有排序时先物化并排序。
func (q *Query) Cursor() (*Cursor, error) {
	if q.skip < 0 {
		return nil, badValue("skip value must be non-negative")
	}
	filter, err := CompileFilter(q.filter)
	if err != nil {
		return nil, err
	}
	var keys []sortKey
	if q.sort.Len() > 0 {
		if keys, err = parseSortSpec(q.sort); err != nil {
			return nil, err
		}
	}

	docs, err := q.collection.snapshot()
	if err != nil {
		return nil, err
	}
	q.collection.db.log.WithFields(logrus.Fields{
		"collection": q.collection.name,
		"scanned":    len(docs),
	}).Trace("Executing query")

	if keys == nil {
		return newCursor(docs, filter, q.skip, q.limit), nil
	}
	matched := make([]*value.Document, 0, len(docs))
	for _, d := range docs {
		if filter.Match(d) {
			matched = append(matched, d)
		}
	}
	sortDocuments(matched, keys)
	return newCursor(matched, nil, q.skip, q.limit), nil
}

// All 执行查询并返回全部结果（副本）。
func (q *Query) All() ([]*value.Document, error) {
	cur, err := q.Cursor()
	if err != nil {
		return nil, err
	}
	return cur.All(), nil
}

// One 执行查询并返回第一个结果，没有结果时返回 nil。
func (q *Query) One() (*value.Document, error) {
	cur, err := q.Cursor()
	if err != nil {
		return nil, err
	}
	if !cur.Next() {
		return nil, nil
	}
	return cur.Doc(), nil
}

// Count 返回匹配过滤条件的文档数量（忽略 skip/limit）。
func (q *Query) Count() (int, error) {
	filter, err := CompileFilter(q.filter)
	if err != nil {
		return 0, err
	}
	docs, err := q.collection.snapshot()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range docs {
		if filter.Match(d) {
			n++
		}
	}
	return n, nil
}
