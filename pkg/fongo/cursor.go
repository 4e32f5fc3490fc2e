package fongo

import (
	"iter"

	"github.com/mozhou-tech/fongo-go/pkg/value"
)

// Cursor 是建立在快照之上的惰性、可重放迭代器。
// 过滤在 Next 时逐条进行，创建之后的写入对它不可见。
type Cursor struct {
	docs   []*value.Document
	filter *Filter
	skip   int
	limit  int

	pos     int
	skipped int
	emitted int
	cur     *value.Document
}

func newCursor(docs []*value.Document, filter *Filter, skip, limit int) *Cursor {
	return &Cursor{docs: docs, filter: filter, skip: skip, limit: limit}
}

// Next 前进到下一条匹配文档。
func (c *Cursor) Next() bool {
	if c.limit >= 0 && c.emitted >= c.limit {
		c.cur = nil
		return false
	}
	for c.pos < len(c.docs) {
		d := c.docs[c.pos]
		c.pos++
		if !c.filter.Match(d) {
			continue
		}
		if c.skipped < c.skip {
			c.skipped++
			continue
		}
		c.emitted++
		c.cur = d
		return true
	}
	c.cur = nil
	return false
}

// Doc 返回当前文档的副本。
func (c *Cursor) Doc() *value.Document {
	return c.cur.Clone()
}

// Rewind 回到起点，重放同一份快照。
func (c *Cursor) Rewind() {
	c.pos, c.skipped, c.emitted, c.cur = 0, 0, 0, nil
}

// All 从起点读取全部结果。
func (c *Cursor) All() []*value.Document {
	c.Rewind()
	out := make([]*value.Document, 0)
	for c.Next() {
		out = append(out, c.Doc())
	}
	return out
}

// Seq 以 range-over-func 形式遍历，每次调用都从起点开始。
func (c *Cursor) Seq() iter.Seq[*value.Document] {
	return func(yield func(*value.Document) bool) {
		c.Rewind()
		for c.Next() {
			if !yield(c.Doc()) {
				return
			}
		}
	}
}
