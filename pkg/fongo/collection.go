package fongo

import (
	"github.com/mozhou-tech/fongo-go/pkg/value"
	"github.com/sirupsen/logrus"
)

// Collection 是集合句柄，只保存名字；每次操作都重新解析底层存储，
// 因此句柄在集合被删除或重建后依然可用。
type Collection struct {
	db   *Database
	name string
}

func (c *Collection) Name() string {
	return c.name
}

// FullName 返回 "db.collection" 形式的命名空间。
func (c *Collection) FullName() string {
	return c.db.name + "." + c.name
}

func (c *Collection) Database() *Database {
	return c.db
}

// Exists 判断集合是否已经物化。
func (c *Collection) Exists() bool {
	return c.db.HasCollection(c.name)
}

// snapshot 返回集合当前内容；集合不存在时返回空。
func (c *Collection) snapshot() ([]*value.Document, error) {
	s, ok, err := c.db.lookup(c.name)
	if err != nil || !ok {
		return nil, err
	}
	return s.snapshot(), nil
}

// Insert 插入文档并返回 _id。文档缺少 _id 时自动生成 ObjectId；
// _id 已存在时返回 DuplicateKey。传入的文档不会被修改。
func (c *Collection) Insert(doc *value.Document) (value.Value, error) {
	var id value.Value
	err := c.db.write(c.name, func(s *store) error {
		var err error
		id, err = s.insert(doc)
		return err
	})
	if err != nil {
		return value.Value{}, err
	}
	return id, nil
}

// InsertMany 按顺序插入，遇到第一个错误即停止，返回已插入文档的 _id。
func (c *Collection) InsertMany(docs ...*value.Document) ([]value.Value, error) {
	ids := make([]value.Value, 0, len(docs))
	for _, d := range docs {
		id, err := c.Insert(d)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ReplaceOrInsert 以 id 为键写入文档：存在则原位替换，否则追加。
// doc 自带的 _id 必须与 id 一致。返回是否替换了已有文档。
func (c *Collection) ReplaceOrInsert(id value.Value, doc *value.Document) (bool, error) {
	body := doc.Clone()
	if body == nil {
		body = value.NewDocument()
	}
	if own, ok := body.Get(idField); ok && !value.Equal(own, id) {
		return false, badValue("the _id field cannot be changed from %s to %s", id, own)
	}
	body.Prepend(idField, id)

	var replaced bool
	err := c.db.write(c.name, func(s *store) error {
		var err error
		_, replaced, err = s.replaceOrInsert(body)
		return err
	})
	return replaced, err
}

// FindByID 按 _id 查找，未找到时返回 nil。
func (c *Collection) FindByID(id value.Value) (*value.Document, error) {
	s, ok, err := c.db.lookup(c.name)
	if err != nil || !ok {
		return nil, err
	}
	d, found := s.findByID(id)
	if !found {
		return nil, nil
	}
	return d.Clone(), nil
}

// Find 创建查询，filter 为 nil 时匹配全部文档。
func (c *Collection) Find(filter *value.Document) *Query {
	return &Query{
		collection: c,
		filter:     filter,
		limit:      -1,
	}
}

// FindOne 便捷方法：执行查询并返回首个匹配文档，没有匹配时返回 nil。
func (c *Collection) FindOne(filter *value.Document) (*value.Document, error) {
	return c.Find(filter).One()
}

// Count 返回匹配 filter 的文档数，filter 为 nil 时返回集合大小。
func (c *Collection) Count(filter *value.Document) (int, error) {
	if filter.Len() == 0 {
		s, ok, err := c.db.lookup(c.name)
		if err != nil || !ok {
			return 0, err
		}
		return s.count(), nil
	}
	return c.Find(filter).Count()
}

// DeleteByID 删除指定 _id 的文档，返回是否删除。
func (c *Collection) DeleteByID(id value.Value) (bool, error) {
	s, ok, err := c.db.lookup(c.name)
	if err != nil || !ok {
		return false, err
	}
	deleted, err := s.delete(id)
	if err == errStoreDropped {
		return false, nil
	}
	return deleted, err
}

// DeleteMany 删除所有匹配 filter 的文档，返回删除数量。
func (c *Collection) DeleteMany(filter *value.Document) (int, error) {
	f, err := CompileFilter(filter)
	if err != nil {
		return 0, err
	}
	s, ok, err := c.db.lookup(c.name)
	if err != nil || !ok {
		return 0, err
	}
	n, err := s.deleteWhere(f.Match)
	if err == errStoreDropped {
		return 0, nil
	}
	if n > 0 {
		c.db.log.WithFields(logrus.Fields{
			"collection": c.name,
			"deleted":    n,
		}).Debug("Documents deleted")
	}
	return n, err
}

// Drop 删除集合；集合不存在时静默成功。
func (c *Collection) Drop() error {
	err := c.db.DropCollection(c.name)
	if IsCollectionNotFoundError(err) {
		return nil
	}
	return err
}
