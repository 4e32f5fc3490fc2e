package fongo

import (
	"sync"

	"github.com/mozhou-tech/fongo-go/pkg/value"
	"github.com/sirupsen/logrus"
)

const idField = "_id"

// store 是单个集合的存储：按插入顺序保存文档，并维护 _id 到位置的索引。
// 已存入的文档不可变，写操作只替换指针，因此快照只需拷贝指针切片。
type store struct {
	db   string
	name string
	log  *logrus.Entry

	mu      sync.RWMutex
	docs    []*value.Document
	index   map[string]int // value.Key(_id) -> docs 下标
	dropped bool
}

func newStore(db, name string, log *logrus.Logger) *store {
	return &store{
		db:    db,
		name:  name,
		log:   log.WithFields(logrus.Fields{"db": db, "collection": name}),
		index: make(map[string]int),
	}
}

// prepareForStorage 拷贝文档并确保 _id 存在且位于首位，数组 _id 会被拒绝。
func prepareForStorage(doc *value.Document) (*value.Document, value.Value, error) {
	stored := doc.Clone()
	if stored == nil {
		stored = value.NewDocument()
	}
	id, ok := stored.Get(idField)
	if !ok {
		id = value.NewObjectID()
	}
	if err := validateID(id); err != nil {
		return nil, value.Value{}, err
	}
	stored.Prepend(idField, id)
	return stored, id, nil
}

func validateID(id value.Value) error {
	if id.Kind() == value.KindArray {
		return badValue("can't use an array for _id").WithContext("_id", id)
	}
	return nil
}

func duplicateKeyError(db, coll string, id value.Value) *Error {
	return errorf(ErrorKindDuplicateKey, CodeDuplicateKey,
		"E11000 duplicate key error collection: %s.%s index: _id_ dup key: { _id: %s }", db, coll, id).
		WithContext("_id", id)
}

// insert 追加文档，_id 已存在时返回 DuplicateKey。
func (s *store) insert(doc *value.Document) (value.Value, error) {
	stored, id, err := prepareForStorage(doc)
	if err != nil {
		return value.Value{}, err
	}
	key := value.Key(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped {
		return value.Value{}, errStoreDropped
	}
	if _, exists := s.index[key]; exists {
		s.log.WithField("_id", id.String()).Debug("Duplicate _id on insert")
		return value.Value{}, duplicateKeyError(s.db, s.name, id)
	}
	s.index[key] = len(s.docs)
	s.docs = append(s.docs, stored)
	return id, nil
}

// replaceOrInsert 存在同 _id 文档时原位替换，否则追加。返回是否发生了替换。
func (s *store) replaceOrInsert(doc *value.Document) (value.Value, bool, error) {
	stored, id, err := prepareForStorage(doc)
	if err != nil {
		return value.Value{}, false, err
	}
	key := value.Key(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped {
		return value.Value{}, false, errStoreDropped
	}
	if pos, exists := s.index[key]; exists {
		s.docs[pos] = stored
		return id, true, nil
	}
	s.index[key] = len(s.docs)
	s.docs = append(s.docs, stored)
	return id, false, nil
}

// findByID 按 _id 查找，返回内部文档（只读）。
func (s *store) findByID(id value.Value) (*value.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.index[value.Key(id)]
	if !ok {
		return nil, false
	}
	return s.docs[pos], true
}

// snapshot 返回当前时刻的文档指针切片，后续写入不会影响它。
func (s *store) snapshot() []*value.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*value.Document, len(s.docs))
	copy(out, s.docs)
	return out
}

// delete 删除文档并保持其余文档的相对顺序。
func (s *store) delete(id value.Value) (bool, error) {
	key := value.Key(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped {
		return false, errStoreDropped
	}
	pos, ok := s.index[key]
	if !ok {
		return false, nil
	}
	s.removeAt(pos)
	return true, nil
}

// deleteWhere 删除所有满足 pred 的文档，返回删除数量。
func (s *store) deleteWhere(pred func(*value.Document) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped {
		return 0, errStoreDropped
	}
	kept := s.docs[:0:0]
	removed := 0
	for _, d := range s.docs {
		if pred(d) {
			removed++
			continue
		}
		kept = append(kept, d)
	}
	if removed > 0 {
		s.docs = kept
		s.reindex()
	}
	return removed, nil
}

func (s *store) removeAt(pos int) {
	id, _ := s.docs[pos].Get(idField)
	delete(s.index, value.Key(id))
	copy(s.docs[pos:], s.docs[pos+1:])
	s.docs[len(s.docs)-1] = nil
	s.docs = s.docs[:len(s.docs)-1]
	for i := pos; i < len(s.docs); i++ {
		tid, _ := s.docs[i].Get(idField)
		s.index[value.Key(tid)] = i
	}
}

func (s *store) reindex() {
	s.index = make(map[string]int, len(s.docs))
	for i, d := range s.docs {
		id, _ := d.Get(idField)
		s.index[value.Key(id)] = i
	}
}

func (s *store) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// replaceAll 原子地用 docs 替换全部内容，供 $out 使用。
// 先校验 _id 唯一性，失败时集合保持不变。docs 必须已经带有 _id。
func (s *store) replaceAll(docs []*value.Document) error {
	index := make(map[string]int, len(docs))
	for i, d := range docs {
		id, _ := d.Get(idField)
		if err := validateID(id); err != nil {
			return err
		}
		key := value.Key(id)
		if _, dup := index[key]; dup {
			return duplicateKeyError(s.db, s.name, id)
		}
		index[key] = i
	}
	stored := make([]*value.Document, len(docs))
	copy(stored, docs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped {
		return errStoreDropped
	}
	previous := len(s.docs)
	s.docs = stored
	s.index = index
	s.log.WithFields(logrus.Fields{
		"previous": previous,
		"current":  len(stored),
	}).Debug("Collection contents replaced")
	return nil
}

// markDropped 清空并标记集合已删除，持有旧指针的写入方会重试到新集合上。
func (s *store) markDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped = true
	s.docs = nil
	s.index = make(map[string]int)
}

// takeAndDrop 取走全部文档并标记删除，用于重命名。
func (s *store) takeAndDrop() []*value.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.docs
	s.dropped = true
	s.docs = nil
	s.index = make(map[string]int)
	return docs
}
