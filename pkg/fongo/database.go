package fongo

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// errStoreDropped 表示写入方拿到的 store 已被删除，需要重新解析集合。
var errStoreDropped = errors.New("collection dropped concurrently")

// Database 是集合名到集合存储的映射，集合在首次写入时惰性创建。
type Database struct {
	client *Client
	name   string
	log    *logrus.Entry

	mu          sync.RWMutex
	collections map[string]*store
	closed      bool
}

func newDatabase(c *Client, name string) *Database {
	return &Database{
		client:      c,
		name:        name,
		log:         c.log.WithField("db", name),
		collections: make(map[string]*store),
	}
}

func (d *Database) Name() string {
	return d.name
}

// Client 返回所属客户端。
func (d *Database) Client() *Client {
	return d.client
}

// Collection 返回集合句柄，不会物化集合。
func (d *Database) Collection(name string) *Collection {
	return &Collection{db: d, name: name}
}

func validateCollectionName(name string) error {
	if name == "" {
		return badValue("invalid collection name: empty")
	}
	if strings.ContainsAny(name, "$\x00") {
		return badValue("invalid collection name: %q", name)
	}
	return nil
}

// lookup 返回已存在的集合存储。
func (d *Database) lookup(name string) (*store, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, false, errClientClosed()
	}
	s, ok := d.collections[name]
	return s, ok, nil
}

// getOrCreate 返回集合存储，不存在时创建。
func (d *Database) getOrCreate(name string) (*store, error) {
	if s, ok, err := d.lookup(name); err != nil || ok {
		return s, err
	}
	if err := validateCollectionName(name); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errClientClosed()
	}
	if s, ok := d.collections[name]; ok {
		return s, nil
	}
	s := newStore(d.name, name, d.client.logger)
	d.collections[name] = s
	d.log.WithField("collection", name).Debug("Collection created")
	return s, nil
}

// write 在集合存储上执行写操作；若存储在获取后被并发删除则重新解析重试。
func (d *Database) write(name string, fn func(s *store) error) error {
	for {
		s, err := d.getOrCreate(name)
		if err != nil {
			return err
		}
		err = fn(s)
		if errors.Is(err, errStoreDropped) {
			continue
		}
		return err
	}
}

// CreateCollection 在集合不存在时创建空集合。
func (d *Database) CreateCollection(name string) error {
	_, err := d.getOrCreate(name)
	return err
}

// HasCollection 判断集合是否存在。
func (d *Database) HasCollection(name string) bool {
	_, ok, _ := d.lookup(name)
	return ok
}

// CollectionNames 返回已存在的集合名（排序后）。
func (d *Database) CollectionNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.collections))
	for name := range d.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DropCollection 删除集合，集合不存在时返回 CollectionNotFound。
func (d *Database) DropCollection(name string) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errClientClosed()
	}
	s, ok := d.collections[name]
	if !ok {
		d.mu.Unlock()
		return errorf(ErrorKindCollectionNotFound, CodeNamespaceNotFound, "ns not found: %s.%s", d.name, name)
	}
	delete(d.collections, name)
	d.mu.Unlock()

	s.markDropped()
	d.log.WithField("collection", name).Info("Collection dropped")
	return nil
}

// RenameCollection 重命名集合。源集合必须存在；目标已存在时需要 dropTarget。
func (d *Database) RenameCollection(from, to string, dropTarget bool) error {
	if err := validateCollectionName(to); err != nil {
		return err
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errClientClosed()
	}
	src, ok := d.collections[from]
	if !ok {
		d.mu.Unlock()
		return errorf(ErrorKindCollectionNotFound, CodeNamespaceNotFound, "source namespace does not exist: %s.%s", d.name, from)
	}
	if from == to {
		d.mu.Unlock()
		return nil
	}
	target, exists := d.collections[to]
	if exists && !dropTarget {
		d.mu.Unlock()
		return badValue("target namespace exists: %s.%s", d.name, to)
	}

	renamed := newStore(d.name, to, d.client.logger)
	renamed.docs = src.takeAndDrop()
	renamed.reindex()
	delete(d.collections, from)
	d.collections[to] = renamed
	d.mu.Unlock()

	if exists {
		target.markDropped()
	}
	d.log.WithFields(logrus.Fields{"from": from, "to": to}).Info("Collection renamed")
	return nil
}

// destroy 删除全部集合，之后的操作返回 Closed 错误。
func (d *Database) destroy() {
	d.mu.Lock()
	d.closed = true
	stores := d.collections
	d.collections = make(map[string]*store)
	d.mu.Unlock()

	for _, s := range stores {
		s.markDropped()
	}
}
