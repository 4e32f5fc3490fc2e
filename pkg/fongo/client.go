// Package fongo 提供进程内、纯内存的文档数据库仿真：集合存储、查询匹配与聚合管道。
//
// 每个 Client 拥有独立的数据库注册表，测试之间不会共享状态：
//
//	client := fongo.NewClient(fongo.ClientOptions{})
//	defer client.Close()
//	coll := client.Database("test").Collection("pies")
//	_, _ = coll.Insert(value.D("_id", 1, "type", "apple"))
//	res := coll.Aggregate(value.D("$out", "archive"))
package fongo

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ClientOptions 配置 Client 创建选项。
type ClientOptions struct {
	// Name 实例名称，仅用于日志；为空时生成 UUID
	Name string
	// Logger 自定义日志器；为空时使用全局日志器
	Logger *logrus.Logger
	// DefaultDatabase DefaultDatabase() 返回的数据库名，默认 "test"
	DefaultDatabase string
}

// Client 是仿真客户端，持有自己的数据库注册表。
// 生命周期与注册表一致：Close 后所有数据库被销毁。
type Client struct {
	name      string
	defaultDB string
	logger    *logrus.Logger
	log       *logrus.Entry

	mu        sync.Mutex
	databases map[string]*Database
	closed    bool
}

// NewClient 创建新的客户端实例。
func NewClient(opts ClientOptions) *Client {
	if opts.Name == "" {
		opts.Name = uuid.NewString()
	}
	if opts.DefaultDatabase == "" {
		opts.DefaultDatabase = "test"
	}
	logger := opts.Logger
	if logger == nil {
		logger = GetLogger()
	}
	c := &Client{
		name:      opts.Name,
		defaultDB: opts.DefaultDatabase,
		logger:    logger,
		log:       logger.WithField("client", opts.Name),
		databases: make(map[string]*Database),
	}
	c.log.Debug("Client created")
	return c
}

func (c *Client) Name() string {
	return c.name
}

// Database 返回指定名称的数据库，首次引用时惰性创建。
// 客户端关闭后返回的数据库上的所有操作都会失败。
func (c *Client) Database(name string) *Database {
	c.mu.Lock()
	defer c.mu.Unlock()
	if db, ok := c.databases[name]; ok {
		return db
	}
	db := newDatabase(c, name)
	if c.closed {
		db.closed = true
		return db
	}
	c.databases[name] = db
	c.log.WithField("db", name).Debug("Database created")
	return db
}

// DefaultDatabase 返回 ClientOptions.DefaultDatabase 指定的数据库。
func (c *Client) DefaultDatabase() *Database {
	return c.Database(c.defaultDB)
}

// DatabaseNames 返回已创建的数据库名（排序后）。
func (c *Client) DatabaseNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.databases))
	for name := range c.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DropDatabase 删除数据库及其全部集合；数据库不存在时不报错。
func (c *Client) DropDatabase(name string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClientClosed()
	}
	db, ok := c.databases[name]
	delete(c.databases, name)
	c.mu.Unlock()

	if ok {
		db.destroy()
		c.log.WithField("db", name).Info("Database dropped")
	}
	return nil
}

// Close 销毁所有数据库。重复调用是安全的。
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	dbs := c.databases
	c.databases = make(map[string]*Database)
	c.mu.Unlock()

	for _, db := range dbs {
		db.destroy()
	}
	c.log.WithField("databases", len(dbs)).Debug("Client closed")
	return nil
}

func errClientClosed() *Error {
	return errorf(ErrorKindClosed, CodeClientClosed, "client is closed")
}
