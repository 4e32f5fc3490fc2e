package value

import (
	"strconv"
	"strings"
)

// Field 是文档中的一个键值对。
type Field struct {
	Key   string
	Value Value
}

// E 构造 Field，便于书写文档字面量。
func E(key string, v Value) Field { return Field{Key: key, Value: v} }

// Document 是保持插入顺序的字段集合，字段名在文档内唯一。
// 字段顺序只影响输出，不影响相等性判断。
type Document struct {
	fields []Field
}

// NewDocument 按给定顺序创建文档，重复键以后出现的值为准并保留首次出现的位置。
func NewDocument(fields ...Field) *Document {
	d := &Document{fields: make([]Field, 0, len(fields))}
	for _, f := range fields {
		d.Set(f.Key, f.Value)
	}
	return d
}

// D 以交替的 key/value 参数构造文档。
// 值可以是 Value、*Document 或 FromGo 支持的 Go 原生类型；无法转换的值会 panic，仅用于字面量。
func D(kv ...any) *Document {
	if len(kv)%2 != 0 {
		panic("value.D: odd number of arguments")
	}
	d := NewDocument()
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic("value.D: key must be a string")
		}
		v, err := FromGo(kv[i+1])
		if err != nil {
			panic("value.D: " + err.Error())
		}
		d.Set(key, v)
	}
	return d
}

func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.fields)
}

// Keys 返回字段名（按存储顺序）。
func (d *Document) Keys() []string {
	keys := make([]string, d.Len())
	for i := range keys {
		keys[i] = d.fields[i].Key
	}
	return keys
}

// Fields 返回字段切片的拷贝。
func (d *Document) Fields() []Field {
	out := make([]Field, d.Len())
	if d != nil {
		copy(out, d.fields)
	}
	return out
}

func (d *Document) index(key string) int {
	if d == nil {
		return -1
	}
	for i := range d.fields {
		if d.fields[i].Key == key {
			return i
		}
	}
	return -1
}

// Get 返回顶层字段值。
func (d *Document) Get(key string) (Value, bool) {
	if i := d.index(key); i >= 0 {
		return d.fields[i].Value, true
	}
	return Value{}, false
}

func (d *Document) Has(key string) bool { return d.index(key) >= 0 }

// Set 覆盖已有字段（保持位置）或追加新字段。
func (d *Document) Set(key string, v Value) {
	if i := d.index(key); i >= 0 {
		d.fields[i].Value = v
		return
	}
	d.fields = append(d.fields, Field{Key: key, Value: v})
}

// Prepend 将字段放到首位；已存在时先移除旧位置。
func (d *Document) Prepend(key string, v Value) {
	d.Delete(key)
	d.fields = append([]Field{{Key: key, Value: v}}, d.fields...)
}

// Delete 删除字段并保持其余字段顺序。
func (d *Document) Delete(key string) bool {
	i := d.index(key)
	if i < 0 {
		return false
	}
	d.fields = append(d.fields[:i], d.fields[i+1:]...)
	return true
}

// Clone 深拷贝文档。
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{fields: make([]Field, len(d.fields))}
	for i, f := range d.fields {
		out.fields[i] = Field{Key: f.Key, Value: f.Value.Clone()}
	}
	return out
}

// Equal 判断两个文档是否相等（与字段顺序无关）。
func (d *Document) Equal(other *Document) bool {
	if d.Len() != other.Len() {
		return false
	}
	for _, f := range d.Fields() {
		ov, ok := other.Get(f.Key)
		if !ok || !Equal(f.Value, ov) {
			return false
		}
	}
	return true
}

func (d *Document) String() string {
	var sb strings.Builder
	d.writeTo(&sb)
	return sb.String()
}

func (d *Document) writeTo(sb *strings.Builder) {
	sb.WriteByte('{')
	for i, f := range d.Fields() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.Quote(f.Key))
		sb.WriteString(": ")
		f.Value.writeTo(sb)
	}
	sb.WriteByte('}')
}

// Lookup 按点分路径取单个值，不展开数组（数字段作为数组下标）。
func (d *Document) Lookup(path string) (Value, bool) {
	cur := Doc(d)
	for _, part := range strings.Split(path, ".") {
		switch cur.kind {
		case KindDocument:
			next, ok := cur.doc.Get(part)
			if !ok {
				return Value{}, false
			}
			cur = next
		case KindArray:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(cur.arr) {
				return Value{}, false
			}
			cur = cur.arr[idx]
		default:
			return Value{}, false
		}
	}
	return cur, true
}

// SetPath 按点分路径写入值，必要时创建中间文档。
// 路径途经非文档值时会被新文档覆盖。
func (d *Document) SetPath(path string, v Value) {
	parts := strings.Split(path, ".")
	cur := d
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur.Get(part)
		if nd, isDoc := next.AsDocument(); ok && isDoc {
			cur = nd
			continue
		}
		nd := NewDocument()
		cur.Set(part, Doc(nd))
		cur = nd
	}
	cur.Set(parts[len(parts)-1], v)
}

// DeletePath 按点分路径删除字段，路径不存在时返回 false。
func (d *Document) DeletePath(path string) bool {
	parts := strings.Split(path, ".")
	cur := d
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur.Get(part)
		nd, isDoc := next.AsDocument()
		if !ok || !isDoc {
			return false
		}
		cur = nd
	}
	return cur.Delete(parts[len(parts)-1])
}

// Resolve 返回路径可达的全部叶子值，遇到数组时会展开其中的子文档；
// 数字段同时作为数组下标。found 表示至少存在一个叶子。
func Resolve(d *Document, path string) (leaves []Value, found bool) {
	leaves = resolveParts(Doc(d), strings.Split(path, "."), nil)
	return leaves, len(leaves) > 0
}

func resolveParts(cur Value, parts []string, acc []Value) []Value {
	if len(parts) == 0 {
		return append(acc, cur)
	}
	switch cur.kind {
	case KindDocument:
		next, ok := cur.doc.Get(parts[0])
		if !ok {
			return acc
		}
		return resolveParts(next, parts[1:], acc)
	case KindArray:
		if idx, err := strconv.Atoi(parts[0]); err == nil {
			if idx >= 0 && idx < len(cur.arr) {
				acc = resolveParts(cur.arr[idx], parts[1:], acc)
			}
		}
		for _, elem := range cur.arr {
			if elem.kind == KindDocument {
				acc = resolveParts(elem, parts, acc)
			}
		}
	}
	return acc
}

// GetString 获取字符串类型字段，类型不符或缺失时返回空串。
func (d *Document) GetString(key string) string {
	v, _ := d.Get(key)
	s, _ := v.AsString()
	return s
}

// GetInt 获取整数字段，double 会被截断，其它情况返回 0。
func (d *Document) GetInt(key string) int64 {
	v, _ := d.Get(key)
	if i, ok := v.AsInt64(); ok {
		return i
	}
	if f, ok := v.AsDouble(); ok {
		return int64(f)
	}
	return 0
}

// GetFloat 获取数值字段并转换为 float64。
func (d *Document) GetFloat(key string) float64 {
	v, _ := d.Get(key)
	f, _ := v.ToFloat64()
	return f
}

// GetBool 获取布尔类型字段。
func (d *Document) GetBool(key string) bool {
	v, _ := d.Get(key)
	b, ok := v.AsBool()
	return ok && b
}

// GetArray 获取数组类型字段。
func (d *Document) GetArray(key string) []Value {
	v, _ := d.Get(key)
	arr, _ := v.AsArray()
	return arr
}

// GetDocument 获取子文档字段。
func (d *Document) GetDocument(key string) *Document {
	v, _ := d.Get(key)
	sub, _ := v.AsDocument()
	return sub
}
