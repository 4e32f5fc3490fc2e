// Package value 实现文档数据库的值模型：封闭的标记联合 Value、
// 保持字段顺序的 Document，以及排序/比较所用的全序关系。
package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Kind 表示 Value 的类型标签。
type Kind uint8

const (
	KindNull Kind = iota
	KindBoolean
	KindInt32
	KindInt64
	KindDouble
	KindString
	KindBinary
	KindDateTime
	KindObjectID
	KindArray
	KindDocument
)

var kindNames = [...]string{
	KindNull:     "null",
	KindBoolean:  "bool",
	KindInt32:    "int",
	KindInt64:    "long",
	KindDouble:   "double",
	KindString:   "string",
	KindBinary:   "binData",
	KindDateTime: "date",
	KindObjectID: "objectId",
	KindArray:    "array",
	KindDocument: "object",
}

// String 返回与 $type 操作符一致的类型别名。
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// KindFromAlias 将 $type 别名解析为 Kind。
func KindFromAlias(alias string) (Kind, bool) {
	for k, name := range kindNames {
		if name == alias {
			return Kind(k), true
		}
	}
	return KindNull, false
}

// Value 是文档中任意字段值的封闭标记联合，零值为 Null。
type Value struct {
	kind Kind
	num  int64 // Boolean/Int32/Int64/DateTime(毫秒)
	dbl  float64
	str  string
	sub  byte
	raw  []byte
	oid  primitive.ObjectID
	arr  []Value
	doc  *Document
}

func Null() Value { return Value{} }

func Bool(b bool) Value {
	v := Value{kind: KindBoolean}
	if b {
		v.num = 1
	}
	return v
}

func Int32(i int32) Value { return Value{kind: KindInt32, num: int64(i)} }

func Int64(i int64) Value { return Value{kind: KindInt64, num: i} }

func Double(f float64) Value { return Value{kind: KindDouble, dbl: f} }

func String(s string) Value { return Value{kind: KindString, str: s} }

// Binary 构造二进制值，data 会被拷贝。
func Binary(subtype byte, data []byte) Value {
	cp := make([]byte, len(data))
	copy(cp, data)
	return Value{kind: KindBinary, sub: subtype, raw: cp}
}

// DateTime 以毫秒精度保存时间。
func DateTime(t time.Time) Value {
	return Value{kind: KindDateTime, num: t.UnixMilli()}
}

func DateTimeMillis(ms int64) Value { return Value{kind: KindDateTime, num: ms} }

func ObjectID(id primitive.ObjectID) Value { return Value{kind: KindObjectID, oid: id} }

// NewObjectID 生成新的 ObjectId 值。
func NewObjectID() Value { return ObjectID(primitive.NewObjectID()) }

// Array 构造数组值，元素切片会被拷贝。
func Array(elems ...Value) Value {
	arr := make([]Value, len(elems))
	copy(arr, elems)
	return Value{kind: KindArray, arr: arr}
}

// Doc 将文档包装为 Value；nil 文档视为空文档。
func Doc(d *Document) Value {
	if d == nil {
		d = NewDocument()
	}
	return Value{kind: KindDocument, doc: d}
}

// Int 根据数值范围选择 Int32 或 Int64。
func Int(i int64) Value {
	if i >= math.MinInt32 && i <= math.MaxInt32 {
		return Int32(int32(i))
	}
	return Int64(i)
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// IsNumber 判断是否为数值类型（Int32/Int64/Double）。
func (v Value) IsNumber() bool {
	return v.kind == KindInt32 || v.kind == KindInt64 || v.kind == KindDouble
}

func (v Value) AsBool() (bool, bool) { return v.num != 0, v.kind == KindBoolean }

func (v Value) AsInt32() (int32, bool) { return int32(v.num), v.kind == KindInt32 }

// AsInt64 返回整数值；Int32 也会被接受。
func (v Value) AsInt64() (int64, bool) {
	return v.num, v.kind == KindInt64 || v.kind == KindInt32
}

func (v Value) AsDouble() (float64, bool) { return v.dbl, v.kind == KindDouble }

func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

func (v Value) AsBinary() (byte, []byte, bool) { return v.sub, v.raw, v.kind == KindBinary }

func (v Value) AsTime() (time.Time, bool) {
	return time.UnixMilli(v.num).UTC(), v.kind == KindDateTime
}

func (v Value) AsObjectID() (primitive.ObjectID, bool) { return v.oid, v.kind == KindObjectID }

// AsArray 返回内部切片，调用方不得修改。
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

// AsDocument 返回内部文档，调用方不得修改。
func (v Value) AsDocument() (*Document, bool) { return v.doc, v.kind == KindDocument }

// ToFloat64 将数值类型转换为 float64。
func (v Value) ToFloat64() (float64, bool) {
	switch v.kind {
	case KindInt32, KindInt64:
		return float64(v.num), true
	case KindDouble:
		return v.dbl, true
	}
	return 0, false
}

// IsTruthy 按聚合表达式的规则求布尔值。
func (v Value) IsTruthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBoolean, KindInt32, KindInt64:
		return v.num != 0
	case KindDouble:
		return v.dbl != 0
	}
	return true
}

// Clone 深拷贝数组与文档。
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i, e := range v.arr {
			arr[i] = e.Clone()
		}
		return Value{kind: KindArray, arr: arr}
	case KindDocument:
		return Value{kind: KindDocument, doc: v.doc.Clone()}
	case KindBinary:
		return Binary(v.sub, v.raw)
	}
	return v
}

// String 以类 shell 的记法输出值，主要用于日志与错误信息。
func (v Value) String() string {
	var sb strings.Builder
	v.writeTo(&sb)
	return sb.String()
}

func (v Value) writeTo(sb *strings.Builder) {
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindBoolean:
		sb.WriteString(strconv.FormatBool(v.num != 0))
	case KindInt32:
		sb.WriteString(strconv.FormatInt(v.num, 10))
	case KindInt64:
		fmt.Fprintf(sb, "NumberLong(%d)", v.num)
	case KindDouble:
		sb.WriteString(strconv.FormatFloat(v.dbl, 'g', -1, 64))
	case KindString:
		sb.WriteString(strconv.Quote(v.str))
	case KindBinary:
		fmt.Fprintf(sb, "BinData(%d, %x)", v.sub, v.raw)
	case KindDateTime:
		t, _ := v.AsTime()
		fmt.Fprintf(sb, "ISODate(%q)", t.Format(time.RFC3339Nano))
	case KindObjectID:
		fmt.Fprintf(sb, "ObjectId(%q)", v.oid.Hex())
	case KindArray:
		sb.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				sb.WriteString(", ")
			}
			e.writeTo(sb)
		}
		sb.WriteByte(']')
	case KindDocument:
		v.doc.writeTo(sb)
	}
}
