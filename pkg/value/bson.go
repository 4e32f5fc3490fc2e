package value

import (
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FromBSON 将 mongo-driver 的 BSON 表示（bson.D/bson.M/bson.A/primitive.*）转换为 Value。
func FromBSON(x any) (Value, error) {
	switch v := x.(type) {
	case primitive.D:
		return fromBSOND(v)
	case primitive.M:
		return fromBSONMap(v)
	case primitive.A:
		return FromGo([]any(v))
	case primitive.E:
		d, err := fromBSOND(primitive.D{v})
		return d, err
	case primitive.Binary:
		return Binary(v.Subtype, v.Data), nil
	case primitive.DateTime:
		return DateTimeMillis(int64(v)), nil
	case primitive.Null, primitive.Undefined:
		return Null(), nil
	case primitive.ObjectID:
		return ObjectID(v), nil
	case bson.Raw:
		var d bson.D
		if err := bson.Unmarshal(v, &d); err != nil {
			return Value{}, fmt.Errorf("failed to decode raw document: %w", err)
		}
		return fromBSOND(d)
	case nil, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, string, []byte, []any, map[string]any:
		return FromGo(v)
	}
	return Value{}, fmt.Errorf("unsupported value type %T", x)
}

func fromBSOND(d primitive.D) (Value, error) {
	out := NewDocument()
	for _, e := range d {
		ev, err := FromBSON(e.Value)
		if err != nil {
			return Value{}, fmt.Errorf("field %q: %w", e.Key, err)
		}
		out.Set(e.Key, ev)
	}
	return Doc(out), nil
}

// fromBSONMap 按键排序，保证无序 map 转换结果确定。
func fromBSONMap(m map[string]any) (Value, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := NewDocument()
	for _, k := range keys {
		ev, err := FromGo(m[k])
		if err != nil {
			return Value{}, fmt.Errorf("field %q: %w", k, err)
		}
		out.Set(k, ev)
	}
	return Doc(out), nil
}

// FromBSONDocument 将 bson.D 转换为 Document。
func FromBSONDocument(d bson.D) (*Document, error) {
	v, err := fromBSOND(d)
	if err != nil {
		return nil, err
	}
	doc, _ := v.AsDocument()
	return doc, nil
}

// ToBSON 将 Value 转换为 mongo-driver 的 BSON 表示，文档保持字段顺序。
func ToBSON(v Value) any {
	switch v.kind {
	case KindBinary:
		return primitive.Binary{Subtype: v.sub, Data: append([]byte(nil), v.raw...)}
	case KindDateTime:
		return primitive.DateTime(v.num)
	case KindArray:
		out := make(bson.A, len(v.arr))
		for i, e := range v.arr {
			out[i] = ToBSON(e)
		}
		return out
	case KindDocument:
		return ToBSONDocument(v.doc)
	}
	return ToGo(v)
}

// ToBSONDocument 将 Document 转换为 bson.D。
func ToBSONDocument(d *Document) bson.D {
	out := make(bson.D, 0, d.Len())
	for _, f := range d.Fields() {
		out = append(out, bson.E{Key: f.Key, Value: ToBSON(f.Value)})
	}
	return out
}

// ParseExtJSON 通过 mongo-driver 的 Extended JSON 读取器解析单个文档字面量。
func ParseExtJSON(s string) (*Document, error) {
	var d bson.D
	if err := bson.UnmarshalExtJSON([]byte(s), false, &d); err != nil {
		return nil, fmt.Errorf("failed to parse extended json: %w", err)
	}
	return FromBSONDocument(d)
}

// ParseExtJSONArray 解析文档数组字面量，例如 `[{"_id": 1}, {"_id": 2}]`。
func ParseExtJSONArray(s string) ([]*Document, error) {
	wrapper, err := ParseExtJSON(`{"v": ` + s + `}`)
	if err != nil {
		return nil, err
	}
	raw, _ := wrapper.Get("v")
	arr, ok := raw.AsArray()
	if !ok {
		return nil, fmt.Errorf("expected an array literal, got %s", raw.Kind())
	}
	docs := make([]*Document, 0, len(arr))
	for i, e := range arr {
		d, ok := e.AsDocument()
		if !ok {
			return nil, fmt.Errorf("element %d is %s, not a document", i, e.Kind())
		}
		docs = append(docs, d)
	}
	return docs, nil
}
