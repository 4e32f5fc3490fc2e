package value

import (
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FromGo 将 Go 原生值转换为 Value。
// 支持 nil、bool、各类整数与浮点数、string、[]byte、time.Time、ObjectID、
// []any、[]Value、map[string]any（按键排序）、*Document、Value 以及 BSON 类型。
func FromGo(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return v, nil
	case *Document:
		return Doc(v), nil
	case []Value:
		return Array(v...), nil
	case bool:
		return Bool(v), nil
	case int:
		return Int(int64(v)), nil
	case int8:
		return Int32(int32(v)), nil
	case int16:
		return Int32(int32(v)), nil
	case int32:
		return Int32(v), nil
	case int64:
		return Int64(v), nil
	case uint8:
		return Int32(int32(v)), nil
	case uint16:
		return Int32(int32(v)), nil
	case uint32:
		return Int(int64(v)), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return Double(float64(v)), nil
		}
		return Int(int64(v)), nil
	case uint64:
		if v > math.MaxInt64 {
			return Double(float64(v)), nil
		}
		return Int(int64(v)), nil
	case float32:
		return Double(float64(v)), nil
	case float64:
		return Double(v), nil
	case string:
		return String(v), nil
	case []byte:
		return Binary(0, v), nil
	case time.Time:
		return DateTime(v), nil
	case primitive.ObjectID:
		return ObjectID(v), nil
	case []any:
		arr := make([]Value, len(v))
		for i, e := range v {
			ev, err := FromGo(e)
			if err != nil {
				return Value{}, err
			}
			arr[i] = ev
		}
		return Value{kind: KindArray, arr: arr}, nil
	case map[string]any:
		return fromBSONMap(v)
	}
	return FromBSON(x)
}

// ToGo 将 Value 转换为 Go 原生值，文档转换为 map[string]any。
func ToGo(v Value) any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBoolean:
		return v.num != 0
	case KindInt32:
		return int32(v.num)
	case KindInt64:
		return v.num
	case KindDouble:
		return v.dbl
	case KindString:
		return v.str
	case KindBinary:
		out := make([]byte, len(v.raw))
		copy(out, v.raw)
		return out
	case KindDateTime:
		t, _ := v.AsTime()
		return t
	case KindObjectID:
		return v.oid
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = ToGo(e)
		}
		return out
	case KindDocument:
		out := make(map[string]any, v.doc.Len())
		for _, f := range v.doc.Fields() {
			out[f.Key] = ToGo(f.Value)
		}
		return out
	}
	panic(fmt.Sprintf("value: unknown kind %d", v.kind))
}
