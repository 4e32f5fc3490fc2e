package value

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"
	"strconv"
	"strings"
)

// typeRank 给出跨类型比较时的类型等级，数值类型共享同一等级。
func typeRank(k Kind) int {
	switch k {
	case KindNull:
		return 1
	case KindInt32, KindInt64, KindDouble:
		return 2
	case KindString:
		return 3
	case KindDocument:
		return 4
	case KindArray:
		return 5
	case KindBinary:
		return 6
	case KindObjectID:
		return 7
	case KindBoolean:
		return 8
	case KindDateTime:
		return 9
	}
	return 0
}

// SameTypeClass 判断两个值是否可以在类型内部比较（数值之间互通）。
func SameTypeClass(a, b Value) bool {
	return typeRank(a.kind) == typeRank(b.kind)
}

// Compare 定义全序：先按类型等级，再在类型内部比较。
func Compare(a, b Value) int {
	ra, rb := typeRank(a.kind), typeRank(b.kind)
	if ra != rb {
		return cmpInt(int64(ra), int64(rb))
	}
	switch a.kind {
	case KindNull:
		return 0
	case KindInt32, KindInt64, KindDouble:
		return compareNumbers(a, b)
	case KindString:
		return strings.Compare(a.str, b.str)
	case KindDocument:
		return compareDocuments(a.doc, b.doc)
	case KindArray:
		n := min(len(a.arr), len(b.arr))
		for i := 0; i < n; i++ {
			if c := Compare(a.arr[i], b.arr[i]); c != 0 {
				return c
			}
		}
		return cmpInt(int64(len(a.arr)), int64(len(b.arr)))
	case KindBinary:
		if len(a.raw) != len(b.raw) {
			return cmpInt(int64(len(a.raw)), int64(len(b.raw)))
		}
		if a.sub != b.sub {
			return cmpInt(int64(a.sub), int64(b.sub))
		}
		return bytes.Compare(a.raw, b.raw)
	case KindObjectID:
		return bytes.Compare(a.oid[:], b.oid[:])
	case KindBoolean, KindDateTime:
		return cmpInt(a.num, b.num)
	}
	return 0
}

// compareDocuments 按键排序后逐字段比较，与 Equal 一样不受字段顺序影响。
func compareDocuments(a, b *Document) int {
	af, bf := sortedFields(a), sortedFields(b)
	n := min(len(af), len(bf))
	for i := 0; i < n; i++ {
		if c := cmpInt(int64(typeRank(af[i].Value.kind)), int64(typeRank(bf[i].Value.kind))); c != 0 {
			return c
		}
		if c := strings.Compare(af[i].Key, bf[i].Key); c != 0 {
			return c
		}
		if c := Compare(af[i].Value, bf[i].Value); c != 0 {
			return c
		}
	}
	return cmpInt(int64(len(af)), int64(len(bf)))
}

func sortedFields(d *Document) []Field {
	fields := d.Fields()
	sort.Slice(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })
	return fields
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	// NaN 小于所有数值且与自身相等
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareNumbers(a, b Value) int {
	aInt := a.kind != KindDouble
	bInt := b.kind != KindDouble
	switch {
	case aInt && bInt:
		return cmpInt(a.num, b.num)
	case !aInt && !bInt:
		return cmpFloat(a.dbl, b.dbl)
	case aInt:
		return compareIntDouble(a.num, b.dbl)
	default:
		return -compareIntDouble(b.num, a.dbl)
	}
}

// compareIntDouble 精确比较 int64 与 float64，避免大整数转换精度丢失。
func compareIntDouble(i int64, d float64) int {
	if math.IsNaN(d) {
		return 1
	}
	if d < -9.223372036854775808e18 {
		return 1
	}
	if d >= 9.223372036854775808e18 {
		return -1
	}
	t := math.Trunc(d)
	if c := cmpInt(i, int64(t)); c != 0 {
		return c
	}
	return cmpFloat(0, d-t)
}

// Equal 判断值相等：数值跨类型比较，文档与字段顺序无关，不同类型直接不等。
func Equal(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return compareNumbers(a, b) == 0
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindDocument:
		return a.doc.Equal(b.doc)
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	}
	return Compare(a, b) == 0
}

// Key 返回值的规范编码，满足 Equal(a, b) 当且仅当 Key(a) == Key(b)。
// 用于 _id 索引、分组键与集合去重。
func Key(v Value) string {
	var sb strings.Builder
	writeKey(&sb, v)
	return sb.String()
}

func writeKey(sb *strings.Builder, v Value) {
	switch v.kind {
	case KindNull:
		sb.WriteString("n;")
	case KindBoolean:
		sb.WriteString("b")
		sb.WriteString(strconv.FormatInt(v.num, 10))
		sb.WriteByte(';')
	case KindInt32, KindInt64:
		sb.WriteString("i")
		sb.WriteString(strconv.FormatInt(v.num, 10))
		sb.WriteByte(';')
	case KindDouble:
		// 可精确表示为 int64 的浮点数与整数共享编码
		if t := math.Trunc(v.dbl); t == v.dbl && v.dbl >= -9.223372036854775808e18 && v.dbl < 9.223372036854775808e18 {
			sb.WriteString("i")
			sb.WriteString(strconv.FormatInt(int64(t), 10))
		} else if math.IsNaN(v.dbl) {
			sb.WriteString("fNaN")
		} else {
			sb.WriteString("f")
			sb.WriteString(strconv.FormatFloat(v.dbl, 'g', -1, 64))
		}
		sb.WriteByte(';')
	case KindString:
		writeLenPrefixed(sb, 's', v.str)
	case KindBinary:
		sb.WriteString("x")
		sb.WriteString(strconv.Itoa(int(v.sub)))
		writeLenPrefixed(sb, ':', string(v.raw))
	case KindDateTime:
		sb.WriteString("t")
		sb.WriteString(strconv.FormatInt(v.num, 10))
		sb.WriteByte(';')
	case KindObjectID:
		sb.WriteString("o")
		sb.WriteString(v.oid.Hex())
		sb.WriteByte(';')
	case KindArray:
		sb.WriteString("a[")
		for _, e := range v.arr {
			writeKey(sb, e)
		}
		sb.WriteString("];")
	case KindDocument:
		sb.WriteString("d{")
		for _, f := range sortedFields(v.doc) {
			writeLenPrefixed(sb, 'k', f.Key)
			writeKey(sb, f.Value)
		}
		sb.WriteString("};")
	}
}

func writeLenPrefixed(sb *strings.Builder, tag byte, s string) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(len(s)))
	sb.WriteByte(tag)
	sb.Write(buf[:n])
	sb.WriteString(s)
}
