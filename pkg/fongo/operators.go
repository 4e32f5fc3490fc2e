package fongo

import (
	"math"
	"regexp"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mozhou-tech/fongo-go/pkg/value"
)

// FieldMatcher 在某个路径解析出的叶子值上求值；found 为 false 表示字段缺失。
type FieldMatcher func(leaves []value.Value, found bool) bool

// OperatorCompiler 把操作数编译为 FieldMatcher。clause 是操作符所在的整个条件文档，
// 供 $regex 读取同级的 $options 之类的参数。
type OperatorCompiler func(operand value.Value, clause *value.Document) (FieldMatcher, error)

var (
	queryOperators   = make(map[string]OperatorCompiler)
	queryOperatorsMu sync.RWMutex
)

// RegisterQueryOperator 注册（或覆盖）字段级查询操作符，name 需要以 $ 开头。
func RegisterQueryOperator(name string, compiler OperatorCompiler) {
	queryOperatorsMu.Lock()
	defer queryOperatorsMu.Unlock()
	queryOperators[name] = compiler
}

func lookupQueryOperator(name string) (OperatorCompiler, bool) {
	queryOperatorsMu.RLock()
	defer queryOperatorsMu.RUnlock()
	c, ok := queryOperators[name]
	return c, ok
}

func init() {
	RegisterQueryOperator("$eq", func(operand value.Value, _ *value.Document) (FieldMatcher, error) {
		return equalsMatcher(operand), nil
	})
	RegisterQueryOperator("$ne", func(operand value.Value, _ *value.Document) (FieldMatcher, error) {
		return negate(equalsMatcher(operand)), nil
	})
	RegisterQueryOperator("$gt", comparisonOperator(func(c int) bool { return c > 0 }))
	RegisterQueryOperator("$gte", comparisonOperator(func(c int) bool { return c >= 0 }))
	RegisterQueryOperator("$lt", comparisonOperator(func(c int) bool { return c < 0 }))
	RegisterQueryOperator("$lte", comparisonOperator(func(c int) bool { return c <= 0 }))
	RegisterQueryOperator("$in", compileIn)
	RegisterQueryOperator("$nin", func(operand value.Value, clause *value.Document) (FieldMatcher, error) {
		m, err := compileIn(operand, clause)
		if err != nil {
			return nil, err
		}
		return negate(m), nil
	})
	RegisterQueryOperator("$exists", func(operand value.Value, _ *value.Document) (FieldMatcher, error) {
		want := operand.IsTruthy()
		return func(_ []value.Value, found bool) bool { return found == want }, nil
	})
	RegisterQueryOperator("$all", compileAll)
	RegisterQueryOperator("$elemMatch", compileElemMatch)
	RegisterQueryOperator("$regex", compileRegex)
	RegisterQueryOperator("$not", compileFieldNot)
	RegisterQueryOperator("$size", compileSize)
	RegisterQueryOperator("$type", compileType)
	RegisterQueryOperator("$mod", compileMod)
}

func negate(m FieldMatcher) FieldMatcher {
	return func(leaves []value.Value, found bool) bool { return !m(leaves, found) }
}

// comparisonOperator 只在同一类型类别内比较（数值之间互通），其余情况不匹配。
func comparisonOperator(accept func(int) bool) OperatorCompiler {
	return func(operand value.Value, _ *value.Document) (FieldMatcher, error) {
		return func(leaves []value.Value, found bool) bool {
			for _, c := range candidates(leaves, found) {
				if value.SameTypeClass(c, operand) && accept(value.Compare(c, operand)) {
					return true
				}
			}
			return false
		}, nil
	}
}

func compileIn(operand value.Value, _ *value.Document) (FieldMatcher, error) {
	arr, ok := operand.AsArray()
	if !ok {
		return nil, badValue("$in needs an array")
	}
	set := make(map[string]struct{}, len(arr))
	for _, e := range arr {
		set[value.Key(e)] = struct{}{}
	}
	return func(leaves []value.Value, found bool) bool {
		for _, c := range candidates(leaves, found) {
			if _, hit := set[value.Key(c)]; hit {
				return true
			}
		}
		return false
	}, nil
}

func compileAll(operand value.Value, _ *value.Document) (FieldMatcher, error) {
	required, ok := operand.AsArray()
	if !ok {
		return nil, badValue("$all needs an array")
	}
	return func(leaves []value.Value, found bool) bool {
		if !found || len(required) == 0 {
			return false
		}
		have := candidates(leaves, found)
		for _, req := range required {
			hit := false
			for _, c := range have {
				if value.Equal(c, req) {
					hit = true
					break
				}
			}
			if !hit {
				return false
			}
		}
		return true
	}, nil
}

// compileElemMatch 支持两种形式：{$elemMatch: {$gt: 1}} 作用于标量元素，
// {$elemMatch: {a: 1}} 作用于文档元素。
func compileElemMatch(operand value.Value, _ *value.Document) (FieldMatcher, error) {
	crit, ok := operand.AsDocument()
	if !ok {
		return nil, badValue("$elemMatch needs an Object")
	}
	var elemOK func(elem value.Value) bool
	if _, opForm := isOperatorClause(operand); opForm && !isLogicalKey(crit.Keys()[0]) {
		m, err := compileOperatorClause(crit)
		if err != nil {
			return nil, err
		}
		elemOK = func(elem value.Value) bool { return m([]value.Value{elem}, true) }
	} else {
		p, err := compileExpression(crit)
		if err != nil {
			return nil, err
		}
		elemOK = func(elem value.Value) bool {
			d, ok := elem.AsDocument()
			return ok && p(d)
		}
	}
	return func(leaves []value.Value, found bool) bool {
		for _, leaf := range leaves {
			arr, ok := leaf.AsArray()
			if !ok {
				continue
			}
			for _, elem := range arr {
				if elemOK(elem) {
					return true
				}
			}
		}
		return false
	}, nil
}

func isLogicalKey(k string) bool {
	return k == "$and" || k == "$or" || k == "$nor"
}

func compileFieldNot(operand value.Value, _ *value.Document) (FieldMatcher, error) {
	clause, ok := isOperatorClause(operand)
	if !ok {
		return nil, badValue("$not needs a document of operators")
	}
	m, err := compileOperatorClause(clause)
	if err != nil {
		return nil, err
	}
	return negate(m), nil
}

var regexCache = mustRegexCache(256)

func mustRegexCache(size int) *lru.Cache[string, *regexp.Regexp] {
	c, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		panic(err)
	}
	return c
}

// compileCachedRegex 编译正则并缓存，相同模式在多次查询间复用。
func compileCachedRegex(pattern, options string) (*regexp.Regexp, error) {
	var flags strings.Builder
	for _, o := range options {
		switch o {
		case 'i', 'm', 's':
			flags.WriteRune(o)
		default:
			return nil, badValue("invalid flag in regex options: %c", o)
		}
	}
	expr := pattern
	if flags.Len() > 0 {
		expr = "(?" + flags.String() + ")" + pattern
	}
	if re, ok := regexCache.Get(expr); ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, NewError(ErrorKindBadValue, CodeBadValue, "invalid regular expression", err).
			WithContext("pattern", pattern)
	}
	regexCache.Add(expr, re)
	return re, nil
}

func compileRegex(operand value.Value, clause *value.Document) (FieldMatcher, error) {
	pattern, ok := operand.AsString()
	if !ok {
		return nil, badValue("$regex has to be a string")
	}
	var options string
	if ov, has := clause.Get("$options"); has {
		if options, ok = ov.AsString(); !ok {
			return nil, badValue("$options has to be a string")
		}
	}
	re, err := compileCachedRegex(pattern, options)
	if err != nil {
		return nil, err
	}
	return func(leaves []value.Value, found bool) bool {
		if !found {
			return false
		}
		for _, c := range candidates(leaves, found) {
			if s, ok := c.AsString(); ok && re.MatchString(s) {
				return true
			}
		}
		return false
	}, nil
}

func integralOperand(v value.Value) (int64, bool) {
	f, ok := v.ToFloat64()
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if i, isInt := v.AsInt64(); isInt {
		return i, true
	}
	return int64(f), true
}

func compileSize(operand value.Value, _ *value.Document) (FieldMatcher, error) {
	n, ok := integralOperand(operand)
	if !ok || n < 0 {
		return nil, badValue("$size needs a non-negative whole number")
	}
	return func(leaves []value.Value, _ bool) bool {
		for _, leaf := range leaves {
			if arr, ok := leaf.AsArray(); ok && int64(len(arr)) == n {
				return true
			}
		}
		return false
	}, nil
}

// typeCodes 对应 $type 的数字别名。
var typeCodes = map[int64]value.Kind{
	1:  value.KindDouble,
	2:  value.KindString,
	3:  value.KindDocument,
	4:  value.KindArray,
	5:  value.KindBinary,
	7:  value.KindObjectID,
	8:  value.KindBoolean,
	9:  value.KindDateTime,
	10: value.KindNull,
	16: value.KindInt32,
	18: value.KindInt64,
}

func compileType(operand value.Value, _ *value.Document) (FieldMatcher, error) {
	specs := []value.Value{operand}
	if arr, ok := operand.AsArray(); ok {
		specs = arr
	}
	kinds := make(map[value.Kind]struct{})
	number := false
	for _, spec := range specs {
		if alias, ok := spec.AsString(); ok {
			if alias == "number" {
				number = true
				continue
			}
			k, known := value.KindFromAlias(alias)
			if !known {
				return nil, badValue("unknown type name alias: %s", alias)
			}
			kinds[k] = struct{}{}
			continue
		}
		code, ok := integralOperand(spec)
		if !ok {
			return nil, badValue("type must be represented as a number or a string")
		}
		k, known := typeCodes[code]
		if !known {
			return nil, badValue("invalid numerical type code: %d", code)
		}
		kinds[k] = struct{}{}
	}
	return func(leaves []value.Value, found bool) bool {
		if !found {
			return false
		}
		for _, c := range candidates(leaves, found) {
			if _, hit := kinds[c.Kind()]; hit || (number && c.IsNumber()) {
				return true
			}
		}
		return false
	}, nil
}

func compileMod(operand value.Value, _ *value.Document) (FieldMatcher, error) {
	arr, ok := operand.AsArray()
	if !ok || len(arr) != 2 {
		return nil, badValue("malformed mod, needs to be an array of two numbers")
	}
	divisor, okD := integralFloor(arr[0])
	remainder, okR := integralFloor(arr[1])
	if !okD || !okR {
		return nil, badValue("malformed mod, divisor and remainder must be numbers")
	}
	if divisor == 0 {
		return nil, badValue("divisor cannot be 0")
	}
	return func(leaves []value.Value, found bool) bool {
		for _, c := range candidates(leaves, found) {
			if !c.IsNumber() {
				continue
			}
			if n, ok := integralFloor(c); ok && n%divisor == remainder {
				return true
			}
		}
		return false
	}, nil
}

// integralFloor 将数值向零截断为 int64。
func integralFloor(v value.Value) (int64, bool) {
	if i, ok := v.AsInt64(); ok {
		return i, true
	}
	f, ok := v.AsDouble()
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(math.Trunc(f)), true
}
