package fongo

import (
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/mozhou-tech/fongo-go/pkg/value"
)

// expr 是编译后的聚合表达式；第二个返回值为 false 表示结果缺失（字段不存在）。
// 求值从不报错，无法计算的结果为 Null。
type expr func(doc *value.Document) (value.Value, bool)

// ExpressionOperator 描述一个聚合表达式操作符。MaxArgs 为 -1 表示参数个数不限。
// Eval 收到的参数中缺失值已被替换为 Null。
type ExpressionOperator struct {
	MinArgs int
	MaxArgs int
	Eval    func(args []value.Value) value.Value
}

var (
	exprOperators   = make(map[string]ExpressionOperator)
	exprOperatorsMu sync.RWMutex
)

// RegisterExpressionOperator 注册（或覆盖）聚合表达式操作符。
func RegisterExpressionOperator(name string, op ExpressionOperator) {
	exprOperatorsMu.Lock()
	defer exprOperatorsMu.Unlock()
	exprOperators[name] = op
}

func lookupExpressionOperator(name string) (ExpressionOperator, bool) {
	exprOperatorsMu.RLock()
	defer exprOperatorsMu.RUnlock()
	op, ok := exprOperators[name]
	return op, ok
}

func init() {
	RegisterExpressionOperator("$add", ExpressionOperator{MaxArgs: -1, Eval: evalAdd})
	RegisterExpressionOperator("$subtract", ExpressionOperator{MinArgs: 2, MaxArgs: 2, Eval: evalSubtract})
	RegisterExpressionOperator("$multiply", ExpressionOperator{MaxArgs: -1, Eval: evalMultiply})
	RegisterExpressionOperator("$divide", ExpressionOperator{MinArgs: 2, MaxArgs: 2, Eval: evalDivide})
	RegisterExpressionOperator("$concat", ExpressionOperator{MaxArgs: -1, Eval: evalConcat})
	RegisterExpressionOperator("$toUpper", ExpressionOperator{MinArgs: 1, MaxArgs: 1, Eval: caseMapper(strings.ToUpper)})
	RegisterExpressionOperator("$toLower", ExpressionOperator{MinArgs: 1, MaxArgs: 1, Eval: caseMapper(strings.ToLower)})
	RegisterExpressionOperator("$ifNull", ExpressionOperator{MinArgs: 2, MaxArgs: -1, Eval: evalIfNull})
	RegisterExpressionOperator("$size", ExpressionOperator{MinArgs: 1, MaxArgs: 1, Eval: evalSize})
	RegisterExpressionOperator("$eq", comparisonExpr(func(c int) bool { return c == 0 }))
	RegisterExpressionOperator("$ne", comparisonExpr(func(c int) bool { return c != 0 }))
	RegisterExpressionOperator("$gt", comparisonExpr(func(c int) bool { return c > 0 }))
	RegisterExpressionOperator("$gte", comparisonExpr(func(c int) bool { return c >= 0 }))
	RegisterExpressionOperator("$lt", comparisonExpr(func(c int) bool { return c < 0 }))
	RegisterExpressionOperator("$lte", comparisonExpr(func(c int) bool { return c <= 0 }))
}

func constant(v value.Value) expr {
	return func(*value.Document) (value.Value, bool) { return v, true }
}

// compileExpr 编译表达式：以 $ 开头的字符串为字段路径，$$ROOT/$$CURRENT 为当前文档，
// 单键且键以 $ 开头的文档为操作符，其余文档与数组逐元素编译，其它值按字面量处理。
func compileExpr(spec value.Value) (expr, error) {
	switch spec.Kind() {
	case value.KindString:
		s, _ := spec.AsString()
		if strings.HasPrefix(s, "$") {
			return compileFieldRef(s)
		}
		return constant(spec), nil
	case value.KindArray:
		elems, _ := spec.AsArray()
		compiled := make([]expr, len(elems))
		for i, e := range elems {
			c, err := compileExpr(e)
			if err != nil {
				return nil, err
			}
			compiled[i] = c
		}
		return func(doc *value.Document) (value.Value, bool) {
			out := make([]value.Value, len(compiled))
			for i, c := range compiled {
				out[i] = evalOrNull(c, doc)
			}
			return value.Array(out...), true
		}, nil
	case value.KindDocument:
		d, _ := spec.AsDocument()
		if d.Len() > 0 && strings.HasPrefix(d.Keys()[0], "$") {
			if d.Len() != 1 {
				return nil, badValue("an expression specification must contain exactly one field, the name of the expression, found %d fields", d.Len())
			}
			f := d.Fields()[0]
			return compileOperatorExpr(f.Key, f.Value)
		}
		return compileObjectExpr(d)
	}
	return constant(spec), nil
}

func evalOrNull(e expr, doc *value.Document) value.Value {
	v, ok := e(doc)
	if !ok {
		return value.Null()
	}
	return v
}

func compileFieldRef(ref string) (expr, error) {
	var path string
	switch {
	case ref == "$$ROOT" || ref == "$$CURRENT":
		return func(doc *value.Document) (value.Value, bool) { return value.Doc(doc), true }, nil
	case strings.HasPrefix(ref, "$$ROOT."):
		path = strings.TrimPrefix(ref, "$$ROOT.")
	case strings.HasPrefix(ref, "$$CURRENT."):
		path = strings.TrimPrefix(ref, "$$CURRENT.")
	case strings.HasPrefix(ref, "$$"):
		return nil, badValue("use of undefined variable: %s", strings.TrimPrefix(ref, "$$"))
	default:
		path = ref[1:]
	}
	if path == "" {
		return nil, badValue("'$' by itself is not a valid FieldPath")
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, badValue("FieldPath must not contain an empty field name: %s", ref)
		}
	}
	return func(doc *value.Document) (value.Value, bool) {
		return walkFieldPath(value.Doc(doc), parts)
	}, nil
}

// walkFieldPath 按聚合语义取值：途经数组时对每个文档元素取值并收集为数组，
// 数字段不作为下标。
func walkFieldPath(cur value.Value, parts []string) (value.Value, bool) {
	if len(parts) == 0 {
		return cur, true
	}
	if d, ok := cur.AsDocument(); ok {
		next, has := d.Get(parts[0])
		if !has {
			return value.Value{}, false
		}
		return walkFieldPath(next, parts[1:])
	}
	if arr, ok := cur.AsArray(); ok {
		out := make([]value.Value, 0, len(arr))
		for _, elem := range arr {
			if _, isDoc := elem.AsDocument(); !isDoc {
				continue
			}
			if v, has := walkFieldPath(elem, parts); has {
				out = append(out, v)
			}
		}
		return value.Array(out...), true
	}
	return value.Value{}, false
}

func compileObjectExpr(d *value.Document) (expr, error) {
	type field struct {
		key string
		e   expr
	}
	fields := make([]field, 0, d.Len())
	for _, f := range d.Fields() {
		if strings.HasPrefix(f.Key, "$") {
			return nil, badValue("field names in an object expression must not start with '$': %s", f.Key)
		}
		e, err := compileExpr(f.Value)
		if err != nil {
			return nil, err
		}
		fields = append(fields, field{key: f.Key, e: e})
	}
	return func(doc *value.Document) (value.Value, bool) {
		out := value.NewDocument()
		for _, f := range fields {
			if v, ok := f.e(doc); ok {
				out.Set(f.key, v)
			}
		}
		return value.Doc(out), true
	}, nil
}

func compileOperatorExpr(name string, operand value.Value) (expr, error) {
	switch name {
	case "$literal":
		return constant(operand), nil
	case "$cond":
		return compileCond(operand)
	}
	op, ok := lookupExpressionOperator(name)
	if !ok {
		return nil, errorf(ErrorKindBadPipelineStage, CodeInvalidPipelineOp, "Unrecognized expression '%s'", name).
			WithContext("operator", name)
	}
	argSpecs := []value.Value{operand}
	if arr, isArr := operand.AsArray(); isArr {
		argSpecs = arr
	}
	if len(argSpecs) < op.MinArgs || (op.MaxArgs >= 0 && len(argSpecs) > op.MaxArgs) {
		return nil, badValue("expression %s takes %s, %d were passed in", name, arityText(op), len(argSpecs))
	}
	args := make([]expr, len(argSpecs))
	for i, a := range argSpecs {
		c, err := compileExpr(a)
		if err != nil {
			return nil, err
		}
		args[i] = c
	}
	return func(doc *value.Document) (value.Value, bool) {
		vals := make([]value.Value, len(args))
		for i, a := range args {
			vals[i] = evalOrNull(a, doc)
		}
		return op.Eval(vals), true
	}, nil
}

func arityText(op ExpressionOperator) string {
	switch {
	case op.MaxArgs == op.MinArgs && op.MinArgs == 1:
		return "exactly 1 argument"
	case op.MaxArgs == op.MinArgs:
		return "exactly " + strconv.Itoa(op.MinArgs) + " arguments"
	case op.MaxArgs < 0:
		return "at least " + strconv.Itoa(op.MinArgs) + " arguments"
	}
	return "between " + strconv.Itoa(op.MinArgs) + " and " + strconv.Itoa(op.MaxArgs) + " arguments"
}

// compileCond 支持 [if, then, else] 与 {if, then, else} 两种写法。
func compileCond(operand value.Value) (expr, error) {
	var specs [3]value.Value
	if arr, ok := operand.AsArray(); ok {
		if len(arr) != 3 {
			return nil, badValue("expression $cond takes exactly 3 arguments, %d were passed in", len(arr))
		}
		copy(specs[:], arr)
	} else if d, ok := operand.AsDocument(); ok {
		for i, k := range []string{"if", "then", "else"} {
			v, has := d.Get(k)
			if !has {
				return nil, badValue("missing '%s' parameter to $cond", k)
			}
			specs[i] = v
		}
		for _, k := range d.Keys() {
			if k != "if" && k != "then" && k != "else" {
				return nil, badValue("unrecognized parameter to $cond: %s", k)
			}
		}
	} else {
		return nil, badValue("$cond needs an array or an object")
	}
	var parts [3]expr
	for i, s := range specs {
		c, err := compileExpr(s)
		if err != nil {
			return nil, err
		}
		parts[i] = c
	}
	return func(doc *value.Document) (value.Value, bool) {
		if evalOrNull(parts[0], doc).IsTruthy() {
			return parts[1](doc)
		}
		return parts[2](doc)
	}, nil
}

// numericSum 按 int32 → int64 → double 逐级扩宽累加，整数溢出时退化为 double。
type numericSum struct {
	kind value.Kind
	i    int64
	f    float64
}

func newNumericSum() *numericSum {
	return &numericSum{kind: value.KindInt32}
}

func (s *numericSum) add(v value.Value) bool {
	switch v.Kind() {
	case value.KindInt32, value.KindInt64:
		n, _ := v.AsInt64()
		if s.kind == value.KindDouble {
			s.f += float64(n)
			return true
		}
		sum := s.i + n
		if (n > 0 && sum < s.i) || (n < 0 && sum > s.i) {
			s.kind, s.f = value.KindDouble, float64(s.i)+float64(n)
			return true
		}
		s.i = sum
		if v.Kind() == value.KindInt64 {
			s.kind = value.KindInt64
		}
	case value.KindDouble:
		f, _ := v.AsDouble()
		if s.kind != value.KindDouble {
			s.kind, s.f = value.KindDouble, float64(s.i)
		}
		s.f += f
	default:
		return false
	}
	return true
}

func (s *numericSum) value() value.Value {
	switch s.kind {
	case value.KindDouble:
		return value.Double(s.f)
	case value.KindInt32:
		if s.i >= math.MinInt32 && s.i <= math.MaxInt32 {
			return value.Int32(int32(s.i))
		}
	}
	return value.Int64(s.i)
}

func evalAdd(args []value.Value) value.Value {
	sum := newNumericSum()
	var (
		date   int64
		isDate bool
	)
	for _, a := range args {
		if a.Kind() == value.KindDateTime {
			if isDate {
				return value.Null()
			}
			t, _ := a.AsTime()
			date, isDate = t.UnixMilli(), true
			continue
		}
		if !sum.add(a) {
			return value.Null()
		}
	}
	if isDate {
		f, _ := sum.value().ToFloat64()
		return value.DateTimeMillis(date + int64(math.Round(f)))
	}
	return sum.value()
}

func evalSubtract(args []value.Value) value.Value {
	a, b := args[0], args[1]
	if a.Kind() == value.KindDateTime {
		ta, _ := a.AsTime()
		if b.Kind() == value.KindDateTime {
			tb, _ := b.AsTime()
			return value.Int64(ta.UnixMilli() - tb.UnixMilli())
		}
		if f, ok := b.ToFloat64(); ok {
			return value.DateTimeMillis(ta.UnixMilli() - int64(math.Round(f)))
		}
		return value.Null()
	}
	if !a.IsNumber() || !b.IsNumber() {
		return value.Null()
	}
	var neg value.Value
	switch b.Kind() {
	case value.KindInt32:
		n, _ := b.AsInt64()
		neg = value.Int(-n)
	case value.KindInt64:
		n, _ := b.AsInt64()
		if n == math.MinInt64 {
			neg = value.Double(-float64(n))
		} else {
			neg = value.Int64(-n)
		}
	default:
		f, _ := b.AsDouble()
		neg = value.Double(-f)
	}
	sum := newNumericSum()
	sum.add(a)
	sum.add(neg)
	return sum.value()
}

func evalMultiply(args []value.Value) value.Value {
	kind := value.KindInt32
	var (
		i int64 = 1
		f       = 1.0
	)
	for _, a := range args {
		if !a.IsNumber() {
			return value.Null()
		}
		if a.Kind() == value.KindDouble || kind == value.KindDouble {
			x, _ := a.ToFloat64()
			if kind != value.KindDouble {
				kind, f = value.KindDouble, float64(i)
			}
			f *= x
			continue
		}
		n, _ := a.AsInt64()
		p := i * n
		if i != 0 && (p/i != n || (i == -1 && n == math.MinInt64)) {
			kind, f = value.KindDouble, float64(i)*float64(n)
			continue
		}
		i = p
		if a.Kind() == value.KindInt64 {
			kind = value.KindInt64
		}
	}
	switch {
	case kind == value.KindDouble:
		return value.Double(f)
	case kind == value.KindInt32 && i >= math.MinInt32 && i <= math.MaxInt32:
		return value.Int32(int32(i))
	}
	return value.Int64(i)
}

func evalDivide(args []value.Value) value.Value {
	a, okA := args[0].ToFloat64()
	b, okB := args[1].ToFloat64()
	if !okA || !okB || b == 0 {
		return value.Null()
	}
	return value.Double(a / b)
}

func evalConcat(args []value.Value) value.Value {
	var sb strings.Builder
	for _, a := range args {
		s, ok := a.AsString()
		if !ok {
			return value.Null()
		}
		sb.WriteString(s)
	}
	return value.String(sb.String())
}

func caseMapper(fn func(string) string) func([]value.Value) value.Value {
	return func(args []value.Value) value.Value {
		a := args[0]
		if a.IsNull() {
			return value.String("")
		}
		s, ok := stringForm(a)
		if !ok {
			return value.Null()
		}
		return value.String(fn(s))
	}
}

// stringForm 返回字符串、数值与日期的字符串形式，日期为 UTC 毫秒精度的 RFC 3339。
func stringForm(v value.Value) (string, bool) {
	switch v.Kind() {
	case value.KindString:
		return v.AsString()
	case value.KindInt32, value.KindInt64:
		n, _ := v.AsInt64()
		return strconv.FormatInt(n, 10), true
	case value.KindDouble:
		f, _ := v.AsDouble()
		return strconv.FormatFloat(f, 'g', -1, 64), true
	case value.KindDateTime:
		t, _ := v.AsTime()
		return t.UTC().Format("2006-01-02T15:04:05.000Z07:00"), true
	}
	return "", false
}

func evalIfNull(args []value.Value) value.Value {
	for _, a := range args[:len(args)-1] {
		if !a.IsNull() {
			return a
		}
	}
	return args[len(args)-1]
}

func evalSize(args []value.Value) value.Value {
	arr, ok := args[0].AsArray()
	if !ok {
		return value.Null()
	}
	return value.Int32(int32(len(arr)))
}

// comparisonExpr 使用跨类型的全序比较，缺失值按 Null 处理。
func comparisonExpr(accept func(int) bool) ExpressionOperator {
	return ExpressionOperator{
		MinArgs: 2,
		MaxArgs: 2,
		Eval: func(args []value.Value) value.Value {
			return value.Bool(accept(value.Compare(args[0], args[1])))
		},
	}
}
