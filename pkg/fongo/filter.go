package fongo

import (
	"strings"

	"github.com/mozhou-tech/fongo-go/pkg/value"
)

// predicate 在整篇文档上求值。
type predicate func(doc *value.Document) bool

// Filter 是编译后的查询表达式，可以并发复用。
// 编译阶段负责报告未知操作符等结构错误，求值阶段从不报错：
// 类型不匹配只会导致不匹配。
type Filter struct {
	expr *value.Document
	pred predicate
}

// CompileFilter 编译查询表达式。nil 或空文档匹配所有文档。
func CompileFilter(expr *value.Document) (*Filter, error) {
	pred, err := compileExpression(expr)
	if err != nil {
		return nil, err
	}
	return &Filter{expr: expr, pred: pred}, nil
}

// Match 判断文档是否满足查询表达式。
func (f *Filter) Match(doc *value.Document) bool {
	if f == nil || f.pred == nil {
		return true
	}
	return f.pred(doc)
}

// Expression 返回原始查询表达式。
func (f *Filter) Expression() *value.Document {
	return f.expr
}

// MatchDocument 编译并立即求值，适合一次性判断。
func MatchDocument(expr, doc *value.Document) (bool, error) {
	f, err := CompileFilter(expr)
	if err != nil {
		return false, err
	}
	return f.Match(doc), nil
}

func matchAll(*value.Document) bool { return true }

func compileExpression(expr *value.Document) (predicate, error) {
	if expr.Len() == 0 {
		return matchAll, nil
	}
	preds := make([]predicate, 0, expr.Len())
	for _, f := range expr.Fields() {
		var (
			p   predicate
			err error
		)
		switch f.Key {
		case "$and", "$or", "$nor":
			p, err = compileLogical(f.Key, f.Value)
		case "$not":
			p, err = compileTopLevelNot(f.Value)
		case "$comment":
			continue
		default:
			if strings.HasPrefix(f.Key, "$") {
				return nil, errorf(ErrorKindInvalidQueryOperator, CodeInvalidQueryOperator,
					"unknown top level operator: %s", f.Key)
			}
			p, err = compileField(f.Key, f.Value)
		}
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return andAll(preds), nil
}

func andAll(preds []predicate) predicate {
	switch len(preds) {
	case 0:
		return matchAll
	case 1:
		return preds[0]
	}
	return func(doc *value.Document) bool {
		for _, p := range preds {
			if !p(doc) {
				return false
			}
		}
		return true
	}
}

// compileLogical 编译 $and/$or/$nor。空 $and 与空 $nor 匹配全部，空 $or 不匹配任何文档。
func compileLogical(op string, operand value.Value) (predicate, error) {
	arr, ok := operand.AsArray()
	if !ok {
		return nil, badValue("%s must be an array", op)
	}
	subs := make([]predicate, 0, len(arr))
	for _, elem := range arr {
		sub, ok := elem.AsDocument()
		if !ok {
			return nil, badValue("%s argument's entries must be objects", op)
		}
		p, err := compileExpression(sub)
		if err != nil {
			return nil, err
		}
		subs = append(subs, p)
	}
	switch op {
	case "$and":
		return andAll(subs), nil
	case "$or":
		return func(doc *value.Document) bool {
			for _, p := range subs {
				if p(doc) {
					return true
				}
			}
			return false
		}, nil
	default:
		return func(doc *value.Document) bool {
			for _, p := range subs {
				if p(doc) {
					return false
				}
			}
			return true
		}, nil
	}
}

func compileTopLevelNot(operand value.Value) (predicate, error) {
	sub, ok := operand.AsDocument()
	if !ok {
		return nil, badValue("$not needs an object")
	}
	p, err := compileExpression(sub)
	if err != nil {
		return nil, err
	}
	return func(doc *value.Document) bool { return !p(doc) }, nil
}

// isOperatorClause 判断形如 {$op: ...} 的字段条件。
func isOperatorClause(v value.Value) (*value.Document, bool) {
	d, ok := v.AsDocument()
	if !ok || d.Len() == 0 {
		return nil, false
	}
	return d, strings.HasPrefix(d.Keys()[0], "$")
}

// compileField 编译单个字段条件：字面量做相等比较，操作符文档逐个编译后取与。
func compileField(path string, operand value.Value) (predicate, error) {
	fm, err := compileFieldMatcher(operand)
	if err != nil {
		return nil, err
	}
	return func(doc *value.Document) bool {
		leaves, found := value.Resolve(doc, path)
		return fm(leaves, found)
	}, nil
}

func compileFieldMatcher(operand value.Value) (FieldMatcher, error) {
	clause, ok := isOperatorClause(operand)
	if !ok {
		return equalsMatcher(operand), nil
	}
	return compileOperatorClause(clause)
}

func compileOperatorClause(clause *value.Document) (FieldMatcher, error) {
	matchers := make([]FieldMatcher, 0, clause.Len())
	for _, f := range clause.Fields() {
		if f.Key == "$options" {
			if !clause.Has("$regex") {
				return nil, badValue("$options needs a $regex")
			}
			continue
		}
		compiler, ok := lookupQueryOperator(f.Key)
		if !ok {
			return nil, errorf(ErrorKindInvalidQueryOperator, CodeInvalidQueryOperator, "unknown operator: %s", f.Key).
				WithContext("operator", f.Key)
		}
		m, err := compiler(f.Value, clause)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}
	if len(matchers) == 1 {
		return matchers[0], nil
	}
	return func(leaves []value.Value, found bool) bool {
		for _, m := range matchers {
			if !m(leaves, found) {
				return false
			}
		}
		return true
	}, nil
}

// candidates 返回参与比较的值：叶子本身及叶子数组的元素；字段缺失时按 Null 比较。
func candidates(leaves []value.Value, found bool) []value.Value {
	if !found {
		return []value.Value{value.Null()}
	}
	out := make([]value.Value, 0, len(leaves))
	for _, leaf := range leaves {
		out = append(out, leaf)
		if arr, ok := leaf.AsArray(); ok {
			out = append(out, arr...)
		}
	}
	return out
}

func equalsMatcher(operand value.Value) FieldMatcher {
	return func(leaves []value.Value, found bool) bool {
		for _, c := range candidates(leaves, found) {
			if value.Equal(c, operand) {
				return true
			}
		}
		return false
	}
}
