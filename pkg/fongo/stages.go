package fongo

import (
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/mozhou-tech/fongo-go/pkg/value"
)

// Stage 把输入文档序列变换为输出序列。输入文档只读，需要修改时先拷贝。
type Stage func(in iter.Seq[*value.Document]) iter.Seq[*value.Document]

// StageCompiler 把阶段参数编译为 Stage，参数错误应在这里报告。
type StageCompiler func(spec value.Value) (Stage, error)

var (
	stages   = make(map[string]StageCompiler)
	stagesMu sync.RWMutex
)

// RegisterStage 注册（或覆盖）聚合阶段。$out 由执行器处理，不能通过注册替换。
func RegisterStage(name string, compiler StageCompiler) {
	stagesMu.Lock()
	defer stagesMu.Unlock()
	stages[name] = compiler
}

func lookupStage(name string) (StageCompiler, bool) {
	stagesMu.RLock()
	defer stagesMu.RUnlock()
	c, ok := stages[name]
	return c, ok
}

func init() {
	RegisterStage("$match", compileMatchStage)
	RegisterStage("$project", compileProjectStage)
	RegisterStage("$unwind", compileUnwindStage)
	RegisterStage("$group", compileGroupStage)
	RegisterStage("$sort", compileSortStage)
	RegisterStage("$skip", compileSkipStage)
	RegisterStage("$limit", compileLimitStage)
	RegisterStage("$count", compileCountStage)
	RegisterStage("$addFields", compileAddFieldsStage)
	RegisterStage("$set", compileAddFieldsStage)
	RegisterStage("$unset", compileUnsetStage)
}

func compileMatchStage(spec value.Value) (Stage, error) {
	d, ok := spec.AsDocument()
	if !ok {
		return nil, badValue("the $match filter must be an expression in an object")
	}
	f, err := CompileFilter(d)
	if err != nil {
		return nil, err
	}
	return func(in iter.Seq[*value.Document]) iter.Seq[*value.Document] {
		return func(yield func(*value.Document) bool) {
			for doc := range in {
				if f.Match(doc) && !yield(doc) {
					return
				}
			}
		}
	}, nil
}

// mapStage 构造逐文档变换的阶段，fn 返回 nil 表示丢弃该文档。
func mapStage(fn func(*value.Document) *value.Document) Stage {
	return func(in iter.Seq[*value.Document]) iter.Seq[*value.Document] {
		return func(yield func(*value.Document) bool) {
			for doc := range in {
				out := fn(doc)
				if out != nil && !yield(out) {
					return
				}
			}
		}
	}
}

// projection 是 $project 的字段树，叶子要么是包含标记，要么是计算表达式。
type projection struct {
	include  bool
	computed expr
	children map[string]*projection
	order    []string
}

func (p *projection) child(key string) *projection {
	if p.children == nil {
		p.children = make(map[string]*projection)
	}
	c, ok := p.children[key]
	if !ok {
		c = &projection{}
		p.children[key] = c
		p.order = append(p.order, key)
	}
	return c
}

func isProjectionFlag(v value.Value) (include, ok bool) {
	if b, isBool := v.AsBool(); isBool {
		return b, true
	}
	if v.IsNumber() {
		return v.IsTruthy(), true
	}
	return false, false
}

// flattenProjection 把嵌套的 {a: {b: 1}} 展开为 a.b。
func flattenProjection(prefix string, d *value.Document, out *[]value.Field) {
	for _, f := range d.Fields() {
		path := f.Key
		if prefix != "" {
			path = prefix + "." + f.Key
		}
		if nested, isOp := isOperatorClause(f.Value); nested != nil && !isOp {
			flattenProjection(path, nested, out)
			continue
		}
		*out = append(*out, value.E(path, f.Value))
	}
}

func compileProjectStage(spec value.Value) (Stage, error) {
	d, ok := spec.AsDocument()
	if !ok {
		return nil, badValue("$project specification must be an object")
	}
	if d.Len() == 0 {
		return nil, badValue("$project requires at least one output field")
	}
	var fields []value.Field
	flattenProjection("", d, &fields)

	root := &projection{}
	var exclusions []string
	inclusion, excludeID := false, false
	for _, f := range fields {
		if flag, isFlag := isProjectionFlag(f.Value); isFlag {
			switch {
			case f.Key == idField && !flag:
				excludeID = true
			case flag:
				inclusion = true
				node := root
				for _, part := range strings.Split(f.Key, ".") {
					node = node.child(part)
				}
				node.include = true
			default:
				exclusions = append(exclusions, f.Key)
			}
			continue
		}
		e, err := compileExpr(f.Value)
		if err != nil {
			return nil, err
		}
		inclusion = true
		node := root
		for _, part := range strings.Split(f.Key, ".") {
			node = node.child(part)
		}
		node.computed = e
	}
	if inclusion && len(exclusions) > 0 {
		return nil, badValue("cannot do exclusion on field %s in inclusion projection", exclusions[0])
	}

	if !inclusion {
		if excludeID {
			exclusions = append(exclusions, idField)
		}
		return unsetStage(exclusions), nil
	}
	if !excludeID {
		if _, mentioned := root.children[idField]; !mentioned {
			root.child(idField).include = true
		}
	}
	return mapStage(func(doc *value.Document) *value.Document {
		return applyInclusion(root, doc, doc)
	}), nil
}

// applyInclusion 按原文档字段顺序保留被包含的字段，计算字段随后按声明顺序追加。
func applyInclusion(p *projection, cur, root *value.Document) *value.Document {
	out := value.NewDocument()
	for _, f := range cur.Fields() {
		c, ok := p.children[f.Key]
		if !ok || c.computed != nil {
			continue
		}
		if c.include {
			out.Set(f.Key, f.Value)
			continue
		}
		if v, keep := projectNested(c, f.Value, root); keep {
			out.Set(f.Key, v)
		}
	}
	for _, key := range p.order {
		c := p.children[key]
		switch {
		case c.computed != nil:
			if v, ok := c.computed(root); ok {
				out.Set(key, v)
			}
		case !c.include && !out.Has(key) && c.hasComputed():
			out.Set(key, value.Doc(applyInclusion(c, value.NewDocument(), root)))
		}
	}
	return out
}

func projectNested(p *projection, v value.Value, root *value.Document) (value.Value, bool) {
	if d, ok := v.AsDocument(); ok {
		return value.Doc(applyInclusion(p, d, root)), true
	}
	if arr, ok := v.AsArray(); ok {
		out := make([]value.Value, 0, len(arr))
		for _, elem := range arr {
			if nv, keep := projectNested(p, elem, root); keep {
				out = append(out, nv)
			}
		}
		return value.Array(out...), true
	}
	return value.Value{}, false
}

func (p *projection) hasComputed() bool {
	for _, c := range p.children {
		if c.computed != nil || c.hasComputed() {
			return true
		}
	}
	return false
}

func unsetStage(paths []string) Stage {
	return mapStage(func(doc *value.Document) *value.Document {
		out := doc.Clone()
		for _, p := range paths {
			out.DeletePath(p)
		}
		return out
	})
}

func compileUnsetStage(spec value.Value) (Stage, error) {
	specs := []value.Value{spec}
	if arr, ok := spec.AsArray(); ok {
		specs = arr
	}
	if len(specs) == 0 {
		return nil, badValue("$unset specification must be a string or an array with at least one field")
	}
	paths := make([]string, 0, len(specs))
	for _, s := range specs {
		p, ok := s.AsString()
		if !ok || p == "" || strings.HasPrefix(p, "$") {
			return nil, badValue("$unset specification must be a string or an array of field paths, got %s", s)
		}
		paths = append(paths, p)
	}
	return unsetStage(paths), nil
}

func compileAddFieldsStage(spec value.Value) (Stage, error) {
	d, ok := spec.AsDocument()
	if !ok {
		return nil, badValue("$addFields specification must be an object")
	}
	type assignment struct {
		path string
		e    expr
	}
	assigns := make([]assignment, 0, d.Len())
	for _, f := range d.Fields() {
		if strings.HasPrefix(f.Key, "$") {
			return nil, badValue("field path %s must not start with '$'", f.Key)
		}
		e, err := compileExpr(f.Value)
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, assignment{path: f.Key, e: e})
	}
	return mapStage(func(doc *value.Document) *value.Document {
		out := doc.Clone()
		for _, a := range assigns {
			if v, ok := a.e(doc); ok {
				out.SetPath(a.path, v)
			}
		}
		return out
	}), nil
}

func fieldPathOperand(v value.Value, stage string) (string, error) {
	s, ok := v.AsString()
	if !ok || !strings.HasPrefix(s, "$") || len(s) < 2 {
		return "", badValue("%s field path must be specified as a string prefixed with '$', got %s", stage, v)
	}
	return s[1:], nil
}

func compileUnwindStage(spec value.Value) (Stage, error) {
	var (
		path       string
		indexField string
		preserve   bool
		err        error
	)
	if d, ok := spec.AsDocument(); ok {
		pv, has := d.Get("path")
		if !has {
			return nil, badValue("no path specified to $unwind stage")
		}
		if path, err = fieldPathOperand(pv, "$unwind"); err != nil {
			return nil, err
		}
		for _, f := range d.Fields() {
			switch f.Key {
			case "path":
			case "includeArrayIndex":
				s, isStr := f.Value.AsString()
				if !isStr || s == "" || strings.HasPrefix(s, "$") {
					return nil, badValue("includeArrayIndex must be a non-empty string not starting with '$'")
				}
				indexField = s
			case "preserveNullAndEmptyArrays":
				b, isBool := f.Value.AsBool()
				if !isBool {
					return nil, badValue("preserveNullAndEmptyArrays must be a boolean")
				}
				preserve = b
			default:
				return nil, badValue("unrecognized option to $unwind stage: %s", f.Key)
			}
		}
	} else if path, err = fieldPathOperand(spec, "$unwind"); err != nil {
		return nil, err
	}

	return func(in iter.Seq[*value.Document]) iter.Seq[*value.Document] {
		return func(yield func(*value.Document) bool) {
			for doc := range in {
				v, found := doc.Lookup(path)
				arr, isArr := v.AsArray()
				switch {
				case isArr && len(arr) > 0:
					for i, elem := range arr {
						out := doc.Clone()
						out.SetPath(path, elem)
						if indexField != "" {
							out.SetPath(indexField, value.Int64(int64(i)))
						}
						if !yield(out) {
							return
						}
					}
				case found && !isArr && !v.IsNull():
					out := doc
					if indexField != "" {
						out = doc.Clone()
						out.SetPath(indexField, value.Null())
					}
					if !yield(out) {
						return
					}
				case preserve:
					out := doc
					if isArr || indexField != "" {
						out = doc.Clone()
					}
					// 空数组字段被移除，null 与缺失保持原样
					if isArr {
						out.DeletePath(path)
					}
					if indexField != "" {
						out.SetPath(indexField, value.Null())
					}
					if !yield(out) {
						return
					}
				}
			}
		}
	}, nil
}

type groupField struct {
	name    string
	factory AccumulatorFactory
	arg     expr
}

func compileGroupStage(spec value.Value) (Stage, error) {
	d, ok := spec.AsDocument()
	if !ok {
		return nil, badValue("a group's fields must be specified in an object")
	}
	idSpec, ok := d.Get(idField)
	if !ok {
		return nil, badValue("a group specification must specify an _id")
	}
	idExpr, err := compileExpr(idSpec)
	if err != nil {
		return nil, err
	}
	fields := make([]groupField, 0, d.Len()-1)
	for _, f := range d.Fields() {
		if f.Key == idField {
			continue
		}
		if strings.Contains(f.Key, ".") {
			return nil, badValue("the group aggregate field name '%s' cannot contain '.'", f.Key)
		}
		accSpec, isDoc := f.Value.AsDocument()
		if !isDoc || accSpec.Len() != 1 {
			return nil, badValue("the field '%s' must be an accumulator object", f.Key)
		}
		accName := accSpec.Keys()[0]
		factory, known := lookupAccumulator(accName)
		if !known {
			return nil, errorf(ErrorKindBadPipelineStage, CodeInvalidPipelineOp,
				"unknown group operator '%s'", accName).WithContext("operator", accName)
		}
		operand, _ := accSpec.Get(accName)
		arg, err := compileExpr(operand)
		if err != nil {
			return nil, err
		}
		fields = append(fields, groupField{name: f.Key, factory: factory, arg: arg})
	}

	return func(in iter.Seq[*value.Document]) iter.Seq[*value.Document] {
		return func(yield func(*value.Document) bool) {
			type group struct {
				id   value.Value
				accs []Accumulator
			}
			var order []*group
			byKey := make(map[string]*group)
			for doc := range in {
				id := evalOrNull(idExpr, doc)
				key := value.Key(id)
				g, seen := byKey[key]
				if !seen {
					g = &group{id: id, accs: make([]Accumulator, len(fields))}
					for i, f := range fields {
						g.accs[i] = f.factory()
					}
					byKey[key] = g
					order = append(order, g)
				}
				for i, f := range fields {
					v, found := f.arg(doc)
					g.accs[i].Add(v, found)
				}
			}
			for _, g := range order {
				out := value.NewDocument(value.E(idField, g.id))
				for i, f := range fields {
					out.Set(f.name, g.accs[i].Result())
				}
				if !yield(out) {
					return
				}
			}
		}
	}, nil
}

func compileSortStage(spec value.Value) (Stage, error) {
	d, ok := spec.AsDocument()
	if !ok {
		return nil, badValue("the $sort key specification must be an object")
	}
	keys, err := parseSortSpec(d)
	if err != nil {
		return nil, err
	}
	return func(in iter.Seq[*value.Document]) iter.Seq[*value.Document] {
		return func(yield func(*value.Document) bool) {
			docs := slices.Collect(in)
			sortDocuments(docs, keys)
			for _, doc := range docs {
				if !yield(doc) {
					return
				}
			}
		}
	}, nil
}

func nonNegativeCount(spec value.Value, stage string) (int64, error) {
	n, ok := integralOperand(spec)
	if !ok || n < 0 {
		return 0, badValue("invalid argument to %s stage: expected a non-negative whole number, got %s", stage, spec)
	}
	return n, nil
}

func compileSkipStage(spec value.Value) (Stage, error) {
	n, err := nonNegativeCount(spec, "$skip")
	if err != nil {
		return nil, err
	}
	return func(in iter.Seq[*value.Document]) iter.Seq[*value.Document] {
		return func(yield func(*value.Document) bool) {
			var seen int64
			for doc := range in {
				if seen < n {
					seen++
					continue
				}
				if !yield(doc) {
					return
				}
			}
		}
	}, nil
}

func compileLimitStage(spec value.Value) (Stage, error) {
	n, err := nonNegativeCount(spec, "$limit")
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, badValue("the limit must be positive")
	}
	return func(in iter.Seq[*value.Document]) iter.Seq[*value.Document] {
		return func(yield func(*value.Document) bool) {
			var emitted int64
			for doc := range in {
				if !yield(doc) {
					return
				}
				if emitted++; emitted >= n {
					return
				}
			}
		}
	}, nil
}

// compileCountStage 输出单个 {name: n} 文档；输入为空时不输出任何文档。
func compileCountStage(spec value.Value) (Stage, error) {
	name, ok := spec.AsString()
	switch {
	case !ok || name == "":
		return nil, badValue("the count field must be a non-empty string")
	case strings.HasPrefix(name, "$"):
		return nil, badValue("the count field cannot be a $-prefixed path")
	case strings.Contains(name, "."):
		return nil, badValue("the count field cannot contain '.'")
	}
	return func(in iter.Seq[*value.Document]) iter.Seq[*value.Document] {
		return func(yield func(*value.Document) bool) {
			var n int64
			for range in {
				n++
			}
			if n > 0 {
				yield(value.NewDocument(value.E(name, value.Int(n))))
			}
		}
	}, nil
}
