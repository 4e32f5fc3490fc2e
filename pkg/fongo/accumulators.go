package fongo

import (
	"sync"

	"github.com/mozhou-tech/fongo-go/pkg/value"
)

// Accumulator 是 $group 中单个输出字段的累加状态，每个分组各有一份。
// found 为 false 表示表达式在该文档上缺失。
type Accumulator interface {
	Add(v value.Value, found bool)
	Result() value.Value
}

// AccumulatorFactory 为每个新分组创建累加器。
type AccumulatorFactory func() Accumulator

var (
	accumulators   = make(map[string]AccumulatorFactory)
	accumulatorsMu sync.RWMutex
)

// RegisterAccumulator 注册（或覆盖）$group 累加器。
func RegisterAccumulator(name string, factory AccumulatorFactory) {
	accumulatorsMu.Lock()
	defer accumulatorsMu.Unlock()
	accumulators[name] = factory
}

func lookupAccumulator(name string) (AccumulatorFactory, bool) {
	accumulatorsMu.RLock()
	defer accumulatorsMu.RUnlock()
	f, ok := accumulators[name]
	return f, ok
}

func init() {
	RegisterAccumulator("$sum", func() Accumulator { return &sumAcc{sum: newNumericSum()} })
	RegisterAccumulator("$avg", func() Accumulator { return &avgAcc{} })
	RegisterAccumulator("$min", func() Accumulator { return &extremumAcc{want: -1} })
	RegisterAccumulator("$max", func() Accumulator { return &extremumAcc{want: 1} })
	RegisterAccumulator("$first", func() Accumulator { return &firstAcc{} })
	RegisterAccumulator("$last", func() Accumulator { return &lastAcc{} })
	RegisterAccumulator("$push", func() Accumulator { return &pushAcc{} })
	RegisterAccumulator("$addToSet", func() Accumulator { return &addToSetAcc{seen: make(map[string]struct{})} })
	RegisterAccumulator("$count", func() Accumulator { return &countAcc{} })
}

// sumAcc 忽略非数值输入，没有数值时结果为 0。
type sumAcc struct {
	sum *numericSum
}

func (a *sumAcc) Add(v value.Value, found bool) {
	if found {
		a.sum.add(v)
	}
}

func (a *sumAcc) Result() value.Value { return a.sum.value() }

// avgAcc 只统计数值，没有数值时结果为 Null。
type avgAcc struct {
	total float64
	n     int
}

func (a *avgAcc) Add(v value.Value, found bool) {
	if f, ok := v.ToFloat64(); found && ok {
		a.total += f
		a.n++
	}
}

func (a *avgAcc) Result() value.Value {
	if a.n == 0 {
		return value.Null()
	}
	return value.Double(a.total / float64(a.n))
}

// extremumAcc 实现 $min/$max，忽略 Null 与缺失值。
type extremumAcc struct {
	want int
	best value.Value
	seen bool
}

func (a *extremumAcc) Add(v value.Value, found bool) {
	if !found || v.IsNull() {
		return
	}
	if !a.seen || value.Compare(v, a.best)*a.want > 0 {
		a.best, a.seen = v, true
	}
}

func (a *extremumAcc) Result() value.Value {
	if !a.seen {
		return value.Null()
	}
	return a.best
}

type firstAcc struct {
	v    value.Value
	seen bool
}

func (a *firstAcc) Add(v value.Value, found bool) {
	if a.seen {
		return
	}
	a.seen = true
	if found {
		a.v = v
	}
}

func (a *firstAcc) Result() value.Value { return a.v }

type lastAcc struct {
	v value.Value
}

func (a *lastAcc) Add(v value.Value, found bool) {
	if !found {
		v = value.Null()
	}
	a.v = v
}

func (a *lastAcc) Result() value.Value { return a.v }

// pushAcc 按输入顺序收集，跳过缺失值。
type pushAcc struct {
	items []value.Value
}

func (a *pushAcc) Add(v value.Value, found bool) {
	if found {
		a.items = append(a.items, v)
	}
}

func (a *pushAcc) Result() value.Value { return value.Array(a.items...) }

type addToSetAcc struct {
	items []value.Value
	seen  map[string]struct{}
}

func (a *addToSetAcc) Add(v value.Value, found bool) {
	if !found {
		return
	}
	k := value.Key(v)
	if _, dup := a.seen[k]; dup {
		return
	}
	a.seen[k] = struct{}{}
	a.items = append(a.items, v)
}

func (a *addToSetAcc) Result() value.Value { return value.Array(a.items...) }

// countAcc 统计分组内的文档数，操作数被忽略。
type countAcc struct {
	n int64
}

func (a *countAcc) Add(value.Value, bool) { a.n++ }

func (a *countAcc) Result() value.Value { return value.Int(a.n) }
