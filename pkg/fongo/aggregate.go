package fongo

import (
	"fmt"
	"iter"
	"slices"

	"github.com/mozhou-tech/fongo-go/pkg/value"
	"github.com/sirupsen/logrus"
)

const outStage = "$out"

// pipeline 是编译后的聚合管道；out 为空表示没有 $out 阶段。
type pipeline struct {
	stages []Stage
	names  []string
	out    *outTarget
}

// outTarget 是 $out 的目标集合，只允许写入当前数据库。
type outTarget struct {
	collection string
}

// compilePipeline 在执行前编译全部阶段，任何结构错误都会在读写数据之前返回。
func (c *Collection) compilePipeline(specs []*value.Document) (*pipeline, error) {
	p := &pipeline{}
	for i, spec := range specs {
		if spec.Len() != 1 {
			return nil, errorf(ErrorKindBadPipelineStage, CodeStageNotSingleField,
				"a pipeline stage specification object must contain exactly one field, stage %d has %d", i, spec.Len())
		}
		f := spec.Fields()[0]
		p.names = append(p.names, f.Key)

		if f.Key == outStage {
			if i != len(specs)-1 {
				return nil, errorf(ErrorKindBadPipelineStage, CodeOutNotLastStage,
					"%s can only be the final stage in the pipeline", outStage)
			}
			target, err := c.compileOut(f.Value)
			if err != nil {
				return nil, err
			}
			p.out = target
			continue
		}

		compiler, ok := lookupStage(f.Key)
		if !ok {
			return nil, badStage("unrecognized pipeline stage name: '%s'", f.Key).WithContext("stage", f.Key)
		}
		stage, err := compiler(f.Value)
		if err != nil {
			return nil, err
		}
		p.stages = append(p.stages, stage)
	}
	return p, nil
}

func (c *Collection) compileOut(spec value.Value) (*outTarget, error) {
	if name, ok := spec.AsString(); ok {
		if err := validateCollectionName(name); err != nil {
			return nil, err
		}
		return &outTarget{collection: name}, nil
	}
	d, ok := spec.AsDocument()
	if !ok {
		return nil, badValue("%s only supports a string or object argument, got %s", outStage, spec)
	}
	var name string
	for _, f := range d.Fields() {
		s, isStr := f.Value.AsString()
		switch f.Key {
		case "db":
			if !isStr {
				return nil, badValue("%s.db must be a string", outStage)
			}
			if s != c.db.name {
				return nil, badValue("%s to a different database is not supported: %s", outStage, s).
					WithContext("db", s)
			}
		case "coll":
			if !isStr {
				return nil, badValue("%s.coll must be a string", outStage)
			}
			name = s
		default:
			return nil, badValue("unrecognized field in %s: %s", outStage, f.Key)
		}
	}
	if err := validateCollectionName(name); err != nil {
		return nil, err
	}
	return &outTarget{collection: name}, nil
}

func (p *pipeline) run(source []*value.Document) iter.Seq[*value.Document] {
	seq := slices.Values(source)
	for _, stage := range p.stages {
		seq = stage(seq)
	}
	return seq
}

// Aggregate 在集合快照上执行聚合管道。失败以 ok: 0 的结果返回，不会 panic。
// 带 $out 时输出被完整物化后一次性替换目标集合，返回的结果即写入的文档。
func (c *Collection) Aggregate(specs ...*value.Document) (res *CommandResult) {
	log := c.db.log.WithField("collection", c.name)
	defer func() {
		if r := recover(); r != nil {
			err := NewError(ErrorKindBadValue, CodeBadValue, "pipeline execution failed", fmt.Errorf("%v", r))
			log.WithField("panic", r).Error("Pipeline panicked")
			res = NewErrorResult(err)
		}
	}()

	p, err := c.compilePipeline(specs)
	if err != nil {
		log.WithFields(logrus.Fields{
			"error":  err,
			"stages": len(specs),
		}).Warn("Pipeline rejected")
		return NewErrorResult(err)
	}

	source, err := c.snapshot()
	if err != nil {
		return NewErrorResult(err)
	}
	output := slices.Collect(p.run(source))
	log.WithFields(logrus.Fields{
		"stages": p.names,
		"input":  len(source),
		"output": len(output),
	}).Debug("Pipeline executed")

	if p.out == nil {
		return newOKResult(output)
	}
	written, err := c.writeOut(p.out, output)
	if err != nil {
		log.WithFields(logrus.Fields{
			"error":       err,
			"destination": p.out.collection,
		}).Warn("Pipeline output rejected")
		return NewErrorResult(err)
	}
	return newOKResult(written)
}

// writeOut 为缺少 _id 的文档生成 ObjectId，然后原子地替换目标集合的全部内容。
// 目标不存在时创建；输出为空时目标被清空但保留。
func (c *Collection) writeOut(target *outTarget, docs []*value.Document) ([]*value.Document, error) {
	written := make([]*value.Document, len(docs))
	for i, d := range docs {
		if _, ok := d.Get(idField); ok {
			written[i] = d
			continue
		}
		withID := d.Clone()
		withID.Prepend(idField, value.NewObjectID())
		written[i] = withID
	}

	err := c.db.write(target.collection, func(s *store) error {
		return s.replaceAll(written)
	})
	if err != nil {
		return nil, err
	}
	c.db.log.WithFields(logrus.Fields{
		"source":      c.name,
		"destination": target.collection,
		"documents":   len(written),
	}).Info("Pipeline output written")
	return written, nil
}
