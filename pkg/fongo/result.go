package fongo

import (
	"errors"

	"github.com/mozhou-tech/fongo-go/pkg/value"
)

// CommandResult 是命令的结果文档：
// 成功时为 {ok: 1, result: [...]}，失败时为 {ok: 0, errmsg: ..., code: ...}。
type CommandResult struct {
	doc    *value.Document
	result []*value.Document
	err    error
}

func newOKResult(docs []*value.Document) *CommandResult {
	arr := make([]value.Value, len(docs))
	for i, d := range docs {
		arr[i] = value.Doc(d)
	}
	return &CommandResult{
		doc: value.NewDocument(
			value.E("ok", value.Double(1)),
			value.E("result", value.Array(arr...)),
		),
		result: docs,
	}
}

// NewErrorResult 把错误转换为失败的命令结果，非 *Error 的错误使用 BadValue 的错误码。
func NewErrorResult(err error) *CommandResult {
	code := CodeBadValue
	msg := err.Error()
	var fe *Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}
	return &CommandResult{
		doc: value.NewDocument(
			value.E("ok", value.Double(0)),
			value.E("errmsg", value.String(msg)),
			value.E("code", value.Int32(int32(code))),
		),
		err: err,
	}
}

// OK 判断命令是否成功。
func (r *CommandResult) OK() bool {
	return r.err == nil
}

// Get 读取结果文档中的字段。
func (r *CommandResult) Get(key string) (value.Value, bool) {
	return r.doc.Get(key)
}

// Result 返回结果文档列表（副本），失败时为 nil。
func (r *CommandResult) Result() []*value.Document {
	if r.err != nil {
		return nil
	}
	out := make([]*value.Document, len(r.result))
	for i, d := range r.result {
		out[i] = d.Clone()
	}
	return out
}

func (r *CommandResult) ErrMsg() string {
	v, _ := r.doc.Get("errmsg")
	s, _ := v.AsString()
	return s
}

func (r *CommandResult) Code() int {
	v, ok := r.doc.Get("code")
	if !ok {
		return 0
	}
	n, _ := v.AsInt64()
	return int(n)
}

// Err 返回失败原因，可以配合 IsDuplicateKeyError 等函数使用。
func (r *CommandResult) Err() error {
	return r.err
}

// Document 返回完整的结果文档（副本）。
func (r *CommandResult) Document() *value.Document {
	return r.doc.Clone()
}
