package fongo

import (
	"errors"
	"fmt"
)

// ErrorKind 定义错误类型
type ErrorKind string

const (
	ErrorKindDuplicateKey         ErrorKind = "DuplicateKey"
	ErrorKindBadPipelineStage     ErrorKind = "BadPipelineStage"
	ErrorKindInvalidQueryOperator ErrorKind = "InvalidQueryOperator"
	ErrorKindCollectionNotFound   ErrorKind = "CollectionNotFound"
	ErrorKindBadValue             ErrorKind = "BadValue"
	ErrorKindClosed               ErrorKind = "Closed"
)

// 与参考服务端一致的错误码。
const (
	CodeBadValue             = 2
	CodeNamespaceNotFound    = 26
	CodeDuplicateKey         = 11000
	CodeStageNotSingleField  = 40323
	CodeUnrecognizedStage    = 40324
	CodeOutNotLastStage      = 40601
	CodeInvalidQueryOperator = 2
	CodeInvalidPipelineOp    = 168
	CodeClientClosed         = 189
)

// Error 是 fongo 的自定义错误类型，Code 会原样出现在失败的命令结果中。
type Error struct {
	Kind    ErrorKind
	Code    int
	Message string
	Context map[string]interface{}
	Err     error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError 创建新的 Error
func NewError(kind ErrorKind, code int, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
		Context: make(map[string]interface{}),
	}
}

// WithContext 添加上下文信息
func (e *Error) WithContext(key string, value interface{}) *Error {
	e.Context[key] = value
	return e
}

func errorf(kind ErrorKind, code int, format string, args ...any) *Error {
	return NewError(kind, code, fmt.Sprintf(format, args...), nil)
}

func badValue(format string, args ...any) *Error {
	return errorf(ErrorKindBadValue, CodeBadValue, format, args...)
}

func badStage(format string, args ...any) *Error {
	return errorf(ErrorKindBadPipelineStage, CodeUnrecognizedStage, format, args...)
}

func isKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsDuplicateKeyError 检查是否是 _id 冲突错误
func IsDuplicateKeyError(err error) bool { return isKind(err, ErrorKindDuplicateKey) }

// IsBadPipelineStageError 检查是否是非法管道阶段错误
func IsBadPipelineStageError(err error) bool { return isKind(err, ErrorKindBadPipelineStage) }

// IsInvalidQueryOperatorError 检查是否是未知查询操作符错误
func IsInvalidQueryOperatorError(err error) bool {
	return isKind(err, ErrorKindInvalidQueryOperator)
}

// IsCollectionNotFoundError 检查是否是集合不存在错误
func IsCollectionNotFoundError(err error) bool { return isKind(err, ErrorKindCollectionNotFound) }

// IsBadValueError 检查是否是参数错误
func IsBadValueError(err error) bool { return isKind(err, ErrorKindBadValue) }

// IsClosedError 检查是否是已关闭错误
func IsClosedError(err error) bool { return isKind(err, ErrorKindClosed) }
