package service

import (
	"errors"
	"fmt"

	"github.com/bitfantasy/nimo-mrp/internal/mrp/repository"
)

// ErrorKind 业务错误分类
type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"
	KindValidation ErrorKind = "validation"
	KindConflict   ErrorKind = "conflict"
	KindConstraint ErrorKind = "constraint"
	KindInternal   ErrorKind = "internal"
)

// Error 业务错误，Details 携带违反的约束（允许的状态、剩余数量等）
type Error struct {
	Kind    ErrorKind              `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// With 附加细节
func (e *Error) With(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func NotFoundError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func ValidationError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func ConflictError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func ConstraintError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConstraint, Message: fmt.Sprintf(format, args...)}
}

func InternalError(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// InvalidTransitionError 非法状态流转
func InvalidTransitionError(from, to string, allowed []string) *Error {
	if allowed == nil {
		allowed = []string{}
	}
	return ConflictError("不允许从 %s 流转到 %s", from, to).
		With("from", from).
		With("to", to).
		With("allowed", allowed)
}

// KindOf 取错误分类，非业务错误视为内部错误
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind 判断错误分类
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// repoError 把仓库错误转换为业务错误
func repoError(err error, what string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return NotFoundError("%s不存在", what)
	case errors.Is(err, repository.ErrDuplicate):
		return ConstraintError("%s已存在", what)
	}
	return InternalError(err, "%s读写失败", what)
}
