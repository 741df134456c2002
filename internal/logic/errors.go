package logic

import (
	"errors"
	"fmt"
)

// ErrorKind 错误类型，调用方据此分支处理
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"               // 输入不合法，不重试
	KindInvalidTransition  ErrorKind = "invalid_state_transition" // 当前状态不允许该操作
	KindNoBids             ErrorKind = "no_bids"                  // 无出价无法结束竞拍
	KindAlreadyResolved    ErrorKind = "already_resolved"         // 争议已裁决
	KindConflict           ErrorKind = "concurrency_conflict"     // 并发冲突，重新读取后重试
	KindExternalDependency ErrorKind = "external_dependency"      // 外部依赖失败
	KindNotFound           ErrorKind = "not_found"
	KindForbidden          ErrorKind = "forbidden"
	KindInsufficientCredit ErrorKind = "insufficient_credit"
	KindInternal           ErrorKind = "internal"
)

// Error 业务错误
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf 取错误类型，非业务错误视为 internal
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind 判断错误类型
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

func newError(kind ErrorKind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func validationError(op, format string, args ...interface{}) error {
	return newError(KindValidation, op, format, args...)
}

func transitionError(op, format string, args ...interface{}) error {
	return newError(KindInvalidTransition, op, format, args...)
}

func conflictError(op, format string, args ...interface{}) error {
	return newError(KindConflict, op, format, args...)
}

func notFoundError(op, format string, args ...interface{}) error {
	return newError(KindNotFound, op, format, args...)
}

func forbiddenError(op, format string, args ...interface{}) error {
	return newError(KindForbidden, op, format, args...)
}

func externalError(op string, err error, format string, args ...interface{}) error {
	e := newError(KindExternalDependency, op, format, args...)
	e.Err = err
	return e
}
