// Package simerr 定义引擎对控制面暴露的统一错误形状。
// 路由层按 Code 映射 HTTP 状态码：validation→400, not_found→404, conflict→409。
package simerr

import (
	"errors"
	"fmt"
)

// Code 错误分类编码
type Code string

const (
	CodeValidation Code = "validation" // 参数/状态校验失败
	CodeNotFound   Code = "not_found"  // 目标对象不存在
	CodeConflict   Code = "conflict"   // 当前状态下不允许的操作
	CodeInternal   Code = "internal"   // 其余内部错误
)

// Error 携带分类编码的错误，控制面可直接序列化为 {code, message}
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New 构造指定编码的错误
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validationf 校验错误
func Validationf(format string, args ...any) *Error {
	return New(CodeValidation, format, args...)
}

// NotFoundf 不存在错误
func NotFoundf(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

// Conflictf 状态冲突错误
func Conflictf(format string, args ...any) *Error {
	return New(CodeConflict, format, args...)
}

// CodeOf 提取错误编码；非 *Error 一律视为 internal
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeInternal
}
