package utils

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// ErrorKind 对外暴露的错误种类
type ErrorKind string

const (
	KindUnauthorized    ErrorKind = "UNAUTHORIZED"
	KindForbidden       ErrorKind = "FORBIDDEN"
	KindNotFound        ErrorKind = "NOT_FOUND"
	KindUnprocessable   ErrorKind = "UNPROCESSABLE_STATE"
	KindBadRequest      ErrorKind = "BAD_REQUEST"
	KindTooManyRequests ErrorKind = "TOO_MANY_REQUESTS"
	KindInternal        ErrorKind = "INTERNAL"
)

const internalErrorMessage = "服务器内部错误"

// AppError 业务错误
// Message 面向调用方，不包含存储层细节；Err 保留原始错误，仅用于日志
type AppError struct {
	Kind    ErrorKind
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Unauthorized 未登录或账号已停用
func Unauthorized(msg string) *AppError {
	return &AppError{Kind: KindUnauthorized, Code: fiber.StatusUnauthorized, Message: msg}
}

// Forbidden 角色、归属或锁定状态不允许
func Forbidden(msg string) *AppError {
	return &AppError{Kind: KindForbidden, Code: fiber.StatusForbidden, Message: msg}
}

// NotFound 资源不存在
func NotFound(msg string) *AppError {
	return &AppError{Kind: KindNotFound, Code: fiber.StatusNotFound, Message: msg}
}

// Unprocessable 业务不变量不满足
func Unprocessable(msg string) *AppError {
	return &AppError{Kind: KindUnprocessable, Code: fiber.StatusUnprocessableEntity, Message: msg}
}

// BadRequest 请求参数错误
func BadRequest(msg string) *AppError {
	return &AppError{Kind: KindBadRequest, Code: fiber.StatusBadRequest, Message: msg}
}

// TooManyRequests 登录失败次数过多
func TooManyRequests(msg string) *AppError {
	return &AppError{Kind: KindTooManyRequests, Code: fiber.StatusTooManyRequests, Message: msg}
}

// Internal 包装内部错误，对外只返回固定文案
func Internal(err error) *AppError {
	return &AppError{Kind: KindInternal, Code: fiber.StatusInternalServerError, Message: internalErrorMessage, Err: err}
}

// AsAppError 从错误链中取出 AppError，不是业务错误时按内部错误处理
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// IsKind 判断错误是否为指定种类
func IsKind(err error, kind ErrorKind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}
