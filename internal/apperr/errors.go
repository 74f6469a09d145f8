package apperr

import (
	"errors"
	"fmt"
)

// AppError 应用错误类型
// 统一管理业务错误，Code 直接对应协议层 error 帧中的错误码
type AppError struct {
	Code    string // 协议错误码
	Message string // 用户可见的错误消息
	Err     error  // 原始错误（可选，用于调试）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// New 创建新错误
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装原始错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// WithMessage 替换错误消息，保留错误码
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: message,
		Err:     e.Err,
	}
}

// Is 判断是否为指定错误
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// Code 获取错误码，如果不是 AppError 返回 INTERNAL_ERROR
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// Message 获取错误消息
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

// ============== 错误码定义 ==============

const (
	// 认证相关
	CodeAuthRequired = "AUTH_REQUIRED"
	CodeInvalidToken = "INVALID_TOKEN"
	CodeTokenExpired = "TOKEN_EXPIRED"

	// 授权相关
	CodeNotFollowing     = "NOT_FOLLOWING"
	CodeBlocked          = "BLOCKED"
	CodeInsufficientPerm = "INSUFFICIENT_PERMISSIONS"
	CodeOwnerCannotLeave = "OWNER_CANNOT_LEAVE"

	// 容量相关
	CodeGroupFull      = "GROUP_FULL"
	CodeTooManyMembers = "TOO_MANY_MEMBERS"

	// 通用
	CodeValidation = "VALIDATION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeInternal   = "INTERNAL_ERROR"
)

// ============== 预定义错误 ==============

// 认证相关
var (
	ErrAuthRequired = New(CodeAuthRequired, "authenticate before sending other frames")
	ErrInvalidToken = New(CodeInvalidToken, "token is invalid")
	ErrTokenExpired = New(CodeTokenExpired, "token has expired")
)

// 授权相关
var (
	ErrNotFollowing     = New(CodeNotFollowing, "you must follow this user to message them")
	ErrBlocked          = New(CodeBlocked, "interaction between these users is blocked")
	ErrInsufficientPerm = New(CodeInsufficientPerm, "insufficient permissions for this operation")
	ErrOwnerCannotLeave = New(CodeOwnerCannotLeave, "the group owner cannot leave the group")
)

// 容量相关
var (
	ErrGroupFull      = New(CodeGroupFull, "group has reached its member limit")
	ErrTooManyMembers = New(CodeTooManyMembers, "too many initial members for this group")
)

// 通用
var (
	ErrValidation = New(CodeValidation, "request validation failed")
	ErrNotFound   = New(CodeNotFound, "resource not found")
	ErrInternal   = New(CodeInternal, "internal server error")
)
