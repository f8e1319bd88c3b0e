/*
 * @module service/apperrors
 * @description 业务错误分类：校验错误同步返回、乐观锁冲突可重试、外部服务错误交调度器重试
 * @architecture 分层架构 - 错误处理
 * @documentReference ai_docs/targeting_req.md
 * @rules 校验错误必须携带面向用户的描述信息；冲突错误由调用方重试
 * @dependencies errors
 * @refs api/controllers/response.go
 */

package apperrors

import (
	"errors"
	"fmt"
)

// ErrConflict 乐观锁版本冲突，调用方应重试
var ErrConflict = errors.New("记录已被并发修改，请重试")

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("记录不存在")

// ValidationError 校验错误，同步返回给调用方，不重试
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// NewValidation 创建校验错误
func NewValidation(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NewFieldValidation 创建带字段名的校验错误
func NewFieldValidation(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation 判断是否为校验错误
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ExternalServiceError 外部服务（查重引擎、搜索索引、制裁名单源）调用失败
// 异步管道中重新抛出，由调度器按重试策略处理
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("外部服务 %s 调用失败: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// NewExternal 创建外部服务错误
func NewExternal(service string, err error) error {
	return &ExternalServiceError{Service: service, Err: err}
}

// IsExternal 判断是否为外部服务错误
func IsExternal(err error) bool {
	var ee *ExternalServiceError
	return errors.As(err, &ee)
}
