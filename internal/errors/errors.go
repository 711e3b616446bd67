// Package errors 定义准入与调度路径共用的带错误码的错误类型。
//
// 准入阶段的错误（INITIALIZATION_FAILURE、ILLEGAL_STATE、AUTHORIZATION_FAILED）
// 直接返回给调用方；调度阶段的错误（UNSUPPORTED_TASK、EXECUTION_FAILED）
// 由调度循环记录、计数并按告警属性分发。
package errors

import (
	stdErrors "errors"
	"maps"
	"strings"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeIllegalState          Code = "ILLEGAL_STATE"
	CodeAuthorizationFailure  Code = "AUTHORIZATION_FAILED"
	CodeIdentityNotFound      Code = "IDENTITY_NOT_FOUND"
	CodeUnsupportedTask       Code = "UNSUPPORTED_TASK"
	CodeExecutionFailure      Code = "EXECUTION_FAILED"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

type attributes struct {
	message  string
	severity Severity
	alert    bool
}

// 错误码的默认描述。准入错误只返回给调用方，不触发告警。
var defaults = map[Code]attributes{
	CodeUnknown:               {"unknown error", SeverityCritical, true},
	CodeInvalidArgument:       {"invalid argument", SeverityInfo, false},
	CodeNotFound:              {"resource not found", SeverityInfo, false},
	CodeConflict:              {"resource conflict", SeverityWarning, false},
	CodeInitializationFailure: {"agent initialization failed", SeverityCritical, true},
	CodeIllegalState:          {"agent not accepting tasks", SeverityWarning, false},
	CodeAuthorizationFailure:  {"task authorization failed", SeverityWarning, false},
	CodeIdentityNotFound:      {"identity not resolvable", SeverityWarning, false},
	CodeUnsupportedTask:       {"no executor registered for task type", SeverityWarning, true},
	CodeExecutionFailure:      {"task execution failed", SeverityWarning, true},
	CodeStorageFailure:        {"storage failure", SeverityCritical, true},
	CodeQueueFailure:          {"queue failure", SeverityCritical, true},
	CodeTimeout:               {"operation timed out", SeverityWarning, true},
}

func lookup(code Code) attributes {
	if attr, ok := defaults[code]; ok {
		return attr
	}
	return defaults[CodeUnknown]
}

// Error 是带错误码的错误，可以包裹底层原因。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
	severity Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加一条键值信息，随告警与 API 响应一起输出。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string, 2)
		}
		e.metadata[key] = value
	}
}

// WithSeverity 覆盖错误码的默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) { e.severity = sev }
}

// New 创建错误。message 为空时使用错误码的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	attr := lookup(code)
	if message == "" {
		message = attr.message
	}
	e := &Error{code: code, message: message, severity: attr.severity}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 用错误码包裹已有错误。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(string(e.code))
	b.WriteString("] ")
	b.WriteString(e.message)
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 按错误码比较，使 errors.Is(err, New(code, "")) 在整条链上生效。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回不含原因的描述。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	return maps.Clone(e.metadata)
}

// Severity 返回严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return e.severity
}

// From 返回错误链上最外层的 *Error。
func From(err error) (*Error, bool) {
	var target *Error
	if err == nil || !stdErrors.As(err, &target) {
		return nil, false
	}
	return target, true
}

// CodeOf 返回最外层错误码，非本包错误返回 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.code
	}
	return CodeUnknown
}

// HasCode 判断错误链上任意一层是否带有指定错误码。
func HasCode(err error, code Code) bool {
	return stdErrors.Is(err, &Error{code: code})
}

// ShouldAlert 判断最外层错误码是否需要告警。
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return lookup(e.code).alert
	}
	return false
}

// SeverityOf 返回最外层错误的严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return lookup(CodeUnknown).severity
}
