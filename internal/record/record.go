// Package record 保存调度循环产生的执行结果，供查询接口与运维排查使用。
package record

import (
	"encoding/json"
	"time"

	xerrors "ElizaDID/internal/errors"
)

// Status 表示一次调度的最终结果。
type Status string

const (
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
	StatusUnsupported Status = "unsupported"
)

// IsValidStatus 判断状态是否合法。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusSucceeded, StatusFailed, StatusUnsupported:
		return true
	default:
		return false
	}
}

var (
	// ErrOutcomeNotFound 表示记录不存在。
	ErrOutcomeNotFound = xerrors.New(xerrors.CodeNotFound, "dispatch outcome not found")
	// ErrOutcomeConflict 表示同一任务的结果已经写入。
	ErrOutcomeConflict = xerrors.New(xerrors.CodeConflict, "dispatch outcome already recorded")
)

// Outcome 是单个任务的调度结果。
type Outcome struct {
	TaskID     string          `json:"task_id"`
	Type       string          `json:"type"`
	Priority   int             `json:"priority"`
	Sequence   uint64          `json:"sequence"`
	Status     Status          `json:"status"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Error      string          `json:"error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Duration 返回执行耗时。
func (o Outcome) Duration() time.Duration {
	if o.FinishedAt.Before(o.StartedAt) {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// Validate 检查写入前的必填字段。
func (o Outcome) Validate() error {
	if o.TaskID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	if !IsValidStatus(o.Status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "非法的调度状态: "+string(o.Status))
	}
	return nil
}

func (o Outcome) clone() Outcome {
	o.Result = append(json.RawMessage(nil), o.Result...)
	return o
}
