package record

import (
	"context"
	stdErrors "errors"
)

// Recorder 接收调度结果。
type Recorder interface {
	Record(ctx context.Context, outcome Outcome) error
}

// Store 在 Recorder 之上提供查询能力。
type Store interface {
	Recorder
	Get(ctx context.Context, taskID string) (Outcome, error)
	List(ctx context.Context, opts ListOptions) ([]Outcome, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}

// RecorderFunc 允许普通函数作为 Recorder 使用。
type RecorderFunc func(ctx context.Context, outcome Outcome) error

// Record 实现 Recorder 接口。
func (f RecorderFunc) Record(ctx context.Context, outcome Outcome) error {
	return f(ctx, outcome)
}

// Multi 把结果写入全部 Recorder，某一个失败不影响其他 Recorder，错误合并返回。
func Multi(recorders ...Recorder) Recorder {
	filtered := make([]Recorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			filtered = append(filtered, r)
		}
	}
	return multiRecorder(filtered)
}

type multiRecorder []Recorder

func (m multiRecorder) Record(ctx context.Context, outcome Outcome) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return stdErrors.Join(errs...)
}
