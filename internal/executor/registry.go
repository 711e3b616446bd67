package executor

import (
	"context"
	stdErrors "errors"
	"sort"
	"sync"
	"time"

	xerrors "ElizaDID/internal/errors"
	"ElizaDID/internal/task"
)

// Executor 执行某一类任务的业务逻辑，由外部协作方提供。
type Executor interface {
	Execute(ctx context.Context, payload map[string]any) (any, error)
}

// Func 允许普通函数作为 Executor 使用。
type Func func(ctx context.Context, payload map[string]any) (any, error)

// Execute 实现 Executor 接口。
func (f Func) Execute(ctx context.Context, payload map[string]any) (any, error) {
	return f(ctx, payload)
}

// Option 定义注册时的可选配置。
type Option func(*entry)

// WithTimeout 限制单次执行的时长。超时通过 context 通知执行器，
// 执行器需要自行响应取消；调度循环不会在执行器返回前开始下一个任务。
func WithTimeout(d time.Duration) Option {
	return func(e *entry) {
		if d > 0 {
			e.timeout = d
		}
	}
}

type entry struct {
	executor Executor
	timeout  time.Duration
}

// Execute 实现 Executor 接口，在注册边界上应用超时。
func (e *entry) Execute(ctx context.Context, payload map[string]any) (any, error) {
	if e.timeout <= 0 {
		return e.executor.Execute(ctx, payload)
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	result, err := e.executor.Execute(ctx, payload)
	if err != nil && stdErrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "执行器超时",
			xerrors.WithMetadata("timeout", e.timeout.String()))
	}
	return result, err
}

// Registry 维护任务类型到执行器的映射。
type Registry struct {
	mu      sync.RWMutex
	entries map[task.Type]*entry
}

// NewRegistry 创建空的执行器注册表。
func NewRegistry() *Registry {
	return &Registry{entries: make(map[task.Type]*entry)}
}

// Register 注册执行器。类型标签在注册时校验，重复注册返回 CONFLICT。
func (r *Registry) Register(t task.Type, executor Executor, opts ...Option) error {
	if err := task.ValidateType(t); err != nil {
		return err
	}
	if fn, ok := executor.(Func); executor == nil || (ok && fn == nil) {
		return xerrors.New(xerrors.CodeInvalidArgument, "执行器不能为空", xerrors.WithMetadata("task_type", string(t)))
	}
	e := &entry{executor: executor}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[t]; exists {
		return xerrors.New(xerrors.CodeConflict, "任务类型已注册执行器", xerrors.WithMetadata("task_type", string(t)))
	}
	r.entries[t] = e
	return nil
}

// MustRegister 与 Register 相同，失败时 panic，用于启动阶段的静态注册。
func (r *Registry) MustRegister(t task.Type, executor Executor, opts ...Option) {
	if err := r.Register(t, executor, opts...); err != nil {
		panic(err)
	}
}

// Lookup 返回任务类型对应的执行器。
func (r *Registry) Lookup(t task.Type) (Executor, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[t]
	if !ok {
		return nil, false
	}
	return e, true
}

// Types 返回已注册的任务类型，按字母序排列。
func (r *Registry) Types() []task.Type {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]task.Type, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
