package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	xerrors "ElizaDID/internal/errors"
	"ElizaDID/internal/executor"
	"ElizaDID/internal/observability/alerting"
	"ElizaDID/internal/record"
	"ElizaDID/internal/task"
)

// run 是调度循环，只由 ready→busy 的切换启动。队列取空或代理关闭时
// 在同一把锁内切回 ready 并退出，因此任意时刻至多一个任务在执行。
func (a *Agent) run() {
	defer a.wg.Done()
	for {
		a.mu.Lock()
		var (
			next *task.Task
			ok   bool
		)
		if !a.closed {
			next, ok = a.queue.Dequeue()
		}
		if !ok {
			a.state = StateReady
			close(a.idle)
			a.mu.Unlock()
			a.metrics.SetState(string(StateReady), allStates...)
			return
		}
		a.mu.Unlock()

		a.dispatch(next)
	}
}

// dispatch 执行单个任务并处理结果。执行失败不会中断调度循环，也不会重试。
func (a *Agent) dispatch(t *task.Task) {
	outcome := record.Outcome{
		TaskID:    t.ID,
		Type:      string(t.Type),
		Priority:  t.Priority,
		Sequence:  t.Sequence,
		StartedAt: time.Now().UTC(),
	}

	var (
		result any
		err    error
	)
	exec, found := a.executors.Lookup(t.Type)
	if !found {
		outcome.Status = record.StatusUnsupported
		err = xerrors.New(xerrors.CodeUnsupportedTask, "没有为该任务类型注册执行器",
			xerrors.WithMetadata("task_id", t.ID),
			xerrors.WithMetadata("task_type", string(t.Type)))
	} else {
		result, err = a.execute(exec, t)
		if err != nil {
			outcome.Status = record.StatusFailed
			err = xerrors.Wrap(xerrors.CodeExecutionFailure, err, "任务执行失败",
				xerrors.WithMetadata("task_id", t.ID),
				xerrors.WithMetadata("task_type", string(t.Type)),
				xerrors.WithMetadata("cause_code", string(xerrors.CodeOf(err))))
		} else {
			outcome.Status = record.StatusSucceeded
		}
	}
	outcome.FinishedAt = time.Now().UTC()

	if err != nil {
		outcome.ErrorCode = string(xerrors.CodeOf(err))
		outcome.Error = err.Error()
	} else if result != nil {
		encoded, encErr := json.Marshal(result)
		if encErr != nil {
			a.logger.Warn("执行结果无法序列化", slog.String("task_id", t.ID), slog.Any("error", encErr))
		} else {
			outcome.Result = encoded
		}
	}

	a.finish(t, outcome, err)
}

// execute 调用执行器，并把 panic 转换为普通错误。
func (a *Agent) execute(exec executor.Executor, t *task.Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("执行器 panic: %v", r)
		}
	}()
	return exec.Execute(a.loopCtx, t.Payload)
}

func (a *Agent) finish(t *task.Task, outcome record.Outcome, err error) {
	duration := outcome.Duration()
	a.metrics.TaskDispatched(outcome.Type, string(outcome.Status), duration, a.queue.Len())

	attrs := []any{
		slog.String("task_id", t.ID),
		slog.String("task_type", outcome.Type),
		slog.Uint64("sequence", outcome.Sequence),
		slog.String("status", string(outcome.Status)),
		slog.Duration("duration", duration),
	}
	if err != nil {
		a.logger.Warn("任务调度失败", append(attrs, slog.Any("error", err))...)
	} else {
		a.logger.Info("任务调度完成", attrs...)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(a.loopCtx), recordTimeout)
	defer cancel()

	if a.recorder != nil {
		if recErr := a.recorder.Record(ctx, outcome); recErr != nil {
			a.logger.Error("写入调度结果失败", slog.String("task_id", t.ID), slog.Any("error", recErr))
		}
	}

	if err == nil || a.alerts == nil || !xerrors.ShouldAlert(err) {
		return
	}
	event := alerting.FromError(err)
	event.Agent = a.DID()
	event.TaskID = t.ID
	event.TaskType = outcome.Type
	event.Sequence = outcome.Sequence
	if alertErr := a.alerts.Notify(ctx, event); alertErr != nil {
		a.logger.Error("发送调度告警失败", slog.String("task_id", t.ID), slog.Any("error", alertErr))
	}
}
