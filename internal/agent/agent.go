package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "ElizaDID/internal/errors"
	"ElizaDID/internal/executor"
	"ElizaDID/internal/identity"
	"ElizaDID/internal/observability/alerting"
	"ElizaDID/internal/observability/metrics"
	"ElizaDID/internal/record"
	"ElizaDID/internal/task"
	"ElizaDID/internal/web3"
)

// State 表示代理的生命周期状态。
type State string

const (
	StateCreated State = "created"
	StateReady   State = "ready"
	StateBusy    State = "busy"
	StateFailed  State = "failed"
)

var allStates = []string{string(StateCreated), string(StateReady), string(StateBusy), string(StateFailed)}

// DefaultChallenge 是初始化时自签名校验使用的固定消息。
const DefaultChallenge = "init"

// recordTimeout 限制单次结果写入与告警的耗时，避免阻塞调度循环。
const recordTimeout = 5 * time.Second

// Authorizer 校验签名是否由指定身份产生。identity.Authorizer 满足该接口。
type Authorizer interface {
	Verify(ctx context.Context, did string, message, signature []byte) (bool, error)
}

// Backend 是执行后端的连通性检查入口。web3.Client 满足该接口。
type Backend interface {
	FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error)
}

// ExecutorSource 按任务类型查找执行器。executor.Registry 满足该接口。
type ExecutorSource interface {
	Lookup(t task.Type) (executor.Executor, bool)
}

// SubmitRequest 描述一次任务提交。
type SubmitRequest struct {
	Type      task.Type
	Payload   map[string]any
	Signature []byte
	Priority  int
}

// Status 汇总代理当前的运行信息。
type Status struct {
	DID           string             `json:"did"`
	State         State              `json:"state"`
	QueueLength   int                `json:"queue_length"`
	Closed        bool               `json:"closed"`
	Chain         web3.ChainSnapshot `json:"chain"`
	InitializedAt time.Time          `json:"initialized_at,omitempty"`
}

// Agent 负责任务准入与单路调度。
type Agent struct {
	signer     identity.Signer
	authorizer Authorizer
	backend    Backend
	executors  ExecutorSource

	logger    *slog.Logger
	audit     *slog.Logger
	recorder  record.Recorder
	alerts    alerting.Dispatcher
	metrics   *metrics.Metrics
	challenge string

	queue *task.Queue

	// mu 保护下列字段，并使入队与 ready→busy 的切换、出队与 busy→ready 的切换各自原子化。
	mu            sync.Mutex
	state         State
	initializing  bool
	closed        bool
	idle          chan struct{}
	snapshot      web3.ChainSnapshot
	initializedAt time.Time

	loopCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithLogger 设置运行日志。
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithAuditLogger 设置记录准入决定的审计日志，默认与运行日志相同。
func WithAuditLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.audit = logger
		}
	}
}

// WithRecorder 设置调度结果的接收方。
func WithRecorder(recorder record.Recorder) Option {
	return func(a *Agent) {
		a.recorder = recorder
	}
}

// WithAlertDispatcher 设置失败告警的分发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(a *Agent) {
		a.alerts = dispatcher
	}
}

// WithMetrics 设置 Prometheus 指标。
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) {
		a.metrics = m
	}
}

// WithChallenge 替换初始化自检使用的消息。
func WithChallenge(challenge string) Option {
	return func(a *Agent) {
		if challenge != "" {
			a.challenge = challenge
		}
	}
}

// New 创建一个处于 created 状态的 Agent。
func New(signer identity.Signer, authorizer Authorizer, backend Backend, executors ExecutorSource, opts ...Option) *Agent {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		signer:     signer,
		authorizer: authorizer,
		backend:    backend,
		executors:  executors,
		logger:     slog.Default(),
		challenge:  DefaultChallenge,
		queue:      task.NewQueue(),
		state:      StateCreated,
		loopCtx:    ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.audit == nil {
		a.audit = a.logger
	}
	a.metrics.SetState(string(StateCreated), allStates...)
	return a
}

// DID 返回代理的身份标识。
func (a *Agent) DID() string {
	if a.signer == nil {
		return ""
	}
	return a.signer.DID()
}

// State 返回当前生命周期状态。
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// QueueLength 返回排队中的任务数，不含正在执行的任务。
func (a *Agent) QueueLength() int {
	return a.queue.Len()
}

// Pending 按出队顺序返回排队任务的只读快照。
func (a *Agent) Pending() []*task.Task {
	return a.queue.Snapshot()
}

// Status 返回代理状态摘要。
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		DID:           a.DID(),
		State:         a.state,
		QueueLength:   a.queue.Len(),
		Closed:        a.closed,
		Chain:         a.snapshot,
		InitializedAt: a.initializedAt,
	}
}

// Initialize 用本地签名器对固定消息签名并通过 Authorizer 校验，随后检查执行后端连通性。
// 仅允许在 created 或 failed 状态调用，任一步失败都会进入 failed 状态。
func (a *Agent) Initialize(ctx context.Context) error {
	a.mu.Lock()
	if a.closed || a.initializing || (a.state != StateCreated && a.state != StateFailed) {
		state := a.state
		a.mu.Unlock()
		return xerrors.New(xerrors.CodeIllegalState, "当前状态不允许初始化",
			xerrors.WithMetadata("state", string(state)))
	}
	a.initializing = true
	a.mu.Unlock()

	snapshot, err := a.selfCheck(ctx)

	a.mu.Lock()
	a.initializing = false
	if err != nil {
		a.state = StateFailed
		a.mu.Unlock()
		a.metrics.SetState(string(StateFailed), allStates...)
		a.logger.Error("代理初始化失败", slog.String("did", a.DID()), slog.Any("error", err))
		return err
	}
	a.state = StateReady
	a.snapshot = snapshot
	a.initializedAt = time.Now().UTC()
	a.mu.Unlock()

	a.metrics.SetState(string(StateReady), allStates...)
	a.logger.Info("代理初始化完成",
		slog.String("did", a.DID()),
		slog.String("chain", snapshot.Chain),
		slog.String("chain_id", snapshot.ChainID),
		slog.String("block_number", snapshot.BlockNumber))
	return nil
}

func (a *Agent) selfCheck(ctx context.Context) (web3.ChainSnapshot, error) {
	if a.signer == nil || a.authorizer == nil || a.backend == nil || a.executors == nil {
		return web3.ChainSnapshot{}, xerrors.New(xerrors.CodeInitializationFailure, "代理依赖未配置完整")
	}
	did := a.signer.DID()
	message := []byte(a.challenge)
	signature, err := a.signer.Sign(message)
	if err != nil {
		return web3.ChainSnapshot{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "签名自检消息失败",
			xerrors.WithMetadata("did", did))
	}
	ok, err := a.authorizer.Verify(ctx, did, message, signature)
	if err != nil {
		return web3.ChainSnapshot{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "身份自检失败",
			xerrors.WithMetadata("did", did))
	}
	if !ok {
		return web3.ChainSnapshot{}, xerrors.New(xerrors.CodeInitializationFailure, "自检签名与身份不匹配",
			xerrors.WithMetadata("did", did))
	}
	snapshot, err := a.backend.FetchChainSnapshot(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "执行后端不可用")
	}
	return snapshot, nil
}

// Submit 校验签名并将任务加入队列。签名校验失败或身份无法解析时返回
// AUTHORIZATION_FAILED，队列保持不变；代理未就绪时返回 ILLEGAL_STATE。
func (a *Agent) Submit(ctx context.Context, req SubmitRequest) (*task.Task, error) {
	if err := a.admissible(); err != nil {
		a.reject(metrics.ReasonIllegalState, req.Type, err)
		return nil, err
	}

	t, err := task.New(req.Type, req.Payload, req.Signature, req.Priority)
	if err != nil {
		a.reject(metrics.ReasonInvalid, req.Type, err)
		return nil, err
	}
	message, err := task.CanonicalMessage(t.Type, t.Payload)
	if err != nil {
		err = xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法规范化任务内容")
		a.reject(metrics.ReasonInvalid, t.Type, err)
		return nil, err
	}

	did := a.DID()
	ok, err := a.authorizer.Verify(ctx, did, message, t.Signature)
	if err != nil {
		if !xerrors.HasCode(err, xerrors.CodeAuthorizationFailure) {
			err = xerrors.Wrap(xerrors.CodeAuthorizationFailure, err, "无法校验任务签名",
				xerrors.WithMetadata("did", did))
		}
		a.reject(metrics.ReasonUnresolvable, t.Type, err)
		return nil, err
	}
	if !ok {
		err := xerrors.New(xerrors.CodeAuthorizationFailure, "任务签名与代理身份不匹配",
			xerrors.WithMetadata("did", did),
			xerrors.WithMetadata("task_type", string(t.Type)))
		a.reject(metrics.ReasonUnauthorized, t.Type, err)
		return nil, err
	}

	t.ID = uuid.NewString()
	t.SubmittedAt = time.Now().UTC()

	a.mu.Lock()
	if err := a.admissibleLocked(); err != nil {
		a.mu.Unlock()
		a.reject(metrics.ReasonIllegalState, t.Type, err)
		return nil, err
	}
	a.queue.Enqueue(t)
	depth := a.queue.Len()
	start := a.state == StateReady
	if start {
		a.state = StateBusy
		a.idle = make(chan struct{})
		a.wg.Add(1)
	}
	a.mu.Unlock()

	if start {
		a.metrics.SetState(string(StateBusy), allStates...)
		go a.run()
	}
	a.metrics.TaskAdmitted(string(t.Type), depth)
	a.audit.Info("任务已准入",
		slog.String("task_id", t.ID),
		slog.String("task_type", string(t.Type)),
		slog.Int("priority", t.Priority),
		slog.Uint64("sequence", t.Sequence),
		slog.Int("queue_length", depth))
	return t, nil
}

func (a *Agent) admissible() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.admissibleLocked()
}

func (a *Agent) admissibleLocked() error {
	if a.closed {
		return xerrors.New(xerrors.CodeIllegalState, "代理已关闭")
	}
	if a.state != StateReady && a.state != StateBusy {
		return xerrors.New(xerrors.CodeIllegalState, "代理尚未就绪",
			xerrors.WithMetadata("state", string(a.state)))
	}
	return nil
}

func (a *Agent) reject(reason string, t task.Type, err error) {
	a.metrics.TaskRejected(reason)
	a.audit.Warn("任务被拒绝",
		slog.String("reason", reason),
		slog.String("task_type", string(t)),
		slog.String("code", string(xerrors.CodeOf(err))),
		slog.Any("error", err))
}

// WaitIdle 阻塞直到调度循环空闲或 ctx 结束。
func (a *Agent) WaitIdle(ctx context.Context) error {
	a.mu.Lock()
	idle := a.idle
	busy := a.state == StateBusy
	a.mu.Unlock()
	if !busy || idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止准入、取消调度上下文并等待调度循环退出。未开始执行的任务会被丢弃。
func (a *Agent) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.cancel()
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待调度循环退出超时")
	}

	if dropped := a.queue.Len(); dropped > 0 {
		a.logger.Warn("代理关闭，丢弃未执行的任务", slog.Int("count", dropped))
	}
	a.logger.Info("代理已关闭", slog.String("did", a.DID()))
	return nil
}
