package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ElizaDID/internal/agent"
	xerrors "ElizaDID/internal/errors"
	"ElizaDID/internal/observability/metrics"
	"ElizaDID/internal/record"
	"ElizaDID/internal/task"
)

// maxBodyBytes 限制单次提交的请求体大小。
const maxBodyBytes = 1 << 20

// TaskService 是 API 依赖的代理能力，*agent.Agent 满足该接口。
type TaskService interface {
	Submit(ctx context.Context, req agent.SubmitRequest) (*task.Task, error)
	Pending() []*task.Task
	Status() agent.Status
}

// TypeLister 返回已注册的任务类型，*executor.Registry 满足该接口。
type TypeLister interface {
	Types() []task.Type
}

// Server 负责暴露 REST 接口，供外部提交签名任务并查询调度结果。
type Server struct {
	addr     string
	agent    TaskService
	outcomes record.Store
	types    TypeLister
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option 定义可选的 Server 配置。
type Option func(*Server)

// WithOutcomeStore 启用 /api/v1/outcomes 查询。
func WithOutcomeStore(store record.Store) Option {
	return func(s *Server) {
		s.outcomes = store
	}
}

// WithTypeLister 在代理状态中附带已注册的任务类型。
func WithTypeLister(types TypeLister) Option {
	return func(s *Server) {
		s.types = types
	}
}

// WithMetrics 暴露 /metrics 并记录 HTTP 指标。
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger 设置服务日志。
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc TaskService, opts ...Option) *Server {
	s := &Server{addr: addr, agent: svc, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回挂载了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/tasks", s.instrument("tasks", s.handleTasks))
	mux.Handle("/api/v1/agent", s.instrument("agent", s.handleAgent))
	mux.Handle("/api/v1/outcomes", s.instrument("outcomes", s.handleListOutcomes))
	mux.Handle("/api/v1/outcomes/", s.instrument("outcome_detail", s.handleOutcomeDetail))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitTask(w, r)
	case http.MethodGet:
		s.handlePendingTasks(w, r)
	default:
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET/POST"), http.StatusMethodNotAllowed)
	}
}

// SubmitTaskRequest 是提交任务的请求体。Signature 为十六进制编码，可带 0x 前缀。
type SubmitTaskRequest struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Signature string         `json:"signature"`
	Priority  int            `json:"priority,omitempty"`
}

// SubmitTaskResponse 描述已准入的任务。
type SubmitTaskResponse struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Priority    int       `json:"priority"`
	Sequence    uint64    `json:"sequence"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, xerrors.New(xerrors.CodeIllegalState, "Agent 未初始化"), http.StatusServiceUnavailable)
		return
	}

	// 数字保留为 json.Number，规范化结果与客户端签名时一致。
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.UseNumber()
	var req SubmitTaskRequest
	if err := decoder.Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"), 0)
		return
	}
	signature, err := decodeSignature(req.Signature)
	if err != nil {
		writeError(w, err, 0)
		return
	}

	submitted, err := s.agent.Submit(r.Context(), agent.SubmitRequest{
		Type:      task.Type(req.Type),
		Payload:   req.Payload,
		Signature: signature,
		Priority:  req.Priority,
	})
	if err != nil {
		writeError(w, err, 0)
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitTaskResponse{
		ID:          submitted.ID,
		Type:        string(submitted.Type),
		Priority:    submitted.Priority,
		Sequence:    submitted.Sequence,
		SubmittedAt: submitted.SubmittedAt,
	})
}

// PendingTask 是排队任务的对外表示。
type PendingTask struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Priority    int            `json:"priority"`
	Sequence    uint64         `json:"sequence"`
	Payload     map[string]any `json:"payload"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

func (s *Server) handlePendingTasks(w http.ResponseWriter, _ *http.Request) {
	if s.agent == nil {
		writeError(w, xerrors.New(xerrors.CodeIllegalState, "Agent 未初始化"), http.StatusServiceUnavailable)
		return
	}
	pending := s.agent.Pending()
	out := make([]PendingTask, 0, len(pending))
	for _, t := range pending {
		out = append(out, PendingTask{
			ID:          t.ID,
			Type:        string(t.Type),
			Priority:    t.Priority,
			Sequence:    t.Sequence,
			Payload:     t.Payload,
			SubmittedAt: t.SubmittedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out, "count": len(out)})
}

// AgentResponse 在代理状态之外附带已注册的任务类型。
type AgentResponse struct {
	agent.Status
	Executors []string `json:"executors,omitempty"`
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET"), http.StatusMethodNotAllowed)
		return
	}
	if s.agent == nil {
		writeError(w, xerrors.New(xerrors.CodeIllegalState, "Agent 未初始化"), http.StatusServiceUnavailable)
		return
	}
	resp := AgentResponse{Status: s.agent.Status()}
	if s.types != nil {
		for _, t := range s.types.Types() {
			resp.Executors = append(resp.Executors, string(t))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// OutcomeList 是结果查询的响应。
type OutcomeList struct {
	Outcomes []record.Outcome `json:"outcomes"`
	Stats    record.Stats     `json:"stats"`
}

func (s *Server) handleListOutcomes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET"), http.StatusMethodNotAllowed)
		return
	}
	if s.outcomes == nil {
		writeError(w, xerrors.New(xerrors.CodeNotFound, "未启用结果存储"), 0)
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, err, 0)
		return
	}
	outcomes, err := s.outcomes.List(r.Context(), opts)
	if err != nil {
		writeError(w, err, 0)
		return
	}
	stats, err := s.outcomes.Stats(r.Context(), opts)
	if err != nil {
		writeError(w, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, OutcomeList{Outcomes: outcomes, Stats: stats})
}

func (s *Server) handleOutcomeDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET"), http.StatusMethodNotAllowed)
		return
	}
	if s.outcomes == nil {
		writeError(w, xerrors.New(xerrors.CodeNotFound, "未启用结果存储"), 0)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/outcomes/"), "/")
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少任务 ID"), 0)
		return
	}
	outcome, err := s.outcomes.Get(r.Context(), id)
	if err != nil {
		writeError(w, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func parseListOptions(r *http.Request) (record.ListOptions, error) {
	query := r.URL.Query()
	var opts []record.ListOption

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return record.ListOptions{}, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须是正整数")
		}
		opts = append(opts, record.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return record.ListOptions{}, xerrors.New(xerrors.CodeInvalidArgument, "offset 必须是非负整数")
		}
		opts = append(opts, record.WithOffset(offset))
	}
	if statuses := splitValues(query["status"]); len(statuses) > 0 {
		converted := make([]record.Status, 0, len(statuses))
		for _, raw := range statuses {
			status := record.Status(strings.ToLower(raw))
			if !record.IsValidStatus(status) {
				return record.ListOptions{}, xerrors.New(xerrors.CodeInvalidArgument, "非法的状态: "+raw)
			}
			converted = append(converted, status)
		}
		opts = append(opts, record.WithStatuses(converted...))
	}
	if types := splitValues(query["type"]); len(types) > 0 {
		opts = append(opts, record.WithTypes(types...))
	}
	for key, apply := range map[string]func(time.Time) record.ListOption{
		"since": record.WithFinishedSince,
		"until": record.WithFinishedUntil,
	} {
		raw := query.Get(key)
		if raw == "" {
			continue
		}
		ts, err := parseTime(raw)
		if err != nil {
			return record.ListOptions{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, key+" 格式错误")
		}
		opts = append(opts, apply(ts))
	}
	switch strings.ToLower(query.Get("order")) {
	case "", "desc":
	case "asc":
		opts = append(opts, record.WithSortOrder(record.SortByFinishedAsc))
	default:
		return record.ListOptions{}, xerrors.New(xerrors.CodeInvalidArgument, "order 只能是 asc 或 desc")
	}
	return record.BuildListOptions(opts...), nil
}

// parseTime 接受 Unix 毫秒或 RFC3339 时间。
func parseTime(raw string) (time.Time, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, raw)
}

func splitValues(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func decodeSignature(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "签名不能为空")
	}
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	signature, err := hex.DecodeString(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "签名必须是十六进制")
	}
	return signature, nil
}

// ErrorResponse 是统一的错误响应体。
type ErrorResponse struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// statusFor 把错误码映射为 HTTP 状态码。
func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeAuthorizationFailure:
		return http.StatusUnauthorized
	case xerrors.CodeIllegalState, xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError 写出错误响应，status 为 0 时按错误码推断。
func writeError(w http.ResponseWriter, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}
	resp := ErrorResponse{Code: string(xerrors.CodeOf(err)), Message: err.Error()}
	if coded, ok := xerrors.From(err); ok {
		resp.Code = string(coded.Code())
		resp.Metadata = coded.Metadata()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		http.Error(w, "响应编码失败", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 记录每个请求的状态码与耗时。
func (s *Server) instrument(name string, handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(rec, r)
		s.metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
		if rec.status >= http.StatusInternalServerError {
			s.logger.Error("请求处理失败", slog.String("handler", name), slog.Int("status", rec.status))
		}
	})
}
