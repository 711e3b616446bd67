package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	xerrors "ElizaDID/internal/errors"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog     Channel = "log"
	ChannelWebhook Channel = "webhook"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	Agent      string            `json:"agent,omitempty"`
	TaskID     string            `json:"task_id,omitempty"`
	TaskType   string            `json:"task_type,omitempty"`
	Sequence   uint64            `json:"sequence,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// FromError 根据统一错误构造告警事件。
func FromError(err error) Event {
	event := Event{
		Code:       xerrors.CodeOf(err),
		Severity:   xerrors.SeverityOf(err),
		OccurredAt: time.Now().UTC(),
	}
	if err != nil {
		event.Message = err.Error()
	}
	if coded, ok := xerrors.From(err); ok {
		event.Metadata = coded.Metadata()
	}
	return event
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。同一渠道只保留最后一个通知器。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Channels 返回已注册的渠道。
func (d *FanoutDispatcher) Channels() []Channel {
	if d == nil {
		return nil
	}
	channels := make([]Channel, 0, len(d.notifiers))
	for channel := range d.notifiers {
		channels = append(channels, channel)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	return channels
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, channel := range d.Channels() {
		notifier := d.notifiers[channel]
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", channel, err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier 把告警写入审计日志。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 记录告警。
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	logger := slog.Default()
	if n != nil && n.Logger != nil {
		logger = n.Logger
	}
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("task_id", event.TaskID),
		slog.String("task_type", event.TaskType),
		slog.Uint64("sequence", event.Sequence),
		slog.String("message", event.Message),
	}
	if event.Agent != "" {
		attrs = append(attrs, slog.String("agent", event.Agent))
	}
	if len(event.Metadata) > 0 {
		keys := make([]string, 0, len(event.Metadata))
		for k := range event.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		group := make([]any, 0, len(keys))
		for _, k := range keys {
			group = append(group, slog.String(k, event.Metadata[k]))
		}
		attrs = append(attrs, slog.Group("metadata", group...))
	}
	level := slog.LevelWarn
	if event.Severity == xerrors.SeverityCritical {
		level = slog.LevelError
	}
	logger.Log(ctx, level, "调度告警", attrs...)
	return nil
}

// WebhookNotifier 以 JSON POST 的方式把告警推送到 HTTP 端点（钉钉、Slack 兼容网关等）。
type WebhookNotifier struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
	Logger  *slog.Logger
}

// Channel 返回 Webhook 渠道。
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify 发送告警。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.URL == "" {
		logger := slog.Default()
		if n != nil && n.Logger != nil {
			logger = n.Logger
		}
		logger.Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("task_id", event.TaskID))
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("编码告警失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.Headers {
		req.Header.Set(k, v)
	}
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("告警端点返回状态码 %d", resp.StatusCode)
	}
	return nil
}
