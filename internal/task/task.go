package task

import (
	"maps"
	"math/big"
	"regexp"
	"strings"
	"time"

	xerrors "ElizaDID/internal/errors"
)

// Type 是任务类型标签，开放枚举。
type Type string

const (
	TypeTransfer Type = "transfer"
	TypeSwap     Type = "swap"
	TypeVote     Type = "vote"
)

// typePattern 保证类型标签中不会出现规范消息的分隔符。
var typePattern = regexp.MustCompile(`^[a-z][a-z0-9_.-]{0,63}$`)

// Task 描述了一个经过签名的待执行操作。
type Task struct {
	ID          string         `json:"id"`
	Type        Type           `json:"type"`
	Payload     map[string]any `json:"payload"`
	Signature   []byte         `json:"signature"`
	Priority    int            `json:"priority"`
	Sequence    uint64         `json:"sequence"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// ValidateType 检查类型标签是否合法。
func ValidateType(t Type) error {
	if !typePattern.MatchString(string(t)) {
		return xerrors.New(xerrors.CodeInvalidArgument, "非法的任务类型: "+string(t))
	}
	return nil
}

// New 校验参数并构造任务，对应提交入口的最小校验。
func New(t Type, payload map[string]any, signature []byte, priority int) (*Task, error) {
	t = Type(strings.TrimSpace(string(t)))
	if err := ValidateType(t); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "任务 payload 不能为空")
	}
	if len(signature) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "任务签名不能为空")
	}
	return &Task{
		Type:      t,
		Payload:   clonePayload(payload),
		Signature: append([]byte(nil), signature...),
		Priority:  priority,
	}, nil
}

// Clone 返回任务的深拷贝，入队后的任务不会被外部修改。
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Payload = clonePayload(t.Payload)
	clone.Signature = append([]byte(nil), t.Signature...)
	return &clone
}

func clonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	cloned := make(map[string]any, len(payload))
	for key, value := range payload {
		cloned[key] = cloneValue(value)
	}
	return cloned
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return clonePayload(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), v...)
	case map[string]string:
		return maps.Clone(v)
	case []byte:
		return append([]byte(nil), v...)
	case *big.Int:
		if v == nil {
			return v
		}
		return new(big.Int).Set(v)
	default:
		// 其余可规范化的类型（标量、string、json.Number）都是值类型。
		return v
	}
}
