package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "ElizaDID/internal/errors"
	"ElizaDID/internal/task"
	"ElizaDID/internal/web3"
)

// 链上执行器的任务类型。
const (
	TypeBalance   task.Type = "balance"
	TypeNonce     task.Type = "nonce"
	TypeBroadcast task.Type = "broadcast"
)

// ClientSource 按链名称返回客户端，空名称表示默认链。provider.Registry 满足该接口。
type ClientSource interface {
	Client(name string) (web3.Client, bool)
}

// RegisterChainExecutors 注册 balance、nonce、broadcast 三个链上执行器。
func RegisterChainExecutors(r *Registry, source ClientSource, opts ...Option) error {
	if source == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "链客户端来源不能为空")
	}
	if err := r.Register(TypeBalance, BalanceExecutor(source), opts...); err != nil {
		return err
	}
	if err := r.Register(TypeNonce, NonceExecutor(source), opts...); err != nil {
		return err
	}
	return r.Register(TypeBroadcast, BroadcastExecutor(source), opts...)
}

// BalanceExecutor 查询地址余额。payload: {"address": "0x…", "chain": "可选"}。
func BalanceExecutor(source ClientSource) Executor {
	return actionExecutor(source, web3.ActionGetBalance, "balance")
}

// NonceExecutor 查询地址的待定交易计数。payload 同 BalanceExecutor。
func NonceExecutor(source ClientSource) Executor {
	return actionExecutor(source, web3.ActionGetTransactionCount, "nonce")
}

func actionExecutor(source ClientSource, action, field string) Executor {
	return Func(func(ctx context.Context, payload map[string]any) (any, error) {
		chain, client, err := resolveClient(source, payload)
		if err != nil {
			return nil, err
		}
		address, err := stringField(payload, "address")
		if err != nil {
			return nil, err
		}
		if !common.IsHexAddress(address) {
			return nil, fmt.Errorf("非法的地址: %s", address)
		}
		value, err := client.ExecuteAction(ctx, action, address)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"chain":   chain,
			"address": common.HexToAddress(address).Hex(),
			field:     value,
		}, nil
	})
}

// BroadcastExecutor 广播已签名的原始交易，不负责构造交易。
// payload: {"transactions": ["0x…", …], "chain": "可选"}，也接受单个 "transaction"。
func BroadcastExecutor(source ClientSource) Executor {
	return Func(func(ctx context.Context, payload map[string]any) (any, error) {
		chain, client, err := resolveClient(source, payload)
		if err != nil {
			return nil, err
		}
		encoded, err := rawTransactions(payload)
		if err != nil {
			return nil, err
		}
		raw := make([][]byte, len(encoded))
		for i, item := range encoded {
			decoded, err := hexutil.Decode(item)
			if err != nil {
				return nil, fmt.Errorf("交易 %d 不是合法的十六进制: %w", i, err)
			}
			raw[i] = decoded
		}
		hashes, err := client.SendRawTransactions(ctx, raw)
		if err != nil {
			return nil, err
		}
		out := make([]string, len(hashes))
		for i, hash := range hashes {
			out[i] = hash.Hex()
		}
		return map[string]any{"chain": chain, "hashes": out}, nil
	})
}

func resolveClient(source ClientSource, payload map[string]any) (string, web3.Client, error) {
	chain := ""
	if raw, ok := payload["chain"]; ok {
		name, ok := raw.(string)
		if !ok {
			return "", nil, fmt.Errorf("字段 chain 必须是字符串")
		}
		chain = strings.TrimSpace(name)
	}
	client, ok := source.Client(chain)
	if !ok {
		return "", nil, fmt.Errorf("未知的链: %s", chain)
	}
	return chain, client, nil
}

func stringField(payload map[string]any, key string) (string, error) {
	raw, ok := payload[key]
	if !ok {
		return "", fmt.Errorf("缺少字段 %s", key)
	}
	value, ok := raw.(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("字段 %s 必须是非空字符串", key)
	}
	return strings.TrimSpace(value), nil
}

func rawTransactions(payload map[string]any) ([]string, error) {
	if single, ok := payload["transaction"]; ok {
		value, ok := single.(string)
		if !ok {
			return nil, fmt.Errorf("字段 transaction 必须是字符串")
		}
		return []string{value}, nil
	}
	switch list := payload["transactions"].(type) {
	case []string:
		if len(list) == 0 {
			break
		}
		return list, nil
	case []any:
		if len(list) == 0 {
			break
		}
		out := make([]string, len(list))
		for i, item := range list {
			value, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("transactions[%d] 必须是字符串", i)
			}
			out[i] = value
		}
		return out, nil
	}
	return nil, fmt.Errorf("缺少字段 transactions")
}
