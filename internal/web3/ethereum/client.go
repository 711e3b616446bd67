package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"ElizaDID/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name        string
	RPCURL      string
	BatchRPCURL string
	Notes       string
}

// chainBackend is the subset of node access the client needs. Both
// *ethclient.Client and the simulated backend client satisfy it.
type chainBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name        string
	notes       string
	rpcClient   *gethrpc.Client
	batchClient *gethrpc.Client
	backend     chainBackend
	onSend      func()
	mu          sync.Mutex
}

// NewClient dials the configured RPC endpoints and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	batchClient := rpcClient
	if batchURL := strings.TrimSpace(cfg.BatchRPCURL); batchURL != "" && batchURL != rpcURL {
		batchClient, err = gethrpc.DialContext(ctx, batchURL)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("连接批量交易节点失败: %w", err)
		}
	}

	return &Client{
		name:        cfg.Name,
		notes:       cfg.Notes,
		rpcClient:   rpcClient,
		batchClient: batchClient,
		backend:     ethclient.NewClient(rpcClient),
	}, nil
}

// NewBackendClient wraps an in-process backend, typically the client of an
// ethclient/simulated.Backend. commit, when non-nil, is invoked after every
// accepted transaction so simulated chains seal a block.
func NewBackendClient(name string, backend chainBackend, commit func()) *Client {
	return &Client{
		name:    name,
		notes:   "simulated backend",
		backend: backend,
		onSend:  commit,
	}
}

// ErrClosed is returned by every call made after Close.
var ErrClosed = errors.New("以太坊客户端已关闭")

// Name returns the configured chain name.
func (c *Client) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Close releases network connections held by the client. It is safe to call
// more than once.
func (c *Client) Close() {
	c.mu.Lock()
	rpcClient, batchClient := c.rpcClient, c.batchClient
	c.rpcClient, c.batchClient, c.backend = nil, nil, nil
	c.mu.Unlock()

	if batchClient != nil && batchClient != rpcClient {
		batchClient.Close()
	}
	if rpcClient != nil {
		rpcClient.Close()
	}
}

func (c *Client) chain() (chainBackend, error) {
	if c == nil {
		return nil, ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == nil {
		return nil, ErrClosed
	}
	return c.backend, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain. It doubles
// as the connectivity check performed during agent initialization.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	backend, err := c.chain()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	head, err := backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		Chain:       c.name,
		ChainID:     toHexBig(chainID),
		BlockNumber: hexutil.EncodeUint64(head),
		Notes:       c.notes,
	}, nil
}

type accountQuery func(ctx context.Context, backend chainBackend, account common.Address) (string, error)

var accountQueries = map[string]accountQuery{
	web3.ActionGetBalance: func(ctx context.Context, backend chainBackend, account common.Address) (string, error) {
		balance, err := backend.BalanceAt(ctx, account, nil)
		if err != nil {
			return "", fmt.Errorf("查询余额失败: %w", err)
		}
		return toHexBig(balance), nil
	},
	web3.ActionGetTransactionCount: func(ctx context.Context, backend chainBackend, account common.Address) (string, error) {
		nonce, err := backend.PendingNonceAt(ctx, account)
		if err != nil {
			return "", fmt.Errorf("查询交易计数失败: %w", err)
		}
		return hexutil.EncodeUint64(nonce), nil
	},
}

// ExecuteAction runs a read-only account query for executors. The result is
// hex encoded.
func (c *Client) ExecuteAction(ctx context.Context, action, address string) (string, error) {
	query, ok := accountQueries[strings.TrimSpace(action)]
	if !ok {
		return "", fmt.Errorf("暂不支持的链上操作: %q", action)
	}
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("%s 需要合法的地址: %q", action, address)
	}
	backend, err := c.chain()
	if err != nil {
		return "", err
	}
	return query(ctx, backend, common.HexToAddress(address))
}

// SendRawTransactions broadcasts signed transactions. With a batch RPC endpoint
// all transactions go out in a single batch call; otherwise they are sent one
// by one through the backend.
func (c *Client) SendRawTransactions(ctx context.Context, raw [][]byte) ([]common.Hash, error) {
	if len(raw) == 0 {
		return nil, errors.New("没有可发送的交易")
	}
	txs := make([]*coretypes.Transaction, len(raw))
	for i, payload := range raw {
		tx := new(coretypes.Transaction)
		if err := tx.UnmarshalBinary(payload); err != nil {
			return nil, fmt.Errorf("交易 %d 解码失败: %w", i, err)
		}
		txs[i] = tx
	}

	c.mu.Lock()
	batchClient := c.batchClient
	c.mu.Unlock()
	if batchClient != nil {
		return sendBatch(ctx, batchClient, raw)
	}

	backend, err := c.chain()
	if err != nil {
		return nil, err
	}
	hashes := make([]common.Hash, 0, len(txs))
	for i, tx := range txs {
		if err := backend.SendTransaction(ctx, tx); err != nil {
			return hashes, fmt.Errorf("交易 %d 发送失败: %w", i, err)
		}
		if c.onSend != nil {
			c.onSend()
		}
		hashes = append(hashes, tx.Hash())
	}
	return hashes, nil
}

func sendBatch(ctx context.Context, client *gethrpc.Client, raw [][]byte) ([]common.Hash, error) {
	hashes := make([]common.Hash, len(raw))
	elems := make([]gethrpc.BatchElem, len(raw))
	for i, payload := range raw {
		elems[i] = gethrpc.BatchElem{
			Method: "eth_sendRawTransaction",
			Args:   []any{hexutil.Encode(payload)},
			Result: &hashes[i],
		}
	}
	if err := client.BatchCallContext(ctx, elems); err != nil {
		return nil, fmt.Errorf("批量发送交易失败: %w", err)
	}
	for i := range elems {
		if elems[i].Error != nil {
			return nil, fmt.Errorf("交易 %d 发送失败: %w", i, elems[i].Error)
		}
	}
	return hashes, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
