package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"ElizaDID/internal/web3"
	"ElizaDID/internal/web3/ethereum"
)

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
}

// Dialer constructs a client for a single chain definition.
type Dialer func(ctx context.Context, name string, def web3.ChainDefinition) (web3.Client, error)

// DialEVM is the default Dialer backed by go-ethereum.
func DialEVM(ctx context.Context, name string, def web3.ChainDefinition) (web3.Client, error) {
	return ethereum.NewClient(ctx, ethereum.Config{
		Name:        name,
		RPCURL:      def.RPCURL,
		BatchRPCURL: def.BatchRPCURL,
		Notes:       def.Description,
	})
}

// NewRegistry instantiates a client for every chain definition. fallbackRPC is
// used as a single "default" chain when no definitions exist.
func NewRegistry(ctx context.Context, defs web3.ChainDefinitions, fallbackRPC string, dial Dialer) (*Registry, error) {
	if dial == nil {
		dial = DialEVM
	}
	if err := defs.Validate(); err != nil {
		return nil, err
	}

	clients := make(map[string]web3.Client)
	closeAll := func() {
		for _, client := range clients {
			client.Close()
		}
	}
	for _, name := range defs.Names() {
		client, err := dial(ctx, name, defs.Chains[name])
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		clients[name] = client
	}

	defaultChain := defs.Default
	if len(clients) == 0 && strings.TrimSpace(fallbackRPC) != "" {
		client, err := dial(ctx, "default", web3.ChainDefinition{Type: "evm", RPCURL: fallbackRPC})
		if err != nil {
			return nil, err
		}
		clients["default"] = client
		defaultChain = "default"
	}
	registry, err := NewStaticRegistry(defaultChain, clients)
	if err != nil {
		closeAll()
		return nil, err
	}
	return registry, nil
}

// NewStaticRegistry wraps already constructed clients. When defaultChain is
// empty the lexically first chain becomes the default.
func NewStaticRegistry(defaultChain string, clients map[string]web3.Client) (*Registry, error) {
	if len(clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}
	owned := make(map[string]web3.Client, len(clients))
	for name, client := range clients {
		if client == nil {
			return nil, fmt.Errorf("链 %s 的客户端为空", name)
		}
		owned[name] = client
	}
	r := &Registry{clients: owned}
	if defaultChain == "" {
		defaultChain = r.Chains()[0]
	}
	if _, ok := owned[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	r.defaultChain = defaultChain
	return r, nil
}

// DefaultChain returns the name of the default chain.
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// Client returns the chain client identified by name. An empty name selects
// the default chain.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	if name == "" {
		name = r.defaultChain
	}
	client, ok := r.clients[name]
	return client, ok
}

// Snapshots fetches a snapshot from every chain. Failures are reported per
// chain instead of aborting the whole call.
func (r *Registry) Snapshots(ctx context.Context) (map[string]web3.ChainSnapshot, map[string]error) {
	snapshots := make(map[string]web3.ChainSnapshot)
	failures := make(map[string]error)
	if r == nil {
		return snapshots, failures
	}
	for _, name := range r.Chains() {
		snapshot, err := r.clients[name].FetchChainSnapshot(ctx)
		if err != nil {
			failures[name] = err
			continue
		}
		if snapshot.Chain == "" {
			snapshot.Chain = name
		}
		snapshots[name] = snapshot
	}
	return snapshots, failures
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		client.Close()
		delete(r.clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
