package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ElizaDID/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

type stubClient struct {
	name   string
	fail   bool
	closed bool
}

func (s *stubClient) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	if s.fail {
		return web3.ChainSnapshot{}, errors.New("node unreachable")
	}
	return web3.ChainSnapshot{ChainID: "0x1", BlockNumber: "0x10"}, nil
}

func (s *stubClient) ExecuteAction(context.Context, string, string) (string, error) {
	return "0x0", nil
}

func (s *stubClient) SendRawTransactions(context.Context, [][]byte) ([]common.Hash, error) {
	return nil, nil
}

func (s *stubClient) Close() { s.closed = true }

func TestRegistryFromDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	content := `default: sepolia
chains:
  mainnet:
    rpc_url: https://mainnet.example
  sepolia:
    type: evm
    rpc_url: https://sepolia.example
    description: testnet
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write chains: %v", err)
	}
	defs, err := web3.LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}

	dialed := map[string]*stubClient{}
	dial := func(_ context.Context, name string, def web3.ChainDefinition) (web3.Client, error) {
		client := &stubClient{name: name, fail: name == "mainnet"}
		dialed[name] = client
		return client, nil
	}
	registry, err := NewRegistry(context.Background(), defs, "", dial)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if registry.DefaultChain() != "sepolia" {
		t.Fatalf("unexpected default chain %s", registry.DefaultChain())
	}
	if got := registry.Chains(); len(got) != 2 || got[0] != "mainnet" {
		t.Fatalf("unexpected chains %v", got)
	}
	client, err := registry.DefaultClient()
	if err != nil {
		t.Fatalf("default client: %v", err)
	}
	if client.(*stubClient).name != "sepolia" {
		t.Fatalf("unexpected default client")
	}

	snapshots, failures := registry.Snapshots(context.Background())
	if snapshots["sepolia"].Chain != "sepolia" {
		t.Fatalf("expected snapshot to carry chain name, got %+v", snapshots["sepolia"])
	}
	if failures["mainnet"] == nil {
		t.Fatalf("expected mainnet failure to be reported")
	}

	registry.Close()
	for name, client := range dialed {
		if !client.closed {
			t.Fatalf("expected %s to be closed", name)
		}
	}
}

func TestRegistryFallbackAndErrors(t *testing.T) {
	dial := func(_ context.Context, name string, def web3.ChainDefinition) (web3.Client, error) {
		if def.RPCURL != "http://127.0.0.1:8545" {
			t.Fatalf("unexpected rpc url %s", def.RPCURL)
		}
		return &stubClient{name: name}, nil
	}
	registry, err := NewRegistry(context.Background(), web3.ChainDefinitions{}, "http://127.0.0.1:8545", dial)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if registry.DefaultChain() != "default" {
		t.Fatalf("unexpected default chain %s", registry.DefaultChain())
	}

	if _, err := NewRegistry(context.Background(), web3.ChainDefinitions{}, "", dial); err == nil {
		t.Fatal("expected registry without chains to fail")
	}

	defs := web3.ChainDefinitions{Default: "missing", Chains: map[string]web3.ChainDefinition{
		"local": {RPCURL: "http://127.0.0.1:8545"},
	}}
	if _, err := NewRegistry(context.Background(), defs, "", dial); err == nil {
		t.Fatal("expected unknown default chain to fail")
	}

	defs = web3.ChainDefinitions{Chains: map[string]web3.ChainDefinition{
		"sol": {Type: "solana", RPCURL: "http://127.0.0.1:8899"},
	}}
	if _, err := NewRegistry(context.Background(), defs, "", dial); err == nil {
		t.Fatal("expected unsupported chain type to fail")
	}
}
