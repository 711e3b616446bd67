package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"time"

	"ElizaDID/internal/agent"
	"ElizaDID/internal/api"
	"ElizaDID/internal/executor"
	"ElizaDID/internal/identity"
	"ElizaDID/internal/record"
	"ElizaDID/internal/task"
	"ElizaDID/internal/web3"
	"ElizaDID/sdk/go/elizadid"
)

type demoChain struct{}

func (demoChain) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{Chain: "demo", ChainID: "0x539", BlockNumber: "0x1"}, nil
}

func main() {
	signer, err := identity.GenerateEd25519Signer()
	if err != nil {
		panic(err)
	}

	registry := executor.NewRegistry()
	registry.MustRegister(task.TypeTransfer, executor.Func(func(_ context.Context, payload map[string]any) (any, error) {
		return map[string]any{"to": payload["to"], "amount": payload["amount"], "status": "queued"}, nil
	}))
	store := record.NewMemoryStore()
	ag := agent.New(signer, identity.NewAuthorizer(identity.SelfCertifyingResolver{}), demoChain{}, registry,
		agent.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		agent.WithRecorder(store))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ag.Initialize(ctx); err != nil {
		panic(err)
	}
	defer ag.Close(context.Background())

	srv := httptest.NewServer(api.NewServer(":0", ag, api.WithOutcomeStore(store), api.WithTypeLister(registry)).Handler())
	defer srv.Close()

	client, err := elizadid.NewClient(srv.URL, signer, srv.Client())
	if err != nil {
		panic(err)
	}

	status, err := client.AgentStatus(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("agent %s is %s (executors=%v)\n", status.DID, status.State, status.Executors)

	receipt, err := client.Submit(ctx, elizadid.Submission{
		Type:     string(task.TypeTransfer),
		Payload:  map[string]any{"to": "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", "amount": "1.5"},
		Priority: 5,
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("admitted task %s (sequence=%d)\n", receipt.ID, receipt.Sequence)

	outcome, err := client.WaitOutcome(ctx, receipt.ID, 20*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("task %s finished with %s: %s\n", outcome.TaskID, outcome.Status, outcome.Result)
}
