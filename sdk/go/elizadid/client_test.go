package elizadid

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ElizaDID/internal/agent"
	"ElizaDID/internal/api"
	"ElizaDID/internal/executor"
	"ElizaDID/internal/identity"
	"ElizaDID/internal/record"
	"ElizaDID/internal/task"
	"ElizaDID/internal/web3"
)

func TestNewClientValidatesURL(t *testing.T) {
	if _, err := NewClient("not a url", nil, nil); err == nil {
		t.Fatal("expected error for url without scheme")
	}
	if _, err := NewClient("http://localhost:8080", nil, nil); err != nil {
		t.Fatalf("new client: %v", err)
	}
}

func TestSubmitRequiresSigner(t *testing.T) {
	client, err := NewClient("http://localhost:8080", nil, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Submit(context.Background(), Submission{Type: "transfer"}); err == nil {
		t.Fatal("expected missing signer error")
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/prefix/api/v1/tasks" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code":     "AUTHORIZATION_FAILED",
			"message":  "signature mismatch",
			"metadata": map[string]string{"did": "did:ethr:0x1"},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/prefix", nil, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.SubmitSigned(context.Background(), Submission{Type: "vote"}, []byte{0xde, 0xad})
	if !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	apiErr := err.(*APIError)
	if apiErr.Code != "AUTHORIZATION_FAILED" || apiErr.Metadata["did"] != "did:ethr:0x1" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if IsNotReady(err) {
		t.Fatal("401 is not a state error")
	}
}

func TestOutcomeQueryEncoding(t *testing.T) {
	q := OutcomeQuery{
		Statuses:  []string{"failed", "unsupported"},
		Types:     []string{"swap"},
		Since:     time.UnixMilli(1000),
		Limit:     5,
		Ascending: true,
	}
	got := q.values().Encode()
	want := "limit=5&order=asc&since=1000&status=failed%2Cunsupported&type=swap"
	if got != want {
		t.Fatalf("query = %s, want %s", got, want)
	}
}

type snapshotStub struct{}

func (snapshotStub) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{Chain: "local", ChainID: "0x539", BlockNumber: "0x2a"}, nil
}

func TestClientAgainstAgent(t *testing.T) {
	signer, err := identity.GenerateSchnorrSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	registry := executor.NewRegistry()
	registry.MustRegister(task.TypeVote, executor.Func(func(_ context.Context, payload map[string]any) (any, error) {
		return map[string]any{"ballot": payload["proposal"]}, nil
	}))
	store := record.NewMemoryStore()
	ag := agent.New(signer, identity.NewAuthorizer(identity.SelfCertifyingResolver{}), snapshotStub{}, registry,
		agent.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		agent.WithRecorder(store))
	if err := ag.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer ag.Close(context.Background())

	srv := httptest.NewServer(api.NewServer(":0", ag, api.WithOutcomeStore(store), api.WithTypeLister(registry)).Handler())
	defer srv.Close()

	client, err := NewClient(srv.URL, signer, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	receipt, err := client.Submit(ctx, Submission{Type: "vote", Payload: map[string]any{"proposal": 42, "weight": 0.5}, Priority: 3})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if receipt.ID == "" || receipt.Sequence != 1 || receipt.Priority != 3 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	outcome, err := client.WaitOutcome(ctx, receipt.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait outcome: %v", err)
	}
	if outcome.Status != string(record.StatusSucceeded) || string(outcome.Result) != `{"ballot":42}` {
		t.Fatalf("unexpected outcome %+v (%s)", outcome, outcome.Result)
	}

	status, err := client.AgentStatus(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.DID != signer.DID() || status.Chain.ChainID != "0x539" || len(status.Executors) != 1 {
		t.Fatalf("unexpected status %+v", status)
	}

	list, err := client.Outcomes(ctx, OutcomeQuery{Types: []string{"vote"}})
	if err != nil {
		t.Fatalf("outcomes: %v", err)
	}
	if list.Stats.Total != 1 || len(list.Outcomes) != 1 {
		t.Fatalf("unexpected outcome list %+v", list)
	}

	other, err := identity.GenerateSchnorrSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	impostor, err := NewClient(srv.URL, other, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := impostor.Submit(ctx, Submission{Type: "vote", Payload: map[string]any{"proposal": 1}}); !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized for foreign key, got %v", err)
	}

	pending, err := client.PendingTasks(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty queue, got %d", len(pending))
	}
}
