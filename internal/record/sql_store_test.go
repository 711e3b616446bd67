package record

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	xerrors "ElizaDID/internal/errors"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "outcomes.db")
	store, err := NewSQLStore(context.Background(), DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLStoreRecordAndQuery(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	base := time.Now().Add(-5 * time.Minute).Truncate(time.Millisecond)

	for _, outcome := range sampleOutcomes(base) {
		if err := store.Record(ctx, outcome); err != nil {
			t.Fatalf("record %s: %v", outcome.TaskID, err)
		}
	}
	if err := store.Record(ctx, sampleOutcomes(base)[0]); !errors.Is(err, ErrOutcomeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Type != "transfer" || got.Sequence != 1 || got.Status != StatusSucceeded {
		t.Fatalf("unexpected outcome: %+v", got)
	}
	var result map[string]bool
	if err := json.Unmarshal(got.Result, &result); err != nil || !result["ok"] {
		t.Fatalf("unexpected result %s: %v", got.Result, err)
	}
	if !got.FinishedAt.Equal(base.Add(10 * time.Millisecond)) {
		t.Fatalf("unexpected finished at %s", got.FinishedAt)
	}

	failed, err := store.Get(ctx, "t2")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if failed.Error != "boom" || failed.ErrorCode != "EXECUTION_FAILED" || failed.Result != nil {
		t.Fatalf("unexpected failed outcome: %+v", failed)
	}

	if _, err := store.Get(ctx, "missing"); !xerrors.HasCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].TaskID != "t3" || all[2].TaskID != "t1" {
		t.Fatalf("unexpected list order: %+v", all)
	}

	filtered, err := store.List(ctx, BuildListOptions(
		WithStatuses(StatusFailed, StatusUnsupported),
		WithTypes("swap"),
		WithFinishedUntil(base.Add(45*time.Second)),
	))
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].TaskID != "t2" {
		t.Fatalf("unexpected filtered list: %+v", filtered)
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Succeeded != 1 || stats.Failed != 1 || stats.Unsupported != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.NewestFinishedAt != base.Add(time.Minute).UnixMilli() {
		t.Fatalf("unexpected newest timestamp: %d", stats.NewestFinishedAt)
	}

	none, err := store.Stats(ctx, BuildListOptions(WithTypes("vote")))
	if err != nil {
		t.Fatalf("empty stats: %v", err)
	}
	if none != (Stats{}) {
		t.Fatalf("expected zero stats, got %+v", none)
	}
}

func TestNewSQLStoreValidation(t *testing.T) {
	ctx := context.Background()
	if _, err := NewSQLStore(ctx, "postgres", "dsn"); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected unsupported driver to be rejected, got %v", err)
	}
	if _, err := NewSQLStore(ctx, DriverSQLite, " "); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected empty dsn to be rejected, got %v", err)
	}
}
