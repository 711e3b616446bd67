package record

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	xerrors "ElizaDID/internal/errors"
)

func sampleOutcomes(base time.Time) []Outcome {
	return []Outcome{
		{TaskID: "t1", Type: "transfer", Sequence: 1, Status: StatusSucceeded, Result: json.RawMessage(`{"ok":true}`),
			StartedAt: base, FinishedAt: base.Add(10 * time.Millisecond)},
		{TaskID: "t2", Type: "swap", Sequence: 2, Status: StatusFailed, ErrorCode: "EXECUTION_FAILED", Error: "boom",
			StartedAt: base.Add(30 * time.Second), FinishedAt: base.Add(30 * time.Second)},
		{TaskID: "t3", Type: "mint", Sequence: 3, Status: StatusUnsupported, ErrorCode: "UNSUPPORTED_TASK",
			StartedAt: base.Add(time.Minute), FinishedAt: base.Add(time.Minute)},
	}
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Minute).Truncate(time.Millisecond)

	for _, outcome := range sampleOutcomes(base) {
		if err := store.Record(ctx, outcome); err != nil {
			t.Fatalf("record %s: %v", outcome.TaskID, err)
		}
	}

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].TaskID != "t3" {
		t.Fatalf("expected newest outcome first, got %+v", all)
	}

	asc, err := store.List(ctx, BuildListOptions(WithSortOrder(SortByFinishedAsc), WithLimit(2)))
	if err != nil {
		t.Fatalf("list asc: %v", err)
	}
	if len(asc) != 2 || asc[0].TaskID != "t1" || asc[1].TaskID != "t2" {
		t.Fatalf("unexpected ascending list: %+v", asc)
	}

	failed, err := store.List(ctx, BuildListOptions(WithStatuses(StatusFailed, "bogus")))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].TaskID != "t2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	byType, err := store.List(ctx, BuildListOptions(WithTypes("transfer", " mint ")))
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(byType) != 2 {
		t.Fatalf("expected 2 outcomes for types filter, got %d", len(byType))
	}

	recent, err := store.List(ctx, BuildListOptions(WithFinishedSince(base.Add(15*time.Second))))
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 outcomes to match since filter, got %d", len(recent))
	}

	paged, err := store.List(ctx, BuildListOptions(WithOffset(5)))
	if err != nil {
		t.Fatalf("list paged: %v", err)
	}
	if len(paged) != 0 {
		t.Fatalf("expected empty page, got %d", len(paged))
	}
}

func TestMemoryStoreGetAndConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	outcome := sampleOutcomes(time.Now())[0]

	if err := store.Record(ctx, outcome); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.Record(ctx, outcome); !errors.Is(err, ErrOutcomeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Result) != `{"ok":true}` || got.Duration() != 10*time.Millisecond {
		t.Fatalf("unexpected outcome: %+v", got)
	}
	got.Result[0] = 'x'
	again, _ := store.Get(ctx, "t1")
	if string(again.Result) != `{"ok":true}` {
		t.Fatalf("stored result must not be shared with callers")
	}

	if _, err := store.Get(ctx, "missing"); !xerrors.HasCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Record(ctx, Outcome{Status: StatusSucceeded}); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected missing id to be rejected, got %v", err)
	}
	if err := store.Record(ctx, Outcome{TaskID: "x", Status: "running"}); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid status to be rejected, got %v", err)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().Add(-3 * time.Minute).Truncate(time.Millisecond)
	for _, outcome := range sampleOutcomes(base) {
		if err := store.Record(ctx, outcome); err != nil {
			t.Fatalf("record %s: %v", outcome.TaskID, err)
		}
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
	if stats.OldestFinishedAt != base.Add(10*time.Millisecond).UnixMilli() {
		t.Fatalf("unexpected oldest timestamp: %d", stats.OldestFinishedAt)
	}

	failedOnly, err := store.Stats(ctx, BuildListOptions(WithStatuses(StatusFailed)))
	if err != nil {
		t.Fatalf("stats failed only: %v", err)
	}
	if failedOnly.Total != 1 || failedOnly.Failed != 1 {
		t.Fatalf("unexpected failed stats: %+v", failedOnly)
	}

	empty, err := NewMemoryStore().Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("empty stats: %v", err)
	}
	if empty != (Stats{}) {
		t.Fatalf("expected zero stats, got %+v", empty)
	}
}

func TestMultiRecorder(t *testing.T) {
	first := NewMemoryStore()
	second := NewMemoryStore()
	boom := errors.New("sink offline")
	failing := RecorderFunc(func(context.Context, Outcome) error { return boom })

	multi := Multi(first, nil, failing, second)
	err := multi.Record(context.Background(), sampleOutcomes(time.Now())[0])
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	for i, store := range []*MemoryStore{first, second} {
		if _, err := store.Get(context.Background(), "t1"); err != nil {
			t.Fatalf("store %d missed the outcome: %v", i, err)
		}
	}
	if err := Multi().Record(context.Background(), Outcome{}); err != nil {
		t.Fatalf("empty multi must not fail: %v", err)
	}
}
