package record

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore 以内存方式保存调度结果，默认存储与测试使用。
type MemoryStore struct {
	mu       sync.RWMutex
	outcomes map[string]Outcome
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{outcomes: make(map[string]Outcome)}
}

// Record 实现 Recorder 接口。
func (m *MemoryStore) Record(_ context.Context, outcome Outcome) error {
	if err := outcome.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.outcomes[outcome.TaskID]; ok {
		return ErrOutcomeConflict
	}
	m.outcomes[outcome.TaskID] = outcome.clone()
	return nil
}

// Get 返回指定任务的结果。
func (m *MemoryStore) Get(_ context.Context, taskID string) (Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	outcome, ok := m.outcomes[taskID]
	if !ok {
		return Outcome{}, ErrOutcomeNotFound
	}
	return outcome.clone(), nil
}

// List 返回符合条件的结果。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]Outcome, error) {
	opts.applyDefaults()

	m.mu.RLock()
	results := make([]Outcome, 0, len(m.outcomes))
	for _, outcome := range m.outcomes {
		if opts.matches(outcome) {
			results = append(results, outcome.clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if opts.Order == SortByFinishedAsc {
			a, b = b, a
		}
		if !a.FinishedAt.Equal(b.FinishedAt) {
			return a.FinishedAt.After(b.FinishedAt)
		}
		return a.Sequence > b.Sequence
	})

	if opts.Offset >= len(results) {
		return []Outcome{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的结果数量与完成时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := Stats{}
	for _, outcome := range m.outcomes {
		if opts.matches(outcome) {
			stats.add(outcome)
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
