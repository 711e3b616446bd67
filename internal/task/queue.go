package task

import (
	"container/heap"
	"sort"
	"sync"
)

// Queue 是按 (priority desc, sequence asc) 排序的准入缓冲区。
// 同优先级的任务严格按准入顺序出队，不依赖排序算法的稳定性。
type Queue struct {
	mu      sync.Mutex
	items   taskHeap
	nextSeq uint64
}

// NewQueue 创建一个空队列。
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue 为任务分配下一个准入序号并插入队列，返回分配的序号。
// 队列保存任务的拷贝，调用方后续的修改不会影响已入队的任务。
func (q *Queue) Enqueue(t *Task) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextSeq++
	item := t.Clone()
	item.Sequence = q.nextSeq
	t.Sequence = item.Sequence
	heap.Push(&q.items, item)
	return item.Sequence
}

// Dequeue 弹出队首任务；队列为空时返回 false。
func (q *Queue) Dequeue() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return heap.Pop(&q.items).(*Task), true
}

// IsEmpty 判断队列是否为空。
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Len 返回队列中的任务数。
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot 按出队顺序返回当前排队任务的拷贝。
func (q *Queue) Snapshot() []*Task {
	q.mu.Lock()
	out := make([]*Task, len(q.items))
	for i, item := range q.items {
		out[i] = item.Clone()
	}
	q.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return before(out[i], out[j]) })
	return out
}

// before 定义出队顺序：优先级高者在前，同优先级按序号升序。
func before(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Sequence < b.Sequence
}

type taskHeap []*Task

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return before(h[i], h[j]) }
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*Task))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
