package record

import (
	"strings"
	"time"
)

// SortOrder defines how results should be ordered when listing outcomes.
type SortOrder int

const (
	// SortByFinishedDesc orders outcomes by FinishedAt descending (most recent first).
	SortByFinishedDesc SortOrder = iota
	// SortByFinishedAsc orders outcomes by FinishedAt ascending (oldest first).
	SortByFinishedAsc
)

// ListOptions controls how outcomes are selected when querying the store.
// FinishedGTE and FinishedLTE are Unix milliseconds; zero disables the bound.
type ListOptions struct {
	Limit       int
	Offset      int
	Statuses    []Status
	Types       []string
	FinishedGTE int64
	FinishedLTE int64
	Order       SortOrder
}

// applyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 200 {
		opts.Limit = 200
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	opts.Statuses = normalizeStatuses(opts.Statuses)
	opts.Types = normalizeTypes(opts.Types)
	if opts.Order != SortByFinishedAsc {
		opts.Order = SortByFinishedDesc
	}
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of outcomes returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset skips the first n matching outcomes.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithStatuses filters outcomes by status.
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithTypes filters outcomes by task type.
func WithTypes(types ...string) ListOption {
	return func(opts *ListOptions) {
		opts.Types = append(opts.Types[:0], types...)
	}
}

// WithFinishedSince keeps outcomes finished at or after ts.
func WithFinishedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.FinishedGTE = 0
			return
		}
		opts.FinishedGTE = ts.UnixMilli()
	}
}

// WithFinishedUntil keeps outcomes finished at or before ts.
func WithFinishedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.FinishedLTE = 0
			return
		}
		opts.FinishedLTE = ts.UnixMilli()
	}
}

// WithSortOrder changes the returned order.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

// BuildListOptions applies option functions on top of defaults.
func BuildListOptions(opts ...ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func (opts ListOptions) matches(outcome Outcome) bool {
	if len(opts.Statuses) > 0 && !contains(opts.Statuses, outcome.Status) {
		return false
	}
	if len(opts.Types) > 0 && !contains(opts.Types, outcome.Type) {
		return false
	}
	finished := outcome.FinishedAt.UnixMilli()
	if opts.FinishedGTE > 0 && finished < opts.FinishedGTE {
		return false
	}
	if opts.FinishedLTE > 0 && finished > opts.FinishedLTE {
		return false
	}
	return true
}

func contains[T comparable](items []T, target T) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}

func normalizeStatuses(input []Status) []Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Status]struct{}, len(input))
	result := make([]Status, 0, len(input))
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func normalizeTypes(input []string) []string {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(input))
	result := make([]string, 0, len(input))
	for _, t := range input {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		result = append(result, t)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
