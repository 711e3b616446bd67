package record

// Stats 聚合了调度结果的统计信息，常用于仪表盘或健康检查。时间为 Unix 毫秒。
type Stats struct {
	Total            int   `json:"total"`
	Succeeded        int   `json:"succeeded"`
	Failed           int   `json:"failed"`
	Unsupported      int   `json:"unsupported"`
	OldestFinishedAt int64 `json:"oldest_finished_at,omitempty"`
	NewestFinishedAt int64 `json:"newest_finished_at,omitempty"`
}

func (s *Stats) add(outcome Outcome) {
	s.Total++
	switch outcome.Status {
	case StatusSucceeded:
		s.Succeeded++
	case StatusFailed:
		s.Failed++
	case StatusUnsupported:
		s.Unsupported++
	}
	finished := outcome.FinishedAt.UnixMilli()
	if finished > s.NewestFinishedAt {
		s.NewestFinishedAt = finished
	}
	if s.OldestFinishedAt == 0 || finished < s.OldestFinishedAt {
		s.OldestFinishedAt = finished
	}
}
