package explorer

import "sync/atomic"

// Progress counts evaluations across sweeps. The zero value is ready to
// use and safe for concurrent use.
type Progress struct {
	total     atomic.Int64
	scheduled atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	pruned    atomic.Int64
	sweeps    atomic.Int64
}

// ProgressSnapshot is a point-in-time copy of the counters.
type ProgressSnapshot struct {
	Sweeps    int64 `json:"sweeps"`
	Total     int64 `json:"total"`
	Scheduled int64 `json:"scheduled"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Pruned    int64 `json:"pruned"`
}

// Snapshot returns the current counter values.
func (p *Progress) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{
		Sweeps:    p.sweeps.Load(),
		Total:     p.total.Load(),
		Scheduled: p.scheduled.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		Pruned:    p.pruned.Load(),
	}
}
