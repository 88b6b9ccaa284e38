package admission

import (
	"sort"
	"sync"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

// Stats counts pipeline outcomes by reason for the telemetry surface. Safe
// for concurrent use.
type Stats struct {
	mu       sync.Mutex
	accepted int64
	rejected int64
	skipped  int64
	reasons  map[string]int64
}

// NewStats creates an empty counter set.
func NewStats() *Stats {
	return &Stats{reasons: make(map[string]int64)}
}

// Count records one decision outcome under its reason code.
func (s *Stats) Count(outcome domain.AdmissionOutcome, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch outcome {
	case domain.AdmissionAccepted:
		s.accepted++
	case domain.AdmissionRejected:
		s.rejected++
	case domain.AdmissionSkipped:
		s.skipped++
	}
	if reason != "" {
		s.reasons[reason]++
	}
}

// Reset zeroes all counters, for controlled experiments.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted, s.rejected, s.skipped = 0, 0, 0
	s.reasons = make(map[string]int64)
}

// ReasonCount is one entry of the top-reasons report.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

// Snapshot is the queryable aggregate view.
type Snapshot struct {
	Accepted   int64         `json:"accepted"`
	Rejected   int64         `json:"rejected"`
	Skipped    int64         `json:"skipped"`
	Total      int64         `json:"total"`
	TopReasons []ReasonCount `json:"top_reasons"`
}

// Snapshot returns current counters with the top n reasons by count.
func (s *Stats) Snapshot(n int) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	reasons := make([]ReasonCount, 0, len(s.reasons))
	for reason, count := range s.reasons {
		reasons = append(reasons, ReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(reasons, func(i, j int) bool {
		if reasons[i].Count != reasons[j].Count {
			return reasons[i].Count > reasons[j].Count
		}
		return reasons[i].Reason < reasons[j].Reason
	})
	if n > 0 && len(reasons) > n {
		reasons = reasons[:n]
	}

	return Snapshot{
		Accepted:   s.accepted,
		Rejected:   s.rejected,
		Skipped:    s.skipped,
		Total:      s.accepted + s.rejected + s.skipped,
		TopReasons: reasons,
	}
}
