package ir

import "time"

// Status is the per-resource state of a run.
type Status string

const (
	StatusPlanned  Status = "planned"
	StatusApplying Status = "applying"
	StatusApplied  Status = "applied"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
)

// Report enumerates the final status of every resource in a run.
type Report struct {
	RunID    string            `json:"run_id"`
	Started  time.Time         `json:"started"`
	Finished time.Time         `json:"finished"`
	Results  []*ResourceResult `json:"results"`
}

type ResourceResult struct {
	Address  string        `json:"address"`
	Action   Action        `json:"action"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result returns the result for an address, or nil.
func (r *Report) Result(addr string) *ResourceResult {
	for _, res := range r.Results {
		if res.Address == addr {
			return res
		}
	}
	return nil
}

// Count returns how many results ended with the given status.
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Succeeded reports whether no resource failed or was skipped.
func (r *Report) Succeeded() bool {
	return r.Count(StatusFailed) == 0 && r.Count(StatusSkipped) == 0
}
