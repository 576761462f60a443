package harness

import "sync"

// Recorder accumulates results across one or more engine runs. It is
// safe for concurrent use so cases that fan out work can record from
// multiple goroutines, though the engine itself records sequentially.
type Recorder struct {
	mu      sync.Mutex
	results []Result
}

// Record appends one result.
func (r *Recorder) Record(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

// Results returns a copy of everything recorded so far, in record
// order.
func (r *Recorder) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, len(r.results))
	copy(out, r.results)
	return out
}

// Summary is the aggregate view of a run.
type Summary struct {
	Total    int
	Passed   int
	Failed   int
	Failures []string
}

// Summarize computes the aggregate counts and the names of the failed
// cases, in record order.
func (r *Recorder) Summarize() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Summary{Total: len(r.results)}
	for _, res := range r.results {
		if res.Passed {
			s.Passed++
		} else {
			s.Failed++
			s.Failures = append(s.Failures, res.Name)
		}
	}
	return s
}
