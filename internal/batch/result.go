// Package batch holds shared result types for scheduled batch jobs.
package batch

// Result summarizes one pass of a batch job. It feeds metrics and logs only;
// correctness never depends on these counters.
type Result struct {
	// Total is the number of rows selected for this pass.
	Total int `json:"total"`
	// Succeeded is the number of rows this pass moved to their target state.
	Succeeded int `json:"succeeded"`
	// Failed is the number of rows that errored during this pass. Rows lost to
	// a concurrent claimer count in Total but in neither Succeeded nor Failed.
	Failed int `json:"failed"`
}

// Add folds another result into r.
func (r *Result) Add(other Result) {
	r.Total += other.Total
	r.Succeeded += other.Succeeded
	r.Failed += other.Failed
}
