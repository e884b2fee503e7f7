package job

import "github.com/adtelic/conversion-loader/internal/worker"

// Merge combines per-worker totals into a job-level total. The sum is
// associative and commutative, so results can be merged in any order as
// workers complete.
func Merge(results ...worker.Totals) worker.Totals {
	var out worker.Totals
	for _, r := range results {
		out.Submitted += r.Submitted
		out.Succeeded += r.Succeeded
	}
	return out
}
