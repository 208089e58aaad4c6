package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/corpus-cli/internal/ledger"
	"github.com/sells-group/corpus-cli/internal/model"
)

// Report is the read-only view of how far annotation has progressed.
type Report struct {
	CandidateLines   int64 `json:"candidate_lines"`
	Distinct         int64 `json:"distinct_candidates"`
	AlreadyCompleted int64 `json:"already_completed"`
	Remaining        int64 `json:"remaining"`
	LedgerCompleted  int64 `json:"ledger_completed"`
	SuccessEntries   int64 `json:"success_entries"`
	FailureEntries   int64 `json:"failure_entries"`
	Skipped          int64 `json:"skipped_malformed"`
	Duplicates       int64 `json:"duplicate_candidates"`
	Consistent       bool  `json:"consistent"`
}

// Reconcile recomputes the completed set from both outcome ledgers and
// compares it with the candidate ledger. It never writes.
//
// The run is consistent when every identity in the outcome ledgers is also
// a candidate, i.e. already-completed equals the ledger completed count.
func Reconcile(ctx context.Context, ls LedgerSet) (Report, error) {
	if !ls.valid() {
		return Report{}, eris.New("pipeline: reconcile needs candidate, success and failure ledgers")
	}
	var rep Report

	completed := ledger.Set{}
	for id, err := range ls.Success.Identities(ctx) {
		if err != nil {
			return Report{}, eris.Wrap(err, "pipeline: read success ledger")
		}
		rep.SuccessEntries++
		completed[id] = struct{}{}
	}
	for id, err := range ls.Failure.Identities(ctx) {
		if err != nil {
			return Report{}, eris.Wrap(err, "pipeline: read failure ledger")
		}
		rep.FailureEntries++
		completed[id] = struct{}{}
	}
	rep.LedgerCompleted = int64(len(completed))

	distinct := make(map[model.Identity]struct{})
	for id, err := range ls.Candidates.Identities(ctx) {
		if err != nil {
			return Report{}, eris.Wrap(err, "pipeline: read candidate ledger")
		}
		rep.CandidateLines++
		if _, seen := distinct[id]; seen {
			rep.Duplicates++
			continue
		}
		distinct[id] = struct{}{}
		if completed.Has(id) {
			rep.AlreadyCompleted++
		}
	}
	rep.Distinct = int64(len(distinct))
	rep.Remaining = rep.Distinct - rep.AlreadyCompleted
	rep.Skipped = ls.Candidates.Skipped() + ls.Success.Skipped() + ls.Failure.Skipped()
	rep.Consistent = rep.AlreadyCompleted == rep.LedgerCompleted
	return rep, nil
}
