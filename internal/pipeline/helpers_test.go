package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/corpus-cli/internal/checkpoint"
	"github.com/sells-group/corpus-cli/internal/ledger"
	"github.com/sells-group/corpus-cli/internal/model"
	"github.com/sells-group/corpus-cli/internal/predicate"
	"github.com/sells-group/corpus-cli/internal/source"
)

// writeCorpus writes n records; every even index mentions a keyword.
func writeCorpus(t *testing.T, path string, n int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	enc := json.NewEncoder(f)
	for i := range n {
		title := fmt.Sprintf("Unrelated cohort study %d", i)
		if i%2 == 0 {
			title = fmt.Sprintf("Focused ultrasound in mice %d", i)
		}
		require.NoError(t, enc.Encode(model.Record{
			Title: title,
			PMCID: model.FlexString(fmt.Sprintf("PMC%d", i)),
			Text:  "Methods and results.",
		}))
	}
}

type filterEnv struct {
	dir        string
	corpus     string
	candidates *ledger.Ledger[model.Candidate]
	store      *checkpoint.FileStore
}

func newFilterEnv(t *testing.T, records int) *filterEnv {
	t.Helper()
	dir := t.TempDir()
	env := &filterEnv{dir: dir, corpus: filepath.Join(dir, "corpus.jsonl")}
	writeCorpus(t, env.corpus, records)

	var err error
	env.candidates, err = ledger.Open[model.Candidate](filepath.Join(dir, "candidates", "candidates.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { env.candidates.Close() }) //nolint:errcheck

	env.store, err = checkpoint.NewFile(filepath.Join(dir, "candidates", "state.json"))
	require.NoError(t, err)
	return env
}

// filter opens a fresh source and wires a Filter over the shared ledger
// and checkpoint, as a new process would.
func (e *filterEnv) filter(t *testing.T, cfg FilterConfig) *Filter {
	t.Helper()
	src, err := source.OpenJSONL(e.corpus)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() }) //nolint:errcheck

	pred, err := predicate.NewKeywords(predicate.DefaultKeywords, 0)
	require.NoError(t, err)

	f, err := NewFilter(src, pred, e.candidates, e.store, cfg)
	require.NoError(t, err)
	return f
}

func (e *filterEnv) cursor(t *testing.T) int64 {
	t.Helper()
	n, err := e.store.Load(context.Background())
	require.NoError(t, err)
	return n
}

func scanAll[T ledger.Subjecter](t *testing.T, l *ledger.Ledger[T]) []T {
	t.Helper()
	var out []T
	for e, err := range l.Scan(context.Background()) {
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func identities[T ledger.Subjecter](t *testing.T, l *ledger.Ledger[T]) []model.Identity {
	t.Helper()
	var out []model.Identity
	for id, err := range l.Identities(context.Background()) {
		require.NoError(t, err)
		out = append(out, id)
	}
	return out
}

// cancelAfter cancels ctx once n records have been read.
type cancelAfter struct {
	source.Source
	n      int
	cancel context.CancelFunc

	mu   sync.Mutex
	read int
}

func (c *cancelAfter) Next(ctx context.Context) (model.Record, error) {
	rec, err := c.Source.Next(ctx)
	if err == nil {
		c.mu.Lock()
		c.read++
		if c.read == c.n {
			c.cancel()
		}
		c.mu.Unlock()
	}
	return rec, err
}

type ledgerEnv struct {
	LedgerSet
}

func newLedgerEnv(t *testing.T) ledgerEnv {
	t.Helper()
	dir := t.TempDir()
	cands, err := ledger.Open[model.Candidate](filepath.Join(dir, "candidates.jsonl"))
	require.NoError(t, err)
	gold, err := ledger.Open[model.Success](filepath.Join(dir, "labeled", "gold.jsonl"))
	require.NoError(t, err)
	bad, err := ledger.Open[model.Failure](filepath.Join(dir, "labeled", "bad.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() {
		cands.Close() //nolint:errcheck
		gold.Close()  //nolint:errcheck
		bad.Close()   //nolint:errcheck
	})
	return ledgerEnv{LedgerSet{Candidates: cands, Success: gold, Failure: bad}}
}

func candidate(pmcid string) model.Candidate {
	return model.Candidate{
		Title: "Focused ultrasound " + pmcid,
		PMCID: model.FlexString(pmcid),
		Text:  "body of " + pmcid,
	}
}

func (e ledgerEnv) addCandidates(t *testing.T, pmcids ...string) {
	t.Helper()
	batch := make([]model.Candidate, 0, len(pmcids))
	for _, id := range pmcids {
		batch = append(batch, candidate(id))
	}
	require.NoError(t, e.Candidates.AppendBatch(batch))
}
