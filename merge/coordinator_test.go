package merge

import (
	"bytes"
	"context"
	stdlog "log"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ByteMirror/convoy/log"
	"github.com/ByteMirror/convoy/snapshot"
	"github.com/ByteMirror/convoy/vcs"
	"github.com/ByteMirror/convoy/vcs/vcstest"
	"github.com/ByteMirror/convoy/work"
)

type recordingSource struct {
	mu       sync.Mutex
	reopened []string
}

func (s *recordingSource) ListReady(context.Context, int) ([]work.WorkItem, error) { return nil, nil }

func (s *recordingSource) Reopen(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reopened = append(s.reopened, id)
	return nil
}

type fixture struct {
	dir      string
	repo     *vcs.Repo
	source   *recordingSource
	baseline *snapshot.Baseline
	coord    *Coordinator
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	dir := vcstest.NewRepo(t)
	vcstest.WriteAndCommit(t, dir, "shared.txt", "line one\nline two\nline three\n", "add shared file")

	repo, err := vcs.At(dir)
	require.NoError(t, err)
	snapshots := snapshot.NewManager(repo)
	baseline, err := snapshots.Capture(context.Background())
	require.NoError(t, err)

	source := &recordingSource{}
	return &fixture{
		dir:      dir,
		repo:     repo,
		source:   source,
		baseline: baseline,
		coord:    NewCoordinator(repo, source, snapshots, nil, opts),
	}
}

// candidate commits one file change on its own branch off the baseline.
func (f *fixture) candidate(t *testing.T, id string, priority int, file, content string) *work.Candidate {
	t.Helper()
	branch := "convoy/" + id
	vcstest.Git(t, f.dir, "checkout", "-q", "-b", branch, f.baseline.Head)
	commit := vcstest.WriteAndCommit(t, f.dir, file, content, "work on "+id)
	vcstest.Git(t, f.dir, "checkout", "-q", "main")
	return &work.Candidate{
		Item:   work.WorkItem{ID: id, Priority: priority},
		Commit: commit,
		Branch: branch,
		Status: work.StatusPending,
	}
}

func TestIntegrateScenario(t *testing.T) {
	f := newFixture(t, Options{})
	var buf bytes.Buffer
	original := log.InfoLog
	log.InfoLog = stdlog.New(&buf, "", 0)
	defer func() { log.InfoLog = original }()

	c0 := f.candidate(t, "item-0", 0, "shared.txt", "line one\nitem 0 was here\nline three\n")
	c1 := f.candidate(t, "item-1", 1, "other.txt", "item 1\n")
	c2 := f.candidate(t, "item-2", 2, "shared.txt", "line one\nitem 2 was here\nline three\n")

	result := f.coord.Integrate(context.Background(), []*work.Candidate{c2, c0, c1}, f.baseline)

	assert.Equal(t, []string{"item-0", "item-1"}, work.IDs(result.Applied))
	assert.Equal(t, []string{"item-2"}, work.IDs(result.RolledBack))
	assert.Equal(t, work.StatusApplied, c0.Status)
	assert.Equal(t, work.StatusApplied, c1.Status)
	assert.Equal(t, work.StatusRolledBack, c2.Status)
	assert.Equal(t, ReasonConflict, c2.Reason)
	assert.Equal(t, []string{"shared.txt"}, c2.Files)
	assert.Equal(t, []string{"item-2"}, f.source.reopened)
	assert.Contains(t, buf.String(), "rolled back item-2: conflicts with higher-priority work in shared.txt")

	dirty, err := f.repo.IsDirty(context.Background())
	require.NoError(t, err)
	assert.False(t, dirty, "rollback leaves no merge in progress")
	for _, c := range []*work.Candidate{c0, c1} {
		ok, err := f.repo.IsAncestor(context.Background(), c.Commit, vcstest.Head(t, f.dir))
		require.NoError(t, err)
		assert.True(t, ok, "%s is merged", c.Item.ID)
	}
	assert.Contains(t, vcstest.Git(t, f.dir, "show", "HEAD:shared.txt"), "item 0 was here")
}

func TestIntegrateIgnoresCompletionOrder(t *testing.T) {
	// The low-priority session finishing first must not win the conflicting region.
	for _, order := range [][]int{{0, 1}, {1, 0}} {
		f := newFixture(t, Options{})
		urgent := f.candidate(t, "urgent", 0, "shared.txt", "line one\nurgent\nline three\n")
		later := f.candidate(t, "later", 3, "shared.txt", "line one\nlater\nline three\n")
		finished := []*work.Candidate{urgent, later}
		arrival := []*work.Candidate{finished[order[0]], finished[order[1]]}

		result := f.coord.Integrate(context.Background(), arrival, f.baseline)
		assert.Equal(t, []string{"urgent"}, work.IDs(result.Applied))
		assert.Equal(t, []string{"later"}, work.IDs(result.RolledBack))
	}
}

func TestIntegrateIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	c0 := f.candidate(t, "item-0", 0, "a.txt", "a\n")

	first := f.coord.Integrate(context.Background(), []*work.Candidate{c0}, f.baseline)
	require.Len(t, first.Applied, 1)
	head := vcstest.Head(t, f.dir)

	second := f.coord.Integrate(context.Background(), []*work.Candidate{c0}, f.baseline)
	assert.Len(t, second.Applied, 1)
	assert.Empty(t, second.RolledBack)
	assert.Equal(t, head, vcstest.Head(t, f.dir), "nothing is merged twice")
	assert.Empty(t, f.source.reopened)
}

func TestIntegrateBothConflictingWithSameRegion(t *testing.T) {
	f := newFixture(t, Options{})
	c0 := f.candidate(t, "first", 0, "shared.txt", "line one\nfirst\nline three\n")
	c1 := f.candidate(t, "second", 1, "shared.txt", "line one\nsecond\nline three\n")
	c2 := f.candidate(t, "third", 2, "shared.txt", "line one\nthird\nline three\n")

	result := f.coord.Integrate(context.Background(), []*work.Candidate{c0, c1, c2}, f.baseline)
	assert.Equal(t, []string{"first"}, work.IDs(result.Applied))
	assert.Equal(t, []string{"second", "third"}, work.IDs(result.RolledBack))
	assert.Equal(t, []string{"second", "third"}, f.source.reopened, "each rollback reopens once")
}

func TestIntegrateAbortBatchOnConflict(t *testing.T) {
	f := newFixture(t, Options{AbortBatchOnConflict: true})
	c0 := f.candidate(t, "item-0", 0, "shared.txt", "line one\nitem 0\nline three\n")
	c1 := f.candidate(t, "item-1", 1, "shared.txt", "line one\nitem 1\nline three\n")
	c2 := f.candidate(t, "item-2", 2, "other.txt", "item 2\n")

	result := f.coord.Integrate(context.Background(), []*work.Candidate{c0, c1, c2}, f.baseline)
	assert.Empty(t, result.Applied)
	assert.ElementsMatch(t, []string{"item-0", "item-1", "item-2"}, work.IDs(result.RolledBack))
	assert.ElementsMatch(t, []string{"item-0", "item-1", "item-2"}, f.source.reopened)
	assert.Equal(t, ReasonConflict, c1.Reason)
	assert.Equal(t, ReasonBatchAborted, c0.Reason)
	assert.Equal(t, ReasonBatchAborted, c2.Reason)
	assert.Equal(t, f.baseline.Head, vcstest.Head(t, f.dir))
}

func TestIntegrateMergeError(t *testing.T) {
	f := newFixture(t, Options{})
	bogus := &work.Candidate{
		Item:   work.WorkItem{ID: "bogus"},
		Commit: "0123456789abcdef0123456789abcdef01234567",
		Status: work.StatusPending,
	}
	good := f.candidate(t, "good", 1, "a.txt", "a\n")

	result := f.coord.Integrate(context.Background(), []*work.Candidate{bogus, good}, f.baseline)
	assert.Equal(t, []string{"good"}, work.IDs(result.Applied))
	assert.Equal(t, []string{"bogus"}, work.IDs(result.RolledBack))
	assert.Equal(t, ReasonMergeError, bogus.Reason)
	assert.Equal(t, []string{"bogus"}, f.source.reopened)
}

func TestIntegrateSkipsFailedCandidates(t *testing.T) {
	f := newFixture(t, Options{})
	failed := &work.Candidate{Item: work.WorkItem{ID: "failed"}, Status: work.StatusFailed}

	result := f.coord.Integrate(context.Background(), []*work.Candidate{failed, nil}, f.baseline)
	assert.Zero(t, result.Size())
	assert.Empty(t, f.source.reopened)
	assert.Equal(t, f.baseline.Head, vcstest.Head(t, f.dir))
}

func TestIntegrateKeepVerdict(t *testing.T) {
	f := newFixture(t, Options{})
	c0 := f.candidate(t, "item-0", 0, "shared.txt", "line one\nitem 0\nline three\n")
	c1 := f.candidate(t, "item-1", 1, "shared.txt", "line one\nitem 1\nline three\n")
	// A commit that only touches a different file stands in for a re-derived change.
	rederived := f.candidate(t, "item-1-rederived", 1, "item1.txt", "item 1\n")

	var calls int
	f.coord.resolver = ResolverFunc(func(ctx context.Context, cand *work.Candidate, head string, conflict *ConflictError) Verdict {
		calls++
		assert.Equal(t, "item-1", conflict.ItemID)
		assert.Equal(t, []string{"shared.txt"}, conflict.Files)
		assert.Equal(t, head, vcstest.Head(t, f.dir), "the conflicting merge was aborted")
		return Verdict{Action: Keep, Commit: rederived.Commit}
	})

	result := f.coord.Integrate(context.Background(), []*work.Candidate{c0, c1}, f.baseline)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"item-0", "item-1"}, work.IDs(result.Applied))
	assert.Equal(t, rederived.Commit, c1.Commit)
	assert.Empty(t, f.source.reopened)
}

func TestConflictError(t *testing.T) {
	assert.Equal(t, "merge of a conflicts in x.go, y.go", (&ConflictError{ItemID: "a", Files: []string{"x.go", "y.go"}}).Error())
	assert.Equal(t, "merge of a conflicts with applied work", (&ConflictError{ItemID: "a"}).Error())
	assert.Equal(t, "keep", Keep.String())
	assert.Equal(t, Discard, PriorityResolver{}.Resolve(context.Background(), nil, "", nil).Action)
}
