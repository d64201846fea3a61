package work

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortByPriority(t *testing.T) {
	items := []WorkItem{
		{ID: "c", Priority: 2},
		{ID: "b", Priority: 0},
		{ID: "z", Priority: DefaultPriority},
		{ID: "a", Priority: 2},
	}
	SortByPriority(items)

	var ids []string
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	assert.Equal(t, []string{"b", "a", "c", "z"}, ids)
}

func TestBatchResultSuccessRate(t *testing.T) {
	tests := []struct {
		name   string
		result BatchResult
		rate   float64
		ok     bool
	}{
		{name: "empty batch", result: BatchResult{}, ok: false},
		{
			name:   "all applied",
			result: BatchResult{Applied: []*Candidate{{}, {}}},
			rate:   1, ok: true,
		},
		{
			name: "failures count against the batch",
			result: BatchResult{
				Applied:    []*Candidate{{}, {}},
				RolledBack: []*Candidate{{}},
				Failed:     []*Candidate{{}},
			},
			rate: 0.5, ok: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, ok := tt.result.SuccessRate()
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.rate, rate, 1e-9)
		})
	}
}

func TestCandidateStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusConflicted.IsTerminal())
	assert.True(t, StatusApplied.IsTerminal())
	assert.True(t, StatusRolledBack.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}

func TestIDs(t *testing.T) {
	candidates := []*Candidate{{Item: WorkItem{ID: "a"}}, {Item: WorkItem{ID: "b"}}}
	assert.Equal(t, []string{"a", "b"}, IDs(candidates))
	assert.Empty(t, IDs(nil))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "bd-12-2c1b360d", Slug("BD-12"))
	assert.Equal(t, "epic-task-5312878e", Slug("epic/task"))
	assert.Equal(t, "item-37a69392", Slug("修复"))

	// ids that sanitize to the same text still get distinct slugs
	for _, pair := range [][2]string{{"修复", "测试"}, {"Fix", "fix"}, {"a/b", "a-b"}} {
		assert.NotEqual(t, Slug(pair[0]), Slug(pair[1]), pair)
	}
}
