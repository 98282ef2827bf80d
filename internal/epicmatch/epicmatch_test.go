package epicmatch

import (
	"context"
	"testing"

	"github.com/memoforge/pipeline/internal/domain"
	"github.com/memoforge/pipeline/internal/store"
)

type fakeEpics struct {
	epics   map[string]domain.Epic
	aliases map[string]domain.EpicAlias // normalized alias -> alias
}

func newFakeEpics() *fakeEpics {
	return &fakeEpics{epics: map[string]domain.Epic{}, aliases: map[string]domain.EpicAlias{}}
}

func (f *fakeEpics) CreateEpic(ctx context.Context, e *domain.Epic) error {
	f.epics[e.ID] = *e
	return nil
}
func (f *fakeEpics) UpdateEpic(ctx context.Context, e *domain.Epic) error {
	f.epics[e.ID] = *e
	return nil
}
func (f *fakeEpics) ArchiveEpic(ctx context.Context, id string) error {
	e, ok := f.epics[id]
	if !ok {
		return nil
	}
	e.Status = domain.EpicArchived
	f.epics[id] = e
	return nil
}
func (f *fakeEpics) GetEpic(ctx context.Context, id string) (*domain.Epic, error) {
	e, ok := f.epics[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}
func (f *fakeEpics) ListEpics(ctx context.Context, status domain.EpicStatus) ([]domain.Epic, error) {
	return nil, nil
}
func (f *fakeEpics) AddAlias(ctx context.Context, a *domain.EpicAlias) error {
	f.aliases[a.NormalizedAlias] = *a
	return nil
}
func (f *fakeEpics) FindByNormalizedAlias(ctx context.Context, normalized string) (*domain.EpicAlias, error) {
	a, ok := f.aliases[normalized]
	if !ok {
		return nil, nil
	}
	return &a, nil
}
func (f *fakeEpics) ListAliases(ctx context.Context, epicID string) ([]domain.EpicAlias, error) {
	return nil, nil
}

var _ store.EpicStore = (*fakeEpics)(nil)

type fakeFTS struct {
	results []store.FTSResult
}

func (f *fakeFTS) IndexContent(ctx context.Context, kind, contentID, title, content string) error {
	return nil
}
func (f *fakeFTS) RemoveContent(ctx context.Context, kind, contentID string) error { return nil }
func (f *fakeFTS) Search(ctx context.Context, kind, sanitizedQuery string, limit int) ([]store.FTSResult, error) {
	if limit < len(f.results) {
		return f.results[:limit], nil
	}
	return f.results, nil
}
func (f *fakeFTS) Rebuild(ctx context.Context) error { return nil }

var _ store.FTSStore = (*fakeFTS)(nil)

func TestMatchExactAliasActiveEpic(t *testing.T) {
	epics := newFakeEpics()
	epics.epics["e1"] = domain.Epic{ID: "e1", Title: "Migration Project", Status: domain.EpicActive}
	epics.aliases["migration project"] = domain.EpicAlias{EpicID: "e1", NormalizedAlias: "migration project"}

	m := New(epics, &fakeFTS{})
	res, err := m.Match(context.Background(), "Migration Project")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].MatchType != domain.MatchExact {
		t.Fatalf("expected single exact candidate, got %+v", res.Candidates)
	}
	if res.Candidates[0].Score != exactAliasConfidence {
		t.Fatalf("expected confidence %v, got %v", exactAliasConfidence, res.Candidates[0].Score)
	}
	if res.NeedsReview {
		t.Fatalf("expected no review needed for high-confidence exact match")
	}
}

func TestMatchExactAliasIgnoresArchivedEpic(t *testing.T) {
	epics := newFakeEpics()
	epics.epics["e1"] = domain.Epic{ID: "e1", Title: "Old Project", Status: domain.EpicArchived}
	epics.aliases["old project"] = domain.EpicAlias{EpicID: "e1", NormalizedAlias: "old project"}

	m := New(epics, &fakeFTS{})
	res, err := m.Match(context.Background(), "old project")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(res.Candidates) != 0 {
		t.Fatalf("expected no candidates for archived epic alias, got %+v", res.Candidates)
	}
	if !res.NeedsReview {
		t.Fatalf("expected review needed with zero candidates")
	}
}

func TestMatchFTSConfidenceDecayAndAmbiguity(t *testing.T) {
	epics := newFakeEpics()
	fts := &fakeFTS{results: []store.FTSResult{
		{ContentID: "e1", Title: "Alpha"},
		{ContentID: "e2", Title: "Beta"},
	}}

	m := New(epics, fts)
	res, err := m.Match(context.Background(), "alpha beta migration")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(res.Candidates))
	}
	if res.Candidates[0].Score != 0.80 {
		t.Fatalf("expected first candidate score 0.80, got %v", res.Candidates[0].Score)
	}
	wantSecond := 0.60 * 0.9
	if res.Candidates[1].Score != wantSecond {
		t.Fatalf("expected second candidate score %v, got %v", wantSecond, res.Candidates[1].Score)
	}
	// 0.80 - 0.54 = 0.26 is not below ambiguityGap, so no review is needed.
	if res.NeedsReview {
		t.Fatalf("expected no review for gap %v >= %v", res.Gap, ambiguityGap)
	}
}

func TestMatchSingleCandidateAtConfidenceFloor(t *testing.T) {
	epics := newFakeEpics()
	fts := &fakeFTS{results: []store.FTSResult{{ContentID: "e1", Title: "Gamma"}}}

	m := New(epics, fts)
	res, err := m.Match(context.Background(), "gamma")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(res.Candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(res.Candidates))
	}
	if res.Candidates[0].Score != 0.80 {
		t.Fatalf("expected top FTS confidence 0.80, got %v", res.Candidates[0].Score)
	}
	if res.NeedsReview {
		t.Fatalf("expected no review needed at exactly the confidence floor")
	}
}

func TestMatchDeterministic(t *testing.T) {
	epics := newFakeEpics()
	fts := &fakeFTS{results: []store.FTSResult{
		{ContentID: "e1", Title: "Alpha"},
		{ContentID: "e2", Title: "Beta"},
		{ContentID: "e3", Title: "Gamma"},
	}}
	m := New(epics, fts)

	first, err := m.Match(context.Background(), "alpha beta gamma")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	second, err := m.Match(context.Background(), "alpha beta gamma")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(first.Candidates) != len(second.Candidates) {
		t.Fatalf("expected stable candidate count across calls")
	}
	for i := range first.Candidates {
		if first.Candidates[i] != second.Candidates[i] {
			t.Fatalf("expected identical candidate at index %d across calls, got %+v vs %+v", i, first.Candidates[i], second.Candidates[i])
		}
	}
}
