// Package epicmatch implements the epic matcher (spec §4.E): given a query
// string (typically a transcript), rank which existing epic it most likely
// belongs to, via an exact-alias stage then a full-text stage with
// confidence decay. Grounded on
// other_examples/b1058979_joshjon-verve__internal-epic-store.go.go's
// Store.ClaimPendingEpic (interface-segregated repository, deterministic
// ordering), adapted here to FTS ranking instead of claim-ordering.
package epicmatch

import (
	"context"
	"fmt"

	"github.com/memoforge/pipeline/internal/domain"
	"github.com/memoforge/pipeline/internal/store"
)

// MaxFTSCandidates is the top-N full-text hits considered (spec §4.E step 2).
const MaxFTSCandidates = 3

// ambiguityGap is the confidence-gap threshold below which two or more
// leading candidates are considered too close to call.
const ambiguityGap = 0.20

// ConfidenceFloor is the minimum confidence a single candidate (or an
// LLM-resolved epic) needs to avoid a review flag.
const ConfidenceFloor = 0.80

var ftsStageConfidence = [MaxFTSCandidates]float64{0.80, 0.60, 0.40}

const exactAliasConfidence = 0.95

// Result is the ranked outcome of matching a query against known epics.
type Result struct {
	Candidates  []domain.EventEpicCandidate
	NeedsReview bool
	Gap         float64
}

// Matcher ranks candidate epics for a query string.
type Matcher struct {
	epics store.EpicStore
	fts   store.FTSStore
}

// New constructs a Matcher.
func New(epics store.EpicStore, fts store.FTSStore) *Matcher {
	return &Matcher{epics: epics, fts: fts}
}

// Match runs the exact-alias stage, falling back to the FTS stage, and
// applies the ambiguity test (spec §4.E).
func (m *Matcher) Match(ctx context.Context, query string) (Result, error) {
	normalized := domain.NormalizeAlias(query)

	if normalized != "" {
		alias, err := m.epics.FindByNormalizedAlias(ctx, normalized)
		if err != nil {
			return Result{}, fmt.Errorf("failed to look up exact alias: %w", err)
		}
		if alias != nil {
			epic, err := m.epics.GetEpic(ctx, alias.EpicID)
			if err != nil {
				return Result{}, fmt.Errorf("failed to load aliased epic: %w", err)
			}
			if epic != nil && epic.Status == domain.EpicActive {
				candidates := []domain.EventEpicCandidate{{
					EpicID:    epic.ID,
					Title:     epic.Title,
					Score:     exactAliasConfidence,
					Rank:      1,
					MatchType: domain.MatchExact,
				}}
				return evaluate(candidates), nil
			}
		}
	}

	sanitized := domain.SanitizeFTSQuery(query)
	if sanitized == "" {
		return evaluate(nil), nil
	}

	hits, err := m.fts.Search(ctx, "epic", phraseWrap(sanitized), MaxFTSCandidates)
	if err != nil {
		return Result{}, fmt.Errorf("failed to search epic index: %w", err)
	}

	candidates := make([]domain.EventEpicCandidate, 0, len(hits))
	for i, hit := range hits {
		if i >= MaxFTSCandidates {
			break
		}
		base := ftsStageConfidence[i]
		decay := 1 - 0.1*float64(i)
		candidates = append(candidates, domain.EventEpicCandidate{
			EpicID:    hit.ContentID,
			Title:     hit.Title,
			Score:     base * decay,
			Rank:      i + 1,
			MatchType: domain.MatchFTS,
		})
	}

	return evaluate(candidates), nil
}

// evaluate applies the ambiguity test (spec §4.E step 4) to an already-
// ranked candidate list.
func evaluate(candidates []domain.EventEpicCandidate) Result {
	res := Result{Candidates: candidates}

	switch len(candidates) {
	case 0:
		res.NeedsReview = true
	case 1:
		res.NeedsReview = candidates[0].Score < ConfidenceFloor
	default:
		res.Gap = candidates[0].Score - candidates[1].Score
		res.NeedsReview = res.Gap < ambiguityGap
	}
	return res
}

// phraseWrap quotes a sanitized query for phrase-safe FTS matching.
func phraseWrap(sanitized string) string {
	return `"` + sanitized + `"`
}

// Persist atomically replaces an event's candidate list (spec §4.E: "atomic
// per event, delete-then-insert").
func Persist(ctx context.Context, candidates store.CandidateStore, eventID string, res Result) error {
	if len(res.Candidates) == 0 {
		return candidates.ClearCandidates(ctx, eventID)
	}
	rows := make([]domain.EventEpicCandidate, len(res.Candidates))
	for i, c := range res.Candidates {
		c.EventID = eventID
		rows[i] = c
	}
	return candidates.ReplaceCandidates(ctx, eventID, rows)
}
