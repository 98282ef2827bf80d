package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memoforge/pipeline/internal/domain"
	"github.com/memoforge/pipeline/internal/queue"
)

// isPushPriority gates the push fan-out supplement (SPEC_FULL.md): only
// P0/P1 actions trigger a notification.
func isPushPriority(p domain.Priority) bool {
	return p == domain.PriorityP0 || p == domain.PriorityP1
}

// project performs the idempotent projection write (spec §4.F): delete
// every existing projection row for the event, then insert the new set.
// Newly created P0/P1 actions enqueue a push job (SPEC_FULL.md supplement).
func (x *Extractor) project(ctx context.Context, event *domain.Event, epicID *string, result *Result) error {
	if err := x.projections.DeleteProjectionsForEvent(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to clear existing projections: %w", err)
	}

	now := time.Now()

	for _, a := range result.NewActions {
		due, err := parseOptionalDate(a.DueAt)
		if err != nil {
			return fmt.Errorf("invalid due_at on action %q: %w", a.Title, err)
		}
		action := &domain.Action{
			ID:            uuid.NewString(),
			SourceEventID: event.ID,
			EpicID:        epicID,
			Type:          domain.ActionType(a.Type),
			Title:         a.Title,
			Body:          a.Body,
			Priority:      domain.Priority(a.Priority),
			DueAt:         due,
			CreatedAt:     now,
		}
		if err := x.insertActionAndIndex(ctx, action, a.Mentions); err != nil {
			return err
		}
	}

	for _, d := range result.NewDeadlines {
		due, err := parseOptionalDate(&d.DueAt)
		if err != nil {
			return fmt.Errorf("invalid due_at on deadline %q: %w", d.Title, err)
		}
		action := &domain.Action{
			ID:            uuid.NewString(),
			SourceEventID: event.ID,
			EpicID:        epicID,
			Type:          domain.ActionDeadline,
			Title:         d.Title,
			Priority:      domain.Priority(d.Priority),
			DueAt:         due,
			CreatedAt:     now,
		}
		if err := x.insertActionAndIndex(ctx, action, nil); err != nil {
			return err
		}
	}

	for _, e := range result.EmailDrafts {
		if err := validateMarkdown(e.Body); err != nil {
			return fmt.Errorf("email draft %q: %w", e.Subject, err)
		}
		action := &domain.Action{
			ID:            uuid.NewString(),
			SourceEventID: event.ID,
			EpicID:        epicID,
			Type:          domain.ActionEmail,
			Title:         e.Subject,
			Body:          e.Body,
			Priority:      domain.PriorityP2,
			CreatedAt:     now,
		}
		if err := x.insertActionAndIndex(ctx, action, nil); err != nil {
			return err
		}
	}

	for _, b := range result.Blockers {
		if err := x.projections.InsertBlocker(ctx, &domain.Blocker{
			ID:            uuid.NewString(),
			SourceEventID: event.ID,
			EpicID:        epicID,
			Description:   b.Description,
			Status:        domain.ProjectionOpen,
			CreatedAt:     now,
		}); err != nil {
			return fmt.Errorf("failed to insert blocker: %w", err)
		}
	}

	for _, d := range result.Dependencies {
		if err := x.projections.InsertDependency(ctx, &domain.Dependency{
			ID:            uuid.NewString(),
			SourceEventID: event.ID,
			EpicID:        epicID,
			Description:   d.Description,
			Status:        domain.ProjectionOpen,
			CreatedAt:     now,
		}); err != nil {
			return fmt.Errorf("failed to insert dependency: %w", err)
		}
	}

	for _, i := range result.Issues {
		if err := x.projections.InsertIssue(ctx, &domain.Issue{
			ID:            uuid.NewString(),
			SourceEventID: event.ID,
			EpicID:        epicID,
			Description:   i.Description,
			Status:        domain.ProjectionOpen,
			CreatedAt:     now,
		}); err != nil {
			return fmt.Errorf("failed to insert issue: %w", err)
		}
	}

	for _, k := range result.KnowledgeItems {
		if err := validateMarkdown(k.BodyMD); err != nil {
			return fmt.Errorf("knowledge item %q: %w", k.Title, err)
		}
		item := &domain.KnowledgeItem{
			ID:            uuid.NewString(),
			SourceEventID: event.ID,
			EpicID:        epicID,
			Title:         k.Title,
			Kind:          domain.KnowledgeKind(k.Kind),
			Tags:          k.Tags,
			BodyMD:        k.BodyMD,
			CreatedAt:     now,
		}
		tagsJSON, err := marshalTags(k.Tags)
		if err != nil {
			return fmt.Errorf("failed to encode knowledge item tags: %w", err)
		}
		item.TagsJSON = tagsJSON
		if err := x.projections.InsertKnowledgeItem(ctx, item); err != nil {
			return fmt.Errorf("failed to insert knowledge item: %w", err)
		}
		if err := x.fts.IndexContent(ctx, "knowledge", item.ID, item.Title, item.BodyMD); err != nil {
			return fmt.Errorf("failed to index knowledge item: %w", err)
		}
	}

	return nil
}

func (x *Extractor) insertActionAndIndex(ctx context.Context, action *domain.Action, mentions []string) error {
	if err := x.projections.InsertAction(ctx, action, mentions); err != nil {
		return fmt.Errorf("failed to insert action %q: %w", action.Title, err)
	}
	if err := x.fts.IndexContent(ctx, "action", action.ID, action.Title, action.Body); err != nil {
		return fmt.Errorf("failed to index action: %w", err)
	}
	if isPushPriority(action.Priority) {
		if _, err := x.jobs.Enqueue(ctx, action.SourceEventID, domain.JobPush, queue.PushPayload{ActionID: action.ID}, 0); err != nil {
			return fmt.Errorf("failed to enqueue push job: %w", err)
		}
	}
	return nil
}

func parseOptionalDate(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		t, err = time.Parse("2006-01-02", *raw)
		if err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func marshalTags(tags []string) (string, error) {
	return queue.EncodePayload(tags)
}
