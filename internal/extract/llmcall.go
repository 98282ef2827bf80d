package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/memoforge/pipeline/internal/llmproc"
)

// MaxCallAttempts bounds the schema-validation retry loop (spec §4.F: "up
// to 3 attempts").
const MaxCallAttempts = 3

var validate = validator.New()

// arrayFields are defaulted to "[]" when the model omits them entirely, so
// a terse-but-otherwise-valid response doesn't fail validation purely for
// missing optional arrays.
var arrayFields = []string{
	"labels", "epic_mentions", "new_actions", "new_deadlines",
	"blockers", "dependencies", "issues", "knowledge_items",
	"email_drafts", "evidence_snippets",
}

// ChatCompleter is the subset of *llmproc.Supervisor the extractor drives.
type ChatCompleter interface {
	ChatCompletions(ctx context.Context, messages []llmproc.Message, opts llmproc.ChatOptions) (*llmproc.ChatResponse, error)
}

// callLLM runs the bounded retry loop: call, unwrap, parse, validate; on
// failure, build a retry prompt and try again, up to MaxCallAttempts.
func callLLM(ctx context.Context, llm ChatCompleter, systemPrompt, userPrompt string) (*Result, error) {
	messages := []llmproc.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}

	var lastErr error
	for attempt := 1; attempt <= MaxCallAttempts; attempt++ {
		resp, err := llm.ChatCompletions(ctx, messages, llmproc.ChatOptions{Temperature: 0.1, MaxTokens: 4096})
		if err != nil {
			if errors.Is(err, llmproc.ErrNotReady) {
				return nil, retryableErr(fmt.Errorf("llm not ready: %w", err))
			}
			return nil, retryableErr(fmt.Errorf("llm call failed: %w", err))
		}

		raw := resp.Text()
		result, verr := parseAndValidate(raw)
		if verr == nil {
			return result, nil
		}
		lastErr = verr

		if attempt < MaxCallAttempts {
			messages = append(messages,
				llmproc.Message{Role: "assistant", Content: raw},
				llmproc.Message{Role: "user", Content: buildRetryPrompt(raw, verr)},
			)
		}
	}
	// Capitalized to match the literal status_reason prefix callers surface on the event.
	return nil, nonRetryableErr(fmt.Errorf("Failed after %d attempts: %w", MaxCallAttempts, lastErr))
}

// parseAndValidate tolerantly unwraps a fenced or prose-wrapped JSON object
// from raw model output, defaults missing array fields, and validates it
// against the schema's struct tags.
func parseAndValidate(raw string) (*Result, error) {
	candidate := extractJSONObject(stripFences(raw))
	if candidate == "" {
		return nil, fmt.Errorf("no JSON object found in model output")
	}
	if !gjson.Valid(candidate) {
		return nil, fmt.Errorf("model output is not valid JSON")
	}

	normalized := candidate
	for _, field := range arrayFields {
		if !gjson.Get(normalized, field).Exists() {
			var err error
			normalized, err = sjson.SetRaw(normalized, field, "[]")
			if err != nil {
				return nil, fmt.Errorf("failed to default field %q: %w", field, err)
			}
		}
	}

	var result Result
	if err := json.Unmarshal([]byte(normalized), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal extraction result: %w", err)
	}
	if err := validate.Struct(&result); err != nil {
		return nil, fmt.Errorf("extraction result failed schema validation: %w", err)
	}
	return &result, nil
}

// stripFences removes a single leading/trailing markdown code fence, with
// or without a "json" language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimPrefix(s, "\n")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// extractJSONObject finds the first balanced top-level {...} span,
// tolerating leading/trailing prose around the JSON object.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// inside a string literal, braces don't count
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// extractError carries whether a failure should be retried at the job
// queue level (transient) or fails the event outright (exhausted schema
// validation, input errors).
type extractError struct {
	err       error
	retryable bool
}

func (e *extractError) Error() string { return e.err.Error() }
func (e *extractError) Unwrap() error { return e.err }

func retryableErr(err error) error    { return &extractError{err: err, retryable: true} }
func nonRetryableErr(err error) error { return &extractError{err: err, retryable: false} }

// IsRetryable reports whether err (as returned by Extractor.ProcessEvent /
// Reprocess) should be retried at the job-queue level.
func IsRetryable(err error) bool {
	var ee *extractError
	if errors.As(err, &ee) {
		return ee.retryable
	}
	return false
}
