package extract

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
)

// validateMarkdown rejects KnowledgeItem bodies and email drafts the LLM
// produced that goldmark can't parse at all (e.g. truncated output from a
// model that hit its token budget mid-document). A render failure here is
// a validation error, the same bucket as a schema mismatch (spec §7).
func validateMarkdown(body string) error {
	var out strings.Builder
	if err := goldmark.Convert([]byte(body), &out); err != nil {
		return fmt.Errorf("body is not valid markdown: %w", err)
	}
	return nil
}
