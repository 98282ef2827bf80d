package extract

import "testing"

func TestValidateMarkdownAcceptsOrdinaryProse(t *testing.T) {
	if err := validateMarkdown("## Decision\n\nWe will use Postgres.\n"); err != nil {
		t.Fatalf("expected ordinary markdown to validate, got %v", err)
	}
}

func TestValidateMarkdownAcceptsEmptyBody(t *testing.T) {
	if err := validateMarkdown(""); err != nil {
		t.Fatalf("expected empty body to validate, got %v", err)
	}
}
