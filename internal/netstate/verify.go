package netstate

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/hostnet/internal/schema"
)

// unifiedDiff renders desired and current as YAML and diffs them.
func unifiedDiff(desired, current any) string {
	a, err := schema.ToYAML(desired)
	if err != nil {
		return fmt.Sprintf("failed to render desired state: %v", err)
	}
	b, err := schema.ToYAML(current)
	if err != nil {
		return fmt.Sprintf("failed to render current state: %v", err)
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: "desired",
		ToFile:   "current",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return fmt.Sprintf("failed to generate diff: %v", err)
	}
	return text
}

// DiffDocuments returns a unified diff of two documents, empty when
// they render identically.
func DiffDocuments(from, to *schema.Document, fromName, toName string) (string, error) {
	a, err := from.YAML()
	if err != nil {
		return "", fmt.Errorf("failed to render %s: %w", fromName, err)
	}
	b, err := to.YAML()
	if err != nil {
		return "", fmt.Errorf("failed to render %s: %w", toName, err)
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: fromName,
		ToFile:   toName,
		Context:  3,
	})
}
