package store

import (
	"fmt"
	"sort"

	"github.com/pmezard/go-difflib/difflib"
)

// DiffEntries renders a unified diff of the loaded-namespace sets of
// two journal entries. An empty string means no difference.
func DiffEntries(prev, curr *Entry) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        namespaceLines(prev),
		B:        namespaceLines(curr),
		FromFile: entryLabel(prev),
		ToFile:   entryLabel(curr),
		Context:  3,
	}

	unified, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("computing diff: %w", err)
	}

	return unified, nil
}

func namespaceLines(e *Entry) []string {
	if e == nil {
		return nil
	}

	lines := make([]string, 0, len(e.Loaded))
	for _, ns := range e.Loaded {
		lines = append(lines, ns+"\n")
	}

	sort.Strings(lines)

	return lines
}

func entryLabel(e *Entry) string {
	if e == nil {
		return "none"
	}

	return fmt.Sprintf("reload %d", e.Seq)
}
