package mcp

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/documind-hq/documind/internal/search"
)

// maxSnippetRunes caps how much chunk text a markdown result carries.
// Full chunks are available via the structured output path; the markdown
// rendering is for human-readable transcripts and should stay compact.
const maxSnippetRunes = 700

// FormatSearchResults formats a search response as markdown.
func FormatSearchResults(query string, resp *search.Response) string {
	valid := filterValidResults(resp.Results)

	if len(valid) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", query)

	if resp.Degraded {
		sb.WriteString("> Note: one retrieval branch was unavailable; results are ")
		sb.WriteString(strings.Join(survivingBranches(resp), ", "))
		sb.WriteString("-only.\n\n")
	}

	fmt.Fprintf(&sb, "Found %d result", len(valid))
	if len(valid) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range valid {
		formatResult(&sb, i+1, r)
	}

	return sb.String()
}

// FormatCitations formats resolved citations as markdown.
func FormatCitations(out *CiteOutput) string {
	if out == nil || (len(out.Citations) == 0 && len(out.Warnings) == 0) {
		return "No citations could be resolved."
	}

	var sb strings.Builder
	if len(out.Citations) > 0 {
		sb.WriteString("## Citations\n\n")
		for i, c := range out.Citations {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, c.Formatted)
			fmt.Fprintf(&sb, "   - chunk: `%s`, chars %d-%d\n", c.ChunkID, c.CharStart, c.CharEnd)
		}
		sb.WriteString("\n")
	}

	if len(out.Warnings) > 0 {
		sb.WriteString("## Unresolved Spans\n\n")
		for _, w := range out.Warnings {
			fmt.Fprintf(&sb, "- %s\n", w)
		}
	}

	return sb.String()
}

// filterValidResults removes results with nil chunks.
func filterValidResults(results []*search.Result) []*search.Result {
	valid := make([]*search.Result, 0, len(results))
	for _, r := range results {
		if r != nil && r.Chunk != nil {
			valid = append(valid, r)
		}
	}
	return valid
}

// formatResult formats a single result with its provenance header.
func formatResult(sb *strings.Builder, num int, r *search.Result) {
	fmt.Fprintf(sb, "### %d. `%s` (score: %.2f)\n\n", num, r.Chunk.ID, r.Score)

	fmt.Fprintf(sb, "**Page %d**", r.Chunk.Page)
	if len(r.Chunk.HierarchyPath) > 0 {
		fmt.Fprintf(sb, " — %s", strings.Join(r.Chunk.HierarchyPath, " > "))
	}
	sb.WriteString("\n\n")

	if len(r.MatchedTerms) > 0 {
		terms := r.MatchedTerms
		if len(terms) > 5 {
			terms = terms[:5]
		}
		fmt.Fprintf(sb, "Matched: %s", strings.Join(terms, ", "))
		if r.InBothBranches {
			sb.WriteString(" (keyword and semantic agreement)")
		}
		sb.WriteString("\n\n")
	} else if r.InBothBranches {
		sb.WriteString("Keyword and semantic agreement\n\n")
	}

	sb.WriteString("> ")
	sb.WriteString(strings.ReplaceAll(truncateRunes(r.Chunk.Text, maxSnippetRunes), "\n", "\n> "))
	sb.WriteString("\n\n")
}

// survivingBranches names the branches that produced results in a degraded
// response.
func survivingBranches(resp *search.Response) []string {
	failed := make(map[string]bool, len(resp.DegradedBranches))
	for _, b := range resp.DegradedBranches {
		failed[b] = true
	}
	var alive []string
	if !failed[search.BranchLexical] {
		alive = append(alive, "keyword")
	}
	if !failed[search.BranchVector] {
		alive = append(alive, "semantic")
	}
	return alive
}

// truncateRunes cuts s to at most n runes, appending an ellipsis when cut.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}
