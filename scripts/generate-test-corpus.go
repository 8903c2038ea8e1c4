//go:build ignore

// Package main generates a synthetic documentation corpus for
// benchmarking ingestion and search.
// Usage: go run scripts/generate-test-corpus.go -docs 500 -output testdata/bench
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numDocs   = flag.Int("docs", 500, "Number of documents to generate")
	outputDir = flag.String("output", "testdata/bench", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

// Word pools for generating plausible documentation.
var (
	topics = []string{
		"Billing", "Shipping", "Returns", "Warranty", "Accounts",
		"Security", "Privacy", "Notifications", "Integrations", "Exports",
		"Onboarding", "Permissions", "Backups", "Audit Logs", "Webhooks",
		"Rate Limits", "Single Sign-On", "Invoicing", "Subscriptions", "Refunds",
	}
	sections = []string{
		"Overview", "Getting Started", "Configuration", "Common Issues",
		"Best Practices", "Limitations", "Troubleshooting", "Examples",
		"Frequently Asked Questions", "Escalation", "Glossary", "Changelog",
	}
	subjects = []string{
		"the request", "an invoice", "the account", "a subscription",
		"the export file", "the audit trail", "a webhook delivery",
		"the access token", "the billing cycle", "a support ticket",
	}
	actions = []string{
		"is processed within %d business days",
		"requires approval from an administrator",
		"expires after %d days unless renewed",
		"is retried up to %d times with exponential backoff",
		"must be submitted before the end of the billing period",
		"is archived after %d months of inactivity",
		"can be downloaded from the settings page",
		"triggers an email notification to the account owner",
	}
	caveats = []string{
		"Enterprise plans have different limits.",
		"This behavior changed in the 2024 release.",
		"Contact support if the delay exceeds the stated window.",
		"Sandbox environments skip this step entirely.",
		"Regional regulations may extend these timelines.",
	}
)

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	subdirs := []string{"guides", "policies", "reference"}
	for _, subdir := range subdirs {
		if err := os.MkdirAll(filepath.Join(*outputDir, subdir), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating subdirectory %s: %v\n", subdir, err)
			os.Exit(1)
		}
	}

	fmt.Printf("Generating %d documents in %s...\n", *numDocs, *outputDir)

	// 70% markdown guides, 20% policies with page breaks, 10% plain text.
	mdDocs := *numDocs * 70 / 100
	policyDocs := *numDocs * 20 / 100
	txtDocs := *numDocs - mdDocs - policyDocs

	generated := 0
	for i := 0; i < mdDocs; i++ {
		if err := generateGuide(rng, i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating guide %d: %v\n", i, err)
			continue
		}
		generated++
	}
	for i := 0; i < policyDocs; i++ {
		if err := generatePolicy(rng, i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating policy %d: %v\n", i, err)
			continue
		}
		generated++
	}
	for i := 0; i < txtDocs; i++ {
		if err := generatePlainText(rng, i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating text doc %d: %v\n", i, err)
			continue
		}
		generated++
	}

	fmt.Printf("Generated %d documents successfully.\n", generated)
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

// paragraph builds a few sentences of plausible policy prose.
func paragraph(rng *rand.Rand, topic string) string {
	var b strings.Builder
	n := 2 + rng.Intn(3)
	for i := 0; i < n; i++ {
		action := pick(rng, actions)
		if strings.Contains(action, "%d") {
			action = fmt.Sprintf(action, 1+rng.Intn(30))
		}
		fmt.Fprintf(&b, "For %s matters, %s %s. ", strings.ToLower(topic), pick(rng, subjects), action)
	}
	if rng.Intn(3) == 0 {
		b.WriteString(pick(rng, caveats))
	}
	return strings.TrimSpace(b.String())
}

// generateGuide writes a markdown document with nested headings, the
// shape the hierarchy-preserving chunker is built for.
func generateGuide(rng *rand.Rand, index int) error {
	topic := pick(rng, topics)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s Guide\n\n", topic)
	fmt.Fprintf(&b, "%s\n\n", paragraph(rng, topic))

	sectionCount := 3 + rng.Intn(4)
	used := map[string]bool{}
	for i := 0; i < sectionCount; i++ {
		section := pick(rng, sections)
		if used[section] {
			continue
		}
		used[section] = true

		fmt.Fprintf(&b, "## %s\n\n%s\n\n", section, paragraph(rng, topic))
		for j := 0; j < rng.Intn(3); j++ {
			fmt.Fprintf(&b, "### Step %d\n\n%s\n\n", j+1, paragraph(rng, topic))
		}
	}

	name := fmt.Sprintf("%s-guide-%d.md", strings.ToLower(strings.ReplaceAll(topic, " ", "-")), index)
	return os.WriteFile(filepath.Join(*outputDir, "guides", name), []byte(b.String()), 0o644)
}

// generatePolicy writes a document with form-feed page breaks so page
// attribution paths get exercised.
func generatePolicy(rng *rand.Rand, index int) error {
	topic := pick(rng, topics)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s Policy\n\n", topic)
	pages := 2 + rng.Intn(4)
	for p := 0; p < pages; p++ {
		if p > 0 {
			b.WriteString("\f")
		}
		fmt.Fprintf(&b, "## Section %d\n\n%s\n\n%s\n\n",
			p+1, paragraph(rng, topic), paragraph(rng, topic))
	}

	name := fmt.Sprintf("%s-policy-%d.md", strings.ToLower(strings.ReplaceAll(topic, " ", "-")), index)
	return os.WriteFile(filepath.Join(*outputDir, "policies", name), []byte(b.String()), 0o644)
}

// generatePlainText writes a headingless text file, which falls back to
// fixed-size chunking.
func generatePlainText(rng *rand.Rand, index int) error {
	topic := pick(rng, topics)

	var b strings.Builder
	paragraphs := 4 + rng.Intn(6)
	for i := 0; i < paragraphs; i++ {
		fmt.Fprintf(&b, "%s\n\n", paragraph(rng, topic))
	}

	name := fmt.Sprintf("notes-%d.txt", index)
	return os.WriteFile(filepath.Join(*outputDir, "reference", name), []byte(b.String()), 0o644)
}
