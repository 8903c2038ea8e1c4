package ignore

import (
	"os"
	"path/filepath"
)

// IgnoreFileName is the per-corpus ignore file, read from the corpus root.
const IgnoreFileName = ".documindignore"

// defaultPatterns are always excluded from the corpus. The data dir is
// on the list so DocuMind never indexes its own indexes.
var defaultPatterns = []string{
	".git/",
	".documind/",
	".documindignore",
	"node_modules/",
	".obsidian/",
	".trash/",
	"~$*",
	"*.tmp",
	".DS_Store",
}

// ForCorpus builds the matcher for a corpus root: built-in defaults,
// then .documindignore if present, then the config exclude globs. Later
// layers win, so a .documindignore negation can re-include a default.
func ForCorpus(root string, configExcludes []string) (*Matcher, error) {
	m := New()
	for _, p := range defaultPatterns {
		m.Add(p)
	}

	ignorePath := filepath.Join(root, IgnoreFileName)
	if _, err := os.Stat(ignorePath); err == nil {
		if err := m.AddFromFile(ignorePath, ""); err != nil {
			return nil, err
		}
	}

	for _, p := range configExcludes {
		m.Add(p)
	}
	return m, nil
}
