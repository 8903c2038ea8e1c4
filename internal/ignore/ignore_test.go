package ignore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Pattern matching
// =============================================================================

func TestMatcher_SimplePatterns(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		path     string
		isDir    bool
		expected bool
	}{
		{name: "exact filename match", pattern: "TODO.md", path: "TODO.md", isDir: false, expected: true},
		{name: "exact filename no match", pattern: "TODO.md", path: "DONE.md", isDir: false, expected: false},
		{name: "filename in subdir", pattern: "TODO.md", path: "docs/TODO.md", isDir: false, expected: true},
		{name: "filename deep nested", pattern: "TODO.md", path: "a/b/c/TODO.md", isDir: false, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			m.Add(tt.pattern)
			assert.Equal(t, tt.expected, m.Match(tt.path, tt.isDir))
		})
	}
}

func TestMatcher_WildcardPatterns(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		path     string
		isDir    bool
		expected bool
	}{
		{name: "*.tmp matches tmp", pattern: "*.tmp", path: "report.tmp", isDir: false, expected: true},
		{name: "*.tmp matches nested tmp", pattern: "*.tmp", path: "notes/report.tmp", isDir: false, expected: true},
		{name: "*.tmp no match md", pattern: "*.tmp", path: "report.md", isDir: false, expected: false},

		{name: "draft* matches prefix", pattern: "draft*", path: "draft-q3.md", isDir: false, expected: true},
		{name: "draft* no match others", pattern: "draft*", path: "final-q3.md", isDir: false, expected: false},

		{name: "v?.md matches single char", pattern: "v?.md", path: "v1.md", isDir: false, expected: true},
		{name: "v?.md no match two chars", pattern: "v?.md", path: "v12.md", isDir: false, expected: false},

		{name: "office lock files", pattern: "~$*", path: "~$budget.xlsx", isDir: false, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			m.Add(tt.pattern)
			assert.Equal(t, tt.expected, m.Match(tt.path, tt.isDir))
		})
	}
}

func TestMatcher_DoubleStarPatterns(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		path     string
		isDir    bool
		expected bool
	}{
		{name: "**/archive at root", pattern: "**/archive", path: "archive", isDir: true, expected: true},
		{name: "**/archive nested", pattern: "**/archive", path: "docs/2023/archive", isDir: true, expected: true},
		{name: "leading ** extension", pattern: "**/*.bak", path: "a/b/old.bak", isDir: false, expected: true},
		{name: "trailing **", pattern: "drafts/**", path: "drafts/q1/plan.md", isDir: false, expected: true},
		{name: "trailing ** no match sibling", pattern: "drafts/**", path: "published/plan.md", isDir: false, expected: false},
		{name: "middle **", pattern: "docs/**/internal", path: "docs/a/b/internal", isDir: true, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			m.Add(tt.pattern)
			assert.Equal(t, tt.expected, m.Match(tt.path, tt.isDir))
		})
	}
}

func TestMatcher_DirOnlyPatterns(t *testing.T) {
	m := New()
	m.Add("temp/")

	// Matches the directory itself and files inside it, anywhere
	assert.True(t, m.Match("temp", true))
	assert.True(t, m.Match("temp/notes.md", false))
	assert.True(t, m.Match("docs/temp/notes.md", false))
	// A plain file named temp is not a directory
	assert.False(t, m.Match("temp", false))
}

func TestMatcher_AnchoredPatterns(t *testing.T) {
	m := New()
	m.Add("/build")

	assert.True(t, m.Match("build", true))
	assert.False(t, m.Match("docs/build", true))

	// Internal slash anchors too: "doc/frotz" means "/doc/frotz"
	m2 := New()
	m2.Add("doc/frotz")
	assert.True(t, m2.Match("doc/frotz", true))
	assert.False(t, m2.Match("sub/doc/frotz", true))
}

func TestMatcher_Negation(t *testing.T) {
	m := New()
	m.Add("*.log")
	m.Add("!important.log")

	assert.True(t, m.Match("debug.log", false))
	assert.False(t, m.Match("important.log", false))

	// Later rules win: re-excluding after a negation sticks
	m.Add("important.log")
	assert.True(t, m.Match("important.log", false))
}

func TestMatcher_EscapedCharacters(t *testing.T) {
	m := New()
	m.Add(`\#notes.md`)
	m.Add(`\!urgent.md`)

	assert.True(t, m.Match("#notes.md", false))
	assert.True(t, m.Match("!urgent.md", false))
}

func TestMatcher_CommentsAndBlanksSkipped(t *testing.T) {
	m := New()
	m.Add("# just a comment")
	m.Add("")
	m.Add("   ")

	assert.Equal(t, 0, m.Len())
	assert.False(t, m.Match("anything.md", false))
}

func TestMatcher_BaseScoping(t *testing.T) {
	m := New()
	m.AddWithBase("*.secret", "vault")

	assert.True(t, m.Match("vault/keys.secret", false))
	assert.False(t, m.Match("public/keys.secret", false))
}

func TestMatcher_AddFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, IgnoreFileName)
	content := "# corpus ignores\n*.tmp\ndrafts/\n!drafts/keep.md\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	m := New()
	require.NoError(t, m.AddFromFile(path, ""))

	assert.Equal(t, 3, m.Len()) // comment skipped
	assert.True(t, m.Match("scratch.tmp", false))
	assert.True(t, m.Match("drafts/wip.md", false))
	assert.False(t, m.Match("drafts/keep.md", false))
}

func TestMatcher_AddFromFile_Missing(t *testing.T) {
	m := New()
	err := m.AddFromFile(filepath.Join(t.TempDir(), "absent"), "")
	require.Error(t, err)
}

func TestMatcher_ConcurrentUse(t *testing.T) {
	m := New()
	m.Add("*.tmp")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Match("docs/file.tmp", false)
				m.Add("*.bak")
			}
		}()
	}
	wg.Wait()

	assert.True(t, m.Match("a.bak", false))
}

// =============================================================================
// Corpus composition
// =============================================================================

func TestForCorpus_Defaults(t *testing.T) {
	m, err := ForCorpus(t.TempDir(), nil)
	require.NoError(t, err)

	assert.True(t, m.Match(".git/config", false))
	assert.True(t, m.Match(".documind/metadata.db", false))
	assert.True(t, m.Match("notes/.obsidian/workspace.json", false))
	assert.True(t, m.Match("~$budget.xlsx", false))
	assert.True(t, m.Match(".DS_Store", false))

	assert.False(t, m.Match("docs/refund-policy.md", false))
}

func TestForCorpus_ReadsIgnoreFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, IgnoreFileName),
		[]byte("drafts/\n*.bak\n"), 0644))

	m, err := ForCorpus(root, nil)
	require.NoError(t, err)

	assert.True(t, m.Match("drafts/plan.md", false))
	assert.True(t, m.Match("old.bak", false))
	// The ignore file keeps itself out of the index
	assert.True(t, m.Match(IgnoreFileName, false))
}

func TestForCorpus_ConfigExcludesApply(t *testing.T) {
	m, err := ForCorpus(t.TempDir(), []string{"**/archive/**", "*.csv"})
	require.NoError(t, err)

	assert.True(t, m.Match("docs/archive/2020/old.md", false))
	assert.True(t, m.Match("data.csv", false))
	assert.False(t, m.Match("docs/current.md", false))
}

func TestForCorpus_IgnoreFileCanReIncludeDefault(t *testing.T) {
	// Given: the corpus wants node_modules indexed (a docs site vendoring
	// its own rendered output, say)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, IgnoreFileName),
		[]byte("!node_modules/\n"), 0644))

	m, err := ForCorpus(root, nil)
	require.NoError(t, err)

	// Then: the later negation beats the built-in default
	assert.False(t, m.Match("node_modules", true))
}
