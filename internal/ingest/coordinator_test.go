package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/documind-hq/documind/internal/ignore"
	"github.com/documind-hq/documind/internal/watcher"
)

func (e *testEnv) coordinator(t *testing.T) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(e.deps(), e.root)
	require.NoError(t, err)
	return c
}

func event(op watcher.Operation, path string) watcher.FileEvent {
	return watcher.FileEvent{Path: path, Operation: op, Timestamp: time.Now()}
}

func TestNewCoordinator_RequiresRootDir(t *testing.T) {
	env := newTestEnv(t)

	_, err := NewCoordinator(env.deps(), "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "root directory is required")
}

func TestNewCoordinator_RendererIsOptional(t *testing.T) {
	env := newTestEnv(t)

	deps := env.deps()
	deps.Renderer = nil
	c, err := NewCoordinator(deps, env.root)

	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestNewCoordinator_RequiresStores(t *testing.T) {
	env := newTestEnv(t)

	deps := env.deps()
	deps.Metadata = nil
	_, err := NewCoordinator(deps, env.root)

	require.Error(t, err)
	assert.EqualError(t, err, "metadata store is required")
}

func TestCoordinator_HandleEvents_CreateIndexesDocument(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "notes.md", handbookDoc)
	c := env.coordinator(t)
	ctx := context.Background()

	n := c.HandleEvents(ctx, []watcher.FileEvent{event(watcher.OpCreate, "notes.md")})

	assert.Equal(t, 1, n)
	doc, err := env.metadata.GetDocumentByPath(ctx, "notes.md")
	require.NoError(t, err)
	require.NotNil(t, doc)

	hits, err := env.lexical.Query(ctx, "vacation", 10, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestCoordinator_HandleEvents_ModifyReindexes(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "roadmap.md", "# Roadmap\n\nThe first milestone covers billing integration and invoice export features.\n")
	c := env.coordinator(t)
	ctx := context.Background()

	c.HandleEvents(ctx, []watcher.FileEvent{event(watcher.OpCreate, "roadmap.md")})

	env.write(t, "roadmap.md", "# Roadmap\n\nThe first milestone now covers telemetry dashboards and alerting instead.\n")
	n := c.HandleEvents(ctx, []watcher.FileEvent{event(watcher.OpModify, "roadmap.md")})

	assert.Equal(t, 1, n)
	hits, err := env.lexical.Query(ctx, "telemetry", 10, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)

	stale, err := env.lexical.Query(ctx, "billing", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestCoordinator_HandleEvents_DeleteRemovesDocument(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "notes.md", securityDoc)
	c := env.coordinator(t)
	ctx := context.Background()

	c.HandleEvents(ctx, []watcher.FileEvent{event(watcher.OpCreate, "notes.md")})
	env.remove(t, "notes.md")
	n := c.HandleEvents(ctx, []watcher.FileEvent{event(watcher.OpDelete, "notes.md")})

	assert.Equal(t, 1, n)
	doc, err := env.metadata.GetDocumentByPath(ctx, "notes.md")
	require.NoError(t, err)
	assert.Nil(t, doc)

	hits, err := env.lexical.Query(ctx, "passphrase", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Zero(t, env.vector.Count())
}

func TestCoordinator_HandleEvents_DeleteUnknownPathIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	c := env.coordinator(t)

	n := c.HandleEvents(context.Background(), []watcher.FileEvent{event(watcher.OpDelete, "never-indexed.md")})

	assert.Equal(t, 1, n)
}

func TestCoordinator_HandleEvents_SkipsDirectories(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.Mkdir(filepath.Join(env.root, "guides"), 0o755))
	c := env.coordinator(t)
	ctx := context.Background()

	ev := event(watcher.OpCreate, "guides")
	ev.IsDir = true
	n := c.HandleEvents(ctx, []watcher.FileEvent{ev})

	assert.Equal(t, 1, n)
	stats, err := env.metadata.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.DocumentCount)
}

func TestCoordinator_HandleEvents_RenameIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	c := env.coordinator(t)
	ctx := context.Background()

	ev := event(watcher.OpRename, "new.md")
	ev.OldPath = "old.md"
	n := c.HandleEvents(ctx, []watcher.FileEvent{ev})

	assert.Equal(t, 1, n)
	stats, err := env.metadata.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.DocumentCount)
}

func TestCoordinator_HandleEvents_UnsupportedFileIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "archive.bin", "not a document")
	c := env.coordinator(t)
	ctx := context.Background()

	n := c.HandleEvents(ctx, []watcher.FileEvent{event(watcher.OpCreate, "archive.bin")})

	assert.Equal(t, 1, n)
	stats, err := env.metadata.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.DocumentCount)
}

func TestCoordinator_HandleEvents_ModifyVanishedFileRemovesIt(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "notes.md", handbookDoc)
	c := env.coordinator(t)
	ctx := context.Background()

	c.HandleEvents(ctx, []watcher.FileEvent{event(watcher.OpCreate, "notes.md")})

	// The file disappeared between the event and processing. The scan
	// comes back empty, so the stale entry is dropped.
	env.remove(t, "notes.md")
	n := c.HandleEvents(ctx, []watcher.FileEvent{event(watcher.OpModify, "notes.md")})

	assert.Equal(t, 1, n)
	doc, err := env.metadata.GetDocumentByPath(ctx, "notes.md")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestCoordinator_HandleEvents_IgnoreChangeReconciles(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "public.md", handbookDoc)
	env.write(t, "internal.md", securityDoc)
	c := env.coordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Reconcile(ctx))

	// New rules exclude internal.md; the ignore change event must purge
	// it from the index without any per-file events.
	env.write(t, ignore.IgnoreFileName, "internal.md\n")
	n := c.HandleEvents(ctx, []watcher.FileEvent{event(watcher.OpIgnoreChange, ignore.IgnoreFileName)})

	assert.Equal(t, 1, n)
	gone, err := env.metadata.GetDocumentByPath(ctx, "internal.md")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := env.metadata.GetDocumentByPath(ctx, "public.md")
	require.NoError(t, err)
	assert.NotNil(t, kept)

	hash, err := env.metadata.GetState(ctx, stateIgnoreHash)
	require.NoError(t, err)
	assert.Equal(t, ComputeIgnoreHash(env.root), hash)
}

func TestCoordinator_HandleEvents_ConfigChangeIsAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	c := env.coordinator(t)
	ctx := context.Background()

	n := c.HandleEvents(ctx, []watcher.FileEvent{event(watcher.OpConfigChange, ".documind.yaml")})

	assert.Equal(t, 1, n)
	stats, err := env.metadata.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.DocumentCount)
}

func TestCoordinator_HandleEvents_CancelledContextStopsEarly(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "notes.md", handbookDoc)
	c := env.coordinator(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := c.HandleEvents(ctx, []watcher.FileEvent{event(watcher.OpCreate, "notes.md")})

	assert.Zero(t, n)
}

func TestCoordinator_Reconcile_IndexesNewAndRemovesStale(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.md", handbookDoc)
	env.write(t, "b.md", securityDoc)
	c := env.coordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Reconcile(ctx))

	stats, err := env.metadata.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DocumentCount)

	env.remove(t, "b.md")
	env.write(t, "c.md", refundDoc)
	require.NoError(t, c.Reconcile(ctx))

	gone, err := env.metadata.GetDocumentByPath(ctx, "b.md")
	require.NoError(t, err)
	assert.Nil(t, gone)

	added, err := env.metadata.GetDocumentByPath(ctx, "c.md")
	require.NoError(t, err)
	assert.NotNil(t, added)

	stats, err = env.metadata.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DocumentCount)
}

func TestCoordinator_ReconcileOnStartup_FirstRunIndexesCorpus(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "handbook.md", handbookDoc)
	c := env.coordinator(t)
	ctx := context.Background()

	require.NoError(t, c.ReconcileOnStartup(ctx))

	doc, err := env.metadata.GetDocumentByPath(ctx, "handbook.md")
	require.NoError(t, err)
	assert.NotNil(t, doc)

	hash, err := env.metadata.GetState(ctx, stateIgnoreHash)
	require.NoError(t, err)
	assert.Equal(t, ComputeIgnoreHash(env.root), hash)
}

func TestCoordinator_ReconcileOnStartup_SkipsWhenIgnoreUnchanged(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.md", handbookDoc)
	c := env.coordinator(t)
	ctx := context.Background()

	require.NoError(t, c.ReconcileOnStartup(ctx))

	// The ignore file did not change, so startup must not pay for a full
	// reconcile. The new file stays unindexed until an event or an
	// explicit reconcile picks it up.
	env.write(t, "b.md", securityDoc)
	require.NoError(t, c.ReconcileOnStartup(ctx))

	doc, err := env.metadata.GetDocumentByPath(ctx, "b.md")
	require.NoError(t, err)
	assert.Nil(t, doc)

	require.NoError(t, c.Reconcile(ctx))
	doc, err = env.metadata.GetDocumentByPath(ctx, "b.md")
	require.NoError(t, err)
	assert.NotNil(t, doc)
}

func TestCoordinator_ReconcileOnStartup_AppliesNewIgnoreRules(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "public.md", handbookDoc)
	env.write(t, "internal.md", securityDoc)
	c := env.coordinator(t)
	ctx := context.Background()

	require.NoError(t, c.ReconcileOnStartup(ctx))

	// Rules changed while nothing was watching.
	env.write(t, ignore.IgnoreFileName, "internal.md\n")
	require.NoError(t, c.ReconcileOnStartup(ctx))

	gone, err := env.metadata.GetDocumentByPath(ctx, "internal.md")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := env.metadata.GetDocumentByPath(ctx, "public.md")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestCoordinator_Flush_PersistsWithoutError(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "notes.md", handbookDoc)
	c := env.coordinator(t)
	ctx := context.Background()

	c.HandleEvents(ctx, []watcher.FileEvent{event(watcher.OpCreate, "notes.md")})

	require.NoError(t, c.Flush())
}

func TestComputeIgnoreHash(t *testing.T) {
	root := t.TempDir()

	// A missing ignore file hashes as empty content.
	empty := sha256.Sum256(nil)
	assert.Equal(t, hex.EncodeToString(empty[:]), ComputeIgnoreHash(root))

	require.NoError(t, os.WriteFile(filepath.Join(root, ignore.IgnoreFileName), []byte("drafts/\n"), 0o644))
	withRules := ComputeIgnoreHash(root)
	assert.NotEqual(t, hex.EncodeToString(empty[:]), withRules)
	assert.Equal(t, withRules, ComputeIgnoreHash(root))
}
