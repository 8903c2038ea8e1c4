// Package pipeline is the embeddable facade over the full retrieval
// pipeline: ingestion, hybrid search, and citation resolution behind a
// single handle, for programs that want documind's behavior without
// shelling out to the CLI or speaking MCP.
//
// # Architecture
//
// A Pipeline owns one corpus directory and the index state under its
// .documind/ data directory:
//
//	┌────────────────┐
//	│    Pipeline    │  ← This package
//	└───────┬────────┘
//	        │
//	   ┌────┴─────┬───────────┐
//	   │          │           │
//	┌──▼───┐  ┌───▼────┐  ┌───▼───┐
//	│Ingest│  │ Search │  │ Cite  │
//	└──────┘  └────────┘  └───────┘
//
// # Usage
//
// Open a corpus, ingest it, and search:
//
//	p, err := pipeline.Open(ctx, "/path/to/docs", pipeline.WithOffline())
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	if _, err := p.Ingest(ctx, pipeline.IngestOptions{}); err != nil {
//	    return err
//	}
//
//	results, err := p.Search(ctx, "refund policy", pipeline.SearchOptions{Limit: 5})
//
// Citations verify that an answer's references point at retrieved
// content:
//
//	cites, err := p.Cite(ctx, "refund policy", []pipeline.Span{
//	    {ChunkID: results.Items[0].ChunkID},
//	}, 10)
//
// # Thread Safety
//
// Search, Cite and Stats are safe for concurrent use. Ingest takes an
// exclusive cross-process lock on the data directory and must not run
// concurrently with another Ingest on the same corpus.
package pipeline
