package search

import (
	"math"
	"sort"

	"github.com/documind-hq/documind/internal/store"
)

// Fusion methods.
const (
	// FusionMethodRRF normalizes by reciprocal rank. Robust to score
	// scale differences between branches because only positions matter.
	FusionMethodRRF = "rrf"

	// FusionMethodMinMax normalizes raw branch scores to [0, 1] within
	// each result list. Preserves score gaps but is sensitive to
	// outliers.
	FusionMethodMinMax = "minmax"
)

// DefaultRRFConstant is the standard reciprocal-rank smoothing constant.
const DefaultRRFConstant = 60

// Fuser merges lexical and vector branch results into one ranked list.
type Fuser struct {
	method string
	k      int
}

// NewFuser creates a fuser from engine configuration. Unknown methods fall
// back to RRF; a non-positive constant falls back to the default.
func NewFuser(cfg EngineConfig) *Fuser {
	method := cfg.FusionMethod
	if method != FusionMethodMinMax {
		method = FusionMethodRRF
	}
	k := cfg.RRFConstant
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &Fuser{method: method, k: k}
}

// Fuse combines the two branch lists into a single ranking. Branch inputs
// must already be ordered best-first, as the index adapters return them.
//
// Each chunk's fused score is w_lex*lex + w_vec*vec over normalized branch
// scores in [0, 1]. A chunk absent from a branch takes 0 from that branch;
// absence is never an extra penalty beyond the missing contribution.
//
// The output order is deterministic: fused score, then raw vector score,
// then document position, then chunk ID.
func (f *Fuser) Fuse(lex []*store.LexicalResult, vec []*store.VectorResult, weights Weights) []*Result {
	byID := make(map[string]*Result, len(lex)+len(vec))
	getOrCreate := func(chunkID string) *Result {
		if r, ok := byID[chunkID]; ok {
			return r
		}
		r := &Result{}
		byID[chunkID] = r
		return r
	}

	for i, lr := range lex {
		r := getOrCreate(lr.ChunkID)
		r.LexScore = lr.Score
		r.LexRank = i + 1
		r.MatchedTerms = lr.MatchedTerms
	}
	for i, vr := range vec {
		r := getOrCreate(vr.ChunkID)
		r.VecScore = float64(vr.Score)
		r.VecRank = i + 1
	}

	var lexNorm, vecNorm map[string]float64
	switch f.method {
	case FusionMethodMinMax:
		lexNorm = minMaxLexical(lex)
		vecNorm = minMaxVector(vec)
	default:
		lexNorm = rrfLexical(lex, f.k)
		vecNorm = rrfVector(vec, f.k)
	}

	fused := make([]*Result, 0, len(byID))
	for chunkID, r := range byID {
		r.InBothBranches = r.LexRank > 0 && r.VecRank > 0
		r.Score = weights.Lexical*lexNorm[chunkID] + weights.Vector*vecNorm[chunkID]
		// The map key is authoritative; stash it on the result so sorting
		// and enrichment can run before chunk records are loaded.
		r.Chunk = &store.ChunkRecord{ID: chunkID}
		fused = append(fused, r)
	}

	sort.Slice(fused, func(i, j int) bool {
		a, b := fused[i], fused[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.VecScore != b.VecScore {
			return a.VecScore > b.VecScore
		}
		sa, sb := seqOrMax(a.Chunk.ID), seqOrMax(b.Chunk.ID)
		if sa != sb {
			return sa < sb
		}
		return a.Chunk.ID < b.Chunk.ID
	})

	return fused
}

// rrfLexical maps chunk IDs to normalized reciprocal-rank scores. Rank 1
// scores 1.0 and later ranks decay toward 0, keeping the blend in [0, 1].
func rrfLexical(results []*store.LexicalResult, k int) map[string]float64 {
	norm := make(map[string]float64, len(results))
	for i, r := range results {
		norm[r.ChunkID] = float64(k+1) / float64(k+i+1)
	}
	return norm
}

func rrfVector(results []*store.VectorResult, k int) map[string]float64 {
	norm := make(map[string]float64, len(results))
	for i, r := range results {
		norm[r.ChunkID] = float64(k+1) / float64(k+i+1)
	}
	return norm
}

// minMaxLexical rescales raw BM25 scores into [0, 1] within the list. A
// degenerate list (all scores equal) maps to 1.0: every result is the best
// available.
func minMaxLexical(results []*store.LexicalResult) map[string]float64 {
	norm := make(map[string]float64, len(results))
	if len(results) == 0 {
		return norm
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, r := range results {
		lo = math.Min(lo, r.Score)
		hi = math.Max(hi, r.Score)
	}
	for _, r := range results {
		if hi == lo {
			norm[r.ChunkID] = 1.0
		} else {
			norm[r.ChunkID] = (r.Score - lo) / (hi - lo)
		}
	}
	return norm
}

func minMaxVector(results []*store.VectorResult) map[string]float64 {
	norm := make(map[string]float64, len(results))
	if len(results) == 0 {
		return norm
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, r := range results {
		lo = math.Min(lo, float64(r.Score))
		hi = math.Max(hi, float64(r.Score))
	}
	for _, r := range results {
		if hi == lo {
			norm[r.ChunkID] = 1.0
		} else {
			norm[r.ChunkID] = (float64(r.Score) - lo) / (hi - lo)
		}
	}
	return norm
}

// seqOrMax returns the chunk's document position for tie-breaking, sorting
// IDs without a parseable sequence after those with one.
func seqOrMax(chunkID string) int {
	if seq := sequenceFromChunkID(chunkID); seq >= 0 {
		return seq
	}
	return math.MaxInt
}
