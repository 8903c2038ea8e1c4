package embed

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// vectorMagnitude computes the magnitude of a vector
func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity computes cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dotProduct, magA, magB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(magA) * math.Sqrt(magB))
}

// fakeEmbedder is a test double that counts calls and derives a
// deterministic vector from each text. Failures can be injected per text
// or for whole batches.
type fakeEmbedder struct {
	embedCalls atomic.Int64
	batchCalls atomic.Int64
	dims       int
	model      string
	embedDelay time.Duration

	mu        sync.Mutex
	lastBatch []string
	failTexts map[string]error
	batchErr  error
}

func newFakeEmbedder(dims int) *fakeEmbedder {
	return &fakeEmbedder{dims: dims, model: "fake-model"}
}

func (f *fakeEmbedder) failText(text string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTexts == nil {
		f.failTexts = make(map[string]error)
	}
	f.failTexts[text] = err
}

func (f *fakeEmbedder) lastBatchTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lastBatch...)
}

func (f *fakeEmbedder) vectorFor(text string) []float32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum32()

	vec := make([]float32, f.dims)
	for i := range vec {
		vec[i] = float32((seed+uint32(i))%97) / 97.0
	}
	return vec
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.embedCalls.Add(1)
	if f.embedDelay > 0 {
		time.Sleep(f.embedDelay)
	}

	f.mu.Lock()
	err := f.failTexts[text]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.vectorFor(text), nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.batchCalls.Add(1)

	f.mu.Lock()
	f.lastBatch = append([]string(nil), texts...)
	batchErr := f.batchErr
	f.mu.Unlock()
	if batchErr != nil {
		return nil, batchErr
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		f.mu.Lock()
		err := f.failTexts[text]
		f.mu.Unlock()
		if err != nil {
			return nil, err
		}
		results[i] = f.vectorFor(text)
	}
	return results, nil
}

func (f *fakeEmbedder) Dimensions() int {
	return f.dims
}

func (f *fakeEmbedder) ModelName() string {
	return f.model
}

func (f *fakeEmbedder) Available(_ context.Context) bool {
	return true
}

func (f *fakeEmbedder) Close() error {
	return nil
}
