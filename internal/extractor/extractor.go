// Package extractor turns completed conversation rounds into structured
// facts asynchronously, off the user-visible response path. A Trigger
// decides when a session's pending rounds are worth mining and enqueues a
// queue.ExtractionJob; a Runner (consumed by queue.Worker) does the actual
// mining: load the target rounds plus nearby context, ask the language
// model for structured candidates, cluster and dedup them, and write
// survivors through store.ApplyExtraction.
package extractor

import "context"

// candidate is the language model's proposal for one distilled fact, prior
// to embedding, clustering, and dedup/contradiction resolution against the
// session's existing facts.
type candidate struct {
	Type        string         `json:"type"`
	Content     string         `json:"content"`
	Relations   map[string]any `json:"relations"`
	Confidence  float64        `json:"confidence"`
	Contradicts string         `json:"contradicts,omitempty"`
}

// candidateBatch is the strict JSON contract the extraction prompt asks the
// model to return: a flat list of candidates, no prose.
type candidateBatch struct {
	Candidates []candidate `json:"candidates"`
}

// textEmbedder abstracts the embedding HTTP client so Runner can be tested
// without a live embedding endpoint.
type textEmbedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}
