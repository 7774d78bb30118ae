package service

import (
	"context"
	"log/slog"

	"docrag/model"
	"docrag/store"
	"docrag/types"
)

// Stage tells how the context for an answer was obtained.
type Stage int

const (
	StageNotProcessed Stage = iota
	StageHaveResults
	StageFallback
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageNotProcessed:
		return "not_processed"
	case StageHaveResults:
		return "have_results"
	case StageFallback:
		return "fallback"
	default:
		return "failed"
	}
}

type Retrieval struct {
	Stage  Stage
	Chunks []types.Chunk
	// Total is the number of chunks stored for the document.
	Total int
}

// Retriever finds the chunks of one document that are closest to a query.
//
// It first counts the document's chunks and stops when there are none, so an
// unknown or half-ingested document never costs an embedding call. When the
// vector search comes back empty although chunks exist, it falls back to the
// first chunks of the document in their original order.
type Retriever struct {
	logger        *slog.Logger
	store         store.VectorStore
	embedder      model.Embedder
	topK          int
	fallbackLimit int
	threshold     float64
}

func NewRetriever(vectors store.VectorStore, embedder model.Embedder, cfg types.RetrievalConfig) *Retriever {
	return &Retriever{
		logger:        slog.Default(),
		store:         vectors,
		embedder:      embedder,
		topK:          cfg.TopK,
		fallbackLimit: cfg.FallbackLimit,
		threshold:     cfg.SimilarityThreshold,
	}
}

func (r *Retriever) Retrieve(ctx context.Context, documentID, query string) (*Retrieval, error) {
	total, err := r.store.CountChunks(ctx, documentID)
	if err != nil {
		return nil, types.NewError(types.ErrRetrieval, "count chunks", err).WithDocument(documentID)
	}
	if total == 0 {
		return &Retrieval{Stage: StageNotProcessed}, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, withDocument(types.ErrEmbedding, "embed query", documentID, err)
	}

	found, err := r.store.SimilaritySearch(ctx, vec, documentID, r.topK)
	if err != nil {
		return nil, types.NewError(types.ErrRetrieval, "similarity search", err).WithDocument(documentID)
	}

	if len(found) == 0 {
		r.logger.Warn("vector search returned nothing, scanning chunks",
			"document_id", documentID, "stored", total)
		scanned, err := r.store.ScanChunks(ctx, documentID, r.fallbackLimit)
		if err != nil {
			return nil, types.NewError(types.ErrRetrieval, "scan chunks", err).WithDocument(documentID)
		}
		return &Retrieval{Stage: StageFallback, Chunks: scanned, Total: total}, nil
	}

	return &Retrieval{Stage: StageHaveResults, Chunks: r.aboveThreshold(found), Total: total}, nil
}

func (r *Retriever) aboveThreshold(chunks []types.Chunk) []types.Chunk {
	if r.threshold <= 0 {
		return chunks
	}
	kept := chunks[:0:0]
	for _, c := range chunks {
		if c.Similarity >= r.threshold {
			kept = append(kept, c)
		}
	}
	return kept
}
