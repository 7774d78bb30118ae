package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docrag/chunker"
	"docrag/loader"
	"docrag/model"
	"docrag/store"
	"docrag/types"

	"github.com/google/uuid"
)

// Summarizer writes a summary of already extracted document text.
type Summarizer interface {
	Summarize(ctx context.Context, text, language string) (string, error)
}

type IngestOptions struct {
	Summarize bool
	// Language of the summary; empty means the document's own language.
	Language string
}

type IngestResult struct {
	DocumentID string
	ChunkCount int
	Summary    types.Outcome[string]
}

// Ingestor is the only place where documents are created.
type Ingestor struct {
	logger     *slog.Logger
	docs       store.DocumentStore
	vectors    store.VectorStore
	loader     loader.Loader
	splitter   *chunker.Splitter
	embedder   model.Embedder
	summarizer Summarizer
}

func NewIngestor(
	docs store.DocumentStore,
	vectors store.VectorStore,
	l loader.Loader,
	splitter *chunker.Splitter,
	embedder model.Embedder,
	summarizer Summarizer,
) *Ingestor {
	return &Ingestor{
		logger:     slog.Default(),
		docs:       docs,
		vectors:    vectors,
		loader:     l,
		splitter:   splitter,
		embedder:   embedder,
		summarizer: summarizer,
	}
}

// Ingest loads, chunks, embeds and stores one source. A failure after the
// document row was created removes that row again.
func (s *Ingestor) Ingest(ctx context.Context, src types.Source, opts IngestOptions) (*IngestResult, error) {
	start := time.Now()
	if strings.TrimSpace(src.Owner) == "" {
		return nil, types.NewValidationError(map[string]string{"Owner": "is required"})
	}

	pages, err := s.loader.Load(ctx, src)
	if err != nil {
		s.logger.Error("failed to load source", "source", sourceLabel(src), "err", err)
		return nil, err
	}

	doc := &types.Document{
		ID:         uuid.New(),
		Name:       documentName(src, pages),
		Content:    joinPages(pages),
		Owner:      src.Owner,
		SourceKind: src.Kind,
		Source:     sourceLabel(src),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.docs.CreateDocument(ctx, doc); err != nil {
		s.logger.Error("failed to save document", "source", doc.Source, "err", err)
		return nil, types.NewError(types.ErrStorage, "save document", err)
	}
	docID := doc.ID.String()

	count, err := s.storeChunks(ctx, doc.ID, pages)
	if err != nil {
		s.logger.Error("ingestion failed, removing document", "document_id", docID, "err", err)
		s.compensate(ctx, doc.ID)
		return nil, err
	}

	result := &IngestResult{
		DocumentID: docID,
		ChunkCount: count,
		Summary:    types.Skipped[string](),
	}
	if opts.Summarize {
		result.Summary = s.summarize(ctx, doc, opts.Language)
	}

	s.logger.Info("document ingested",
		"document_id", docID,
		"name", doc.Name,
		"pages", len(pages),
		"chunks", count,
		"took", time.Since(start))
	return result, nil
}

func (s *Ingestor) storeChunks(ctx context.Context, docID uuid.UUID, pages []types.Page) (int, error) {
	id := docID.String()

	chunks := s.splitter.SplitPages(docID, pages)
	if len(chunks) == 0 {
		return 0, types.NewError(types.ErrLoad, "chunk document", errors.New("no chunks produced")).WithDocument(id)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, withDocument(types.ErrEmbedding, "embed chunks", id, err)
	}
	if len(vecs) != len(chunks) {
		return 0, types.NewError(types.ErrEmbedding, "embed chunks",
			fmt.Errorf("got %d embeddings for %d chunks", len(vecs), len(chunks))).WithDocument(id)
	}
	for i := range chunks {
		chunks[i].Embedding = vecs[i]
	}

	if err := s.vectors.UpsertChunks(ctx, chunks); err != nil {
		return 0, types.NewError(types.ErrStorage, "upsert chunks", err).WithDocument(id)
	}
	return len(chunks), nil
}

func (s *Ingestor) compensate(ctx context.Context, id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.docs.DeleteDocument(ctx, id); err != nil {
		s.logger.Error("failed to remove partially ingested document", "document_id", id, "err", err)
	}
}

func (s *Ingestor) summarize(ctx context.Context, doc *types.Document, language string) types.Outcome[string] {
	if s.summarizer == nil {
		return types.Skipped[string]()
	}
	summary, err := s.summarizer.Summarize(ctx, doc.Content, language)
	if err != nil {
		s.logger.Warn("summary failed, continuing without it", "document_id", doc.ID, "err", err)
		return types.Failed[string](err)
	}
	return types.Succeeded(summary)
}

// ListDocuments returns the owner's documents, newest first.
func (s *Ingestor) ListDocuments(ctx context.Context, owner string) ([]types.DocumentInfo, error) {
	docs, err := s.docs.ListDocuments(ctx, owner)
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "list documents", err)
	}
	out := make([]types.DocumentInfo, len(docs))
	for i, d := range docs {
		out[i] = d.Info()
	}
	return out, nil
}

func (s *Ingestor) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	docID, err := parseDocumentID(id)
	if err != nil {
		return nil, err
	}
	doc, err := s.docs.GetDocument(ctx, docID)
	if errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "get document", err).WithDocument(id)
	}
	return doc, nil
}

// DeleteDocument removes a document with its chunks and chat history.
func (s *Ingestor) DeleteDocument(ctx context.Context, id string) error {
	docID, err := parseDocumentID(id)
	if err != nil {
		return err
	}
	err = s.docs.DeleteDocument(ctx, docID)
	if errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return types.NewError(types.ErrStorage, "delete document", err).WithDocument(id)
	}
	s.logger.Info("document deleted", "document_id", docID)
	return nil
}

func parseDocumentID(id string) (uuid.UUID, error) {
	docID, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return uuid.Nil, types.NewValidationError(map[string]string{"DocumentID": "must be a UUID"})
	}
	return docID, nil
}

func joinPages(pages []types.Page) string {
	texts := make([]string, 0, len(pages))
	for _, p := range pages {
		if t := strings.TrimSpace(p.Text); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, "\n\n")
}

func documentName(src types.Source, pages []types.Page) string {
	if src.Kind == types.SourceLink {
		for _, p := range pages {
			if title := p.Metadata[types.MetaTitle]; title != "" {
				return title
			}
		}
		return src.URL
	}
	if src.Name == "" {
		return "document"
	}
	return loader.DisplayName(src.Name)
}

func sourceLabel(src types.Source) string {
	if src.Kind == types.SourceLink {
		return src.URL
	}
	return src.Name
}
