package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"docrag/store"
	"docrag/types"

	"github.com/google/uuid"
)

const (
	NotProcessedAnswer = "This document has not been processed yet. Please upload it again before asking questions."
	ApologyAnswer      = "Sorry, something went wrong while answering your question. Please try again later."
)

const excerptRunes = 200

type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, question string, chunks []types.Chunk) (string, error)
}

type AskResult struct {
	Answer  string
	Stage   Stage
	Sources []types.SourceRef
	// Log is the outcome of recording the turn in the chat history.
	Log types.Outcome[struct{}]
}

func (r *AskResult) Response() types.AskResponse {
	sources := r.Sources
	if sources == nil {
		sources = []types.SourceRef{}
	}
	return types.AskResponse{Answer: r.Answer, Stage: r.Stage.String(), Sources: sources}
}

// Querier answers one question about one document.
type Querier struct {
	logger    *slog.Logger
	retriever *Retriever
	generator AnswerGenerator
	chats     store.ChatStore
}

func NewQuerier(retriever *Retriever, generator AnswerGenerator, chats store.ChatStore) *Querier {
	return &Querier{
		logger:    slog.Default(),
		retriever: retriever,
		generator: generator,
		chats:     chats,
	}
}

// Ask returns typed errors for every failure.
func (q *Querier) Ask(ctx context.Context, params types.AskParams) (*AskResult, error) {
	if err := types.ValidateErr(&params); err != nil {
		return nil, err
	}
	documentID := types.CanonicalDocumentID(params.DocumentID)
	start := time.Now()

	retrieval, err := q.retriever.Retrieve(ctx, documentID, params.Query)
	if err != nil {
		return nil, err
	}
	if retrieval.Stage == StageNotProcessed {
		q.logger.Info("document has no chunks", "document_id", documentID)
		return &AskResult{
			Answer: NotProcessedAnswer,
			Stage:  StageNotProcessed,
			Log:    types.Skipped[struct{}](),
		}, nil
	}

	answer, err := q.generator.GenerateAnswer(ctx, params.Query, retrieval.Chunks)
	if err != nil {
		return nil, withDocument(types.ErrGeneration, "generate answer", documentID, err)
	}

	result := &AskResult{
		Answer:  answer,
		Stage:   retrieval.Stage,
		Sources: sourceRefs(retrieval.Chunks),
		Log:     q.record(ctx, documentID, params, answer),
	}

	q.logger.Info("question answered",
		"document_id", documentID,
		"stage", retrieval.Stage.String(),
		"chunks", len(retrieval.Chunks),
		"took", time.Since(start))
	return result, nil
}

// AskSafe behaves like Ask but turns internal failures into an apologetic
// answer. Validation errors are still returned.
func (q *Querier) AskSafe(ctx context.Context, params types.AskParams) (*AskResult, error) {
	result, err := q.Ask(ctx, params)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, types.ErrValidation) {
		return nil, err
	}
	q.logger.Error("failed to answer question",
		"document_id", params.DocumentID,
		"query", params.Query,
		"err", err)
	return &AskResult{
		Answer: ApologyAnswer,
		Stage:  StageFailed,
		Log:    types.Skipped[struct{}](),
	}, nil
}

func (q *Querier) record(ctx context.Context, documentID string, params types.AskParams, answer string) types.Outcome[struct{}] {
	docID, err := uuid.Parse(documentID)
	if err != nil {
		return types.Failed[struct{}](err)
	}
	err = q.chats.AppendTurn(ctx, types.ChatTurn{
		DocumentID:       docID,
		Owner:            params.Owner,
		UserMessage:      params.Query,
		AssistantMessage: answer,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		q.logger.Warn("failed to save chat history", "document_id", documentID, "query", params.Query, "err", err)
		return types.Failed[struct{}](err)
	}
	return types.Succeeded(struct{}{})
}

func sourceRefs(chunks []types.Chunk) []types.SourceRef {
	refs := make([]types.SourceRef, len(chunks))
	for i, c := range chunks {
		excerpt := []rune(c.Content)
		if len(excerpt) > excerptRunes {
			excerpt = append(excerpt[:excerptRunes], '…')
		}
		refs[i] = types.SourceRef{
			ChunkID:    c.ID.String(),
			Index:      c.Index,
			Page:       c.Metadata.Get(types.MetaPage),
			Similarity: c.Similarity,
			Excerpt:    string(excerpt),
		}
	}
	return refs
}
