package service

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync/atomic"
	"testing"

	"docrag/app/agent"
	"docrag/chunker"
	"docrag/model"
	"docrag/store"
	"docrag/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dim = 16

// fakeEmbedder hashes words into a bag-of-words vector.
type fakeEmbedder struct {
	calls atomic.Int32
	err   error
}

func (f *fakeEmbedder) Dimension() int { return dim }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return bagOfWords(text), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func bagOfWords(text string) []float32 {
	vec := make([]float32, dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(w, ".,?!:")))
		vec[h.Sum32()%dim]++
	}
	vec[0] += 0.01
	return vec
}

// fakeChat answers with the first line of the prompt's context.
type fakeChat struct {
	calls atomic.Int32
	err   error
}

func (f *fakeChat) Complete(_ context.Context, req model.Completion) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	if strings.Contains(req.Prompt, "Document:\n") {
		return "summary", nil
	}
	_, rest, _ := strings.Cut(req.Prompt, "Context:\n")
	line, _, _ := strings.Cut(rest, "\n")
	return line, nil
}

type fakeLoader struct {
	pages []types.Page
	err   error
}

func (f fakeLoader) Load(context.Context, types.Source) ([]types.Page, error) {
	return f.pages, f.err
}

type failingSummarizer struct{}

func (failingSummarizer) Summarize(context.Context, string, string) (string, error) {
	return "", types.NewError(types.ErrGeneration, "summarize", errors.New("model down"))
}

// blindStore finds nothing by similarity so the fallback path runs.
type blindStore struct{ *store.MemoryStore }

func (blindStore) SimilaritySearch(context.Context, []float32, string, int) ([]types.Chunk, error) {
	return []types.Chunk{}, nil
}

type failingUpserts struct{ *store.MemoryStore }

func (failingUpserts) UpsertChunks(context.Context, []types.Chunk) error {
	return &types.UpsertError{Failed: []int{0}, Err: errors.New("connection reset")}
}

type fixture struct {
	store    *store.MemoryStore
	embedder *fakeEmbedder
	chat     *fakeChat
	ingestor *Ingestor
	querier  *Querier
}

func newFixture(t *testing.T, pages []types.Page) *fixture {
	t.Helper()
	f := &fixture{
		store:    store.NewMemoryStore(dim),
		embedder: &fakeEmbedder{},
		chat:     &fakeChat{},
	}
	a := agent.New(f.chat, agent.EstimateCounter{}, types.LLMConfig{MaxContextTokens: 4000, SummaryTokens: 4000})
	f.ingestor = NewIngestor(f.store, f.store, fakeLoader{pages: pages},
		chunker.New(chunker.WithChunkSize(1000), chunker.WithOverlap(200)), f.embedder, a)
	f.querier = NewQuerier(
		NewRetriever(f.store, f.embedder, types.RetrievalConfig{TopK: 5, FallbackLimit: 3}), a, f.store)
	return f
}

func pdfSource() types.Source {
	return types.Source{Kind: types.SourcePDF, Name: "quarterly_report.pdf", Owner: "default-user", Reader: strings.NewReader("")}
}

func threePages() []types.Page {
	page := strings.Repeat("revenue grew in every region ", 29)[:833]
	pages := make([]types.Page, 3)
	for i := range pages {
		pages[i] = types.Page{Text: page, Metadata: map[string]string{types.MetaSource: "pdf", types.MetaPage: string(rune('1' + i))}}
	}
	return pages
}

func TestIngest_ThreePagePDF(t *testing.T) {
	f := newFixture(t, threePages())
	ctx := context.Background()

	res, err := f.ingestor.Ingest(ctx, pdfSource(), IngestOptions{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.ChunkCount, 3)
	assert.LessOrEqual(t, res.ChunkCount, 4)
	assert.True(t, res.Summary.Skipped)

	chunks, err := f.store.ScanChunks(ctx, res.DocumentID, 10)
	require.NoError(t, err)
	require.Len(t, chunks, res.ChunkCount)
	for _, c := range chunks {
		assert.Equal(t, res.DocumentID, c.Metadata.DocumentID)
		assert.Equal(t, "pdf", c.Metadata.Get(types.MetaSource))
	}

	found, err := f.store.SimilaritySearch(ctx, bagOfWords("revenue"), res.DocumentID, 5)
	require.NoError(t, err)
	assert.NotEmpty(t, found)

	doc, err := f.ingestor.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "quarterly report", doc.Name)
	assert.Equal(t, types.SourcePDF, doc.SourceKind)
	assert.Equal(t, 3*833+2*2, len(doc.Content))
}

func TestAsk_GroundedAnswerIsLogged(t *testing.T) {
	f := newFixture(t, []types.Page{{Text: "Title: Quarterly Report\nRevenue grew by 12% compared to last year."}})
	ctx := context.Background()

	res, err := f.ingestor.Ingest(ctx, pdfSource(), IngestOptions{})
	require.NoError(t, err)

	ask, err := f.querier.Ask(ctx, types.AskParams{DocumentID: res.DocumentID, Query: "What is the title?", Owner: "default-user"})
	require.NoError(t, err)
	assert.Contains(t, ask.Answer, "Quarterly Report")
	assert.Equal(t, StageHaveResults, ask.Stage)
	assert.True(t, ask.Log.OK())
	require.Len(t, ask.Sources, 1)

	turns := f.store.Turns(uuid.MustParse(res.DocumentID))
	require.Len(t, turns, 1)
	assert.Equal(t, "What is the title?", turns[0].UserMessage)
	assert.Equal(t, ask.Answer, turns[0].AssistantMessage)
	assert.Equal(t, "default-user", turns[0].Owner)
}

func TestAsk_UnknownDocumentIsNotProcessed(t *testing.T) {
	f := newFixture(t, nil)

	ask, err := f.querier.Ask(context.Background(), types.AskParams{DocumentID: "nonexistent-id", Query: "anything"})
	require.NoError(t, err)
	assert.Equal(t, NotProcessedAnswer, ask.Answer)
	assert.Equal(t, StageNotProcessed, ask.Stage)
	assert.True(t, ask.Log.Skipped)
	assert.Zero(t, f.chat.calls.Load())
	assert.Zero(t, f.embedder.calls.Load())
	assert.Empty(t, ask.Sources)
}

func TestAsk_ZeroChunksSkipsEmbedding(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	doc := &types.Document{ID: uuid.New(), Owner: "u", SourceKind: types.SourcePDF}
	require.NoError(t, f.store.CreateDocument(ctx, doc))

	ask, err := f.querier.Ask(ctx, types.AskParams{DocumentID: doc.ID.String(), Query: "anything"})
	require.NoError(t, err)
	assert.Equal(t, NotProcessedAnswer, ask.Answer)
	assert.Zero(t, f.embedder.calls.Load())
	assert.Zero(t, f.chat.calls.Load())
	assert.Empty(t, f.store.Turns(doc.ID))
}

func TestAsk_CanonicalizesDocumentID(t *testing.T) {
	f := newFixture(t, []types.Page{{Text: "Title: Quarterly Report"}})
	ctx := context.Background()
	res, err := f.ingestor.Ingest(ctx, pdfSource(), IngestOptions{})
	require.NoError(t, err)

	ask, err := f.querier.Ask(ctx, types.AskParams{DocumentID: " " + strings.ToUpper(res.DocumentID) + " ", Query: "title?"})
	require.NoError(t, err)
	assert.Equal(t, StageHaveResults, ask.Stage)
}

func TestRetriever_FallbackScan(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore(dim)
	emb := &fakeEmbedder{}
	ingestor := NewIngestor(mem, mem, fakeLoader{pages: threePages()}, chunker.New(), emb, nil)
	res, err := ingestor.Ingest(ctx, pdfSource(), IngestOptions{})
	require.NoError(t, err)

	r := NewRetriever(blindStore{mem}, emb, types.RetrievalConfig{TopK: 5, FallbackLimit: 2})
	got, err := r.Retrieve(ctx, res.DocumentID, "something unrelated")
	require.NoError(t, err)
	assert.Equal(t, StageFallback, got.Stage)
	assert.Len(t, got.Chunks, 2)
	assert.Equal(t, 0, got.Chunks[0].Index)
	assert.Equal(t, res.ChunkCount, got.Total)
}

func TestRetriever_ThresholdCanEmptyResults(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore(dim)
	emb := &fakeEmbedder{}
	chat := &fakeChat{}
	ingestor := NewIngestor(mem, mem, fakeLoader{pages: []types.Page{{Text: "alpha beta gamma"}}}, chunker.New(), emb, nil)
	res, err := ingestor.Ingest(ctx, pdfSource(), IngestOptions{})
	require.NoError(t, err)

	r := NewRetriever(mem, emb, types.RetrievalConfig{TopK: 5, FallbackLimit: 3, SimilarityThreshold: 0.9999})
	got, err := r.Retrieve(ctx, res.DocumentID, "completely different words")
	require.NoError(t, err)
	assert.Equal(t, StageHaveResults, got.Stage)
	assert.Empty(t, got.Chunks)

	q := NewQuerier(r, agent.New(chat, nil, types.LLMConfig{}), mem)
	ask, err := q.Ask(ctx, types.AskParams{DocumentID: res.DocumentID, Query: "completely different words"})
	require.NoError(t, err)
	assert.Equal(t, agent.NoInformationAnswer, ask.Answer)
	assert.Zero(t, chat.calls.Load())
}

func TestIngest_SummaryFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore(dim)
	ingestor := NewIngestor(mem, mem, fakeLoader{pages: []types.Page{{Text: "some text"}}}, chunker.New(), &fakeEmbedder{}, failingSummarizer{})

	res, err := ingestor.Ingest(ctx, pdfSource(), IngestOptions{Summarize: true})
	require.NoError(t, err)
	assert.NotEmpty(t, res.DocumentID)
	assert.Nil(t, res.Summary.Ptr())
	assert.ErrorIs(t, res.Summary.Err, types.ErrGeneration)
}

func TestIngest_Summary(t *testing.T) {
	f := newFixture(t, []types.Page{{Text: "some text"}})
	res, err := f.ingestor.Ingest(context.Background(), pdfSource(), IngestOptions{Summarize: true, Language: "German"})
	require.NoError(t, err)
	require.NotNil(t, res.Summary.Ptr())
	assert.Equal(t, "summary", *res.Summary.Ptr())
}

func TestIngest_EmbeddingFailureRemovesDocument(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore(dim)
	emb := &fakeEmbedder{err: types.NewError(types.ErrEmbedding, "embed", errors.New("429"))}
	ingestor := NewIngestor(mem, mem, fakeLoader{pages: []types.Page{{Text: "some text"}}}, chunker.New(), emb, nil)

	_, err := ingestor.Ingest(ctx, pdfSource(), IngestOptions{})
	assert.ErrorIs(t, err, types.ErrEmbedding)

	var typed *types.Error
	require.ErrorAs(t, err, &typed)
	assert.NotEmpty(t, typed.DocumentID)

	docs, err := mem.ListDocuments(ctx, "default-user")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestIngest_UpsertFailureIsStorageError(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore(dim)
	ingestor := NewIngestor(mem, failingUpserts{mem}, fakeLoader{pages: []types.Page{{Text: "some text"}}}, chunker.New(), &fakeEmbedder{}, nil)

	_, err := ingestor.Ingest(ctx, pdfSource(), IngestOptions{})
	assert.ErrorIs(t, err, types.ErrStorage)
	var upsertErr *types.UpsertError
	assert.ErrorAs(t, err, &upsertErr)

	docs, _ := mem.ListDocuments(ctx, "default-user")
	assert.Empty(t, docs)
}

func TestIngest_LoadFailure(t *testing.T) {
	mem := store.NewMemoryStore(dim)
	loadErr := types.NewError(types.ErrLoad, "load pdf", errors.New("encrypted"))
	ingestor := NewIngestor(mem, mem, fakeLoader{err: loadErr}, chunker.New(), &fakeEmbedder{}, nil)

	_, err := ingestor.Ingest(context.Background(), pdfSource(), IngestOptions{})
	assert.ErrorIs(t, err, types.ErrLoad)

	_, err = ingestor.Ingest(context.Background(), types.Source{Kind: types.SourcePDF}, IngestOptions{})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestAsk_Validation(t *testing.T) {
	f := newFixture(t, nil)
	for _, params := range []types.AskParams{
		{DocumentID: "", Query: "q"},
		{DocumentID: "id", Query: "   "},
	} {
		_, err := f.querier.Ask(context.Background(), params)
		assert.ErrorIs(t, err, types.ErrValidation)
		_, err = f.querier.AskSafe(context.Background(), params)
		assert.ErrorIs(t, err, types.ErrValidation)
	}
}

func TestAskSafe_GenerationFailureIsApology(t *testing.T) {
	f := newFixture(t, []types.Page{{Text: "Title: Quarterly Report"}})
	ctx := context.Background()
	res, err := f.ingestor.Ingest(ctx, pdfSource(), IngestOptions{})
	require.NoError(t, err)

	f.chat.err = errors.New("model down")
	params := types.AskParams{DocumentID: res.DocumentID, Query: "title?"}

	_, err = f.querier.Ask(ctx, params)
	assert.ErrorIs(t, err, types.ErrGeneration)

	ask, err := f.querier.AskSafe(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, ApologyAnswer, ask.Answer)
	assert.Equal(t, "failed", ask.Response().Stage)
	assert.NotNil(t, ask.Response().Sources)
	assert.Empty(t, f.store.Turns(uuid.MustParse(res.DocumentID)))
}

func TestAsk_ChatLogFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore(dim)
	emb := &fakeEmbedder{}
	ingestor := NewIngestor(mem, mem, fakeLoader{pages: []types.Page{{Text: "Title: Quarterly Report"}}}, chunker.New(), emb, nil)
	res, err := ingestor.Ingest(ctx, pdfSource(), IngestOptions{})
	require.NoError(t, err)

	// a separate store has no such document, so appending fails
	q := NewQuerier(NewRetriever(mem, emb, types.RetrievalConfig{TopK: 3, FallbackLimit: 3}),
		agent.New(&fakeChat{}, nil, types.LLMConfig{}), store.NewMemoryStore(dim))

	ask, err := q.Ask(ctx, types.AskParams{DocumentID: res.DocumentID, Query: "title?"})
	require.NoError(t, err)
	assert.Contains(t, ask.Answer, "Quarterly Report")
	assert.Error(t, ask.Log.Err)
}

func TestDocuments(t *testing.T) {
	f := newFixture(t, []types.Page{{Text: "text"}})
	ctx := context.Background()
	res, err := f.ingestor.Ingest(ctx, pdfSource(), IngestOptions{})
	require.NoError(t, err)

	docs, err := f.ingestor.ListDocuments(ctx, "default-user")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, res.DocumentID, docs[0].ID)

	_, err = f.ingestor.GetDocument(ctx, "nope")
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = f.ingestor.GetDocument(ctx, uuid.NewString())
	assert.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, f.ingestor.DeleteDocument(ctx, res.DocumentID))
	assert.ErrorIs(t, f.ingestor.DeleteDocument(ctx, res.DocumentID), types.ErrNotFound)

	ask, err := f.querier.Ask(ctx, types.AskParams{DocumentID: res.DocumentID, Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, StageNotProcessed, ask.Stage)
}
