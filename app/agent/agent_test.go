package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"docrag/model"
	"docrag/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	calls []model.Completion
	reply string
	err   error
}

func (f *fakeChat) Complete(_ context.Context, req model.Completion) (string, error) {
	f.calls = append(f.calls, req)
	return f.reply, f.err
}

func chunks(texts ...string) []types.Chunk {
	out := make([]types.Chunk, len(texts))
	for i, t := range texts {
		out[i] = types.Chunk{Index: i, Content: t}
	}
	return out
}

func TestGenerateAnswer_NoChunksSkipsModel(t *testing.T) {
	llm := &fakeChat{reply: "should not be used"}
	a := New(llm, EstimateCounter{}, types.LLMConfig{MaxContextTokens: 100})

	answer, err := a.GenerateAnswer(context.Background(), "What is the title?", nil)
	require.NoError(t, err)
	assert.Equal(t, NoInformationAnswer, answer)
	assert.Empty(t, llm.calls)
}

func TestGenerateAnswer_PromptCarriesContextAndQuestion(t *testing.T) {
	llm := &fakeChat{reply: "Quarterly Report"}
	a := New(llm, EstimateCounter{}, types.LLMConfig{MaxContextTokens: 1000})

	answer, err := a.GenerateAnswer(context.Background(), "What is the title?", chunks("Title: Quarterly Report", "Revenue grew."))
	require.NoError(t, err)
	assert.Equal(t, "Quarterly Report", answer)

	require.Len(t, llm.calls, 1)
	call := llm.calls[0]
	assert.Zero(t, call.Temperature)
	assert.Contains(t, call.System, "only from the context")
	assert.Contains(t, call.Prompt, "Title: Quarterly Report\n\nRevenue grew.")
	assert.Contains(t, call.Prompt, "Question:\nWhat is the title?")
}

func TestGenerateAnswer_ModelFailureIsGenerationError(t *testing.T) {
	llm := &fakeChat{err: errors.New("boom")}
	a := New(llm, nil, types.LLMConfig{})

	_, err := a.GenerateAnswer(context.Background(), "q", chunks("text"))
	assert.ErrorIs(t, err, types.ErrGeneration)
}

func TestFitContext(t *testing.T) {
	a := New(&fakeChat{}, EstimateCounter{}, types.LLMConfig{MaxContextTokens: 10})

	// 20 runes = 5 tokens each
	twenty := strings.Repeat("a", 20)
	got := a.fitContext(chunks(twenty, twenty, twenty))
	assert.Len(t, got, 2)

	long := strings.Repeat("b", 400)
	got = a.fitContext(chunks(long, twenty))
	require.Len(t, got, 1)
	assert.LessOrEqual(t, EstimateCounter{}.Count(got[0]), 10)
	assert.NotEmpty(t, got[0])
}

func TestSummarize(t *testing.T) {
	llm := &fakeChat{reply: "A short summary."}
	a := New(llm, EstimateCounter{}, types.LLMConfig{SummaryTokens: 5})

	summary, err := a.Summarize(context.Background(), strings.Repeat("word ", 100), "English")
	require.NoError(t, err)
	assert.Equal(t, "A short summary.", summary)
	require.Len(t, llm.calls, 1)
	assert.Contains(t, llm.calls[0].Prompt, "in English")
	assert.Less(t, len(llm.calls[0].Prompt), 200)

	_, err = a.Summarize(context.Background(), "   ", "")
	assert.ErrorIs(t, err, types.ErrGeneration)
}

func TestTruncateTokens(t *testing.T) {
	c := EstimateCounter{}
	assert.Equal(t, "abcd", truncateTokens(c, "abcd", 1))
	assert.Equal(t, "", truncateTokens(c, "abcd", 0))
	assert.LessOrEqual(t, c.Count(truncateTokens(c, strings.Repeat("é", 101), 7)), 7)
}
