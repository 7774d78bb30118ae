package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docrag/model"
	"docrag/types"
)

// NoInformationAnswer is returned without calling the model when retrieval
// produced no context.
const NoInformationAnswer = "No information was found in the document to answer this question."

const answerSystemPrompt = `You are an assistant that answers questions about a single document.
Answer only from the context provided by the user. Do not use prior knowledge.
If the context does not contain enough information to answer, say that the document does not contain this information instead of guessing.
Answer clearly and to the point, in the language of the question, without introductions like 'Of course!' or 'Here's the answer:'.`

const summarySystemPrompt = `You summarize documents. Write a concise summary covering the main points of the text the user provides.
Use only the text itself. Do not add introductions.`

// Agent builds grounded prompts and sends them to the chat model.
type Agent struct {
	llm              model.ChatModel
	tokens           TokenCounter
	maxContextTokens int
	summaryTokens    int
	logger           *slog.Logger
}

func New(llm model.ChatModel, tokens TokenCounter, cfg types.LLMConfig) *Agent {
	if tokens == nil {
		tokens = EstimateCounter{}
	}
	return &Agent{
		llm:              llm,
		tokens:           tokens,
		maxContextTokens: cfg.MaxContextTokens,
		summaryTokens:    cfg.SummaryTokens,
		logger:           slog.Default(),
	}
}

// GenerateAnswer answers question from chunks. With no chunks the model is not
// called and NoInformationAnswer is returned.
func (a *Agent) GenerateAnswer(ctx context.Context, question string, chunks []types.Chunk) (string, error) {
	if len(chunks) == 0 {
		return NoInformationAnswer, nil
	}

	start := time.Now()
	contexts := a.fitContext(chunks)
	prompt := BuildPrompt(contexts, question)

	a.logger.Debug("prompt to llm",
		"chunks", len(chunks),
		"used", len(contexts),
		"tokens", a.tokens.Count(answerSystemPrompt)+a.tokens.Count(prompt))

	answer, err := a.llm.Complete(ctx, model.Completion{
		System:      answerSystemPrompt,
		Prompt:      prompt,
		Temperature: 0,
	})
	if err != nil {
		return "", types.NewError(types.ErrGeneration, "generate answer", err)
	}

	a.logger.Debug("llm answer", "took", time.Since(start))
	return answer, nil
}

// BuildPrompt joins the context texts with blank lines and appends the question.
func BuildPrompt(contexts []string, question string) string {
	return fmt.Sprintf(`Answer the question based on the given context.
Context:
%s

Question:
%s

Answer:`, strings.Join(contexts, "\n\n"), question)
}

// fitContext keeps chunks in retrieval order while they fit into the context
// budget. The first chunk is always kept, cut down if needed.
func (a *Agent) fitContext(chunks []types.Chunk) []string {
	budget := a.maxContextTokens
	out := make([]string, 0, len(chunks))
	used := 0
	for i, c := range chunks {
		n := a.tokens.Count(c.Content)
		if budget > 0 && used+n > budget {
			if i == 0 {
				out = append(out, truncateTokens(a.tokens, c.Content, budget))
			}
			break
		}
		out = append(out, c.Content)
		used += n
	}
	return out
}

// Summarize writes a summary of text, cut to the summary token budget. When
// language is empty the model answers in the document's language.
func (a *Agent) Summarize(ctx context.Context, text, language string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", types.NewError(types.ErrGeneration, "summarize", fmt.Errorf("empty document"))
	}
	if a.summaryTokens > 0 {
		text = truncateTokens(a.tokens, text, a.summaryTokens)
	}

	instruction := "Summarize the following document in its own language."
	if language != "" {
		instruction = fmt.Sprintf("Summarize the following document in %s.", language)
	}

	summary, err := a.llm.Complete(ctx, model.Completion{
		System:      summarySystemPrompt,
		Prompt:      instruction + "\n\nDocument:\n" + text,
		Temperature: 0,
	})
	if err != nil {
		return "", types.NewError(types.ErrGeneration, "summarize", err)
	}
	return summary, nil
}
