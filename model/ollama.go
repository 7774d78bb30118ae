package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"docrag/types"

	"golang.org/x/sync/errgroup"
)

const (
	defaultOllamaEmbeddingURL = "http://localhost:11434/api/embeddings"
	defaultOllamaGenerateURL  = "http://localhost:11434/api/generate"
)

// OllamaEmbedder creates embeddings through a local Ollama server.
type OllamaEmbedder struct {
	client      *http.Client
	apiURL      string
	model       string
	dimension   int
	concurrency int
	attempts    int
	logger      *slog.Logger
}

type OllamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type OllamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

func NewOllamaEmbedder(cfg types.EmbeddingConfig) *OllamaEmbedder {
	apiURL := cfg.URL
	if apiURL == "" {
		apiURL = defaultOllamaEmbeddingURL
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &OllamaEmbedder{
		client:      &http.Client{Timeout: cfg.Timeout},
		apiURL:      apiURL,
		model:       cfg.Model,
		dimension:   cfg.Dimension,
		concurrency: concurrency,
		attempts:    3,
		logger:      slog.Default(),
	}
}

func (e *OllamaEmbedder) Dimension() int { return e.dimension }

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := retry(ctx, e.attempts, func() error {
		var err error
		vec, err = e.embedOnce(ctx, text)
		return err
	})
	if err != nil {
		return nil, embeddingError("ollama embed", err)
	}
	return vec, nil
}

// EmbedBatch embeds texts concurrently; the result keeps the input order.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := e.Embed(gctx, text)
			if err != nil {
				return err
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *OllamaEmbedder) embedOnce(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(OllamaEmbeddingRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	respBody, err := postJSON(ctx, e.client, e.apiURL, body)
	if err != nil {
		return nil, err
	}

	var ollamaResp OllamaEmbeddingResponse
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	embedding := make([]float32, len(ollamaResp.Embedding))
	for i, v := range ollamaResp.Embedding {
		embedding[i] = float32(v)
	}
	if err := checkDimension(embedding, e.dimension); err != nil {
		return nil, permanent(err)
	}
	return normalize(embedding), nil
}

// OllamaChat answers prompts through Ollama's generate endpoint.
type OllamaChat struct {
	client   *http.Client
	apiURL   string
	model    string
	attempts int
	logger   *slog.Logger
}

type GenerateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type GenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func NewOllamaChat(cfg types.LLMConfig) *OllamaChat {
	apiURL := cfg.URL
	if apiURL == "" {
		apiURL = defaultOllamaGenerateURL
	}
	return &OllamaChat{
		client:   &http.Client{Timeout: cfg.Timeout},
		apiURL:   apiURL,
		model:    cfg.Model,
		attempts: 2,
		logger:   slog.Default(),
	}
}

func (c *OllamaChat) Complete(ctx context.Context, req Completion) (string, error) {
	start := time.Now()
	defer func() {
		c.logger.Debug("ollama generate finished", "model", c.model, "took", time.Since(start))
	}()

	options := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	body, err := json.Marshal(GenerateRequest{
		Model:   c.model,
		System:  req.System,
		Prompt:  req.Prompt,
		Stream:  false,
		Options: options,
	})
	if err != nil {
		return "", types.NewError(types.ErrGeneration, "ollama generate", err)
	}

	var output string
	err = retry(ctx, c.attempts, func() error {
		respBody, err := postJSON(ctx, c.client, c.apiURL, body)
		if err != nil {
			return err
		}
		output, err = decodeGenerate(respBody)
		return err
	})
	if err != nil {
		return "", types.NewError(types.ErrGeneration, "ollama generate", err)
	}
	return output, nil
}

// decodeGenerate accepts both a single JSON object and a stream of
// newline-delimited objects.
func decodeGenerate(body []byte) (string, error) {
	var b strings.Builder
	decoder := json.NewDecoder(bytes.NewReader(body))
	for {
		var chunk GenerateResponse
		if err := decoder.Decode(&chunk); err == io.EOF {
			break
		} else if err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		b.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", errors.New("empty response from model")
	}
	return out, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("ollama API error: status %d, body: %s", resp.StatusCode, truncate(string(respBody), 200))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, permanent(err)
		}
		return nil, err
	}
	return respBody, nil
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
