package api

import (
	"docrag/types"

	"github.com/gofiber/fiber/v2"
)

type ConfigHandler struct {
	config *types.Config
}

func NewConfigHandler(cfg *types.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

type configView struct {
	StoreDriver         string  `json:"store_driver"`
	ChunkSize           int     `json:"chunk_size"`
	ChunkOverlap        int     `json:"chunk_overlap"`
	TopK                int     `json:"top_k"`
	FallbackLimit       int     `json:"fallback_limit"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	EmbeddingProvider   string  `json:"embedding_provider"`
	EmbeddingModel      string  `json:"embedding_model"`
	EmbeddingDimension  int     `json:"embedding_dimension"`
	LLMProvider         string  `json:"llm_provider"`
	LLMModel            string  `json:"llm_model"`
	MaxUploadBytes      int64   `json:"max_upload_bytes"`
}

// HandleGetConfig shows the effective pipeline settings. Credentials and
// connection strings are left out.
func (h *ConfigHandler) HandleGetConfig(c *fiber.Ctx) error {
	cfg := h.config
	return c.JSON(configView{
		StoreDriver:         cfg.Store.Driver,
		ChunkSize:           cfg.Chunking.Size,
		ChunkOverlap:        cfg.Chunking.Overlap,
		TopK:                cfg.Retrieval.TopK,
		FallbackLimit:       cfg.Retrieval.FallbackLimit,
		SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
		EmbeddingProvider:   cfg.Embedding.Provider,
		EmbeddingModel:      cfg.Embedding.Model,
		EmbeddingDimension:  cfg.Embedding.Dimension,
		LLMProvider:         cfg.LLM.Provider,
		LLMModel:            cfg.LLM.Model,
		MaxUploadBytes:      cfg.Loader.MaxUploadBytes,
	})
}
