package provider

import (
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/holmes89/harbor-seal/lib/config"
)

// Capability bundles the generation model and the embedder the core calls
// through its narrow contracts.
type Capability struct {
	LLM      llms.Model
	Embedder embeddings.Embedder
}

// New builds the LLM and embedder pair selected by config.
func New(cfg *config.Config) (*Capability, error) {
	switch cfg.Provider {
	case "ollama":
		return newOllama(cfg)
	case "openai":
		return newOpenAI(cfg)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

func newOllama(cfg *config.Config) (*Capability, error) {
	embedderLLM, err := ollama.New(
		ollama.WithModel(cfg.EmbeddingModel),
		ollama.WithServerURL(cfg.ServerURL),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama embedding model: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(embedderLLM)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	llm, err := ollama.New(
		ollama.WithModel(cfg.GenerationModel),
		ollama.WithServerURL(cfg.ServerURL),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama generation model: %w", err)
	}
	return &Capability{LLM: llm, Embedder: embedder}, nil
}

func newOpenAI(cfg *config.Config) (*Capability, error) {
	llm, err := openai.New(
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.GenerationModel),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return &Capability{LLM: llm, Embedder: embedder}, nil
}
