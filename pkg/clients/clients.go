package clients

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/research-agent/pkg/config"
	"github.com/mikeboe/research-agent/pkg/embeddings"
	"github.com/mikeboe/research-agent/pkg/findings"
	"github.com/mikeboe/research-agent/pkg/research"
	"github.com/mikeboe/research-agent/pkg/research/tools"
	"github.com/mikeboe/research-agent/pkg/splitter"
	"github.com/mikeboe/research-agent/pkg/vectorstore"
)

// New builds the chat model selected by LLM_PROVIDER.
func New(ctx context.Context, cfg *config.Config) (llms.Model, error) {
	switch cfg.LLMProvider {
	case config.ProviderGoogle:
		return GoogleAi(ctx, cfg.GoogleApiKey, ModelType(cfg.ReasoningModel))
	case config.ProviderDeepSeek:
		return DeepSeek(cfg.DeepSeekApiKey, cfg.DeepSeekBaseURL, cfg.DeepSeekModel)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}

// NewFast builds the model used for per-query summaries. Only the google
// provider has a separate fast model; for the others it returns nil and the
// engine summarizes with the main model.
func NewFast(ctx context.Context, cfg *config.Config) (llms.Model, error) {
	if cfg.LLMProvider != config.ProviderGoogle || cfg.FastModel == "" || cfg.FastModel == cfg.ReasoningModel {
		return nil, nil
	}
	return GoogleAi(ctx, cfg.GoogleApiKey, ModelType(cfg.FastModel))
}

// NewSearcher builds the web-search provider selected by SEARCH_PROVIDER.
func NewSearcher(cfg *config.Config) (research.Searcher, error) {
	switch cfg.SearchProvider {
	case config.SearchTavily:
		return tools.NewTavily(cfg.TavilyApiKey, cfg.SearchRPS), nil
	case config.SearchArxiv:
		return tools.NewArxiv(), nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.SearchProvider)
	}
}

// NewFindingsIndex wires the Gemini embedder and the pgvector store into a
// findings index over cfg.CollectionName.
func NewFindingsIndex(ctx context.Context, cfg *config.Config, db vectorstore.DBTX) (*findings.Index, error) {
	embedder, err := embeddings.NewGoogleEmbedder(ctx, cfg.EmbeddingModel, cfg.GoogleApiKey, embeddings.DefaultDimension)
	if err != nil {
		return nil, err
	}
	store, err := vectorstore.NewFindingStore(db, cfg.CollectionName)
	if err != nil {
		return nil, err
	}
	return findings.NewIndex(store, embedder, splitter.NewSummaryChunker(cfg.ChunkSize, cfg.ChunkOverlap)), nil
}
