package catalog

import (
	"context"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// EmbeddingProvider produces fixed-dimension vectors for tool name +
// description text. Generation is best-effort: callers downgrade to
// substring ranking on error rather than fail the refresh.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIEmbeddingProvider wraps the OpenAI embeddings endpoint.
type OpenAIEmbeddingProvider struct {
	client openai.Client
	model  string
	dim    int
}

func NewOpenAIEmbeddingProvider(apiKey, model string, dim int) *OpenAIEmbeddingProvider {
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbeddingProvider{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		dim:    dim,
	}
}

func (p *OpenAIEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: p.model,
	}
	if p.dim > 0 {
		params.Dimensions = openai.Int(int64(p.dim))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}
