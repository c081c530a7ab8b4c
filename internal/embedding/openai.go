package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// OpenAIProvider calls an OpenAI-compatible /embeddings endpoint. Requests
// are rate limited client-side so batch backfills stay under API quotas.
type OpenAIProvider struct {
	baseURL   string
	apiKey    string
	model     string
	dimension int
	client    *http.Client
	limiter   *rate.Limiter
}

// OpenAIConfig configures the provider. An empty APIKey is allowed; calls
// then fail with ErrNoCredentials so callers can degrade.
type OpenAIConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Dimension         int
	RequestsPerSecond float64
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = 1536
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	return &OpenAIProvider{
		baseURL:   baseURL,
		apiKey:    cfg.APIKey,
		model:     model,
		dimension: dimension,
		client:    &http.Client{Timeout: 60 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (p *OpenAIProvider) ModelVersion() string { return p.model }
func (p *OpenAIProvider) Dimension() int       { return p.dimension }

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// GenerateBatch implements Provider against the /embeddings endpoint.
func (p *OpenAIProvider) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.apiKey == "" {
		return nil, ErrNoCredentials
	}
	if len(texts) == 0 {
		return nil, nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(embeddingRequest{Input: texts, Model: p.model})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding API status %d: %s", resp.StatusCode, string(msg))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding API returned out-of-range index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
