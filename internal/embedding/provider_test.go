package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 0.001)
		})
	}
}

type flakyProvider struct {
	failures int
	calls    int
}

func (f *flakyProvider) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("rate limit")
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (f *flakyProvider) ModelVersion() string { return "test-model" }
func (f *flakyProvider) Dimension() int       { return 2 }

func TestGenerateWithRetryRecovers(t *testing.T) {
	p := &flakyProvider{failures: 2}
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}

	got, err := GenerateWithRetry(context.Background(), p, []string{"a", "b"}, cfg)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 3, p.calls)
}

func TestGenerateWithRetryExhausts(t *testing.T) {
	p := &flakyProvider{failures: 100}
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}

	_, err := GenerateWithRetry(context.Background(), p, []string{"a"}, cfg)
	require.Error(t, err)
	assert.Equal(t, 3, p.calls)
}

type noCredsProvider struct{ calls int }

func (n *noCredsProvider) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	n.calls++
	return nil, ErrNoCredentials
}
func (n *noCredsProvider) ModelVersion() string { return "test-model" }
func (n *noCredsProvider) Dimension() int       { return 2 }

func TestGenerateWithRetryNoCredentialsShortCircuits(t *testing.T) {
	p := &noCredsProvider{}
	_, err := GenerateWithRetry(context.Background(), p, []string{"a"}, DefaultRetryConfig())
	require.ErrorIs(t, err, ErrNoCredentials)
	assert.Equal(t, 1, p.calls, "missing credentials must not be retried")
}

func TestOpenAIProviderNoKey(t *testing.T) {
	p := NewOpenAIProvider(OpenAIConfig{})
	_, err := p.GenerateBatch(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestOpenAIProviderGenerateBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		fmt.Fprintf(w, `{"data":[{"index":1,"embedding":[0.0,1.0]},{"index":0,"embedding":[1.0,0.0]}]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "test-model", RequestsPerSecond: 100})
	got, err := p.GenerateBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	// The API may return vectors out of order; index wins.
	assert.Equal(t, []float32{1, 0}, got[0])
	assert.Equal(t, []float32{0, 1}, got[1])
}

func TestOpenAIProviderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, APIKey: "k", RequestsPerSecond: 100})
	_, err := p.GenerateBatch(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.14159, 0}
	got, err := decodeVector(encodeVector(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
