// Package embedding generates and stores vector embeddings for nodes.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNoCredentials is returned by providers that require an API key when
// none is configured. Callers degrade gracefully instead of failing jobs.
var ErrNoCredentials = errors.New("embedding: no API credentials configured")

// Provider defines the interface for embedding generation.
// Implementations can use OpenAI-compatible APIs, local models, etc.
type Provider interface {
	// GenerateBatch generates embeddings for multiple texts in a single API
	// call. Batch requests are more efficient than individual calls.
	GenerateBatch(ctx context.Context, texts []string) ([][]float32, error)

	// ModelVersion returns the model identifier (e.g., "text-embedding-3-small").
	// Used for cache invalidation when models change.
	ModelVersion() string

	// Dimension returns the embedding vector dimension
	Dimension() int
}

// RetryConfig configures retry behavior for embedding API calls
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns sensible retry defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
	}
}

// GenerateWithRetry generates embeddings with exponential backoff retry.
// Missing credentials are not retried.
func GenerateWithRetry(ctx context.Context, provider Provider, texts []string, config RetryConfig) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(config.InitialDelay) * float64(uint(1)<<uint(attempt-1)))
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}

			slog.Warn("embedding generation retry",
				"attempt", attempt,
				"delay", delay,
				"error", lastErr)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		embeddings, err := provider.GenerateBatch(ctx, texts)
		if err == nil {
			return embeddings, nil
		}
		if errors.Is(err, ErrNoCredentials) {
			return nil, err
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("embedding generation failed after %d attempts: %w", config.MaxRetries, lastErr)
}

// CosineSimilarity computes cosine similarity between two vectors
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct float32
	var normA float32
	var normB float32

	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (sqrt32(normA) * sqrt32(normB))
}

func sqrt32(x float32) float32 {
	// Newton's method
	z := 1.0
	f := float64(x)
	for i := 0; i < 10; i++ {
		z -= (z*z - f) / (2 * z)
	}
	return float32(z)
}

// hashText creates a SHA-256 hash of text for cache invalidation.
// Returns first 16 bytes (32 hex chars) for efficient comparison.
func hashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:16])
}
