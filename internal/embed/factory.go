package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/nexus/internal/config"
	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
)

// ProviderType names an embedding backend.
type ProviderType string

const (
	// ProviderAuto tries Ollama and falls back to static vectors.
	ProviderAuto ProviderType = ""

	// ProviderOllama uses the Ollama HTTP API.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based vectors.
	ProviderStatic ProviderType = "static"
)

// ParseProvider normalizes a provider name. Unknown names select auto.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ollama":
		return ProviderOllama
	case "static":
		return ProviderStatic
	default:
		return ProviderAuto
	}
}

// String returns the provider name, "auto" for auto-detection.
func (p ProviderType) String() string {
	if p == ProviderAuto {
		return "auto"
	}
	return string(p)
}

// NewEmbedder builds the embedder selected by cfg. Ollama embedders are
// wrapped with retry and a circuit breaker. An explicitly selected Ollama
// that cannot be reached is an error; under auto-detection the static
// embedder is used instead.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingsConfig, gpu bool) (Embedder, error) {
	provider := ParseProvider(cfg.Provider)
	if provider == ProviderStatic {
		return NewStaticEmbedder(), nil
	}

	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		timeout = DefaultTimeout
	}
	ollama, err := NewOllamaEmbedder(ctx, OllamaConfig{
		Host:    cfg.OllamaHost,
		Model:   cfg.Model,
		Timeout: timeout,
		GPU:     gpu || cfg.GPU,
	})
	if err != nil {
		if provider == ProviderOllama {
			return nil, err
		}
		slog.Warn("embedder_fallback",
			slog.String("from", string(ProviderOllama)),
			slog.String("to", string(ProviderStatic)),
			slog.String("error", err.Error()))
		return NewStaticEmbedder(), nil
	}

	return NewRetryingEmbedder(ollama, cfg.MaxRetries), nil
}

// IsStatic reports whether e, or the embedder it wraps, is a StaticEmbedder.
func IsStatic(e Embedder) bool {
	for {
		switch v := e.(type) {
		case *StaticEmbedder:
			return true
		case *CachedEmbedder:
			e = v.inner
		case *RetryingEmbedder:
			e = v.inner
		default:
			return false
		}
	}
}

// CheckDimensions returns ERR_402 when an existing vector index was built
// with a different width than e produces.
func CheckDimensions(e Embedder, stored int) error {
	if stored == 0 || stored == e.Dimensions() {
		return nil
	}
	return nexuserrors.New(nexuserrors.ErrCodeDimensionMismatch,
		fmt.Sprintf("vector index has %d dimensions, %s produces %d", stored, e.ModelName(), e.Dimensions()), nil).
		WithSuggestion("Delete the store directory shown by 'nexus status' and index again, or switch back to the embedding model that built it")
}
