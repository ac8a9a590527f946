package preflight

import (
	"context"
	"fmt"
	"time"

	"github.com/Aman-CERP/nexus/internal/config"
	"github.com/Aman-CERP/nexus/internal/embed"
	"github.com/Aman-CERP/nexus/internal/extract"
)

// CheckEmbedder reaches the configured embedding backend. An unreachable
// Ollama is fatal only when it was selected explicitly; auto-detection
// falls back to static vectors.
func (c *Checker) CheckEmbedder(ctx context.Context) CheckResult {
	cfg := c.cfg.Embeddings
	provider := embed.ParseProvider(cfg.Provider)
	result := CheckResult{Name: "embedder", Required: provider == embed.ProviderOllama}

	if provider == embed.ProviderStatic {
		result.Status = StatusPass
		result.Message = "static embeddings (offline)"
		return result
	}

	model, err := c.probes.Embedder(ctx, cfg)
	if err != nil {
		result.Details = err.Error()
		if result.Required {
			result.Status = StatusFail
			result.Message = "Ollama unreachable"
			return result
		}
		result.Status = StatusWarn
		result.Message = "Ollama unreachable, indexing will use static embeddings"
		return result
	}
	result.Status = StatusPass
	result.Message = model
	result.Details = "provider: " + provider.String()
	return result
}

// CheckOCR reports whether image and scanned PDF text can be recognized.
func (c *Checker) CheckOCR() CheckResult {
	result := CheckResult{Name: "ocr"}
	switch {
	case c.cfg.Index.SkipImages:
		result.Status = StatusPass
		result.Message = "disabled (index.skip_images)"
	case c.probes.OCRAvailable():
		result.Status = StatusPass
		result.Message = "tesseract found"
	default:
		result.Status = StatusWarn
		result.Message = "tesseract not found, images will be skipped"
		result.Details = "Install tesseract (and poppler for scanned PDFs) to index images"
	}
	return result
}

func ocrAvailable() bool {
	return extract.NewCommandOCR().Available()
}

func probeEmbedder(ctx context.Context, cfg config.EmbeddingsConfig) (string, error) {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		timeout = embed.DefaultTimeout
	}
	e, err := embed.NewOllamaEmbedder(ctx, embed.OllamaConfig{
		Host:    cfg.OllamaHost,
		Model:   cfg.Model,
		Timeout: timeout,
	})
	if err != nil {
		return "", err
	}
	defer func() { _ = e.Close() }()
	return fmt.Sprintf("%s (%d dimensions)", e.ModelName(), e.Dimensions()), nil
}
