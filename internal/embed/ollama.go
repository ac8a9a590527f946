package embed

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
	"sync"
	"time"

	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
	"github.com/Aman-CERP/nexus/pkg/version"
)

// Ollama API defaults.
const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is a general-purpose text embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	// OllamaConnectTimeout bounds the model listing done at startup.
	OllamaConnectTimeout = 5 * time.Second

	ollamaPoolSize = 4
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434).
	Host string

	// Model is the embedding model to use.
	Model string

	// Dimensions overrides auto-detection (0 = detect from a probe request).
	Dimensions int

	// Timeout bounds each embedding request (default: 60s).
	Timeout time.Duration

	// GPU allows Ollama to offload layers. When false every request asks
	// for num_gpu=0.
	GPU bool

	// SkipHealthCheck skips the model lookup and dimension probe.
	SkipHealthCheck bool
}

type ollamaEmbedRequest struct {
	Model   string         `json:"model"`
	Input   []string       `json:"input"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// OllamaEmbedder generates embeddings through Ollama's /api/embed endpoint.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	modelName string
	dims      int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder. Unless SkipHealthCheck is
// set it resolves the model against the server's model list and probes the
// vector width.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	// No http.Client.Timeout: per-request deadlines come from the context.
	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		MaxConnsPerHost:     ollamaPoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}
	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		listCtx, cancel := context.WithTimeout(ctx, OllamaConnectTimeout)
		name, err := e.resolveModel(listCtx)
		cancel()
		if err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}
		e.modelName = name

		if e.dims == 0 {
			vecs, err := e.EmbedBatch(ctx, []string{"dimension probe"})
			if err != nil {
				transport.CloseIdleConnections()
				return nil, err
			}
			e.dims = len(vecs[0])
		}
	}
	if e.dims == 0 {
		e.dims = DefaultDimensions
	}

	slog.Debug("ollama_embedder_ready",
		slog.String("host", cfg.Host),
		slog.String("model", e.modelName),
		slog.Int("dimensions", e.dims),
		slog.Bool("gpu", cfg.GPU))
	return e, nil
}

// listModels returns the model names the server has pulled.
func (e *OllamaEmbedder) listModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, nexuserrors.InternalError(fmt.Sprintf("build request: %v", err), err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, e.config.Host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, nexuserrors.EmbeddingError(fmt.Sprintf("decode model list: %v", err), err)
	}
	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}

// resolveModel matches the configured model against the server's list,
// accepting a bare name for a tagged model ("nomic-embed-text" for
// "nomic-embed-text:latest").
func (e *OllamaEmbedder) resolveModel(ctx context.Context) (string, error) {
	names, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	want := strings.ToLower(e.config.Model)
	wantBase, _, _ := strings.Cut(want, ":")
	for _, name := range names {
		lower := strings.ToLower(name)
		base, _, _ := strings.Cut(lower, ":")
		if lower == want || (base == wantBase && !strings.Contains(want, ":")) {
			return name, nil
		}
	}

	nerr := nexuserrors.New(nexuserrors.ErrCodeEmbeddingFailed,
		fmt.Sprintf("model %s is not available on %s", e.config.Model, e.config.Host), nil).
		WithSuggestion(fmt.Sprintf("Run: ollama pull %s", e.config.Model))
	nerr.Retryable = false
	return "", nerr
}

// Embed generates an embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends texts in one request and returns normalized vectors.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	body, err := json.Marshal(e.request(texts))
	if err != nil {
		return nil, nexuserrors.InternalError(fmt.Sprintf("marshal request: %v", err), err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, nexuserrors.InternalError(fmt.Sprintf("build request: %v", err), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, transportError(reqCtx, e.config.Host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, nexuserrors.EmbeddingError(fmt.Sprintf("decode embeddings: %v", err), err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, nexuserrors.EmbeddingError(
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(result.Embeddings)), nil)
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if e.dims > 0 && len(emb) != e.dims {
			err := nexuserrors.New(nexuserrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("model returned %d dimensions, expected %d", len(emb), e.dims), nil)
			return nil, err
		}
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		out[i] = normalizeVector(vec)
	}
	return out, nil
}

func (e *OllamaEmbedder) request(texts []string) ollamaEmbedRequest {
	req := ollamaEmbedRequest{Model: e.modelName, Input: texts}
	if !e.config.GPU {
		req.Options = map[string]any{"num_gpu": 0}
	}
	return req
}

// Dimensions returns the embedding width.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the resolved model name.
func (e *OllamaEmbedder) ModelName() string {
	return e.modelName
}

// Available checks that the server answers and still has the model.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}

	names, err := e.listModels(ctx)
	if err != nil {
		return false
	}
	for _, name := range names {
		if strings.EqualFold(name, e.modelName) {
			return true
		}
	}
	return false
}

// Close releases idle connections. Safe to call more than once.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}

// transportError classifies a failed round trip as a timeout or an
// unreachable server. Both are retryable.
func transportError(ctx context.Context, host string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nexuserrors.New(nexuserrors.ErrCodeNetworkTimeout,
			fmt.Sprintf("ollama request to %s timed out", host), err)
	}
	return nexuserrors.New(nexuserrors.ErrCodeNetworkUnavailable,
		fmt.Sprintf("cannot reach ollama at %s: %v", host, err), err).
		WithSuggestion("Start Ollama with: ollama serve")
}

// statusError maps a non-200 response. Server errors are retryable,
// client errors are not.
func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	err := nexuserrors.EmbeddingError(
		fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	err.Retryable = resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return err.WithDetail("status", fmt.Sprint(resp.StatusCode))
}
