package embed

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/nexus/internal/config"
	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
)

func unreachableHost(t *testing.T) string {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()
	return url
}

func TestParseProvider(t *testing.T) {
	tests := map[string]ProviderType{
		"static":  ProviderStatic,
		"OLLAMA":  ProviderOllama,
		"":        ProviderAuto,
		"unknown": ProviderAuto,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseProvider(in), in)
	}
	assert.Equal(t, "auto", ProviderAuto.String())
}

func TestNewEmbedder_Static(t *testing.T) {
	cfg := config.NewConfig().Embeddings
	cfg.Provider = "static"

	e, err := NewEmbedder(context.Background(), cfg, false)

	require.NoError(t, err)
	assert.True(t, IsStatic(e))
}

func TestNewEmbedder_ExplicitOllamaUnavailableFails(t *testing.T) {
	cfg := config.NewConfig().Embeddings
	cfg.Provider = "ollama"
	cfg.OllamaHost = unreachableHost(t)

	_, err := NewEmbedder(context.Background(), cfg, false)

	require.Error(t, err)
	assert.Equal(t, nexuserrors.ErrCodeNetworkUnavailable, nexuserrors.GetCode(err))
}

func TestNewEmbedder_AutoFallsBackToStatic(t *testing.T) {
	cfg := config.NewConfig().Embeddings
	cfg.Provider = ""
	cfg.OllamaHost = unreachableHost(t)

	e, err := NewEmbedder(context.Background(), cfg, false)

	require.NoError(t, err)
	assert.True(t, IsStatic(e))
}

func TestNewEmbedder_OllamaIsWrappedWithRetry(t *testing.T) {
	_, srv := newFakeOllama(t, "nomic-embed-text:latest")
	cfg := config.NewConfig().Embeddings
	cfg.Provider = "ollama"
	cfg.OllamaHost = srv.URL

	e, err := NewEmbedder(context.Background(), cfg, false)

	require.NoError(t, err)
	defer func() { _ = e.Close() }()
	assert.IsType(t, &RetryingEmbedder{}, e)
	assert.False(t, IsStatic(e))
	assert.Equal(t, 4, e.Dimensions())
}

func TestCheckDimensions(t *testing.T) {
	e := NewStaticEmbedder()

	assert.NoError(t, CheckDimensions(e, 0))
	assert.NoError(t, CheckDimensions(e, StaticDimensions))

	err := CheckDimensions(e, 768)
	assert.Equal(t, nexuserrors.ErrCodeDimensionMismatch, nexuserrors.GetCode(err))
	assert.Contains(t, nexuserrors.FormatForCLI(err), "nexus status")
}
