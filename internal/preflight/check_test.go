package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/nexus/internal/config"
)

// healthy reports a machine that passes every check.
func healthy() Probes {
	return Probes{
		FreeDisk:     func(string) (uint64, error) { return 50 << 30, nil },
		AvailableMem: func() (uint64, error) { return 8 << 30, nil },
		FileLimit:    func() (uint64, error) { return 10240, nil },
		OCRAvailable: func() bool { return true },
		Embedder: func(context.Context, config.EmbeddingsConfig) (string, error) {
			return "nomic-embed-text (768 dimensions)", nil
		},
	}
}

func newChecker(t *testing.T, cfg *config.Config, p Probes, opts ...Option) *Checker {
	t.Helper()
	return New(cfg, filepath.Join(t.TempDir(), "store"), append([]Option{WithProbes(p)}, opts...)...)
}

func find(t *testing.T, results []CheckResult, name string) CheckResult {
	t.Helper()
	for _, r := range results {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("check %q missing", name)
	return CheckResult{}
}

func TestCheckStatus_String(t *testing.T) {
	assert.Equal(t, "pass", StatusPass.String())
	assert.Equal(t, "warn", StatusWarn.String())
	assert.Equal(t, "fail", StatusFail.String())
	assert.Equal(t, "unknown", CheckStatus(9).String())
}

func TestCheckResult_JSONStatusByName(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "memory", Status: StatusWarn})

	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"warn"`)
}

func TestCheckResult_IsCritical(t *testing.T) {
	tests := []struct {
		name     string
		result   CheckResult
		expected bool
	}{
		{"required pass is not critical", CheckResult{Status: StatusPass, Required: true}, false},
		{"required fail is critical", CheckResult{Status: StatusFail, Required: true}, true},
		{"optional fail is not critical", CheckResult{Status: StatusFail}, false},
		{"required warn is not critical", CheckResult{Status: StatusWarn, Required: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.IsCritical())
		})
	}
}

func TestChecker_RunAll_Healthy(t *testing.T) {
	// Given: a valid config on a healthy machine
	c := newChecker(t, config.NewConfig(), healthy())

	// When: running every check
	results := c.RunAll(context.Background())

	// Then: all checks are present and pass
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Name
		assert.Equal(t, StatusPass, r.Status, r.Name+": "+r.Message)
	}
	assert.Equal(t, []string{"config", "disk_space", "memory", "store_writable", "file_descriptors", "embedder", "ocr"}, names)
	assert.Equal(t, "ready", SummaryStatus(results))
	assert.False(t, HasCriticalFailures(results))
}

func TestChecker_RunAll_ConfigLoadFailed(t *testing.T) {
	// Given: no config, with the load error recorded
	c := newChecker(t, nil, healthy(), WithConfigError(errors.New("yaml: line 3: bad indent")))

	// When: running every check
	results := c.RunAll(context.Background())

	// Then: the config check fails and config-dependent checks are skipped
	cfg := find(t, results, "config")
	assert.Equal(t, StatusFail, cfg.Status)
	assert.Contains(t, cfg.Message, "bad indent")
	assert.Len(t, results, 5)
	assert.True(t, HasCriticalFailures(results))
}

func TestChecker_CheckConfig_Invalid(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Search.CandidateMultiplier = 9

	result := newChecker(t, cfg, healthy()).CheckConfig()

	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Message, "candidate_multiplier")
}

func TestChecker_CheckDiskSpace(t *testing.T) {
	t.Run("low space fails", func(t *testing.T) {
		p := healthy()
		p.FreeDisk = func(string) (uint64, error) { return 10 << 20, nil }

		result := newChecker(t, config.NewConfig(), p).CheckDiskSpace()

		assert.Equal(t, StatusFail, result.Status)
		assert.Contains(t, result.Message, "10.0 MB free")
	})

	t.Run("measures the nearest existing directory", func(t *testing.T) {
		var probed string
		p := healthy()
		p.FreeDisk = func(path string) (uint64, error) {
			probed = path
			return 1 << 30, nil
		}
		dir := t.TempDir()
		c := New(config.NewConfig(), filepath.Join(dir, "a", "b"), WithProbes(p))

		assert.Equal(t, StatusPass, c.CheckDiskSpace().Status)
		assert.Equal(t, dir, probed)
	})
}

func TestChecker_CheckMemory(t *testing.T) {
	t.Run("low memory fails", func(t *testing.T) {
		p := healthy()
		p.AvailableMem = func() (uint64, error) { return 256 << 20, nil }

		result := newChecker(t, config.NewConfig(), p).CheckMemory()

		assert.Equal(t, StatusFail, result.Status)
		assert.NotEmpty(t, result.Details)
	})

	t.Run("unreadable memory warns", func(t *testing.T) {
		p := healthy()
		p.AvailableMem = func() (uint64, error) { return 0, errors.New("no /proc") }

		result := newChecker(t, config.NewConfig(), p).CheckMemory()

		assert.Equal(t, StatusWarn, result.Status)
	})
}

func TestChecker_CheckFileDescriptors(t *testing.T) {
	t.Run("low limit fails", func(t *testing.T) {
		p := healthy()
		p.FileLimit = func() (uint64, error) { return 256, nil }

		result := newChecker(t, config.NewConfig(), p).CheckFileDescriptors()

		assert.Equal(t, StatusFail, result.Status)
		assert.Contains(t, result.Details, "ulimit")
	})

	t.Run("unsupported platform passes", func(t *testing.T) {
		p := healthy()
		p.FileLimit = func() (uint64, error) { return 0, errors.ErrUnsupported }

		result := newChecker(t, config.NewConfig(), p).CheckFileDescriptors()

		assert.Equal(t, StatusPass, result.Status)
	})
}

func TestChecker_CheckStoreWritable(t *testing.T) {
	t.Run("creates the store root", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "store")
		c := New(config.NewConfig(), root, WithProbes(healthy()))

		result := c.CheckStoreWritable()

		assert.Equal(t, StatusPass, result.Status)
		assert.DirExists(t, root)
		entries, err := os.ReadDir(root)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("read-only parent fails", func(t *testing.T) {
		if os.Getuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		parent := filepath.Join(t.TempDir(), "ro")
		require.NoError(t, os.Mkdir(parent, 0o555))
		t.Cleanup(func() { _ = os.Chmod(parent, 0o755) })

		result := New(config.NewConfig(), filepath.Join(parent, "store")).CheckStoreWritable()

		assert.Equal(t, StatusFail, result.Status)
	})
}

func TestChecker_CheckEmbedder(t *testing.T) {
	unreachable := healthy()
	unreachable.Embedder = func(context.Context, config.EmbeddingsConfig) (string, error) {
		return "", errors.New("connection refused")
	}

	tests := []struct {
		name     string
		provider string
		probes   Probes
		status   CheckStatus
		required bool
	}{
		{"static never probes", "static", unreachable, StatusPass, false},
		{"auto reachable", "", healthy(), StatusPass, false},
		{"auto unreachable warns", "", unreachable, StatusWarn, false},
		{"explicit ollama unreachable fails", "ollama", unreachable, StatusFail, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewConfig()
			cfg.Embeddings.Provider = tt.provider

			result := newChecker(t, cfg, tt.probes).CheckEmbedder(context.Background())

			assert.Equal(t, tt.status, result.Status)
			assert.Equal(t, tt.required, result.Required)
		})
	}
}

func TestChecker_CheckOCR(t *testing.T) {
	missing := healthy()
	missing.OCRAvailable = func() bool { return false }

	t.Run("missing tesseract warns", func(t *testing.T) {
		result := newChecker(t, config.NewConfig(), missing).CheckOCR()

		assert.Equal(t, StatusWarn, result.Status)
		assert.False(t, result.Required)
	})

	t.Run("skip images passes", func(t *testing.T) {
		cfg := config.NewConfig()
		cfg.Index.SkipImages = true

		result := newChecker(t, cfg, missing).CheckOCR()

		assert.Equal(t, StatusPass, result.Status)
	})
}

func TestSummaryStatus(t *testing.T) {
	tests := []struct {
		name     string
		results  []CheckResult
		expected string
	}{
		{"all pass", []CheckResult{{Status: StatusPass}, {Status: StatusPass}}, "ready"},
		{"with warnings", []CheckResult{{Status: StatusPass}, {Status: StatusWarn}}, "ready_with_warnings"},
		{"with critical failure", []CheckResult{{Status: StatusWarn}, {Status: StatusFail, Required: true}}, "failed"},
		{"with optional failure", []CheckResult{{Status: StatusPass}, {Status: StatusFail}}, "ready_with_warnings"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SummaryStatus(tt.results))
		})
	}
}

func TestPrintResults(t *testing.T) {
	// Given: mixed results
	results := []CheckResult{
		{Name: "disk_space", Status: StatusPass, Message: "50.0 GB free"},
		{Name: "ocr", Status: StatusWarn, Message: "tesseract not found", Details: "Install tesseract"},
		{Name: "memory", Status: StatusFail, Message: "256.0 MB available", Required: true},
	}
	buf := &bytes.Buffer{}

	// When: printing verbosely
	PrintResults(buf, results, true)

	// Then: each line, the details and the summary are shown
	out := buf.String()
	assert.Contains(t, out, "[PASS] disk_space: 50.0 GB free")
	assert.Contains(t, out, "[WARN] ocr: tesseract not found")
	assert.Contains(t, out, "Install tesseract")
	assert.Contains(t, out, "Status: FAILED")
	assert.Contains(t, out, "1 error(s):\n  - memory: 256.0 MB available")
	assert.Contains(t, out, "1 warning(s):")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "100.0 MB", FormatBytes(MinDiskSpaceBytes))
	assert.Equal(t, "1.0 GB", FormatBytes(MinMemoryBytes))
}
