package cmd

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/nexus/internal/config"
	"github.com/Aman-CERP/nexus/internal/index"
	"github.com/Aman-CERP/nexus/internal/state"
	"github.com/Aman-CERP/nexus/internal/watcher"
)

func TestIgnoreFunc_UsesOwningRoot(t *testing.T) {
	// Given: two roots and the default discovery rules
	a, b := filepath.FromSlash("/data/a"), filepath.FromSlash("/data/b")
	cfg := config.NewConfig()
	opts := index.DiscoverOptions{
		Policy:         state.PolicyFromConfig(cfg.Index),
		IgnorePatterns: cfg.Watch.IgnorePatterns,
	}
	ignore := ignoreFunc([]string{a, b}, opts)

	// Then: paths are judged against their own root
	assert.False(t, ignore(filepath.Join(a, "notes.txt")))
	assert.False(t, ignore(filepath.Join(b, "sub", "report.pdf")))
	assert.True(t, ignore(filepath.Join(a, "node_modules", "x.js")))
	assert.True(t, ignore(filepath.Join(b, "draft.swp")))
	assert.False(t, ignore(filepath.FromSlash("/elsewhere/file.txt")))
}

func TestReportBatch(t *testing.T) {
	res := watcher.BatchResult{
		Indexed:  2,
		Removed:  1,
		Failed:   1,
		Errors:   []index.FileError{{Path: "/d/bad.pdf", Kind: "ERR_210_EXTRACTION_FAILED", Message: "broken"}},
		Duration: 1500 * time.Millisecond,
	}

	var buf bytes.Buffer
	reportBatch(&buf, res, false)

	assert.Equal(t,
		"[WATCH] 2 indexed, 1 removed, 0 unchanged, 0 skipped, 1 failed in 1.5s\n"+
			"  ERR_210_EXTRACTION_FAILED: /d/bad.pdf: broken\n",
		buf.String())
}

func TestReportBatch_QuietSkipsNoChange(t *testing.T) {
	var buf bytes.Buffer

	reportBatch(&buf, watcher.BatchResult{Unchanged: 3}, true)

	assert.Empty(t, buf.String())
}
