package index

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/Aman-CERP/nexus/internal/state"
)

// collectGarbage reconciles the stores with the file system under root
// before a run. Records whose files vanished are removed from every store.
// Checkpoints left by an interrupted run are dropped with their partial
// entries unless they still describe the file's current content, in which
// case the run resumes from them. It returns the number of removed files.
func (o *Orchestrator) collectGarbage(ctx context.Context, root string) (int, error) {
	records, err := o.records.Records(ctx)
	if err != nil {
		return 0, err
	}
	var gone []state.FileRecord
	for _, rec := range records {
		if !within(root, rec.Path) {
			continue
		}
		if _, err := os.Stat(rec.Path); errors.Is(err, fs.ErrNotExist) {
			gone = append(gone, rec)
		}
	}
	if err := o.dropRecords(ctx, gone); err != nil {
		return 0, err
	}
	for _, rec := range gone {
		slog.Info("orphan_removed", slog.String("path", rec.Path), slog.String("doc_id", rec.DocID))
	}

	checkpoints, err := o.records.Checkpoints(ctx)
	if err != nil {
		return len(gone), err
	}
	var stale []state.Checkpoint
	for _, cp := range checkpoints {
		if !within(root, cp.Path) {
			continue
		}
		fp, err := state.FingerprintFile(cp.Path)
		if err == nil && state.DocID(cp.Path, fp) == cp.DocID {
			continue
		}
		stale = append(stale, cp)
	}
	for _, cp := range stale {
		if err := o.deleteEntries(ctx, cp.DocID); err != nil {
			return len(gone), err
		}
	}
	if len(stale) > 0 {
		if err := o.saveVectors(); err != nil {
			return len(gone), err
		}
	}
	for _, cp := range stale {
		if err := o.records.ClearCheckpoint(ctx, cp.DocID); err != nil {
			return len(gone), err
		}
		slog.Info("checkpoint_discarded", slog.String("path", cp.Path), slog.String("doc_id", cp.DocID))
	}
	return len(gone), nil
}
