package watcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
	"github.com/Aman-CERP/nexus/internal/index"
)

// Target applies single-file changes to a store.
type Target interface {
	IndexFile(ctx context.Context, path string) (*index.IndexProgress, error)
	RemoveFile(ctx context.Context, path string) (bool, error)
}

// Source yields batches of changes.
type Source interface {
	Events() <-chan []FileEvent
	Errors() <-chan error
}

// BatchResult summarizes one applied batch.
type BatchResult struct {
	Indexed   int
	Unchanged int
	Removed   int
	Skipped   int
	Failed    int
	Errors    []index.FileError
	Duration  time.Duration
}

// ApplyBatch applies every event in batch. Per-file failures are counted
// and the batch continues; a fatal store error or cancellation stops it.
func ApplyBatch(ctx context.Context, target Target, batch []FileEvent) (BatchResult, error) {
	start := time.Now()
	var res BatchResult
	for _, ev := range batch {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if ev.Operation == OpDelete {
			removed, err := target.RemoveFile(ctx, ev.Path)
			if err != nil {
				if stop(err) {
					return res, err
				}
				res.fail(ev.Path, err)
				continue
			}
			if removed {
				res.Removed++
			}
			continue
		}

		progress, err := target.IndexFile(ctx, ev.Path)
		if progress != nil {
			res.Indexed += progress.FilesIndexed
			res.Unchanged += progress.FilesUnchanged
			res.Skipped += progress.FilesSkipped
			res.Removed += progress.FilesRemoved
			res.Failed += len(progress.Errors)
			res.Errors = append(res.Errors, progress.Errors...)
		}
		if err != nil {
			if stop(err) {
				return res, err
			}
			res.fail(ev.Path, err)
		}
	}
	res.Duration = time.Since(start)
	return res, nil
}

func (r *BatchResult) fail(path string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, index.FileError{Path: path, Kind: nexuserrors.GetCode(err), Message: err.Error()})
	slog.Warn("watch_apply_failed", slog.String("path", path), slog.String("error", err.Error()))
}

func stop(err error) bool {
	return nexuserrors.IsFatal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Apply consumes batches from src until ctx is done or src closes. Each
// applied batch is passed to report when it is set.
func Apply(ctx context.Context, src Source, target Target, report func(BatchResult)) error {
	events, errs := src.Events(), src.Errors()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			res, err := ApplyBatch(ctx, target, batch)
			if report != nil {
				report(res)
			}
			if err != nil {
				return err
			}
			slog.Info("watch_batch_applied",
				slog.Int("events", len(batch)),
				slog.Int("indexed", res.Indexed),
				slog.Int("removed", res.Removed),
				slog.Int("failed", res.Failed),
				slog.Int64("duration_ms", res.Duration.Milliseconds()))
		}
	}
}
