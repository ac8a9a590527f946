package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Aman-CERP/nexus/internal/chunk"
	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
	"github.com/Aman-CERP/nexus/internal/extract"
	"github.com/Aman-CERP/nexus/internal/state"
	"github.com/Aman-CERP/nexus/internal/store"
)

// prepared is a file after the parallel stages: classified and, unless
// short-circuited, extracted and chunked. Paged documents are chunked page
// by page during persistence instead.
type prepared struct {
	path        string
	size        int64
	modTime     time.Time
	fingerprint string
	docID       string
	verdict     state.Verdict
	oldDocID    string
	reason      string

	doc      *extract.Document // Paged documents only
	chunks   []chunk.Chunk
	limitErr error // Chunk ceiling reached, remainder dropped
	written  int   // Chunks stored during this run

	err   error // Recoverable, the file is recorded as failed
	fatal error // Aborts the run
}

func (p *prepared) release() {
	if p != nil && p.doc != nil {
		if err := p.doc.Close(); err != nil {
			slog.Debug("document_close_failed", slog.String("path", p.path), slog.String("error", err.Error()))
		}
		p.doc = nil
	}
}

// prepare runs the stages that may execute in parallel.
func (o *Orchestrator) prepare(ctx context.Context, path string) *prepared {
	p := &prepared{path: path}
	if err := ctx.Err(); err != nil {
		p.fatal = err
		return p
	}

	info, err := os.Stat(path)
	if err != nil {
		p.err = nexuserrors.ExtractionError(path, err)
		return p
	}
	p.size, p.modTime = info.Size(), info.ModTime()

	// Policy first so excluded and oversized files are never read.
	if reason, skip := o.records.Policy().Check(path, p.size); skip {
		p.verdict, p.reason = state.Skip, reason
		return p
	}

	if p.fingerprint, err = state.FingerprintFile(path); err != nil {
		p.err = nexuserrors.ExtractionError(path, err)
		return p
	}
	class, err := o.records.Classify(ctx, state.Candidate{
		Path:        path,
		ModTime:     p.modTime,
		Size:        p.size,
		Fingerprint: p.fingerprint,
	})
	if err != nil {
		p.fatal = err
		return p
	}
	p.verdict, p.oldDocID, p.reason = class.Verdict, class.OldDocID, class.Reason
	if p.verdict == state.Skip || p.verdict == state.Unchanged {
		return p
	}
	p.docID = state.DocID(path, p.fingerprint)

	o.setState(StateExtracting)
	doc, err := o.extractor.Open(ctx, path)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			p.fatal = ctx.Err()
		case errors.Is(err, nexuserrors.ErrUnsupportedType):
			p.verdict, p.reason = state.Skip, state.ReasonUnsupported
		default:
			p.err = err
		}
		return p
	}
	if doc.IsPaged() {
		p.doc = doc
		return p
	}

	o.setState(StateChunking)
	p.chunks, p.limitErr = o.chunker.NewSequence(0).Add(0, doc.Text)
	return p
}

// persist runs the sequential stages for one file. Only fatal errors are
// returned; recoverable ones are recorded in progress.
func (o *Orchestrator) persist(ctx context.Context, p *prepared, progress *IndexProgress, em *Emitter) error {
	if p.fatal != nil {
		return p.fatal
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	switch {
	case p.err != nil:
		o.recordFailure(progress, em, p.path, p.err)
		return nil
	case p.verdict == state.Skip:
		progress.FilesSkipped++
		em.Emit(Event{Kind: EventFileSkipped, Path: p.path, Reason: p.reason})
		return o.dropSkipped(ctx, p.path, progress)
	case p.verdict == state.Unchanged:
		progress.FilesUnchanged++
		em.Emit(Event{Kind: EventFileUnchanged, Path: p.path})
		return nil
	}

	em.Emit(Event{Kind: EventFileStarted, Path: p.path})
	slog.Debug("file_started",
		slog.String("path", p.path),
		slog.String("verdict", p.verdict.String()),
		slog.String("doc_id", p.docID))

	var total int
	var err error
	if p.doc != nil {
		total, err = o.writePaged(ctx, p, progress, em)
	} else {
		total, err = o.writeWhole(ctx, p, em)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if nexuserrors.IsFatal(err) {
			return err
		}
		// The previous version, if any, is still intact.
		if derr := o.discard(ctx, p.docID); derr != nil {
			return derr
		}
		o.recordFailure(progress, em, p.path, err)
		return nil
	}
	return o.complete(ctx, p, total, progress, em)
}

func (o *Orchestrator) recordFailure(progress *IndexProgress, em *Emitter, path string, err error) {
	progress.addError(path, err)
	em.Emit(Event{Kind: EventFileSkipped, Path: path, Reason: err.Error()})
	slog.Warn("file_failed", slog.String("path", path), slog.String("error", err.Error()))
}

// writeWhole stores the chunks of a non-paginated document.
func (o *Orchestrator) writeWhole(ctx context.Context, p *prepared, em *Emitter) (int, error) {
	// The checkpoint marks the doc_id as in flight until the commit.
	if err := o.records.SaveCheckpoint(ctx, state.Checkpoint{DocID: p.docID, Path: p.path, LastPage: -1}); err != nil {
		return 0, err
	}
	if err := o.deleteEntries(ctx, p.docID); err != nil {
		return 0, err
	}
	if err := o.embedAndStore(ctx, p, p.chunks, em); err != nil {
		return 0, err
	}
	return len(p.chunks), nil
}

// writePaged stores a paginated document page by page, checkpointing after
// each page so an interrupted run resumes after the last completed page.
func (o *Orchestrator) writePaged(ctx context.Context, p *prepared, progress *IndexProgress, em *Emitter) (int, error) {
	pages := p.doc.Pages
	total := pages.PageCount()

	start, next := 0, 0
	cp, err := o.records.LoadCheckpoint(ctx, p.docID)
	if err != nil {
		return 0, err
	}
	if cp != nil && cp.TotalPages == total && cp.LastPage >= 0 {
		start, next = cp.LastPage+1, cp.NextChunk
		slog.Info("index_resume",
			slog.String("path", p.path),
			slog.Int("page", start+1),
			slog.Int("total_pages", total),
			slog.Int("next_chunk", next))
	} else {
		if err := o.records.SaveCheckpoint(ctx, state.Checkpoint{
			DocID: p.docID, Path: p.path, LastPage: -1, TotalPages: total,
		}); err != nil {
			return 0, err
		}
		if err := o.deleteEntries(ctx, p.docID); err != nil {
			return 0, err
		}
	}

	seq := o.chunker.NewSequence(next)
	for page := start; page < total; page++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		o.setState(StateExtracting)
		text, err := pages.Page(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			progress.addError(p.path, nexuserrors.ExtractionError(fmt.Sprintf("%s page %d", p.path, page+1), err))
			text = ""
		}

		o.setState(StateChunking)
		chunks, limitErr := seq.Add(page, text)
		if err := o.embedAndStore(ctx, p, chunks, em); err != nil {
			return 0, err
		}
		if err := o.saveVectors(); err != nil {
			return 0, err
		}
		if err := o.records.SaveCheckpoint(ctx, state.Checkpoint{
			DocID: p.docID, Path: p.path, LastPage: page, TotalPages: total, NextChunk: seq.Next(),
		}); err != nil {
			return 0, err
		}
		em.Emit(Event{Kind: EventPageProcessed, Path: p.path, Page: page + 1, TotalPages: total, Chunks: seq.Next()})

		if limitErr != nil {
			p.limitErr = limitErr
			break
		}
	}
	return seq.Next(), nil
}

// embedAndStore embeds chunks in batches and upserts each batch into both
// stores. Store failures are fatal; embedding failures are not.
func (o *Orchestrator) embedAndStore(ctx context.Context, p *prepared, chunks []chunk.Chunk, em *Emitter) error {
	for i := 0; i < len(chunks); {
		end := min(i+o.memory.BatchSize(o.cfg.BatchSize), len(chunks))
		batch := chunks[i:end]
		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Text
		}

		o.setState(StateEmbedding)
		vecs, err := o.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return embeddingFailure(p.path, err)
		}
		if len(vecs) != len(batch) {
			return nexuserrors.EmbeddingError(
				fmt.Sprintf("embed %s: got %d vectors for %d chunks", p.path, len(vecs), len(batch)), nil)
		}

		entries := make([]store.Entry, len(batch))
		for j, c := range batch {
			entries[j] = store.Entry{
				DocID:      p.docID,
				ChunkIndex: c.Index,
				FilePath:   p.path,
				Page:       c.Page,
				Text:       c.Text,
				Vector:     vecs[j],
			}
		}

		o.setState(StatePersisting)
		if err := o.vectors.Upsert(ctx, p.docID, entries); err != nil {
			return nexuserrors.StoreWriteError("vector", err)
		}
		if err := o.lexical.Upsert(ctx, p.docID, entries); err != nil {
			return nexuserrors.StoreWriteError("lexical", err)
		}
		p.written += len(batch)
		em.Emit(Event{Kind: EventChunkEmbedded, Path: p.path, Chunks: batch[len(batch)-1].Index + 1})
		i = end
	}
	return nil
}

func embeddingFailure(path string, err error) error {
	if errorKind(err) == ErrorKindEmbedding {
		return err
	}
	return nexuserrors.EmbeddingError(fmt.Sprintf("embed %s: %v", path, err), err)
}

// complete deletes the previous version and queues the StateStore commit.
// New entries are already in place, so a reader sees one version or the
// other throughout.
func (o *Orchestrator) complete(ctx context.Context, p *prepared, total int, progress *IndexProgress, em *Emitter) error {
	o.setState(StatePersisting)
	if p.oldDocID != "" && p.oldDocID != p.docID {
		if err := o.deleteEntries(ctx, p.oldDocID); err != nil {
			return err
		}
	}

	o.uncommitted = append(o.uncommitted, state.FileRecord{
		Path:        p.path,
		ModTime:     p.modTime,
		Size:        p.size,
		Fingerprint: p.fingerprint,
		DocID:       p.docID,
		ChunkCount:  total,
	})

	progress.FilesIndexed++
	progress.ChunksIndexed += p.written
	progress.EmbeddingsStored += p.written
	if p.limitErr != nil {
		progress.addError(p.path, p.limitErr)
	}
	em.Emit(Event{Kind: EventFileIndexed, Path: p.path, Chunks: total})
	slog.Debug("file_indexed",
		slog.String("path", p.path),
		slog.String("doc_id", p.docID),
		slog.Int("chunks", total))

	if len(o.uncommitted) >= commitBatch {
		return o.flush(ctx)
	}
	return nil
}

// flush makes the vector index durable, then commits the queued records.
// The StateStore never claims a file whose entries are not on disk.
func (o *Orchestrator) flush(ctx context.Context) error {
	if len(o.uncommitted) == 0 {
		return nil
	}
	if err := o.saveVectors(); err != nil {
		return err
	}
	for _, rec := range o.uncommitted {
		if err := o.records.Commit(ctx, rec); err != nil {
			return err
		}
	}
	o.uncommitted = o.uncommitted[:0]
	return nil
}

func (o *Orchestrator) saveVectors() error {
	if o.vectorPath == "" {
		return nil
	}
	if err := o.vectors.Save(o.vectorPath); err != nil {
		return nexuserrors.StoreWriteError("vector", err)
	}
	return nil
}

// deleteEntries removes docID from both stores.
func (o *Orchestrator) deleteEntries(ctx context.Context, docID string) error {
	if err := o.vectors.Delete(ctx, docID); err != nil {
		return nexuserrors.StoreWriteError("vector", err)
	}
	if err := o.lexical.Delete(ctx, docID); err != nil {
		return nexuserrors.StoreWriteError("lexical", err)
	}
	return nil
}

// discard drops a partially written version and its checkpoint.
func (o *Orchestrator) discard(ctx context.Context, docID string) error {
	if err := o.deleteEntries(ctx, docID); err != nil {
		return err
	}
	return o.records.ClearCheckpoint(ctx, docID)
}

// dropSkipped removes a previously indexed file that is now excluded.
func (o *Orchestrator) dropSkipped(ctx context.Context, path string, progress *IndexProgress) error {
	rec, err := o.records.Lookup(ctx, path)
	if err != nil || rec == nil {
		return err
	}
	if err := o.dropRecords(ctx, []state.FileRecord{*rec}); err != nil {
		return err
	}
	progress.FilesRemoved++
	return nil
}

// dropRecords deletes the entries of recs, saves the vector index, and
// only then removes the records.
func (o *Orchestrator) dropRecords(ctx context.Context, recs []state.FileRecord) error {
	if len(recs) == 0 {
		return nil
	}
	for _, rec := range recs {
		if err := o.deleteEntries(ctx, rec.DocID); err != nil {
			return err
		}
	}
	if err := o.saveVectors(); err != nil {
		return err
	}
	for _, rec := range recs {
		if err := o.records.Remove(ctx, rec.DocID); err != nil {
			return err
		}
	}
	return nil
}
