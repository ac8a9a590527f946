// Package index runs indexing: discovery, extraction, chunking, embedding
// and persistence into the vector, lexical and state stores.
package index

import (
	"fmt"
	"time"

	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
)

// State is the orchestrator's position in a run.
type State int32

const (
	StateIdle State = iota
	StateDiscovering
	StateExtracting
	StateChunking
	StateEmbedding
	StatePersisting
	StateDone
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateExtracting:
		return "extracting"
	case StateChunking:
		return "chunking"
	case StateEmbedding:
		return "embedding"
	case StatePersisting:
		return "persisting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// EventKind identifies a progress event.
type EventKind string

const (
	EventFileStarted   EventKind = "file-started"
	EventFileIndexed   EventKind = "file-indexed"
	EventFileSkipped   EventKind = "file-skipped"
	EventFileUnchanged EventKind = "file-unchanged"
	EventChunkEmbedded EventKind = "chunk-embedded"
	EventPageProcessed EventKind = "page-processed"
	EventDone          EventKind = "done"
	EventError         EventKind = "error"
)

// Terminal reports whether the kind ends a run.
func (k EventKind) Terminal() bool {
	return k == EventDone || k == EventError
}

// Event is one progress notification.
type Event struct {
	Kind       EventKind      `json:"kind"`
	Path       string         `json:"path,omitempty"`
	Page       int            `json:"page,omitempty"`        // 1-based, page-processed only
	TotalPages int            `json:"total_pages,omitempty"` // page-processed only
	Chunks     int            `json:"chunks,omitempty"`      // Chunks embedded so far for Path
	Reason     string         `json:"reason,omitempty"`      // file-skipped only
	Message    string         `json:"message,omitempty"`     // error only
	Progress   *IndexProgress `json:"progress,omitempty"`    // done only
}

// Kinds of recoverable per-file errors.
const (
	ErrorKindExtraction = "ExtractionError"
	ErrorKindChunkLimit = "ChunkLimitExceeded"
	ErrorKindEmbedding  = "EmbeddingError"
)

// FileError is a recoverable failure recorded against one file.
type FileError struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// IndexProgress summarizes a run.
type IndexProgress struct {
	FilesIndexed     int           `json:"files_indexed"`
	FilesSkipped     int           `json:"files_skipped"`
	FilesUnchanged   int           `json:"files_unchanged"`
	FilesRemoved     int           `json:"files_removed"`
	ChunksIndexed    int           `json:"chunks_indexed"`
	EmbeddingsStored int           `json:"embeddings_stored"`
	Errors           []FileError   `json:"errors"`
	Duration         time.Duration `json:"duration"`
}

func (p *IndexProgress) addError(path string, err error) {
	p.Errors = append(p.Errors, FileError{Path: path, Kind: errorKind(err), Message: err.Error()})
}

func errorKind(err error) string {
	switch nexuserrors.GetCode(err) {
	case nexuserrors.ErrCodeChunkLimitExceeded:
		return ErrorKindChunkLimit
	case nexuserrors.ErrCodeEmbeddingFailed, nexuserrors.ErrCodeNetworkTimeout,
		nexuserrors.ErrCodeNetworkUnavailable, nexuserrors.ErrCodeDimensionMismatch:
		return ErrorKindEmbedding
	default:
		return ErrorKindExtraction
	}
}
