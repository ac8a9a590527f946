package state

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
)

// docNamespace scopes doc_id derivation so ids never collide with other
// SHA-1 UUIDs.
var docNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/Aman-CERP/nexus/doc"))

// FileRecord is the bookkeeping row for one indexed file.
type FileRecord struct {
	Path        string    `json:"path"`        // Absolute path, unique key
	ModTime     time.Time `json:"mod_time"`    // mtime at index time (hint only)
	Size        int64     `json:"size"`        // Size in bytes at index time
	Fingerprint string    `json:"fingerprint"` // SHA-256 of content, hex
	DocID       string    `json:"doc_id"`      // Stable id shared with the vector and lexical stores
	ChunkCount  int       `json:"chunk_count"` // Number of chunks written for DocID
	IndexedAt   time.Time `json:"indexed_at"`  // When the record was committed
}

// Candidate describes a file seen during discovery.
type Candidate struct {
	Path        string
	ModTime     time.Time
	Size        int64
	Fingerprint string
}

// Verdict is the outcome of classifying a candidate.
type Verdict int

const (
	New Verdict = iota
	Unchanged
	Changed
	Skip
)

// String returns the lowercase verdict name.
func (v Verdict) String() string {
	switch v {
	case New:
		return "new"
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	case Skip:
		return "skip"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Classification is returned by Store.Classify.
type Classification struct {
	Verdict  Verdict
	OldDocID string      // Set for Changed
	Reason   string      // Set for Skip
	Record   *FileRecord // Existing record, if any
}

// Checkpoint marks progress through one document that has started writing
// to the stores but has not been committed yet.
type Checkpoint struct {
	DocID      string
	Path       string
	LastPage   int // Last completed page, -1 when none
	TotalPages int // 0 for non-paginated documents
	NextChunk  int // chunk_index the next page continues from
	UpdatedAt  time.Time
}

// DocID derives the document id for a file version. Identical
// (path, fingerprint) pairs always map to the same id.
func DocID(path, fingerprint string) string {
	return uuid.NewSHA1(docNamespace, []byte(path+"\x00"+fingerprint)).String()
}

// Fingerprint returns the hex SHA-256 of everything read from r.
func Fingerprint(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintFile hashes the file at path.
func FingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Fingerprint(f)
}
