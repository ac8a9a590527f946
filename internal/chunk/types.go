package chunk

// Defaults for the chunker.
const (
	DefaultSize      = 1500 // Target chunk length in bytes
	DefaultOverlap   = 150  // Overlap between sliding-window chunks
	DefaultMaxChunks = 500  // Ceiling per document
)

// Piece is one segment of a text. Start and End are byte offsets into the
// input, so text[Start:End] == Text.
type Piece struct {
	Text  string
	Start int
	End   int
}

// Chunk is a Piece placed in a document. Index is contiguous from 0 across
// all pages of the document.
type Chunk struct {
	Index int
	Page  int // 0-based page, 0 for non-paginated documents
	Text  string
	Start int // Byte offset within the page text
	End   int
}

// Options configures a Chunker. Zero values take the defaults.
type Options struct {
	Size      int
	Overlap   int
	MaxChunks int
}

// span is a half-open byte range [start, end).
type span struct {
	start, end int
}
