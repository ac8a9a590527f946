package chunk

import (
	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
)

// Sequence numbers chunks across the pages of one document and enforces
// the chunk ceiling for the document as a whole.
type Sequence struct {
	chunker *Chunker
	next    int
}

// NewSequence starts numbering at next, which is 0 for a fresh document or
// the checkpointed index when resuming.
func (c *Chunker) NewSequence(next int) *Sequence {
	return &Sequence{chunker: c, next: next}
}

// Next returns the index the next chunk will get.
func (s *Sequence) Next() int {
	return s.next
}

// Add chunks one page of text. When a page holds more chunks than the
// ceiling leaves room for, the chunks that fit are returned with
// ErrChunkLimitExceeded. A page with no text never fails.
func (s *Sequence) Add(page int, text string) ([]Chunk, error) {
	limit := s.chunker.maxChunks
	pieces := s.chunker.split(text)

	var err error
	if room := max(limit-s.next, 0); len(pieces) > room {
		pieces = pieces[:room]
		err = nexuserrors.ChunkLimitError(limit)
	}

	if len(pieces) == 0 {
		return nil, err
	}
	out := make([]Chunk, len(pieces))
	for i, p := range pieces {
		out[i] = Chunk{Index: s.next, Page: page, Text: p.Text, Start: p.Start, End: p.End}
		s.next++
	}
	return out, err
}
