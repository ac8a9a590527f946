package chunk

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
)

var (
	// Blank lines separate paragraphs.
	paragraphBreak = regexp.MustCompile(`\n[ \t]*\n\s*`)

	// Sentence terminators followed by whitespace.
	sentenceEnd = regexp.MustCompile(`[.!?]+["')\]]*\s+`)
)

// Chunker splits text on paragraph boundaries, then sentence boundaries,
// and finally with a fixed-size sliding window for runs that are still
// too long. Small neighbouring units are packed up to the target size.
type Chunker struct {
	size      int
	overlap   int
	maxChunks int
}

// New creates a Chunker. A zero Size selects the default size and, unless
// set, the default overlap. Overlap is clamped below Size.
func New(opts Options) *Chunker {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
		if opts.Overlap == 0 {
			opts.Overlap = DefaultOverlap
		}
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	if opts.Overlap >= opts.Size {
		opts.Overlap = opts.Size / 10
	}
	if opts.MaxChunks <= 0 {
		opts.MaxChunks = DefaultMaxChunks
	}
	return &Chunker{size: opts.Size, overlap: opts.Overlap, maxChunks: opts.MaxChunks}
}

// MaxChunks returns the per-document ceiling.
func (c *Chunker) MaxChunks() int {
	return c.maxChunks
}

// Chunk splits text into pieces. When the text needs more than MaxChunks
// pieces, the first MaxChunks are returned with ErrChunkLimitExceeded.
func (c *Chunker) Chunk(text string) ([]Piece, error) {
	pieces := c.split(text)
	if len(pieces) > c.maxChunks {
		return pieces[:c.maxChunks], nexuserrors.ChunkLimitError(c.maxChunks)
	}
	return pieces, nil
}

func (c *Chunker) split(text string) []Piece {
	var units []span
	for _, para := range paragraphs(text) {
		if para.end-para.start <= c.size {
			units = append(units, para)
			continue
		}
		for _, sent := range sentences(text, para) {
			if sent.end-sent.start <= c.size {
				units = append(units, sent)
				continue
			}
			units = c.window(text, sent, units)
		}
	}

	var pieces []Piece
	emit := func(s span) {
		s = trim(text, s)
		if s.end > s.start {
			pieces = append(pieces, Piece{Text: text[s.start:s.end], Start: s.start, End: s.end})
		}
	}

	var cur span
	open := false
	for _, u := range units {
		switch {
		case !open:
			cur, open = u, true
		case u.end-cur.start <= c.size && u.start >= cur.end:
			cur.end = u.end
		default:
			emit(cur)
			cur = u
		}
	}
	if open {
		emit(cur)
	}
	return pieces
}

// window cuts s into overlapping windows of at most c.size bytes, preferring
// to end each window at whitespace and never splitting a UTF-8 sequence.
func (c *Chunker) window(text string, s span, out []span) []span {
	pos := s.start
	for pos < s.end {
		stop := pos + c.size
		if stop >= s.end {
			out = append(out, span{pos, s.end})
			break
		}
		stop = c.cutPoint(text, pos, stop)
		out = append(out, span{pos, stop})

		next := stop - c.overlap
		for next < stop && !utf8.RuneStart(text[next]) {
			next++
		}
		if next <= pos {
			next = stop
		}
		pos = next
	}
	return out
}

// cutPoint backs stop off to whitespace within the last quarter of the
// window, else to the nearest rune boundary.
func (c *Chunker) cutPoint(text string, pos, stop int) int {
	floor := pos + c.size*3/4
	for i := stop; i > floor; i-- {
		if isSpace(text[i-1]) {
			return i
		}
	}
	for stop > pos && !utf8.RuneStart(text[stop]) {
		stop--
	}
	if stop == pos {
		stop = pos + 1
		for stop < len(text) && !utf8.RuneStart(text[stop]) {
			stop++
		}
	}
	return stop
}

// paragraphs returns the blank-line separated blocks of text. A block that
// opens a fenced code section is merged with the following blocks until the
// fence is closed.
func paragraphs(text string) []span {
	var out []span
	start := 0
	for _, m := range paragraphBreak.FindAllStringIndex(text, -1) {
		out = append(out, span{start, m[0]})
		start = m[1]
	}
	out = append(out, span{start, len(text)})

	var merged []span
	inFence := false
	for _, p := range out {
		fences := strings.Count(text[p.start:p.end], "```")
		if inFence {
			merged[len(merged)-1].end = p.end
			if fences%2 == 1 {
				inFence = false
			}
			continue
		}
		merged = append(merged, p)
		if fences%2 == 1 {
			inFence = true
		}
	}

	result := merged[:0]
	for _, p := range merged {
		if p = trim(text, p); p.end > p.start {
			result = append(result, p)
		}
	}
	return result
}

// sentences splits a paragraph span at sentence terminators.
func sentences(text string, p span) []span {
	var out []span
	start := p.start
	for _, m := range sentenceEnd.FindAllStringIndex(text[p.start:p.end], -1) {
		end := p.start + m[1]
		out = append(out, span{start, end})
		start = end
	}
	if start < p.end {
		out = append(out, span{start, p.end})
	}
	return out
}

func trim(text string, s span) span {
	for s.start < s.end {
		r, n := utf8.DecodeRuneInString(text[s.start:s.end])
		if !unicode.IsSpace(r) {
			break
		}
		s.start += n
	}
	for s.end > s.start {
		r, n := utf8.DecodeLastRuneInString(text[s.start:s.end])
		if !unicode.IsSpace(r) {
			break
		}
		s.end -= n
	}
	return s
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
