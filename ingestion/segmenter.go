package ingestion

import (
	"sort"

	"github.com/fabfab/fiscal-qa/config"
)

// ErrConfiguration is returned for chunking parameters that violate
// 0 <= overlap < size.
var ErrConfiguration = config.ErrConfiguration

// Chunk is a contiguous window of a document's text. Start and End are rune
// offsets (half-open); Overlap is the number of leading runes shared with the
// previous chunk of the same document.
type Chunk struct {
	DocumentID string
	Source     string
	Title      string
	Position   int
	Start      int
	End        int
	Overlap    int
	Page       int
	Text       string
}

// Segmenter splits text into fixed-size character windows. Adjacent windows
// share exactly overlap characters.
type Segmenter struct {
	size    int
	overlap int
}

func NewSegmenter(size, overlap int) (*Segmenter, error) {
	if err := config.ValidateChunking(size, overlap); err != nil {
		return nil, err
	}
	return &Segmenter{size: size, overlap: overlap}, nil
}

func (s *Segmenter) ChunkSize() int    { return s.size }
func (s *Segmenter) ChunkOverlap() int { return s.overlap }

// Segment is deterministic in (doc, size, overlap). The final chunk may be
// shorter than size; segmentation stops at the first window that reaches the
// end of the text, so no chunk lies entirely inside its predecessor.
func (s *Segmenter) Segment(doc Document) []Chunk {
	runes := []rune(doc.Text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	stride := s.size - s.overlap
	chunks := make([]Chunk, 0, n/stride+1)
	for start := 0; ; start += stride {
		end := start + s.size
		if end > n {
			end = n
		}

		overlap := 0
		if start > 0 {
			overlap = s.overlap
		}

		chunks = append(chunks, Chunk{
			DocumentID: doc.ID,
			Source:     doc.Path,
			Title:      doc.Title,
			Position:   len(chunks),
			Start:      start,
			End:        end,
			Overlap:    overlap,
			Page:       pageAt(doc.PageOffsets, start),
			Text:       string(runes[start:end]),
		})

		if end == n {
			break
		}
	}

	return chunks
}

// pageAt returns the 1-based page containing offset, or 0 without page data.
func pageAt(offsets []int, offset int) int {
	if len(offsets) == 0 {
		return 0
	}
	idx := sort.Search(len(offsets), func(i int) bool { return offsets[i] > offset })
	if idx == 0 {
		return 1
	}
	return idx
}
