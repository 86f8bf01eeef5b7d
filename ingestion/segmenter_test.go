package ingestion_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/fiscal-qa/ingestion"
)

// reconstruct concatenates the non-overlapping region of every chunk.
func reconstruct(chunks []ingestion.Chunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		runes := []rune(c.Text)
		sb.WriteString(string(runes[c.Overlap:]))
	}
	return sb.String()
}

func TestSegmentCoverageAndBounds(t *testing.T) {
	text := strings.Repeat("The FY 2024 request funds the Silent Knight Radar program. ", 40)
	doc := ingestion.Document{ID: "doc", Path: "a.pdf", Text: text}

	params := []struct{ size, overlap int }{
		{1000, 0},
		{1000, 100},
		{100, 99},
		{7, 3},
		{1, 0},
	}
	for _, p := range params {
		seg, err := ingestion.NewSegmenter(p.size, p.overlap)
		require.NoError(t, err)

		chunks := seg.Segment(doc)
		require.NotEmpty(t, chunks)
		assert.Equal(t, text, reconstruct(chunks), "size=%d overlap=%d", p.size, p.overlap)

		for i, c := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), p.size)
			assert.Equal(t, i, c.Position)
			if i == 0 {
				assert.Equal(t, 0, c.Start)
				assert.Equal(t, 0, c.Overlap)
				continue
			}
			prev := []rune(chunks[i-1].Text)
			assert.Equal(t, chunks[i-1].Start+p.size-p.overlap, c.Start)
			assert.Equal(t, string(prev[len(prev)-p.overlap:]), string([]rune(c.Text)[:p.overlap]))
		}
		assert.Equal(t, utf8.RuneCountInString(text), chunks[len(chunks)-1].End)
	}
}

func TestSegmentIsDeterministic(t *testing.T) {
	seg, err := ingestion.NewSegmenter(50, 10)
	require.NoError(t, err)

	doc := ingestion.Document{ID: "doc", Text: strings.Repeat("Procurement, Defense-Wide. ", 20)}
	assert.Equal(t, seg.Segment(doc), seg.Segment(doc))
}

func TestSegmentShortAndEmptyText(t *testing.T) {
	seg, err := ingestion.NewSegmenter(1000, 100)
	require.NoError(t, err)

	assert.Empty(t, seg.Segment(ingestion.Document{ID: "empty"}))

	chunks := seg.Segment(ingestion.Document{ID: "short", Text: "FY-24 only"})
	require.Len(t, chunks, 1)
	assert.Equal(t, "FY-24 only", chunks[0].Text)
}

func TestSegmentStopsWhenWindowReachesEnd(t *testing.T) {
	seg, err := ingestion.NewSegmenter(4, 2)
	require.NoError(t, err)

	chunks := seg.Segment(ingestion.Document{ID: "doc", Text: "abcdefghij"})
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	assert.Equal(t, []string{"abcd", "cdef", "efgh", "ghij"}, texts)
}

func TestSegmentCountsCharactersNotBytes(t *testing.T) {
	seg, err := ingestion.NewSegmenter(3, 1)
	require.NoError(t, err)

	chunks := seg.Segment(ingestion.Document{ID: "doc", Text: "€€€€€"})
	require.Len(t, chunks, 2)
	assert.Equal(t, "€€€", chunks[0].Text)
	assert.Equal(t, "€€€", chunks[1].Text)
}

func TestSegmentAssignsPages(t *testing.T) {
	seg, err := ingestion.NewSegmenter(5, 0)
	require.NoError(t, err)

	doc := ingestion.Document{ID: "doc", Text: "aaaaabbbbbccccc", PageOffsets: []int{0, 5, 5, 10}}
	chunks := seg.Segment(doc)
	require.Len(t, chunks, 3)
	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, 3, chunks[1].Page, "empty page 2 starts at the same offset as page 3")
	assert.Equal(t, 4, chunks[2].Page)
}

func TestNewSegmenterRejectsInvalidParameters(t *testing.T) {
	cases := []struct{ size, overlap int }{
		{100, 100},
		{100, 150},
		{0, 0},
		{100, -1},
	}
	for _, c := range cases {
		_, err := ingestion.NewSegmenter(c.size, c.overlap)
		assert.ErrorIs(t, err, ingestion.ErrConfiguration, "size=%d overlap=%d", c.size, c.overlap)
	}
}
