package ingestion_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/fiscal-qa/ingestion"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDirectoryMatchesGlob(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "rdte/overview.md", "# RDT&E Overview\n\nThe FY 2024 request.")
	writeFile(t, root, "procurement/notes.txt", "Procurement notes\r\nline two")
	writeFile(t, root, "procurement/ignored.bin", "binary")
	writeFile(t, root, "empty.txt", "   \n")

	docs, err := ingestion.LoadDirectory(context.Background(), root, "**/*", nil)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "procurement/notes.txt", docs[0].Path)
	assert.Equal(t, "Procurement notes", docs[0].Title)
	assert.Equal(t, "Procurement notes\nline two", docs[0].Text)

	assert.Equal(t, "rdte/overview.md", docs[1].Path)
	assert.Equal(t, "RDT&E Overview", docs[1].Title)
	assert.Equal(t, ingestion.DocumentID("rdte/overview.md"), docs[1].ID)

	mdOnly, err := ingestion.LoadDirectory(context.Background(), root, "**/*.md", nil)
	require.NoError(t, err)
	require.Len(t, mdOnly, 1)
}

func TestLoadDirectoryMissingRoot(t *testing.T) {
	_, err := ingestion.LoadDirectory(context.Background(), filepath.Join(t.TempDir(), "missing"), "**/*.pdf", nil)
	assert.Error(t, err)
}

func TestLoadDirectoryRejectsBrokenPDF(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "broken.pdf", "not a pdf at all")

	_, err := ingestion.LoadDirectory(context.Background(), root, "**/*.pdf", nil)
	assert.ErrorContains(t, err, "broken.pdf")
}

func TestCSVParserRendersRows(t *testing.T) {
	parser := ingestion.ParserFor(ingestion.FormatCSV)
	require.NotNil(t, parser)

	parsed, err := parser.Parse(context.Background(), ingestion.DocumentPayload{
		Path: "lines.csv",
		Data: []byte("Program,FY 2024\nTeleport,12.5\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Program", parsed.Title)
	assert.Equal(t, "Row 1\nProgram: Teleport\nFY 2024: 12.5", parsed.Text)
}

func TestLoadDirectoryGlobPatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "root level")
	writeFile(t, root, "a.md", "# Markdown")
	writeFile(t, root, "fy24/b.txt", "fiscal year")
	writeFile(t, root, "fy24/procurement/c.txt", "nested")

	tests := []struct {
		glob string
		want []string
	}{
		{"**/*.txt", []string{"a.txt", "fy24/b.txt", "fy24/procurement/c.txt"}},
		{"**/*.md", []string{"a.md"}},
		{"fy24/*.txt", []string{"fy24/b.txt"}},
		{"*.txt", []string{"a.txt"}},
		{"fy24/**", []string{"fy24/b.txt", "fy24/procurement/c.txt"}},
		{"fy2[0-3]/*.txt", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.glob, func(t *testing.T) {
			docs, err := ingestion.LoadDirectory(context.Background(), root, tt.glob, nil)
			require.NoError(t, err)
			paths := make([]string, 0, len(docs))
			for _, d := range docs {
				paths = append(paths, d.Path)
			}
			assert.Equal(t, tt.want, paths)
		})
	}
}

func TestLoadDirectoryRejectsBadGlob(t *testing.T) {
	_, err := ingestion.LoadDirectory(context.Background(), t.TempDir(), "fy24/[", nil)
	assert.ErrorIs(t, err, ingestion.ErrConfiguration)
}

func TestExtractTitle(t *testing.T) {
	content := "Some intro\n# Heading One\nMore text"
	assert.Equal(t, "Heading One", ingestion.ExtractTitle(content, "fallback"))
	assert.Equal(t, "fallback", ingestion.ExtractTitle("no headings", "fallback"))
}
