package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Document is one loaded corpus file. It is immutable once loaded.
type Document struct {
	ID          string
	Path        string
	Title       string
	Text        string
	PageOffsets []int
}

// DocumentID derives a stable identifier from the corpus-relative path, so
// rebuilding an index over the same corpus reuses the same ids.
func DocumentID(relPath string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("fiscal-qa:"+relPath)).String()
}

// LoadDirectory enumerates files under root whose slash-separated relative path
// matches glob (for example "**/*.pdf", where "**" spans any number of
// directories) and parses each supported file.
// Files in unsupported formats are skipped; parse failures abort the load.
func LoadDirectory(ctx context.Context, root, glob string, logger *zap.Logger) ([]Document, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if glob == "" {
		glob = "**/*"
	}

	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("data directory: %w", err)
	}

	matches, err := doublestar.Glob(os.DirFS(root), glob, doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
	if err != nil {
		if errors.Is(err, doublestar.ErrBadPattern) {
			return nil, fmt.Errorf("%w: data glob %q: %w", ErrConfiguration, glob, err)
		}
		return nil, fmt.Errorf("walk data directory: %w", err)
	}
	sort.Strings(matches)

	docs := make([]Document, 0, len(matches))
	for _, rel := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := filepath.Join(root, filepath.FromSlash(rel))

		parser := ParserFor(DetectFormat(p))
		if parser == nil {
			logger.Debug("skip unsupported file", zap.String("path", rel))
			continue
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}

		parsed, err := parser.Parse(ctx, DocumentPayload{Path: rel, Data: data})
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", rel, err)
		}
		if strings.TrimSpace(parsed.Text) == "" {
			logger.Warn("skip document without text", zap.String("path", rel))
			continue
		}

		docs = append(docs, Document{
			ID:          DocumentID(rel),
			Path:        rel,
			Title:       parsed.Title,
			Text:        parsed.Text,
			PageOffsets: parsed.PageOffsets,
		})
		logger.Debug("loaded document", zap.String("path", rel), zap.Int("pages", len(parsed.PageOffsets)))
	}

	return docs, nil
}
