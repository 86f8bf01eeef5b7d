package ingestion

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// DocumentPayload is the raw content of one corpus file.
type DocumentPayload struct {
	Path string
	Data []byte
}

type DocumentParser interface {
	Parse(ctx context.Context, payload DocumentPayload) (*ParsedDocument, error)
}

// ParsedDocument is extracted text plus the rune offset at which each page
// starts. PageOffsets is empty for formats without pages.
type ParsedDocument struct {
	Title       string
	Text        string
	PageOffsets []int
}

// ParserFor returns the parser for a format, or nil when unsupported.
func ParserFor(format DocumentFormat) DocumentParser {
	switch format {
	case FormatPDF:
		return pdfParser{}
	case FormatMarkdown:
		return markdownParser{}
	case FormatCSV:
		return csvParser{}
	case FormatText:
		return textParser{}
	default:
		return nil
	}
}

type markdownParser struct{}

func (markdownParser) Parse(_ context.Context, payload DocumentPayload) (*ParsedDocument, error) {
	content := normalizePlainText(string(payload.Data))
	return &ParsedDocument{
		Title: ExtractTitle(content, baseName(payload.Path)),
		Text:  content,
	}, nil
}

type textParser struct{}

func (textParser) Parse(_ context.Context, payload DocumentPayload) (*ParsedDocument, error) {
	content := normalizePlainText(string(payload.Data))
	title := firstNonEmptyLine(content)
	if title == "" {
		title = baseName(payload.Path)
	}
	return &ParsedDocument{Title: title, Text: content}, nil
}

type pdfParser struct{}

func (pdfParser) Parse(ctx context.Context, payload DocumentPayload) (parsed *ParsedDocument, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			parsed, err = nil, fmt.Errorf("open pdf: malformed document: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(payload.Data), int64(len(payload.Data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	var (
		builder strings.Builder
		offsets = make([]int, 0, reader.NumPage())
		runes   int
	)
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		offsets = append(offsets, runes)

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract pdf text from page %d: %w", i, err)
		}
		text = normalizePlainText(text)
		if text == "" {
			continue
		}
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		builder.WriteString(text)
		runes += utf8.RuneCountInString(text)
	}

	content := builder.String()
	title := firstNonEmptyLine(content)
	if title == "" {
		title = baseName(payload.Path)
	}

	return &ParsedDocument{
		Title:       title,
		Text:        content,
		PageOffsets: offsets,
	}, nil
}

type csvParser struct{}

func (csvParser) Parse(_ context.Context, payload DocumentPayload) (*ParsedDocument, error) {
	reader := csv.NewReader(bytes.NewReader(payload.Data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	title := baseName(payload.Path)
	if len(records) == 0 {
		return &ParsedDocument{Title: title}, nil
	}

	headers := records[0]
	rows := records[1:]
	if headerTitle := firstNonEmpty(headers); headerTitle != "" {
		title = headerTitle
	}

	formatted := make([]string, 0, len(rows))
	for idx, row := range rows {
		formatted = append(formatted, formatCSVRow(headers, row, idx))
	}

	return &ParsedDocument{
		Title: title,
		Text:  strings.Join(formatted, "\n\n"),
	}, nil
}

// ExtractTitle returns the first Markdown heading, or fallback.
func ExtractTitle(content, fallback string) string {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	return fallback
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

func firstNonEmptyLine(content string) string {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func formatCSVRow(headers, row []string, idx int) string {
	builder := &strings.Builder{}
	builder.WriteString(fmt.Sprintf("Row %d", idx+1))
	if len(headers) > 0 {
		builder.WriteString("\n")
	}

	limit := len(headers)
	if len(row) < limit {
		limit = len(row)
	}

	for i := 0; i < limit; i++ {
		header := strings.TrimSpace(headers[i])
		value := strings.TrimSpace(row[i])
		if header == "" {
			header = fmt.Sprintf("Column %d", i+1)
		}
		builder.WriteString(header)
		builder.WriteString(": ")
		builder.WriteString(value)
		if i < limit-1 {
			builder.WriteString("\n")
		}
	}

	// Values beyond the header count are kept as numbered extras.
	if len(row) > len(headers) {
		for i := len(headers); i < len(row); i++ {
			builder.WriteString("\n")
			builder.WriteString(fmt.Sprintf("Extra %d: %s", i+1, strings.TrimSpace(row[i])))
		}
	}

	return builder.String()
}
