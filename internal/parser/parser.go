package parser

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgallion1/copyedit/internal/document"
)

// Parser converts raw document bytes into ordered pages.
type Parser interface {
	Parse(r io.Reader, filename string) (*document.Document, error)
}

// ParseOptions controls extraction.
type ParseOptions struct {
	Mode              document.Mode
	DPI               int  // Rasterization resolution for image mode.
	FallbackPdftotext bool // Try pdftotext when the Go PDF readers fail.
}

// DefaultDPI balances legibility against the per-image token cost.
const DefaultDPI = 110

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// ForFile returns the appropriate parser for a filename. Image mode is only
// available for PDFs, which are rendered page by page.
func ForFile(filename string, opts ParseOptions) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if opts.Mode == "" {
		opts.Mode = document.ModeText
	}
	if opts.Mode == document.ModeImage && ext != ".pdf" {
		return nil, fmt.Errorf("image mode needs a PDF, got %s", ext)
	}
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		dpi := opts.DPI
		if dpi <= 0 {
			dpi = DefaultDPI
		}
		return &PDFParser{Mode: opts.Mode, DPI: dpi, FallbackPdftotext: opts.FallbackPdftotext}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// titleFromFilename strips the directory and extension.
func titleFromFilename(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// textDocument numbers non-empty sections as consecutive pages.
func textDocument(title string, sections []string) *document.Document {
	doc := &document.Document{Title: title, Mode: document.ModeText}
	for _, s := range sections {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		doc.Pages = append(doc.Pages, document.TextPage(len(doc.Pages)+1, s))
	}
	return doc
}

// spool copies r to a temp file for libraries that need a path or a
// ReadSeeker. The caller removes the file.
func spool(r io.Reader, pattern string) (string, int64, error) {
	tmp, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	size, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("write temp file: %w", err)
	}
	return tmp.Name(), size, nil
}

// pageBuilder splits heading-structured documents into pages: every
// top-level or second-level heading starts a new page.
type pageBuilder struct {
	pages []string
	cur   strings.Builder
}

const pageBreakLevel = 2

func (b *pageBuilder) heading(level int, title string) {
	if title == "" {
		return
	}
	if level <= pageBreakLevel {
		b.flush()
	}
	b.block(strings.Repeat("#", level) + " " + title)
}

func (b *pageBuilder) block(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if b.cur.Len() > 0 {
		b.cur.WriteString("\n\n")
	}
	b.cur.WriteString(text)
}

func (b *pageBuilder) flush() {
	if b.cur.Len() > 0 {
		b.pages = append(b.pages, b.cur.String())
		b.cur.Reset()
	}
}

func (b *pageBuilder) finish() []string {
	b.flush()
	return b.pages
}
