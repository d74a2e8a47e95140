package parser

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/gen2brain/go-fitz"
	pdflib "github.com/ledongthuc/pdf"

	"github.com/dgallion1/copyedit/internal/document"
)

// PDFParser handles PDF files. In text mode it tries the pure Go reader
// first, then MuPDF, then pdftotext if enabled. In image mode every page is
// rendered to PNG with MuPDF.
type PDFParser struct {
	Mode              document.Mode
	DPI               int
	FallbackPdftotext bool
}

func (p *PDFParser) Parse(r io.Reader, filename string) (*document.Document, error) {
	tmpPath, _, err := spool(r, "copyedit-pdf-*.pdf")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmpPath)

	title := titleFromFilename(filename)
	if p.Mode == document.ModeImage {
		return renderPDF(tmpPath, title, p.dpi())
	}

	pages, err := extractPDFText(tmpPath)
	if err != nil || blank(pages) {
		pages, err = extractFitzText(tmpPath)
	}
	if (err != nil || blank(pages)) && p.FallbackPdftotext {
		var text string
		text, err = extractPdftotext(tmpPath)
		pages = splitPages(text)
	}
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	doc := &document.Document{Title: title, Mode: document.ModeText}
	for i, page := range pages {
		page = strings.TrimSpace(page)
		if page == "" {
			continue
		}
		// Keep source page numbers so suggestions point at the real page.
		doc.Pages = append(doc.Pages, document.TextPage(i+1, page))
	}
	return doc, nil
}

func (p *PDFParser) dpi() float64 {
	if p.DPI <= 0 {
		return DefaultDPI
	}
	return float64(p.DPI)
}

func extractPDFText(path string) ([]string, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	numPages := reader.NumPage()
	pages := make([]string, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages[i-1] = text
	}
	return pages, nil
}

func extractFitzText(path string) ([]string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	pages := make([]string, doc.NumPage())
	for i := range pages {
		text, err := doc.Text(i)
		if err != nil {
			continue
		}
		pages[i] = text
	}
	return pages, nil
}

func renderPDF(path, title string, dpi float64) (*document.Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	out := &document.Document{Title: title, Mode: document.ModeImage}
	for i := 0; i < doc.NumPage(); i++ {
		png, err := doc.ImagePNG(i, dpi)
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", i+1, err)
		}
		out.Pages = append(out.Pages, document.ImagePage(i+1, &document.ImageRef{
			MIMEType: "image/png",
			Data:     png,
		}))
	}
	return out, nil
}

func extractPdftotext(path string) (string, error) {
	cmd := exec.Command("pdftotext", "-layout", path, "-")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w", err)
	}
	return string(out), nil
}

// splitPages splits pdftotext output on its form-feed page separators.
func splitPages(text string) []string {
	return strings.Split(text, "\f")
}

func blank(pages []string) bool {
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			return false
		}
	}
	return true
}
