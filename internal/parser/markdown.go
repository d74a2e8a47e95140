package parser

import (
	"bytes"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/dgallion1/copyedit/internal/document"
)

// MarkdownParser handles Markdown files using goldmark. Each h1/h2 section
// becomes a page.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(r io.Reader, filename string) (*document.Document, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	md := goldmark.New()
	root := md.Parser().Parse(text.NewReader(src))

	title := titleFromFilename(filename)
	titled := false
	var b pageBuilder
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			heading := strings.TrimSpace(string(h.Text(src)))
			if h.Level == 1 && !titled && heading != "" {
				title, titled = heading, true
			}
			b.heading(h.Level, heading)
			continue
		}
		b.block(extractText(n, src))
	}

	return textDocument(title, b.finish()), nil
}

// extractText returns the source text of a block. Blocks with their own
// lines (paragraphs, code) keep the raw Markdown; containers such as lists
// and quotes are joined from their children.
func extractText(n ast.Node, src []byte) string {
	if n.Type() == ast.TypeBlock && n.Lines().Len() > 0 {
		var buf bytes.Buffer
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			buf.Write(line.Value(src))
		}
		return strings.TrimSpace(buf.String())
	}
	var parts []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if s := extractText(c, src); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}
