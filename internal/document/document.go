package document

import "fmt"

// Mode selects how page content is sent upstream.
type Mode string

const (
	ModeText  Mode = "text"
	ModeImage Mode = "image"
)

// ParseMode validates a user-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeText, ModeImage:
		return Mode(s), nil
	case "":
		return ModeText, nil
	}
	return "", fmt.Errorf("unknown mode %q (want text or image)", s)
}

// Document is the extractor's output: an ordered run of pages.
type Document struct {
	Title string     // Document title (from metadata or filename)
	Mode  Mode       // Payload kind carried by every page
	Pages []PageUnit // Ascending by Number
}

// ImageRef is a rendered page image.
type ImageRef struct {
	MIMEType string
	Data     []byte
}

// PageUnit is one page's content. Exactly one of Text or Image is set.
type PageUnit struct {
	Number int       // 1-based page number
	Text   string    // Text mode payload
	Image  *ImageRef // Image mode payload
}

// TextPage builds a text-mode unit.
func TextPage(n int, text string) PageUnit {
	return PageUnit{Number: n, Text: text}
}

// ImagePage builds an image-mode unit.
func ImagePage(n int, img *ImageRef) PageUnit {
	return PageUnit{Number: n, Image: img}
}

// IsImage reports whether the unit carries an image payload.
func (u PageUnit) IsImage() bool {
	return u.Image != nil
}

// Validate checks the page-order and payload invariants of a unit sequence.
func Validate(units []PageUnit) error {
	prev := 0
	for i, u := range units {
		if u.Number <= 0 {
			return fmt.Errorf("unit %d: page number %d is not positive", i, u.Number)
		}
		if u.Number <= prev {
			return fmt.Errorf("unit %d: page %d is not after page %d", i, u.Number, prev)
		}
		if u.Image != nil && u.Text != "" {
			return fmt.Errorf("page %d: carries both text and image", u.Number)
		}
		prev = u.Number
	}
	return nil
}

// FormatPage renders a text page the way it is sent upstream.
func FormatPage(n int, text string) string {
	return fmt.Sprintf("page %d:\n%s", n, text)
}
