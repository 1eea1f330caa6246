package pdfutil

import (
	"fmt"

	pdf "github.com/ledongthuc/pdf"
)

// Page is the plain text of one PDF page.
type Page struct {
	Number int
	Text   string
}

// ExtractPages opens the PDF at path and returns the plain text of every
// non-empty page using ledongthuc/pdf.
func ExtractPages(path string) ([]Page, error) {
	f, doc, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	return readPages(doc)
}

func readPages(doc *pdf.Reader) ([]Page, error) {
	total := doc.NumPage()
	pages := make([]Page, 0, total)
	for n := 1; n <= total; n++ {
		p := doc.Page(n)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", n, err)
		}
		pages = append(pages, Page{Number: n, Text: content})
	}
	return pages, nil
}
