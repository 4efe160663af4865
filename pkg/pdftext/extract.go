// Package pdftext pulls the visible text out of PDF syllabi.
//
// Decoding goes through github.com/ledongthuc/pdf, which applies each font's encoding
// (standard encodings, Differences arrays and ToUnicode maps). Scanned pages carry no text
// and yield ErrNoText.
package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

var (
	// ErrNotPDF indicates the input does not start with a PDF header.
	ErrNotPDF = errors.New("not a pdf document")
	// ErrNoText indicates no extractable text was found.
	ErrNoText = errors.New("pdf contains no extractable text")
)

// Extractor implements text extraction for PDF documents.
type Extractor struct{}

// New returns a PDF text extractor.
func New() Extractor {
	return Extractor{}
}

// Extract returns the text of every page in order, pages separated by a blank line.
// The result is always valid UTF-8.
func (Extractor) Extract(ctx context.Context, content []byte) (text string, err error) {
	if !bytes.HasPrefix(bytes.TrimLeft(content, " \t\r\n"), []byte("%PDF-")) {
		return "", ErrNotPDF
	}

	// The parser panics on some malformed object graphs.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("read pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		plain, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("read pdf page %d: %w", i, err)
		}
		if plain = strings.TrimSpace(plain); plain != "" {
			pages = append(pages, plain)
		}
	}

	text = strings.ToValidUTF8(strings.Join(pages, "\n\n"), "")
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}
