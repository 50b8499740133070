package pdf

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrInvalidPDF is returned when input bytes cannot be parsed as a PDF
var ErrInvalidPDF = errors.New("invalid PDF document")

func init() {
	// Keep pdfcpu from creating a configuration directory in the user's home,
	// which is read-only inside the runtime image.
	api.DisableConfigDir()
}

func newConfiguration() *model.Configuration {
	return model.NewDefaultConfiguration()
}

// PageCount returns the number of pages in a PDF
func PageCount(pdf []byte) (int, error) {
	if len(pdf) == 0 {
		return 0, ErrInvalidPDF
	}

	n, err := api.PageCount(bytes.NewReader(pdf), newConfiguration())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	return n, nil
}

// SeparatePages splits a PDF into single-page PDFs, preserving page order
func SeparatePages(pdf []byte) ([][]byte, error) {
	n, err := PageCount(pdf)
	if err != nil {
		return nil, err
	}

	pages := make([][]byte, 0, n)
	for i := 1; i <= n; i++ {
		var buf bytes.Buffer
		if err := api.Trim(bytes.NewReader(pdf), &buf, []string{strconv.Itoa(i)}, newConfiguration()); err != nil {
			return nil, fmt.Errorf("failed to extract page %d: %w", i, err)
		}
		pages = append(pages, buf.Bytes())
	}

	return pages, nil
}

// MergePages concatenates PDFs into a single document in the given order
func MergePages(pages [][]byte) ([]byte, error) {
	switch len(pages) {
	case 0:
		return nil, fmt.Errorf("%w: no pages to merge", ErrInvalidPDF)
	case 1:
		out := make([]byte, len(pages[0]))
		copy(out, pages[0])
		return out, nil
	}

	readers := make([]io.ReadSeeker, 0, len(pages))
	for i, page := range pages {
		if len(page) == 0 {
			return nil, fmt.Errorf("%w: page %d is empty", ErrInvalidPDF, i+1)
		}
		readers = append(readers, bytes.NewReader(page))
	}

	var buf bytes.Buffer
	if err := api.MergeRaw(readers, &buf, false, newConfiguration()); err != nil {
		return nil, fmt.Errorf("failed to merge pages: %w", err)
	}
	return buf.Bytes(), nil
}

// Base64ToPDF decodes a base64 payload. Both standard and URL-safe alphabets are
// accepted, with or without padding.
func Base64ToPDF(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}

	var firstErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, fmt.Errorf("failed to decode base64 document: %w", firstErr)
}

// PDFToBase64 encodes PDF bytes as standard base64
func PDFToBase64(pdf []byte) string {
	return base64.StdEncoding.EncodeToString(pdf)
}
