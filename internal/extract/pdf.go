package extract

import (
	"bytes"
	"io"
	"os"

	"github.com/ledongthuc/pdf"
)

// extractPDF returns the plain text of a PDF file. A PDF with no extractable
// text (scanned pages without an OCR layer) yields an empty string.
func extractPDF(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(b) == 0 {
		return "", nil
	}
	reader, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return "", err
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
