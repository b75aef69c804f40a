package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

const (
	MimePDF  = "application/pdf"
	MimeText = "text/plain"
)

// ErrNotText is returned for payloads that are not valid UTF-8 text.
var ErrNotText = errors.New("payload is not UTF-8 text")

// TextFromBytes extracts the text layer of a PDF or validates a plain text
// payload. maxChars > 0 truncates the result on a rune boundary.
func TextFromBytes(ctx context.Context, data []byte, mimeType string, maxChars int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var (
		text string
		err  error
	)
	switch normalizeMimeType(mimeType) {
	case MimePDF:
		text, err = extractPDF(data)
	case MimeText:
		if !utf8.Valid(data) {
			return "", ErrNotText
		}
		text = string(data)
	default:
		return "", fmt.Errorf("unsupported mime type: %s", mimeType)
	}
	if err != nil {
		return "", err
	}
	return truncate(strings.TrimSpace(text), maxChars), nil
}

// SniffImageType returns the image MIME type of data, or "" when data is not
// an image format models accept.
func SniffImageType(data []byte) string {
	switch ct := http.DetectContentType(data); ct {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return ct
	default:
		return ""
	}
}

func extractPDF(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := pdfReader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func normalizeMimeType(mimeType string) string {
	return strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}
