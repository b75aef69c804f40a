package documents

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Documents"

var exportHeaders = []string{"Document ID", "File name", "Type", "Status", "Summary", "Error", "Uploaded", "Completed"}

// Export renders the caller's document list as an XLSX workbook.
func (s *Service) Export(ctx context.Context, identity string) ([]byte, error) {
	docs, err := s.List(ctx, identity)
	if err != nil {
		return nil, err
	}
	return renderWorkbook(docs)
}

func renderWorkbook(docs []Document) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(exportSheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")

	for col, header := range exportHeaders {
		if err := f.SetCellValue(exportSheet, cellRef(col, 1), header); err != nil {
			return nil, err
		}
	}
	for i, doc := range docs {
		row := i + 2
		values := []any{
			doc.ID,
			doc.FileName,
			string(doc.MediaType),
			string(doc.Status),
			deref(doc.Summary),
			deref(doc.Error),
			doc.CreatedAt.UTC().Format(time.RFC3339),
			formatTime(doc.ProcessingCompletedAt),
		}
		for col, v := range values {
			if err := f.SetCellValue(exportSheet, cellRef(col, row), v); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func cellRef(col, row int) string {
	name, _ := excelize.ColumnNumberToName(col + 1)
	return fmt.Sprintf("%s%d", name, row)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
