package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"healthrecords-backend/internal/classification"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const documentColumns = `id, user_id, file_name, blob_handle, media_type, status, summary, classification, error,
processing_started_at, processing_completed_at, created_at, updated_at`

func (r *PGRepo) Create(ctx context.Context, doc Document) error {
	const query = `
INSERT INTO documents (
    id,
    user_id,
    file_name,
    blob_handle,
    media_type,
    status,
    created_at,
    updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`
	_, err := r.DB.ExecContext(ctx, query,
		doc.ID,
		doc.UserID,
		doc.FileName,
		doc.BlobHandle,
		string(doc.MediaType),
		string(doc.Status),
		doc.CreatedAt,
	)
	return err
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (Document, error) {
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE id = $1
LIMIT 1`
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return doc, err
}

// ListByUser lists documents newest first.
func (r *PGRepo) ListByUser(ctx context.Context, userID string) ([]Document, error) {
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE user_id = $1
ORDER BY created_at DESC, id DESC`
	return r.queryDocuments(ctx, query, userID)
}

func (r *PGRepo) ApplyPatch(ctx context.Context, id string, expected []Status, patch Patch) (Document, bool, error) {
	if len(expected) == 0 {
		return Document{}, false, fmt.Errorf("apply patch: no expected status")
	}
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.Summary != nil {
		add("summary", *patch.Summary)
	}
	if patch.Classification != nil {
		raw, err := json.Marshal(patch.Classification)
		if err != nil {
			return Document{}, false, fmt.Errorf("encode classification: %w", err)
		}
		args = append(args, string(raw))
		sets = append(sets, "classification = $"+strconv.Itoa(len(args))+"::jsonb")
	}
	if patch.Error != nil {
		add("error", *patch.Error)
	}
	if patch.ProcessingStartedAt != nil {
		add("processing_started_at", *patch.ProcessingStartedAt)
	}
	if patch.ProcessingCompletedAt != nil {
		add("processing_completed_at", *patch.ProcessingCompletedAt)
	}
	sets = append(sets, "updated_at = now()")

	args = append(args, id)
	where := "id = $" + strconv.Itoa(len(args))
	placeholders := make([]string, 0, len(expected))
	for _, s := range expected {
		args = append(args, string(s))
		placeholders = append(placeholders, "$"+strconv.Itoa(len(args)))
	}

	query := `UPDATE documents SET ` + strings.Join(sets, ", ") + `
WHERE ` + where + ` AND status IN (` + strings.Join(placeholders, ", ") + `)
RETURNING ` + documentColumns

	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query, args...))
	if err == nil {
		return doc, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Document{}, false, err
	}
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return Document{}, false, err
	}
	return current, false, nil
}

func (r *PGRepo) CountByStatus(ctx context.Context, userID string) (map[Status]int, error) {
	const query = `
SELECT status, COUNT(*)
FROM documents
WHERE user_id = $1
GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// ListUnfinished returns pending and processing documents, oldest first.
func (r *PGRepo) ListUnfinished(ctx context.Context, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE status IN ('pending', 'processing')
ORDER BY created_at ASC, id ASC
LIMIT $1`
	return r.queryDocuments(ctx, query, limit)
}

func (r *PGRepo) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var mediaType, status string
	var summary, errMsg sql.NullString
	var rawClass []byte
	var startedAt, completedAt sql.NullTime
	if err := row.Scan(
		&doc.ID,
		&doc.UserID,
		&doc.FileName,
		&doc.BlobHandle,
		&mediaType,
		&status,
		&summary,
		&rawClass,
		&errMsg,
		&startedAt,
		&completedAt,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	); err != nil {
		return Document{}, err
	}
	doc.MediaType = MediaType(mediaType)
	doc.Status = Status(status)
	if summary.Valid {
		doc.Summary = &summary.String
	}
	if errMsg.Valid {
		doc.Error = &errMsg.String
	}
	if len(rawClass) > 0 {
		c, err := classification.Parse(rawClass)
		if err != nil {
			return Document{}, fmt.Errorf("document %s: stored classification: %w", doc.ID, err)
		}
		doc.Classification = &c
	}
	if startedAt.Valid {
		doc.ProcessingStartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		doc.ProcessingCompletedAt = &completedAt.Time
	}
	return doc, nil
}
