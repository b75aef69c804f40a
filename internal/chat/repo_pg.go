package chat

import (
	"context"
	"database/sql"
	"errors"
)

type PGRepo struct {
	DB *sql.DB
}

const messageColumns = `id, thread_id, role, content, status, error, reply_to, created_at`

func (r *PGRepo) CreateThread(ctx context.Context, t Thread) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO chat_threads (id, owner_identity, title, created_at)
		VALUES ($1, $2, $3, $4)
	`, t.ID, t.OwnerIdentity, t.Title, t.CreatedAt)
	return err
}

func (r *PGRepo) GetThread(ctx context.Context, id string) (Thread, error) {
	var t Thread
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, owner_identity, title, created_at
		FROM chat_threads
		WHERE id = $1
	`, id).Scan(&t.ID, &t.OwnerIdentity, &t.Title, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Thread{}, ErrNotFound
	}
	return t, err
}

func (r *PGRepo) AddMessage(ctx context.Context, m Message) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO chat_messages (id, thread_id, role, content, status, error, reply_to, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, m.ID, m.ThreadID, string(m.Role), m.Content, string(m.Status), m.Error, m.ReplyTo, m.CreatedAt)
	return err
}

func (r *PGRepo) GetMessage(ctx context.Context, id string) (Message, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return m, err
}

func (r *PGRepo) SetMessageStatus(ctx context.Context, id string, status MessageStatus, errMsg *string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE chat_messages SET status = $2, error = $3
		WHERE id = $1 AND status = 'pending'
	`, id, string(status), errMsg)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PGRepo) ListMessages(ctx context.Context, threadID string, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM chat_messages
		WHERE thread_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`, threadID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		m       Message
		role    string
		status  string
		errMsg  sql.NullString
		replyTo sql.NullString
	)
	if err := row.Scan(&m.ID, &m.ThreadID, &role, &m.Content, &status, &errMsg, &replyTo, &m.CreatedAt); err != nil {
		return Message{}, err
	}
	m.Role = Role(role)
	m.Status = MessageStatus(status)
	if errMsg.Valid {
		m.Error = &errMsg.String
	}
	if replyTo.Valid {
		m.ReplyTo = &replyTo.String
	}
	return m, nil
}
