package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sharelink/internal/model"
	"sharelink/internal/repository"
)

const shareColumns = `token, display_name, blob_ref, storage_key, size_bytes, content_type, sender, receiver, created_at, deleting_at`

// SharePostgres is a PostgreSQL implementation of repository.ShareRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type SharePostgres struct {
	db *sql.DB
}

// NewSharePostgres creates a new SharePostgres repository.
func NewSharePostgres(db *sql.DB) *SharePostgres {
	return &SharePostgres{db: db}
}

var _ repository.ShareRepository = (*SharePostgres)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShare(row rowScanner) (*model.Share, error) {
	var (
		s          model.Share
		sender     sql.NullString
		receiver   sql.NullString
		deletingAt sql.NullTime
	)
	if err := row.Scan(
		&s.Token,
		&s.DisplayName,
		&s.BlobRef,
		&s.StorageKey,
		&s.SizeBytes,
		&s.ContentType,
		&sender,
		&receiver,
		&s.CreatedAt,
		&deletingAt,
	); err != nil {
		return nil, err
	}
	s.Sender = sender.String
	s.Receiver = receiver.String
	if deletingAt.Valid {
		t := deletingAt.Time
		s.DeletingAt = &t
	}
	return &s, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// Create inserts a new share row and returns the stored record.
func (r *SharePostgres) Create(ctx context.Context, share *model.Share) (*model.Share, error) {
	q := `
		INSERT INTO shares (token, display_name, blob_ref, storage_key, size_bytes, content_type, sender, receiver, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + shareColumns
	row := r.db.QueryRowContext(ctx, q,
		share.Token,
		share.DisplayName,
		share.BlobRef,
		share.StorageKey,
		share.SizeBytes,
		share.ContentType,
		nullString(share.Sender),
		nullString(share.Receiver),
		share.CreatedAt,
	)
	out, err := scanShare(row)
	if err != nil {
		return nil, fmt.Errorf("insert share: %w", err)
	}
	return out, nil
}

// FindByToken fetches a single share by its token.
func (r *SharePostgres) FindByToken(ctx context.Context, token string) (*model.Share, error) {
	q := `SELECT ` + shareColumns + ` FROM shares WHERE token = $1`
	s, err := scanShare(r.db.QueryRowContext(ctx, q, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// FindOlderThan returns every share created before cutoff, oldest first.
// The result is materialized so that shares created while a sweep runs are never picked up by it.
func (r *SharePostgres) FindOlderThan(ctx context.Context, cutoff time.Time) ([]model.Share, error) {
	q := `SELECT ` + shareColumns + ` FROM shares WHERE created_at < $1 ORDER BY created_at ASC, token ASC`
	rows, err := r.db.QueryContext(ctx, q, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Share, 0)
	for rows.Next() {
		s, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// MarkSent is the at-most-once guard for notifications: a single conditional UPDATE,
// so two racing callers cannot both observe an unset sender.
func (r *SharePostgres) MarkSent(ctx context.Context, token, sender, receiver string) error {
	const q = `
		UPDATE shares
		SET sender = $2, receiver = $3
		WHERE token = $1 AND sender IS NULL AND deleting_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, q, token, sender, receiver)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrConflict
	}
	return nil
}

// MarkForDeletion stamps deleting_at once; later calls keep the first timestamp.
func (r *SharePostgres) MarkForDeletion(ctx context.Context, token string, at time.Time) error {
	const q = `UPDATE shares SET deleting_at = COALESCE(deleting_at, $2) WHERE token = $1`
	res, err := r.db.ExecContext(ctx, q, token, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes a share by token. It does not return an error if the row does not exist.
func (r *SharePostgres) Delete(ctx context.Context, token string) error {
	const q = `DELETE FROM shares WHERE token = $1`
	_, err := r.db.ExecContext(ctx, q, token)
	return err
}
