package repository

import (
	"context"
	"fmt"
)

// IdempotencyKeyRow is the durable record behind the Idempotency-Key header.
type IdempotencyKeyRow struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	InProgress     bool
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
}

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKeyRow, error) {
	var row IdempotencyKeyRow
	query := `
		SELECT idempotency_key, request_hash, method, path, in_progress,
			COALESCE(response_status, 0), COALESCE(response_body, ''::bytea), COALESCE(content_type, '')
		FROM idempotency_keys
		WHERE idempotency_key = $1
	`
	err := q.db.QueryRow(ctx, query, key).Scan(&row.IdempotencyKey, &row.RequestHash, &row.Method,
		&row.Path, &row.InProgress, &row.ResponseStatus, &row.ResponseBody, &row.ContentType)
	if err != nil {
		return row, err
	}
	return row, nil
}

// ReserveIdempotencyKey claims a key for the in-flight request. The insert
// loses (returns no rows) when another request already holds the key.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, key, requestHash, method, path string) (IdempotencyKeyRow, error) {
	var row IdempotencyKeyRow
	query := `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW())
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING idempotency_key, request_hash, method, path, in_progress,
			COALESCE(response_status, 0), COALESCE(response_body, ''::bytea), COALESCE(content_type, '')
	`
	err := q.db.QueryRow(ctx, query, key, requestHash, method, path).Scan(&row.IdempotencyKey,
		&row.RequestHash, &row.Method, &row.Path, &row.InProgress, &row.ResponseStatus,
		&row.ResponseBody, &row.ContentType)
	if err != nil {
		return row, err
	}
	return row, nil
}

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, key, requestHash string, status int32, body []byte, contentType string) (IdempotencyKeyRow, error) {
	var row IdempotencyKeyRow
	query := `
		UPDATE idempotency_keys
		SET in_progress = FALSE, response_status = $1, response_body = $2, content_type = $3, updated_at = NOW()
		WHERE idempotency_key = $4 AND request_hash = $5
		RETURNING idempotency_key, request_hash, method, path, in_progress,
			response_status, response_body, content_type
	`
	err := q.db.QueryRow(ctx, query, status, body, contentType, key, requestHash).Scan(&row.IdempotencyKey,
		&row.RequestHash, &row.Method, &row.Path, &row.InProgress, &row.ResponseStatus,
		&row.ResponseBody, &row.ContentType)
	if err != nil {
		return row, fmt.Errorf("finalize idempotency key: %w", err)
	}
	return row, nil
}
