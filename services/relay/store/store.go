// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists chat sessions and turns in Postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("orchid.relay.store")

// DefaultSessionTitle is assigned when a session is created without a
// usable title.
const DefaultSessionTitle = "New Chat"

// maxTitleLength matches the chat_sessions.title column width.
const maxTitleLength = 255

type Store struct {
	DB *sql.DB
}

// Session is one persisted conversation thread.
type Session struct {
	ID        string
	ModelType string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TurnRecord is one persisted chat turn. Reasoning and the attachment
// fields are optional; empty strings map to NULL columns.
type TurnRecord struct {
	ID                  string
	SessionID           string
	Role                string
	Content             string
	Reasoning           string
	AttachedFileName    string
	AttachedFileContext string
	CreatedAt           time.Time
}

// New constructs the Store from POSTGRES_* environment variables, or
// DATABASE_URL when set.
func New(ctx context.Context) (*Store, error) {
	return NewWithDSN(ctx, DSNFromEnv())
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// DSNFromEnv resolves the connection string the way the service and
// the migration runner both expect: DATABASE_URL wins, otherwise the
// POSTGRES_* variables are assembled into a URL.
func DSNFromEnv() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	host := getenvDefault("POSTGRES_HOST", "localhost")
	port := getenvDefault("POSTGRES_PORT", "5432")
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	db := os.Getenv("POSTGRES_DB")
	ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// Session operations

// CreateSession inserts a new session row. An empty or whitespace title
// falls back to DefaultSessionTitle; oversize titles are clipped to the
// column width.
func (s *Store) CreateSession(ctx context.Context, modelType, title string) (Session, error) {
	sess := Session{
		ID:        uuid.NewString(),
		ModelType: modelType,
		Title:     normalizeTitle(title),
	}
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO chat_sessions (id, model_type, title)
VALUES ($1,$2,$3)
RETURNING created_at, updated_at
`, sess.ID, sess.ModelType, sess.Title).Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return Session{}, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

// GetSession fetches one session. Bool indicates whether it exists.
func (s *Store) GetSession(ctx context.Context, id string) (Session, bool, error) {
	var sess Session
	err := s.DB.QueryRowContext(ctx, `
SELECT id, model_type, title, created_at, updated_at
FROM chat_sessions
WHERE id=$1
`, id).Scan(&sess.ID, &sess.ModelType, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("fetching session: %w", err)
	}
	return sess, true, nil
}

// ListSessions returns the sessions for a model type, most recently
// updated first.
func (s *Store) ListSessions(ctx context.Context, modelType string) ([]Session, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, model_type, title, created_at, updated_at
FROM chat_sessions
WHERE model_type=$1
ORDER BY updated_at DESC
`, modelType)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.ModelType, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// GetSessionHistory returns a session's turns in chronological order.
func (s *Store) GetSessionHistory(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session_id, role, content,
       COALESCE(reasoning,''),
       COALESCE(attached_file_name,''),
       COALESCE(attached_file_context,''),
       created_at
FROM chat_messages
WHERE session_id=$1
ORDER BY created_at ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session history: %w", err)
	}
	defer rows.Close()
	var out []TurnRecord
	for rows.Next() {
		var rec TurnRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Role, &rec.Content,
			&rec.Reasoning, &rec.AttachedFileName, &rec.AttachedFileContext, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteSession removes a session; its turns cascade. Bool indicates
// whether a row was deleted.
func (s *Store) DeleteSession(ctx context.Context, id string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id=$1`, id)
	if err != nil {
		return false, fmt.Errorf("deleting session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateSessionTitle renames a session and bumps updated_at. Bool
// indicates whether the session exists.
func (s *Store) UpdateSessionTitle(ctx context.Context, id, title string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
UPDATE chat_sessions SET title=$2, updated_at=NOW() WHERE id=$1
`, id, normalizeTitle(title))
	if err != nil {
		return false, fmt.Errorf("updating session title: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TouchSession bumps a session's updated_at so it sorts to the top of
// the history list.
func (s *Store) TouchSession(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE chat_sessions SET updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

// Turn operations

// InsertTurn persists one turn. A missing ID is generated. The caller
// owns updated_at bookkeeping; see TouchSession.
func (s *Store) InsertTurn(ctx context.Context, rec TurnRecord) (TurnRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	err := s.DB.QueryRowContext(ctx, insertTurnSQL,
		rec.ID, rec.SessionID, rec.Role, rec.Content,
		rec.Reasoning, rec.AttachedFileName, rec.AttachedFileContext,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return TurnRecord{}, fmt.Errorf("inserting turn: %w", err)
	}
	return rec, nil
}

const insertTurnSQL = `
INSERT INTO chat_messages (id, session_id, role, content, reasoning, attached_file_name, attached_file_context)
VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),NULLIF($7,''))
RETURNING created_at
`

// Commit operations
//
// The relay's cleanup stage runs these on a cancellation-shielded
// context. Each is a single transaction so a half-written exchange
// never survives a failure.

// CommitFirstExchange creates the session row together with its first
// user and assistant turns. The session carries the ID minted when the
// stream started, so the ID announced to the client stays valid.
func (s *Store) CommitFirstExchange(ctx context.Context, sess Session, userTurn, assistantTurn TurnRecord) (Session, error) {
	ctx, span := tracer.Start(ctx, "Store.CommitFirstExchange")
	defer span.End()
	span.SetAttributes(attribute.String("session.model_type", sess.ModelType))

	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	sess.Title = normalizeTitle(sess.Title)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, fmt.Errorf("beginning first-exchange transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = tx.QueryRowContext(ctx, `
INSERT INTO chat_sessions (id, model_type, title)
VALUES ($1,$2,$3)
RETURNING created_at, updated_at
`, sess.ID, sess.ModelType, sess.Title).Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Session{}, fmt.Errorf("inserting session: %w", err)
	}

	for _, rec := range []*TurnRecord{&userTurn, &assistantTurn} {
		rec.SessionID = sess.ID
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		err = tx.QueryRowContext(ctx, insertTurnSQL,
			rec.ID, rec.SessionID, rec.Role, rec.Content,
			rec.Reasoning, rec.AttachedFileName, rec.AttachedFileContext,
		).Scan(&rec.CreatedAt)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Session{}, fmt.Errorf("inserting %s turn: %w", rec.Role, err)
		}
	}

	if err = tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Session{}, fmt.Errorf("committing first exchange: %w", err)
	}
	return sess, nil
}

// CommitAssistantTurn persists the assistant's reply to an existing
// session and bumps the session's updated_at, atomically.
func (s *Store) CommitAssistantTurn(ctx context.Context, rec TurnRecord) error {
	ctx, span := tracer.Start(ctx, "Store.CommitAssistantTurn")
	defer span.End()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning assistant-turn transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = tx.QueryRowContext(ctx, insertTurnSQL,
		rec.ID, rec.SessionID, rec.Role, rec.Content,
		rec.Reasoning, rec.AttachedFileName, rec.AttachedFileContext,
	).Scan(&rec.CreatedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("inserting assistant turn: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE chat_sessions SET updated_at=NOW() WHERE id=$1`, rec.SessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("touching session: %w", err)
	}

	if err = tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("committing assistant turn: %w", err)
	}
	return nil
}

func normalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return DefaultSessionTitle
	}
	// The column width is measured in characters, not bytes.
	if runes := []rune(title); len(runes) > maxTitleLength {
		return string(runes[:maxTitleLength])
	}
	return title
}
