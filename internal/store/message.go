package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/roam/internal/message"
)

const messageColumns = `account, contact_kind, contact_subject, msg_id, sequence, sender, sender_name, time, content`

// UpsertMessages inserts or replaces a batch of messages in one transaction.
// Rows are keyed by stream and message ID, so re-upserting a fetched page
// leaves the table unchanged apart from refreshed columns.
func (db *DB) UpsertMessages(ctx context.Context, msgs []message.Record) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (`+messageColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, contact_kind, contact_subject, msg_id) DO UPDATE SET
			sequence = excluded.sequence,
			sender = excluded.sender,
			sender_name = excluded.sender_name,
			time = excluded.time,
			content = excluded.content,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UnixMilli()
	for i := range msgs {
		m := &msgs[i]
		if _, err := stmt.ExecContext(ctx,
			m.Account, m.Contact.Kind, m.Contact.Subject, int64(m.ID), m.Sequence,
			m.Sender, m.SenderName, m.Time, message.Marshal(m.Content), now, now); err != nil {
			return fmt.Errorf("upsert message %d: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// GetMessage returns a single message of a stream, or nil if it is not stored.
func (db *DB) GetMessage(ctx context.Context, s message.Stream, id message.ID) (*message.Record, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE account = ? AND contact_kind = ? AND contact_subject = ? AND msg_id = ?`,
		s.Account, s.Contact.Kind, s.Contact.Subject, int64(id))
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// LastN returns the newest messages of a stream, newest first.
func (db *DB) LastN(ctx context.Context, s message.Stream, limit int) ([]message.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE account = ? AND contact_kind = ? AND contact_subject = ?
		ORDER BY time DESC, msg_id DESC
		LIMIT ?`, s.Account, s.Contact.Kind, s.Contact.Subject, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// PageBefore returns messages older than the (beforeTime, beforeID) keyset
// position, newest first. Messages sharing a timestamp are ordered by ID so
// pages never overlap or skip rows.
func (db *DB) PageBefore(ctx context.Context, s message.Stream, beforeTime int64, beforeID message.ID, limit int) ([]message.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE account = ? AND contact_kind = ? AND contact_subject = ?
			AND (time < ? OR (time = ? AND msg_id < ?))
		ORDER BY time DESC, msg_id DESC
		LIMIT ?`,
		s.Account, s.Contact.Kind, s.Contact.Subject, beforeTime, beforeTime, int64(beforeID), limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// SequenceRange returns the stored sequences of a stream within
// [low, high], highest first.
func (db *DB) SequenceRange(ctx context.Context, s message.Stream, low, high int32) ([]SeqRef, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT msg_id, sequence
		FROM messages
		WHERE account = ? AND contact_kind = ? AND contact_subject = ?
			AND sequence BETWEEN ? AND ?
		ORDER BY sequence DESC, msg_id DESC`,
		s.Account, s.Contact.Kind, s.Contact.Subject, low, high)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var refs []SeqRef
	for rows.Next() {
		var r SeqRef
		if err := rows.Scan(&r.ID, &r.Sequence); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// MessageCount returns the total number of cached messages.
func (db *DB) MessageCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// StreamMessageCount returns the number of cached messages of one stream.
func (db *DB) StreamMessageCount(ctx context.Context, s message.Stream) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE account = ? AND contact_kind = ? AND contact_subject = ?`,
		s.Account, s.Contact.Kind, s.Contact.Subject).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*message.Record, error) {
	var (
		m       message.Record
		id      int64
		content []byte
	)
	if err := row.Scan(&m.Account, &m.Contact.Kind, &m.Contact.Subject, &id, &m.Sequence,
		&m.Sender, &m.SenderName, &m.Time, &content); err != nil {
		return nil, err
	}
	m.ID = message.ID(id)
	elems, err := message.Unmarshal(content)
	if err != nil {
		return nil, fmt.Errorf("decode content of message %d: %w", id, err)
	}
	m.Content = elems
	return &m, nil
}

func scanMessages(rows *sql.Rows) ([]message.Record, error) {
	defer func() { _ = rows.Close() }()

	var msgs []message.Record
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}
