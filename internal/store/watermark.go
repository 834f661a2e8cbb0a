package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/matheus3301/roam/internal/message"
)

// LoadWatermark returns the verified interval of a stream. ok is false when
// no pass has verified anything yet.
func (db *DB) LoadWatermark(ctx context.Context, s message.Stream) (w Watermark, ok bool, err error) {
	err = db.QueryRowContext(ctx, `
		SELECT low, high FROM roaming_watermarks
		WHERE account = ? AND contact_kind = ? AND contact_subject = ?`,
		s.Account, s.Contact.Kind, s.Contact.Subject).Scan(&w.Low, &w.High)
	if errors.Is(err, sql.ErrNoRows) {
		return Watermark{}, false, nil
	}
	if err != nil {
		return Watermark{}, false, err
	}
	return w, true, nil
}

// SaveWatermark replaces the verified interval of a stream.
func (db *DB) SaveWatermark(ctx context.Context, s message.Stream, w Watermark) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO roaming_watermarks (account, contact_kind, contact_subject, low, high, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, contact_kind, contact_subject) DO UPDATE SET
			low = excluded.low,
			high = excluded.high,
			updated_at = excluded.updated_at`,
		s.Account, s.Contact.Kind, s.Contact.Subject, w.Low, w.High, time.Now().UnixMilli())
	return err
}
