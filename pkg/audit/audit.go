// Package audit persists one record per mutating action. Records go to a
// single integram_audit table shared by every database the server hosts.
package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Writer struct {
	DB       auditDB
	HashSalt []byte
	Redact   bool
}

type Record struct {
	Database   string
	Action     string
	ObjectID   int64
	UserID     int64
	Username   string
	RemoteAddr string
	Detail     string
	CreatedAt  time.Time
}

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS integram_audit (
		id bigserial PRIMARY KEY,
		db text NOT NULL,
		action text NOT NULL,
		object_id bigint NOT NULL DEFAULT 0,
		user_id bigint NOT NULL DEFAULT 0,
		username text NOT NULL DEFAULT '',
		remote_addr text NOT NULL DEFAULT '',
		detail text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL
	)`

// EnsureTable creates the audit table when it is missing.
func (w *Writer) EnsureTable(ctx context.Context) error {
	_, err := w.DB.Exec(ctx, createTableSQL)
	return err
}

func (w *Writer) Append(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if w.Redact {
		rec = redactRecord(rec, w.HashSalt)
	}
	_, err := w.DB.Exec(ctx, `
		INSERT INTO integram_audit
		(db, action, object_id, user_id, username, remote_addr, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, rec.Database, rec.Action, rec.ObjectID, rec.UserID, rec.Username, rec.RemoteAddr, rec.Detail, rec.CreatedAt)
	return err
}

// Tail returns the most recent records for one database, newest first.
// It backs the _log action.
func (w *Writer) Tail(ctx context.Context, db string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := w.DB.Query(ctx, `
		SELECT db, action, object_id, user_id, username, remote_addr, detail, created_at
		FROM integram_audit WHERE db=$1
		ORDER BY id DESC LIMIT $2
	`, db, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Database, &rec.Action, &rec.ObjectID, &rec.UserID, &rec.Username, &rec.RemoteAddr, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
