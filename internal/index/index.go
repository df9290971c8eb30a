package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tangramdotdev/tangram/internal/config"
	"github.com/tangramdotdev/tangram/internal/id"
)

// Index wraps a *sql.DB with the spec §4.5 operations. It is eventually
// consistent with the object store under normal operation and is fully
// re-derivable by rescanning the store (spec §4.5): RecordObject is meant
// to be called by the store/replication/checkin paths immediately after a
// successful write, not as the sole source of truth.
type Index struct {
	db    *sql.DB
	style placeholderStyle
}

// New wraps an already-migrated *sql.DB (see Open).
func New(db *sql.DB, kind config.DatabaseKind) *Index {
	return &Index{db: db, style: stylesFor(kind)}
}

// rebind rewrites "?" placeholders into "$1", "$2", ... for postgres;
// sqlite is returned unchanged.
func (x *Index) rebind(query string) string {
	if x.style == placeholderQuestion {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (x *Index) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return x.db.ExecContext(ctx, x.rebind(query), args...)
}

func (x *Index) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return x.db.QueryContext(ctx, x.rebind(query), args...)
}

func (x *Index) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return x.db.QueryRowContext(ctx, x.rebind(query), args...)
}

// RecordObject upserts an object's metadata row and its outgoing edges.
// touchedAt only ever advances (spec §4.2 Touch semantics apply here too).
func (x *Index) RecordObject(ctx context.Context, objID id.ID, size uint64, children []id.ID, touchedAt time.Time) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin: %w", err)
	}
	defer tx.Rollback()

	var existing sql.NullTime
	row := tx.QueryRowContext(ctx, x.rebind(`SELECT touched_at FROM objects WHERE id = ?`), objID.String())
	if err := row.Scan(&existing); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("index: lookup %s: %w", objID, err)
	}
	at := touchedAt
	if existing.Valid && existing.Time.After(at) {
		at = existing.Time
	}

	if _, err := tx.ExecContext(ctx, x.rebind(`
		INSERT INTO objects (id, kind, size, touched_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET touched_at = excluded.touched_at
	`), objID.String(), string(objID.Kind()), int64(size), at); err != nil {
		return fmt.Errorf("index: upsert object %s: %w", objID, err)
	}

	if _, err := tx.ExecContext(ctx, x.rebind(`DELETE FROM object_edges WHERE parent = ?`), objID.String()); err != nil {
		return fmt.Errorf("index: clear edges for %s: %w", objID, err)
	}
	for _, child := range children {
		if _, err := tx.ExecContext(ctx, x.rebind(`INSERT INTO object_edges (parent, child) VALUES (?, ?)`), objID.String(), child.String()); err != nil {
			return fmt.Errorf("index: insert edge %s->%s: %w", objID, child, err)
		}
	}
	return tx.Commit()
}

// Touch advances an object's touched_at monotonically.
func (x *Index) Touch(ctx context.Context, objID id.ID, at time.Time) error {
	_, err := x.exec(ctx, `UPDATE objects SET touched_at = ? WHERE id = ? AND touched_at < ?`, at, objID.String(), at)
	return err
}

// ObjectMetadata mirrors objectstore.Metadata, read back from the index
// rather than the store itself.
type ObjectMetadata struct {
	Size      uint64
	Kind      id.Kind
	TouchedAt time.Time
}

// Metadata returns the indexed bookkeeping for objID.
func (x *Index) Metadata(ctx context.Context, objID id.ID) (ObjectMetadata, error) {
	var size int64
	var kind string
	var touchedAt time.Time
	row := x.queryRow(ctx, `SELECT size, kind, touched_at FROM objects WHERE id = ?`, objID.String())
	if err := row.Scan(&size, &kind, &touchedAt); err != nil {
		return ObjectMetadata{}, fmt.Errorf("index: metadata %s: %w", objID, err)
	}
	return ObjectMetadata{Size: uint64(size), Kind: id.Kind(kind), TouchedAt: touchedAt}, nil
}
