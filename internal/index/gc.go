package index

import (
	"context"
	"fmt"
	"time"

	"github.com/tangramdotdev/tangram/internal/id"
)

// Clean implements spec §4.5 GC: delete objects whose touched_at is older
// than maxTouchedAt and that are not transitively reachable from any root
// or from a recently-touched process. batchSize bounds each delete
// transaction.
//
// The concurrent-safety argument from spec §4.5 ("snapshot reachability,
// re-check touched_at at delete time, delete only if both gates still
// agree") is implemented as: (i) the reachability set is computed in one
// pass up front, (ii) each candidate's current touched_at is re-read
// inside the same transaction that deletes it, so an object touched after
// the scan but before its delete transaction survives.
func (x *Index) Clean(ctx context.Context, maxTouchedAt time.Time, batchSize int) (deleted int, err error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	reachable, err := x.reachableSnapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("index: clean: reachability scan: %w", err)
	}

	rows, err := x.query(ctx, `SELECT id FROM objects WHERE touched_at < ?`, maxTouchedAt)
	if err != nil {
		return 0, fmt.Errorf("index: clean: scan candidates: %w", err)
	}
	var candidates []string
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			rows.Close()
			return 0, err
		}
		if !reachable[idStr] {
			candidates = append(candidates, idStr)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		n, err := x.deleteBatch(ctx, candidates[start:end], maxTouchedAt)
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	return deleted, nil
}

func (x *Index) deleteBatch(ctx context.Context, ids []string, maxTouchedAt time.Time) (int, error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	n := 0
	for _, idStr := range ids {
		res, err := tx.ExecContext(ctx, x.rebind(`DELETE FROM objects WHERE id = ? AND touched_at < ?`), idStr, maxTouchedAt)
		if err != nil {
			return n, fmt.Errorf("index: clean: delete %s: %w", idStr, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return n, err
		}
		if affected > 0 {
			if _, err := tx.ExecContext(ctx, x.rebind(`DELETE FROM object_edges WHERE parent = ?`), idStr); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, tx.Commit()
}

// recentProcessWindow bounds how far back a process's touched_at must be
// to keep its output/command reachable for GC purposes.
const recentProcessWindow = 24 * time.Hour

// reachableSnapshot walks every root and every recently-touched process's
// command/output, following object_edges, and returns the full reachable
// ID set as strings.
func (x *Index) reachableSnapshot(ctx context.Context) (map[string]bool, error) {
	reachable := make(map[string]bool)
	var frontier []string

	rootRows, err := x.query(ctx, `SELECT item FROM roots`)
	if err != nil {
		return nil, err
	}
	for rootRows.Next() {
		var item string
		if err := rootRows.Scan(&item); err != nil {
			rootRows.Close()
			return nil, err
		}
		frontier = append(frontier, item)
	}
	rootRows.Close()
	if err := rootRows.Err(); err != nil {
		return nil, err
	}

	since := time.Now().Add(-recentProcessWindow)
	procRows, err := x.query(ctx, `SELECT command_id, output FROM processes WHERE touched_at >= ?`, since)
	if err != nil {
		return nil, err
	}
	for procRows.Next() {
		var cmdID string
		var output *string
		if err := procRows.Scan(&cmdID, &output); err != nil {
			procRows.Close()
			return nil, err
		}
		frontier = append(frontier, cmdID)
		if output != nil && *output != "" {
			frontier = append(frontier, *output)
		}
	}
	procRows.Close()
	if err := procRows.Err(); err != nil {
		return nil, err
	}

	for len(frontier) > 0 {
		batch := frontier
		frontier = nil
		for _, item := range batch {
			if item == "" || reachable[item] {
				continue
			}
			reachable[item] = true
			children, err := x.childrenOf(ctx, item)
			if err != nil {
				return nil, err
			}
			frontier = append(frontier, children...)
		}
	}
	return reachable, nil
}

func (x *Index) childrenOf(ctx context.Context, parent string) ([]string, error) {
	rows, err := x.query(ctx, `SELECT child FROM object_edges WHERE parent = ?`, parent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var child string
		if err := rows.Scan(&child); err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, rows.Err()
}

// Exists reports whether objID has an indexed row (used by GC tests and
// by callers double-checking reachability outside the store itself).
func (x *Index) Exists(ctx context.Context, objID id.ID) (bool, error) {
	var n int
	err := x.queryRow(ctx, `SELECT COUNT(1) FROM objects WHERE id = ?`, objID.String()).Scan(&n)
	return n > 0, err
}
