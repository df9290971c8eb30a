package index

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/tgerr"
)

// PutRoot pins item under name as a GC root (spec §4.6).
func (x *Index) PutRoot(ctx context.Context, name string, item id.ID) error {
	_, err := x.exec(ctx, `
		INSERT INTO roots (name, item) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET item = excluded.item
	`, name, item.String())
	if err != nil {
		return fmt.Errorf("index: put root %s: %w", name, err)
	}
	return nil
}

// GetRoot resolves a root by name.
func (x *Index) GetRoot(ctx context.Context, name string) (id.ID, error) {
	var itemStr string
	err := x.queryRow(ctx, `SELECT item FROM roots WHERE name = ?`, name).Scan(&itemStr)
	if err == sql.ErrNoRows {
		return id.ID{}, tgerr.New(tgerr.NotFound, "index: root %q not found", name)
	}
	if err != nil {
		return id.ID{}, fmt.Errorf("index: get root %s: %w", name, err)
	}
	return id.Parse(itemStr)
}

// RootEntry is one (name, item) pair returned by ListRoots.
type RootEntry struct {
	Name string
	Item id.ID
}

// ListRoots returns every registered root.
func (x *Index) ListRoots(ctx context.Context) ([]RootEntry, error) {
	rows, err := x.query(ctx, `SELECT name, item FROM roots ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RootEntry
	for rows.Next() {
		var name, itemStr string
		if err := rows.Scan(&name, &itemStr); err != nil {
			return nil, err
		}
		itemID, err := id.Parse(itemStr)
		if err != nil {
			return nil, err
		}
		out = append(out, RootEntry{Name: name, Item: itemID})
	}
	return out, rows.Err()
}

// DeleteRoot removes a root, un-pinning its reachability.
func (x *Index) DeleteRoot(ctx context.Context, name string) error {
	_, err := x.exec(ctx, `DELETE FROM roots WHERE name = ?`, name)
	return err
}
