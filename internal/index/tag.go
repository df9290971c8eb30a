package index

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/tgerr"
)

// Tag is a resolved (name, version) -> item pair, spec §4.6.
type Tag struct {
	Name    string
	Version string
	Item    id.ID
}

// String renders the tag as "name/version", the form accepted by PutTag,
// GetTag, and ListTags patterns.
func (t Tag) String() string {
	return t.Name + "/" + t.Version
}

// splitTag divides "foo/bar/1.2.0" into name "foo/bar" and version "1.2.0"
// at the final slash. A tag with no slash has an empty version.
func splitTag(full string) (name, version string) {
	i := strings.LastIndex(full, "/")
	if i < 0 {
		return full, ""
	}
	return full[:i], full[i+1:]
}

// PutTag implements spec §4.6 put_tag. Without force, a put against an
// existing (name, version) row is a no-op when the stored item and kind
// match and a conflict otherwise; rows for the same name under other
// versions are not compared. With force, the existing row is overwritten.
func (x *Index) PutTag(ctx context.Context, full string, item id.ID, force bool) error {
	name, version := splitTag(full)
	if name == "" {
		return tgerr.New(tgerr.InvalidArgument, "index: tag name must not be empty")
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existingItem, existingKind string
	row := tx.QueryRowContext(ctx, x.rebind(`SELECT item, kind FROM tags WHERE name = ? AND version = ?`), name, version)
	err = row.Scan(&existingItem, &existingKind)
	switch {
	case err == sql.ErrNoRows:
		// no conflict possible, fall through to insert.
	case err != nil:
		return fmt.Errorf("index: put tag %s: %w", full, err)
	case !force:
		if existingItem == item.String() && existingKind == string(item.Kind()) {
			return nil
		}
		return tgerr.New(tgerr.Conflict, "index: tag %s already resolves to %s", full, existingItem)
	}

	if _, err := tx.ExecContext(ctx, x.rebind(`
		INSERT INTO tags (name, version, item, kind) VALUES (?, ?, ?, ?)
		ON CONFLICT (name, version) DO UPDATE SET item = excluded.item, kind = excluded.kind
	`), name, version, item.String(), string(item.Kind())); err != nil {
		return fmt.Errorf("index: put tag %s: %w", full, err)
	}
	return tx.Commit()
}

// GetTag resolves the exact (name, version) pair named by full.
func (x *Index) GetTag(ctx context.Context, full string) (Tag, error) {
	name, version := splitTag(full)
	var itemStr string
	err := x.queryRow(ctx, `SELECT item FROM tags WHERE name = ? AND version = ?`, name, version).Scan(&itemStr)
	if err == sql.ErrNoRows {
		return Tag{}, tgerr.New(tgerr.NotFound, "index: tag %q not found", full)
	}
	if err != nil {
		return Tag{}, fmt.Errorf("index: get tag %s: %w", full, err)
	}
	itemID, err := id.Parse(itemStr)
	if err != nil {
		return Tag{}, err
	}
	return Tag{Name: name, Version: version, Item: itemID}, nil
}

// DeleteTag removes every tag that ListTags returns for pattern and
// recursive; wildcards in pattern apply whether or not recursive is set.
func (x *Index) DeleteTag(ctx context.Context, pattern string, recursive bool) error {
	matches, err := x.ListTags(ctx, pattern, recursive, false, 0)
	if err != nil {
		return err
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, t := range matches {
		if _, err := tx.ExecContext(ctx, x.rebind(`DELETE FROM tags WHERE name = ? AND version = ?`), t.Name, t.Version); err != nil {
			return fmt.Errorf("index: delete tag %s: %w", t, err)
		}
	}
	return tx.Commit()
}

// ListTags implements spec §4.6 list_tags. pattern supports '*' wildcards
// over dotted/slashed segments via path.Match against "name/version".
// Matches are returned in canonical version-aware order (spec S4); when
// reverse is true the order is descending, and length, if positive,
// truncates the result — "reverse=true, length=1" is the "latest
// matching" idiom.
func (x *Index) ListTags(ctx context.Context, pattern string, recursive bool, reverse bool, length int) ([]Tag, error) {
	rows, err := x.query(ctx, `SELECT name, version, item FROM tags`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []Tag
	for rows.Next() {
		var name, version, itemStr string
		if err := rows.Scan(&name, &version, &itemStr); err != nil {
			return nil, err
		}
		itemID, err := id.Parse(itemStr)
		if err != nil {
			return nil, err
		}
		all = append(all, Tag{Name: name, Version: version, Item: itemID})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []Tag
	for _, t := range all {
		if tagMatches(pattern, t.String(), recursive) {
			out = append(out, t)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return compareVersions(out[i].Version, out[j].Version) < 0
	})
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if length > 0 && len(out) > length {
		out = out[:length]
	}
	return out, nil
}

// tagMatches reports whether full ("name/version") satisfies pattern. A
// pattern ending in "/*" with recursive=true also matches any deeper
// segment count, not just exactly one extra segment.
func tagMatches(pattern, full string, recursive bool) bool {
	if recursive && strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(full, prefix)
	}
	ok, err := path.Match(pattern, full)
	return err == nil && ok
}

// compareVersions orders dotted version strings numerically per segment
// when every segment on both sides is numeric (e.g. "1.2.0" < "1.10.0"),
// falling back to a lexicographic segment compare otherwise so
// non-semver tag versions still sort deterministically.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var sa, sb string
		if i < len(as) {
			sa = as[i]
		}
		if i < len(bs) {
			sb = bs[i]
		}
		na, errA := strconv.Atoi(sa)
		nb, errB := strconv.Atoi(sb)
		if errA == nil && errB == nil {
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
			continue
		}
		if sa != sb {
			if sa < sb {
				return -1
			}
			return 1
		}
	}
	return 0
}
