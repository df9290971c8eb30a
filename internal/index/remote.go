package index

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/tangramdotdev/tangram/internal/tgerr"
)

// PutRemote registers name -> url (spec §6 remote: put/get/list/delete).
func (x *Index) PutRemote(ctx context.Context, name, url string) error {
	_, err := x.exec(ctx, `
		INSERT INTO remotes (name, url) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET url = excluded.url
	`, name, url)
	if err != nil {
		return fmt.Errorf("index: put remote %s: %w", name, err)
	}
	return nil
}

// GetRemote resolves a configured remote's URL.
func (x *Index) GetRemote(ctx context.Context, name string) (string, error) {
	var url string
	err := x.queryRow(ctx, `SELECT url FROM remotes WHERE name = ?`, name).Scan(&url)
	if err == sql.ErrNoRows {
		return "", tgerr.New(tgerr.NotFound, "index: remote %q not found", name)
	}
	return url, err
}

// RemoteEntry is one (name, url) pair.
type RemoteEntry struct {
	Name string
	URL  string
}

// ListRemotes returns every configured remote.
func (x *Index) ListRemotes(ctx context.Context) ([]RemoteEntry, error) {
	rows, err := x.query(ctx, `SELECT name, url FROM remotes ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RemoteEntry
	for rows.Next() {
		var e RemoteEntry
		if err := rows.Scan(&e.Name, &e.URL); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteRemote removes a configured remote.
func (x *Index) DeleteRemote(ctx context.Context, name string) error {
	_, err := x.exec(ctx, `DELETE FROM remotes WHERE name = ?`, name)
	return err
}

// RemoteTagCache bounds how stale a remote's answer to "what does tag X
// resolve to" may be, without blocking offline use of the last known
// answer (spec §4.6 "Remote tags are cached with a TTL"). It is plain
// in-memory state, independent of the remotes table above.
type RemoteTagCache struct {
	ttl time.Duration
	mu  sync.Mutex
	// key is "remote\x00pattern".
	entries map[string]cachedTag
}

type cachedTag struct {
	value     string
	expiresAt time.Time
}

// NewRemoteTagCache constructs a cache with the given TTL.
func NewRemoteTagCache(ttl time.Duration) *RemoteTagCache {
	return &RemoteTagCache{ttl: ttl, entries: make(map[string]cachedTag)}
}

// Get returns a cached value for (remote, pattern) if it hasn't expired.
func (c *RemoteTagCache) Get(remote, pattern string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[remote+"\x00"+pattern]
	if !ok || time.Now().After(e.expiresAt) {
		return "", false
	}
	return e.value, true
}

// GetStale returns the last known value regardless of expiry, for offline
// fallback when the remote can't be reached.
func (c *RemoteTagCache) GetStale(remote, pattern string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[remote+"\x00"+pattern]
	return e.value, ok
}

// Put records a freshly-resolved answer.
func (c *RemoteTagCache) Put(remote, pattern, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[remote+"\x00"+pattern] = cachedTag{value: value, expiresAt: time.Now().Add(c.ttl)}
}
