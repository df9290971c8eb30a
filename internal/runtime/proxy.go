// Package runtime implements spec §4.8's sandboxed-runtime substrate: the
// restricted host surface ("proxy", see Proxy for which runtime exposes
// what to the code it hosts), and the shared plumbing (artifact
// checkout, argument/environment resolution) both runtimes need before
// they can hand control to a sandbox.
package runtime

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/tangramdotdev/tangram/internal/checksum"
	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/objectstore"
	"github.com/tangramdotdev/tangram/internal/process"

	tgblob "github.com/tangramdotdev/tangram/internal/blob"
)

// Proxy is the bounded surface spec §4.8 describes: "create blobs, read
// objects, spawn child processes, log, checksum, sleep," plus heartbeat.
// Neither runtime calls it: the module runtime binds its own equivalent
// functions into the script engine (internal/runtime/module), and the
// native runtime gives the binaries it runs no host surface.
type Proxy struct {
	Store     objectstore.Store
	Scheduler *process.Scheduler
	ProcessID id.ID
	Token     string
}

// CreateBlob chunks data and stores it, returning the root blob's ID.
func (p *Proxy) CreateBlob(ctx context.Context, data []byte) (id.ID, error) {
	return tgblob.Create(ctx, p.Store, bytes.NewReader(data), 0)
}

// GetObject fetches an object's canonical bytes.
func (p *Proxy) GetObject(ctx context.Context, objID id.ID) ([]byte, error) {
	b, _, err := p.Store.Get(ctx, objID)
	return b, err
}

// SpawnChild spawns commandID as a child of the calling process. Spawn
// registers the parent/child edge itself, so the caller does not need to
// call AddChild separately.
func (p *Proxy) SpawnChild(ctx context.Context, commandID id.ID) (id.ID, error) {
	childID, _, err := p.Scheduler.Spawn(ctx, commandID, process.SpawnOptions{Parent: &p.ProcessID})
	return childID, err
}

// Log appends a chunk to the calling process's log stream.
func (p *Proxy) Log(ctx context.Context, data []byte) error {
	return p.Scheduler.AppendLog(ctx, p.ProcessID, data)
}

// Checksum computes a checksum over data using the named algorithm,
// rendered as the spec §6 "<algo>:<hex>" textual form.
func (p *Proxy) Checksum(algo string, data []byte) (string, error) {
	h, err := checksum.NewHash(checksum.Algorithm(algo))
	if err != nil {
		return "", fmt.Errorf("runtime: checksum: %w", err)
	}
	h.Write(data)
	v := checksum.Value{Algorithm: checksum.Algorithm(algo), Hex: fmt.Sprintf("%x", h.Sum(nil))}
	return v.String(), nil
}

// Sleep blocks for d or until ctx is canceled.
func (p *Proxy) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Heartbeat reports liveness through the scheduler, returning whether the
// scheduler wants this process to stop.
func (p *Proxy) Heartbeat(ctx context.Context) (bool, error) {
	return p.Scheduler.Heartbeat(ctx, p.ProcessID, p.Token)
}
