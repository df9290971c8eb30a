package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/objectstore"
	"github.com/tangramdotdev/tangram/internal/process"
	"github.com/tangramdotdev/tangram/internal/tgerr"
)

// LocalPeer implements Peer directly against another server's Store and
// Scheduler, with no network hop in between — the native peer-to-peer
// transport spec §11's domain stack names, for two Tangram instances that
// can already reach each other as Go values (same process, or a future
// in-process cluster harness). It is the baseline every over-the-wire
// transport (MinIOPeer) must behave identically to.
type LocalPeer struct {
	Store     objectstore.Store
	Scheduler *process.Scheduler
}

func (p *LocalPeer) HasObjects(ctx context.Context, ids []id.ID) (map[id.ID]bool, error) {
	out := make(map[id.ID]bool, len(ids))
	for _, objID := range ids {
		ok, err := objectExists(ctx, p.Store, objID)
		if err != nil {
			return nil, err
		}
		out[objID] = ok
	}
	return out, nil
}

func (p *LocalPeer) PutObject(ctx context.Context, objID id.ID, kind id.Kind, data []byte) error {
	return p.Store.Put(ctx, objID, data, time.Now())
}

func (p *LocalPeer) GetObject(ctx context.Context, objID id.ID) ([]byte, error) {
	data, _, err := p.Store.Get(ctx, objID)
	return data, err
}

func (p *LocalPeer) HasProcesses(ctx context.Context, ids []id.ID) (map[id.ID]bool, error) {
	out := make(map[id.ID]bool, len(ids))
	for _, procID := range ids {
		_, err := p.Scheduler.Get(ctx, procID)
		out[procID] = err == nil
	}
	return out, nil
}

func (p *LocalPeer) PutProcess(ctx context.Context, rec ProcessRecord) error {
	outcome := process.Outcome{
		Output:       rec.Output,
		Error:        rec.Error,
		ExitCode:     rec.ExitCode,
		CancelReason: rec.CancelReason,
	}
	return p.Scheduler.PutReplicated(ctx, rec.ID, rec.CommandID, rec.ParentID, outcome, rec.CreatedAt)
}

func (p *LocalPeer) GetProcess(ctx context.Context, procID id.ID) (ProcessRecord, error) {
	row, err := p.Scheduler.Get(ctx, procID)
	if err != nil {
		return ProcessRecord{}, err
	}
	return ProcessRecord{
		ID:           row.ID,
		CommandID:    row.CommandID,
		ParentID:     row.ParentID,
		Output:       row.Output,
		Error:        row.Error,
		ExitCode:     row.ExitCode,
		CancelReason: row.CancelReason,
		CreatedAt:    row.CreatedAt,
		StartedAt:    row.StartedAt,
		FinishedAt:   row.FinishedAt,
	}, nil
}

func (p *LocalPeer) AppendLog(ctx context.Context, chunk LogChunk) error {
	return p.Scheduler.AppendLog(ctx, chunk.ProcessID, chunk.Data)
}

// GetChildren implements ChildLister so a recursive Pull can enumerate a
// LocalPeer's process tree (spec §4.9's recursive process walk).
func (p *LocalPeer) GetChildren(ctx context.Context, procID id.ID) ([]id.ID, error) {
	return p.Scheduler.GetChildren(ctx, procID, 0, 0)
}

func objectExists(ctx context.Context, store objectstore.Store, objID id.ID) (bool, error) {
	_, err := store.Metadata(ctx, objID)
	if err == nil {
		return true, nil
	}
	if tgErr, ok := err.(*tgerr.Error); ok && tgErr.Kind == tgerr.NotFound {
		return false, nil
	}
	return false, fmt.Errorf("replication: metadata %s: %w", objID, err)
}
