package replication

import (
	"context"
	"time"

	"github.com/tangramdotdev/tangram/internal/id"
)

// ProcessRecord is the wire form of a process record transferred between
// peers (spec §4.9 "process records are reconstructed and marked
// cached"); it mirrors index.ProcessRow's terminal fields without
// depending on the index package's SQL-backed type directly.
type ProcessRecord struct {
	ID           id.ID
	CommandID    id.ID
	ParentID     *id.ID
	Output       *id.ID
	Error        *id.ID
	ExitCode     *int
	CancelReason *string
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// LogChunk is one append to a process's log stream, transferred when
// Options.Logs is set.
type LogChunk struct {
	ProcessID id.ID
	Data      []byte
}

// Peer is a remote's replication-facing surface: everything Push/Pull
// needs to ask what the other side already has and stream the complement
// across, independent of the transport (spec §4.9's native
// peer-to-peer transport and the MinIO-backed remote both implement this
// one interface).
type Peer interface {
	// HasObjects reports, for each requested ID, whether the peer
	// already stores it (spec §4.9 step 2, "batched").
	HasObjects(ctx context.Context, ids []id.ID) (map[id.ID]bool, error)
	// PutObject stores one object's canonical bytes on the peer.
	PutObject(ctx context.Context, objID id.ID, kind id.Kind, data []byte) error
	// GetObject fetches one object's canonical bytes from the peer.
	GetObject(ctx context.Context, objID id.ID) ([]byte, error)

	// HasProcesses mirrors HasObjects for process records.
	HasProcesses(ctx context.Context, ids []id.ID) (map[id.ID]bool, error)
	// PutProcess stores a reconstructed process record on the peer.
	PutProcess(ctx context.Context, rec ProcessRecord) error
	// GetProcess fetches a process record from the peer.
	GetProcess(ctx context.Context, procID id.ID) (ProcessRecord, error)

	// AppendLog appends a log chunk to a process's stream on the peer.
	// Implementations that don't carry logs (e.g. a pure object remote)
	// may no-op.
	AppendLog(ctx context.Context, chunk LogChunk) error
}

// Progress is reported periodically during Push/Pull (spec §4.9
// "progress-reporting on object count and bytes").
type Progress struct {
	ObjectsTotal     int
	ObjectsTransferred int
	BytesTransferred int64
}
