package replication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tangramdotdev/tangram/internal/backoff"
	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/object"
	"github.com/tangramdotdev/tangram/internal/objectstore"
	"github.com/tangramdotdev/tangram/internal/process"
	"github.com/tangramdotdev/tangram/internal/tgerr"
)

// nowFunc is a seam for tests; production code always uses time.Now.
var nowFunc = time.Now

// transferRetryPolicy backs retryTransfer's bounded exponential backoff
// with jitter (spec §7 "transient I/O errors... are retried locally with
// bounded exponential backoff + jitter"); a fresh Retrier is built per
// call so concurrent transfers (the errgroup below) don't share retry
// state.
func transferRetryPolicy() backoff.RetryPolicy {
	policy := backoff.NewExponentialBackoffPolicy(50 * time.Millisecond)
	policy.MaxInterval = 2 * time.Second
	policy.MaxRetries = 5
	return backoff.WithJitter(policy, backoff.FullJitter)
}

// retryableTransferErr reports whether err represents the kind of
// transient condition spec §7 says to retry locally (disk full, network
// reset, lock contention) rather than the kinds that must be returned to
// the caller immediately (not-found, invalid-argument, conflict,
// unauthorized) or that should never be retried (canceled). Peer
// implementations that talk over a real transport (MinIOPeer's S3 calls)
// return opaque transport errors rather than tgerr-classified ones for
// exactly this class of failure, so an error that doesn't classify as one
// of the immediate/non-retryable kinds is treated as transient.
func retryableTransferErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch tgerr.KindOf(err) {
	case tgerr.NotFound, tgerr.InvalidArgument, tgerr.Conflict, tgerr.Unauthorized, tgerr.Canceled:
		return false
	default:
		return true
	}
}

// retryTransfer runs op, retrying transient failures with
// transferRetryPolicy until it succeeds, hits a non-retryable error, or
// exhausts its retries (in which case the last error from op is
// returned, not ErrRetriesExhausted).
func retryTransfer(ctx context.Context, op func() error) error {
	retrier := backoff.NewRetrier(transferRetryPolicy())
	for {
		err := op()
		if !retryableTransferErr(err) {
			return err
		}
		if waitErr := retrier.Next(ctx, err); waitErr != nil {
			return err
		}
	}
}

// decodeForClosure decodes a remote-fetched object's bytes just far
// enough to read its child edges, for the remote-side closure walk
// (Pull) where nothing is local to decode against yet.
func decodeForClosure(objID id.ID, data []byte) ([]id.ID, error) {
	obj, err := object.Decode(objID.Kind(), data)
	if err != nil {
		return nil, fmt.Errorf("replication: decode %s: %w", objID, err)
	}
	return obj.ChildEdges(), nil
}

// maxInFlightTransfers bounds how many objects/logs are fetched or sent
// concurrently during a Push/Pull (spec §5 "bounded concurrent fan-out").
const maxInFlightTransfers = 8

// ProgressFunc is invoked after each object finishes transferring (spec
// §4.9 "progress-reporting on object count and bytes").
type ProgressFunc func(Progress)

// transfer moves the reachable closure of root between a local store/
// scheduler and a remote Peer, in the given direction. to=true means
// local→remote (Push); to=false means remote→local (Pull). Both
// directions share this walk-diff-stream shape per spec §4.9: the only
// difference is which side is queried for "what do you have" and which
// side is written to.
func transfer(ctx context.Context, store objectstore.Store, sched *process.Scheduler, peer Peer, objectIDs, processIDs []id.ID, opts Options, to bool, report ProgressFunc) error {
	progress := Progress{ObjectsTotal: len(objectIDs) + len(processIDs)}

	have, err := diffObjects(ctx, store, peer, objectIDs, to)
	if err != nil {
		return err
	}

	sem := semaphore.NewWeighted(maxInFlightTransfers)
	g, gctx := errgroup.WithContext(ctx)
	for _, objID := range objectIDs {
		objID := objID
		if have[objID] {
			continue
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			return fmt.Errorf("replication: acquire: %w", err)
		}
		g.Go(func() error {
			defer sem.Release(1)
			n, err := transferOneObject(gctx, store, peer, objID, to)
			if err != nil {
				return err
			}
			progress.ObjectsTransferred++
			progress.BytesTransferred += n
			if report != nil {
				report(progress)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Process records and (optionally) their logs are transferred after
	// their object closures land, so a receiver never observes a process
	// record pointing at a command/output it doesn't have yet.
	for _, procID := range processIDs {
		if err := transferOneProcess(ctx, sched, peer, procID, to, opts.Logs); err != nil {
			return err
		}
		progress.ObjectsTransferred++
		if report != nil {
			report(progress)
		}
	}
	return nil
}

func diffObjects(ctx context.Context, store objectstore.Store, peer Peer, objectIDs []id.ID, to bool) (map[id.ID]bool, error) {
	if to {
		var have map[id.ID]bool
		err := retryTransfer(ctx, func() error {
			var hasErr error
			have, hasErr = peer.HasObjects(ctx, objectIDs)
			return hasErr
		})
		return have, err
	}
	have := make(map[id.ID]bool, len(objectIDs))
	for _, objID := range objectIDs {
		ok, err := objectExists(ctx, store, objID)
		if err != nil {
			return nil, err
		}
		have[objID] = ok
	}
	return have, nil
}

func transferOneObject(ctx context.Context, store objectstore.Store, peer Peer, objID id.ID, to bool) (int64, error) {
	if to {
		data, _, err := store.Get(ctx, objID)
		if err != nil {
			return 0, fmt.Errorf("replication: read local %s: %w", objID, err)
		}
		if err := retryTransfer(ctx, func() error {
			return peer.PutObject(ctx, objID, objID.Kind(), data)
		}); err != nil {
			return 0, fmt.Errorf("replication: put remote %s: %w", objID, err)
		}
		return int64(len(data)), nil
	}
	var data []byte
	if err := retryTransfer(ctx, func() error {
		var getErr error
		data, getErr = peer.GetObject(ctx, objID)
		return getErr
	}); err != nil {
		return 0, fmt.Errorf("replication: read remote %s: %w", objID, err)
	}
	if err := store.Put(ctx, objID, data, nowFunc()); err != nil {
		return 0, fmt.Errorf("replication: put local %s: %w", objID, err)
	}
	return int64(len(data)), nil
}

func transferOneProcess(ctx context.Context, sched *process.Scheduler, peer Peer, procID id.ID, to, withLogs bool) error {
	if to {
		row, err := sched.Get(ctx, procID)
		if err != nil {
			return fmt.Errorf("replication: read local process %s: %w", procID, err)
		}
		rec := ProcessRecord{
			ID: row.ID, CommandID: row.CommandID, ParentID: row.ParentID,
			Output: row.Output, Error: row.Error, ExitCode: row.ExitCode,
			CancelReason: row.CancelReason, CreatedAt: row.CreatedAt,
			StartedAt: row.StartedAt, FinishedAt: row.FinishedAt,
		}
		if err := retryTransfer(ctx, func() error { return peer.PutProcess(ctx, rec) }); err != nil {
			return fmt.Errorf("replication: put remote process %s: %w", procID, err)
		}
		if withLogs {
			data, err := sched.GetLog(ctx, procID, 0, 0, false)
			if err != nil {
				return fmt.Errorf("replication: read local log %s: %w", procID, err)
			}
			if len(data) > 0 {
				if err := retryTransfer(ctx, func() error {
					return peer.AppendLog(ctx, LogChunk{ProcessID: procID, Data: data})
				}); err != nil {
					return fmt.Errorf("replication: put remote log %s: %w", procID, err)
				}
			}
		}
		return nil
	}

	var rec ProcessRecord
	if err := retryTransfer(ctx, func() error {
		var getErr error
		rec, getErr = peer.GetProcess(ctx, procID)
		return getErr
	}); err != nil {
		return fmt.Errorf("replication: read remote process %s: %w", procID, err)
	}
	outcome := process.Outcome{
		Output: rec.Output, Error: rec.Error, ExitCode: rec.ExitCode,
		CancelReason: rec.CancelReason,
	}
	if err := sched.PutReplicated(ctx, rec.ID, rec.CommandID, rec.ParentID, outcome, rec.CreatedAt); err != nil {
		return fmt.Errorf("replication: put local process %s: %w", procID, err)
	}
	return nil
}

// Push implements spec §4.9 in the local→remote direction: walk root's
// closure, ask the peer what it's missing, and stream the complement.
func Push(ctx context.Context, store objectstore.Store, sched *process.Scheduler, peer Peer, rootProcID id.ID, opts Options, report ProgressFunc) error {
	objectIDs, processIDs, err := ProcessClosure(ctx, store, sched, rootProcID, opts)
	if err != nil {
		return err
	}
	return transfer(ctx, store, sched, peer, objectIDs, processIDs, opts, true, report)
}

// Pull implements spec §4.9 in the remote→local direction: the closure is
// walked on the remote side since that's where the process record
// currently lives.
func Pull(ctx context.Context, store objectstore.Store, sched *process.Scheduler, peer Peer, rootProcID id.ID, opts Options, report ProgressFunc) error {
	var rec ProcessRecord
	err := retryTransfer(ctx, func() error {
		var getErr error
		rec, getErr = peer.GetProcess(ctx, rootProcID)
		return getErr
	})
	if err != nil {
		return fmt.Errorf("replication: pull: get remote process %s: %w", rootProcID, err)
	}
	objectIDs, processIDs, err := remoteProcessClosure(ctx, peer, rec, opts)
	if err != nil {
		return err
	}
	return transfer(ctx, store, sched, peer, objectIDs, processIDs, opts, false, report)
}

// remoteProcessClosure mirrors ProcessClosure but walks a peer's object
// graph and process tree over the Peer interface instead of a local
// store/scheduler, for the Pull direction where nothing is local yet.
func remoteProcessClosure(ctx context.Context, peer Peer, root ProcessRecord, opts Options) (objectIDs, processIDs []id.ID, err error) {
	seenProc := map[id.ID]bool{}
	seenObj := map[id.ID]bool{}
	var objOrder []id.ID
	var procOrder []id.ID

	addObjectClosure := func(rootID id.ID) error {
		queue := []id.ID{rootID}
		for len(queue) > 0 {
			next := queue[0]
			queue = queue[1:]
			if seenObj[next] {
				continue
			}
			seenObj[next] = true
			objOrder = append(objOrder, next)

			data, err := peer.GetObject(ctx, next)
			if err != nil {
				return fmt.Errorf("replication: remote closure: get %s: %w", next, err)
			}
			edges, err := decodeForClosure(next, data)
			if err != nil {
				return err
			}
			for _, edge := range edges {
				if !seenObj[edge] {
					queue = append(queue, edge)
				}
			}
		}
		return nil
	}

	var walk func(rec ProcessRecord) error
	walk = func(rec ProcessRecord) error {
		if seenProc[rec.ID] {
			return nil
		}
		seenProc[rec.ID] = true
		procOrder = append(procOrder, rec.ID)

		if err := addObjectClosure(rec.CommandID); err != nil {
			return err
		}
		if rec.Output != nil {
			if err := addObjectClosure(*rec.Output); err != nil {
				return err
			}
		}
		if rec.Error != nil {
			if err := addObjectClosure(*rec.Error); err != nil {
				return err
			}
		}
		if opts.Recursive {
			// The Peer interface has no "children of" call since a pure
			// object/process remote (e.g. MinIOPeer) has no scheduler to
			// ask; a peer that supports child listing implements the
			// optional ChildLister interface below.
			if lister, ok := peer.(ChildLister); ok {
				children, err := lister.GetChildren(ctx, rec.ID)
				if err != nil {
					return fmt.Errorf("replication: remote children of %s: %w", rec.ID, err)
				}
				for _, childID := range children {
					childRec, err := peer.GetProcess(ctx, childID)
					if err != nil {
						return fmt.Errorf("replication: remote child process %s: %w", childID, err)
					}
					if err := walk(childRec); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}

	if err := walk(root); err != nil {
		return nil, nil, err
	}
	return objOrder, procOrder, nil
}

// ChildLister is an optional Peer capability for listing a process's
// children remotely (spec §4.9's recursive process walk); LocalPeer
// implements it via its Scheduler, MinIOPeer does not since object
// storage alone has no process tree to enumerate.
type ChildLister interface {
	GetChildren(ctx context.Context, procID id.ID) ([]id.ID, error)
}
