// Package replication implements spec §4.9's push/pull protocol: a local
// reachability walk from a starting object or process, a batched "what do
// you have" query against a peer, and a framed transfer of the complement
// in either direction.
package replication

import (
	"context"
	"fmt"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/object"
	"github.com/tangramdotdev/tangram/internal/objectstore"
	"github.com/tangramdotdev/tangram/internal/process"
)

// Options controls how far a process closure walk extends (spec §4.9's
// `recursive`, `logs`, `commands` push/pull flags).
type Options struct {
	// Recursive includes the process's descendant processes.
	Recursive bool
	// Logs includes each included process's log stream as part of the
	// transfer (reported via LogChunk, not a content-addressed object).
	Logs bool
	// Commands is accepted for parity with spec §6's push/pull flags;
	// a process's command object is always part of its closure here
	// since a process record is meaningless without it.
	Commands bool
}

// ObjectClosure walks root's object graph locally via child edges,
// returning root and every object transitively reachable from it.
func ObjectClosure(ctx context.Context, store objectstore.Store, root id.ID) ([]id.ID, error) {
	seen := map[id.ID]bool{}
	var order []id.ID
	queue := []id.ID{root}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		order = append(order, next)

		data, _, err := store.Get(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("replication: get %s: %w", next, err)
		}
		obj, err := object.Decode(next.Kind(), data)
		if err != nil {
			return nil, fmt.Errorf("replication: decode %s: %w", next, err)
		}
		for _, edge := range obj.ChildEdges() {
			if !seen[edge] {
				queue = append(queue, edge)
			}
		}
	}
	return order, nil
}

// ProcessClosure walks a process's closure per spec §4.9: its command
// object (and that command's own object closure), its output or error
// object if terminal, and — when opts.Recursive — every descendant
// process and its own closure. It returns the full set of object IDs to
// transfer and the full set of process IDs to transfer.
func ProcessClosure(ctx context.Context, store objectstore.Store, sched *process.Scheduler, rootProcID id.ID, opts Options) (objectIDs []id.ID, processIDs []id.ID, err error) {
	seenProc := map[id.ID]bool{}
	seenObj := map[id.ID]bool{}
	var objOrder []id.ID
	var procOrder []id.ID

	var walk func(procID id.ID) error
	walk = func(procID id.ID) error {
		if seenProc[procID] {
			return nil
		}
		seenProc[procID] = true
		procOrder = append(procOrder, procID)

		row, err := sched.Get(ctx, procID)
		if err != nil {
			return fmt.Errorf("replication: get process %s: %w", procID, err)
		}

		addObjects := func(root id.ID) error {
			closure, err := ObjectClosure(ctx, store, root)
			if err != nil {
				return err
			}
			for _, o := range closure {
				if !seenObj[o] {
					seenObj[o] = true
					objOrder = append(objOrder, o)
				}
			}
			return nil
		}

		// A process's command is always part of its closure — without it
		// the process record can't be reproduced or even explained.
		if err := addObjects(row.CommandID); err != nil {
			return err
		}
		if row.Output != nil {
			if err := addObjects(*row.Output); err != nil {
				return err
			}
		}
		if row.Error != nil {
			if err := addObjects(*row.Error); err != nil {
				return err
			}
		}

		if opts.Recursive {
			children, err := sched.GetChildren(ctx, procID, 0, 0)
			if err != nil {
				return fmt.Errorf("replication: get children of %s: %w", procID, err)
			}
			for _, child := range children {
				if err := walk(child); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(rootProcID); err != nil {
		return nil, nil, err
	}
	return objOrder, procOrder, nil
}
