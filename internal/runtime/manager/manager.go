// Package manager implements the worker loop spec §4.7 assumes but does
// not name: something has to dequeue a ready process, hand it to the
// runtime its command's executable names, and report the result back
// through start/heartbeat/finish. Manager is that glue, sitting between
// the process scheduler and the native/module runtimes.
package manager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tangramdotdev/tangram/internal/blob"
	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/object"
	"github.com/tangramdotdev/tangram/internal/objectstore"
	"github.com/tangramdotdev/tangram/internal/process"
	"github.com/tangramdotdev/tangram/internal/runtime/module"
	"github.com/tangramdotdev/tangram/internal/runtime/native"
	"github.com/tangramdotdev/tangram/internal/tgerr"
)

// PollTimeout bounds how long a single Dequeue call blocks when the
// queue is empty, so Run notices context cancellation promptly.
const PollTimeout = 2 * time.Second

// Manager repeatedly claims one process at a time from a Scheduler and
// runs it to completion with the native or module runtime, according to
// its command's executable variant.
type Manager struct {
	Store     objectstore.Store
	Scheduler *process.Scheduler
	Native    *native.Runtime
	Module    *module.Runtime
	Log       *slog.Logger

	mu     sync.Mutex
	active map[id.ID]struct{}
}

// Run claims and executes processes one at a time until ctx is canceled.
// Callers wanting concurrency run several Managers sharing one Scheduler
// and Store.
func (m *Manager) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		procID, err := m.Scheduler.Dequeue(ctx, PollTimeout)
		if err != nil {
			if errors.Is(err, tgerr.Sentinel(tgerr.NotFound)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger().Error("dequeue failed", "error", err)
			continue
		}
		m.markActive(procID)
		if err := m.execute(ctx, procID); err != nil {
			m.logger().Error("process execution failed", "process", procID.String(), "error", err)
		}
		m.markInactive(procID)
	}
}

// ActiveProcessIDs lists processes this Manager is currently executing,
// for a reaper to feed into Scheduler.CheckMissedHeartbeats.
func (m *Manager) ActiveProcessIDs() []id.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]id.ID, 0, len(m.active))
	for procID := range m.active {
		out = append(out, procID)
	}
	return out
}

func (m *Manager) markActive(procID id.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		m.active = make(map[id.ID]struct{})
	}
	m.active[procID] = struct{}{}
}

func (m *Manager) markInactive(procID id.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, procID)
}

func (m *Manager) logger() *slog.Logger {
	if m.Log != nil {
		return m.Log
	}
	return slog.Default()
}

// execute loads procID's command, starts it, runs it through the right
// runtime, and finishes it with the resulting outcome. Errors returned
// from this function are the manager's own bookkeeping failures (e.g. the
// command object is missing); errors from the user's code become the
// process's finishing outcome instead, per spec §4.8 "runtime errors from
// user code become the finishing outcome of the process, not a server
// error."
func (m *Manager) execute(ctx context.Context, procID id.ID) error {
	row, err := m.Scheduler.Get(ctx, procID)
	if err != nil {
		return fmt.Errorf("manager: get process: %w", err)
	}

	commandBytes, _, err := m.Store.Get(ctx, row.CommandID)
	if err != nil {
		return fmt.Errorf("manager: get command: %w", err)
	}
	commandObj, err := object.DecodeCommand(commandBytes)
	if err != nil {
		return fmt.Errorf("manager: decode command: %w", err)
	}

	token, err := m.Scheduler.IssueWorkerToken(ctx, procID)
	if err != nil {
		return fmt.Errorf("manager: issue worker token: %w", err)
	}
	if err := m.Scheduler.Start(ctx, procID, token); err != nil {
		return fmt.Errorf("manager: start: %w", err)
	}

	logWrite := func(chunk []byte) {
		if err := m.Scheduler.AppendLog(ctx, procID, chunk); err != nil {
			m.logger().Warn("append log failed", "process", procID.String(), "error", err)
		}
	}
	onHeartbeat := func(hbCtx context.Context) (bool, error) {
		return m.Scheduler.Heartbeat(hbCtx, procID, token)
	}

	outcome, err := m.run(ctx, procID, token, commandObj, logWrite, onHeartbeat)
	if err != nil {
		return fmt.Errorf("manager: run: %w", err)
	}

	if ferr := m.Scheduler.Finish(ctx, procID, token, outcome); ferr != nil {
		return fmt.Errorf("manager: finish: %w", ferr)
	}
	return nil
}

// run dispatches commandObj to the native or module runtime and converts
// whatever it produces (or however it fails) into a finishing Outcome.
// User-code errors are captured as object.Error values, not returned.
func (m *Manager) run(ctx context.Context, procID id.ID, token string, commandObj *object.Command, logWrite func([]byte), onHeartbeat func(context.Context) (bool, error)) (process.Outcome, error) {
	if commandObj.Executable.Module != nil {
		val, err := m.Module.Run(ctx, procID, token, commandObj, logWrite)
		if err != nil {
			return m.errorOutcome(ctx, err)
		}
		outputID, err := m.boxValue(ctx, val)
		if err != nil {
			return process.Outcome{}, fmt.Errorf("manager: box output value: %w", err)
		}
		return process.Outcome{Output: &outputID}, nil
	}

	result, err := m.Native.Run(ctx, commandObj, logWrite, onHeartbeat)
	if err != nil {
		return m.errorOutcome(ctx, err)
	}
	exitCode := result.ExitCode
	return process.Outcome{ExitCode: &exitCode}, nil
}

// errorOutcome stores err's message as an object.Error and returns the
// outcome referencing it, rather than surfacing err as a manager error.
func (m *Manager) errorOutcome(ctx context.Context, runErr error) (process.Outcome, error) {
	tgErr, ok := runErr.(*tgerr.Error)
	if !ok {
		tgErr = tgerr.Wrap(tgerr.Internal, runErr, "manager: run")
	}
	errObj := object.FromTgerr(tgErr, id.ID{})
	if err := m.Store.Put(ctx, errObj.ID(), errObj.Encode(), time.Now().UTC()); err != nil {
		return process.Outcome{}, fmt.Errorf("manager: store error object: %w", err)
	}
	errID := errObj.ID()
	return process.Outcome{Error: &errID}, nil
}

// boxValue persists a module runtime's return value as a content-addressed
// object so it can be referenced by Outcome.Output (spec §4.7 "output?
// (object ID of final value)"). A Value that is already an object
// reference is used as-is; anything else is wrapped in a File whose
// contents are the value's canonical wire encoding.
func (m *Manager) boxValue(ctx context.Context, v object.Value) (id.ID, error) {
	if v.Kind() == object.ValueObject {
		return v.AsObject(), nil
	}
	encoded := object.EncodeValue(v)
	blobID, err := blob.Create(ctx, m.Store, bytes.NewReader(encoded), 0)
	if err != nil {
		return id.ID{}, err
	}
	file := object.NewFile(blobID, false, nil)
	if err := m.Store.Put(ctx, file.ID(), file.Encode(), time.Now().UTC()); err != nil {
		return id.ID{}, err
	}
	return file.ID(), nil
}
