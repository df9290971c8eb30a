// Package process implements the spec §4.7 process scheduler: the
// created → enqueued → dequeued → started → finished/canceled lifecycle,
// parent/child relations, at-most-one cache coalescing, and a JWT-backed
// mutation token, all persisted through internal/index's processes and
// process_children tables.
package process

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/index"
	"github.com/tangramdotdev/tangram/internal/tgerr"
)

// RetryPolicy is accepted on SpawnOptions, but Spawn neither stores nor
// reads it: no process canceled by a missed heartbeat or by Cancel is
// retried automatically. A new attempt is made only by a Spawn with
// RetryOf set.
type RetryPolicy struct {
	MaxAttempts int
}

// SpawnOptions parametrizes Spawn (spec §4.7 `spawn(command, {parent?,
// retry, remote?, create?})`).
type SpawnOptions struct {
	Parent *id.ID
	Retry  RetryPolicy
	Remote string
	// Create forces a fresh process even if a cached terminal result
	// exists for this command's cache key.
	Create bool
	// RetryOf, when set, allocates a fresh process for a new attempt at
	// the given prior process, bumping the cache key's retry
	// discriminator so it never coalesces with the original (spec §12
	// "process retry discriminator").
	RetryOf *id.ID
}

// Outcome is the tagged union `finish` accepts (spec §4.7).
type Outcome struct {
	Output       *id.ID
	Error        *id.ID
	ExitCode     *int
	CancelReason *string
}

func (o Outcome) status() index.ProcessStatus {
	if o.CancelReason != nil {
		return index.ProcessCanceled
	}
	return index.ProcessFinished
}

func (o Outcome) successful() bool {
	return o.CancelReason == nil && o.Error == nil && (o.ExitCode == nil || *o.ExitCode == 0)
}

// HeartbeatTimeout is the spec §4.7 "missing heartbeats for longer than a
// threshold" cutoff past which a started process is presumed dead.
const HeartbeatTimeout = 30 * time.Second

// Scheduler is the in-process coordinator described by spec §4.7. It is
// safe for concurrent use.
type Scheduler struct {
	idx    *index.Index
	logs   LogStore
	secret []byte

	mu         sync.Mutex
	dequeueCh  chan struct{} // closed+replaced to wake blocked Dequeue calls
	inFlightMu sync.Mutex
	inFlight   map[string]*sync.Mutex // per-cache-key spawn serialization
}

// New constructs a Scheduler backed by idx. A nil secret generates a
// fresh random HMAC key (tokens from a prior process instance won't
// verify against a newly-started scheduler using a random key — pass an
// explicit secret to survive restarts).
func New(idx *index.Index, secret []byte, logs LogStore) *Scheduler {
	if secret == nil {
		secret = randomSecret()
	}
	if logs == nil {
		logs = NewMemoryLogStore()
	}
	return &Scheduler{
		idx:       idx,
		logs:      logs,
		secret:    secret,
		dequeueCh: make(chan struct{}),
		inFlight:  map[string]*sync.Mutex{},
	}
}

func cacheKey(commandID id.ID, attempt int) string {
	if attempt == 0 {
		return commandID.String()
	}
	return fmt.Sprintf("%s#retry:%d", commandID.String(), attempt)
}

func (s *Scheduler) keyLock(key string) *sync.Mutex {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	m, ok := s.inFlight[key]
	if !ok {
		m = &sync.Mutex{}
		s.inFlight[key] = m
	}
	return m
}

// Spawn implements spec §4.7 spawn: returns a cached terminal process for
// this command's cache key when one exists and the caller isn't forcing
// re-execution or retrying, otherwise creates a fresh record and enqueues
// it. Concurrent spawns of identical, non-retried work coalesce onto one
// process (spec "at-most-one coalescing for identical work").
func (s *Scheduler) Spawn(ctx context.Context, commandID id.ID, opts SpawnOptions) (id.ID, string, error) {
	attempt := 0
	if opts.RetryOf != nil {
		prior, err := s.idx.GetProcess(ctx, *opts.RetryOf)
		if err != nil {
			return id.ID{}, "", err
		}
		attempt = attemptOf(prior.CacheKey) + 1
		opts.Create = true
	}
	key := cacheKey(commandID, attempt)

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if !opts.Create {
		if cached, ok, err := s.idx.FindCachedTerminal(ctx, key); err != nil {
			return id.ID{}, "", err
		} else if ok {
			return cached.ID, "", nil
		}
		if inflight, ok, err := s.idx.FindInFlight(ctx, key); err != nil {
			return id.ID{}, "", err
		} else if ok {
			return inflight.ID, "", nil
		}
	}

	procID := id.NewTemporal(id.KindProcess)
	token, hash, err := issueToken(s.secret, procID)
	if err != nil {
		return id.ID{}, "", err
	}
	now := time.Now().UTC()

	row := index.ProcessRow{
		ID:        procID,
		CommandID: commandID,
		ParentID:  opts.Parent,
		Status:    index.ProcessEnqueued,
		CacheKey:  key,
		TokenHash: hash,
		CreatedAt: now,
	}
	if err := s.idx.InsertProcess(ctx, row); err != nil {
		return id.ID{}, "", err
	}
	if opts.Parent != nil {
		if err := s.idx.AppendChild(ctx, *opts.Parent, procID); err != nil {
			return id.ID{}, "", err
		}
	}
	s.wakeDequeuers()
	return procID, token, nil
}

func attemptOf(key string) int {
	_, suffix, ok := strings.Cut(key, "#retry:")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0
	}
	return n
}

func (s *Scheduler) wakeDequeuers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.dequeueCh)
	s.dequeueCh = make(chan struct{})
}

// Dequeue implements spec §4.7 dequeue({timeout?}): pops a ready process
// atomically, blocking up to timeout when the queue is empty. timeout<=0
// means return immediately.
func (s *Scheduler) Dequeue(ctx context.Context, timeout time.Duration) (id.ID, error) {
	deadline := time.Now().Add(timeout)
	for {
		row, ok, err := s.idx.DequeueOne(ctx)
		if err != nil {
			return id.ID{}, err
		}
		if ok {
			return row.ID, nil
		}
		if timeout <= 0 {
			return id.ID{}, tgerr.New(tgerr.NotFound, "process: no process ready to dequeue")
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return id.ID{}, tgerr.New(tgerr.NotFound, "process: dequeue timed out")
		}

		s.mu.Lock()
		ch := s.dequeueCh
		s.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return id.ID{}, ctx.Err()
		}
	}
}

// IssueWorkerToken mints a fresh mutation token for procID and persists
// its hash, replacing whatever token was issued at Spawn time. A runtime
// that dequeued procID from this same in-process Scheduler calls this to
// obtain the authority Start/Heartbeat/Finish require — the submitter's
// own spawn-time token is for their own wait/cancel calls, not for the
// worker that ends up actually executing the work (spec §4.7 "token?
// (authorizes mutation)"; who holds it across the spawn/dequeue boundary
// is left to the implementer).
func (s *Scheduler) IssueWorkerToken(ctx context.Context, procID id.ID) (string, error) {
	token, hash, err := issueToken(s.secret, procID)
	if err != nil {
		return "", err
	}
	if err := s.idx.SetTokenHash(ctx, procID, hash); err != nil {
		return "", err
	}
	return token, nil
}

// Start implements spec §4.7 start(id, token): dequeued → started.
func (s *Scheduler) Start(ctx context.Context, procID id.ID, token string) error {
	row, err := s.idx.GetProcess(ctx, procID)
	if err != nil {
		return err
	}
	if err := verifyToken(s.secret, procID, row.TokenHash, token); err != nil {
		return err
	}
	return s.idx.SetStarted(ctx, procID, time.Now().UTC())
}

// Heartbeat implements spec §4.7 heartbeat(id, token): records liveness
// and reports whether the scheduler wants this process to stop.
func (s *Scheduler) Heartbeat(ctx context.Context, procID id.ID, token string) (stop bool, err error) {
	row, err := s.idx.GetProcess(ctx, procID)
	if err != nil {
		return false, err
	}
	if err := verifyToken(s.secret, procID, row.TokenHash, token); err != nil {
		return false, err
	}
	if row.Terminal() {
		return true, nil
	}
	if row.CancelReason != nil {
		return true, nil
	}
	return false, s.idx.SetHeartbeat(ctx, procID, time.Now().UTC())
}

// Finish implements spec §4.7 finish(id, token, outcome).
func (s *Scheduler) Finish(ctx context.Context, procID id.ID, token string, outcome Outcome) error {
	row, err := s.idx.GetProcess(ctx, procID)
	if err != nil {
		return err
	}
	if err := verifyToken(s.secret, procID, row.TokenHash, token); err != nil {
		return err
	}
	out := index.FinishOutcome{
		Status:       outcome.status(),
		Output:       outcome.Output,
		Error:        outcome.Error,
		ExitCode:     outcome.ExitCode,
		CancelReason: outcome.CancelReason,
		Cacheable:    outcome.successful(),
	}
	if err := s.idx.SetTerminal(ctx, procID, time.Now().UTC(), out); err != nil {
		return err
	}
	s.logs.Close(procID)
	return nil
}

// PutReplicated reconstructs a terminal process record received from a
// peer during pull (spec §4.9 "process records are reconstructed and
// marked cached"), preserving the original process ID rather than minting
// a fresh one. Idempotent: a process already present locally is left
// untouched, matching the object store's idempotent Put.
func (s *Scheduler) PutReplicated(ctx context.Context, procID, commandID id.ID, parentID *id.ID, outcome Outcome, createdAt time.Time) error {
	if _, err := s.idx.GetProcess(ctx, procID); err == nil {
		return nil
	}
	row := index.ProcessRow{
		ID:        procID,
		CommandID: commandID,
		ParentID:  parentID,
		Status:    index.ProcessCreated,
		CacheKey:  cacheKey(commandID, 0),
		CreatedAt: createdAt,
	}
	if err := s.idx.InsertProcess(ctx, row); err != nil {
		return err
	}
	if parentID != nil {
		if err := s.idx.AppendChild(ctx, *parentID, procID); err != nil {
			return err
		}
	}
	return s.idx.SetTerminal(ctx, procID, createdAt, index.FinishOutcome{
		Status:       outcome.status(),
		Output:       outcome.Output,
		Error:        outcome.Error,
		ExitCode:     outcome.ExitCode,
		CancelReason: outcome.CancelReason,
		Cacheable:    outcome.successful(),
	})
}

// Cancel implements spec §4.7 cancel(id, token, reason): requests
// cancellation, propagating to every descendant; a no-op if already
// terminal.
func (s *Scheduler) Cancel(ctx context.Context, procID id.ID, token string, reason string) error {
	row, err := s.idx.GetProcess(ctx, procID)
	if err != nil {
		return err
	}
	if err := verifyToken(s.secret, procID, row.TokenHash, token); err != nil {
		return err
	}
	if row.Terminal() {
		return nil
	}
	if err := s.idx.SetCancelReason(ctx, procID, reason); err != nil {
		return err
	}

	descendants, err := s.idx.DescendantsOf(ctx, procID)
	if err != nil {
		return err
	}
	for _, d := range descendants {
		dr, err := s.idx.GetProcess(ctx, d)
		if err != nil {
			return err
		}
		if dr.Terminal() {
			continue
		}
		if err := s.idx.SetCancelReason(ctx, d, reason); err != nil {
			return err
		}
	}
	return nil
}

// AddChild implements spec §4.7 add_child(parent_id, child_id).
func (s *Scheduler) AddChild(ctx context.Context, parentID, childID id.ID) error {
	return s.idx.AppendChild(ctx, parentID, childID)
}

// GetChildren implements spec §4.7 get_children(parent, {position, length}).
func (s *Scheduler) GetChildren(ctx context.Context, parentID id.ID, position, length int) ([]id.ID, error) {
	return s.idx.ListChildren(ctx, parentID, position, length)
}

// AppendLog writes to a process's log stream (write order preserved).
func (s *Scheduler) AppendLog(ctx context.Context, procID id.ID, chunk []byte) error {
	return s.logs.Append(ctx, procID, chunk)
}

// GetLog implements spec §4.7 get_log(id, {position?, length?, follow?}).
// With follow=true it blocks, re-reading as new bytes arrive, until the
// process reaches a terminal state; without it, it returns whatever is
// available right now.
func (s *Scheduler) GetLog(ctx context.Context, procID id.ID, position, length int, follow bool) ([]byte, error) {
	if !follow {
		data, _, err := s.logs.Read(ctx, procID, position, length)
		return data, err
	}
	var out []byte
	for {
		chunk, eof, err := s.logs.Read(ctx, procID, position, length)
		if err != nil {
			return out, err
		}
		out = append(out, chunk...)
		position += len(chunk)
		if eof {
			return out, nil
		}
		if length > 0 && len(out) >= length {
			return out, nil
		}
	}
}

// Touch implements spec §4.7 touch(id): prevents GC from reclaiming a
// live process.
func (s *Scheduler) Touch(ctx context.Context, procID id.ID) error {
	return s.idx.TouchProcess(ctx, procID, time.Now().UTC())
}

// Get returns the full index row for a process (used by clients rendering
// status, and by CheckMissedHeartbeats below).
func (s *Scheduler) Get(ctx context.Context, procID id.ID) (index.ProcessRow, error) {
	return s.idx.GetProcess(ctx, procID)
}

// CheckMissedHeartbeats scans started processes whose heartbeat is older
// than HeartbeatTimeout and cancels them (spec §4.7 "missing heartbeats
// for longer than a threshold cause the scheduler to transition the
// process to canceled"); if policy allows a retry, the caller is expected
// to Spawn a successor with RetryOf set to the canceled process's ID.
// This returns the IDs it canceled so callers can decide on retries.
func (s *Scheduler) CheckMissedHeartbeats(ctx context.Context, candidates []id.ID) ([]id.ID, error) {
	var canceled []id.ID
	cutoff := time.Now().UTC().Add(-HeartbeatTimeout)
	for _, procID := range candidates {
		row, err := s.idx.GetProcess(ctx, procID)
		if err != nil {
			return canceled, err
		}
		if row.Terminal() || row.Status != index.ProcessStarted {
			continue
		}
		if row.HeartbeatAt != nil && row.HeartbeatAt.After(cutoff) {
			continue
		}
		reason := "missed heartbeat"
		if err := s.idx.SetTerminal(ctx, procID, time.Now().UTC(), index.FinishOutcome{
			Status:       index.ProcessCanceled,
			CancelReason: &reason,
		}); err != nil {
			return canceled, err
		}
		s.logs.Close(procID)
		canceled = append(canceled, procID)
	}
	return canceled, nil
}
