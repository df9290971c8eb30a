package index

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/tgerr"
)

// ProcessStatus mirrors the spec §4.7 state machine.
type ProcessStatus string

const (
	ProcessCreated  ProcessStatus = "created"
	ProcessEnqueued ProcessStatus = "enqueued"
	ProcessDequeued ProcessStatus = "dequeued"
	ProcessStarted  ProcessStatus = "started"
	ProcessFinished ProcessStatus = "finished"
	ProcessCanceled ProcessStatus = "canceled"
)

// ProcessRow is the index's on-disk view of a process record.
type ProcessRow struct {
	ID           id.ID
	CommandID    id.ID
	ParentID     *id.ID
	Status       ProcessStatus
	Cached       bool
	CacheKey     string
	Output       *id.ID
	Error        *id.ID
	ExitCode     *int
	CancelReason *string
	TokenHash    string
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	HeartbeatAt  *time.Time
	TouchedAt    time.Time
	Version      int64
}

func (r ProcessRow) Terminal() bool {
	return r.Status == ProcessFinished || r.Status == ProcessCanceled
}

// InsertProcess creates a new process row in the status row.Status names.
func (x *Index) InsertProcess(ctx context.Context, row ProcessRow) error {
	var parentStr, outputStr, errStr *string
	if row.ParentID != nil {
		s := row.ParentID.String()
		parentStr = &s
	}
	_, err := x.exec(ctx, `
		INSERT INTO processes (id, command_id, parent_id, status, cached, cache_key,
			output, error, exit_code, cancel_reason, token_hash, created_at, touched_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, row.ID.String(), row.CommandID.String(), parentStr, string(row.Status), row.Cached,
		row.CacheKey, outputStr, errStr, row.ExitCode, row.CancelReason, row.TokenHash,
		row.CreatedAt, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("index: insert process %s: %w", row.ID, err)
	}
	return nil
}

// GetProcess fetches a process row by ID.
func (x *Index) GetProcess(ctx context.Context, procID id.ID) (ProcessRow, error) {
	row := x.queryRow(ctx, `
		SELECT id, command_id, parent_id, status, cached, cache_key, output, error,
			exit_code, cancel_reason, token_hash, created_at, started_at, finished_at,
			heartbeat_at, touched_at, version
		FROM processes WHERE id = ?
	`, procID.String())
	r, err := scanProcessRow(row)
	if err == sql.ErrNoRows {
		return ProcessRow{}, tgerr.New(tgerr.NotFound, "index: process %s not found", procID)
	}
	return r, err
}

// FindCachedTerminal returns a non-canceled terminal process for a cache
// key, if any (spec §4.7 cache coalescing).
func (x *Index) FindCachedTerminal(ctx context.Context, cacheKey string) (ProcessRow, bool, error) {
	row := x.queryRow(ctx, `
		SELECT id, command_id, parent_id, status, cached, cache_key, output, error,
			exit_code, cancel_reason, token_hash, created_at, started_at, finished_at,
			heartbeat_at, touched_at, version
		FROM processes
		WHERE cache_key = ? AND status = ? AND cached = ?
		ORDER BY created_at DESC LIMIT 1
	`, cacheKey, string(ProcessFinished), true)
	r, err := scanProcessRow(row)
	if err == sql.ErrNoRows {
		return ProcessRow{}, false, nil
	}
	if err != nil {
		return ProcessRow{}, false, err
	}
	return r, true, nil
}

// FindInFlight returns a non-terminal process for a cache key, if any, so
// concurrent spawns of identical work can coalesce onto it.
func (x *Index) FindInFlight(ctx context.Context, cacheKey string) (ProcessRow, bool, error) {
	row := x.queryRow(ctx, `
		SELECT id, command_id, parent_id, status, cached, cache_key, output, error,
			exit_code, cancel_reason, token_hash, created_at, started_at, finished_at,
			heartbeat_at, touched_at, version
		FROM processes
		WHERE cache_key = ? AND status NOT IN (?, ?)
		ORDER BY created_at DESC LIMIT 1
	`, cacheKey, string(ProcessFinished), string(ProcessCanceled))
	r, err := scanProcessRow(row)
	if err == sql.ErrNoRows {
		return ProcessRow{}, false, nil
	}
	if err != nil {
		return ProcessRow{}, false, err
	}
	return r, true, nil
}

func scanProcessRow(row *sql.Row) (ProcessRow, error) {
	var r ProcessRow
	var idStr, cmdStr, status, cacheKey, tokenHash string
	var parentStr, outputStr, errStr, cancelReason sql.NullString
	var exitCode sql.NullInt64
	var createdAt time.Time
	var startedAt, finishedAt, heartbeatAt, touchedAt sql.NullTime
	var cached bool
	var version int64

	if err := row.Scan(&idStr, &cmdStr, &parentStr, &status, &cached, &cacheKey, &outputStr,
		&errStr, &exitCode, &cancelReason, &tokenHash, &createdAt, &startedAt, &finishedAt,
		&heartbeatAt, &touchedAt, &version); err != nil {
		return ProcessRow{}, err
	}

	parsedID, err := id.Parse(idStr)
	if err != nil {
		return ProcessRow{}, err
	}
	cmdID, err := id.Parse(cmdStr)
	if err != nil {
		return ProcessRow{}, err
	}
	r = ProcessRow{
		ID:        parsedID,
		CommandID: cmdID,
		Status:    ProcessStatus(status),
		Cached:    cached,
		CacheKey:  cacheKey,
		TokenHash: tokenHash,
		CreatedAt: createdAt,
		Version:   version,
	}
	if parentStr.Valid {
		p, err := id.Parse(parentStr.String)
		if err != nil {
			return ProcessRow{}, err
		}
		r.ParentID = &p
	}
	if outputStr.Valid {
		o, err := id.Parse(outputStr.String)
		if err != nil {
			return ProcessRow{}, err
		}
		r.Output = &o
	}
	if errStr.Valid {
		e, err := id.Parse(errStr.String)
		if err != nil {
			return ProcessRow{}, err
		}
		r.Error = &e
	}
	if exitCode.Valid {
		n := int(exitCode.Int64)
		r.ExitCode = &n
	}
	if cancelReason.Valid {
		r.CancelReason = &cancelReason.String
	}
	if startedAt.Valid {
		r.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Time
	}
	if heartbeatAt.Valid {
		r.HeartbeatAt = &heartbeatAt.Time
	}
	if touchedAt.Valid {
		r.TouchedAt = touchedAt.Time
	}
	return r, nil
}

// DequeueOne atomically claims one ProcessEnqueued row, transitioning it
// to ProcessDequeued, oldest first. Returns (ProcessRow{}, false, nil)
// when no row is ready.
func (x *Index) DequeueOne(ctx context.Context) (ProcessRow, bool, error) {
	for {
		var idStr string
		err := x.queryRow(ctx, `
			SELECT id FROM processes WHERE status = ? ORDER BY created_at ASC LIMIT 1
		`, string(ProcessEnqueued)).Scan(&idStr)
		if err == sql.ErrNoRows {
			return ProcessRow{}, false, nil
		}
		if err != nil {
			return ProcessRow{}, false, err
		}
		res, err := x.exec(ctx, `
			UPDATE processes SET status = ?, version = version + 1
			WHERE id = ? AND status = ?
		`, string(ProcessDequeued), idStr, string(ProcessEnqueued))
		if err != nil {
			return ProcessRow{}, false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return ProcessRow{}, false, err
		}
		if n == 0 {
			// Lost the race to claim this row; try again.
			continue
		}
		procID, err := id.Parse(idStr)
		if err != nil {
			return ProcessRow{}, false, err
		}
		row, err := x.GetProcess(ctx, procID)
		return row, err == nil, err
	}
}

// CASProcessStatus transitions a process from `from` to `to`, failing with
// Conflict if the row is no longer in `from` (someone else transitioned
// it first).
func (x *Index) CASProcessStatus(ctx context.Context, procID id.ID, from, to ProcessStatus) error {
	res, err := x.exec(ctx, `
		UPDATE processes SET status = ?, version = version + 1 WHERE id = ? AND status = ?
	`, string(to), procID.String(), string(from))
	if err != nil {
		return fmt.Errorf("index: transition process %s: %w", procID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return tgerr.New(tgerr.Conflict, "index: process %s is not in status %s", procID, from)
	}
	return nil
}

// SetStarted records the started_at timestamp alongside a status CAS.
func (x *Index) SetStarted(ctx context.Context, procID id.ID, at time.Time) error {
	res, err := x.exec(ctx, `
		UPDATE processes SET status = ?, started_at = ?, version = version + 1
		WHERE id = ? AND status = ?
	`, string(ProcessStarted), at, procID.String(), string(ProcessDequeued))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return tgerr.New(tgerr.Conflict, "index: process %s is not dequeued", procID)
	}
	return nil
}

// SetTokenHash replaces a process's stored token hash, used when the
// scheduler mints a fresh mutation token for whoever dequeues the
// process (spec §4.7: "token? (authorizes mutation)").
func (x *Index) SetTokenHash(ctx context.Context, procID id.ID, hash string) error {
	_, err := x.exec(ctx, `UPDATE processes SET token_hash = ? WHERE id = ?`, hash, procID.String())
	return err
}

// SetHeartbeat bumps heartbeat_at for a started process.
func (x *Index) SetHeartbeat(ctx context.Context, procID id.ID, at time.Time) error {
	_, err := x.exec(ctx, `UPDATE processes SET heartbeat_at = ? WHERE id = ?`, at, procID.String())
	return err
}

// SetCancelReason marks a process for cancellation without forcing a
// status transition (the scheduler/runtime observes this on heartbeat).
func (x *Index) SetCancelReason(ctx context.Context, procID id.ID, reason string) error {
	_, err := x.exec(ctx, `UPDATE processes SET cancel_reason = ? WHERE id = ?`, reason, procID.String())
	return err
}

// FinishOutcome carries the terminal fields set by Finish/Cancel.
type FinishOutcome struct {
	Status       ProcessStatus
	Output       *id.ID
	Error        *id.ID
	ExitCode     *int
	CancelReason *string
	Cacheable    bool
}

// SetTerminal moves a process into a terminal state and records its
// outcome; rejects the call if the process is already terminal.
func (x *Index) SetTerminal(ctx context.Context, procID id.ID, at time.Time, out FinishOutcome) error {
	var outputStr, errStr *string
	if out.Output != nil {
		s := out.Output.String()
		outputStr = &s
	}
	if out.Error != nil {
		s := out.Error.String()
		errStr = &s
	}
	res, err := x.exec(ctx, `
		UPDATE processes
		SET status = ?, finished_at = ?, output = ?, error = ?, exit_code = ?,
			cancel_reason = ?, cached = ?, version = version + 1
		WHERE id = ? AND status NOT IN (?, ?)
	`, string(out.Status), at, outputStr, errStr, out.ExitCode, out.CancelReason, out.Cacheable,
		procID.String(), string(ProcessFinished), string(ProcessCanceled))
	if err != nil {
		return fmt.Errorf("index: finish process %s: %w", procID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return tgerr.New(tgerr.Conflict, "index: process %s is already terminal", procID)
	}
	return nil
}

// TouchProcess advances a process's touched_at monotonically (GC pin).
func (x *Index) TouchProcess(ctx context.Context, procID id.ID, at time.Time) error {
	_, err := x.exec(ctx, `UPDATE processes SET touched_at = ? WHERE id = ? AND touched_at < ?`, at, procID.String(), at)
	return err
}

// AppendChild appends childID to parentID's child list at the next
// position (spec §4.7 add_child; totally ordered per parent).
func (x *Index) AppendChild(ctx context.Context, parentID, childID id.ID) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status string
	if err := tx.QueryRowContext(ctx, x.rebind(`SELECT status FROM processes WHERE id = ?`), parentID.String()).Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return tgerr.New(tgerr.NotFound, "index: process %s not found", parentID)
		}
		return err
	}
	if status == string(ProcessFinished) || status == string(ProcessCanceled) {
		return tgerr.New(tgerr.InvalidArgument, "index: process %s is terminal, cannot add children", parentID)
	}

	var nextPos int
	if err := tx.QueryRowContext(ctx, x.rebind(`SELECT COALESCE(MAX(position) + 1, 0) FROM process_children WHERE parent_id = ?`), parentID.String()).Scan(&nextPos); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, x.rebind(`INSERT INTO process_children (parent_id, child_id, position) VALUES (?, ?, ?)`), parentID.String(), childID.String(), nextPos); err != nil {
		return fmt.Errorf("index: add child %s -> %s: %w", parentID, childID, err)
	}
	return tx.Commit()
}

// ListChildren returns a chunked slice of parentID's children, spec §4.7
// get_children(parent, {position, length}).
func (x *Index) ListChildren(ctx context.Context, parentID id.ID, position, length int) ([]id.ID, error) {
	if length <= 0 {
		length = 1 << 30
	}
	rows, err := x.query(ctx, `
		SELECT child_id FROM process_children
		WHERE parent_id = ? AND position >= ?
		ORDER BY position ASC LIMIT ?
	`, parentID.String(), position, length)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []id.ID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		childID, err := id.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, childID)
	}
	return out, rows.Err()
}

// DescendantsOf returns every transitive child of parentID (used by
// Cancel propagation, spec §4.7 "cancellation propagates to descendants").
func (x *Index) DescendantsOf(ctx context.Context, parentID id.ID) ([]id.ID, error) {
	var out []id.ID
	frontier := []id.ID{parentID}
	seen := map[string]bool{parentID.String(): true}
	for len(frontier) > 0 {
		var next []id.ID
		for _, p := range frontier {
			children, err := x.ListChildren(ctx, p, 0, 0)
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				if seen[c.String()] {
					continue
				}
				seen[c.String()] = true
				out = append(out, c)
				next = append(next, c)
			}
		}
		frontier = next
	}
	return out, nil
}
