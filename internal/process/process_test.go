package process_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tangramdotdev/tangram/internal/config"
	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/index"
	"github.com/tangramdotdev/tangram/internal/process"
)

func newTestScheduler(t *testing.T) *process.Scheduler {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := index.Open(config.Database{Kind: config.DatabaseSQLite, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	idx := index.New(db, config.DatabaseSQLite)
	return process.New(idx, []byte("test-secret"), nil)
}

func fakeCommandID(seed byte) id.ID {
	b := make([]byte, int(seed)+1)
	for i := range b {
		b[i] = seed
	}
	return id.NewContent(id.KindCommand, b)
}

func TestSpawnDequeueStartFinish(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(t)
	cmd := fakeCommandID(1)

	procID, token, err := s.Spawn(ctx, cmd, process.SpawnOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := s.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, procID, got)

	require.NoError(t, s.Start(ctx, procID, token))

	row, err := s.Get(ctx, procID)
	require.NoError(t, err)
	require.Equal(t, index.ProcessStarted, row.Status)
	require.NotNil(t, row.StartedAt)

	exit := 0
	require.NoError(t, s.Finish(ctx, procID, token, process.Outcome{ExitCode: &exit}))

	row, err = s.Get(ctx, procID)
	require.NoError(t, err)
	require.Equal(t, index.ProcessFinished, row.Status)
	require.True(t, row.Cached)
}

func TestDequeueEmptyReturnsNotFoundWithoutTimeout(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(t)
	_, err := s.Dequeue(ctx, 0)
	require.Error(t, err)
}

func TestSpawnCoalescesIdenticalWork(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(t)
	cmd := fakeCommandID(2)

	id1, _, err := s.Spawn(ctx, cmd, process.SpawnOptions{})
	require.NoError(t, err)
	id2, _, err := s.Spawn(ctx, cmd, process.SpawnOptions{})
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestSpawnCacheHitReturnsTerminalProcess(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(t)
	cmd := fakeCommandID(3)

	procID, token, err := s.Spawn(ctx, cmd, process.SpawnOptions{})
	require.NoError(t, err)
	_, err = s.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx, procID, token))
	exit := 0
	require.NoError(t, s.Finish(ctx, procID, token, process.Outcome{ExitCode: &exit}))

	again, _, err := s.Spawn(ctx, cmd, process.SpawnOptions{})
	require.NoError(t, err)
	require.Equal(t, procID, again)
}

func TestSpawnRetryOfAllocatesFreshProcess(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(t)
	cmd := fakeCommandID(4)

	procID, token, err := s.Spawn(ctx, cmd, process.SpawnOptions{})
	require.NoError(t, err)
	_, err = s.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx, procID, token))
	reason := "canceled"
	require.NoError(t, s.Finish(ctx, procID, token, process.Outcome{CancelReason: &reason}))

	retryID, _, err := s.Spawn(ctx, cmd, process.SpawnOptions{RetryOf: &procID})
	require.NoError(t, err)
	require.NotEqual(t, procID, retryID)
}

func TestCancelPropagatesToDescendants(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(t)
	parentCmd := fakeCommandID(5)
	childCmd := fakeCommandID(6)

	parentID, parentToken, err := s.Spawn(ctx, parentCmd, process.SpawnOptions{})
	require.NoError(t, err)
	childID, _, err := s.Spawn(ctx, childCmd, process.SpawnOptions{Parent: &parentID})
	require.NoError(t, err)

	require.NoError(t, s.Cancel(ctx, parentID, parentToken, "user requested"))

	child, err := s.Get(ctx, childID)
	require.NoError(t, err)
	require.NotNil(t, child.CancelReason)
}

func TestAddChildRejectsTerminalParent(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(t)
	parentCmd := fakeCommandID(7)
	childCmd := fakeCommandID(8)

	parentID, parentToken, err := s.Spawn(ctx, parentCmd, process.SpawnOptions{})
	require.NoError(t, err)
	_, err = s.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx, parentID, parentToken))
	exit := 0
	require.NoError(t, s.Finish(ctx, parentID, parentToken, process.Outcome{ExitCode: &exit}))

	childID, _, err := s.Spawn(ctx, childCmd, process.SpawnOptions{})
	require.NoError(t, err)

	err = s.AddChild(ctx, parentID, childID)
	require.Error(t, err)
}

func TestGetChildrenOrderedAndChunked(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(t)
	parentCmd := fakeCommandID(9)
	parentID, _, err := s.Spawn(ctx, parentCmd, process.SpawnOptions{})
	require.NoError(t, err)

	var children []id.ID
	for i := byte(0); i < 3; i++ {
		childID, _, err := s.Spawn(ctx, fakeCommandID(20+i), process.SpawnOptions{Parent: &parentID})
		require.NoError(t, err)
		children = append(children, childID)
	}

	got, err := s.GetChildren(ctx, parentID, 0, 0)
	require.NoError(t, err)
	require.Equal(t, children, got)

	page, err := s.GetChildren(ctx, parentID, 1, 1)
	require.NoError(t, err)
	require.Equal(t, []id.ID{children[1]}, page)
}

func TestHeartbeatStopsOnCancel(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(t)
	cmd := fakeCommandID(30)
	procID, token, err := s.Spawn(ctx, cmd, process.SpawnOptions{})
	require.NoError(t, err)
	_, err = s.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx, procID, token))

	require.NoError(t, s.Cancel(ctx, procID, token, "operator"))

	stop, err := s.Heartbeat(ctx, procID, token)
	require.NoError(t, err)
	require.True(t, stop)
}

func TestWrongTokenRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(t)
	cmd := fakeCommandID(40)
	procID, _, err := s.Spawn(ctx, cmd, process.SpawnOptions{})
	require.NoError(t, err)

	err = s.Start(ctx, procID, "not-a-real-token")
	require.Error(t, err)
}

func TestLogAppendAndFollow(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(t)
	cmd := fakeCommandID(50)
	procID, token, err := s.Spawn(ctx, cmd, process.SpawnOptions{})
	require.NoError(t, err)
	_, err = s.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx, procID, token))

	require.NoError(t, s.AppendLog(ctx, procID, []byte("hello ")))

	done := make(chan struct{})
	var followed []byte
	go func() {
		followed, _ = s.GetLog(ctx, procID, 0, 0, true)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.AppendLog(ctx, procID, []byte("world")))
	exit := 0
	require.NoError(t, s.Finish(ctx, procID, token, process.Outcome{ExitCode: &exit}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("GetLog follow did not return after process finished")
	}
	require.Equal(t, "hello world", string(followed))
}

func TestTouchAdvancesTouchedAt(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(t)
	cmd := fakeCommandID(60)
	procID, _, err := s.Spawn(ctx, cmd, process.SpawnOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Touch(ctx, procID))
}
