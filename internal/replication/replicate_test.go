package replication_test

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
	"github.com/tangramdotdev/tangram/internal/object"
	"github.com/tangramdotdev/tangram/internal/objectstore"
	"github.com/tangramdotdev/tangram/internal/process"
	"github.com/tangramdotdev/tangram/internal/replication"
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

// storeObject encodes and puts an object, returning its ID.
func storeObject(t *testing.T, ctx context.Context, store objectstore.Store, obj object.Object) id.ID {
	t.Helper()
	data := obj.Encode()
	objID := id.NewContent(obj.Kind(), data)
	require.NoError(t, store.Put(ctx, objID, data, time.Now()))
	return objID
}

func simpleCommand(t *testing.T, ctx context.Context, store objectstore.Store, artifact id.ID) id.ID {
	t.Helper()
	cmd := &object.Command{
		Host:       "x86_64-linux",
		Executable: object.CommandExecutable{Artifact: &object.CommandExecutableArtifact{Artifact: artifact}},
	}
	return storeObject(t, ctx, store, cmd)
}

func TestObjectClosureWalksChildEdges(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemory()

	leaf := object.NewLeaf([]byte("hello"))
	leafID := storeObject(t, ctx, store, leaf)
	file := object.NewFile(leafID, false, nil)
	fileID := storeObject(t, ctx, store, file)
	dir := object.NewDirectory(map[string]object.DirectoryEntry{"a.txt": {Artifact: fileID}})
	dirID := storeObject(t, ctx, store, dir)

	closure, err := replication.ObjectClosure(ctx, store, dirID)
	require.NoError(t, err)
	require.ElementsMatch(t, []id.ID{dirID, fileID, leafID}, closure)
}

func TestPushPullRoundTrip(t *testing.T) {
	ctx := context.Background()

	srcStore := objectstore.NewMemory()
	srcSched := newTestScheduler(t)

	leaf := object.NewLeaf([]byte("hi"))
	leafID := storeObject(t, ctx, srcStore, leaf)
	file := object.NewFile(leafID, true, nil)
	fileID := storeObject(t, ctx, srcStore, file)
	cmdID := simpleCommand(t, ctx, srcStore, fileID)

	procID, token, err := srcSched.Spawn(ctx, cmdID, process.SpawnOptions{})
	require.NoError(t, err)
	_, err = srcSched.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	workerToken, err := srcSched.IssueWorkerToken(ctx, procID)
	require.NoError(t, err)
	require.NoError(t, srcSched.Start(ctx, procID, workerToken))
	require.NoError(t, srcSched.AppendLog(ctx, procID, []byte("log line\n")))
	outputID := leafID
	require.NoError(t, srcSched.Finish(ctx, procID, workerToken, process.Outcome{Output: &outputID}))
	_ = token

	dstStore := objectstore.NewMemory()
	dstSched := newTestScheduler(t)
	peer := &replication.LocalPeer{Store: dstStore, Scheduler: dstSched}

	srcPeer := &replication.LocalPeer{Store: srcStore, Scheduler: srcSched}
	require.NoError(t, replication.Push(ctx, srcStore, srcSched, peer, procID, replication.Options{Logs: true}, nil))

	for _, objID := range []id.ID{leafID, fileID, cmdID} {
		got, _, err := dstStore.Get(ctx, objID)
		require.NoError(t, err)
		want, _, err := srcStore.Get(ctx, objID)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	row, err := dstSched.Get(ctx, procID)
	require.NoError(t, err)
	require.NotNil(t, row.Output)
	require.Equal(t, outputID, *row.Output)

	// Pull is the mirror direction: drop the destination and pull it back
	// from the source over the same LocalPeer shape.
	dstStore2 := objectstore.NewMemory()
	dstSched2 := newTestScheduler(t)
	require.NoError(t, replication.Pull(ctx, dstStore2, dstSched2, srcPeer, procID, replication.Options{Logs: true}, nil))
	_, _, err = dstStore2.Get(ctx, leafID)
	require.NoError(t, err)
	row2, err := dstSched2.Get(ctx, procID)
	require.NoError(t, err)
	require.Equal(t, outputID, *row2.Output)
}
