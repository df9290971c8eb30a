package manager

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tangramdotdev/tangram/internal/blob"
	"github.com/tangramdotdev/tangram/internal/config"
	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/index"
	"github.com/tangramdotdev/tangram/internal/object"
	"github.com/tangramdotdev/tangram/internal/objectstore"
	"github.com/tangramdotdev/tangram/internal/process"
	"github.com/tangramdotdev/tangram/internal/runtime"
	"github.com/tangramdotdev/tangram/internal/runtime/module"
	"github.com/tangramdotdev/tangram/internal/runtime/native"
)

func newTestManager(t *testing.T) (*Manager, objectstore.Store, *process.Scheduler) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := index.Open(config.Database{Kind: config.DatabaseSQLite, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	idx := index.New(db, config.DatabaseSQLite)
	sched := process.New(idx, []byte("test-secret"), nil)

	store := objectstore.NewMemory()
	resolver := runtime.NewArtifactResolver(store, t.TempDir())
	m := &Manager{
		Store:     store,
		Scheduler: sched,
		Native:    &native.Runtime{Store: store, Resolver: resolver, Sandbox: native.NoSandbox()},
		Module:    &module.Runtime{Store: store, Scheduler: sched, Loader: &module.StoreLoader{Store: store}},
	}
	return m, store, sched
}

func putCommand(t *testing.T, store objectstore.Store, cmd *object.Command) id.ID {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), cmd.ID(), cmd.Encode(), time.Now().UTC()))
	return cmd.ID()
}

func TestExecuteNativeCommandFinishesWithExitOutcome(t *testing.T) {
	m, store, sched := newTestManager(t)
	cmd := &object.Command{
		Executable: object.CommandExecutable{Path: "echo"},
		Args:       []object.Value{object.String("hi")},
	}
	commandID := putCommand(t, store, cmd)

	procID, _, err := sched.Spawn(context.Background(), commandID, process.SpawnOptions{})
	require.NoError(t, err)

	dequeued, err := sched.Dequeue(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, procID, dequeued)

	require.NoError(t, m.execute(context.Background(), procID))

	row, err := sched.Get(context.Background(), procID)
	require.NoError(t, err)
	require.Equal(t, index.ProcessFinished, row.Status)
	require.NotNil(t, row.ExitCode)
	require.Equal(t, 0, *row.ExitCode)
}

func TestExecuteModuleCommandBoxesOutputValue(t *testing.T) {
	m, store, sched := newTestManager(t)

	source := `function tangram(args, env) { return "hello"; }`
	blobID := mustBlob(t, store, source)
	file := object.NewFile(blobID, false, nil)
	require.NoError(t, store.Put(context.Background(), file.ID(), file.Encode(), time.Now().UTC()))

	cmd := &object.Command{
		Executable: object.CommandExecutable{Module: &object.CommandExecutableModule{
			Kind:     "js",
			Referent: object.Referent{Item: file.ID()},
		}},
	}
	commandID := putCommand(t, store, cmd)

	procID, _, err := sched.Spawn(context.Background(), commandID, process.SpawnOptions{})
	require.NoError(t, err)
	_, err = sched.Dequeue(context.Background(), 0)
	require.NoError(t, err)

	require.NoError(t, m.execute(context.Background(), procID))

	row, err := sched.Get(context.Background(), procID)
	require.NoError(t, err)
	require.Equal(t, index.ProcessFinished, row.Status)
	require.NotNil(t, row.Output)

	outBytes, _, err := store.Get(context.Background(), *row.Output)
	require.NoError(t, err)
	outFile, err := object.DecodeFile(outBytes)
	require.NoError(t, err)
	contentBytes := readBlob(t, store, outFile)
	val, err := object.DecodeValue(contentBytes)
	require.NoError(t, err)
	require.Equal(t, "hello", val.AsString())
}

func mustBlob(t *testing.T, store objectstore.Store, source string) id.ID {
	t.Helper()
	blobID, err := blob.Create(context.Background(), store, bytes.NewReader([]byte(source)), 0)
	require.NoError(t, err)
	return blobID
}

func readBlob(t *testing.T, store objectstore.Store, file *object.File) []byte {
	t.Helper()
	r, err := blob.NewReader(context.Background(), store, file.Contents)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

func TestExecuteCommandWithMissingCommandObjectFails(t *testing.T) {
	m, store, sched := newTestManager(t)
	_ = store
	procID, _, err := sched.Spawn(context.Background(), id.NewContent(id.KindCommand, []byte("missing")), process.SpawnOptions{})
	require.NoError(t, err)
	_, err = sched.Dequeue(context.Background(), 0)
	require.NoError(t, err)

	err = m.execute(context.Background(), procID)
	require.Error(t, err)
}
