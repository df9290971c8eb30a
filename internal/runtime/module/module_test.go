package module

import (
	"bytes"
	"context"
	"fmt"
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
)

func newTestModuleRuntime(t *testing.T) (*Runtime, objectstore.Store) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := index.Open(config.Database{Kind: config.DatabaseSQLite, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	idx := index.New(db, config.DatabaseSQLite)
	sched := process.New(idx, []byte("test-secret"), nil)

	store := objectstore.NewMemory()
	return &Runtime{Store: store, Scheduler: sched, Loader: &StoreLoader{Store: store}}, store
}

func putModule(t *testing.T, store objectstore.Store, source string) id.ID {
	t.Helper()
	ctx := context.Background()
	blobID, err := blob.Create(ctx, store, bytes.NewReader([]byte(source)), 0)
	require.NoError(t, err)
	file := object.NewFile(blobID, false, nil)
	require.NoError(t, store.Put(ctx, file.ID(), file.Encode(), time.Now().UTC()))
	return file.ID()
}

func TestModuleRunReturnsValue(t *testing.T) {
	rt, store := newTestModuleRuntime(t)
	moduleID := putModule(t, store, `function tangram(args, env) { return args[0] + "-" + env.NAME; }`)

	cmd := &object.Command{
		Executable: object.CommandExecutable{Module: &object.CommandExecutableModule{
			Kind:     "js",
			Referent: object.Referent{Item: moduleID},
		}},
		Args: []object.Value{object.String("hello")},
		Env:  map[string]object.Value{"NAME": object.String("tangram")},
	}

	procID := id.NewTemporal(id.KindProcess)
	out, err := rt.Run(context.Background(), procID, "", cmd, nil)
	require.NoError(t, err)
	require.Equal(t, object.ValueString, out.Kind())
	require.Equal(t, "hello-tangram", out.AsString())
}

func TestModuleRunMissingEntryPoint(t *testing.T) {
	rt, store := newTestModuleRuntime(t)
	moduleID := putModule(t, store, `var x = 1;`)
	cmd := &object.Command{
		Executable: object.CommandExecutable{Module: &object.CommandExecutableModule{
			Kind:     "js",
			Referent: object.Referent{Item: moduleID},
		}},
	}
	_, err := rt.Run(context.Background(), id.NewTemporal(id.KindProcess), "", cmd, nil)
	require.Error(t, err)
}

func TestModuleRunHostLog(t *testing.T) {
	rt, store := newTestModuleRuntime(t)
	moduleID := putModule(t, store, `function tangram(args, env) { tg.log("hi from script"); return null; }`)
	cmd := &object.Command{
		Executable: object.CommandExecutable{Module: &object.CommandExecutableModule{
			Kind:     "js",
			Referent: object.Referent{Item: moduleID},
		}},
	}
	var logged []byte
	procID := id.NewTemporal(id.KindProcess)
	_, err := rt.Run(context.Background(), procID, "", cmd, func(p []byte) { logged = append(logged, p...) })
	require.NoError(t, err)
	require.Equal(t, "hi from script", string(logged))
}
