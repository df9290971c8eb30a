package module

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/tangramdotdev/tangram/internal/checksum"
	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/object"
	"github.com/tangramdotdev/tangram/internal/objectstore"
	"github.com/tangramdotdev/tangram/internal/process"
	tgblob "github.com/tangramdotdev/tangram/internal/blob"
)

// EntryPoint is the global function name every module is expected to
// define; Run calls it with (args, env) and uses its return value as the
// process's output.
const EntryPoint = "tangram"

// Runtime hosts executables whose "binary" is a module written in the
// embedded scripting dialect (spec §4.8.2). A fresh goja.Runtime is
// instantiated per Run call with a minimal prelude exposing the same
// restricted surface the native runtime's Proxy exposes.
type Runtime struct {
	Store     objectstore.Store
	Scheduler *process.Scheduler
	Loader    Loader
}

// Run loads and executes command's module, returning the value its entry
// point returns. logWrite, if non-nil, receives each tg.log message. Run
// takes no heartbeat callback; ctx is observed only inside host calls
// (tg.sleep fails once ctx is done), and script code between host calls
// is not interrupted.
func (rt *Runtime) Run(ctx context.Context, procID id.ID, token string, command *object.Command, logWrite func([]byte)) (object.Value, error) {
	if command.Executable.Module == nil {
		return object.Value{}, fmt.Errorf("module: command's executable is not a module")
	}
	source, err := rt.Loader.Load(ctx, command.Executable.Module.Referent.Item)
	if err != nil {
		return object.Value{}, err
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	host := &hostBindings{ctx: ctx, store: rt.Store, scheduler: rt.Scheduler, procID: procID, token: token, logWrite: logWrite}
	tg := vm.NewObject()
	tg.Set("createBlob", host.createBlob(vm))
	tg.Set("getObject", host.getObject(vm))
	tg.Set("spawn", host.spawn(vm))
	tg.Set("log", host.log(vm))
	tg.Set("checksum", host.checksumFn(vm))
	tg.Set("sleep", host.sleep(vm))
	vm.Set("tg", tg)

	args := make([]any, len(command.Args))
	for i, a := range command.Args {
		args[i] = toGoja(vm, a)
	}
	env := vm.NewObject()
	for name, v := range command.Env {
		env.Set(name, toGoja(vm, v))
	}

	if _, err := vm.RunString(source); err != nil {
		return object.Value{}, fmt.Errorf("module: evaluate script: %w", err)
	}
	entry, ok := goja.AssertFunction(vm.Get(EntryPoint))
	if !ok {
		return object.Value{}, fmt.Errorf("module: script does not define a %q function", EntryPoint)
	}

	result, err := entry(goja.Undefined(), vm.ToValue(args), env)
	if err != nil {
		return object.Value{}, fmt.Errorf("module: %w", err)
	}
	return fromGoja(vm, result)
}

// hostBindings implements the bounded surface spec §4.8 describes for the
// module runtime: six of runtime.Proxy's operations (all but Heartbeat).
type hostBindings struct {
	ctx       context.Context
	store     objectstore.Store
	scheduler *process.Scheduler
	procID    id.ID
	token     string
	logWrite  func([]byte)
}

func (h *hostBindings) createBlob(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		data := argBytes(call, 0)
		blobID, err := tgblob.Create(h.ctx, h.store, bytes.NewReader(data), 0)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(blobID.String())
	}
}

func (h *hostBindings) getObject(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		objID, err := idFromJS(call.Argument(0).String())
		if err != nil {
			panic(vm.NewGoError(err))
		}
		data, _, err := h.store.Get(h.ctx, objID)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(vm.NewArrayBuffer(data))
	}
}

func (h *hostBindings) spawn(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		commandID, err := idFromJS(call.Argument(0).String())
		if err != nil {
			panic(vm.NewGoError(err))
		}
		childID, _, err := h.scheduler.Spawn(h.ctx, commandID, process.SpawnOptions{Parent: &h.procID})
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(childID.String())
	}
}

func (h *hostBindings) log(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		msg := call.Argument(0).String()
		if h.logWrite != nil {
			h.logWrite([]byte(msg))
		}
		if err := h.scheduler.AppendLog(h.ctx, h.procID, []byte(msg)); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	}
}

func (h *hostBindings) checksumFn(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		algo := checksum.Algorithm(call.Argument(0).String())
		data := argBytes(call, 1)
		v, err := checksum.OfBytes(algo, data)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(v.String())
	}
}

func (h *hostBindings) sleep(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		ms := call.Argument(0).ToInteger()
		t := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer t.Stop()
		select {
		case <-t.C:
		case <-h.ctx.Done():
			panic(vm.NewGoError(h.ctx.Err()))
		}
		return goja.Undefined()
	}
}

func argBytes(call goja.FunctionCall, idx int) []byte {
	arg := call.Argument(idx)
	if buf, ok := arg.Export().(goja.ArrayBuffer); ok {
		return buf.Bytes()
	}
	return []byte(arg.String())
}
