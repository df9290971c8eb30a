// Package native implements spec §4.8's native runtime: it assembles a
// command's mounts, working directory, environment, and user, then
// executes the resolved binary under the platform sandbox a SandboxFunc
// configures, streaming stdio through the process's log and invoking a
// caller-supplied heartbeat callback periodically. Each heartbeat tick
// also reads the process's memory usage; that sample is not passed to the
// callback.
package native

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/tangramdotdev/tangram/internal/blob"
	"github.com/tangramdotdev/tangram/internal/object"
	"github.com/tangramdotdev/tangram/internal/objectstore"
	"github.com/tangramdotdev/tangram/internal/runtime"
)

// HeartbeatInterval is how often Run samples resource usage and invokes
// the caller's heartbeat callback.
const HeartbeatInterval = 10 * time.Second

// GracePeriod is how long Run waits after requesting graceful shutdown
// before escalating to SIGKILL.
const GracePeriod = 5 * time.Second

// SandboxFunc finishes configuring cmd for the given mounts and working
// directory: setting SysProcAttr, rewriting argv/path to route through a
// wrapper, or applying bind mounts as a side effect. workDir is the
// command's private staging directory (its default cwd and the root new
// mounts are layered onto).
type SandboxFunc func(cmd *exec.Cmd, mounts []object.Mount, workDir string) error

// NoSandbox runs the command directly with no additional isolation; this
// backs config.SandboxNone, used for local development and for any
// platform lacking the real sandbox's required privileges.
func NoSandbox() SandboxFunc {
	return func(*exec.Cmd, []object.Mount, string) error { return nil }
}

// Runtime executes a Command whose Executable names a native binary
// (an artifact or a bare sandbox path). Module executables are routed to
// internal/runtime/module instead; Run rejects them.
type Runtime struct {
	Store    objectstore.Store
	Resolver *runtime.ArtifactResolver
	Sandbox  SandboxFunc
}

// Result is what Run reports back to the caller; internal/runtime/manager
// translates it into a process.Outcome carrying only ExitCode.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Run executes command to completion or until ctx is canceled. Every byte
// written to stdout/stderr is also forwarded to logWrite as it streams.
// onHeartbeat, if non-nil, is invoked roughly every HeartbeatInterval; if
// it reports stop=true the process is asked to shut down gracefully and
// killed after GracePeriod if it hasn't exited.
func (rt *Runtime) Run(ctx context.Context, command *object.Command, logWrite func([]byte), onHeartbeat func(context.Context) (stop bool, err error)) (Result, error) {
	workDir, err := os.MkdirTemp("", "tangram-native-*")
	if err != nil {
		return Result{}, fmt.Errorf("native: create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	execPath, err := rt.resolveExecutable(ctx, command)
	if err != nil {
		return Result{}, err
	}

	args := make([]string, 0, len(command.Args))
	for i, a := range command.Args {
		rendered, err := rt.Resolver.RenderValue(ctx, a)
		if err != nil {
			return Result{}, fmt.Errorf("native: render arg %d: %w", i, err)
		}
		args = append(args, rendered)
	}

	env := os.Environ()
	for name, v := range command.Env {
		rendered, err := rt.Resolver.RenderValue(ctx, v)
		if err != nil {
			return Result{}, fmt.Errorf("native: render env %q: %w", name, err)
		}
		env = append(env, name+"="+rendered)
	}

	cwd := workDir
	if command.Cwd != "" {
		cwd = command.Cwd
	}

	ec := exec.CommandContext(ctx, execPath, args...)
	ec.Dir = cwd
	ec.Env = env

	var stdout, stderr bytes.Buffer
	writers := []io.Writer{&stdout}
	if logWrite != nil {
		writers = append(writers, writerFunc(logWrite))
	}
	ec.Stdout = io.MultiWriter(writers...)
	errWriters := []io.Writer{&stderr}
	if logWrite != nil {
		errWriters = append(errWriters, writerFunc(logWrite))
	}
	ec.Stderr = io.MultiWriter(errWriters...)

	if !command.Stdin.IsZero() {
		r, err := blob.NewReader(ctx, rt.Store, command.Stdin)
		if err != nil {
			return Result{}, fmt.Errorf("native: open stdin blob: %w", err)
		}
		ec.Stdin = r
	}

	if rt.Sandbox != nil {
		if err := rt.Sandbox(ec, command.Mounts, workDir); err != nil {
			return Result{}, fmt.Errorf("native: sandbox setup: %w", err)
		}
	}

	if err := ec.Start(); err != nil {
		return Result{}, fmt.Errorf("native: start %s: %w", execPath, err)
	}

	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	if onHeartbeat != nil {
		go rt.heartbeatLoop(hbCtx, ec, onHeartbeat)
	}

	waitErr := ec.Wait()
	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, fmt.Errorf("native: wait: %w", waitErr)
		}
	}

	return Result{ExitCode: exitCode, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
}

type writerFunc func([]byte)

func (f writerFunc) Write(p []byte) (int, error) {
	f(p)
	return len(p), nil
}

// heartbeatLoop reads the running process's memory usage via gopsutil and
// calls onHeartbeat on each tick (the sample is discarded); a stop
// response escalates from an interrupt to a kill after GracePeriod.
func (rt *Runtime) heartbeatLoop(ctx context.Context, ec *exec.Cmd, onHeartbeat func(context.Context) (bool, error)) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sampleResourceUsage(ec)
			stop, err := onHeartbeat(ctx)
			if err != nil || !stop {
				continue
			}
			rt.requestShutdown(ec)
			return
		}
	}
}

func sampleResourceUsage(ec *exec.Cmd) *gopsproc.MemoryInfoStat {
	if ec.Process == nil {
		return nil
	}
	p, err := gopsproc.NewProcess(int32(ec.Process.Pid))
	if err != nil {
		return nil
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return nil
	}
	return mem
}

func (rt *Runtime) requestShutdown(ec *exec.Cmd) {
	if ec.Process == nil {
		return
	}
	ec.Process.Signal(os.Interrupt)
	go func() {
		time.Sleep(GracePeriod)
		if ec.ProcessState == nil {
			ec.Process.Kill()
		}
	}()
}

func (rt *Runtime) resolveExecutable(ctx context.Context, command *object.Command) (string, error) {
	switch {
	case command.Executable.Artifact != nil:
		root, err := rt.Resolver.Path(ctx, command.Executable.Artifact.Artifact)
		if err != nil {
			return "", fmt.Errorf("native: checkout executable artifact: %w", err)
		}
		if command.Executable.Artifact.Subpath != "" {
			return filepath.Join(root, command.Executable.Artifact.Subpath), nil
		}
		return root, nil
	case command.Executable.Module != nil:
		return "", fmt.Errorf("native: command's executable is a module; route it to the module runtime instead")
	default:
		if command.Executable.Path == "" {
			return "", fmt.Errorf("native: command has no executable")
		}
		return command.Executable.Path, nil
	}
}
