package native

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tangramdotdev/tangram/internal/object"
	"github.com/tangramdotdev/tangram/internal/objectstore"
	"github.com/tangramdotdev/tangram/internal/runtime"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	store := objectstore.NewMemory()
	resolver := runtime.NewArtifactResolver(store, t.TempDir())
	return &Runtime{Store: store, Resolver: resolver, Sandbox: NoSandbox()}
}

func TestRunEchoesArgsAndCapturesStdout(t *testing.T) {
	rt := newTestRuntime(t)
	cmd := &object.Command{
		Executable: object.CommandExecutable{Path: "echo"},
		Args:       []object.Value{object.String("hello"), object.String("world")},
	}

	var logged []byte
	result, err := rt.Run(context.Background(), cmd, func(p []byte) { logged = append(logged, p...) }, nil)
	require.NoError(t, err)
	require.Equal(t, 0, result.ExitCode)
	require.Equal(t, "hello world\n", string(result.Stdout))
	require.Equal(t, "hello world\n", string(logged))
}

func TestRunNonZeroExit(t *testing.T) {
	rt := newTestRuntime(t)
	cmd := &object.Command{
		Executable: object.CommandExecutable{Path: "false"},
	}
	result, err := rt.Run(context.Background(), cmd, nil, nil)
	require.NoError(t, err)
	require.NotEqual(t, 0, result.ExitCode)
}

func TestRunRendersTemplateEnvValue(t *testing.T) {
	rt := newTestRuntime(t)
	cmd := &object.Command{
		Executable: object.CommandExecutable{Path: "sh"},
		Args:       []object.Value{object.String("-c"), object.String("printf %s \"$GREETING\"")},
		Env:        map[string]object.Value{"GREETING": object.String("hi there")},
	}
	result, err := rt.Run(context.Background(), cmd, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "hi there", string(result.Stdout))
}

func TestRunContextCancellation(t *testing.T) {
	rt := newTestRuntime(t)
	cmd := &object.Command{
		Executable: object.CommandExecutable{Path: "sleep"},
		Args:       []object.Value{object.String("30")},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _ = rt.Run(ctx, cmd, nil, nil)
	require.Less(t, time.Since(start), 10*time.Second, "context cancellation should kill the process well before its sleep completes")
}
