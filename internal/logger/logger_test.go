package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildStdoutOnly(t *testing.T) {
	var buf bytes.Buffer
	l, closer, err := Build(Options{Stdout: &buf})
	require.NoError(t, err)
	defer closer()

	l.Info("hello", "key", "value")
	require.Contains(t, buf.String(), "hello")
	require.Contains(t, buf.String(), "key=value")
}

func TestBuildQuietSuppressesStdout(t *testing.T) {
	var buf bytes.Buffer
	l, closer, err := Build(Options{Quiet: true, Stdout: &buf})
	require.NoError(t, err)
	defer closer()

	l.Info("hello")
	require.Empty(t, buf.String())
}

func TestBuildFansOutToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.log")
	var buf bytes.Buffer
	l, closer, err := Build(Options{Stdout: &buf, FilePath: path})
	require.NoError(t, err)

	l.Info("fanned out")
	require.NoError(t, closer())

	require.Contains(t, buf.String(), "fanned out")
	fileContents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(fileContents), "fanned out")
}

func TestBuildJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l, closer, err := Build(Options{Stdout: &buf, Format: FormatJSON})
	require.NoError(t, err)
	defer closer()

	l.Info("json line")
	require.Contains(t, buf.String(), `"msg":"json line"`)
}

func TestContextRoundTrip(t *testing.T) {
	l := slog.New(slog.NewTextHandler(os.Stdout, nil))
	ctx := WithContext(context.Background(), l)
	require.Same(t, l, FromContext(ctx))
	require.NotNil(t, FromContext(context.Background()))
}
