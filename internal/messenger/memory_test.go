package messenger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tangramdotdev/tangram/internal/messenger"
)

func TestMemoryPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	m := messenger.NewMemory()
	defer m.Close()

	sub, err := m.Subscribe(ctx, "tangram.process.dequeue")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, m.Publish(ctx, "tangram.process.dequeue", []byte("wake")))

	msg, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "wake", string(msg.Data))
}

func TestMemoryWildcardSingleSegment(t *testing.T) {
	ctx := context.Background()
	m := messenger.NewMemory()
	defer m.Close()

	sub, err := m.Subscribe(ctx, "tangram.process.cancel.*")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, m.Publish(ctx, "tangram.process.cancel.abc123", []byte("stop")))

	msg, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "tangram.process.cancel.abc123", msg.Subject)
}

func TestMemoryWildcardTrailingSegments(t *testing.T) {
	ctx := context.Background()
	m := messenger.NewMemory()
	defer m.Close()

	sub, err := m.Subscribe(ctx, "tangram.replication.>")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, m.Publish(ctx, "tangram.replication.progress.xfer1", []byte("50%")))

	msg, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "50%", string(msg.Data))
}

func TestMemoryNoMatchNotDelivered(t *testing.T) {
	ctx := context.Background()
	m := messenger.NewMemory()
	defer m.Close()

	sub, err := m.Subscribe(ctx, "tangram.process.dequeue")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, m.Publish(ctx, "tangram.process.cancel.xyz", []byte("irrelevant")))

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = sub.Next(shortCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryCloseUnblocksSubscribers(t *testing.T) {
	ctx := context.Background()
	m := messenger.NewMemory()

	sub, err := m.Subscribe(ctx, "tangram.process.dequeue")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := sub.Next(ctx)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, messenger.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock after Close")
	}
}

func TestMemoryPublishAfterCloseErrors(t *testing.T) {
	ctx := context.Background()
	m := messenger.NewMemory()
	require.NoError(t, m.Close())

	err := m.Publish(ctx, "tangram.process.dequeue", []byte("x"))
	require.ErrorIs(t, err, messenger.ErrClosed)
}
