package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublishGet(t *testing.T) {
	b := NewMemory()
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "net-1", "node-a", []byte("hello")))

	payload, err := b.Get(ctx, "net-1", "node-a", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), payload)
}

func TestMemoryGetTimesOutOnEmptyMailbox(t *testing.T) {
	b := NewMemory()
	defer b.Close()

	_, err := b.Get(context.Background(), "net-1", "node-a", 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestMemoryMailboxesAreFIFOPerKey(t *testing.T) {
	b := NewMemory()
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, "net-1", "node-a", []byte("first")))
	require.NoError(t, b.Publish(ctx, "net-1", "node-a", []byte("second")))

	first, err := b.Get(ctx, "net-1", "node-a", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), first)

	second, err := b.Get(ctx, "net-1", "node-a", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), second)
}

func TestMemoryMailboxesAreIsolatedPerNode(t *testing.T) {
	b := NewMemory()
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, "net-1", "node-a", []byte("for-a")))

	_, err := b.Get(ctx, "net-1", "node-b", 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	payload, err := b.Get(ctx, "net-1", "node-a", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("for-a"), payload)
}

func TestMemoryResponseStreamDeliversOnce(t *testing.T) {
	b := NewMemory()
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.AddResponse(ctx, "msg-1", []byte("ack")))

	payload, err := b.ResponseStream(ctx, "msg-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("ack"), payload)

	_, err = b.ResponseStream(ctx, "msg-1", 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestMemoryOperationsFailAfterClose(t *testing.T) {
	b := NewMemory()
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), "net-1", "node-a", []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryCloseIsIdempotent(t *testing.T) {
	b := NewMemory()
	assert.NoError(t, b.Close())
	assert.NoError(t, b.Close())
}
