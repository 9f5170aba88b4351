package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryRoundtrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{Type: TypeAttendance, Body: "reg-1"}))
	require.NoError(t, q.Publish(ctx, Message{Type: TypeAttendance, Body: "reg-2"}))

	out, err := q.Consume(ctx)
	require.NoError(t, err)

	first := <-out
	require.Equal(t, TypeAttendance, first.Type)
	require.Equal(t, "reg-1", first.Body)

	second := <-out
	require.Equal(t, "reg-2", second.Body)
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	q := NewInMemory(1)
	require.NoError(t, q.Publish(ctx, Message{Type: TypeAttendance, Body: "reg-1"}))
	// Queue is full and nobody is consuming; publish must give up with ctx.
	err := q.Publish(ctx, Message{Type: TypeAttendance, Body: "reg-2"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
