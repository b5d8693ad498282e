package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	Value int
}

func TestSignalSend(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers in connection order", func(t *testing.T) {
		sig := New[testEvent]("test")
		var got []string
		sig.Connect(nil, func(ctx context.Context, e testEvent) error {
			got = append(got, "first")
			return nil
		})
		sig.Connect(nil, func(ctx context.Context, e testEvent) error {
			got = append(got, "second")
			return nil
		})

		require.NoError(t, sig.Send(ctx, nil, testEvent{Value: 1}))
		assert.Equal(t, []string{"first", "second"}, got)
	})

	t.Run("filters by sender", func(t *testing.T) {
		sig := New[testEvent]("test")
		senderA, senderB := "a", "b"
		var calls int
		sig.Connect(senderA, func(ctx context.Context, e testEvent) error {
			calls++
			return nil
		})

		require.NoError(t, sig.Send(ctx, senderB, testEvent{}))
		assert.Equal(t, 0, calls)
		require.NoError(t, sig.Send(ctx, senderA, testEvent{}))
		assert.Equal(t, 1, calls)
		assert.True(t, sig.HasListeners(senderA))
		assert.False(t, sig.HasListeners(senderB))
	})

	t.Run("stops on first error", func(t *testing.T) {
		sig := New[testEvent]("m2m_changed")
		boom := errors.New("boom")
		var reached bool
		sig.Connect(nil, func(ctx context.Context, e testEvent) error {
			return boom
		})
		sig.Connect(nil, func(ctx context.Context, e testEvent) error {
			reached = true
			return nil
		})

		err := sig.Send(ctx, nil, testEvent{})
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "m2m_changed")
		assert.False(t, reached)
	})

	t.Run("disconnect", func(t *testing.T) {
		sig := New[testEvent]("test")
		var calls int
		disconnect := sig.Connect(nil, func(ctx context.Context, e testEvent) error {
			calls++
			return nil
		})
		disconnect()

		require.NoError(t, sig.Send(ctx, nil, testEvent{}))
		assert.Equal(t, 0, calls)
		assert.False(t, sig.HasListeners(nil))
	})
}
