package pending

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
)

func TestTable_ResolveBeforeWait(t *testing.T) {
	table := New[string, int]()
	w, err := table.Register("a")
	require.NoError(t, err)
	assert.True(t, table.Resolve("a", 42))
	assert.False(t, table.Resolve("a", 43))
	assert.Zero(t, table.Len())

	v, err := w.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestTable_AwaitResolvedFromAnotherGoroutine(t *testing.T) {
	table := New[string, string]()

	v, err := table.Await(context.Background(), "msg-1", time.Second, func() error {
		go func() {
			time.Sleep(5 * time.Millisecond)
			table.Resolve("msg-1", "confirmed")
		}()
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "confirmed", v)
	assert.Zero(t, table.Len())
}

func TestTable_ResolveImmediatelyInsideStart(t *testing.T) {
	table := New[string, string]()
	v, err := table.Await(context.Background(), "k", time.Second, func() error {
		table.Resolve("k", "fast")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fast", v)
}

func TestTable_Timeout(t *testing.T) {
	table := New[string, int]()
	_, err := table.Await(context.Background(), "slow", 10*time.Millisecond, nil)

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePendingTimeout))
	assert.False(t, table.Pending("slow"))
	assert.False(t, table.Resolve("slow", 1))
}

func TestTable_Cancellation(t *testing.T) {
	table := New[string, int]()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := table.Await(ctx, "c", 0, nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return table.Pending("c") }, time.Second, time.Millisecond)
	cancel()

	err := <-done
	assert.True(t, errors.HasCode(err, errors.ErrCodeCancelled))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, table.Len())
}

func TestTable_StartFailureCleansUp(t *testing.T) {
	table := New[string, int]()
	boom := fmt.Errorf("boom")
	_, err := table.Await(context.Background(), "x", time.Second, func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, table.Len())
}

func TestTable_DuplicateRegister(t *testing.T) {
	table := New[string, int]()
	_, err := table.Register("dup")
	require.NoError(t, err)
	_, err = table.Register("dup")
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailure))
}

func TestTable_FailAll(t *testing.T) {
	table := New[int, string]()
	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		w, err := table.Register(i)
		require.NoError(t, err)
		go func() {
			_, err := w.Wait(context.Background(), time.Second)
			results <- err
		}()
	}

	cause := errors.NewConnectionError(errors.OpDisconnect, fmt.Errorf("socket closed"))
	assert.Equal(t, 3, table.FailAll(cause))
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, <-results, cause)
	}
	assert.Zero(t, table.Len())
}
