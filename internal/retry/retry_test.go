package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"timeout", errors.New("context deadline exceeded"), true},
		{"5xx", fmt.Errorf("status code is 503"), true},
		{"429", fmt.Errorf("status code is 429"), true},
		{"dns failure", errors.New("dial tcp: lookup foo: no such host"), true},
		{"fatal contract error", errors.New("contract returned NotPinner"), false},
		{"generic validation error", errors.New("cid_mismatch"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRecoverable(tt.err))
		})
	}
}

func TestDo_SucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_FatalErrorStopsImmediately(t *testing.T) {
	calls := 0
	fatal := errors.New("cid_mismatch")
	err := Do(context.Background(), DefaultPolicy(), func() error {
		calls++
		return fatal
	})
	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesRecoverableErrorUntilSuccess(t *testing.T) {
	calls := 0
	policy := Policy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	err := Do(context.Background(), policy, func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsRetriesAndReturnsWrappedError(t *testing.T) {
	calls := 0
	policy := Policy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	transient := errors.New("i/o timeout")
	err := Do(context.Background(), policy, func() error {
		calls++
		return transient
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
}

func TestDo_ContextCancellationDuringBackoffAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxRetries: 5, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, policy, func() error {
		calls++
		return errors.New("connection reset")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
