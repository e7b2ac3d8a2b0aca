package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/idverify/internal/logging"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

var fast = Policy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func TestDoRetriesTransientErrors(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), zap.NewNop(), fast, "test.operation", "S1", func() error {
		attempts++
		if attempts < 3 {
			return transientTestError{}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoGivesUpAfterAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), zap.NewNop(), fast, "test.operation", "S1", func() error {
		attempts++
		return fmt.Errorf("dial: %w", transientTestError{})
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), zap.NewNop(), fast, "test.operation", "S2", func() error {
		attempts++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	var opErr *logging.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "test.operation", opErr.Operation)
	assert.Equal(t, "S2", opErr.SessionID)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := Policy{Attempts: 3, InitialBackoff: time.Hour, MaxBackoff: time.Hour}

	attempts := 0
	err := Do(ctx, zap.NewNop(), slow, "test.operation", "", func() error {
		attempts++
		cancel()
		return transientTestError{}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("x")))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", transientTestError{})))
}
