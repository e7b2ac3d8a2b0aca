package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/idverify/internal/logging"
	"github.com/example/idverify/internal/retry"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func testRepository(attempts int) *VerificationRepository {
	return &VerificationRepository{
		logger: zap.NewNop(),
		retry: retry.Policy{
			Attempts:       attempts,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		},
	}
}

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	repo := testRepository(3)

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "S1", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsOperationError(t *testing.T) {
	repo := testRepository(2)

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "S2", func() error {
		attempts++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if opErr.SessionID != "S2" {
		t.Fatalf("unexpected session id: %s", opErr.SessionID)
	}
}

func TestExecuteWithRetryPassesNotFoundThrough(t *testing.T) {
	repo := testRepository(3)

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "S3", func() error {
		attempts++
		return gorm.ErrRecordNotFound
	})

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected record not found, got %v", err)
	}
	var opErr *logging.OperationError
	if errors.As(err, &opErr) {
		t.Fatal("not-found should not be wrapped as an operation failure")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}
