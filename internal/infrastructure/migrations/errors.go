package migrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// MigrationError представляет ошибку миграции
type MigrationError struct {
	Operation string
	Cause     error
	Timestamp time.Time
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s failed: %v", e.Operation, e.Cause)
}

func (e *MigrationError) Unwrap() error {
	return e.Cause
}

// ErrorHandler retries a migration operation against transient
// Postgres/connection failures, used by MigrationManager.Up and
// MigrationManager.DownByOne.
type ErrorHandler struct {
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
}

// NewErrorHandler создает новый обработчик ошибок
func NewErrorHandler(logger *slog.Logger, maxRetries int, retryDelay time.Duration) *ErrorHandler {
	return &ErrorHandler{
		logger:     logger,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// ExecuteWithRetry выполняет операцию с повторными попытками при
// повторяемых ошибках; прекращает раньше времени, если ctx отменен.
func (eh *ErrorHandler) ExecuteWithRetry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= eh.maxRetries; attempt++ {
		if attempt > 0 {
			eh.logger.Info("retrying migration operation", "attempt", attempt, "max_retries", eh.maxRetries)

			select {
			case <-time.After(eh.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := operation(); err != nil {
			lastErr = &MigrationError{Operation: "goose", Cause: err, Timestamp: time.Now()}

			if !eh.isRetryable(err) {
				return lastErr
			}

			eh.logger.Warn("migration operation failed, retrying", "attempt", attempt+1, "error", err)
			continue
		}

		if attempt > 0 {
			eh.logger.Info("migration operation succeeded after retry", "attempts", attempt+1)
		}
		return nil
	}

	eh.logger.Error("migration operation failed after all retries", "max_retries", eh.maxRetries, "last_error", lastErr)
	return lastErr
}

// isRetryable определяет, можно ли повторить операцию при данной ошибке
func (eh *ErrorHandler) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"connection lost",
		"timeout",
		"lock wait timeout",
		"deadlock",
		"serialization failure",
		"could not serialize access",
		"too many connections",
		"pq: ",
		"sqlstate",
		"current transaction is aborted",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
