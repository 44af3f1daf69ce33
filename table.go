package tablestore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Table is a lightweight handle to a single table within an instance,
// obtained from Client.Table. Its zero value is not usable.
type Table struct {
	client *Client
	owner  uuid.UUID
	key    instanceKey

	name         string
	appProfileID string

	operationTimeout time.Duration
	attemptTimeout   time.Duration

	readRetryableSet   RetryableSet
	mutateRetryableSet RetryableSet
}

// TableOption configures a Table at construction time (Client.Table).
type TableOption func(*Table)

// WithOperationTimeout bounds the total wall-clock budget for a single
// logical operation (a read, a bulk mutation) issued through this handle.
func WithOperationTimeout(d time.Duration) TableOption {
	return func(t *Table) { t.operationTimeout = d }
}

// WithAttemptTimeout bounds each individual RPC attempt within an
// operation; the effective per-attempt deadline is
// min(attemptTimeout, remaining operation budget).
func WithAttemptTimeout(d time.Duration) TableOption {
	return func(t *Table) { t.attemptTimeout = d }
}

// WithReadRetryableSet overrides which error Kinds the read path retries.
func WithReadRetryableSet(s RetryableSet) TableOption {
	return func(t *Table) { t.readRetryableSet = s }
}

// WithMutateRetryableSet overrides which error Kinds the mutate path
// retries.
func WithMutateRetryableSet(s RetryableSet) TableOption {
	return func(t *Table) { t.mutateRetryableSet = s }
}

// checkDeadlines validates t's two layered deadlines before an operation
// issues its first RPC. An attempt timeout configured larger than the
// operation timeout is rejected outright; an operation timeout configured
// at or below zero means the caller asked for an already-expired budget,
// so the operation fails without ever dialing out.
func (t *Table) checkDeadlines() error {
	if t.attemptTimeout > 0 && t.operationTimeout > 0 && t.attemptTimeout > t.operationTimeout {
		return &ConfigError{Reason: "attempt timeout exceeds operation timeout"}
	}
	if t.operationTimeout <= 0 {
		return &DeadlineExceededOperationError{}
	}
	return nil
}

// Close deregisters this handle. It does not
// affect the underlying Client or other handles sharing its instance.
func (t *Table) Close(ctx context.Context) {
	t.client.deregister(t)
}

// Name returns the table's fully-qualified resource name.
func (t *Table) Name() string { return t.name }
