package chain

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type txKey struct{}

// Host executes transactions one at a time and all-or-nothing, the way an EVM
// node applies a block. Mutations made through stores sharing the host's
// journal are undone when the transaction function fails or panics.
type Host struct {
	mu        sync.Mutex
	journal   *Journal
	logger    *zap.Logger
	committed atomic.Uint64
	reverted  atomic.Uint64
}

// NewHost creates a host with a fresh journal.
func NewHost(logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		journal: NewJournal(),
		logger:  logger,
	}
}

// Journal returns the compensating-action log shared by the host's stores.
func (h *Host) Journal() *Journal {
	return h.journal
}

// Transact runs fn as a single atomic unit. A Transact issued from inside
// another transaction of the same host (detected through ctx) becomes a nested
// savepoint: its failure rolls back only its own mutations and the error is
// returned to the enclosing function.
func (h *Host) Transact(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if InTransaction(ctx, h) {
		return h.savepoint(ctx, fn)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	txCtx := context.WithValue(ctx, txKey{}, h)
	if err := h.savepoint(txCtx, fn); err != nil {
		h.reverted.Add(1)
		h.logger.Debug("Transaction reverted", zap.Error(err))
		return err
	}
	h.journal.Reset()
	h.committed.Add(1)
	return nil
}

func (h *Host) savepoint(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	snap := h.journal.Snapshot()
	defer func() {
		if r := recover(); r != nil {
			h.journal.RevertToSnapshot(snap)
			err = fmt.Errorf("transaction panicked: %v", r)
		}
	}()
	if err = fn(ctx); err != nil {
		h.journal.RevertToSnapshot(snap)
		return err
	}
	return nil
}

// Committed returns the number of committed top-level transactions.
func (h *Host) Committed() uint64 {
	return h.committed.Load()
}

// Reverted returns the number of reverted top-level transactions.
func (h *Host) Reverted() uint64 {
	return h.reverted.Load()
}

// InTransaction reports whether ctx belongs to a running transaction of h.
func InTransaction(ctx context.Context, h *Host) bool {
	v, ok := ctx.Value(txKey{}).(*Host)
	return ok && v == h
}
