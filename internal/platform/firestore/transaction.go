package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// TxFunc runs inside a read-write transaction. Firestore retries contended transactions, so fn must
// not have side effects outside tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption adjusts a single RunTransaction call.
type TxOption func(*txSettings)

type txSettings struct {
	maxAttempts int
	budget      time.Duration
}

func resolveTxSettings(opts []TxOption) txSettings {
	settings := txSettings{maxAttempts: 5, budget: 15 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	return settings
}

// WithTxAttempts caps how often a contended transaction is retried. Request-path callers that would
// rather fail fast than queue behind another writer use a small value.
func WithTxAttempts(attempts int) TxOption {
	return func(s *txSettings) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction including retries. A shorter caller deadline wins.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(s *txSettings) {
		if timeout > 0 {
			s.budget = timeout
		}
	}
}

// RunTransaction executes fn on client and classifies the result with WrapError. Sentinel errors
// returned by fn stay reachable through errors.Is.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is required"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is required"))
	}
	settings := resolveTxSettings(opts)

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline || time.Until(deadline) > settings.budget {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.budget)
		defer cancel()
	}

	return WrapError("transaction", client.RunTransaction(ctx, fn, firestore.MaxAttempts(settings.maxAttempts)))
}
