package service

import "context"

// TransactionManager wraps several repository calls in one database
// transaction. Repositories pick the transaction up from the context.
type TransactionManager interface {
	// WithTransaction commits when fn returns nil and rolls back otherwise.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
