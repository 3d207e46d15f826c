package spool

import (
	"context"
	"time"
)

// Repository defines spool persistence. Status filters are evaluated against
// the effective status using expiredBefore as the lease cut-off: in-progress
// entries stamped before it count as pending.
type Repository interface {
	// Insert bulk-inserts entries and returns the number written.
	Insert(ctx context.Context, entries []*Entry) (int, error)

	// FindClaimable returns effectively pending entries oldest first, capped by limit (0 = no cap).
	FindClaimable(ctx context.Context, filter Filter, expiredBefore time.Time, limit int) ([]*Entry, error)

	// UpdateStatus stamps status, error flag and timestamp on the given ids.
	UpdateStatus(ctx context.Context, ids []int64, status Status, hasError bool, at time.Time) error

	// Count counts entries matching the filter.
	Count(ctx context.Context, filter Filter, expiredBefore time.Time) (int, error)

	// CountErrors counts skipped entries flagged with a transport error.
	CountErrors(ctx context.Context, filter Filter) (int, error)

	// DeleteTerminalBefore removes done/skipped entries stamped at or before
	// the cut-off, except those of issues that are still pending.
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)

	// DeleteByIssue removes every entry of an issue regardless of status.
	DeleteByIssue(ctx context.Context, ref IssueRef) (int64, error)
}
