package testutil

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/cassiomorais/newsletters/internal/domain/newsletter"
	"github.com/cassiomorais/newsletters/internal/domain/spool"
	"github.com/cassiomorais/newsletters/internal/domain/subscriber"
	"github.com/google/uuid"
)

// --- Spool Repository Mock ---

// MockSpoolRepository is an in-memory spool.Repository. Status filters use
// the same effective-status rule as the SQL implementation.
type MockSpoolRepository struct {
	mu      sync.Mutex
	entries map[int64]*spool.Entry
	nextID  int64

	InsertFunc        func(ctx context.Context, entries []*spool.Entry) (int, error)
	FindClaimableFunc func(ctx context.Context, filter spool.Filter, expiredBefore time.Time, limit int) ([]*spool.Entry, error)
	UpdateStatusFunc  func(ctx context.Context, ids []int64, status spool.Status, hasError bool, at time.Time) error

	// Sending reports issues still being sent; DeleteTerminalBefore keeps
	// their entries.
	Sending func(ref spool.IssueRef) bool
}

func NewMockSpoolRepository() *MockSpoolRepository {
	return &MockSpoolRepository{entries: make(map[int64]*spool.Entry)}
}

func (m *MockSpoolRepository) Insert(ctx context.Context, entries []*spool.Entry) (int, error) {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entries)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.nextID++
		e.ID = m.nextID
		stored := *e
		m.entries[e.ID] = &stored
	}
	return len(entries), nil
}

func (m *MockSpoolRepository) FindClaimable(ctx context.Context, filter spool.Filter, expiredBefore time.Time, limit int) ([]*spool.Entry, error) {
	if m.FindClaimableFunc != nil {
		return m.FindClaimableFunc(ctx, filter, expiredBefore, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	filter.Statuses = []spool.Status{spool.StatusPending}
	var result []*spool.Entry
	for _, e := range m.entries {
		if filter.Matches(e, expiredBefore, 0) {
			copied := *e
			result = append(result, &copied)
		}
	}
	slices.SortFunc(result, func(a, b *spool.Entry) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockSpoolRepository) UpdateStatus(ctx context.Context, ids []int64, status spool.Status, hasError bool, at time.Time) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, ids, status, hasError, at)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if e, ok := m.entries[id]; ok {
			e.Status = status
			e.Error = hasError
			e.Timestamp = at
		}
	}
	return nil
}

func (m *MockSpoolRepository) Count(ctx context.Context, filter spool.Filter, expiredBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if filter.Matches(e, expiredBefore, 0) {
			n++
		}
	}
	return n, nil
}

func (m *MockSpoolRepository) CountErrors(ctx context.Context, filter spool.Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	filter.Statuses = []spool.Status{spool.StatusSkipped}
	n := 0
	for _, e := range m.entries {
		if e.Error && filter.Matches(e, time.Time{}, 0) {
			n++
		}
	}
	return n, nil
}

func (m *MockSpoolRepository) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.entries {
		if e.Status.IsTerminal() && !e.Timestamp.After(before) {
			if m.Sending != nil && m.Sending(e.Issue) {
				continue
			}
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

func (m *MockSpoolRepository) DeleteByIssue(ctx context.Context, ref spool.IssueRef) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.entries {
		if e.Issue == ref {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

// Get returns a copy of the stored entry (test helper).
func (m *MockSpoolRepository) Get(id int64) *spool.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	copied := *e
	return &copied
}

// All returns copies of all stored entries ordered by id (test helper).
func (m *MockSpoolRepository) All() []*spool.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*spool.Entry, 0, len(m.entries))
	for _, id := range slices.Sorted(maps.Keys(m.entries)) {
		copied := *m.entries[id]
		result = append(result, &copied)
	}
	return result
}

// Put stores an entry as is, assigning an id when missing (test helper).
func (m *MockSpoolRepository) Put(e *spool.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == 0 {
		m.nextID++
		e.ID = m.nextID
	}
	copied := *e
	m.entries[e.ID] = &copied
}

// --- Subscriber Repository Mock ---

// MockSubscriberRepository is an in-memory subscriber.Repository. Stored
// subscribers are deep copies, so callers only see changes they Save.
type MockSubscriberRepository struct {
	mu          sync.Mutex
	subscribers map[uuid.UUID]*subscriber.Subscriber
	saves       int

	SaveFunc func(ctx context.Context, s *subscriber.Subscriber) error
}

func NewMockSubscriberRepository() *MockSubscriberRepository {
	return &MockSubscriberRepository{subscribers: make(map[uuid.UUID]*subscriber.Subscriber)}
}

func (m *MockSubscriberRepository) GetByID(ctx context.Context, id uuid.UUID) (*subscriber.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscribers[id]
	if !ok {
		return nil, domainErrors.ErrSubscriberNotFound
	}
	return CloneSubscriber(s), nil
}

func (m *MockSubscriberRepository) GetByMail(ctx context.Context, mail string) (*subscriber.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subscribers {
		if s.Mail == mail {
			return CloneSubscriber(s), nil
		}
	}
	return nil, domainErrors.ErrSubscriberNotFound
}

func (m *MockSubscriberRepository) Save(ctx context.Context, s *subscriber.Subscriber) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	m.subscribers[s.ID] = CloneSubscriber(s)
	m.saves++
	return nil
}

func (m *MockSubscriberRepository) ListSubscribedIDs(ctx context.Context, newsletterID string, since *time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, s := range m.subscribers {
		if matchesSubscribed(s, newsletterID, since) {
			ids = append(ids, s.ID)
		}
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })
	return ids, nil
}

func (m *MockSubscriberRepository) CountSubscribed(ctx context.Context, newsletterID string, since *time.Time) (int, error) {
	ids, err := m.ListSubscribedIDs(ctx, newsletterID, since)
	return len(ids), err
}

func matchesSubscribed(s *subscriber.Subscriber, newsletterID string, since *time.Time) bool {
	if !s.IsActive() || !s.IsSubscribed(newsletterID) {
		return false
	}
	return since == nil || !s.Subscription(newsletterID).Timestamp.Before(*since)
}

// Add stores a subscriber, assigning an id when missing (test helper).
func (m *MockSubscriberRepository) Add(s *subscriber.Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	m.subscribers[s.ID] = CloneSubscriber(s)
}

// Saves returns how many times Save persisted something (test helper).
func (m *MockSubscriberRepository) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Len returns the number of stored subscribers (test helper).
func (m *MockSubscriberRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers)
}

// CloneSubscriber deep-copies a subscriber.
func CloneSubscriber(s *subscriber.Subscriber) *subscriber.Subscriber {
	c := *s
	if s.UserID != nil {
		uid := *s.UserID
		c.UserID = &uid
	}
	c.Subscriptions = make(map[string]*subscriber.Subscription, len(s.Subscriptions))
	for id, sub := range s.Subscriptions {
		copied := *sub
		c.Subscriptions[id] = &copied
	}
	c.Changes = maps.Clone(s.Changes)
	return &c
}

// --- Newsletter Repository Mock ---

// MockNewsletterRepository is an in-memory newsletter.Repository.
type MockNewsletterRepository struct {
	mu          sync.Mutex
	newsletters map[string]*newsletter.Newsletter
	issues      map[uuid.UUID]*newsletter.Issue

	UpdateIssueFunc func(ctx context.Context, issue *newsletter.Issue, from newsletter.IssueStatus) error
}

func NewMockNewsletterRepository() *MockNewsletterRepository {
	return &MockNewsletterRepository{
		newsletters: make(map[string]*newsletter.Newsletter),
		issues:      make(map[uuid.UUID]*newsletter.Issue),
	}
}

// AddNewsletter pre-populates the mock with a newsletter.
func (m *MockNewsletterRepository) AddNewsletter(n *newsletter.Newsletter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newsletters[n.ID] = n
}

// AddIssue pre-populates the mock with an issue.
func (m *MockNewsletterRepository) AddIssue(i *newsletter.Issue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *i
	m.issues[i.ID] = &copied
}

func (m *MockNewsletterRepository) GetNewsletter(ctx context.Context, id string) (*newsletter.Newsletter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.newsletters[id]
	if !ok {
		return nil, domainErrors.ErrNewsletterNotFound
	}
	return n, nil
}

func (m *MockNewsletterRepository) ListNewsletters(ctx context.Context) ([]*newsletter.Newsletter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*newsletter.Newsletter, 0, len(m.newsletters))
	for _, id := range slices.Sorted(maps.Keys(m.newsletters)) {
		result = append(result, m.newsletters[id])
	}
	return result, nil
}

func (m *MockNewsletterRepository) GetIssue(ctx context.Context, id uuid.UUID) (*newsletter.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.issues[id]
	if !ok {
		return nil, domainErrors.ErrIssueNotFound
	}
	copied := *i
	return &copied, nil
}

// GetIssueForUpdate does not lock; MockTransactionManager serializes
// transactions instead.
func (m *MockNewsletterRepository) GetIssueForUpdate(ctx context.Context, id uuid.UUID) (*newsletter.Issue, error) {
	return m.GetIssue(ctx, id)
}

func (m *MockNewsletterRepository) UpdateIssue(ctx context.Context, issue *newsletter.Issue, from newsletter.IssueStatus) error {
	if m.UpdateIssueFunc != nil {
		return m.UpdateIssueFunc(ctx, issue, from)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.issues[issue.ID]
	if !ok {
		return domainErrors.ErrIssueNotFound
	}
	if stored.Status != from {
		return newsletter.NewStatusChangedError(from)
	}
	copied := *issue
	m.issues[issue.ID] = &copied
	return nil
}

func (m *MockNewsletterRepository) ListIssuesByStatus(ctx context.Context, status newsletter.IssueStatus) ([]*newsletter.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*newsletter.Issue
	for _, i := range m.issues {
		if i.Status == status {
			copied := *i
			result = append(result, &copied)
		}
	}
	return result, nil
}

// --- Transaction Manager Mock ---

type txCtxKey struct{}

// MockTransactionManager runs fn directly. Transactions run one at a time,
// which stands in for the row locks they would take; nested calls join the
// outer one. Nothing is rolled back.
type MockTransactionManager struct {
	mu    sync.Mutex
	calls int

	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txCtxKey{}) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	txCtx := context.WithValue(ctx, txCtxKey{}, true)
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(txCtx, fn)
	}
	return fn(txCtx)
}

// Calls returns the number of outer transactions started.
func (m *MockTransactionManager) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Locker ---

// MemoryLocker is an in-process named lock with the same non-blocking
// semantics as the Redis locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool

	AcquireFunc func(ctx context.Context, name string) (bool, error)
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]bool)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, name string) (bool, error) {
	if l.AcquireFunc != nil {
		return l.AcquireFunc(ctx, name)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return false, nil
	}
	l.held[name] = true
	return true, nil
}

func (l *MemoryLocker) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held[name] {
		return domainErrors.ErrLockNotHeld
	}
	delete(l.held, name)
	return nil
}

// Hold takes the lock on behalf of another process (test helper).
func (l *MemoryLocker) Hold(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[name] = true
}

// IsHeld reports whether name is locked (test helper).
func (l *MemoryLocker) IsHeld(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[name]
}

// --- Clock ---

// FakeClock is a settable clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *FakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
