package loan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultNotifyTimeout = 10 * time.Second

// Service provides lending business logic on top of a Repository.
type Service struct {
	repo          Repository
	notifier      Notifier
	logger        *slog.Logger
	overdueDays   int
	notifyTimeout time.Duration
	now           func() time.Time

	pending sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the catalog told about returned books.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLogger sets the logger used for swallowed notification failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithOverdueDays overrides DefaultOverdueDays.
func WithOverdueDays(days int) Option {
	return func(s *Service) { s.overdueDays = days }
}

// WithNotifyTimeout bounds a single catalog notification.
// Non-positive values keep the default.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new lending service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		logger:        slog.Default(),
		overdueDays:   DefaultOverdueDays,
		notifyTimeout: defaultNotifyTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListLoans returns every active loan.
func (s *Service) ListLoans(ctx context.Context) ([]LendRecord, error) {
	return s.repo.ListAll(ctx)
}

// ListLoansByBorrower returns the active loans of one borrower email.
func (s *Service) ListLoansByBorrower(ctx context.Context, email string) ([]LendRecord, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, NewValidationError("borrowerEmail", "borrowerEmail is required")
	}
	return s.repo.ListByBorrowerEmail(ctx, email)
}

// FindLoan returns the oldest active loan of title or ErrNotFound.
func (s *Service) FindLoan(ctx context.Context, title string) (LendRecord, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return LendRecord{}, NewValidationError("title", "title is required")
	}
	return s.repo.FindByTitle(ctx, title)
}

// CreateLoan records that borrowerName took title home today, as a UTC
// calendar day. The same title may be lent several times at once.
func (s *Service) CreateLoan(ctx context.Context, title, borrowerName, borrowerEmail string) (LendRecord, error) {
	in := createLoanInput{
		BookTitle:     strings.TrimSpace(title),
		BorrowerName:  strings.TrimSpace(borrowerName),
		BorrowerEmail: strings.TrimSpace(borrowerEmail),
	}
	if err := validateStruct(in); err != nil {
		return LendRecord{}, err
	}

	rec, err := s.repo.Insert(ctx, LendRecord{
		BookTitle:     in.BookTitle,
		BorrowerName:  in.BorrowerName,
		BorrowerEmail: in.BorrowerEmail,
		LendDate:      truncateDate(s.now()),
	})
	if err != nil {
		return LendRecord{}, fmt.Errorf("create loan: %w", err)
	}
	return rec, nil
}

// ReturnLoan closes the loans of title held by borrowerName. It reports false
// without an error when there was nothing to return.
func (s *Service) ReturnLoan(ctx context.Context, title, borrowerName string) (bool, error) {
	in := returnLoanInput{
		BookTitle:    strings.TrimSpace(title),
		BorrowerName: strings.TrimSpace(borrowerName),
	}
	if err := validateStruct(in); err != nil {
		return false, err
	}

	removed, err := s.repo.DeleteByTitleAndBorrower(ctx, in.BookTitle, in.BorrowerName)
	if err != nil {
		return false, fmt.Errorf("return loan: %w", err)
	}
	if removed == 0 {
		return false, nil
	}

	s.notifyAvailable(ctx, in.BookTitle)
	return true, nil
}

// ListOverdueLoans returns loans out for longer than the overdue threshold.
func (s *Service) ListOverdueLoans(ctx context.Context) ([]LendRecord, error) {
	return s.repo.ListOverdue(ctx, s.now(), s.overdueDays)
}

// Close waits for catalog notifications that are still in flight.
func (s *Service) Close() {
	s.pending.Wait()
}

// notifyAvailable fires the catalog notification without blocking the caller.
// Failures are logged and dropped.
func (s *Service) notifyAvailable(ctx context.Context, title string) {
	if s.notifier == nil {
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
		defer cancel()

		if err := s.notifier.NotifyBookAvailable(nctx, title); err != nil {
			s.logger.WarnContext(nctx, "catalog notification failed",
				slog.String("book_title", title),
				slog.Any("error", err),
			)
		}
	}()
}
