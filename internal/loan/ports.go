package loan

import (
	"context"
	"time"
)

//go:generate mockgen -source=ports.go -destination=mock_ports_test.go -package=loan

// Repository defines the contract for lend record storage.
type Repository interface {
	ListAll(ctx context.Context) ([]LendRecord, error)
	ListByBorrowerEmail(ctx context.Context, email string) ([]LendRecord, error)
	FindByTitle(ctx context.Context, title string) (LendRecord, error)
	Insert(ctx context.Context, record LendRecord) (LendRecord, error)
	DeleteByTitleAndBorrower(ctx context.Context, title, borrowerName string) (int64, error)
	ListOverdue(ctx context.Context, asOf time.Time, thresholdDays int) ([]LendRecord, error)
}

// Notifier tells the book catalog that a title is back on the shelf.
type Notifier interface {
	NotifyBookAvailable(ctx context.Context, title string) error
}
