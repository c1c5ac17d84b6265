package loan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lendingapi/internal/platform/postgres"
)

const (
	tableLendBooks = "lend_books"
	colID          = "id"
	colBook        = "book"
	colName        = "name"
	colEmail       = "email"
	colDate        = "date"
)

var (
	dialect       = goqu.Dialect("postgres")
	recordColumns = []any{colID, colBook, colName, colEmail, colDate}
)

// PostgresRepo stores lend records in the lend_books table. Every statement is
// built in prepared mode so user input only ever travels as bound parameters.
type PostgresRepo struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresRepo creates a repository on db. A timeout of zero leaves query
// deadlines to the caller's context and the server.
func NewPostgresRepo(db *pgxpool.Pool, timeout time.Duration) *PostgresRepo {
	return &PostgresRepo{db: db, timeout: timeout}
}

func (r *PostgresRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *PostgresRepo) ListAll(ctx context.Context) ([]LendRecord, error) {
	ds := r.selectRecords().Order(goqu.C(colID).Asc())
	return r.query(ctx, "list loans", ds)
}

func (r *PostgresRepo) ListByBorrowerEmail(ctx context.Context, email string) ([]LendRecord, error) {
	ds := r.selectRecords().
		Where(goqu.Ex{colEmail: email}).
		Order(goqu.C(colDate).Desc(), goqu.C(colID).Asc())
	return r.query(ctx, "list loans by borrower", ds)
}

// FindByTitle returns the oldest loan of title, or ErrNotFound.
func (r *PostgresRepo) FindByTitle(ctx context.Context, title string) (LendRecord, error) {
	query, args, err := r.selectRecords().
		Where(goqu.Ex{colBook: title}).
		Order(goqu.C(colID).Asc()).
		Limit(1).
		ToSQL()
	if err != nil {
		return LendRecord{}, fmt.Errorf("find loan by title: build query: %w", err)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rec, err := scanRecord(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LendRecord{}, ErrNotFound
		}
		return LendRecord{}, mapError("find loan by title", err)
	}
	return rec, nil
}

// Insert persists record in its own transaction and returns it with the
// assigned id. A zero LendDate is stamped with today's UTC date; the column
// default is never relied on, so the database session's timezone cannot
// disagree with ListOverdue's cut-off.
func (r *PostgresRepo) Insert(ctx context.Context, record LendRecord) (LendRecord, error) {
	if err := checkRequired(record); err != nil {
		return LendRecord{}, err
	}

	lendDate := record.LendDate
	if lendDate.IsZero() {
		lendDate = time.Now()
	}

	row := goqu.Record{
		colBook:  record.BookTitle,
		colName:  record.BorrowerName,
		colEmail: record.BorrowerEmail,
		colDate:  truncateDate(lendDate),
	}

	query, args, err := dialect.Insert(tableLendBooks).
		Prepared(true).
		Rows(row).
		Returning(recordColumns...).
		ToSQL()
	if err != nil {
		return LendRecord{}, fmt.Errorf("insert loan: build query: %w", err)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var saved LendRecord
	err = pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var scanErr error
		saved, scanErr = scanRecord(tx.QueryRow(ctx, query, args...))
		return scanErr
	})
	if err != nil {
		return LendRecord{}, mapError("insert loan", err)
	}
	return saved, nil
}

// DeleteByTitleAndBorrower removes every loan of title held by borrowerName
// in one transaction and reports how many rows went away.
func (r *PostgresRepo) DeleteByTitleAndBorrower(ctx context.Context, title, borrowerName string) (int64, error) {
	query, args, err := dialect.Delete(tableLendBooks).
		Prepared(true).
		Where(goqu.Ex{colBook: title, colName: borrowerName}).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("delete loan: build query: %w", err)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var removed int64
	err = pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, execErr := tx.Exec(ctx, query, args...)
		if execErr != nil {
			return execErr
		}
		removed = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, mapError("delete loan", err)
	}
	return removed, nil
}

// ListOverdue returns loans whose lend date lies more than thresholdDays
// before the UTC calendar day of asOf. A loan exactly thresholdDays old is
// not overdue.
func (r *PostgresRepo) ListOverdue(ctx context.Context, asOf time.Time, thresholdDays int) ([]LendRecord, error) {
	ds := r.selectRecords().
		Where(goqu.C(colDate).Lt(goqu.L("?::date - ?::integer", truncateDate(asOf), thresholdDays))).
		Order(goqu.C(colDate).Asc(), goqu.C(colID).Asc())
	return r.query(ctx, "list overdue loans", ds)
}

func (r *PostgresRepo) selectRecords() *goqu.SelectDataset {
	return dialect.From(tableLendBooks).Prepared(true).Select(recordColumns...)
}

func (r *PostgresRepo) query(ctx context.Context, op string, ds *goqu.SelectDataset) ([]LendRecord, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", op, err)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (LendRecord, error) {
		return scanRecord(row)
	})
	if err != nil {
		return nil, mapError(op, err)
	}
	if records == nil {
		records = []LendRecord{}
	}
	return records, nil
}

func scanRecord(row pgx.Row) (LendRecord, error) {
	var rec LendRecord
	err := row.Scan(&rec.ID, &rec.BookTitle, &rec.BorrowerName, &rec.BorrowerEmail, &rec.LendDate)
	return rec, err
}

func checkRequired(record LendRecord) error {
	var missing []string
	if strings.TrimSpace(record.BookTitle) == "" {
		missing = append(missing, colBook)
	}
	if strings.TrimSpace(record.BorrowerName) == "" {
		missing = append(missing, colName)
	}
	if strings.TrimSpace(record.BorrowerEmail) == "" {
		missing = append(missing, colEmail)
	}
	if len(missing) > 0 {
		return fmt.Errorf("insert loan: missing %s: %w", strings.Join(missing, ", "), ErrConstraintViolation)
	}
	return nil
}

// mapError converts driver errors into the package sentinels. The returned
// error never carries statement text.
func mapError(op string, err error) error {
	switch {
	case postgres.IsConstraintViolation(err):
		return fmt.Errorf("%s: %w", op, ErrConstraintViolation)
	case postgres.IsUnavailable(err):
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
