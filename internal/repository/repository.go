// Package repository persists tables, orders, groups and the inventory ledger.
// Every mutation goes through a Tx obtained from Store.WithTx.
package repository

import (
	"context"
	"errors"

	"restaurant-pos/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrRetryable marks serialization failures and deadlocks; the whole transaction may be retried
	ErrRetryable = errors.New("transaction conflict, retry")
	// ErrInsufficientStock is returned by DeductStock when the branch holds less than requested
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrDuplicate is returned on unique violations
	ErrDuplicate = errors.New("duplicate key")
)

// Reader is the read side shared by snapshots and transactions
type Reader interface {
	GetTableByNumber(ctx context.Context, venue models.Venue, number int) (*models.Table, error)
	GetTableByID(ctx context.Context, id int64) (*models.Table, error)
	ListTables(ctx context.Context, venue models.Venue) ([]models.Table, error)
	ListTablesByGroup(ctx context.Context, groupID int64) ([]models.Table, error)
	CountOrdersForTable(ctx context.Context, tableID int64) (int, error)

	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	// LatestOrderForTable returns the newest order billed on the table, directly or through a group
	LatestOrderForTable(ctx context.Context, tableID int64) (*models.Order, error)
	ListLines(ctx context.Context, orderID int64) ([]models.OrderLine, error)
	GetLine(ctx context.Context, id int64) (*models.OrderLine, error)

	GetGroup(ctx context.Context, id int64) (*models.Group, error)
	ListActiveGroups(ctx context.Context, venue models.Venue) ([]models.Group, error)

	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	GetStaff(ctx context.Context, id int64) (*models.Staff, error)
	GetPaymentMethod(ctx context.Context, id int64) (*models.PaymentMethod, error)
	GetStock(ctx context.Context, branchID, productID int64) (int64, error)
}

// Tx is a read-write transaction. Lock* methods take row locks held until commit or rollback.
type Tx interface {
	Reader

	LockTable(ctx context.Context, venue models.Venue, number int) (*models.Table, error)
	LockTableByID(ctx context.Context, id int64) (*models.Table, error)
	LockGroup(ctx context.Context, id int64) (*models.Group, error)
	LockOrder(ctx context.Context, id int64) (*models.Order, error)

	InsertTable(ctx context.Context, t *models.Table) error
	UpdateTable(ctx context.Context, t *models.Table) error
	DeleteTable(ctx context.Context, id int64) error

	InsertOrder(ctx context.Context, o *models.Order) error
	UpdateOrder(ctx context.Context, o *models.Order) error

	InsertLine(ctx context.Context, l *models.OrderLine) error
	UpdateLine(ctx context.Context, l *models.OrderLine) error

	InsertGroup(ctx context.Context, g *models.Group) error
	UpdateGroup(ctx context.Context, g *models.Group) error

	// DeductStock subtracts qty only if enough is on hand. On shortage it returns
	// the available quantity and ErrInsufficientStock.
	DeductStock(ctx context.Context, branchID, productID, qty int64) (remaining int64, err error)
	InsertMovement(ctx context.Context, m *models.InventoryMovement) error
	InsertInvoice(ctx context.Context, inv *models.Invoice) error
}

// Store opens transactions and consistent read snapshots
type Store interface {
	// WithTx runs fn in one transaction. fn's error rolls everything back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	// ReadSnapshot runs fn against committed data without blocking writers
	ReadSnapshot(ctx context.Context, fn func(r Reader) error) error
	// RecordViolation persists a rejected write outside any business transaction
	RecordViolation(ctx context.Context, v models.IntegrityViolation) error
	Ping(ctx context.Context) error
}

// Retry re-runs fn while it fails with ErrRetryable, at most maxRetries extra times
func Retry(ctx context.Context, maxRetries int, fn func() error) (attempts int, err error) {
	for {
		attempts++
		err = fn()
		if err == nil || !errors.Is(err, ErrRetryable) || attempts > maxRetries {
			return attempts, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempts, ctxErr
		}
	}
}
