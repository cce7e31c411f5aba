package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"restaurant-pos/internal/database"
	"restaurant-pos/internal/models"
)

// Postgres is the pgx-backed Store
type Postgres struct {
	db *database.DB
}

func NewPostgres(db *database.DB) *Postgres {
	return &Postgres{db: db}
}

var (
	_ Store = (*Postgres)(nil)
	_ Tx    = (*pgTx)(nil)
)

// querier is satisfied by both pgx.Tx and *pgxpool.Pool
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTx runs fn in a READ COMMITTED transaction; row locks provide the serialization
func (p *Postgres) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError(fmt.Errorf("failed to start transaction: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(&pgTx{pgReader{q: tx}}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// ReadSnapshot runs fn in a REPEATABLE READ, READ ONLY transaction
func (p *Postgres) ReadSnapshot(ctx context.Context, fn func(r Reader) error) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return mapError(fmt.Errorf("failed to start snapshot: %w", err))
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	return fn(pgReader{q: tx})
}

func (p *Postgres) RecordViolation(ctx context.Context, v models.IntegrityViolation) error {
	_, err := p.db.Pool.Exec(ctx, database.InsertIntegrityLogSQL,
		v.Rule, v.Entity, v.EntityID, v.Venue.RestaurantID, v.Venue.BranchID, v.Message)
	return mapError(err)
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// mapError translates driver errors into the package sentinels
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %w", ErrRetryable, err)
		case "23505":
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		}
	}
	return err
}

type pgReader struct {
	q querier
}

func scanTable(row pgx.Row) (*models.Table, error) {
	var t models.Table
	var total int64
	err := row.Scan(&t.ID, &t.Venue.RestaurantID, &t.Venue.BranchID, &t.Number, &t.Capacity, &t.Status,
		&total, &t.ActiveOrderID, &t.GroupID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	t.AccumulatedTotal = models.Cents(total)
	return &t, nil
}

func (r pgReader) queryTables(ctx context.Context, sql string, args ...any) ([]models.Table, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var tables []models.Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, *t)
	}
	return tables, mapError(rows.Err())
}

func (r pgReader) GetTableByNumber(ctx context.Context, venue models.Venue, number int) (*models.Table, error) {
	return scanTable(r.q.QueryRow(ctx, database.SelectTableByNumberSQL, venue.RestaurantID, venue.BranchID, number))
}

func (r pgReader) GetTableByID(ctx context.Context, id int64) (*models.Table, error) {
	return scanTable(r.q.QueryRow(ctx, database.SelectTableByIDSQL, id))
}

func (r pgReader) ListTables(ctx context.Context, venue models.Venue) ([]models.Table, error) {
	return r.queryTables(ctx, database.ListTablesSQL, venue.RestaurantID, venue.BranchID)
}

func (r pgReader) ListTablesByGroup(ctx context.Context, groupID int64) ([]models.Table, error) {
	return r.queryTables(ctx, database.ListTablesByGroupSQL, groupID)
}

func (r pgReader) CountOrdersForTable(ctx context.Context, tableID int64) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, database.CountOrdersForTableSQL, tableID).Scan(&n)
	return n, mapError(err)
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	var total int64
	err := row.Scan(&o.ID, &o.Venue.RestaurantID, &o.Venue.BranchID, &o.Status, &o.KitchenStatus, &o.ServiceType,
		&o.TableID, &o.GroupID, &o.StaffID, &total, &o.PaymentMethodID, &o.OpenedAt, &o.UpdatedAt,
		&o.SettledAt, &o.SettledBy)
	if err != nil {
		return nil, mapError(err)
	}
	o.Total = models.Cents(total)
	return &o, nil
}

func (r pgReader) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return scanOrder(r.q.QueryRow(ctx, database.SelectOrderSQL, id))
}

func (r pgReader) LatestOrderForTable(ctx context.Context, tableID int64) (*models.Order, error) {
	return scanOrder(r.q.QueryRow(ctx, database.LatestOrderForTableSQL, tableID))
}

func scanLine(row pgx.Row) (*models.OrderLine, error) {
	var l models.OrderLine
	var price int64
	err := row.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.ProductName, &l.Quantity, &price, &l.Notes,
		&l.Status, &l.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	l.UnitPrice = models.Cents(price)
	return &l, nil
}

func (r pgReader) ListLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	rows, err := r.q.Query(ctx, database.ListLinesSQL, orderID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var lines []models.OrderLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, *l)
	}
	return lines, mapError(rows.Err())
}

func (r pgReader) GetLine(ctx context.Context, id int64) (*models.OrderLine, error) {
	return scanLine(r.q.QueryRow(ctx, database.SelectLineSQL, id))
}

func scanGroup(row pgx.Row) (*models.Group, error) {
	var g models.Group
	err := row.Scan(&g.ID, &g.Venue.RestaurantID, &g.Venue.BranchID, &g.PrimaryOrderID, &g.StaffID, &g.Status,
		&g.TableIDs, &g.CreatedAt, &g.ClosedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &g, nil
}

func (r pgReader) GetGroup(ctx context.Context, id int64) (*models.Group, error) {
	return scanGroup(r.q.QueryRow(ctx, database.SelectGroupSQL, id))
}

func (r pgReader) ListActiveGroups(ctx context.Context, venue models.Venue) ([]models.Group, error) {
	rows, err := r.q.Query(ctx, database.ListActiveGroupsSQL, venue.RestaurantID, venue.BranchID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var groups []models.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, mapError(rows.Err())
}

func (r pgReader) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	var price int64
	err := r.q.QueryRow(ctx, database.SelectProductSQL, id).Scan(&p.ID, &p.RestaurantID, &p.Name, &price, &p.Active)
	if err != nil {
		return nil, mapError(err)
	}
	p.Price = models.Cents(price)
	return &p, nil
}

func (r pgReader) GetStaff(ctx context.Context, id int64) (*models.Staff, error) {
	var s models.Staff
	err := r.q.QueryRow(ctx, database.SelectStaffSQL, id).Scan(&s.ID, &s.RestaurantID, &s.BranchID, &s.Name, &s.Role, &s.Active)
	if err != nil {
		return nil, mapError(err)
	}
	return &s, nil
}

func (r pgReader) GetPaymentMethod(ctx context.Context, id int64) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	err := r.q.QueryRow(ctx, database.SelectPaymentMethodSQL, id).Scan(&pm.ID, &pm.Label, &pm.Active)
	if err != nil {
		return nil, mapError(err)
	}
	return &pm, nil
}

func (r pgReader) GetStock(ctx context.Context, branchID, productID int64) (int64, error) {
	var qty int64
	err := r.q.QueryRow(ctx, database.SelectStockSQL, branchID, productID).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return qty, mapError(err)
}

type pgTx struct {
	pgReader
}

func (tx *pgTx) LockTable(ctx context.Context, venue models.Venue, number int) (*models.Table, error) {
	return scanTable(tx.q.QueryRow(ctx, database.LockTableByNumberSQL, venue.RestaurantID, venue.BranchID, number))
}

func (tx *pgTx) LockTableByID(ctx context.Context, id int64) (*models.Table, error) {
	return scanTable(tx.q.QueryRow(ctx, database.LockTableByIDSQL, id))
}

func (tx *pgTx) LockGroup(ctx context.Context, id int64) (*models.Group, error) {
	return scanGroup(tx.q.QueryRow(ctx, database.LockGroupSQL, id))
}

func (tx *pgTx) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return scanOrder(tx.q.QueryRow(ctx, database.LockOrderSQL, id))
}

func (tx *pgTx) InsertTable(ctx context.Context, t *models.Table) error {
	err := tx.q.QueryRow(ctx, database.InsertTableSQL,
		t.Venue.RestaurantID, t.Venue.BranchID, t.Number, t.Capacity, t.Status,
		t.AccumulatedTotal.Cents(), t.ActiveOrderID, t.GroupID,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	return mapError(err)
}

func (tx *pgTx) UpdateTable(ctx context.Context, t *models.Table) error {
	err := tx.q.QueryRow(ctx, database.UpdateTableSQL,
		t.ID, t.Number, t.Capacity, t.Status, t.AccumulatedTotal.Cents(), t.ActiveOrderID, t.GroupID,
	).Scan(&t.UpdatedAt)
	return mapError(err)
}

func (tx *pgTx) DeleteTable(ctx context.Context, id int64) error {
	tag, err := tx.q.Exec(ctx, database.DeleteTableSQL, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *pgTx) InsertOrder(ctx context.Context, o *models.Order) error {
	err := tx.q.QueryRow(ctx, database.InsertOrderSQL,
		o.Venue.RestaurantID, o.Venue.BranchID, o.Status, o.KitchenStatus, o.ServiceType,
		o.TableID, o.GroupID, o.StaffID, o.Total.Cents(), o.PaymentMethodID,
	).Scan(&o.ID, &o.OpenedAt, &o.UpdatedAt)
	return mapError(err)
}

func (tx *pgTx) UpdateOrder(ctx context.Context, o *models.Order) error {
	err := tx.q.QueryRow(ctx, database.UpdateOrderSQL,
		o.ID, o.Status, o.KitchenStatus, o.TableID, o.GroupID, o.Total.Cents(),
		o.PaymentMethodID, o.SettledAt, o.SettledBy,
	).Scan(&o.UpdatedAt)
	return mapError(err)
}

func (tx *pgTx) InsertLine(ctx context.Context, l *models.OrderLine) error {
	err := tx.q.QueryRow(ctx, database.InsertLineSQL,
		l.OrderID, l.ProductID, l.ProductName, l.Quantity, l.UnitPrice.Cents(), l.Notes, l.Status,
	).Scan(&l.ID, &l.CreatedAt)
	return mapError(err)
}

func (tx *pgTx) UpdateLine(ctx context.Context, l *models.OrderLine) error {
	tag, err := tx.q.Exec(ctx, database.UpdateLineSQL,
		l.ID, l.OrderID, l.Quantity, l.UnitPrice.Cents(), l.Notes, l.Status)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *pgTx) InsertGroup(ctx context.Context, g *models.Group) error {
	err := tx.q.QueryRow(ctx, database.InsertGroupSQL,
		g.Venue.RestaurantID, g.Venue.BranchID, g.PrimaryOrderID, g.StaffID, g.Status, g.TableIDs,
	).Scan(&g.ID, &g.CreatedAt)
	return mapError(err)
}

func (tx *pgTx) UpdateGroup(ctx context.Context, g *models.Group) error {
	tag, err := tx.q.Exec(ctx, database.UpdateGroupSQL, g.ID, g.PrimaryOrderID, g.Status, g.TableIDs, g.ClosedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *pgTx) DeductStock(ctx context.Context, branchID, productID, qty int64) (int64, error) {
	var remaining int64
	err := tx.q.QueryRow(ctx, database.DeductStockSQL, branchID, productID, qty).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		available, getErr := tx.GetStock(ctx, branchID, productID)
		if getErr != nil {
			return 0, getErr
		}
		return available, ErrInsufficientStock
	}
	return remaining, mapError(err)
}

func (tx *pgTx) InsertMovement(ctx context.Context, m *models.InventoryMovement) error {
	err := tx.q.QueryRow(ctx, database.InsertMovementSQL,
		m.BranchID, m.ProductID, m.Delta, m.Before, m.After, m.Reason, m.OrderID, m.StaffID,
	).Scan(&m.ID, &m.CreatedAt)
	return mapError(err)
}

func (tx *pgTx) InsertInvoice(ctx context.Context, inv *models.Invoice) error {
	err := tx.q.QueryRow(ctx, database.InsertInvoiceSQL,
		inv.OrderID, inv.TaxID, inv.BusinessName, inv.Total.Cents(),
	).Scan(&inv.ID, &inv.IssuedAt)
	return mapError(err)
}
