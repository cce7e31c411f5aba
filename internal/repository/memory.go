package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"restaurant-pos/internal/models"
)

// Memory is an in-process Store. Transactions are serialized and work on a
// private copy that replaces the committed state only on success.
type Memory struct {
	mu   sync.RWMutex
	data *memData

	// violations are written outside business transactions and never rolled back
	vmu        sync.Mutex
	violations []models.IntegrityViolation
}

type stockKey struct {
	branchID  int64
	productID int64
}

type memData struct {
	seq            int64
	tables         map[int64]*models.Table
	orders         map[int64]*models.Order
	lines          map[int64]*models.OrderLine
	groups         map[int64]*models.Group
	products       map[int64]*models.Product
	staff          map[int64]*models.Staff
	paymentMethods map[int64]*models.PaymentMethod
	stock          map[stockKey]int64
	movements      []models.InventoryMovement
	invoices       []models.Invoice
}

func NewMemory() *Memory {
	return &Memory{data: &memData{
		tables:         make(map[int64]*models.Table),
		orders:         make(map[int64]*models.Order),
		lines:          make(map[int64]*models.OrderLine),
		groups:         make(map[int64]*models.Group),
		products:       make(map[int64]*models.Product),
		staff:          make(map[int64]*models.Staff),
		paymentMethods: make(map[int64]*models.PaymentMethod),
		stock:          make(map[stockKey]int64),
	}}
}

var (
	_ Store = (*Memory)(nil)
	_ Tx    = (*memTx)(nil)
)

func (d *memData) clone() *memData {
	c := &memData{
		seq:            d.seq,
		tables:         make(map[int64]*models.Table, len(d.tables)),
		orders:         make(map[int64]*models.Order, len(d.orders)),
		lines:          make(map[int64]*models.OrderLine, len(d.lines)),
		groups:         make(map[int64]*models.Group, len(d.groups)),
		products:       d.products,
		staff:          d.staff,
		paymentMethods: d.paymentMethods,
		stock:          make(map[stockKey]int64, len(d.stock)),
		movements:      append([]models.InventoryMovement(nil), d.movements...),
		invoices:       append([]models.Invoice(nil), d.invoices...),
	}
	for k, v := range d.tables {
		c.tables[k] = copyTable(v)
	}
	for k, v := range d.orders {
		c.orders[k] = copyOrder(v)
	}
	for k, v := range d.lines {
		l := *v
		c.lines[k] = &l
	}
	for k, v := range d.groups {
		c.groups[k] = copyGroup(v)
	}
	for k, v := range d.stock {
		c.stock[k] = v
	}
	return c
}

func (d *memData) nextID() int64 {
	d.seq++
	return d.seq
}

func copyInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyTable(t *models.Table) *models.Table {
	c := *t
	c.ActiveOrderID = copyInt64(t.ActiveOrderID)
	c.GroupID = copyInt64(t.GroupID)
	return &c
}

func copyOrder(o *models.Order) *models.Order {
	c := *o
	c.TableID = copyInt64(o.TableID)
	c.GroupID = copyInt64(o.GroupID)
	c.PaymentMethodID = copyInt64(o.PaymentMethodID)
	c.SettledBy = copyInt64(o.SettledBy)
	if o.SettledAt != nil {
		at := *o.SettledAt
		c.SettledAt = &at
	}
	c.Lines = nil
	return &c
}

func copyGroup(g *models.Group) *models.Group {
	c := *g
	c.TableIDs = append([]int64(nil), g.TableIDs...)
	if g.ClosedAt != nil {
		at := *g.ClosedAt
		c.ClosedAt = &at
	}
	return &c
}

// WithTx runs fn against a private copy and commits it when fn succeeds
func (m *Memory) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.data.clone()
	if err := fn(&memTx{memReader{d: work}}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.data = work
	return nil
}

func (m *Memory) ReadSnapshot(ctx context.Context, fn func(r Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(memReader{d: m.data})
}

func (m *Memory) RecordViolation(_ context.Context, v models.IntegrityViolation) error {
	m.vmu.Lock()
	defer m.vmu.Unlock()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	m.violations = append(m.violations, v)
	return nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

// Seeding and inspection helpers for local runs and tests.

func (m *Memory) AddProduct(p models.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.products[p.ID] = &p
}

func (m *Memory) AddStaff(s models.Staff) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.staff[s.ID] = &s
}

func (m *Memory) AddPaymentMethod(pm models.PaymentMethod) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.paymentMethods[pm.ID] = &pm
}

func (m *Memory) SetStock(branchID, productID, qty int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.stock[stockKey{branchID, productID}] = qty
}

func (m *Memory) Stock(branchID, productID int64) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.stock[stockKey{branchID, productID}]
}

func (m *Memory) Movements() []models.InventoryMovement {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.InventoryMovement(nil), m.data.movements...)
}

func (m *Memory) Invoices() []models.Invoice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Invoice(nil), m.data.invoices...)
}

func (m *Memory) Violations() []models.IntegrityViolation {
	m.vmu.Lock()
	defer m.vmu.Unlock()
	return append([]models.IntegrityViolation(nil), m.violations...)
}

type memReader struct {
	d *memData
}

func (r memReader) GetTableByNumber(ctx context.Context, venue models.Venue, number int) (*models.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, t := range r.d.tables {
		if t.Venue == venue && t.Number == number {
			return copyTable(t), nil
		}
	}
	return nil, ErrNotFound
}

func (r memReader) GetTableByID(ctx context.Context, id int64) (*models.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, ok := r.d.tables[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTable(t), nil
}

func (r memReader) ListTables(ctx context.Context, venue models.Venue) ([]models.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.Table
	for _, t := range r.d.tables {
		if t.Venue == venue {
			out = append(out, *copyTable(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (r memReader) ListTablesByGroup(ctx context.Context, groupID int64) ([]models.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.Table
	for _, t := range r.d.tables {
		if t.GroupID != nil && *t.GroupID == groupID {
			out = append(out, *copyTable(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (r memReader) CountOrdersForTable(ctx context.Context, tableID int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	for _, o := range r.d.orders {
		if o.TableID != nil && *o.TableID == tableID {
			n++
		}
	}
	return n, nil
}

func (r memReader) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o, ok := r.d.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOrder(o), nil
}

func (r memReader) LatestOrderForTable(ctx context.Context, tableID int64) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var latest *models.Order
	for _, o := range r.d.orders {
		if latest != nil && o.ID < latest.ID {
			continue
		}
		if r.billedOn(o, tableID) {
			latest = o
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return copyOrder(latest), nil
}

func (r memReader) billedOn(o *models.Order, tableID int64) bool {
	if o.TableID != nil {
		return *o.TableID == tableID
	}
	if o.GroupID == nil {
		return false
	}
	g, ok := r.d.groups[*o.GroupID]
	if !ok {
		return false
	}
	for _, id := range g.TableIDs {
		if id == tableID {
			return true
		}
	}
	return false
}

func (r memReader) ListLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.OrderLine
	for _, l := range r.d.lines {
		if l.OrderID == orderID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memReader) GetLine(ctx context.Context, id int64) (*models.OrderLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l, ok := r.d.lines[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *l
	return &c, nil
}

func (r memReader) GetGroup(ctx context.Context, id int64) (*models.Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g, ok := r.d.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyGroup(g), nil
}

func (r memReader) ListActiveGroups(ctx context.Context, venue models.Venue) ([]models.Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.Group
	for _, g := range r.d.groups {
		if g.Venue == venue && g.Status == models.GroupAbierto {
			out = append(out, *copyGroup(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memReader) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := r.d.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

func (r memReader) GetStaff(ctx context.Context, id int64) (*models.Staff, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, ok := r.d.staff[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *s
	return &c, nil
}

func (r memReader) GetPaymentMethod(ctx context.Context, id int64) (*models.PaymentMethod, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pm, ok := r.d.paymentMethods[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *pm
	return &c, nil
}

func (r memReader) GetStock(ctx context.Context, branchID, productID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return r.d.stock[stockKey{branchID, productID}], nil
}

type memTx struct {
	memReader
}

func (tx *memTx) LockTable(ctx context.Context, venue models.Venue, number int) (*models.Table, error) {
	return tx.GetTableByNumber(ctx, venue, number)
}

func (tx *memTx) LockTableByID(ctx context.Context, id int64) (*models.Table, error) {
	return tx.GetTableByID(ctx, id)
}

func (tx *memTx) LockGroup(ctx context.Context, id int64) (*models.Group, error) {
	return tx.GetGroup(ctx, id)
}

func (tx *memTx) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return tx.GetOrder(ctx, id)
}

func (tx *memTx) InsertTable(ctx context.Context, t *models.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, existing := range tx.d.tables {
		if existing.Venue == t.Venue && existing.Number == t.Number {
			return ErrDuplicate
		}
	}
	now := time.Now().UTC()
	t.ID = tx.d.nextID()
	t.CreatedAt, t.UpdatedAt = now, now
	tx.d.tables[t.ID] = copyTable(t)
	return nil
}

func (tx *memTx) UpdateTable(ctx context.Context, t *models.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := tx.d.tables[t.ID]; !ok {
		return ErrNotFound
	}
	t.UpdatedAt = time.Now().UTC()
	tx.d.tables[t.ID] = copyTable(t)
	return nil
}

func (tx *memTx) DeleteTable(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := tx.d.tables[id]; !ok {
		return ErrNotFound
	}
	delete(tx.d.tables, id)
	return nil
}

func (tx *memTx) InsertOrder(ctx context.Context, o *models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().UTC()
	o.ID = tx.d.nextID()
	if o.OpenedAt.IsZero() {
		o.OpenedAt = now
	}
	o.UpdatedAt = now
	tx.d.orders[o.ID] = copyOrder(o)
	return nil
}

func (tx *memTx) UpdateOrder(ctx context.Context, o *models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := tx.d.orders[o.ID]; !ok {
		return ErrNotFound
	}
	o.UpdatedAt = time.Now().UTC()
	tx.d.orders[o.ID] = copyOrder(o)
	return nil
}

func (tx *memTx) InsertLine(ctx context.Context, l *models.OrderLine) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := tx.d.orders[l.OrderID]; !ok {
		return ErrNotFound
	}
	l.ID = tx.d.nextID()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	c := *l
	tx.d.lines[l.ID] = &c
	return nil
}

func (tx *memTx) UpdateLine(ctx context.Context, l *models.OrderLine) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := tx.d.lines[l.ID]; !ok {
		return ErrNotFound
	}
	c := *l
	tx.d.lines[l.ID] = &c
	return nil
}

func (tx *memTx) InsertGroup(ctx context.Context, g *models.Group) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.ID = tx.d.nextID()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	tx.d.groups[g.ID] = copyGroup(g)
	return nil
}

func (tx *memTx) UpdateGroup(ctx context.Context, g *models.Group) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := tx.d.groups[g.ID]; !ok {
		return ErrNotFound
	}
	tx.d.groups[g.ID] = copyGroup(g)
	return nil
}

func (tx *memTx) DeductStock(ctx context.Context, branchID, productID, qty int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	key := stockKey{branchID, productID}
	available := tx.d.stock[key]
	if available < qty {
		return available, ErrInsufficientStock
	}
	tx.d.stock[key] = available - qty
	return available - qty, nil
}

func (tx *memTx) InsertMovement(ctx context.Context, m *models.InventoryMovement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.ID = tx.d.nextID()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	tx.d.movements = append(tx.d.movements, *m)
	return nil
}

func (tx *memTx) InsertInvoice(ctx context.Context, inv *models.Invoice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	inv.ID = tx.d.nextID()
	if inv.IssuedAt.IsZero() {
		inv.IssuedAt = time.Now().UTC()
	}
	tx.d.invoices = append(tx.d.invoices, *inv)
	return nil
}
