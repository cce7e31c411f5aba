package database

// SQL queries used by the application

const (
	createMigrationsTableSQL = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			migration_name VARCHAR(255) NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)`
	selectAppliedMigrationsSQL = `SELECT migration_name FROM schema_migrations`
	insertMigrationSQL         = `INSERT INTO schema_migrations (migration_name) VALUES ($1)`
)

// Table queries
const (
	TableColumns = `id, restaurant_id, branch_id, number, capacity, status, accumulated_total_cents,
		active_order_id, group_id, created_at, updated_at`

	SelectTableByNumberSQL = `SELECT ` + TableColumns + ` FROM dining_tables
		WHERE restaurant_id = $1 AND branch_id = $2 AND number = $3`

	LockTableByNumberSQL = SelectTableByNumberSQL + ` FOR UPDATE`

	SelectTableByIDSQL = `SELECT ` + TableColumns + ` FROM dining_tables WHERE id = $1`

	LockTableByIDSQL = SelectTableByIDSQL + ` FOR UPDATE`

	ListTablesSQL = `SELECT ` + TableColumns + ` FROM dining_tables
		WHERE restaurant_id = $1 AND branch_id = $2 ORDER BY number`

	ListTablesByGroupSQL = `SELECT ` + TableColumns + ` FROM dining_tables
		WHERE group_id = $1 ORDER BY number`

	CountOrdersForTableSQL = `SELECT COUNT(*) FROM orders WHERE table_id = $1`

	InsertTableSQL = `
		INSERT INTO dining_tables (restaurant_id, branch_id, number, capacity, status,
			accumulated_total_cents, active_order_id, group_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	UpdateTableSQL = `
		UPDATE dining_tables
		SET number = $2, capacity = $3, status = $4, accumulated_total_cents = $5,
			active_order_id = $6, group_id = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	DeleteTableSQL = `DELETE FROM dining_tables WHERE id = $1`
)

// Order queries
const (
	OrderColumns = `id, restaurant_id, branch_id, status, kitchen_status, service_type, table_id, group_id,
		staff_id, total_cents, payment_method_id, opened_at, updated_at, settled_at, settled_by`

	SelectOrderSQL = `SELECT ` + OrderColumns + ` FROM orders WHERE id = $1`

	LockOrderSQL = SelectOrderSQL + ` FOR UPDATE`

	// LatestOrderForTableSQL finds the newest order billed on a table, directly or through a group
	LatestOrderForTableSQL = `SELECT ` + OrderColumns + ` FROM orders
		WHERE table_id = $1
			OR group_id IN (SELECT id FROM table_groups WHERE $1 = ANY(table_ids))
		ORDER BY id DESC
		LIMIT 1`

	InsertOrderSQL = `
		INSERT INTO orders (restaurant_id, branch_id, status, kitchen_status, service_type, table_id,
			group_id, staff_id, total_cents, payment_method_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, opened_at, updated_at`

	UpdateOrderSQL = `
		UPDATE orders
		SET status = $2, kitchen_status = $3, table_id = $4, group_id = $5, total_cents = $6,
			payment_method_id = $7, settled_at = $8, settled_by = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
)

// Order line queries
const (
	LineColumns = `id, order_id, product_id, product_name, quantity, unit_price_cents, notes, status, created_at`

	ListLinesSQL = `SELECT ` + LineColumns + ` FROM order_lines WHERE order_id = $1 ORDER BY id`

	SelectLineSQL = `SELECT ` + LineColumns + ` FROM order_lines WHERE id = $1`

	InsertLineSQL = `
		INSERT INTO order_lines (order_id, product_id, product_name, quantity, unit_price_cents, notes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	UpdateLineSQL = `
		UPDATE order_lines SET order_id = $2, quantity = $3, unit_price_cents = $4, notes = $5, status = $6
		WHERE id = $1`
)

// Group queries
const (
	GroupColumns = `id, restaurant_id, branch_id, primary_order_id, staff_id, status, table_ids, created_at, closed_at`

	SelectGroupSQL = `SELECT ` + GroupColumns + ` FROM table_groups WHERE id = $1`

	LockGroupSQL = SelectGroupSQL + ` FOR UPDATE`

	ListActiveGroupsSQL = `SELECT ` + GroupColumns + ` FROM table_groups
		WHERE restaurant_id = $1 AND branch_id = $2 AND status = 'abierto' ORDER BY id`

	InsertGroupSQL = `
		INSERT INTO table_groups (restaurant_id, branch_id, primary_order_id, staff_id, status, table_ids)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	UpdateGroupSQL = `
		UPDATE table_groups SET primary_order_id = $2, status = $3, table_ids = $4, closed_at = $5
		WHERE id = $1`
)

// Catalog, inventory and audit queries
const (
	SelectProductSQL = `SELECT id, restaurant_id, name, price_cents, active FROM products WHERE id = $1`

	SelectStaffSQL = `SELECT id, restaurant_id, branch_id, name, role, active FROM staff WHERE id = $1`

	SelectPaymentMethodSQL = `SELECT id, label, active FROM payment_methods WHERE id = $1`

	SelectStockSQL = `SELECT quantity FROM branch_stock WHERE branch_id = $1 AND product_id = $2`

	// DeductStockSQL only matches when enough stock is on hand
	DeductStockSQL = `
		UPDATE branch_stock SET quantity = quantity - $3, updated_at = NOW()
		WHERE branch_id = $1 AND product_id = $2 AND quantity >= $3
		RETURNING quantity`

	InsertMovementSQL = `
		INSERT INTO inventory_movements (branch_id, product_id, delta, stock_before, stock_after, reason, order_id, staff_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	InsertInvoiceSQL = `
		INSERT INTO invoices (order_id, tax_id, business_name, total_cents)
		VALUES ($1, $2, $3, $4)
		RETURNING id, issued_at`

	InsertIntegrityLogSQL = `
		INSERT INTO integrity_logs (rule, entity, entity_id, restaurant_id, branch_id, message)
		VALUES ($1, $2, $3, $4, $5, $6)`
)
