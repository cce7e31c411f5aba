// Package mesa is the table registry and the order aggregator: it opens tables,
// accumulates lines onto their tab and drives both order state machines.
package mesa

import (
	"context"
	"errors"
	"fmt"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/config"
	"restaurant-pos/internal/guard"
	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/metrics"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/notify"
	"restaurant-pos/internal/plan"
	"restaurant-pos/internal/repository"
	"restaurant-pos/internal/services/tab"
)

type Service struct {
	store      repository.Store
	gate       plan.Gate
	events     notify.Publisher
	metrics    *metrics.Metrics
	logger     *logger.Logger
	maxRetries int
}

func NewService(store repository.Store, gate plan.Gate, events notify.Publisher, m *metrics.Metrics, log *logger.Logger, cfg config.BillingConfig) *Service {
	return &Service{
		store:      store,
		gate:       gate,
		events:     events,
		metrics:    m,
		logger:     log,
		maxRetries: cfg.AddItemsMaxRetries,
	}
}

// AddItemsResult is the tab after lines were appended
type AddItemsResult struct {
	Order  *models.Order   `json:"order"`
	Tables []*models.Table `json:"tables"`
	Added  int             `json:"added"`
}

// OpenTable creates or reuses the table record and marks it en_uso
func (s *Service) OpenTable(ctx context.Context, actor models.Actor, req models.OpenTableRequest) (*models.Table, error) {
	const op = "mesa.open_table"
	if err := req.Validate(); err != nil {
		return nil, apperr.Validation(op, "%s", err.Error())
	}
	if err := plan.Require(ctx, s.gate, s.metrics, op, actor.Venue, plan.FeatureTables); err != nil {
		return nil, err
	}

	var (
		result  *models.Table
		changed bool
	)
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		table, err := tx.LockTable(ctx, actor.Venue, req.Number)
		if errors.Is(err, repository.ErrNotFound) {
			capacity := req.Capacity
			if capacity == 0 {
				capacity = models.DefaultTableCapacity
			}
			table = &models.Table{Venue: actor.Venue, Number: req.Number, Capacity: capacity, Status: models.TableLibre}
			if err := tx.InsertTable(ctx, table); err != nil {
				if errors.Is(err, repository.ErrDuplicate) {
					return fmt.Errorf("table %d created concurrently: %w", req.Number, repository.ErrRetryable)
				}
				return fmt.Errorf("failed to create table %d: %w", req.Number, err)
			}
		} else if err != nil {
			return fmt.Errorf("failed to lock table %d: %w", req.Number, err)
		}

		switch {
		case table.ActiveOrderID != nil:
			if req.ExpectedOrderID != nil && *req.ExpectedOrderID == *table.ActiveOrderID {
				result = table
				return nil
			}
			return apperr.Conflict(op, "table %d is occupied by order %d", table.Number, *table.ActiveOrderID).
				WithDetail("active_order_id", *table.ActiveOrderID)
		case table.GroupID != nil:
			return apperr.Conflict(op, "table %d belongs to group %d", table.Number, *table.GroupID)
		case table.Status == models.TableEnUso:
			result = table
			return nil
		}

		if err := guard.CheckTableTransition(op, table.Status, models.TableEnUso); err != nil {
			return err
		}
		table.Status = models.TableEnUso
		if err := tx.UpdateTable(ctx, table); err != nil {
			return fmt.Errorf("failed to open table %d: %w", table.Number, err)
		}
		result, changed = table, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.logger.Info("table_opened", fmt.Sprintf("Table %d opened", result.Number), actor.RequestID, map[string]interface{}{
			"restaurant_id": actor.Venue.RestaurantID,
			"branch_id":     actor.Venue.BranchID,
			"staff_id":      actor.StaffID,
		})
		s.events.Publish(ctx, tab.Event(models.EventTableOpened, &tab.Tab{Tables: []*models.Table{result}}, actor.StaffID))
	}
	return result, nil
}

// GetTable reads committed state only
func (s *Service) GetTable(ctx context.Context, venue models.Venue, number int) (*models.Table, error) {
	var table *models.Table
	err := s.store.ReadSnapshot(ctx, func(r repository.Reader) error {
		var err error
		table, err = r.GetTableByNumber(ctx, venue, number)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("mesa.get_table", "table %d not found", number)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read table %d: %w", number, err)
	}
	return table, nil
}

func (s *Service) ListTables(ctx context.Context, venue models.Venue) ([]models.Table, error) {
	var tables []models.Table
	err := s.store.ReadSnapshot(ctx, func(r repository.Reader) error {
		var err error
		tables, err = r.ListTables(ctx, venue)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	if tables == nil {
		tables = []models.Table{}
	}
	return tables, nil
}

// Stats counts tables per status and sums the open tabs
func (s *Service) Stats(ctx context.Context, venue models.Venue) (*models.TableStats, error) {
	tables, err := s.ListTables(ctx, venue)
	if err != nil {
		return nil, err
	}

	stats := &models.TableStats{ByStatus: make(map[string]int)}
	counted := make(map[int64]bool)
	for _, t := range tables {
		stats.Total++
		stats.ByStatus[string(t.Status)]++
		if t.GroupID != nil {
			stats.GroupedTables++
		}
		// grouped tables share one order; count it once
		if t.ActiveOrderID != nil && !counted[*t.ActiveOrderID] {
			counted[*t.ActiveOrderID] = true
			stats.OccupiedTotal += t.AccumulatedTotal
		}
	}
	return stats, nil
}

func (s *Service) CreateTable(ctx context.Context, actor models.Actor, req models.CreateTableRequest) (*models.Table, error) {
	const op = "mesa.create_table"
	if err := req.Validate(); err != nil {
		return nil, apperr.Validation(op, "%s", err.Error())
	}
	if err := plan.Require(ctx, s.gate, s.metrics, op, actor.Venue, plan.FeatureTables); err != nil {
		return nil, err
	}

	table := &models.Table{Venue: actor.Venue, Number: req.Number, Capacity: req.Capacity, Status: models.TableLibre}
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.InsertTable(ctx, table)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, apperr.Conflict(op, "table %d already exists", req.Number)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create table %d: %w", req.Number, err)
	}

	s.logger.Info("table_created", fmt.Sprintf("Table %d created", table.Number), actor.RequestID, map[string]interface{}{
		"capacity": table.Capacity,
	})
	return table, nil
}

// DeleteTable removes a free table that never had orders
func (s *Service) DeleteTable(ctx context.Context, actor models.Actor, number int) error {
	const op = "mesa.delete_table"
	if err := plan.Require(ctx, s.gate, s.metrics, op, actor.Venue, plan.FeatureTables); err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(tx repository.Tx) error {
		table, err := tx.LockTable(ctx, actor.Venue, number)
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound(op, "table %d not found", number)
		}
		if err != nil {
			return fmt.Errorf("failed to lock table %d: %w", number, err)
		}
		if table.Status != models.TableLibre || table.ActiveOrderID != nil || table.GroupID != nil {
			return apperr.Conflict(op, "table %d is %s and cannot be deleted", number, table.Status)
		}
		n, err := tx.CountOrdersForTable(ctx, table.ID)
		if err != nil {
			return fmt.Errorf("failed to count orders of table %d: %w", number, err)
		}
		if n > 0 {
			return apperr.Conflict(op, "table %d has %d orders on record", number, n)
		}
		return tx.DeleteTable(ctx, table.ID)
	})
}

// ChangeStatus moves a free table in and out of reservada or mantenimiento
func (s *Service) ChangeStatus(ctx context.Context, actor models.Actor, number int, req models.ChangeTableStatusRequest) (*models.Table, error) {
	const op = "mesa.change_status"
	if err := req.Validate(); err != nil {
		return nil, apperr.Validation(op, "%s", err.Error())
	}
	if err := plan.Require(ctx, s.gate, s.metrics, op, actor.Venue, plan.FeatureTables); err != nil {
		return nil, err
	}

	var result *models.Table
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		table, err := tx.LockTable(ctx, actor.Venue, number)
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound(op, "table %d not found", number)
		}
		if err != nil {
			return fmt.Errorf("failed to lock table %d: %w", number, err)
		}
		if table.Status.Occupied() || table.ActiveOrderID != nil {
			return apperr.Conflict(op, "table %d has an open tab; settle or release it first", number)
		}
		if err := guard.CheckTableTransition(op, table.Status, req.Status); err != nil {
			return err
		}
		table.Status = req.Status
		if err := tx.UpdateTable(ctx, table); err != nil {
			return fmt.Errorf("failed to update table %d: %w", number, err)
		}
		result = table
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RequestBill moves an occupied tab to pendiente_cobro on the order and every table
func (s *Service) RequestBill(ctx context.Context, actor models.Actor, ref models.TabRef) (*tab.Tab, error) {
	const op = "mesa.request_bill"
	if err := ref.Validate(); err != nil {
		return nil, apperr.Validation(op, "%s", err.Error())
	}
	if err := plan.Require(ctx, s.gate, s.metrics, op, actor.Venue, plan.FeatureTables); err != nil {
		return nil, err
	}

	var t *tab.Tab
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		if t, err = tab.Lock(ctx, tx, actor.Venue, ref, op); err != nil {
			return err
		}
		if t.Order == nil {
			return apperr.Validation(op, "%s has no open tab", ref)
		}
		if err := guard.CheckBillingTransition(op, t.Order.Status, models.BillingPendienteCobro); err != nil {
			return err
		}
		t.Order.Status = models.BillingPendienteCobro
		if err := tx.UpdateOrder(ctx, t.Order); err != nil {
			return fmt.Errorf("failed to update order %d: %w", t.Order.ID, err)
		}
		for _, table := range t.Tables {
			if err := guard.CheckTableTransition(op, table.Status, models.TablePendienteCobro); err != nil {
				return err
			}
			table.Status = models.TablePendienteCobro
			if err := tx.UpdateTable(ctx, table); err != nil {
				return fmt.Errorf("failed to update table %d: %w", table.Number, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, tab.Event(models.EventBillRequested, t, actor.StaffID))
	return t, nil
}

// ReleaseTable frees a table without billing. Only an empty tab can be released.
func (s *Service) ReleaseTable(ctx context.Context, actor models.Actor, number int) (*models.Table, error) {
	const op = "mesa.release_table"
	if err := plan.Require(ctx, s.gate, s.metrics, op, actor.Venue, plan.FeatureTables); err != nil {
		return nil, err
	}

	var t *tab.Tab
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		if t, err = tab.Lock(ctx, tx, actor.Venue, models.TableRef(number), op); err != nil {
			return err
		}
		if t.Group != nil {
			return apperr.Conflict(op, "table %d belongs to group %d; remove it from the group first", number, t.Group.ID)
		}
		table := t.Table()

		if t.Order != nil {
			lines, err := tx.ListLines(ctx, t.Order.ID)
			if err != nil {
				return fmt.Errorf("failed to list lines of order %d: %w", t.Order.ID, err)
			}
			if active := models.ActiveLines(lines); len(active) > 0 {
				return apperr.Conflict(op, "table %d still has %d active lines", number, len(active)).
					WithDetail("active_lines", len(active))
			}
			t.Order.Status = models.BillingCancelada
			if guard.CanMoveKitchen(t.Order.KitchenStatus, models.KitchenCancelado) {
				t.Order.KitchenStatus = models.KitchenCancelado
			}
			if err := tx.UpdateOrder(ctx, t.Order); err != nil {
				return fmt.Errorf("failed to cancel order %d: %w", t.Order.ID, err)
			}
		}

		if table.Status == models.TableLibre {
			return nil
		}
		if err := guard.CheckTableTransition(op, table.Status, models.TableLibre); err != nil {
			return err
		}
		table.Release()
		if err := tx.UpdateTable(ctx, table); err != nil {
			return fmt.Errorf("failed to release table %d: %w", number, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("table_released", fmt.Sprintf("Table %d released", number), actor.RequestID, nil)
	s.events.Publish(ctx, tab.Event(models.EventTableReleased, t, actor.StaffID))
	return t.Table(), nil
}
