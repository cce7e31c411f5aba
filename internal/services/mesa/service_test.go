package mesa_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/config"
	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/plan"
	"restaurant-pos/internal/repository"
	"restaurant-pos/internal/services/fixture"
	"restaurant-pos/internal/services/mesa"
)

type env struct {
	mem     *repository.Memory
	service *mesa.Service
	events  *fixture.Events
	actor   models.Actor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem, store := fixture.NewStore()
	events := &fixture.Events{}
	svc := mesa.NewService(store, plan.AllowAll{}, events, nil, logger.NewNop(), config.BillingConfig{AddItemsMaxRetries: 3})
	return &env{mem: mem, service: svc, events: events, actor: fixture.Actor()}
}

func (e *env) open(t *testing.T, number int) *models.Table {
	t.Helper()
	table, err := e.service.OpenTable(context.Background(), e.actor, models.OpenTableRequest{Number: number})
	require.NoError(t, err)
	return table
}

func (e *env) add(t *testing.T, number int, items ...models.ItemInput) *mesa.AddItemsResult {
	t.Helper()
	res, err := e.service.AddItems(context.Background(), e.actor, models.AddItemsRequest{
		TabRef: models.TableRef(number),
		Items:  items,
	})
	require.NoError(t, err)
	return res
}

func TestOpenTable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	table := e.open(t, 5)
	assert.Equal(t, models.TableEnUso, table.Status)
	assert.Equal(t, models.DefaultTableCapacity, table.Capacity)
	assert.Nil(t, table.ActiveOrderID)
	require.Len(t, e.events.OfType(models.EventTableOpened), 1)

	again := e.open(t, 5)
	assert.Equal(t, table.ID, again.ID)
	assert.Len(t, e.events.OfType(models.EventTableOpened), 1, "reopening an en_uso table is a no-op")

	res := e.add(t, 5, fixture.Item(fixture.ProductA, 1))

	_, err := e.service.OpenTable(ctx, e.actor, models.OpenTableRequest{Number: 5})
	require.ErrorIs(t, err, apperr.ErrConflict)

	orderID := res.Order.ID
	same, err := e.service.OpenTable(ctx, e.actor, models.OpenTableRequest{Number: 5, ExpectedOrderID: &orderID})
	require.NoError(t, err)
	assert.Equal(t, &orderID, same.ActiveOrderID)

	_, err = e.service.OpenTable(ctx, e.actor, models.OpenTableRequest{Number: 0})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestAddItemsAccumulatesTableFive(t *testing.T) {
	e := newEnv(t)
	e.open(t, 5)

	first := e.add(t, 5, fixture.Item(fixture.ProductA, 2))
	assert.Equal(t, models.Cents(1200), first.Order.Total)
	assert.Equal(t, models.BillingEnUso, first.Order.Status)
	assert.Equal(t, models.KitchenRecibido, first.Order.KitchenStatus)

	second := e.add(t, 5, fixture.Item(fixture.ProductB, 1))
	assert.Equal(t, first.Order.ID, second.Order.ID, "lines accumulate on the same order")
	assert.Equal(t, "22.00", second.Order.Total.String())
	require.Len(t, second.Tables, 1)
	assert.Equal(t, models.Cents(2200), second.Tables[0].AccumulatedTotal)

	table, err := e.service.GetTable(context.Background(), e.actor.Venue, 5)
	require.NoError(t, err)
	assert.Equal(t, models.Cents(2200), table.AccumulatedTotal)
	assert.Equal(t, second.Order.ID, *table.ActiveOrderID)

	order, err := e.service.GetOrder(context.Background(), e.actor.Venue, second.Order.ID)
	require.NoError(t, err)
	assert.Len(t, order.Lines, 2)
	assert.Equal(t, models.SumLines(order.Lines), order.Total)

	added := e.events.OfType(models.EventItemsAdded)
	require.Len(t, added, 2)
	assert.Equal(t, []int{5}, added[1].TableNumbers)
	assert.Len(t, added[1].Lines, 1)
}

func TestAddItemsOpensFreeTable(t *testing.T) {
	e := newEnv(t)
	_, err := e.service.CreateTable(context.Background(), e.actor, models.CreateTableRequest{Number: 2, Capacity: 6})
	require.NoError(t, err)

	res := e.add(t, 2, fixture.Item(fixture.ProductC, 1))
	assert.Equal(t, models.TableEnUso, res.Tables[0].Status)
	assert.Equal(t, models.Cents(850), res.Order.Total)
}

func TestAddItemsUsesPriceOverride(t *testing.T) {
	e := newEnv(t)
	e.open(t, 1)

	price := models.Cents(450)
	res := e.add(t, 1, models.ItemInput{ProductID: fixture.ProductA, Quantity: 2, UnitPrice: &price, Notes: "sin picante"})
	assert.Equal(t, models.Cents(900), res.Order.Total)
}

func TestAddItemsRejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.open(t, 1)
	_, err := e.service.CreateTable(ctx, e.actor, models.CreateTableRequest{Number: 2, Capacity: 2})
	require.NoError(t, err)
	_, err = e.service.ChangeStatus(ctx, e.actor, 2, models.ChangeTableStatusRequest{Status: models.TableMantenimiento})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  models.AddItemsRequest
		want error
	}{
		{
			name: "no items",
			req:  models.AddItemsRequest{TabRef: models.TableRef(1)},
			want: apperr.ErrValidation,
		},
		{
			name: "product of another restaurant",
			req:  models.AddItemsRequest{TabRef: models.TableRef(1), Items: []models.ItemInput{fixture.Item(90, 1)}},
			want: apperr.ErrValidation,
		},
		{
			name: "unknown table",
			req:  models.AddItemsRequest{TabRef: models.TableRef(42), Items: []models.ItemInput{fixture.Item(fixture.ProductA, 1)}},
			want: apperr.ErrNotFound,
		},
		{
			name: "table under maintenance",
			req:  models.AddItemsRequest{TabRef: models.TableRef(2), Items: []models.ItemInput{fixture.Item(fixture.ProductA, 1)}},
			want: apperr.ErrInvalidTransition,
		},
		{
			name: "unknown group",
			req:  models.AddItemsRequest{TabRef: models.GroupRef(77), Items: []models.ItemInput{fixture.Item(fixture.ProductA, 1)}},
			want: apperr.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.service.AddItems(ctx, e.actor, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	table, err := e.service.GetTable(ctx, e.actor.Venue, 1)
	require.NoError(t, err)
	assert.Nil(t, table.ActiveOrderID, "rejected calls leave no partial order behind")
}

func TestAddItemsConcurrentCallsAreAdditive(t *testing.T) {
	e := newEnv(t)
	e.open(t, 5)

	const calls = 20
	var g errgroup.Group
	for i := 0; i < calls; i++ {
		g.Go(func() error {
			_, err := e.service.AddItems(context.Background(), e.actor, models.AddItemsRequest{
				TabRef: models.TableRef(5),
				Items:  []models.ItemInput{fixture.Item(fixture.ProductA, 1)},
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	table, err := e.service.GetTable(context.Background(), e.actor.Venue, 5)
	require.NoError(t, err)
	assert.Equal(t, models.Cents(600*calls), table.AccumulatedTotal)

	order, err := e.service.GetOrder(context.Background(), e.actor.Venue, *table.ActiveOrderID)
	require.NoError(t, err)
	assert.Len(t, order.Lines, calls)
	assert.Equal(t, models.Cents(600*calls), order.Total)
}

// flakyStore fails the first n transactions with a serialization error
type flakyStore struct {
	repository.Store
	failures int32
}

func (s *flakyStore) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if atomic.AddInt32(&s.failures, -1) >= 0 {
		return errors.New("could not serialize access: " + repository.ErrRetryable.Error())
	}
	return s.Store.WithTx(ctx, fn)
}

type retryableStore struct {
	repository.Store
	failures int32
}

func (s *retryableStore) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if atomic.AddInt32(&s.failures, -1) >= 0 {
		return repository.ErrRetryable
	}
	return s.Store.WithTx(ctx, fn)
}

func TestAddItemsRetriesSerializationFailures(t *testing.T) {
	_, store := fixture.NewStore()
	events := &fixture.Events{}
	seed := mesa.NewService(store, plan.AllowAll{}, events, nil, logger.NewNop(), config.BillingConfig{})
	_, err := seed.OpenTable(context.Background(), fixture.Actor(), models.OpenTableRequest{Number: 3})
	require.NoError(t, err)

	req := models.AddItemsRequest{TabRef: models.TableRef(3), Items: []models.ItemInput{fixture.Item(fixture.ProductB, 1)}}

	svc := mesa.NewService(&retryableStore{Store: store, failures: 2}, plan.AllowAll{}, events, nil, logger.NewNop(),
		config.BillingConfig{AddItemsMaxRetries: 3})
	res, err := svc.AddItems(context.Background(), fixture.Actor(), req)
	require.NoError(t, err)
	assert.Equal(t, models.Cents(1000), res.Order.Total)

	exhausted := mesa.NewService(&retryableStore{Store: store, failures: 5}, plan.AllowAll{}, events, nil, logger.NewNop(),
		config.BillingConfig{AddItemsMaxRetries: 1})
	_, err = exhausted.AddItems(context.Background(), fixture.Actor(), req)
	assert.ErrorIs(t, err, repository.ErrRetryable)

	other := mesa.NewService(&flakyStore{Store: store, failures: 1}, plan.AllowAll{}, events, nil, logger.NewNop(),
		config.BillingConfig{AddItemsMaxRetries: 3})
	_, err = other.AddItems(context.Background(), fixture.Actor(), req)
	assert.Error(t, err, "only ErrRetryable is retried")
}

type denyAll struct{}

func (denyAll) Check(context.Context, models.Venue, string) (plan.Decision, error) {
	return plan.Decision{Allowed: false, Reason: "plan_suspendido"}, nil
}

func TestAddItemsRequiresPlan(t *testing.T) {
	_, store := fixture.NewStore()
	svc := mesa.NewService(store, denyAll{}, &fixture.Events{}, nil, logger.NewNop(), config.BillingConfig{})
	_, err := svc.AddItems(context.Background(), fixture.Actor(), models.AddItemsRequest{
		TabRef: models.TableRef(1),
		Items:  []models.ItemInput{fixture.Item(fixture.ProductA, 1)},
	})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestMutationsRequirePlan(t *testing.T) {
	ctx := context.Background()
	_, store := fixture.NewStore()
	allowed := mesa.NewService(store, plan.AllowAll{}, &fixture.Events{}, nil, logger.NewNop(), config.BillingConfig{AddItemsMaxRetries: 3})
	actor := fixture.Actor()

	_, err := allowed.OpenTable(ctx, actor, models.OpenTableRequest{Number: 5})
	require.NoError(t, err)
	res, err := allowed.AddItems(ctx, actor, models.AddItemsRequest{
		TabRef: models.TableRef(5),
		Items:  []models.ItemInput{fixture.Item(fixture.ProductA, 2), fixture.Item(fixture.ProductB, 1)},
	})
	require.NoError(t, err)
	_, err = allowed.CreateTable(ctx, actor, models.CreateTableRequest{Number: 9, Capacity: 2})
	require.NoError(t, err)

	events := &fixture.Events{}
	denied := mesa.NewService(store, denyAll{}, events, nil, logger.NewNop(), config.BillingConfig{})

	before, err := allowed.GetOrder(ctx, actor.Venue, res.Order.ID)
	require.NoError(t, err)
	_, err = denied.RemoveOrCancelLine(ctx, actor, before.Lines[0].ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = denied.RequestBill(ctx, actor, models.TableRef(5))
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = denied.ReleaseTable(ctx, actor, 5)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = denied.AdvanceKitchen(ctx, actor, res.Order.ID, models.KitchenEnPreparacion)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = denied.CreateTable(ctx, actor, models.CreateTableRequest{Number: 10, Capacity: 2})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = denied.ChangeStatus(ctx, actor, 9, models.ChangeTableStatusRequest{Status: models.TableReservada})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.ErrorIs(t, denied.DeleteTable(ctx, actor, 9), apperr.ErrForbidden)

	table, err := allowed.GetTable(ctx, actor.Venue, 5)
	require.NoError(t, err)
	assert.Equal(t, models.TableEnUso, table.Status)
	assert.Equal(t, models.Cents(2200), table.AccumulatedTotal)
	order, err := allowed.GetOrder(ctx, actor.Venue, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Cents(2200), order.Total)
	assert.Equal(t, models.KitchenRecibido, order.KitchenStatus)
	spare, err := allowed.GetTable(ctx, actor.Venue, 9)
	require.NoError(t, err)
	assert.Equal(t, models.TableLibre, spare.Status)
	_, err = allowed.GetTable(ctx, actor.Venue, 10)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, events.All())
}

func TestCancelLineRecomputesTotal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.open(t, 5)
	e.add(t, 5, fixture.Item(fixture.ProductA, 2))
	res := e.add(t, 5, fixture.Item(fixture.ProductB, 1))

	order, err := e.service.GetOrder(ctx, e.actor.Venue, res.Order.ID)
	require.NoError(t, err)
	lineB := order.Lines[1]

	updated, err := e.service.RemoveOrCancelLine(ctx, e.actor, lineB.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Cents(1200), updated.Total)

	table, err := e.service.GetTable(ctx, e.actor.Venue, 5)
	require.NoError(t, err)
	assert.Equal(t, models.Cents(1200), table.AccumulatedTotal)

	_, err = e.service.RemoveOrCancelLine(ctx, e.actor, lineB.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = e.service.RemoveOrCancelLine(ctx, e.actor, 9999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	outsider := e.actor
	outsider.Venue = models.Venue{RestaurantID: 1, BranchID: 2}
	_, err = e.service.RemoveOrCancelLine(ctx, outsider, order.Lines[0].ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.Len(t, e.events.OfType(models.EventLineCancelled), 1)
}

func TestReleaseTable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.open(t, 5)
	res := e.add(t, 5, fixture.Item(fixture.ProductA, 1))

	_, err := e.service.ReleaseTable(ctx, e.actor, 5)
	require.ErrorIs(t, err, apperr.ErrConflict)

	_, err = e.service.RemoveOrCancelLine(ctx, e.actor, res.Order.Lines[0].ID)
	require.NoError(t, err)

	table, err := e.service.ReleaseTable(ctx, e.actor, 5)
	require.NoError(t, err)
	assert.Equal(t, models.TableLibre, table.Status)
	assert.Nil(t, table.ActiveOrderID)
	assert.Zero(t, table.AccumulatedTotal)

	order, err := e.service.GetOrder(ctx, e.actor.Venue, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BillingCancelada, order.Status)
	assert.Equal(t, models.KitchenCancelado, order.KitchenStatus)

	assert.Empty(t, e.mem.Violations())
}

func TestReleaseOpenTableWithoutOrder(t *testing.T) {
	e := newEnv(t)
	e.open(t, 8)

	table, err := e.service.ReleaseTable(context.Background(), e.actor, 8)
	require.NoError(t, err)
	assert.Equal(t, models.TableLibre, table.Status)
}

func TestRequestBillAndReopen(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.open(t, 4)
	e.add(t, 4, fixture.Item(fixture.ProductA, 1))

	billed, err := e.service.RequestBill(ctx, e.actor, models.TableRef(4))
	require.NoError(t, err)
	assert.Equal(t, models.BillingPendienteCobro, billed.Order.Status)
	assert.Equal(t, models.TablePendienteCobro, billed.Tables[0].Status)

	res := e.add(t, 4, fixture.Item(fixture.ProductA, 1))
	assert.Equal(t, models.BillingEnUso, res.Order.Status, "ordering more reopens the tab")
	assert.Equal(t, models.TableEnUso, res.Tables[0].Status)
	assert.Equal(t, models.Cents(1200), res.Order.Total)

	_, err = e.service.CreateTable(ctx, e.actor, models.CreateTableRequest{Number: 9, Capacity: 2})
	require.NoError(t, err)
	_, err = e.service.RequestBill(ctx, e.actor, models.TableRef(9))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestChangeStatus(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.service.CreateTable(ctx, e.actor, models.CreateTableRequest{Number: 3, Capacity: 4})
	require.NoError(t, err)

	table, err := e.service.ChangeStatus(ctx, e.actor, 3, models.ChangeTableStatusRequest{Status: models.TableReservada})
	require.NoError(t, err)
	assert.Equal(t, models.TableReservada, table.Status)

	_, err = e.service.ChangeStatus(ctx, e.actor, 3, models.ChangeTableStatusRequest{Status: models.TableMantenimiento})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = e.service.ChangeStatus(ctx, e.actor, 3, models.ChangeTableStatusRequest{Status: models.TableEnUso})
	assert.ErrorIs(t, err, apperr.ErrValidation, "occupancy is not set by hand")

	_, err = e.service.OpenTable(ctx, e.actor, models.OpenTableRequest{Number: 3})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "a reserved table is freed before it opens")

	_, err = e.service.ChangeStatus(ctx, e.actor, 3, models.ChangeTableStatusRequest{Status: models.TableLibre})
	require.NoError(t, err)
	e.open(t, 3)

	_, err = e.service.ChangeStatus(ctx, e.actor, 3, models.ChangeTableStatusRequest{Status: models.TableLibre})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestCreateAndDeleteTable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.service.CreateTable(ctx, e.actor, models.CreateTableRequest{Number: 10, Capacity: 2})
	require.NoError(t, err)
	_, err = e.service.CreateTable(ctx, e.actor, models.CreateTableRequest{Number: 10, Capacity: 2})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	require.NoError(t, e.service.DeleteTable(ctx, e.actor, 10))
	_, err = e.service.GetTable(ctx, e.actor.Venue, 10)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	e.open(t, 11)
	res := e.add(t, 11, fixture.Item(fixture.ProductA, 1))
	assert.ErrorIs(t, e.service.DeleteTable(ctx, e.actor, 11), apperr.ErrConflict)

	_, err = e.service.RemoveOrCancelLine(ctx, e.actor, res.Order.Lines[0].ID)
	require.NoError(t, err)
	_, err = e.service.ReleaseTable(ctx, e.actor, 11)
	require.NoError(t, err)
	assert.ErrorIs(t, e.service.DeleteTable(ctx, e.actor, 11), apperr.ErrConflict, "tables with order history are kept")
}

func TestStats(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.open(t, 1)
	e.add(t, 1, fixture.Item(fixture.ProductA, 1))
	e.open(t, 2)
	e.add(t, 2, fixture.Item(fixture.ProductB, 2))
	_, err := e.service.CreateTable(ctx, e.actor, models.CreateTableRequest{Number: 3, Capacity: 4})
	require.NoError(t, err)

	stats, err := e.service.Stats(ctx, e.actor.Venue)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStatus[string(models.TableEnUso)])
	assert.Equal(t, 1, stats.ByStatus[string(models.TableLibre)])
	assert.Equal(t, models.Cents(2600), stats.OccupiedTotal)

	tables, err := e.service.ListTables(ctx, models.Venue{RestaurantID: 3, BranchID: 1})
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestAdvanceKitchen(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.open(t, 6)
	res := e.add(t, 6, fixture.Item(fixture.ProductA, 1))
	id := res.Order.ID

	_, err := e.service.AdvanceKitchen(ctx, e.actor, id, models.KitchenEntregado)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	for _, s := range []models.KitchenStatus{models.KitchenEnPreparacion, models.KitchenListoParaServir, models.KitchenEntregado} {
		order, err := e.service.AdvanceKitchen(ctx, e.actor, id, s)
		require.NoError(t, err)
		assert.Equal(t, s, order.KitchenStatus)
		assert.Equal(t, models.BillingEnUso, order.Status, "only a paid order completes")
	}

	_, err = e.service.AdvanceKitchen(ctx, e.actor, id, "quemado")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	outsider := e.actor
	outsider.Venue = models.Venue{RestaurantID: 2, BranchID: 1}
	_, err = e.service.AdvanceKitchen(ctx, outsider, id, models.KitchenCancelado)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.Len(t, e.events.OfType(models.EventKitchenUpdated), 3)
}
