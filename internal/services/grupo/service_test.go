package grupo_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/config"
	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/plan"
	"restaurant-pos/internal/repository"
	"restaurant-pos/internal/services/fixture"
	"restaurant-pos/internal/services/grupo"
	"restaurant-pos/internal/services/mesa"
)

type env struct {
	mem    *repository.Memory
	store  repository.Store
	groups *grupo.Service
	mesas  *mesa.Service
	events *fixture.Events
	actor  models.Actor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem, store := fixture.NewStore()
	events := &fixture.Events{}
	return &env{
		mem:    mem,
		store:  store,
		groups: grupo.NewService(store, plan.AllowAll{}, events, nil, logger.NewNop()),
		mesas:  mesa.NewService(store, plan.AllowAll{}, events, nil, logger.NewNop(), config.BillingConfig{AddItemsMaxRetries: 3}),
		events: events,
		actor:  fixture.Actor(),
	}
}

func (e *env) open(t *testing.T, numbers ...int) {
	t.Helper()
	for _, n := range numbers {
		_, err := e.mesas.OpenTable(context.Background(), e.actor, models.OpenTableRequest{Number: n})
		require.NoError(t, err)
	}
}

func (e *env) add(t *testing.T, ref models.TabRef, items ...models.ItemInput) *mesa.AddItemsResult {
	t.Helper()
	res, err := e.mesas.AddItems(context.Background(), e.actor, models.AddItemsRequest{TabRef: ref, Items: items})
	require.NoError(t, err)
	return res
}

func (e *env) table(t *testing.T, number int) *models.Table {
	t.Helper()
	table, err := e.mesas.GetTable(context.Background(), e.actor.Venue, number)
	require.NoError(t, err)
	return table
}

func (e *env) order(t *testing.T, id int64) *models.Order {
	t.Helper()
	order, err := e.mesas.GetOrder(context.Background(), e.actor.Venue, id)
	require.NoError(t, err)
	return order
}

func TestMergeAndSplitTablesThreeAndFour(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.open(t, 3, 4)

	group, err := e.groups.MergeTables(ctx, e.actor, models.MergeTablesRequest{TableNumbers: []int{3, 4}})
	require.NoError(t, err)
	assert.Equal(t, models.GroupAbierto, group.Status)
	require.Len(t, group.Tables, 2)
	assert.NotZero(t, group.PrimaryOrderID)

	primary := e.order(t, group.PrimaryOrderID)
	assert.Equal(t, models.BillingAbierta, primary.Status)
	assert.Nil(t, primary.TableID)
	assert.Equal(t, group.ID, *primary.GroupID)

	e.add(t, models.GroupRef(group.ID), fixture.Item(fixture.ProductA, 2))
	res := e.add(t, models.TableRef(4), fixture.Item(fixture.ProductB, 1))
	assert.Equal(t, group.PrimaryOrderID, res.Order.ID, "a grouped table adds to the group tab")
	assert.Equal(t, models.Cents(2200), res.Order.Total)
	for _, n := range []int{3, 4} {
		assert.Equal(t, models.Cents(2200), e.table(t, n).AccumulatedTotal, "table %d carries the group total", n)
	}

	lines := res.Order.Lines
	require.Len(t, lines, 2)
	result, err := e.groups.SplitGroup(ctx, e.actor, group.ID, models.SplitGroupRequest{
		Assignments: map[int][]int64{3: {lines[0].ID}, 4: {lines[1].ID}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.GroupCerrado, result.Group.Status)
	require.Len(t, result.Orders, 2)
	assert.Equal(t, models.Cents(1200), result.Totals[3])
	assert.Equal(t, models.Cents(1000), result.Totals[4])

	three, four := e.table(t, 3), e.table(t, 4)
	assert.Nil(t, three.GroupID)
	assert.Nil(t, four.GroupID)
	assert.Equal(t, group.PrimaryOrderID, *three.ActiveOrderID, "the lowest table keeps the primary order")
	assert.Equal(t, models.Cents(1200), three.AccumulatedTotal)
	assert.Equal(t, models.Cents(1000), four.AccumulatedTotal)

	threeOrder := e.order(t, *three.ActiveOrderID)
	fourOrder := e.order(t, *four.ActiveOrderID)
	assert.Equal(t, models.SumLines(threeOrder.Lines), threeOrder.Total)
	assert.Equal(t, models.SumLines(fourOrder.Lines), fourOrder.Total)
	assert.Equal(t, res.Order.Total, threeOrder.Total+fourOrder.Total, "split keeps the group total")
	assert.Nil(t, threeOrder.GroupID)

	assert.Len(t, e.events.OfType(models.EventTablesMerged), 1)
	assert.Len(t, e.events.OfType(models.EventGroupSplit), 1)
	assert.Empty(t, e.mem.Violations())
}

func TestMergeWithSurvivingOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.open(t, 1, 2)
	first := e.add(t, models.TableRef(1), fixture.Item(fixture.ProductA, 1))
	second := e.add(t, models.TableRef(2), fixture.Item(fixture.ProductB, 2))

	_, err := e.groups.MergeTables(ctx, e.actor, models.MergeTablesRequest{TableNumbers: []int{1, 2}})
	require.ErrorIs(t, err, apperr.ErrConflict, "two tabs with items need a surviving order")

	stranger := int64(9999)
	_, err = e.groups.MergeTables(ctx, e.actor, models.MergeTablesRequest{TableNumbers: []int{1, 2}, SurvivingOrderID: &stranger})
	require.ErrorIs(t, err, apperr.ErrValidation)

	survivor := second.Order.ID
	group, err := e.groups.MergeTables(ctx, e.actor, models.MergeTablesRequest{TableNumbers: []int{1, 2}, SurvivingOrderID: &survivor})
	require.NoError(t, err)
	assert.Equal(t, survivor, group.PrimaryOrderID)
	assert.Equal(t, models.Cents(2600), group.Total)

	absorbed := e.order(t, first.Order.ID)
	assert.Equal(t, models.BillingFusionada, absorbed.Status)
	assert.Zero(t, absorbed.Total)
	assert.Empty(t, absorbed.Lines)

	primary := e.order(t, survivor)
	assert.Len(t, primary.Lines, 2)
	assert.Equal(t, models.Cents(2600), primary.Total)
	for _, n := range []int{1, 2} {
		table := e.table(t, n)
		assert.Equal(t, survivor, *table.ActiveOrderID)
		assert.Equal(t, group.ID, *table.GroupID)
	}
}

func TestMergeKeepsSingleTabWithItems(t *testing.T) {
	e := newEnv(t)
	e.open(t, 7, 8)
	res := e.add(t, models.TableRef(8), fixture.Item(fixture.ProductC, 2))

	group, err := e.groups.MergeTables(context.Background(), e.actor, models.MergeTablesRequest{TableNumbers: []int{7, 8}})
	require.NoError(t, err)
	assert.Equal(t, res.Order.ID, group.PrimaryOrderID)
	assert.Equal(t, models.Cents(1700), e.table(t, 7).AccumulatedTotal)
}

func TestMergeRejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.open(t, 1, 2, 3)
	_, err := e.groups.MergeTables(ctx, e.actor, models.MergeTablesRequest{TableNumbers: []int{1, 2}})
	require.NoError(t, err)
	_, err = e.mesas.CreateTable(ctx, e.actor, models.CreateTableRequest{Number: 5, Capacity: 2})
	require.NoError(t, err)
	_, err = e.mesas.ChangeStatus(ctx, e.actor, 5, models.ChangeTableStatusRequest{Status: models.TableReservada})
	require.NoError(t, err)

	tests := []struct {
		name    string
		numbers []int
		want    error
	}{
		{name: "single table", numbers: []int{3}, want: apperr.ErrValidation},
		{name: "repeated table", numbers: []int{3, 3}, want: apperr.ErrValidation},
		{name: "already grouped", numbers: []int{2, 3}, want: apperr.ErrConflict},
		{name: "unknown table", numbers: []int{3, 60}, want: apperr.ErrNotFound},
		{name: "reserved table", numbers: []int{3, 5}, want: apperr.ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.groups.MergeTables(ctx, e.actor, models.MergeTablesRequest{TableNumbers: tt.numbers})
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Nil(t, e.table(t, 3).GroupID)
}

func TestSplitValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.open(t, 3, 4)
	group, err := e.groups.MergeTables(ctx, e.actor, models.MergeTablesRequest{TableNumbers: []int{3, 4}})
	require.NoError(t, err)
	res := e.add(t, models.GroupRef(group.ID), fixture.Item(fixture.ProductA, 1), fixture.Item(fixture.ProductB, 1))
	a, b := res.Order.Lines[0].ID, res.Order.Lines[1].ID

	tests := []struct {
		name        string
		assignments map[int][]int64
	}{
		{name: "missing line", assignments: map[int][]int64{3: {a}}},
		{name: "unknown line", assignments: map[int][]int64{3: {a, b, 999}}},
		{name: "foreign table", assignments: map[int][]int64{3: {a}, 9: {b}}},
		{name: "duplicate line", assignments: map[int][]int64{3: {a, b}, 4: {b}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.groups.SplitGroup(ctx, e.actor, group.ID, models.SplitGroupRequest{Assignments: tt.assignments})
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}

	still, err := e.groups.GetGroup(ctx, e.actor.Venue, group.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GroupAbierto, still.Status)
	assert.Equal(t, models.Cents(1600), still.Total)
}

func TestSplitKeepsCancelledLinesOnPrimary(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.open(t, 3, 4, 5)
	group, err := e.groups.MergeTables(ctx, e.actor, models.MergeTablesRequest{TableNumbers: []int{3, 4, 5}})
	require.NoError(t, err)
	res := e.add(t, models.GroupRef(group.ID),
		fixture.Item(fixture.ProductA, 1), fixture.Item(fixture.ProductB, 1), fixture.Item(fixture.ProductC, 1))
	a, b, c := res.Order.Lines[0].ID, res.Order.Lines[1].ID, res.Order.Lines[2].ID
	_, err = e.mesas.RemoveOrCancelLine(ctx, e.actor, a)
	require.NoError(t, err)

	result, err := e.groups.SplitGroup(ctx, e.actor, group.ID, models.SplitGroupRequest{
		Assignments: map[int][]int64{4: {b}, 5: {c}},
	})
	require.NoError(t, err)

	three := e.table(t, 3)
	assert.Equal(t, models.TableLibre, three.Status, "a table without lines is released")
	assert.Nil(t, three.ActiveOrderID)

	four := e.table(t, 4)
	assert.Equal(t, group.PrimaryOrderID, *four.ActiveOrderID, "the lowest table with lines keeps the primary")
	primary := e.order(t, group.PrimaryOrderID)
	assert.Len(t, primary.Lines, 2, "cancelled line stays with the primary order")
	assert.Equal(t, models.Cents(1000), primary.Total)
	assert.Equal(t, models.Cents(850), e.table(t, 5).AccumulatedTotal)
	assert.Equal(t, models.Cents(0), result.Totals[3])
}

func TestAddAndRemoveTable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.open(t, 1, 2, 3)
	group, err := e.groups.MergeTables(ctx, e.actor, models.MergeTablesRequest{TableNumbers: []int{1, 2}})
	require.NoError(t, err)
	e.add(t, models.GroupRef(group.ID), fixture.Item(fixture.ProductA, 3))

	e.add(t, models.TableRef(3), fixture.Item(fixture.ProductB, 1))
	_, err = e.groups.AddTableToGroup(ctx, e.actor, group.ID, models.GroupTableRequest{Number: 3})
	require.ErrorIs(t, err, apperr.ErrConflict, "a table with its own items is merged, not added")

	_, err = e.mesas.CreateTable(ctx, e.actor, models.CreateTableRequest{Number: 6, Capacity: 2})
	require.NoError(t, err)
	grown, err := e.groups.AddTableToGroup(ctx, e.actor, group.ID, models.GroupTableRequest{Number: 6})
	require.NoError(t, err)
	assert.Len(t, grown.Tables, 3)
	six := e.table(t, 6)
	assert.Equal(t, models.TableEnUso, six.Status)
	assert.Equal(t, models.Cents(1800), six.AccumulatedTotal)
	assert.Equal(t, group.PrimaryOrderID, *six.ActiveOrderID)

	shrunk, err := e.groups.RemoveTableFromGroup(ctx, e.actor, group.ID, models.GroupTableRequest{Number: 1})
	require.NoError(t, err)
	assert.Len(t, shrunk.Tables, 2)
	assert.Equal(t, models.Cents(1800), shrunk.Total, "the tab stays with the group")
	one := e.table(t, 1)
	assert.Equal(t, models.TableLibre, one.Status)
	assert.Nil(t, one.GroupID)

	_, err = e.groups.RemoveTableFromGroup(ctx, e.actor, group.ID, models.GroupTableRequest{Number: 2})
	assert.ErrorIs(t, err, apperr.ErrConflict, "a group never drops below two tables")

	_, err = e.groups.RemoveTableFromGroup(ctx, e.actor, group.ID, models.GroupTableRequest{Number: 1})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, e.mem.Violations())
}

func TestUngroup(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.open(t, 8, 9)
	group, err := e.groups.MergeTables(ctx, e.actor, models.MergeTablesRequest{TableNumbers: []int{9, 8}})
	require.NoError(t, err)
	e.add(t, models.TableRef(9), fixture.Item(fixture.ProductA, 1), fixture.Item(fixture.ProductB, 1))

	result, err := e.groups.Ungroup(ctx, e.actor, group.ID, models.UngroupRequest{TableNumber: 9})
	require.NoError(t, err)
	require.Len(t, result.Orders, 1)
	assert.Equal(t, models.Cents(1600), result.Totals[9])
	assert.Equal(t, models.TableLibre, e.table(t, 8).Status)
	assert.Equal(t, models.Cents(1600), e.table(t, 9).AccumulatedTotal)

	_, err = e.groups.Ungroup(ctx, e.actor, group.ID, models.UngroupRequest{})
	assert.ErrorIs(t, err, apperr.ErrConflict, "a closed group cannot be ungrouped twice")

	active, err := e.groups.ListActiveGroups(ctx, e.actor.Venue)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestGetGroup(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.open(t, 1, 2)
	group, err := e.groups.MergeTables(ctx, e.actor, models.MergeTablesRequest{TableNumbers: []int{1, 2}})
	require.NoError(t, err)

	got, err := e.groups.GetGroup(ctx, e.actor.Venue, group.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, []int{got.Tables[0].Number, got.Tables[1].Number})

	active, err := e.groups.ListActiveGroups(ctx, e.actor.Venue)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, group.ID, active[0].ID)

	_, err = e.groups.GetGroup(ctx, models.Venue{RestaurantID: 1, BranchID: 9}, group.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// staleStore serves one outdated copy of a table to the first unlocked read,
// as if a concurrent split committed right after that read
type staleStore struct {
	repository.Store
	mu    sync.Mutex
	stale *models.Table
	reads int
}

func (s *staleStore) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx repository.Tx) error {
		return fn(&staleTx{Tx: tx, s: s})
	})
}

type staleTx struct {
	repository.Tx
	s *staleStore
}

func (tx *staleTx) GetTableByNumber(ctx context.Context, venue models.Venue, number int) (*models.Table, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if tx.s.stale != nil && tx.s.stale.Number == number {
		tx.s.reads++
		stale := *tx.s.stale
		tx.s.stale = nil
		return &stale, nil
	}
	return tx.Tx.GetTableByNumber(ctx, venue, number)
}

func TestAddItemsRetriesWhenGroupSplitUnderneath(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.open(t, 3, 4)
	group, err := e.groups.MergeTables(ctx, e.actor, models.MergeTablesRequest{TableNumbers: []int{3, 4}})
	require.NoError(t, err)
	res := e.add(t, models.GroupRef(group.ID), fixture.Item(fixture.ProductA, 1), fixture.Item(fixture.ProductB, 1))
	beforeSplit := e.table(t, 4)
	require.NotNil(t, beforeSplit.GroupID)

	lines := res.Order.Lines
	_, err = e.groups.SplitGroup(ctx, e.actor, group.ID, models.SplitGroupRequest{
		Assignments: map[int][]int64{3: {lines[0].ID}, 4: {lines[1].ID}},
	})
	require.NoError(t, err)

	stale := &staleStore{Store: e.store, stale: beforeSplit}
	mesas := mesa.NewService(stale, plan.AllowAll{}, e.events, nil, logger.NewNop(), config.BillingConfig{AddItemsMaxRetries: 3})
	added, err := mesas.AddItems(ctx, e.actor, models.AddItemsRequest{
		TabRef: models.TableRef(4),
		Items:  []models.ItemInput{fixture.Item(fixture.ProductC, 1)},
	})
	require.NoError(t, err, "the closed group is retried, not reported")
	assert.Equal(t, 1, stale.reads)

	four := e.table(t, 4)
	assert.Nil(t, four.GroupID)
	assert.Equal(t, *four.ActiveOrderID, added.Order.ID)
	assert.Equal(t, models.Cents(1000+850), added.Order.Total)
	assert.Equal(t, models.Cents(600), e.table(t, 3).AccumulatedTotal)
	assert.Empty(t, e.mem.Violations())
}
