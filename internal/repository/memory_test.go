package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-pos/internal/models"
	"restaurant-pos/internal/repository"
)

var memVenue = models.Venue{RestaurantID: 1, BranchID: 1}

func TestMemory_ViolationsSurviveTransactions(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemory()

	tests := []struct {
		name  string
		txErr error
	}{
		{name: "commit"},
		{name: "rollback", txErr: errors.New("rolled back")},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorded := make(chan struct{})
			err := mem.WithTx(ctx, func(tx repository.Tx) error {
				go func() {
					_ = mem.RecordViolation(ctx, models.IntegrityViolation{Rule: tt.name, Entity: "table", EntityID: int64(i)})
					close(recorded)
				}()
				<-recorded
				return tt.txErr
			})
			if tt.txErr != nil {
				require.ErrorIs(t, err, tt.txErr)
			} else {
				require.NoError(t, err)
			}

			violations := mem.Violations()
			require.Len(t, violations, i+1)
			assert.Equal(t, tt.name, violations[i].Rule)
			assert.False(t, violations[i].CreatedAt.IsZero())
		})
	}
}

func TestMemory_LatestOrderForTable(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemory()

	var tableA, tableB, tableC int64
	require.NoError(t, mem.WithTx(ctx, func(tx repository.Tx) error {
		ids := make([]int64, 0, 3)
		for n := 1; n <= 3; n++ {
			table := &models.Table{Venue: memVenue, Number: n, Capacity: 4, Status: models.TableLibre}
			if err := tx.InsertTable(ctx, table); err != nil {
				return err
			}
			ids = append(ids, table.ID)
		}
		tableA, tableB, tableC = ids[0], ids[1], ids[2]

		first := &models.Order{Venue: memVenue, Status: models.BillingPagado, ServiceType: models.ServiceMesa, TableID: &tableA, StaffID: 7}
		if err := tx.InsertOrder(ctx, first); err != nil {
			return err
		}
		shared := &models.Order{Venue: memVenue, Status: models.BillingPendiente, ServiceType: models.ServiceMesa, StaffID: 7}
		if err := tx.InsertOrder(ctx, shared); err != nil {
			return err
		}
		group := &models.Group{Venue: memVenue, PrimaryOrderID: shared.ID, StaffID: 7, Status: models.GroupCerrado, TableIDs: []int64{tableA, tableB}}
		if err := tx.InsertGroup(ctx, group); err != nil {
			return err
		}
		groupID := group.ID
		shared.GroupID = &groupID
		if err := tx.UpdateOrder(ctx, shared); err != nil {
			return err
		}
		return tx.InsertOrder(ctx, &models.Order{Venue: memVenue, Status: models.BillingPagado, ServiceType: models.ServiceMostrador, StaffID: 7})
	}))

	require.NoError(t, mem.ReadSnapshot(ctx, func(r repository.Reader) error {
		for _, id := range []int64{tableA, tableB} {
			order, err := r.LatestOrderForTable(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, models.BillingPendiente, order.Status, "the group order is the latest for every member")
			require.NotNil(t, order.GroupID)
		}
		_, err := r.LatestOrderForTable(ctx, tableC)
		assert.ErrorIs(t, err, repository.ErrNotFound)
		return nil
	}))
}
