package guard

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/models"
)

func TestCanMoveTable(t *testing.T) {
	tests := []struct {
		from, to models.TableStatus
		want     bool
	}{
		{models.TableLibre, models.TableEnUso, true},
		{models.TableEnUso, models.TablePendienteCobro, true},
		{models.TablePendienteCobro, models.TableLibre, true},
		{models.TablePendienteCobro, models.TableEnUso, true},
		{models.TableEnUso, models.TableLibre, true},
		{models.TableLibre, models.TableReservada, true},
		{models.TableReservada, models.TableLibre, true},
		{models.TableMantenimiento, models.TableLibre, true},
		{models.TableEnUso, models.TableEnUso, true},
		{models.TableLibre, models.TablePendienteCobro, false},
		{models.TableReservada, models.TableEnUso, false},
		{models.TableMantenimiento, models.TableEnUso, false},
		{models.TableEnUso, models.TableReservada, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanMoveTable(tt.from, tt.to))
		})
	}
}

func TestBillingMachine(t *testing.T) {
	assert.True(t, CanMoveBilling(models.BillingEnUso, models.BillingPagado))
	assert.True(t, CanMoveBilling(models.BillingPendiente, models.BillingPagado))
	assert.True(t, CanMoveBilling(models.BillingPagado, models.BillingCompletada))
	assert.False(t, CanMoveBilling(models.BillingPagado, models.BillingEnUso))
	assert.False(t, CanMoveBilling(models.BillingFusionada, models.BillingEnUso))
	assert.False(t, CanMoveBilling(models.BillingCancelada, models.BillingPagado))
	assert.False(t, ValidBillingStatus("reabierta"))
}

func TestKitchenMachine(t *testing.T) {
	assert.True(t, CanMoveKitchen(models.KitchenRecibido, models.KitchenEnPreparacion))
	assert.True(t, CanMoveKitchen(models.KitchenListoParaServir, models.KitchenCancelado))
	assert.False(t, CanMoveKitchen(models.KitchenRecibido, models.KitchenEntregado))
	assert.False(t, CanMoveKitchen(models.KitchenEntregado, models.KitchenCancelado))
}

func TestCheckTransitionErrors(t *testing.T) {
	err := CheckTableTransition("change_status", models.TableMantenimiento, models.TableEnUso)
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition))

	e, ok := apperr.As(err)
	assert.True(t, ok)
	assert.Equal(t, "mantenimiento", e.Details["from"])
	assert.Equal(t, "en_uso", e.Details["to"])

	assert.NoError(t, CheckBillingTransition("settle", models.BillingPendienteCobro, models.BillingPagado))
	assert.Error(t, CheckKitchenTransition("kitchen", models.KitchenCancelado, models.KitchenRecibido))
}

func TestComposeBilling(t *testing.T) {
	assert.Equal(t, models.BillingCompletada, ComposeBilling(models.BillingPagado, models.KitchenEntregado))
	assert.Equal(t, models.BillingPagado, ComposeBilling(models.BillingPagado, models.KitchenListoParaServir))
	assert.Equal(t, models.BillingEnUso, ComposeBilling(models.BillingEnUso, models.KitchenEntregado))
}
