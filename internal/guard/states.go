package guard

import (
	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/models"
)

// StatesVersion is bumped whenever a state or transition is added or removed.
// Postgres CHECK constraints in migrations mirror these sets.
const StatesVersion = 3

var tableTransitions = map[models.TableStatus][]models.TableStatus{
	models.TableLibre:          {models.TableEnUso, models.TableReservada, models.TableMantenimiento},
	models.TableEnUso:          {models.TablePendienteCobro, models.TableLibre},
	models.TablePendienteCobro: {models.TableLibre, models.TableEnUso},
	models.TableReservada:      {models.TableLibre},
	models.TableMantenimiento:  {models.TableLibre},
}

var billingTransitions = map[models.BillingStatus][]models.BillingStatus{
	models.BillingAbierta: {
		models.BillingEnUso, models.BillingPendienteCobro, models.BillingPagado,
		models.BillingPendiente, models.BillingCancelada, models.BillingFusionada,
	},
	models.BillingEnUso: {
		models.BillingPendienteCobro, models.BillingPagado, models.BillingPendiente,
		models.BillingCancelada, models.BillingFusionada,
	},
	models.BillingPendienteCobro: {
		models.BillingEnUso, models.BillingPagado, models.BillingPendiente,
		models.BillingCancelada, models.BillingFusionada,
	},
	models.BillingPendiente:  {models.BillingPagado},
	models.BillingPagado:     {models.BillingCompletada},
	models.BillingCompletada: nil,
	models.BillingCancelada:  nil,
	models.BillingFusionada:  nil,
}

var kitchenTransitions = map[models.KitchenStatus][]models.KitchenStatus{
	models.KitchenRecibido:        {models.KitchenEnPreparacion, models.KitchenCancelado},
	models.KitchenEnPreparacion:   {models.KitchenListoParaServir, models.KitchenCancelado},
	models.KitchenListoParaServir: {models.KitchenEntregado, models.KitchenCancelado},
	models.KitchenEntregado:       nil,
	models.KitchenCancelado:       nil,
}

func ValidTableStatus(s models.TableStatus) bool {
	_, ok := tableTransitions[s]
	return ok
}

func ValidBillingStatus(s models.BillingStatus) bool {
	_, ok := billingTransitions[s]
	return ok
}

func ValidKitchenStatus(s models.KitchenStatus) bool {
	_, ok := kitchenTransitions[s]
	return ok
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// CanMoveTable reports whether from → to is in the table graph. Staying put is always allowed.
func CanMoveTable(from, to models.TableStatus) bool {
	return from == to || contains(tableTransitions[from], to)
}

func CanMoveBilling(from, to models.BillingStatus) bool {
	return from == to || contains(billingTransitions[from], to)
}

func CanMoveKitchen(from, to models.KitchenStatus) bool {
	return from == to || contains(kitchenTransitions[from], to)
}

// CheckTableTransition returns InvalidTransitionError when from → to is outside the graph
func CheckTableTransition(op string, from, to models.TableStatus) error {
	if !CanMoveTable(from, to) {
		return apperr.InvalidTransition(op, "table", string(from), string(to))
	}
	return nil
}

func CheckBillingTransition(op string, from, to models.BillingStatus) error {
	if !CanMoveBilling(from, to) {
		return apperr.InvalidTransition(op, "order", string(from), string(to))
	}
	return nil
}

func CheckKitchenTransition(op string, from, to models.KitchenStatus) error {
	if !CanMoveKitchen(from, to) {
		return apperr.InvalidTransition(op, "kitchen", string(from), string(to))
	}
	return nil
}

// ComposeBilling applies the single cross-machine rule: a paid order whose
// kitchen work is delivered is complete.
func ComposeBilling(billing models.BillingStatus, kitchen models.KitchenStatus) models.BillingStatus {
	if billing == models.BillingPagado && kitchen == models.KitchenEntregado {
		return models.BillingCompletada
	}
	return billing
}
