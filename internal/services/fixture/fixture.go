// Package fixture seeds an in-memory store for service tests and local runs.
package fixture

import (
	"context"
	"sync"

	"restaurant-pos/internal/guard"
	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/metrics"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/repository"
)

// Seed catalog
const (
	StaffID      int64 = 7
	OtherStaffID int64 = 8
	CashierID    int64 = 9

	ProductA int64 = 1
	ProductB int64 = 2
	ProductC int64 = 3

	Cash     int64 = 1
	Card     int64 = 2
	Disabled int64 = 6
)

var Venue = models.Venue{RestaurantID: 1, BranchID: 1}

// Seed fills mem with staff, products, payment methods and stock for Venue
func Seed(mem *repository.Memory) {
	mem.AddStaff(models.Staff{ID: StaffID, RestaurantID: 1, BranchID: 1, Name: "Ana Quispe", Role: "mesero", Active: true})
	mem.AddStaff(models.Staff{ID: OtherStaffID, RestaurantID: 1, BranchID: 1, Name: "Luis Mamani", Role: "mesero", Active: true})
	mem.AddStaff(models.Staff{ID: CashierID, RestaurantID: 1, BranchID: 0, Name: "Rosa Flores", Role: "cajero", Active: true})

	mem.AddProduct(models.Product{ID: ProductA, RestaurantID: 1, Name: "Salteña", Price: models.Cents(600), Active: true})
	mem.AddProduct(models.Product{ID: ProductB, RestaurantID: 1, Name: "Pique macho", Price: models.Cents(1000), Active: true})
	mem.AddProduct(models.Product{ID: ProductC, RestaurantID: 1, Name: "Api con pastel", Price: models.Cents(850), Active: true})
	mem.AddProduct(models.Product{ID: 90, RestaurantID: 2, Name: "Foreign", Price: models.Cents(100), Active: true})

	mem.AddPaymentMethod(models.PaymentMethod{ID: Cash, Label: "Efectivo", Active: true})
	mem.AddPaymentMethod(models.PaymentMethod{ID: Card, Label: "Tarjeta de Crédito", Active: true})
	mem.AddPaymentMethod(models.PaymentMethod{ID: Disabled, Label: "Cheque", Active: false})

	for _, p := range []int64{ProductA, ProductB, ProductC} {
		mem.SetStock(Venue.BranchID, p, 100)
	}
}

// NewStore returns a seeded memory store and the guarded store services should use
func NewStore() (*repository.Memory, repository.Store) {
	mem := repository.NewMemory()
	Seed(mem)
	return mem, guard.New(logger.NewNop(), metrics.New("test")).Wrap(mem)
}

func Actor() models.Actor {
	return models.Actor{Venue: Venue, StaffID: StaffID, RequestID: "test-request"}
}

func Item(productID int64, quantity int) models.ItemInput {
	return models.ItemInput{ProductID: productID, Quantity: quantity}
}

// Events records published events
type Events struct {
	mu     sync.Mutex
	events []*models.Event
}

func (e *Events) Publish(_ context.Context, event *models.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *Events) All() []*models.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*models.Event(nil), e.events...)
}

// OfType returns the recorded events of one type
func (e *Events) OfType(t models.EventType) []*models.Event {
	var out []*models.Event
	for _, ev := range e.All() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
