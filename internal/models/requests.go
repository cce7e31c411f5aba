package models

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxTableNumber    = 999
	MaxTableCapacity  = 50
	MaxItemsPerCall   = 50
	MaxLineQuantity   = 100
	MaxNotesLength    = 255
	MaxTablesPerGroup = 20
)

// Actor identifies who performs an operation and where
type Actor struct {
	Venue     Venue
	StaffID   int64
	RequestID string
}

// TabRef points at either a table (by number) or a group
type TabRef struct {
	TableNumber *int   `json:"table_number,omitempty"`
	GroupID     *int64 `json:"group_id,omitempty"`
}

func TableRef(number int) TabRef {
	return TabRef{TableNumber: &number}
}

func GroupRef(id int64) TabRef {
	return TabRef{GroupID: &id}
}

// Validate requires exactly one of table_number or group_id
func (r TabRef) Validate() error {
	switch {
	case r.TableNumber == nil && r.GroupID == nil:
		return fmt.Errorf("either table_number or group_id is required")
	case r.TableNumber != nil && r.GroupID != nil:
		return fmt.Errorf("table_number and group_id are mutually exclusive")
	case r.TableNumber != nil:
		return validateTableNumber(*r.TableNumber)
	default:
		if *r.GroupID <= 0 {
			return fmt.Errorf("group_id must be positive")
		}
	}
	return nil
}

func (r TabRef) String() string {
	if r.TableNumber != nil {
		return fmt.Sprintf("mesa %d", *r.TableNumber)
	}
	if r.GroupID != nil {
		return fmt.Sprintf("grupo %d", *r.GroupID)
	}
	return "sin referencia"
}

type OpenTableRequest struct {
	Number          int    `json:"number"`
	Capacity        int    `json:"capacity,omitempty"`
	ExpectedOrderID *int64 `json:"expected_order_id,omitempty"`
}

func (r *OpenTableRequest) Validate() error {
	if err := validateTableNumber(r.Number); err != nil {
		return err
	}
	return validateCapacity(r.Capacity, true)
}

type CreateTableRequest struct {
	Number   int `json:"number"`
	Capacity int `json:"capacity"`
}

func (r *CreateTableRequest) Validate() error {
	if err := validateTableNumber(r.Number); err != nil {
		return err
	}
	return validateCapacity(r.Capacity, false)
}

type ChangeTableStatusRequest struct {
	Status TableStatus `json:"status"`
}

// Validate only allows the manual statuses; occupancy is driven by tabs
func (r *ChangeTableStatusRequest) Validate() error {
	switch r.Status {
	case TableLibre, TableReservada, TableMantenimiento:
		return nil
	default:
		return fmt.Errorf("status must be one of: libre, reservada, mantenimiento")
	}
}

// ItemInput is one product requested in an AddItems call
type ItemInput struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice *Money `json:"unit_price,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

type AddItemsRequest struct {
	TabRef
	Items []ItemInput `json:"items"`
}

func (r *AddItemsRequest) Validate() error {
	if err := r.TabRef.Validate(); err != nil {
		return err
	}
	return validateItems(r.Items)
}

type MergeTablesRequest struct {
	TableNumbers     []int  `json:"table_numbers"`
	SurvivingOrderID *int64 `json:"surviving_order_id,omitempty"`
}

func (r *MergeTablesRequest) Validate() error {
	if len(r.TableNumbers) < 2 {
		return fmt.Errorf("at least two tables are required to merge")
	}
	if len(r.TableNumbers) > MaxTablesPerGroup {
		return fmt.Errorf("a group cannot contain more than %d tables", MaxTablesPerGroup)
	}
	seen := make(map[int]bool, len(r.TableNumbers))
	for _, n := range r.TableNumbers {
		if err := validateTableNumber(n); err != nil {
			return err
		}
		if seen[n] {
			return fmt.Errorf("table %d listed twice", n)
		}
		seen[n] = true
	}
	return nil
}

// SplitGroupRequest assigns every active line of the group tab to one member table
type SplitGroupRequest struct {
	Assignments map[int][]int64 `json:"assignments"`
}

func (r *SplitGroupRequest) Validate() error {
	if len(r.Assignments) == 0 {
		return fmt.Errorf("assignments cannot be empty")
	}
	seen := make(map[int64]int)
	for table, lines := range r.Assignments {
		if err := validateTableNumber(table); err != nil {
			return err
		}
		for _, id := range lines {
			if id <= 0 {
				return fmt.Errorf("line id must be positive, got %d", id)
			}
			if prev, dup := seen[id]; dup {
				return fmt.Errorf("line %d assigned to both table %d and table %d", id, prev, table)
			}
			seen[id] = table
		}
	}
	return nil
}

// GroupTableRequest names the table joining or leaving a group
type GroupTableRequest struct {
	Number int `json:"number"`
}

func (r *GroupTableRequest) Validate() error {
	return validateTableNumber(r.Number)
}

// UngroupRequest moves every line to one member table; zero picks the lowest number
type UngroupRequest struct {
	TableNumber int `json:"table_number,omitempty"`
}

func (r *UngroupRequest) Validate() error {
	if r.TableNumber == 0 {
		return nil
	}
	return validateTableNumber(r.TableNumber)
}

type InvoiceData struct {
	TaxID        string `json:"nit"`
	BusinessName string `json:"business_name"`
}

type SettleOptions struct {
	Deferred      bool         `json:"deferred,omitempty"`
	Invoice       *InvoiceData `json:"invoice,omitempty"`
	ExpectedTotal *Money       `json:"expected_total,omitempty"`
}

type SettleRequest struct {
	TabRef
	PaymentMethodID int64         `json:"payment_method_id"`
	Options         SettleOptions `json:"options"`
}

func (r *SettleRequest) Validate() error {
	if err := r.TabRef.Validate(); err != nil {
		return err
	}
	if r.PaymentMethodID <= 0 {
		return fmt.Errorf("payment_method_id is required")
	}
	return r.Options.validate()
}

func (o SettleOptions) validate() error {
	inv := o.Invoice
	if inv == nil {
		return nil
	}
	if inv.TaxID == "" {
		return fmt.Errorf("invoice.nit is required")
	}
	if inv.BusinessName == "" {
		return fmt.Errorf("invoice.business_name is required")
	}
	if utf8.RuneCountInString(inv.BusinessName) > 150 {
		return fmt.Errorf("invoice.business_name must not exceed 150 characters")
	}
	return nil
}

// DirectSaleRequest is a counter or delivery sale charged without a table
type DirectSaleRequest struct {
	ServiceType     ServiceType   `json:"service_type"`
	Items           []ItemInput   `json:"items"`
	PaymentMethodID int64         `json:"payment_method_id"`
	Options         SettleOptions `json:"options"`
}

// Validate defaults an empty service type to mostrador
func (r *DirectSaleRequest) Validate() error {
	switch r.ServiceType {
	case "":
		r.ServiceType = ServiceMostrador
	case ServiceMostrador, ServiceDelivery:
	default:
		return fmt.Errorf("service_type must be one of: mostrador, delivery")
	}
	if err := validateItems(r.Items); err != nil {
		return err
	}
	if r.PaymentMethodID <= 0 {
		return fmt.Errorf("payment_method_id is required")
	}
	return r.Options.validate()
}

func validateTableNumber(n int) error {
	if n < 1 || n > MaxTableNumber {
		return fmt.Errorf("table number must be between 1 and %d", MaxTableNumber)
	}
	return nil
}

func validateCapacity(c int, optional bool) error {
	if c == 0 && optional {
		return nil
	}
	if c < 1 || c > MaxTableCapacity {
		return fmt.Errorf("capacity must be between 1 and %d", MaxTableCapacity)
	}
	return nil
}

// validateItems validates the requested items
func validateItems(items []ItemInput) error {
	if len(items) == 0 {
		return fmt.Errorf("items array cannot be empty")
	}
	if len(items) > MaxItemsPerCall {
		return fmt.Errorf("items array cannot contain more than %d items", MaxItemsPerCall)
	}

	for i, item := range items {
		prefix := fmt.Sprintf("items[%d]", i)
		if item.ProductID <= 0 {
			return fmt.Errorf("%s.product_id is required", prefix)
		}
		if item.Quantity < 1 || item.Quantity > MaxLineQuantity {
			return fmt.Errorf("%s.quantity must be between 1 and %d", prefix, MaxLineQuantity)
		}
		if item.UnitPrice != nil && *item.UnitPrice < 0 {
			return fmt.Errorf("%s.unit_price must not be negative", prefix)
		}
		if utf8.RuneCountInString(item.Notes) > MaxNotesLength {
			return fmt.Errorf("%s.notes must not exceed %d characters", prefix, MaxNotesLength)
		}
	}

	return nil
}
