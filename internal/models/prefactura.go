package models

import "time"

type PrefacturaStatus string

const (
	PrefacturaAbierta          PrefacturaStatus = "abierta"
	PrefacturaSinCuentaAbierta PrefacturaStatus = "sin_cuenta_abierta"
)

// TaxRule describes how tax relates to line prices
type TaxRule struct {
	Name      string `json:"name"`
	RateBP    int64  `json:"rate_bp"`
	Inclusive bool   `json:"inclusive"`
}

// Apply splits a line total into subtotal, tax and grand total
func (r TaxRule) Apply(lineTotal Money) (subtotal, tax, total Money) {
	if r.Inclusive {
		tax = TaxIncluded(lineTotal, r.RateBP)
		return lineTotal - tax, tax, lineTotal
	}
	tax = TaxOn(lineTotal, r.RateBP)
	return lineTotal, tax, lineTotal + tax
}

type PrefacturaLine struct {
	LineID      int64  `json:"line_id"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   Money  `json:"unit_price"`
	Subtotal    Money  `json:"subtotal"`
	Notes       string `json:"notes,omitempty"`
}

// Prefactura is a non-binding bill preview. It is never persisted.
type Prefactura struct {
	Status       PrefacturaStatus `json:"status"`
	Venue        Venue            `json:"venue"`
	TableNumbers []int            `json:"table_numbers"`
	GroupID      *int64           `json:"group_id,omitempty"`
	OrderID      *int64           `json:"order_id,omitempty"`
	OpenedAt     *time.Time       `json:"opened_at,omitempty"`
	Lines        []PrefacturaLine `json:"lines"`
	Subtotal     Money            `json:"subtotal"`
	Tax          Money            `json:"tax"`
	Total        Money            `json:"total"`
	TaxRule      TaxRule          `json:"tax_rule"`
	GeneratedAt  time.Time        `json:"generated_at"`
}

// HasOpenTab distinguishes "table not open" from "nothing ordered yet"
func (p *Prefactura) HasOpenTab() bool {
	return p.Status == PrefacturaAbierta
}
