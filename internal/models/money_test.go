package models

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in      string
		want    Money
		wantErr bool
	}{
		{in: "6", want: 600},
		{in: "6.5", want: 650},
		{in: "6.05", want: 605},
		{in: "0.10", want: 10},
		{in: ".75", want: 75},
		{in: "-1.25", want: -125},
		{in: "1.234", wantErr: true},
		{in: "1.", wantErr: true},
		{in: "1e3", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
		{in: "92233720368547758.07", want: Money(math.MaxInt64)},
		{in: "92233720368547758.08", wantErr: true},
		{in: "92233720368547759", wantErr: true},
		{in: "-92233720368547758.07", want: Money(-math.MaxInt64)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMoney(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "22.00", Cents(2200).String())
	assert.Equal(t, "0.05", Cents(5).String())
	assert.Equal(t, "-3.40", Cents(-340).String())
}

func TestMoneyJSON(t *testing.T) {
	var in struct {
		A Money `json:"a"`
		B Money `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 6.00, "b": "10.5"}`), &in))
	assert.Equal(t, Cents(600), in.A)
	assert.Equal(t, Cents(1050), in.B)

	out, err := json.Marshal(map[string]Money{"total": Cents(2200)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total": 22.00}`, string(out))
}

func TestSumLinesSkipsCancelled(t *testing.T) {
	lines := []OrderLine{
		{ProductID: 1, Quantity: 2, UnitPrice: 600, Status: LineActiva},
		{ProductID: 2, Quantity: 1, UnitPrice: 1000, Status: LineActiva},
		{ProductID: 3, Quantity: 5, UnitPrice: 999, Status: LineCancelada},
	}
	assert.Equal(t, Cents(2200), SumLines(lines))
	assert.Len(t, ActiveLines(lines), 2)
	assert.Equal(t, map[int64]int64{1: 2, 2: 1}, QuantitiesByProduct(lines))
}

func TestTaxRule(t *testing.T) {
	inclusive := TaxRule{Name: "IVA", RateBP: 1300, Inclusive: true}
	sub, tax, total := inclusive.Apply(Cents(2200))
	assert.Equal(t, Cents(2200), total)
	assert.Equal(t, Cents(253), tax)
	assert.Equal(t, Cents(1947), sub)

	exclusive := TaxRule{Name: "IVA", RateBP: 1300}
	sub, tax, total = exclusive.Apply(Cents(2200))
	assert.Equal(t, Cents(2200), sub)
	assert.Equal(t, Cents(286), tax)
	assert.Equal(t, Cents(2486), total)

	_, tax, total = TaxRule{}.Apply(Cents(999))
	assert.Zero(t, tax)
	assert.Equal(t, Cents(999), total)
}
