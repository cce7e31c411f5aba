package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddItemsRequest_Validate(t *testing.T) {
	negative := Cents(-1)
	tests := []struct {
		name    string
		req     AddItemsRequest
		wantErr bool
	}{
		{
			name: "valid table request",
			req:  AddItemsRequest{TabRef: TableRef(5), Items: []ItemInput{{ProductID: 1, Quantity: 2}}},
		},
		{
			name: "valid group request",
			req:  AddItemsRequest{TabRef: GroupRef(9), Items: []ItemInput{{ProductID: 1, Quantity: 1}}},
		},
		{
			name:    "missing reference",
			req:     AddItemsRequest{Items: []ItemInput{{ProductID: 1, Quantity: 1}}},
			wantErr: true,
		},
		{
			name: "both references",
			req: AddItemsRequest{
				TabRef: TabRef{TableNumber: TableRef(1).TableNumber, GroupID: GroupRef(1).GroupID},
				Items:  []ItemInput{{ProductID: 1, Quantity: 1}},
			},
			wantErr: true,
		},
		{
			name:    "empty items",
			req:     AddItemsRequest{TabRef: TableRef(5)},
			wantErr: true,
		},
		{
			name:    "zero quantity",
			req:     AddItemsRequest{TabRef: TableRef(5), Items: []ItemInput{{ProductID: 1, Quantity: 0}}},
			wantErr: true,
		},
		{
			name:    "negative price override",
			req:     AddItemsRequest{TabRef: TableRef(5), Items: []ItemInput{{ProductID: 1, Quantity: 1, UnitPrice: &negative}}},
			wantErr: true,
		},
		{
			name:    "table number out of range",
			req:     AddItemsRequest{TabRef: TableRef(0), Items: []ItemInput{{ProductID: 1, Quantity: 1}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMergeTablesRequest_Validate(t *testing.T) {
	assert.NoError(t, (&MergeTablesRequest{TableNumbers: []int{3, 4}}).Validate())
	assert.Error(t, (&MergeTablesRequest{TableNumbers: []int{3}}).Validate())
	assert.Error(t, (&MergeTablesRequest{TableNumbers: []int{3, 3}}).Validate())
}

func TestSplitGroupRequest_Validate(t *testing.T) {
	assert.NoError(t, (&SplitGroupRequest{Assignments: map[int][]int64{3: {1}, 4: {2}}}).Validate())
	assert.Error(t, (&SplitGroupRequest{}).Validate())
	assert.Error(t, (&SplitGroupRequest{Assignments: map[int][]int64{3: {1}, 4: {1}}}).Validate())
}

func TestSettleRequest_Validate(t *testing.T) {
	ok := SettleRequest{TabRef: TableRef(5), PaymentMethodID: 1}
	assert.NoError(t, ok.Validate())

	noMethod := SettleRequest{TabRef: TableRef(5)}
	assert.Error(t, noMethod.Validate())

	badInvoice := SettleRequest{TabRef: TableRef(5), PaymentMethodID: 1,
		Options: SettleOptions{Invoice: &InvoiceData{TaxID: "123"}}}
	assert.Error(t, badInvoice.Validate())
}

func TestStaffBelongsTo(t *testing.T) {
	venue := Venue{RestaurantID: 1, BranchID: 2}
	assert.True(t, Staff{RestaurantID: 1, BranchID: 2, Active: true}.BelongsTo(venue))
	assert.True(t, Staff{RestaurantID: 1, BranchID: 0, Active: true}.BelongsTo(venue))
	assert.False(t, Staff{RestaurantID: 1, BranchID: 3, Active: true}.BelongsTo(venue))
	assert.False(t, Staff{RestaurantID: 2, BranchID: 2, Active: true}.BelongsTo(venue))
	assert.False(t, Staff{RestaurantID: 1, BranchID: 2}.BelongsTo(venue))
}
