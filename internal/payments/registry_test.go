package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/repository"
)

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemory()
	mem.AddPaymentMethod(models.PaymentMethod{ID: 1, Label: "Efectivo", Active: true})
	mem.AddPaymentMethod(models.PaymentMethod{ID: 6, Label: "Cheque", Active: false})
	reg := NewRegistry(mem)

	pm, err := reg.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Efectivo", pm.Label)

	for _, id := range []int64{6, 99} {
		_, err := reg.Resolve(ctx, id)
		assert.True(t, errors.Is(err, apperr.ErrPaymentMethodUnknown), "id %d", id)

		ok, err := reg.IsActive(ctx, id)
		assert.NoError(t, err)
		assert.False(t, ok)
	}

	ok, err := reg.IsActive(ctx, 1)
	assert.NoError(t, err)
	assert.True(t, ok)
}
