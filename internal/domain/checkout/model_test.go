package checkout

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siphon/internal/core/id"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{StatusPending, StatusPaymentAuthorized, true},
		{StatusPaymentAuthorized, StatusFulfilling, true},
		{StatusFulfilling, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},
		{StatusPending, StatusCancelled, true},
		{StatusPaymentAuthorized, StatusCancelled, true},
		{StatusFulfilling, StatusCancelled, false},
		{StatusShipped, StatusCancelled, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusPending, StatusFulfilling, false},
		{StatusPending, StatusShipped, false},
		{StatusCancelled, StatusPaymentAuthorized, false},
		{StatusDelivered, StatusPending, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestRequestValidate(t *testing.T) {
	ctx := context.Background()
	price := decimal.NewFromFloat(12.00)

	valid := Request{
		CustomerContact: "ada@example.com",
		Lines: []RequestLine{
			{ProductID: id.New(), Quantity: 3, UnitPrice: price},
		},
		Total: price.Mul(decimal.NewFromInt(3)),
	}
	require.NoError(t, valid.Validate(ctx))

	t.Run("missing contact", func(t *testing.T) {
		r := valid
		r.CustomerContact = "  "
		require.Error(t, r.Validate(ctx))
	})

	t.Run("no lines", func(t *testing.T) {
		r := valid
		r.Lines = nil
		require.Error(t, r.Validate(ctx))
	})

	t.Run("zero quantity", func(t *testing.T) {
		r := valid
		r.Lines = []RequestLine{{ProductID: id.New(), Quantity: 0, UnitPrice: price}}
		require.Error(t, r.Validate(ctx))
	})

	t.Run("negative price", func(t *testing.T) {
		r := valid
		r.Lines = []RequestLine{{ProductID: id.New(), Quantity: 1, UnitPrice: decimal.NewFromInt(-1)}}
		r.Total = decimal.NewFromInt(-1)
		require.Error(t, r.Validate(ctx))
	})

	t.Run("total mismatch", func(t *testing.T) {
		r := valid
		r.Total = decimal.NewFromFloat(35.99)
		require.Error(t, r.Validate(ctx))
	})
}

func TestNewOrderComputesLineTotals(t *testing.T) {
	price := decimal.NewFromFloat(9.50)
	req := Request{
		IdempotencyKey:  "tok-x",
		CustomerContact: "ada@example.com",
		Lines: []RequestLine{
			{ProductID: id.New(), Quantity: 2, UnitPrice: price},
			{ProductID: id.New(), Quantity: 1, UnitPrice: price},
		},
		Total: price.Mul(decimal.NewFromInt(3)),
	}

	o := NewOrder("W-001001", req)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, "tok-x", o.IdempotencyKey)
	require.Len(t, o.Lines, 2)
	assert.Equal(t, 1, o.Lines[0].LineNo)
	assert.Equal(t, 2, o.Lines[1].LineNo)
	assert.True(t, o.Lines[0].LineTotal.Equal(decimal.NewFromFloat(19.00)))
	assert.Equal(t, o.ID, o.Lines[0].OrderID)
}
