package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencandle/exchange/internal/domain"
	"github.com/opencandle/exchange/internal/exchangeerr"
)

func TestValidateSubmitAcceptsWellFormedLimit(t *testing.T) {
	vd := NewValidator()
	err := vd.ValidateSubmit(&SubmitOrderIntent{
		TraderID: "t1", Symbol: "ACME", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Quantity: 10, HasLimitPrice: true, LimitPriceCents: 500,
	})
	assert.NoError(t, err)
}

func TestValidateSubmitRejectsLimitWithoutPrice(t *testing.T) {
	vd := NewValidator()
	err := vd.ValidateSubmit(&SubmitOrderIntent{
		TraderID: "t1", Symbol: "ACME", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Quantity: 10,
	})
	assert.Error(t, err)
	assert.Equal(t, exchangeerr.CodeInvalidPrice, exchangeerr.AsCode(err))
}

func TestValidateSubmitRejectsMarketWithPrice(t *testing.T) {
	vd := NewValidator()
	err := vd.ValidateSubmit(&SubmitOrderIntent{
		TraderID: "t1", Symbol: "ACME", Side: domain.SideBuy, Type: domain.OrderTypeMarket,
		Quantity: 10, HasLimitPrice: true, LimitPriceCents: 500,
	})
	assert.Error(t, err)
	assert.Equal(t, exchangeerr.CodeInvalidPrice, exchangeerr.AsCode(err))
}

func TestValidateSubmitRejectsNonPositiveQuantity(t *testing.T) {
	vd := NewValidator()
	err := vd.ValidateSubmit(&SubmitOrderIntent{
		TraderID: "t1", Symbol: "ACME", Side: domain.SideBuy, Type: domain.OrderTypeMarket,
		Quantity: 0,
	})
	assert.Error(t, err)
}

func TestValidateSubmitRejectsMissingRequiredFields(t *testing.T) {
	vd := NewValidator()
	err := vd.ValidateSubmit(&SubmitOrderIntent{Quantity: 5})
	assert.Error(t, err)
}
