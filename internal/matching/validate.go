package matching

import (
	"strings"

	validatorpkg "github.com/go-playground/validator/v10"

	"github.com/opencandle/exchange/internal/domain"
	"github.com/opencandle/exchange/internal/exchangeerr"
)

// Validator wraps go-playground/validator, following the construction
// pattern in the teacher's internal/validation/validator.go (struct tags,
// a single shared *validator.Validate).
type Validator struct {
	v *validatorpkg.Validate
}

// NewValidator builds a Validator with the tag-based rules SubmitOrderIntent uses.
func NewValidator() *Validator {
	return &Validator{v: validatorpkg.New()}
}

// ValidateSubmit checks an intent's structural well-formedness (spec.md
// section 4.F step 1: "positive quantity; LIMIT has price; price is a
// positive integer cents; MARKET has no price; symbol known" — symbol
// existence is checked by the Router, not here).
func (vd *Validator) ValidateSubmit(in *SubmitOrderIntent) error {
	if err := vd.v.Struct(in); err != nil {
		return rejectionFromValidationError(err)
	}

	switch in.Type {
	case domain.OrderTypeLimit:
		if !in.HasLimitPrice || in.LimitPriceCents <= 0 {
			return exchangeerr.New(exchangeerr.CodeInvalidPrice, "LIMIT order requires a positive limit price")
		}
	case domain.OrderTypeIOC:
		if in.HasLimitPrice && in.LimitPriceCents <= 0 {
			return exchangeerr.New(exchangeerr.CodeInvalidPrice, "IOC limit price must be positive when present")
		}
	case domain.OrderTypeMarket:
		if in.HasLimitPrice {
			return exchangeerr.New(exchangeerr.CodeInvalidPrice, "MARKET order must not carry a limit price")
		}
	}

	if in.Quantity <= 0 {
		return exchangeerr.New(exchangeerr.CodeInvalidQuantity, "quantity must be positive")
	}

	return nil
}

func rejectionFromValidationError(err error) error {
	if fieldErrs, ok := err.(validatorpkg.ValidationErrors); ok {
		var msgs []string
		code := exchangeerr.CodeInvalidQuantity
		for _, fe := range fieldErrs {
			if fe.Field() == "LimitPriceCents" {
				code = exchangeerr.CodeInvalidPrice
			}
			msgs = append(msgs, fe.Field()+" failed "+fe.Tag())
		}
		return exchangeerr.New(code, strings.Join(msgs, "; "))
	}
	return exchangeerr.New(exchangeerr.CodeInvalidQuantity, err.Error())
}
