package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"localsim/backend/internal/domain"
	"localsim/backend/internal/store"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest runs the struct tags of req and reports the first failure as
// a ValidationError naming the JSON field path.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return domain.NewValidationError("", err.Error())
	}
	first := fieldErrors[0]
	return domain.NewValidationError(fieldPath(first.Namespace()), fieldReason(first))
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

func fieldReason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be >= " + fe.Param()
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
		}
		return "must be at least " + fe.Param()
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func requireNonNegative(field string, amount *decimal.Decimal) error {
	if amount == nil {
		return domain.NewValidationError(field, "is required")
	}
	if amount.IsNegative() {
		return domain.NewValidationError(field, "must be >= 0")
	}
	return nil
}

// requireScale rejects amounts carrying more decimal places than the category
// is reconciled at. Trailing zeros are fine.
func requireScale(field string, amount decimal.Decimal, scale int32) error {
	if !amount.Equal(amount.Truncate(scale)) {
		return domain.NewValidationError(field, fmt.Sprintf("must have at most %d decimal places", scale))
	}
	return nil
}

func parseCategory(field string, raw domain.PaymentCategory) (domain.PaymentCategory, error) {
	category, ok := domain.ParsePaymentCategory(string(raw))
	if !ok {
		return "", domain.NewValidationError(field, fmt.Sprintf("unknown payment category %q", raw))
	}
	return category, nil
}

// planCounts normalizes declaration inputs. Duplicate plans within one call
// are rejected. Unknown plan codes are rejected unless allowUnknown is set.
func planCounts(field string, inputs []domain.DeclarationInput, allowUnknown bool) ([]store.PlanCount, error) {
	counts := make([]store.PlanCount, 0, len(inputs))
	seen := make(map[domain.PlanCode]struct{}, len(inputs))
	for i, input := range inputs {
		entry := fmt.Sprintf("%s[%d]", field, i)
		plan := domain.ParsePlanCode(input.Plan)
		if plan == "" {
			return nil, domain.NewValidationError(entry+".plan", "is required")
		}
		if !allowUnknown && !plan.Known() {
			return nil, domain.NewValidationError(entry+".plan", fmt.Sprintf("unknown plan %q", input.Plan))
		}
		if input.Qty == nil {
			return nil, domain.NewValidationError(entry+".qty", "is required")
		}
		if *input.Qty < 0 {
			return nil, domain.NewValidationError(entry+".qty", "must be >= 0")
		}
		if _, dup := seen[plan]; dup {
			return nil, domain.NewValidationError(entry+".plan", fmt.Sprintf("duplicate plan %s", plan))
		}
		seen[plan] = struct{}{}
		counts = append(counts, store.PlanCount{Plan: plan, Qty: *input.Qty})
	}
	return counts, nil
}

// mergeUnits folds quantities for the same plan into one entry, keeping first
// appearance order.
func mergeUnits(units []domain.PlanUnits) []domain.PlanUnits {
	merged := make([]domain.PlanUnits, 0, len(units))
	index := make(map[domain.PlanCode]int, len(units))
	for _, unit := range units {
		if unit.Plan == "" || unit.Qty < 1 {
			continue
		}
		if i, ok := index[unit.Plan]; ok {
			merged[i].Qty += unit.Qty
			continue
		}
		index[unit.Plan] = len(merged)
		merged = append(merged, unit)
	}
	return merged
}
