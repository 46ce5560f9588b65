package domain

import (
	"regexp"
	"strconv"
	"strings"
)

type PaymentCategory string

const (
	PaymentCash            PaymentCategory = "cash"
	PaymentCard            PaymentCategory = "card"
	PaymentForeignCurrency PaymentCategory = "foreign_currency"
)

// PaymentCategories is the closed set of categories, in report order.
var PaymentCategories = []PaymentCategory{PaymentCash, PaymentCard, PaymentForeignCurrency}

func (c PaymentCategory) Valid() bool {
	switch c {
	case PaymentCash, PaymentCard, PaymentForeignCurrency:
		return true
	default:
		return false
	}
}

func (c PaymentCategory) IsForeign() bool {
	return c == PaymentForeignCurrency
}

// ParsePaymentCategory maps a raw payment method onto the closed category set.
func ParsePaymentCategory(raw string) (PaymentCategory, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cash", "efectivo":
		return PaymentCash, true
	case "card", "electronic", "tarjeta", "datafono":
		return PaymentCard, true
	case "foreign_currency", "foreign-currency", "divisas", "usd":
		return PaymentForeignCurrency, true
	default:
		return "", false
	}
}

// PlanCode identifies a SIM plan tracked as inventory. Codes outside the known
// set are kept verbatim and treated as unknown plans.
type PlanCode string

const (
	Plan5Day  PlanCode = "5-day"
	Plan7Day  PlanCode = "7-day"
	Plan15Day PlanCode = "15-day"
	Plan30Day PlanCode = "30-day"
)

var KnownPlans = []PlanCode{Plan5Day, Plan7Day, Plan15Day, Plan30Day}

func (p PlanCode) Known() bool {
	switch p {
	case Plan5Day, Plan7Day, Plan15Day, Plan30Day:
		return true
	default:
		return false
	}
}

var planDaysPattern = regexp.MustCompile(`^(\d{1,3})\s*-?\s*(d|day|days|dia|dias|días)$`)

// ParsePlanCode normalizes spellings such as "7 dias", "7D" or "7-day" to the
// canonical code. Anything else is returned lowercased and trimmed.
func ParsePlanCode(raw string) PlanCode {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	if match := planDaysPattern.FindStringSubmatch(normalized); match != nil {
		// A zero day count is not a plan; it falls through as an unknown code.
		if days, err := strconv.Atoi(match[1]); err == nil && days > 0 {
			return PlanCode(strconv.Itoa(days) + "-day")
		}
	}
	return PlanCode(normalized)
}
