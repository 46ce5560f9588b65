// Package reconcile derives expected values and discrepancies for a closing
// shift. Everything here is pure: no I/O and no clock reads.
package reconcile

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"localsim/backend/internal/domain"
)

// Policy fixes the decimal places each payment category is compared at.
// Foreign currency keeps its own scale and is never converted.
type Policy struct {
	LocalScale   int32
	ForeignScale int32
}

func DefaultPolicy() Policy {
	return Policy{LocalScale: 2, ForeignScale: 2}
}

func (p Policy) Scale(category domain.PaymentCategory) int32 {
	if category.IsForeign() {
		return p.ForeignScale
	}
	return p.LocalScale
}

type Input struct {
	Shift               domain.Shift
	ClosedAt            time.Time
	Reported            domain.CategoryTotals
	System              domain.CategoryTotals
	Declarations        []domain.InventoryDeclaration
	ClosingObservations string
}

// Payments reconciles every payment category independently:
// discrepancy = reported - system, rounded to the category scale.
func Payments(policy Policy, reported domain.CategoryTotals, system domain.CategoryTotals) []domain.PaymentReconciliation {
	results := make([]domain.PaymentReconciliation, 0, len(domain.PaymentCategories))
	for _, category := range domain.PaymentCategories {
		scale := policy.Scale(category)
		rep := reported.Get(category).Round(scale)
		sys := system.Get(category).Round(scale)
		diff := rep.Sub(sys)
		results = append(results, domain.PaymentReconciliation{
			Category:    category,
			Reported:    rep,
			System:      sys,
			Discrepancy: diff,
			Outcome:     decimalOutcome(diff),
		})
	}
	return results
}

// Inventory computes expected = opening - sold and
// discrepancy = closing - expected for every plan that has a closing count.
// Plans without a closing count are not applicable.
func Inventory(declarations []domain.InventoryDeclaration) []domain.InventoryReconciliation {
	results := make([]domain.InventoryReconciliation, 0, len(declarations))
	for _, decl := range declarations {
		item := domain.InventoryReconciliation{
			Plan:               decl.Plan,
			OpeningDeclaredQty: decl.OpeningDeclaredQty,
			UnitsSold:          decl.UnitsSold,
			ExpectedQty:        decl.ExpectedQty(),
			Informational:      decl.Informational,
			Outcome:            domain.OutcomeNotApplicable,
		}
		if decl.ClosingDeclaredQty != nil {
			closing := *decl.ClosingDeclaredQty
			diff := closing - item.ExpectedQty
			item.ClosingDeclaredQty = &closing
			item.Discrepancy = &diff
			item.Outcome = intOutcome(diff)
		}
		results = append(results, item)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return planLess(results[i].Plan, results[j].Plan)
	})
	return results
}

// Report assembles the closure report for a shift. Informational inventory
// rows are reported but do not mark the shift as unbalanced.
func Report(policy Policy, in Input) domain.ClosureReport {
	report := domain.ClosureReport{
		ShiftID:             in.Shift.ID,
		OperatorID:          in.Shift.OperatorID,
		OpenedAt:            in.Shift.OpenedAt,
		ClosedAt:            in.ClosedAt,
		Payments:            Payments(policy, in.Reported, in.System),
		Inventory:           Inventory(in.Declarations),
		OpeningObservations: in.Shift.OpeningObservations,
		ClosingObservations: in.ClosingObservations,
	}

	for _, payment := range report.Payments {
		if payment.Outcome != domain.OutcomeBalanced {
			report.HasPaymentDiscrepancy = true
		}
	}
	report.HasInventoryDiscrepancy = len(report.PlansWithDiscrepancy()) > 0
	report.HasDiscrepancy = report.HasPaymentDiscrepancy || report.HasInventoryDiscrepancy
	return report
}

func decimalOutcome(diff decimal.Decimal) domain.Outcome {
	switch diff.Sign() {
	case 0:
		return domain.OutcomeBalanced
	case 1:
		return domain.OutcomeSurplus
	default:
		return domain.OutcomeShortage
	}
}

func intOutcome(diff int) domain.Outcome {
	switch {
	case diff == 0:
		return domain.OutcomeBalanced
	case diff > 0:
		return domain.OutcomeSurplus
	default:
		return domain.OutcomeShortage
	}
}

// planLess orders known plans by duration, then unknown codes alphabetically.
func planLess(a domain.PlanCode, b domain.PlanCode) bool {
	ra, rb := planRank(a), planRank(b)
	if ra != rb {
		return ra < rb
	}
	return a < b
}

func planRank(plan domain.PlanCode) int {
	for i, known := range domain.KnownPlans {
		if plan == known {
			return i
		}
	}
	return len(domain.KnownPlans)
}

// SortPlans orders plan codes the same way report rows are ordered.
func SortPlans(plans []domain.PlanCode) {
	sort.SliceStable(plans, func(i, j int) bool {
		return planLess(plans[i], plans[j])
	})
}
