package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ShiftStatus string

const (
	ShiftStatusOpen   ShiftStatus = "open"
	ShiftStatusClosed ShiftStatus = "closed"
)

type Shift struct {
	ID                  string      `json:"id"`
	OperatorID          string      `json:"operator_id"`
	Status              ShiftStatus `json:"status"`
	OpeningObservations string      `json:"opening_observations,omitempty"`
	ClosingObservations string      `json:"closing_observations,omitempty"`
	OpenedAt            time.Time   `json:"opened_at"`
	ClosedAt            *time.Time  `json:"closed_at,omitempty"`
}

func (s Shift) IsOpen() bool {
	return s.Status == ShiftStatusOpen
}

// InventoryDeclaration is the per-plan inventory row of a shift. Informational
// rows were created without an opening count (a sale or closing count for a plan
// that was not declared at open), so their expected quantity has no baseline.
type InventoryDeclaration struct {
	ShiftID            string    `json:"shift_id"`
	Plan               PlanCode  `json:"plan"`
	OpeningDeclaredQty int       `json:"opening_declared_qty"`
	UnitsSold          int       `json:"units_sold"`
	ClosingDeclaredQty *int      `json:"closing_declared_qty,omitempty"`
	Informational      bool      `json:"informational"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (d InventoryDeclaration) ExpectedQty() int {
	return d.OpeningDeclaredQty - d.UnitsSold
}

type SaleMovement struct {
	ID              string          `json:"id"`
	ShiftID         string          `json:"shift_id"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentCategory PaymentCategory `json:"payment_category"`
	Voided          bool            `json:"voided"`
	VoidReason      string          `json:"void_reason,omitempty"`
	VoidedAt        *time.Time      `json:"voided_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// CategoryTotals holds one amount per payment category. Categories are never
// summed together.
type CategoryTotals map[PaymentCategory]decimal.Decimal

func (t CategoryTotals) Get(category PaymentCategory) decimal.Decimal {
	if amount, ok := t[category]; ok {
		return amount
	}
	return decimal.Zero
}

type Outcome string

const (
	OutcomeBalanced      Outcome = "balanced"
	OutcomeSurplus       Outcome = "surplus"
	OutcomeShortage      Outcome = "shortage"
	OutcomeNotApplicable Outcome = "not_applicable"
)

type PaymentReconciliation struct {
	Category    PaymentCategory `json:"category"`
	Reported    decimal.Decimal `json:"reported_amount"`
	System      decimal.Decimal `json:"system_amount"`
	Discrepancy decimal.Decimal `json:"discrepancy"`
	Outcome     Outcome         `json:"outcome"`
}

type InventoryReconciliation struct {
	Plan               PlanCode `json:"plan"`
	OpeningDeclaredQty int      `json:"opening_declared_qty"`
	UnitsSold          int      `json:"units_sold"`
	ExpectedQty        int      `json:"expected_qty"`
	ClosingDeclaredQty *int     `json:"closing_declared_qty,omitempty"`
	Discrepancy        *int     `json:"discrepancy,omitempty"`
	Outcome            Outcome  `json:"outcome"`
	Informational      bool     `json:"informational"`
}

// ClosureReport is computed once when a shift closes and stored verbatim.
type ClosureReport struct {
	ShiftID                 string                    `json:"shift_id"`
	OperatorID              string                    `json:"operator_id"`
	OpenedAt                time.Time                 `json:"opened_at"`
	ClosedAt                time.Time                 `json:"closed_at"`
	Payments                []PaymentReconciliation   `json:"payments"`
	Inventory               []InventoryReconciliation `json:"inventory"`
	OpeningObservations     string                    `json:"opening_observations,omitempty"`
	ClosingObservations     string                    `json:"closing_observations,omitempty"`
	HasPaymentDiscrepancy   bool                      `json:"has_payment_discrepancy"`
	HasInventoryDiscrepancy bool                      `json:"has_inventory_discrepancy"`
	HasDiscrepancy          bool                      `json:"has_discrepancy"`
}

// PlansWithDiscrepancy lists plans whose counted quantity differs from the
// expected one. Informational rows are left out.
func (r ClosureReport) PlansWithDiscrepancy() []PlanCode {
	plans := make([]PlanCode, 0, len(r.Inventory))
	for _, item := range r.Inventory {
		if item.Informational {
			continue
		}
		if item.Outcome == OutcomeSurplus || item.Outcome == OutcomeShortage {
			plans = append(plans, item.Plan)
		}
	}
	return plans
}

type DeclarationInput struct {
	Plan string `json:"plan" validate:"required,max=40"`
	Qty  *int   `json:"qty" validate:"required,gte=0"`
}

type ShiftOpenRequest struct {
	OperatorID   string             `json:"operator_id,omitempty"`
	Declarations []DeclarationInput `json:"declarations" validate:"dive"`
	Observations string             `json:"observations" validate:"max=2000"`
}

type ShiftResponse struct {
	Shift Shift `json:"shift"`
}

type ReportedAmounts struct {
	Cash            *decimal.Decimal `json:"cash" validate:"required"`
	Card            *decimal.Decimal `json:"card" validate:"required"`
	ForeignCurrency *decimal.Decimal `json:"foreign_currency" validate:"required"`
}

type ShiftCloseRequest struct {
	ShiftID             string             `json:"-" validate:"required"`
	ReportedAmounts     ReportedAmounts    `json:"reported_amounts"`
	ClosingDeclarations []DeclarationInput `json:"closing_declarations" validate:"dive"`
	Observations        string             `json:"observations" validate:"max=2000"`
}

// ClosingSheet is what the closing workflow is allowed to see before the
// counts are submitted: which plans to count, never the opening quantities.
type ClosingSheet struct {
	ShiftID           string            `json:"shift_id"`
	OperatorID        string            `json:"operator_id"`
	OpenedAt          time.Time         `json:"opened_at"`
	Plans             []PlanCode        `json:"plans"`
	PaymentCategories []PaymentCategory `json:"payment_categories"`
}

type InventoryStatus struct {
	ShiftID      string                 `json:"shift_id"`
	Declarations []InventoryDeclaration `json:"declarations"`
}

type SaleLine struct {
	Plan string `json:"plan" validate:"required,max=40"`
	Qty  int    `json:"qty" validate:"gte=1"`
}

type SaleRequest struct {
	ShiftID         string           `json:"shift_id" validate:"required"`
	Amount          *decimal.Decimal `json:"amount" validate:"required"`
	PaymentCategory PaymentCategory  `json:"payment_category" validate:"required"`
	Lines           []SaleLine       `json:"lines" validate:"dive"`
}

type CartItem struct {
	SKU string `json:"sku" validate:"required"`
	Qty int    `json:"qty" validate:"gte=1"`
}

type CheckoutRequest struct {
	ShiftID         string           `json:"shift_id" validate:"required"`
	PaymentCategory PaymentCategory  `json:"payment_category" validate:"required"`
	TenderedAmount  *decimal.Decimal `json:"tendered_amount,omitempty"`
	Items           []CartItem       `json:"items" validate:"required,min=1,dive"`
}

type SaleResponse struct {
	Movement SaleMovement `json:"movement"`
	Units    []PlanUnits  `json:"units,omitempty"`
}

// PlanUnits is a quantity of a plan consumed by one sale.
type PlanUnits struct {
	Plan PlanCode `json:"plan"`
	Qty  int      `json:"qty"`
}

type UnitsSoldRequest struct {
	Plan  string `json:"plan" validate:"required,max=40"`
	Delta int    `json:"delta" validate:"gte=1"`
}

type VoidSaleRequest struct {
	Reason     string `json:"reason" validate:"max=500"`
	ManagerPIN string `json:"manager_pin"`
}

type CatalogItem struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Plan      PlanCode        `json:"plan,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type DiscrepancyFilter struct {
	From                  *time.Time `json:"from,omitempty"`
	To                    *time.Time `json:"to,omitempty"`
	LastNDays             *int       `json:"last_n_days,omitempty"`
	OperatorID            string     `json:"operator_id,omitempty"`
	OnlyWithDiscrepancies bool       `json:"only_with_discrepancies"`
	Limit                 int        `json:"limit,omitempty"`
}

type DiscrepancySummary struct {
	Shifts                           int        `json:"shifts"`
	ShiftsWithDiscrepancies          int        `json:"shifts_with_discrepancies"`
	ShiftsWithInventoryDiscrepancies int        `json:"shifts_with_inventory_discrepancies"`
	ShiftsWithPaymentDiscrepancies   int        `json:"shifts_with_payment_discrepancies"`
	DistinctOperators                int        `json:"distinct_operators"`
	DistinctPlansAffected            int        `json:"distinct_plans_affected"`
	PlansAffected                    []PlanCode `json:"plans_affected"`
}

type DiscrepancyListing struct {
	From    time.Time          `json:"from"`
	To      time.Time          `json:"to"`
	Summary DiscrepancySummary `json:"summary"`
	// Truncated is set when Reports was cut to the limit; Summary always
	// covers every report in the window.
	Truncated bool            `json:"truncated"`
	Reports   []ClosureReport `json:"reports"`
}

type DiscrepancyAlert struct {
	ID          string  `json:"id"`
	Code        string  `json:"code"`
	Severity    string  `json:"severity"`
	OperatorID  string  `json:"operator_id"`
	ShiftID     string  `json:"shift_id,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	MetricValue float64 `json:"metric_value"`
	Threshold   float64 `json:"threshold"`
	CreatedAt   string  `json:"created_at"`
}

type DiscrepancyAlertResponse struct {
	From   time.Time          `json:"from"`
	To     time.Time          `json:"to"`
	Alerts []DiscrepancyAlert `json:"alerts"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

const (
	RoleCashier = "cashier"
	RoleAdmin   = "admin"
)

type Actor struct {
	Username string
	Role     string
}

// CanOverride reports whether the actor may act on shifts of other operators.
func (a Actor) CanOverride() bool {
	return a.Role == RoleAdmin
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
