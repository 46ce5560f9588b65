package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"localsim/backend/internal/domain"
	"localsim/backend/internal/reconcile"
	"localsim/backend/internal/store"
	"localsim/backend/internal/xid"
)

const (
	defaultDiscrepancyWindowDays = 30
	defaultDiscrepancyLimit      = 500
	maxDiscrepancyLimit          = 2000
)

// cashShortfallRatio flags a single shift whose cash shortage reaches this
// share of the cash the ledger expected.
var cashShortfallRatio = decimal.NewFromFloat(0.1)

// ListDiscrepancies is a read-only projection over persisted closure reports.
// Nothing is recomputed against the live ledger.
func (s *Service) ListDiscrepancies(ctx context.Context, filter domain.DiscrepancyFilter) (domain.DiscrepancyListing, error) {
	query, err := s.reportQuery(ctx, filter)
	if err != nil {
		return domain.DiscrepancyListing{}, err
	}
	all := query
	all.Limit = 0
	reports, err := s.repo.ListClosureReports(ctx, all)
	if err != nil {
		return domain.DiscrepancyListing{}, err
	}

	listing := domain.DiscrepancyListing{
		From:    query.From,
		To:      query.To,
		Summary: summarize(reports),
		Reports: reports,
	}
	if len(reports) > query.Limit {
		listing.Reports = reports[:query.Limit]
		listing.Truncated = true
	}
	return listing, nil
}

func (s *Service) reportQuery(ctx context.Context, filter domain.DiscrepancyFilter) (store.ReportQuery, error) {
	if filter.LastNDays != nil && *filter.LastNDays < 1 {
		return store.ReportQuery{}, domain.NewValidationError("last_n_days", "must be >= 1")
	}
	if filter.LastNDays != nil && (filter.From != nil || filter.To != nil) {
		return store.ReportQuery{}, domain.NewValidationError("last_n_days", "cannot be combined with from/to")
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return store.ReportQuery{}, domain.NewValidationError("from", "must not be after to")
	}

	operatorID := strings.TrimSpace(filter.OperatorID)
	if actor, ok := ActorFromContext(ctx); ok && !actor.CanOverride() {
		operatorID = actor.Username
	}

	now := s.now()
	query := store.ReportQuery{
		OperatorID:            operatorID,
		OnlyWithDiscrepancies: filter.OnlyWithDiscrepancies,
		Limit:                 filter.Limit,
	}
	switch {
	case filter.LastNDays != nil:
		query.From = now.Add(-time.Duration(*filter.LastNDays) * 24 * time.Hour)
		query.To = now
	case filter.From == nil && filter.To == nil:
		query.From = now.Add(-defaultDiscrepancyWindowDays * 24 * time.Hour)
		query.To = now
	default:
		if filter.From != nil {
			query.From = filter.From.UTC()
		}
		query.To = now
		if filter.To != nil {
			query.To = filter.To.UTC()
		}
	}
	if query.Limit < 1 {
		query.Limit = defaultDiscrepancyLimit
	}
	if query.Limit > maxDiscrepancyLimit {
		query.Limit = maxDiscrepancyLimit
	}
	return query, nil
}

func summarize(reports []domain.ClosureReport) domain.DiscrepancySummary {
	summary := domain.DiscrepancySummary{Shifts: len(reports), PlansAffected: []domain.PlanCode{}}
	operators := make(map[string]struct{}, len(reports))
	plans := make(map[domain.PlanCode]struct{})

	for _, report := range reports {
		operators[report.OperatorID] = struct{}{}
		if report.HasDiscrepancy {
			summary.ShiftsWithDiscrepancies++
		}
		if report.HasPaymentDiscrepancy {
			summary.ShiftsWithPaymentDiscrepancies++
		}
		if report.HasInventoryDiscrepancy {
			summary.ShiftsWithInventoryDiscrepancies++
		}
		for _, plan := range report.PlansWithDiscrepancy() {
			if _, seen := plans[plan]; !seen {
				plans[plan] = struct{}{}
				summary.PlansAffected = append(summary.PlansAffected, plan)
			}
		}
	}

	reconcile.SortPlans(summary.PlansAffected)
	summary.DistinctOperators = len(operators)
	summary.DistinctPlansAffected = len(plans)
	return summary
}

// DiscrepancyAlerts flags operators with repeated shortages in the window and
// single shifts with a large cash shortfall.
func (s *Service) DiscrepancyAlerts(ctx context.Context, filter domain.DiscrepancyFilter) (domain.DiscrepancyAlertResponse, error) {
	filter.OnlyWithDiscrepancies = true
	query, err := s.reportQuery(ctx, filter)
	if err != nil {
		return domain.DiscrepancyAlertResponse{}, err
	}
	query.Limit = 0
	reports, err := s.repo.ListClosureReports(ctx, query)
	if err != nil {
		return domain.DiscrepancyAlertResponse{}, err
	}

	createdAt := s.now().Format(time.RFC3339)
	shortagesByOperator := map[string]int{}
	alerts := make([]domain.DiscrepancyAlert, 0, 16)

	for _, report := range reports {
		if hasShortage(report) {
			shortagesByOperator[report.OperatorID]++
		}
		for _, payment := range report.Payments {
			if payment.Category != domain.PaymentCash || !payment.Discrepancy.IsNegative() || !payment.System.IsPositive() {
				continue
			}
			ratio := payment.Discrepancy.Neg().Div(payment.System)
			if ratio.LessThan(cashShortfallRatio) {
				continue
			}
			metric, _ := payment.Discrepancy.Neg().Float64()
			alerts = append(alerts, domain.DiscrepancyAlert{
				ID:          xid.New("alert"),
				Code:        "cash_shortfall",
				Severity:    "medium",
				OperatorID:  report.OperatorID,
				ShiftID:     report.ShiftID,
				Title:       "Large cash shortfall",
				Description: fmt.Sprintf("Shift %s closed %s short on cash (%s%% of expected).", report.ShiftID, payment.Discrepancy.Neg().String(), ratio.Mul(decimal.NewFromInt(100)).StringFixed(1)),
				MetricValue: metric,
				Threshold:   0.1,
				CreatedAt:   createdAt,
			})
		}
	}

	for operatorID, count := range shortagesByOperator {
		if count < s.shortageThreshold {
			continue
		}
		alerts = append(alerts, domain.DiscrepancyAlert{
			ID:          xid.New("alert"),
			Code:        "repeated_shortage",
			Severity:    "high",
			OperatorID:  operatorID,
			Title:       "Repeated shortages",
			Description: fmt.Sprintf("Operator %s closed %d shifts short in the period.", operatorID, count),
			MetricValue: float64(count),
			Threshold:   float64(s.shortageThreshold),
			CreatedAt:   createdAt,
		})
	}

	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].Severity == alerts[j].Severity {
			if alerts[i].MetricValue == alerts[j].MetricValue {
				return alerts[i].OperatorID < alerts[j].OperatorID
			}
			return alerts[i].MetricValue > alerts[j].MetricValue
		}
		return severityRank(alerts[i].Severity) < severityRank(alerts[j].Severity)
	})

	return domain.DiscrepancyAlertResponse{From: query.From, To: query.To, Alerts: alerts}, nil
}

// hasShortage reports a cash shortfall or a short plan count. Informational
// rows do not count.
func hasShortage(report domain.ClosureReport) bool {
	for _, payment := range report.Payments {
		if payment.Category == domain.PaymentCash && payment.Outcome == domain.OutcomeShortage {
			return true
		}
	}
	for _, item := range report.Inventory {
		if !item.Informational && item.Outcome == domain.OutcomeShortage {
			return true
		}
	}
	return false
}

func (s *Service) notifyDiscrepancy(ctx context.Context, report domain.ClosureReport) {
	if err := s.notifier.NotifyDiscrepancy(context.WithoutCancel(ctx), report); err != nil {
		s.log.Warn().Err(err).Str("shift_id", report.ShiftID).Msg("discrepancy notification failed")
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, domain.NewValidationError("date", "must be YYYY-MM-DD")
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func severityRank(severity string) int {
	switch severity {
	case "high":
		return 1
	case "medium":
		return 2
	default:
		return 3
	}
}
