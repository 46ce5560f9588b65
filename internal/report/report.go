package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"localsim/backend/internal/domain"
)

var csvHeader = []string{
	"section", "shift_id", "operator_id", "closed_at", "key",
	"declared", "expected", "discrepancy", "outcome",
}

// WriteDiscrepanciesCSV writes one row per reconciliation line of every report
// in the listing, preceded by the summary counters.
func WriteDiscrepanciesCSV(w io.Writer, listing domain.DiscrepancyListing) error {
	cw := csv.NewWriter(w)

	rows := [][]string{csvHeader}
	summary := listing.Summary
	rows = append(rows,
		summaryRow("from", formatTime(listing.From)),
		summaryRow("to", formatTime(listing.To)),
		summaryRow("shifts", strconv.Itoa(summary.Shifts)),
		summaryRow("shifts_with_discrepancies", strconv.Itoa(summary.ShiftsWithDiscrepancies)),
		summaryRow("shifts_with_inventory_discrepancies", strconv.Itoa(summary.ShiftsWithInventoryDiscrepancies)),
		summaryRow("shifts_with_payment_discrepancies", strconv.Itoa(summary.ShiftsWithPaymentDiscrepancies)),
		summaryRow("distinct_operators", strconv.Itoa(summary.DistinctOperators)),
		summaryRow("distinct_plans_affected", strconv.Itoa(summary.DistinctPlansAffected)),
	)

	for _, report := range listing.Reports {
		closedAt := formatTime(report.ClosedAt)
		for _, payment := range report.Payments {
			rows = append(rows, []string{
				"payment", report.ShiftID, report.OperatorID, closedAt, string(payment.Category),
				payment.Reported.String(), payment.System.String(), payment.Discrepancy.String(), string(payment.Outcome),
			})
		}
		for _, item := range report.Inventory {
			section := "inventory"
			if item.Informational {
				section = "inventory_informational"
			}
			rows = append(rows, []string{
				section, report.ShiftID, report.OperatorID, closedAt, string(item.Plan),
				optionalInt(item.ClosingDeclaredQty), strconv.Itoa(item.ExpectedQty), optionalInt(item.Discrepancy), string(item.Outcome),
			})
		}
	}

	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("report: write csv: %w", err)
	}
	return nil
}

func summaryRow(key string, value string) []string {
	return []string{"summary", "", "", "", key, value, "", "", ""}
}

// ClosureReportPDF renders a single closure report as an A4 printable sheet.
func ClosureReportPDF(report domain.ClosureReport) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetTitle("Shift closure "+report.ShiftID, true)
	pdf.AddPage()

	pageW, _ := pdf.GetPageSize()
	contentW := pageW - 30

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(contentW, 8, "Shift closure report", "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(contentW, 5, "Shift: "+report.ShiftID, "", 1, "L", false, 0, "")
	pdf.CellFormat(contentW, 5, "Operator: "+report.OperatorID, "", 1, "L", false, 0, "")
	pdf.CellFormat(contentW, 5, "Opened: "+formatTime(report.OpenedAt), "", 1, "L", false, 0, "")
	pdf.CellFormat(contentW, 5, "Closed: "+formatTime(report.ClosedAt), "", 1, "L", false, 0, "")
	status := "BALANCED"
	if report.HasDiscrepancy {
		status = "DISCREPANCY"
	}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(contentW, 6, "Status: "+status, "", 1, "L", false, 0, "")
	pdf.Ln(3)

	widths := []float64{contentW * 0.28, contentW * 0.18, contentW * 0.18, contentW * 0.18, contentW * 0.18}

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(contentW, 7, "Payments", "", 1, "L", false, 0, "")
	tableHeader(pdf, widths, "Category", "Reported", "System", "Difference", "Outcome")
	pdf.SetFont("Helvetica", "", 9)
	for _, payment := range report.Payments {
		tableRow(pdf, widths,
			string(payment.Category),
			payment.Reported.String(),
			payment.System.String(),
			payment.Discrepancy.String(),
			string(payment.Outcome),
		)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(contentW, 7, "Inventory", "", 1, "L", false, 0, "")
	if len(report.Inventory) == 0 {
		pdf.SetFont("Helvetica", "I", 9)
		pdf.CellFormat(contentW, 5, "No plans declared for this shift.", "", 1, "L", false, 0, "")
	} else {
		tableHeader(pdf, widths, "Plan", "Counted", "Expected", "Difference", "Outcome")
		pdf.SetFont("Helvetica", "", 9)
		for _, item := range report.Inventory {
			plan := string(item.Plan)
			if item.Informational {
				plan += " (info)"
			}
			tableRow(pdf, widths,
				plan,
				optionalInt(item.ClosingDeclaredQty),
				strconv.Itoa(item.ExpectedQty),
				optionalInt(item.Discrepancy),
				string(item.Outcome),
			)
		}
	}

	if notes := observations(report); notes != "" {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(contentW, 7, "Observations", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		pdf.MultiCell(contentW, 5, notes, "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("report: render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func tableHeader(pdf *fpdf.Fpdf, widths []float64, labels ...string) {
	pdf.SetFont("Helvetica", "B", 9)
	for i, label := range labels {
		align := "R"
		if i == 0 || i == len(labels)-1 {
			align = "L"
		}
		pdf.CellFormat(widths[i], 6, label, "B", 0, align, false, 0, "")
	}
	pdf.Ln(-1)
}

func tableRow(pdf *fpdf.Fpdf, widths []float64, values ...string) {
	for i, value := range values {
		align := "R"
		if i == 0 || i == len(values)-1 {
			align = "L"
		}
		pdf.CellFormat(widths[i], 5, value, "", 0, align, false, 0, "")
	}
	pdf.Ln(-1)
}

func observations(report domain.ClosureReport) string {
	parts := make([]string, 0, 2)
	if strings.TrimSpace(report.OpeningObservations) != "" {
		parts = append(parts, "Opening: "+report.OpeningObservations)
	}
	if strings.TrimSpace(report.ClosingObservations) != "" {
		parts = append(parts, "Closing: "+report.ClosingObservations)
	}
	return strings.Join(parts, "\n")
}

func optionalInt(value *int) string {
	if value == nil {
		return ""
	}
	return strconv.Itoa(*value)
}

func formatTime(at time.Time) string {
	if at.IsZero() {
		return ""
	}
	return at.UTC().Format(time.RFC3339)
}
