package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"

	"localsim/backend/internal/domain"
	"localsim/backend/internal/report"
)

// Notifier is told about every close whose report carries a discrepancy.
type Notifier interface {
	NotifyDiscrepancy(ctx context.Context, report domain.ClosureReport) error
}

type NoopNotifier struct{}

func (NoopNotifier) NotifyDiscrepancy(_ context.Context, _ domain.ClosureReport) error {
	return nil
}

type SMTPConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	From       string
	Recipients []string
}

// SendFunc delivers a prepared message. It matches (*email.Email).Send bound
// to the message.
type SendFunc func(e *email.Email, addr string, auth smtp.Auth) error

// SMTPNotifier e-mails the closure report, with the printable PDF attached,
// to the configured recipients.
type SMTPNotifier struct {
	cfg  SMTPConfig
	addr string
	send SendFunc
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	return &SMTPNotifier{
		cfg:  cfg,
		addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// WithSendFunc replaces the transport, mainly for tests.
func (n *SMTPNotifier) WithSendFunc(send SendFunc) *SMTPNotifier {
	n.send = send
	return n
}

func (n *SMTPNotifier) NotifyDiscrepancy(ctx context.Context, closure domain.ClosureReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(n.cfg.Recipients) == 0 {
		return nil
	}

	e := email.NewEmail()
	e.From = n.cfg.From
	e.To = append([]string(nil), n.cfg.Recipients...)
	e.Subject = fmt.Sprintf("Shift %s closed with discrepancies (%s)", closure.ShiftID, closure.OperatorID)
	e.Text = []byte(messageBody(closure))

	pdf, err := report.ClosureReportPDF(closure)
	if err != nil {
		return fmt.Errorf("alert: render attachment: %w", err)
	}
	if _, err := e.Attach(bytes.NewReader(pdf), "closure-"+closure.ShiftID+".pdf", "application/pdf"); err != nil {
		return fmt.Errorf("alert: attach pdf: %w", err)
	}

	var auth smtp.Auth
	if n.cfg.User != "" {
		auth = smtp.PlainAuth("", n.cfg.User, n.cfg.Password, n.cfg.Host)
	}
	if err := n.send(e, n.addr, auth); err != nil {
		return fmt.Errorf("alert: send mail: %w", err)
	}
	return nil
}

func messageBody(closure domain.ClosureReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Shift %s of operator %s closed at %s.\n\n", closure.ShiftID, closure.OperatorID, closure.ClosedAt.UTC().Format("2006-01-02 15:04 MST"))

	b.WriteString("Payments:\n")
	for _, payment := range closure.Payments {
		fmt.Fprintf(&b, "  %-17s reported %s, system %s, difference %s (%s)\n",
			payment.Category, payment.Reported.String(), payment.System.String(), payment.Discrepancy.String(), payment.Outcome)
	}

	if plans := closure.PlansWithDiscrepancy(); len(plans) > 0 {
		b.WriteString("\nPlans with discrepancies:\n")
		for _, item := range closure.Inventory {
			if item.Informational || item.Discrepancy == nil || *item.Discrepancy == 0 {
				continue
			}
			fmt.Fprintf(&b, "  %-10s expected %d, counted %d, difference %+d\n",
				item.Plan, item.ExpectedQty, *item.ClosingDeclaredQty, *item.Discrepancy)
		}
	}

	if closure.ClosingObservations != "" {
		b.WriteString("\nObservations: " + closure.ClosingObservations + "\n")
	}
	return b.String()
}
