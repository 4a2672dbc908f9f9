// Package notify mails operator-facing reports once a batch run ends.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"coursewatch/lib/telemetry"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("coursewatch.lib.notify")

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
}

// Enabled reports whether enough of the config is present to send mail.
func (c SmtpConfig) Enabled() bool {
	return c.Server != "" && c.EmailAddress != ""
}

type Mailer struct {
	config SmtpConfig
}

func NewMailer(config SmtpConfig) Mailer {
	return Mailer{config: config}
}

// BatchLine is one resource's outcome in a batch report.
type BatchLine struct {
	VideoId        int64
	Name           string
	Signal         string
	Success        bool
	WatchedSeconds int64
	Detail         string
}

type BatchReport struct {
	Course string
	Lines  []BatchLine
}

// FormatBatchReport renders the plain-text mail body for a batch run.
func FormatBatchReport(report BatchReport) string {
	finished := 0
	for _, line := range report.Lines {
		if line.Success {
			finished++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Watch batch for %s has ended.\n\n", report.Course)
	fmt.Fprintf(&b, "%d attempted, %d finished, %d failed.\n\n",
		len(report.Lines), finished, len(report.Lines)-finished)

	for _, line := range report.Lines {
		fmt.Fprintf(&b, "[%d] %s - %s (watched %ds)",
			line.VideoId, line.Name, line.Signal, line.WatchedSeconds)
		if line.Detail != "" {
			fmt.Fprintf(&b, ": %s", line.Detail)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// SendBatchReport mails the report to a single recipient.
func (m Mailer) SendBatchReport(ctx context.Context, to string, report BatchReport) error {
	ctx, span := tracer.Start(ctx, "SendBatchReport")
	defer span.End()

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Course Watch <%s>", m.config.EmailAddress)
	mail.To = []string{to}
	mail.Subject = fmt.Sprintf("Watch batch report - %s", report.Course)
	mail.Text = []byte(FormatBatchReport(report))

	addr := fmt.Sprintf("%s:%d", m.config.Server, m.config.Port)
	err := mail.Send(addr, smtp.PlainAuth(
		"", m.config.EmailAddress, m.config.Password, m.config.Server,
	))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}
	return nil
}
