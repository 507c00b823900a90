package alerting

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/chrisdamba/trafficdatasim/internal/models"
	"go.uber.org/zap"
)

const subjectPrefix = "CAIRO TRAFFIC ALERT - "

type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, string) error { return nil }

// RenderMessage builds the e-mail subject and plain text body for an alert.
func RenderMessage(alert models.AlertRecord) (string, string) {
	event := alert.SourceEvent

	var b strings.Builder
	fmt.Fprintf(&b, "Traffic alert at %s\n\n", alert.LocationName)
	fmt.Fprintf(&b, "Time: %s\n", alert.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Severity: %s\n", alert.Severity)
	b.WriteString("Alerts:\n")
	for _, label := range alert.AlertLabels {
		fmt.Fprintf(&b, "  - %s\n", label)
	}
	fmt.Fprintf(&b, "Average speed: %.2f km/h\n", event.AverageSpeedKMH)
	fmt.Fprintf(&b, "Congestion: %.2f%%\n", event.CongestionPercentage)
	fmt.Fprintf(&b, "Vehicle count: %d\n", event.VehicleCount)

	return subjectPrefix + alert.LocationName, b.String()
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends alerts over SMTP with PLAIN auth. With incomplete settings it
// logs once and sends nothing.
type EmailNotifier struct {
	cfg      models.SMTPConfig
	logger   *zap.Logger
	sendMail sendMailFunc
}

func NewEmailNotifier(cfg models.SMTPConfig, logger *zap.Logger) *EmailNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Configured() {
		logger.Info("smtp not configured, alert e-mails disabled")
	}
	return &EmailNotifier{cfg: cfg, logger: logger, sendMail: smtp.SendMail}
}

func (n *EmailNotifier) Notify(ctx context.Context, subject, body string) error {
	if !n.cfg.Configured() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	username := n.cfg.Username
	if username == "" {
		username = n.cfg.From
	}
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	auth := smtp.PlainAuth("", username, n.cfg.Password, n.cfg.Host)

	if err := n.sendMail(addr, auth, n.cfg.From, n.cfg.To, n.buildMessage(subject, body)); err != nil {
		return fmt.Errorf("failed to send alert e-mail via %s: %w", addr, err)
	}
	n.logger.Debug("alert e-mail sent", zap.String("subject", subject), zap.Strings("to", n.cfg.To))
	return nil
}

func (n *EmailNotifier) buildMessage(subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
