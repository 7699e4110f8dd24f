package notify

import (
	"context"
	"fmt"
	"strings"

	"fraud-detection-pipeline/internal/appcontext"
)

// AlertPublisher sends structured alerts to a downstream system.
type AlertPublisher interface {
	Publish(ctx context.Context, alert Alert) error
}

// Notifier fans a fraud alert out to every configured channel. Nil channels are skipped.
type Notifier struct {
	Email  Sender
	Alerts AlertPublisher
}

// NotifyFrauds emails a summary of the alert and publishes it. Failures are logged.
func (n *Notifier) NotifyFrauds(ctx context.Context, alert Alert) {
	if alert.Count == 0 {
		return
	}

	if n.Email != nil {
		subject, body := FraudAlertMessage(alert)
		n.Email.Send(ctx, subject, body)
	}

	if n.Alerts != nil {
		if err := n.Alerts.Publish(ctx, alert); err != nil {
			appcontext.LoggerFromContext(ctx).ErrorContext(ctx, "failed to publish fraud alert", "error", err)
		}
	}
}

// FraudAlertMessage renders the email for an alert.
func FraudAlertMessage(alert Alert) (string, string) {
	subject := fmt.Sprintf("Fraud alert: %d suspicious transaction(s) detected", alert.Count)

	var b strings.Builder
	fmt.Fprintf(&b, "%d transaction(s) were flagged as fraudulent at %s",
		alert.Count, alert.DetectedAt.Format("2006-01-02 15:04:05 MST"))
	if alert.ModelVersion != "" {
		fmt.Fprintf(&b, " by model version %s", alert.ModelVersion)
	}
	b.WriteString(".\n\n")

	for _, tx := range alert.Transactions {
		fmt.Fprintf(&b, "- %s: %s in %s at %s (probability %.2f)\n",
			tx.TransNum, tx.Amount.StringFixed(2), tx.Category, tx.Merchant, tx.Probability)
	}

	return subject, b.String()
}
