package alerting

import (
	"context"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"

	"github.com/apathy-ca/sark/internal/domain/behavior"
	"github.com/slack-go/slack"
)

// SlackWebhookSender posts alerts to a Slack incoming webhook.
type SlackWebhookSender struct {
	webhookURL string
}

// NewSlackWebhookSender constructs a SlackWebhookSender for webhookURL.
func NewSlackWebhookSender(webhookURL string) *SlackWebhookSender {
	return &SlackWebhookSender{webhookURL: webhookURL}
}

// Send implements SlackSender using slack-go/slack's webhook client.
func (s *SlackWebhookSender) Send(ctx context.Context, summary string, anomalies []behavior.Anomaly) error {
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("%s\n%s", summary, formatAnomalies(anomalies)),
	}
	return slack.PostWebhookContext(ctx, s.webhookURL, msg)
}

// PagerDutyEventsSender triggers an incident via the PagerDuty Events v2
// HTTP API. No PagerDuty client library appears anywhere in the retrieval
// pack, so this is a narrow stdlib net/http call.
type PagerDutyEventsSender struct {
	routingKey string
	client     *http.Client
}

// NewPagerDutyEventsSender constructs a PagerDutyEventsSender for the given
// integration routing key.
func NewPagerDutyEventsSender(routingKey string, client *http.Client) *PagerDutyEventsSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &PagerDutyEventsSender{routingKey: routingKey, client: client}
}

// Trigger implements PagerDutySender.
func (p *PagerDutyEventsSender) Trigger(ctx context.Context, summary string, anomalies []behavior.Anomaly) error {
	body := strings.NewReader(fmt.Sprintf(
		`{"routing_key":%q,"event_action":"trigger","payload":{"summary":%q,"severity":"critical","source":"sark"}}`,
		p.routingKey, summary,
	))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://events.pagerduty.com/v2/enqueue", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("pagerduty: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// SMTPEmailSender delivers plain-text alert emails via net/smtp. No SMTP
// client library appears in the retrieval pack either, for the same reason
// as PagerDuty above.
type SMTPEmailSender struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
}

// NewSMTPEmailSender constructs an SMTPEmailSender.
func NewSMTPEmailSender(addr string, auth smtp.Auth, from string, to []string) *SMTPEmailSender {
	return &SMTPEmailSender{addr: addr, auth: auth, from: from, to: to}
}

// Send implements EmailSender.
func (e *SMTPEmailSender) Send(ctx context.Context, summary string, anomalies []behavior.Anomaly) error {
	body := fmt.Sprintf("Subject: SARK anomaly alert\r\n\r\n%s\n%s", summary, formatAnomalies(anomalies))
	return smtp.SendMail(e.addr, e.auth, e.from, e.to, []byte(body))
}

func formatAnomalies(anomalies []behavior.Anomaly) string {
	lines := make([]string, 0, len(anomalies))
	for _, a := range anomalies {
		lines = append(lines, fmt.Sprintf("- [%s/%s] %s (confidence %.2f)", a.Kind, a.Severity, a.Detail, a.Confidence))
	}
	return strings.Join(lines, "\n")
}
