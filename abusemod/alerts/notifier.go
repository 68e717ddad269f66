package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/magickw/linkdao-guard/abusemod/event"
)

// Interface for a type that can deliver an external alert.
type Notifier interface {
	SendAlert(ctx context.Context, ev event.AbuseEvent, finding event.Finding) error
}

type SlackNotifier struct {
	SlackWebhookURL string
	Client          *http.Client
}

var _ Notifier = (*SlackNotifier)(nil)

type slackWebhookBody struct {
	Text string `json:"text"`
}

func (n *SlackNotifier) SendAlert(ctx context.Context, ev event.AbuseEvent, finding event.Finding) error {
	msg := slackBody(ev, finding)
	return n.sendSlackMsg(ctx, msg)
}

// Sends a simple slack message to a channel via "incoming webhook".
//
// The slack incoming webhook must be already configured in the slack workplace.
func (n *SlackNotifier) sendSlackMsg(ctx context.Context, msg string) error {
	body, err := json.Marshal(slackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.SlackWebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != 200 || buf.String() != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}

func slackBody(ev event.AbuseEvent, finding event.Finding) string {
	msg := fmt.Sprintf("⚠️ Abuse Pattern Triggered ⚠️\n`%s` severity=%s subject=`%s` score=%.1f\n",
		ev.Pattern, string(ev.Severity), ev.Subject.String(), finding.Score)
	if len(finding.Indicators) > 0 {
		msg += fmt.Sprintf("Indicators: %s\n", strings.Join(finding.Indicators, "; "))
	}
	msg += fmt.Sprintf("Event: `%s`\n", ev.ID)
	return msg
}

// LogNotifier is the wiring default when no webhook is configured.
type LogNotifier struct {
	Log func(msg string, args ...any)
}

var _ Notifier = (*LogNotifier)(nil)

func (n *LogNotifier) SendAlert(ctx context.Context, ev event.AbuseEvent, finding event.Finding) error {
	n.Log("alert", "pattern", ev.Pattern, "severity", string(ev.Severity), "subject", ev.Subject.Key(), "score", finding.Score)
	return nil
}
