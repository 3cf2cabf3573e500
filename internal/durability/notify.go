package durability

import (
	"fmt"

	"github.com/slack-go/slack"
)

// HumanGateNotifier posts a pending-approval message to a Slack
// incoming webhook when a runbook parks on a HumanApproval gate.
// It is the egress side of the human-gate mechanism; the
// approval/rejection itself comes back through Resume via a domain
// verb, not through Slack's API.
type HumanGateNotifier struct {
	webhookURL string
}

// NewHumanGateNotifier binds a notifier to one incoming webhook URL. A
// blank URL makes Notify a no-op, for environments without a
// configured Slack integration.
func NewHumanGateNotifier(webhookURL string) *HumanGateNotifier {
	return &HumanGateNotifier{webhookURL: webhookURL}
}

// Notify posts a human-gate pending message naming the runbook, step,
// and correlation key an approver needs to act on.
func (n *HumanGateNotifier) Notify(runbookID string, stepIndex int, correlationKey, sentence string) error {
	if n.webhookURL == "" {
		return nil
	}
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf(
			"Human approval required: *%s* (runbook `%s`, step %d, correlation `%s`)",
			sentence, runbookID, stepIndex, correlationKey,
		),
	}
	return slack.PostWebhook(n.webhookURL, msg)
}
