package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the endpoint's format. The
// generic format is the raw AlertEvent; slack and pagerduty shape the
// event for those receivers.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case "slack":
		return json.Marshal(slackPayload(event))
	case "pagerduty":
		return json.Marshal(pagerDutyPayload(event))
	default:
		return json.Marshal(event)
	}
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

func slackPayload(event AlertEvent) slackMessage {
	return slackMessage{Blocks: []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: fmt.Sprintf("causalvault: %s", event.Decision)},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Session:* %s", event.SessionID)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Step:* %d", event.StepID)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Confidence:* %.2f (%s)", event.Confidence, event.Class)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Reason:* %s", event.Reason)},
			},
		},
	}}
}

type pagerDutyEvent struct {
	EventAction string          `json:"event_action"`
	Payload     pagerDutyDetail `json:"payload"`
}

type pagerDutyDetail struct {
	Summary       string         `json:"summary"`
	Severity      string         `json:"severity"`
	Source        string         `json:"source"`
	CustomDetails map[string]any `json:"custom_details"`
}

func pagerDutyPayload(event AlertEvent) pagerDutyEvent {
	severity := "info"
	switch event.Decision {
	case "halt":
		severity = "critical"
	case "human_review_required":
		severity = "warning"
	}

	return pagerDutyEvent{
		EventAction: "trigger",
		Payload: pagerDutyDetail{
			Summary:  fmt.Sprintf("causalvault %s: %s step %d", event.Decision, event.SessionID, event.StepID),
			Severity: severity,
			Source:   "causalvault",
			CustomDetails: map[string]any{
				"session_id": event.SessionID,
				"step_id":    event.StepID,
				"trigger":    event.Trigger,
				"class":      event.Class,
				"confidence": event.Confidence,
				"reason":     event.Reason,
			},
		},
	}
}
