package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SlackNotifier posts notifications to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title,omitempty"`
	Text   string       `json:"text"`
	Fields []SlackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
}

// SlackField is a short key/value line in an attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates a new Slack notifier
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ToJSON converts the message to JSON
func (m *SlackMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SlackColor returns the Slack color for a notification type
func SlackColor(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "good"
	case NotifyWarning:
		return "warning"
	case NotifyError:
		return "danger"
	default:
		return "#439FE0"
	}
}

// BuildMessage renders n as a webhook payload
func BuildMessage(n Notification) SlackMessage {
	att := SlackAttachment{
		Color:  SlackColor(n.Type),
		Text:   n.Message,
		Footer: "Mailbox Export Orchestrator",
	}
	if n.BatchID != "" {
		att.Fields = append(att.Fields, SlackField{Title: "Batch", Value: string(n.BatchID), Short: true})
	}
	if n.ReportPath != "" {
		att.Fields = append(att.Fields, SlackField{Title: "Report", Value: n.ReportPath, Short: true})
	}
	return SlackMessage{Text: n.Title, Attachments: []SlackAttachment{att}}
}

// Send sends a notification to Slack
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil // Disabled
	}

	msg := BuildMessage(n)
	payload, err := msg.ToJSON()
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}

	return nil
}
