package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hive-corporation/guardybot/internal/adapter/httpclient"
	"github.com/hive-corporation/guardybot/internal/adapter/metrics"
	"github.com/hive-corporation/guardybot/internal/core/domain"
)

// DefaultAPIURL is the Slack Web API method used in bot mode.
const DefaultAPIURL = "https://slack.com/api/chat.postMessage"

// ErrNotConfigured is returned when neither a webhook nor a bot token is set.
var ErrNotConfigured = errors.New("slack notifier needs a webhook URL or a bot token")

// SlackConfig selects the delivery mode. A webhook URL wins over a bot token.
type SlackConfig struct {
	WebhookURL string
	BotToken   string
	Channel    string
	APIURL     string
	Timeout    time.Duration
}

// SlackNotifier posts rendered findings to Slack as a single attachment.
type SlackNotifier struct {
	config     SlackConfig
	httpClient *httpclient.ResilientClient
	logger     *slog.Logger
}

func NewSlackNotifier(config SlackConfig, clientConfig httpclient.Config, logger *slog.Logger) (*SlackNotifier, error) {
	if config.WebhookURL == "" && config.BotToken == "" {
		return nil, ErrNotConfigured
	}
	if config.APIURL == "" {
		config.APIURL = DefaultAPIURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &SlackNotifier{config: config, logger: logger}
	s.httpClient = httpclient.New(s.Name(), config.Timeout, clientConfig, logger)
	return s, nil
}

// Name reports the delivery mode, used as a metrics label and in the audit log.
func (s *SlackNotifier) Name() string {
	if s.config.WebhookURL != "" {
		return "slack-webhook"
	}
	return "slack-bot"
}

// Notify sends one message. It is safe for concurrent use.
func (s *SlackNotifier) Notify(ctx context.Context, msg domain.OutboundMessage) error {
	payload := BuildPayload(msg)

	if s.config.WebhookURL != "" {
		return s.sendMessage(ctx, s.config.WebhookURL, "", payload)
	}

	payload.Channel = s.config.Channel
	return s.sendMessage(ctx, s.config.APIURL, s.config.BotToken, payload)
}

// BuildPayload converts a rendered message into Slack's attachment format.
func BuildPayload(msg domain.OutboundMessage) SlackMessage {
	fields := make([]SlackField, 0, len(msg.Fields))
	for _, f := range msg.Fields {
		fields = append(fields, SlackField{Title: f.Name, Value: escapeText(f.Value), Short: f.Inline})
	}

	fallback := escapeText(msg.Fallback)
	attachment := SlackAttachment{
		Fallback:   fallback,
		Color:      msg.Color,
		Pretext:    escapeText(msg.Pretext),
		Title:      escapeText(msg.Title),
		TitleLink:  msg.TitleLink,
		Fields:     fields,
		MarkdownIn: []string{"pretext", "fields"},
	}
	if msg.Footer != nil {
		attachment.Footer = msg.Footer.Text
		if msg.Footer.Link != "" {
			attachment.Footer = fmt.Sprintf("<%s|%s>", msg.Footer.Link, msg.Footer.Text)
		}
	}
	if !msg.Timestamp.IsZero() {
		attachment.Timestamp = msg.Timestamp.Unix()
	}

	return SlackMessage{
		Text:        fallback,
		Attachments: []SlackAttachment{attachment},
		LinkNames:   true,
	}
}

// Finding text can carry attacker-chosen strings (user agents, object keys).
// Escaping Slack's control characters stops them from forming links or
// <!channel> mentions.
var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeText(s string) string {
	return slackEscaper.Replace(s)
}

// Send message to Slack
func (s *SlackNotifier) sendMessage(ctx context.Context, url, token string, msg SlackMessage) error {
	timer := metrics.StartTimer(s.Name())
	defer timer.ObserveDuration()

	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode)
	}

	// Webhooks answer with a plain "ok"; the Web API always answers 200 and
	// reports failures in the body.
	if token == "" {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("failed to read slack response: %w", err)
	}
	var apiResp slackAPIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return fmt.Errorf("failed to decode slack response: %w", err)
	}
	if !apiResp.OK {
		metrics.RecordDispatchError("rejected")
		return fmt.Errorf("slack API rejected message: %s", apiResp.Error)
	}

	s.logger.Debug("slack message posted", "channel", apiResp.Channel, "ts", apiResp.TS)
	return nil
}

// Slack API structures

type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"` // Fallback text
	Attachments []SlackAttachment `json:"attachments"`
	LinkNames   bool              `json:"link_names"`
}

type SlackAttachment struct {
	Fallback   string       `json:"fallback"`
	Color      string       `json:"color,omitempty"`
	Pretext    string       `json:"pretext,omitempty"`
	Title      string       `json:"title"`
	TitleLink  string       `json:"title_link,omitempty"`
	Fields     []SlackField `json:"fields"`
	Footer     string       `json:"footer,omitempty"`
	Timestamp  int64        `json:"ts,omitempty"`
	MarkdownIn []string     `json:"mrkdwn_in,omitempty"`
}

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAPIResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Channel string `json:"channel,omitempty"`
	TS      string `json:"ts,omitempty"`
}
