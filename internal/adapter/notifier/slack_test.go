package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hive-corporation/guardybot/internal/adapter/httpclient"
	"github.com/hive-corporation/guardybot/internal/core/domain"
)

func testMessage() domain.OutboundMessage {
	return domain.OutboundMessage{
		Title:     "🟠 High PrivilegeEscalation: Privileged container (eu-west-1, account 123456789012)",
		TitleLink: "https://docs.aws.amazon.com/guardduty/latest/ug/guardduty_finding-types-kubernetes.html",
		Pretext:   "*Finding in eu-west-1 from account 123456789012* @channel",
		Fallback:  "GuardDuty:PrivilegeEscalation:Kubernetes/PrivilegedContainer in 123456789012 eu-west-1",
		Color:     domain.ColorOrange,
		Tier:      domain.TierHigh,
		Fields: []domain.Field{
			{Name: domain.FieldSeverity, Value: "8.0 (High)", Inline: true},
			{Name: domain.FieldResource, Value: "Cluster: `payments-prod`", Inline: false},
		},
		Footer:    &domain.Footer{Text: domain.FooterText, Link: "https://console.example/finding"},
		Timestamp: time.Date(2024, 3, 4, 11, 20, 45, 0, time.UTC),
	}
}

func noRetry() httpclient.Config {
	return httpclient.Config{EnableCircuitBreaker: false, MaxRetries: 0}
}

func TestNewSlackNotifier_RequiresDestination(t *testing.T) {
	_, err := NewSlackNotifier(SlackConfig{}, noRetry(), nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestBuildPayload(t *testing.T) {
	payload := BuildPayload(testMessage())

	if len(payload.Attachments) != 1 {
		t.Fatalf("expected one attachment, got %d", len(payload.Attachments))
	}
	a := payload.Attachments[0]
	if a.Color != domain.ColorOrange {
		t.Errorf("color = %q", a.Color)
	}
	if a.Timestamp != 1709551245 {
		t.Errorf("ts = %d", a.Timestamp)
	}
	if a.Footer != "<https://console.example/finding|GuardyBot>" {
		t.Errorf("footer = %q", a.Footer)
	}
	if len(a.Fields) != 2 || !a.Fields[0].Short || a.Fields[1].Short {
		t.Errorf("fields = %+v", a.Fields)
	}
	if !payload.LinkNames {
		t.Error("link_names must be set so @channel mentions notify")
	}
	if payload.Text != a.Fallback {
		t.Errorf("text = %q, want fallback", payload.Text)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if strings.Contains(string(raw), "footer_icon") {
		t.Errorf("payload must not carry an empty footer_icon: %s", raw)
	}
}

func TestBuildPayload_EscapesFindingText(t *testing.T) {
	msg := testMessage()
	msg.Fields = []domain.Field{{Name: domain.FieldResource, Value: "UserAgent: <!channel> & <https://evil.example|click>"}}
	msg.Fallback = "GuardDuty:Recon:EC2/<!here> in 123456789012 eu-west-1"

	payload := BuildPayload(msg)
	a := payload.Attachments[0]
	wantFallback := "GuardDuty:Recon:EC2/&lt;!here&gt; in 123456789012 eu-west-1"
	if a.Fallback != wantFallback || payload.Text != wantFallback {
		t.Errorf("fallback/text = %q/%q, want %q", a.Fallback, payload.Text, wantFallback)
	}
	want := "UserAgent: &lt;!channel&gt; &amp; &lt;https://evil.example|click&gt;"
	if a.Fields[0].Value != want {
		t.Errorf("value = %q, want %q", a.Fields[0].Value, want)
	}
	if a.Footer != "<https://console.example/finding|GuardyBot>" {
		t.Errorf("footer link must stay clickable, got %q", a.Footer)
	}
}

func TestSlackNotifier_Webhook(t *testing.T) {
	var received SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("webhook mode must not send a bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("invalid payload: %v", err)
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	n, err := NewSlackNotifier(SlackConfig{WebhookURL: server.URL}, noRetry(), nil)
	if err != nil {
		t.Fatalf("NewSlackNotifier failed: %v", err)
	}
	if n.Name() != "slack-webhook" {
		t.Errorf("Name() = %q", n.Name())
	}

	if err := n.Notify(context.Background(), testMessage()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if received.Channel != "" {
		t.Errorf("webhook payload should not carry a channel, got %q", received.Channel)
	}
	if len(received.Attachments) != 1 || !strings.Contains(received.Attachments[0].Pretext, "@channel") {
		t.Errorf("unexpected payload: %+v", received)
	}
}

func TestSlackNotifier_BotMode(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"accepted", http.StatusOK, `{"ok":true,"channel":"C1","ts":"1.2"}`, ""},
		{"rejected", http.StatusOK, `{"ok":false,"error":"channel_not_found"}`, "channel_not_found"},
		{"bad status", http.StatusForbidden, `{}`, "403"},
		{"garbage body", http.StatusOK, `<html>`, "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotChannel, gotAuth string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				var msg SlackMessage
				json.NewDecoder(r.Body).Decode(&msg)
				gotChannel = msg.Channel
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			n, err := NewSlackNotifier(SlackConfig{
				BotToken: "xoxb-test",
				Channel:  "#security-alerts",
				APIURL:   server.URL,
			}, noRetry(), nil)
			if err != nil {
				t.Fatalf("NewSlackNotifier failed: %v", err)
			}

			err = n.Notify(context.Background(), testMessage())
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			} else if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}

			if gotAuth != "Bearer xoxb-test" {
				t.Errorf("Authorization = %q", gotAuth)
			}
			if gotChannel != "#security-alerts" {
				t.Errorf("channel = %q", gotChannel)
			}
		})
	}
}
