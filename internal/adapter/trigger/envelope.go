package trigger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// GuardDutySource is the EventBridge source of GuardDuty findings.
const GuardDutySource = "aws.guardduty"

// ErrNotGuardDuty is returned for EventBridge events from another source.
var ErrNotGuardDuty = errors.New("event is not a GuardDuty finding")

// SNS HTTP message types.
const (
	SNSNotification             = "Notification"
	SNSSubscriptionConfirmation = "SubscriptionConfirmation"
	SNSUnsubscribeConfirmation  = "UnsubscribeConfirmation"
)

// SNSHTTPMessage is the body SNS POSTs to an HTTP(S) subscription.
type SNSHTTPMessage struct {
	Type             string `json:"Type"`
	MessageID        string `json:"MessageId"`
	Token            string `json:"Token,omitempty"`
	TopicArn         string `json:"TopicArn"`
	Subject          string `json:"Subject,omitempty"`
	Message          string `json:"Message"`
	Timestamp        string `json:"Timestamp"`
	SignatureVersion string `json:"SignatureVersion"`
	Signature        string `json:"Signature"`
	SigningCertURL   string `json:"SigningCertURL"`
	SubscribeURL     string `json:"SubscribeURL,omitempty"`
	UnsubscribeURL   string `json:"UnsubscribeURL,omitempty"`
}

// ParseSNSHTTP decodes an SNS HTTP delivery body.
func ParseSNSHTTP(body []byte) (SNSHTTPMessage, error) {
	var msg SNSHTTPMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("invalid SNS message: %w", err)
	}
	if msg.Type == "" {
		return msg, errors.New("invalid SNS message: missing Type")
	}
	return msg, nil
}

// ValidSubscribeURL reports whether u points at an SNS endpoint. Anything
// else would let a caller make us fetch arbitrary URLs.
func ValidSubscribeURL(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme != "https" {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	if !strings.HasPrefix(host, "sns.") {
		return false
	}
	return strings.HasSuffix(host, ".amazonaws.com") || strings.HasSuffix(host, ".amazonaws.com.cn")
}

// UnwrapSNSEvent extracts the finding payload from every record of a Lambda
// SNS event.
func UnwrapSNSEvent(evt events.SNSEvent) ([][]byte, error) {
	payloads := make([][]byte, 0, len(evt.Records))
	for i, record := range evt.Records {
		payload, err := ExtractFinding([]byte(record.SNS.Message))
		if err != nil {
			return nil, fmt.Errorf("record %d (%s): %w", i, record.SNS.MessageID, err)
		}
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

// ExtractFinding peels known envelopes off a payload: an SNS HTTP
// notification, an EventBridge event (whose detail is the finding), or
// nothing for a bare finding. Payloads that are not JSON objects are returned
// unchanged so the deserializer can report them.
func ExtractFinding(payload []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return payload, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return payload, nil
	}

	switch {
	case isEventBridge(probe):
		var evt events.CloudWatchEvent
		if err := json.Unmarshal(trimmed, &evt); err != nil {
			return nil, fmt.Errorf("invalid EventBridge event: %w", err)
		}
		if evt.Source != "" && evt.Source != GuardDutySource {
			return nil, fmt.Errorf("%w: source %q", ErrNotGuardDuty, evt.Source)
		}
		return evt.Detail, nil

	case isSNSNotification(probe):
		var msg SNSHTTPMessage
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return nil, fmt.Errorf("invalid SNS message: %w", err)
		}
		return ExtractFinding([]byte(msg.Message))
	}

	return trimmed, nil
}

func isEventBridge(probe map[string]json.RawMessage) bool {
	_, hasDetail := probe["detail"]
	_, hasDetailType := probe["detail-type"]
	_, hasSource := probe["source"]
	return hasDetail && (hasDetailType || hasSource)
}

func isSNSNotification(probe map[string]json.RawMessage) bool {
	_, hasType := probe["Type"]
	_, hasMessage := probe["Message"]
	_, hasTopic := probe["TopicArn"]
	return hasType && hasMessage && hasTopic
}
