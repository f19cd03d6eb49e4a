package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hive-corporation/guardybot/internal/core/domain"
	"github.com/hive-corporation/guardybot/internal/core/service"
)

func loadSample(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile("../../core/domain/testdata/k8s_privileged_container.json")
	require.NoError(t, err)
	return data
}

func eventBridge(t *testing.T, source string, detail []byte) []byte {
	t.Helper()
	evt := map[string]any{
		"version":     "0",
		"id":          "c8b7e1d4-0000-0000-0000-000000000000",
		"detail-type": "GuardDuty Finding",
		"source":      source,
		"account":     "123456789012",
		"time":        "2024-03-04T11:21:00Z",
		"region":      "eu-west-1",
		"resources":   []string{},
		"detail":      json.RawMessage(detail),
	}
	data, err := json.Marshal(evt)
	require.NoError(t, err)
	return data
}

func snsHTTP(t *testing.T, message []byte) []byte {
	t.Helper()
	data, err := json.Marshal(SNSHTTPMessage{
		Type:      SNSNotification,
		MessageID: "m-1",
		TopicArn:  "arn:aws:sns:eu-west-1:123456789012:guardduty",
		Message:   string(message),
	})
	require.NoError(t, err)
	return data
}

func TestExtractFinding(t *testing.T) {
	sample := loadSample(t)

	t.Run("bare finding", func(t *testing.T) {
		out, err := ExtractFinding(sample)
		require.NoError(t, err)
		assert.JSONEq(t, string(sample), string(out))
	})

	t.Run("eventbridge", func(t *testing.T) {
		out, err := ExtractFinding(eventBridge(t, GuardDutySource, sample))
		require.NoError(t, err)
		assert.JSONEq(t, string(sample), string(out))
	})

	t.Run("sns wrapping eventbridge", func(t *testing.T) {
		out, err := ExtractFinding(snsHTTP(t, eventBridge(t, GuardDutySource, sample)))
		require.NoError(t, err)
		f, err := domain.DecodeFinding(out)
		require.NoError(t, err)
		assert.Equal(t, "PrivilegeEscalation:Kubernetes/PrivilegedContainer", f.Type)
	})

	t.Run("other source", func(t *testing.T) {
		_, err := ExtractFinding(eventBridge(t, "aws.securityhub", sample))
		assert.True(t, errors.Is(err, ErrNotGuardDuty))
	})

	t.Run("non object passes through", func(t *testing.T) {
		for _, in := range []string{"", "[]", "garbage"} {
			out, err := ExtractFinding([]byte(in))
			require.NoError(t, err)
			assert.Equal(t, in, string(out))
		}
	})
}

func TestUnwrapSNSEvent(t *testing.T) {
	sample := loadSample(t)
	evt := events.SNSEvent{Records: []events.SNSEventRecord{
		{SNS: events.SNSEntity{MessageID: "a", Message: string(eventBridge(t, GuardDutySource, sample))}},
		{SNS: events.SNSEntity{MessageID: "b", Message: string(sample)}},
	}}

	payloads, err := UnwrapSNSEvent(evt)
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	for _, p := range payloads {
		assert.JSONEq(t, string(sample), string(p))
	}

	evt.Records[1].SNS.Message = string(eventBridge(t, "aws.ec2", sample))
	_, err = UnwrapSNSEvent(evt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 1 (b)")
}

func TestValidSubscribeURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://sns.us-east-1.amazonaws.com/?Action=ConfirmSubscription&Token=x", true},
		{"https://sns.cn-north-1.amazonaws.com.cn/?Action=ConfirmSubscription", true},
		{"http://sns.us-east-1.amazonaws.com/", false},
		{"https://evil.example.com/?sns.amazonaws.com", false},
		{"https://sns.us-east-1.amazonaws.com.evil.io/", false},
		{"https://s3.amazonaws.com/", false},
		{"::not a url", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidSubscribeURL(tt.url))
		})
	}
}

func TestParseSNSHTTP(t *testing.T) {
	msg, err := ParseSNSHTTP(snsHTTP(t, []byte("{}")))
	require.NoError(t, err)
	assert.Equal(t, SNSNotification, msg.Type)

	_, err = ParseSNSHTTP([]byte(`{"Message":"x"}`))
	assert.Error(t, err)

	_, err = ParseSNSHTTP([]byte(`nope`))
	assert.Error(t, err)
}

type stubProcessor struct {
	payloads [][]byte
	err      error
}

func (s *stubProcessor) Process(ctx context.Context, payload []byte) (service.Outcome, error) {
	s.payloads = append(s.payloads, payload)
	if s.err != nil {
		return service.Outcome{}, s.err
	}
	return service.Outcome{FindingID: "f", Status: domain.DeliverySent}, nil
}

func TestLambdaHandler_Handle(t *testing.T) {
	sample := loadSample(t)
	evt := events.SNSEvent{Records: []events.SNSEventRecord{
		{SNS: events.SNSEntity{MessageID: "a", Message: string(eventBridge(t, GuardDutySource, sample))}},
		{SNS: events.SNSEntity{MessageID: "b", Message: string(sample)}},
	}}

	t.Run("processes every record", func(t *testing.T) {
		proc := &stubProcessor{}
		require.NoError(t, NewLambdaHandler(proc, nil).Handle(context.Background(), evt))
		assert.Len(t, proc.payloads, 2)
	})

	t.Run("fails the invocation on error", func(t *testing.T) {
		proc := &stubProcessor{err: service.ErrDispatch}
		err := NewLambdaHandler(proc, nil).Handle(context.Background(), evt)
		require.Error(t, err)
		assert.ErrorIs(t, err, service.ErrDispatch)
		assert.Len(t, proc.payloads, 1)
	})

	t.Run("end to end with the real pipeline", func(t *testing.T) {
		p := service.NewFindingProcessor(&recordingNotifier{})
		require.NoError(t, NewLambdaHandler(p, nil).Handle(context.Background(), evt))
	})
}

type recordingNotifier struct{ sent []domain.OutboundMessage }

func (r *recordingNotifier) Notify(ctx context.Context, msg domain.OutboundMessage) error {
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingNotifier) Name() string { return "recording" }
