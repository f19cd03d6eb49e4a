package trigger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/hive-corporation/guardybot/internal/core/service"
)

// Processor is the part of the pipeline a trigger needs.
type Processor interface {
	Process(ctx context.Context, payload []byte) (service.Outcome, error)
}

// LambdaHandler runs every record of an SNS-triggered invocation through the
// pipeline. Returning an error fails the invocation so Lambda retries it.
type LambdaHandler struct {
	processor Processor
	logger    *slog.Logger
}

func NewLambdaHandler(processor Processor, logger *slog.Logger) *LambdaHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LambdaHandler{processor: processor, logger: logger}
}

func (h *LambdaHandler) Handle(ctx context.Context, evt events.SNSEvent) error {
	for i, record := range evt.Records {
		payload, err := ExtractFinding([]byte(record.SNS.Message))
		if err != nil {
			return fmt.Errorf("record %d (%s): %w", i, record.SNS.MessageID, err)
		}

		out, err := h.processor.Process(ctx, payload)
		if err != nil {
			return fmt.Errorf("record %d (%s): %w", i, record.SNS.MessageID, err)
		}

		h.logger.Info("✅ processed SNS record",
			"message_id", record.SNS.MessageID,
			"finding_id", out.FindingID,
			"status", out.Status,
		)
	}
	return nil
}
