package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/spf13/cobra"

	"github.com/hive-corporation/guardybot/internal/adapter/exporter"
	"github.com/hive-corporation/guardybot/internal/adapter/notifier"
	"github.com/hive-corporation/guardybot/internal/adapter/trigger"
	"github.com/hive-corporation/guardybot/internal/app"
	"github.com/hive-corporation/guardybot/internal/config"
	"github.com/hive-corporation/guardybot/internal/core/domain"
	"github.com/hive-corporation/guardybot/internal/core/service"
)

func newClassifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify TYPE",
		Short: "Show how a finding type string is classified",
		Example: `  guardybot classify Recon:EC2/PortProbeUnprotectedPort
  guardybot classify --json CryptoCurrency:Runtime/BitcoinTool.B`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			processor, err := offlineProcessor(cmd)
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")

			t := processor.Classify(args[0])
			out := cmd.OutOrStdout()
			if asJSON {
				return writeIndented(out, t)
			}

			fmt.Fprintf(out, "Type:       %s\n", t.Raw)
			fmt.Fprintf(out, "Purpose:    %s\n", orDash(t.ThreatPurpose))
			fmt.Fprintf(out, "Namespace:  %s\n", orDash(t.ResourceNamespace))
			fmt.Fprintf(out, "Artifact:   %s\n", orDash(t.Artifact))
			fmt.Fprintf(out, "Recognized: %t\n", t.Recognized)
			if link := domain.DocsLink(t); link != "" {
				fmt.Fprintf(out, "Docs:       %s\n", link)
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print the taxonomy as JSON")
	return cmd
}

func newRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a finding without sending it",
		Long: `Render reads a finding (bare, EventBridge event or SNS message) and prints
the resulting notification. Formats: message (neutral JSON), slack
(the Slack payload) and cef (one CEF line).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			processor, err := offlineProcessor(cmd)
			if err != nil {
				return err
			}
			file, _ := cmd.Flags().GetString("file")
			format, _ := cmd.Flags().GetString("format")

			payloads, err := readPayloads(cmd, file)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, payload := range payloads {
				outcome, err := processor.Preview(cmd.Context(), payload)
				if err != nil {
					return err
				}

				switch format {
				case "message":
					err = writeIndented(out, outcome.Message)
				case "slack":
					err = writeIndented(out, notifier.BuildPayload(outcome.Message))
				case "cef":
					pr := processor.CurrentPresentation()
					attrs := pr.Presenter.Present(outcome.Finding.Severity, outcome.Finding.Taxonomy)
					_, err = fmt.Fprintln(out, exporter.FormatFinding(outcome.Finding, attrs))
				default:
					return fmt.Errorf("unsupported format %q (use message, slack or cef)", format)
				}
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "-", "finding file, - for stdin")
	cmd.Flags().String("format", "message", "output format: message, slack or cef")
	return cmd
}

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Run a finding through the full pipeline and deliver it",
		Long: `Send uses the same environment as the Lambda (WEBHOOK_URL or
SLACK_BOT_TOKEN, REDIS_URL, DATABASE_URL, PRESENTATION_CONFIG) and delivers
every finding in the file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadEnv()
			if err != nil {
				return err
			}
			if path, _ := cmd.Flags().GetString("config"); path != "" {
				cfg.PresentationPath = path
			}
			if !cfg.HasNotifier() {
				return fmt.Errorf("set WEBHOOK_URL or SLACK_BOT_TOKEN to send findings")
			}

			logger := config.NewLogger(cfg.LogLevel, false)
			application, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer application.Close()

			file, _ := cmd.Flags().GetString("file")
			payloads, err := readPayloads(cmd, file)
			if err != nil {
				return err
			}

			for _, payload := range payloads {
				outcome, err := application.Processor.Process(cmd.Context(), payload)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", statusIcon(outcome.Status), outcome.FindingID, outcome.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "-", "finding file, - for stdin")
	return cmd
}

// offlineProcessor builds a processor with no notifier or storage, for the
// commands that never deliver anything.
func offlineProcessor(cmd *cobra.Command) (*service.FindingProcessor, error) {
	path, _ := cmd.Flags().GetString("config")
	pr, err := config.LoadPresentation(path)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	return service.NewFindingProcessor(nil,
		service.WithPresentation(pr),
		service.WithLogger(logger),
	), nil
}

// readPayloads returns the finding payloads in a file. A Lambda SNS event
// (a saved test event) yields one payload per record.
func readPayloads(cmd *cobra.Command, file string) ([][]byte, error) {
	var data []byte
	var err error
	if file == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("read finding: %w", err)
	}

	if bytes.Contains(data, []byte(`"Records"`)) {
		var evt events.SNSEvent
		if err := json.Unmarshal(data, &evt); err == nil && len(evt.Records) > 0 {
			return trigger.UnwrapSNSEvent(evt)
		}
	}

	payload, err := trigger.ExtractFinding(data)
	if err != nil {
		return nil, err
	}
	return [][]byte{payload}, nil
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusIcon(status domain.DeliveryStatus) string {
	switch status {
	case domain.DeliverySent:
		return "📣"
	case domain.DeliveryMuted:
		return "🔇"
	case domain.DeliveryDuplicate:
		return "♻️"
	default:
		return "❌"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
