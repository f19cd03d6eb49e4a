package exporter

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hive-corporation/guardybot/internal/core/domain"
	"github.com/hive-corporation/guardybot/internal/core/ports"
)

const (
	cefVendor  = "HiveCorporation"
	cefProduct = "GuardyBot"
	cefVersion = "1.0"

	maxFeedEntries = 10000
)

// CEFExporter exports the delivery audit log in Common Event Format for SIEM ingestion
type CEFExporter struct {
	repo ports.DeliveryRepository
}

func NewCEFExporter(repo ports.DeliveryRepository) *CEFExporter {
	return &CEFExporter{repo: repo}
}

// Export generates a CEF feed of deliveries processed since the given time.
// Format: CEF:Version|Device Vendor|Device Product|Device Version|Signature ID|Name|Severity|Extension
func (e *CEFExporter) Export(ctx context.Context, since time.Time) (string, error) {
	// Default to last 24 hours if no time specified
	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}

	deliveries, err := e.repo.FindSince(ctx, since, maxFeedEntries)
	if err != nil {
		return "", fmt.Errorf("failed to fetch deliveries: %w", err)
	}

	var output strings.Builder
	for _, d := range deliveries {
		output.WriteString(FormatDelivery(d))
		output.WriteString("\n")
	}

	return output.String(), nil
}

// FormatDelivery renders one audit record as a CEF line.
func FormatDelivery(d domain.Delivery) string {
	name := fmt.Sprintf("GuardDuty finding %s", d.Status)

	extensions := []string{
		fmt.Sprintf("rt=%d", d.ProcessedAt.UnixMilli()),
		"cs1Label=FindingId",
		fmt.Sprintf("cs1=%s", escapeExtension(d.FindingID)),
		"cs2Label=Account",
		fmt.Sprintf("cs2=%s", escapeExtension(d.AccountID)),
		"cs3Label=Region",
		fmt.Sprintf("cs3=%s", escapeExtension(d.Region)),
		"cs4Label=Notifier",
		fmt.Sprintf("cs4=%s", escapeExtension(d.Notifier)),
		"cs5Label=Tier",
		fmt.Sprintf("cs5=%s", escapeExtension(string(d.Tier))),
		"cn1Label=OccurrenceCount",
		fmt.Sprintf("cn1=%d", d.Count),
		fmt.Sprintf("outcome=%s", escapeExtension(string(d.Status))),
		fmt.Sprintf("externalId=%s", escapeExtension(d.ID)),
	}
	if d.Detail != "" {
		extensions = append(extensions, fmt.Sprintf("msg=%s", escapeExtension(d.Detail)))
	}

	return formatCEF(d.FindingType, name, cefSeverity(d.Severity), extensions)
}

// FormatFinding renders a single finding as a CEF line, for piping into a SIEM
// without going through the audit log.
func FormatFinding(f domain.Finding, attrs domain.PresentationAttributes) string {
	name := f.Title
	if name == "" {
		name = f.Type
	}

	extensions := []string{
		fmt.Sprintf("rt=%d", f.Timestamp().UnixMilli()),
		"cs1Label=FindingId",
		fmt.Sprintf("cs1=%s", escapeExtension(f.ID)),
		"cs2Label=Account",
		fmt.Sprintf("cs2=%s", escapeExtension(f.AccountID)),
		"cs3Label=Region",
		fmt.Sprintf("cs3=%s", escapeExtension(f.Region)),
		"cs5Label=Tier",
		fmt.Sprintf("cs5=%s", escapeExtension(string(attrs.Tier))),
		"cn1Label=OccurrenceCount",
		fmt.Sprintf("cn1=%d", f.Count),
		fmt.Sprintf("start=%d", f.FirstSeen.UnixMilli()),
		fmt.Sprintf("end=%d", f.LastSeen.UnixMilli()),
	}
	if link := domain.ConsoleLink(f); link != "" {
		extensions = append(extensions, fmt.Sprintf("request=%s", escapeExtension(link)))
	}

	return formatCEF(f.Type, name, cefSeverity(f.Severity), extensions)
}

func formatCEF(signatureID, name string, severity int, extensions []string) string {
	return fmt.Sprintf("CEF:0|%s|%s|%s|%s|%s|%d|%s",
		cefVendor, cefProduct, cefVersion,
		escapeHeader(signatureID), escapeHeader(name), severity,
		strings.Join(extensions, " "))
}

// cefSeverity maps the 0-10 GuardDuty score onto CEF's 0-10 integer scale.
func cefSeverity(score float64) int {
	return int(math.Round(domain.ClampSeverity(score)))
}

func escapeHeader(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func escapeExtension(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "=", "\\=")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	return s
}
