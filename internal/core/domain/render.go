package domain

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// TimeLayout is how first/last seen timestamps are shown.
const TimeLayout = "Mon Jan _2 15:04:05 2006 MST"

// FooterText signs every message.
const FooterText = "GuardyBot"

// maxGenericLines bounds the generic resource dump so a huge resource block
// cannot push the rest of the message out of the chat client.
const maxGenericLines = 25

// Render builds the outbound message. It performs no I/O and never fails.
func Render(f Finding, p PresentationAttributes) OutboundMessage {
	title := f.Title
	if title == "" {
		title = f.Type
	}

	msg := OutboundMessage{
		Title:     strings.TrimSpace(fmt.Sprintf("%s %s: %s (%s, account %s)", p.IconRef, p.DisplayLabel, title, f.Region, f.AccountID)),
		TitleLink: DocsLink(f.Taxonomy),
		Pretext:   pretext(f, p),
		Fallback:  fmt.Sprintf("GuardDuty:%s in %s %s", f.Type, f.AccountID, f.Region),
		Color:     p.Color,
		Tier:      p.Tier,
		Timestamp: f.Timestamp(),
		Footer: &Footer{
			Text: FooterText,
			Link: ConsoleLink(f),
		},
	}

	msg.Fields = []Field{
		{Name: FieldSeverity, Value: formatSeverity(f.Severity, p.Tier), Inline: true},
		{Name: FieldRegion, Value: orNone(f.Region), Inline: true},
		{Name: FieldAccount, Value: orNone(f.AccountID), Inline: true},
		{Name: FieldResource, Value: ResourceSummary(f.Resource), Inline: false},
		{Name: FieldFirstSeen, Value: f.FirstSeen.UTC().Format(TimeLayout), Inline: true},
		{Name: FieldLastSeen, Value: f.LastSeen.UTC().Format(TimeLayout), Inline: true},
		{Name: FieldCount, Value: strconv.Itoa(f.Count), Inline: true},
		{Name: FieldDescription, Value: orNone(f.Description), Inline: false},
	}

	return msg
}

func pretext(f Finding, p PresentationAttributes) string {
	s := fmt.Sprintf("*Finding in %s from account %s*", f.Region, f.AccountID)
	if !f.Taxonomy.Recognized {
		s += fmt.Sprintf(" type `%s`", f.Type)
	}
	if p.Mention != "" {
		s += " " + p.Mention
	}
	return s
}

func formatSeverity(severity float64, tier ColorTier) string {
	return fmt.Sprintf("%s (%s)", strconv.FormatFloat(severity, 'f', 1, 64), tier.DisplayName())
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

// ConsoleLink points at the finding in the GuardDuty console for its
// partition. Unknown partitions get no link.
func ConsoleLink(f Finding) string {
	if f.ID == "" || f.Region == "" {
		return ""
	}
	var host string
	switch f.Partition {
	case "", "aws":
		host = f.Region + ".console.aws.amazon.com"
	case "aws-cn":
		host = f.Region + ".console.amazonaws.cn"
	case "aws-us-gov":
		host = "console.amazonaws-us-gov.com"
	default:
		return ""
	}
	return fmt.Sprintf("https://%s/guardduty/home?region=%s#/findings?macros=current&fId=%s",
		host, url.QueryEscape(f.Region), url.QueryEscape(f.ID))
}

// ResourceSummary formats the resource block through its variant. A variant
// that yields nothing falls back to the generic dump so no detail is lost.
func ResourceSummary(r Resource) string {
	if r == nil {
		return "(no resource details)"
	}

	var lines []string
	switch res := r.(type) {
	case KubernetesResource:
		lines = kubernetesLines(res)
	case InstanceResource:
		lines = instanceLines(res)
	case AccessKeyResource:
		lines = accessKeyLines(res)
	case S3Resource:
		lines = s3Lines(res)
	}

	if len(lines) == 0 {
		lines = genericLines(r.Raw())
	}
	if len(lines) == 0 {
		return "(no resource details)"
	}
	return strings.Join(lines, "\n")
}

func kubernetesLines(r KubernetesResource) []string {
	var lines []string
	if r.ClusterName != "" {
		lines = append(lines, fmt.Sprintf("Cluster: `%s`", r.ClusterName))
	}
	if r.WorkloadName != "" {
		workload := r.WorkloadName
		if r.WorkloadNamespace != "" {
			workload = r.WorkloadNamespace + "/" + r.WorkloadName
		}
		if r.WorkloadType != "" {
			lines = append(lines, fmt.Sprintf("Workload: `%s` (%s)", workload, r.WorkloadType))
		} else {
			lines = append(lines, fmt.Sprintf("Workload: `%s`", workload))
		}
	}
	if r.Username != "" {
		lines = append(lines, fmt.Sprintf("Kubernetes user: `%s`", r.Username))
	}
	return lines
}

func instanceLines(r InstanceResource) []string {
	var lines []string
	if r.InstanceID != "" {
		if r.InstanceType != "" {
			lines = append(lines, fmt.Sprintf("Instance: `%s` (%s)", r.InstanceID, r.InstanceType))
		} else {
			lines = append(lines, fmt.Sprintf("Instance: `%s`", r.InstanceID))
		}
	}
	if r.Name != "" {
		lines = append(lines, fmt.Sprintf("Name: %s", r.Name))
	}
	if r.AvailabilityZone != "" {
		lines = append(lines, fmt.Sprintf("Availability zone: %s", r.AvailabilityZone))
	}
	if r.ImageID != "" {
		lines = append(lines, fmt.Sprintf("AMI: `%s`", r.ImageID))
	}
	return lines
}

func accessKeyLines(r AccessKeyResource) []string {
	var lines []string
	if r.UserName != "" {
		if r.UserType != "" {
			lines = append(lines, fmt.Sprintf("User: `%s` (%s)", r.UserName, r.UserType))
		} else {
			lines = append(lines, fmt.Sprintf("User: `%s`", r.UserName))
		}
	}
	if r.AccessKeyID != "" {
		lines = append(lines, fmt.Sprintf("Access key: `%s`", r.AccessKeyID))
	}
	if r.PrincipalID != "" {
		lines = append(lines, fmt.Sprintf("Principal: `%s`", r.PrincipalID))
	}
	return lines
}

func s3Lines(r S3Resource) []string {
	var lines []string
	if len(r.Buckets) > 0 {
		quoted := make([]string, len(r.Buckets))
		for i, b := range r.Buckets {
			quoted[i] = "`" + b + "`"
		}
		lines = append(lines, "Buckets: "+strings.Join(quoted, ", "))
	}
	if r.UserName != "" {
		lines = append(lines, fmt.Sprintf("User: `%s`", r.UserName))
	}
	return lines
}

func genericLines(raw map[string]any) []string {
	lines := FlattenResource(raw)
	if len(lines) > maxGenericLines {
		extra := len(lines) - maxGenericLines
		lines = append(lines[:maxGenericLines:maxGenericLines], fmt.Sprintf("... and %d more", extra))
	}
	return lines
}
