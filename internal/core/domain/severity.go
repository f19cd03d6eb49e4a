package domain

import (
	"fmt"
	"math"
)

// ColorTier is the presentation bucket derived from a numeric severity.
type ColorTier string

const (
	TierInformational ColorTier = "informational"
	TierLow           ColorTier = "low"
	TierMedium        ColorTier = "medium"
	TierHigh          ColorTier = "high"
	TierCritical      ColorTier = "critical"
)

// AllTiers returns tiers from least to most severe.
func AllTiers() []ColorTier {
	return []ColorTier{TierInformational, TierLow, TierMedium, TierHigh, TierCritical}
}

// IsValid returns true if the tier is one of the five known tiers.
func (t ColorTier) IsValid() bool {
	switch t {
	case TierInformational, TierLow, TierMedium, TierHigh, TierCritical:
		return true
	default:
		return false
	}
}

// DisplayName returns the capitalised tier name used in labels.
func (t ColorTier) DisplayName() string {
	switch t {
	case TierInformational:
		return "Informational"
	case TierLow:
		return "Low"
	case TierMedium:
		return "Medium"
	case TierHigh:
		return "High"
	case TierCritical:
		return "Critical"
	default:
		return string(t)
	}
}

// Tier colours, as hex strings understood by chat attachments.
const (
	ColorRed    = "#DF4661"
	ColorOrange = "#DB6B30"
	ColorYellow = "#FED141"
	ColorBlue   = "#00A3E0"
	ColorSilver = "#BABABA"
)

// Color returns the hex colour of the tier.
func (t ColorTier) Color() string {
	switch t {
	case TierCritical:
		return ColorRed
	case TierHigh:
		return ColorOrange
	case TierMedium:
		return ColorYellow
	case TierLow:
		return ColorBlue
	default:
		return ColorSilver
	}
}

// MaxSeverity is the top of the provider's severity scale.
const MaxSeverity = 10.0

// SeverityBands holds the inclusive lower bound of each tier above
// informational. Scores below Low are informational.
type SeverityBands struct {
	Low      float64 `yaml:"low" toml:"low" json:"low"`
	Medium   float64 `yaml:"medium" toml:"medium" json:"medium"`
	High     float64 `yaml:"high" toml:"high" json:"high"`
	Critical float64 `yaml:"critical" toml:"critical" json:"critical"`
}

// DefaultSeverityBands: [0,1) info, [1,4) low, [4,7) medium, [7,8.5) high, [8.5,10] critical.
func DefaultSeverityBands() SeverityBands {
	return SeverityBands{Low: 1, Medium: 4, High: 7, Critical: 8.5}
}

// Validate checks that the bounds are strictly ascending and inside the scale.
func (b SeverityBands) Validate() error {
	bounds := []float64{0, b.Low, b.Medium, b.High, b.Critical}
	for i := 1; i < len(bounds); i++ {
		if math.IsNaN(bounds[i]) || bounds[i] <= bounds[i-1] {
			return fmt.Errorf("severity bands must be strictly ascending above 0, got %+v", b)
		}
	}
	if b.Critical > MaxSeverity {
		return fmt.Errorf("critical bound %.2f exceeds maximum severity %.1f", b.Critical, MaxSeverity)
	}
	return nil
}

// Tier maps a severity to its band. Out-of-range values are clamped to the
// nearest band; NaN is treated as informational.
func (b SeverityBands) Tier(severity float64) ColorTier {
	s := ClampSeverity(severity)
	switch {
	case s >= b.Critical:
		return TierCritical
	case s >= b.High:
		return TierHigh
	case s >= b.Medium:
		return TierMedium
	case s >= b.Low:
		return TierLow
	default:
		return TierInformational
	}
}

// ClampSeverity forces a score into [0, MaxSeverity].
func ClampSeverity(severity float64) float64 {
	switch {
	case math.IsNaN(severity), severity < 0:
		return 0
	case severity > MaxSeverity:
		return MaxSeverity
	default:
		return severity
	}
}

// PresentationAttributes is the styling derived for one finding.
type PresentationAttributes struct {
	Tier         ColorTier `json:"tier"`
	Color        string    `json:"color"`
	DisplayLabel string    `json:"displayLabel"`
	IconRef      string    `json:"iconRef"`
	Mention      string    `json:"mention,omitempty"`
}

var tierIcons = map[ColorTier]string{
	TierCritical:      "🔴",
	TierHigh:          "🟠",
	TierMedium:        "🟡",
	TierLow:           "🔵",
	TierInformational: "⚪",
}

var purposeIcons = map[string]string{
	PurposeBackdoor:            "🚪",
	PurposeCredentialAccess:    "🔑",
	PurposeCryptoCurrency:      "⛏️",
	PurposeDefenseEvasion:      "🥷",
	PurposeDiscovery:           "🔭",
	PurposeExecution:           "⚙️",
	PurposeExfiltration:        "📤",
	PurposeImpact:              "💥",
	PurposeInitialAccess:       "🚧",
	PurposePenTest:             "🧪",
	PurposePersistence:         "📌",
	PurposePolicy:              "📜",
	PurposePrivilegeEscalation: "⏫",
	PurposeRecon:               "🔍",
	PurposeStealth:             "👻",
	PurposeTrojan:              "🐴",
	PurposeUnauthorizedAccess:  "🚨",
}

// DefaultMentions mirrors the channel escalation of the first GuardyBot
// release: critical and high page the channel, medium pings who is online.
func DefaultMentions() map[ColorTier]string {
	return map[ColorTier]string{
		TierCritical: "@channel",
		TierHigh:     "@channel",
		TierMedium:   "@here",
	}
}

// Presenter maps severity and taxonomy to presentation attributes.
type Presenter struct {
	Bands    SeverityBands
	Mentions map[ColorTier]string
}

// DefaultPresenter uses the default bands and mentions.
func DefaultPresenter() Presenter {
	return Presenter{Bands: DefaultSeverityBands(), Mentions: DefaultMentions()}
}

// Present never fails: unrecognized taxonomy gets a generic label that still
// carries the raw type string.
func (p Presenter) Present(severity float64, t TypeTaxonomy) PresentationAttributes {
	tier := p.Bands.Tier(severity)

	attrs := PresentationAttributes{
		Tier:    tier,
		Color:   tier.Color(),
		IconRef: tierIcons[tier],
		Mention: p.Mentions[tier],
	}

	if t.Recognized {
		attrs.DisplayLabel = fmt.Sprintf("%s %s", tier.DisplayName(), t.ThreatPurpose)
		if icon, ok := purposeIcons[t.ThreatPurpose]; ok {
			attrs.IconRef = icon
		}
		return attrs
	}

	raw := t.Raw
	if raw == "" {
		raw = "no type"
	}
	attrs.DisplayLabel = fmt.Sprintf("%s unrecognized finding (%s)", tier.DisplayName(), raw)
	return attrs
}
