package domain

import "time"

// OutboundMessage is the rendered notification handed to a Notifier.
type OutboundMessage struct {
	Title     string    `json:"title"`
	TitleLink string    `json:"titleLink,omitempty"`
	Pretext   string    `json:"pretext,omitempty"`
	Fallback  string    `json:"fallback"`
	Color     string    `json:"color"`
	Tier      ColorTier `json:"tier"`
	Fields    []Field   `json:"fields"`
	Footer    *Footer   `json:"footer,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Field is one name/value row of the message.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Footer is the optional trailer line with a link back to the source.
type Footer struct {
	Text string `json:"text"`
	Link string `json:"link,omitempty"`
}

// Field names, in rendering order.
const (
	FieldSeverity    = "Severity"
	FieldRegion      = "Region"
	FieldAccount     = "Account"
	FieldResource    = "Resource"
	FieldFirstSeen   = "First Seen"
	FieldLastSeen    = "Last Seen"
	FieldCount       = "Occurrence Count"
	FieldDescription = "Description"
)

// FieldOrder is the fixed order of message fields.
var FieldOrder = []string{
	FieldSeverity,
	FieldRegion,
	FieldAccount,
	FieldResource,
	FieldFirstSeen,
	FieldLastSeen,
	FieldCount,
	FieldDescription,
}

// Field returns the value of the named field and whether it exists.
func (m OutboundMessage) Field(name string) (string, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}
