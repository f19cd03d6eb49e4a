package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
)

// ErrDeserialization is matched by every *DeserializationError.
var ErrDeserialization = errors.New("finding deserialization failed")

// DeserializationError means the payload cannot be trusted to describe a
// finding. Field is empty when the payload as a whole is unusable.
type DeserializationError struct {
	Field  string
	Reason string
}

func (e *DeserializationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid finding: %s", e.Reason)
	}
	return fmt.Sprintf("invalid finding field %q: %s", e.Field, e.Reason)
}

func (e *DeserializationError) Is(target error) bool {
	return target == ErrDeserialization
}

// Mandatory payload paths. The first path is the canonical name reported in
// errors; the rest are accepted alternatives.
var (
	pathID          = []string{"id"}
	pathType        = []string{"type"}
	pathSeverity    = []string{"severity"}
	pathTitle       = []string{"title"}
	pathDescription = []string{"description"}
	pathAccountID   = []string{"accountId"}
	pathRegion      = []string{"region"}
	pathResource    = []string{"resource"}
	pathFirstSeen   = []string{"service.eventFirstSeen", "eventFirstSeen"}
	pathLastSeen    = []string{"service.eventLastSeen", "eventLastSeen"}
	pathCount       = []string{"service.count", "count"}
)

// DecodeFinding parses JSON bytes into a Finding.
func DecodeFinding(payload []byte) (Finding, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return Finding{}, &DeserializationError{Reason: "empty payload"}
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return Finding{}, &DeserializationError{Reason: fmt.Sprintf("unparseable payload: %v", err)}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Finding{}, &DeserializationError{Reason: "unparseable payload: trailing data after JSON object"}
	}

	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return Finding{}, &DeserializationError{Reason: "empty payload"}
	}
	return FindingFromMap(m)
}

// FindingFromMap validates an already decoded payload. Extra keys are
// ignored; mandatory keys are never defaulted.
func FindingFromMap(m map[string]any) (Finding, error) {
	if len(m) == 0 {
		return Finding{}, &DeserializationError{Reason: "empty payload"}
	}

	var f Finding
	var err error

	if f.ID, err = requireString(m, pathID); err != nil {
		return Finding{}, err
	}
	if f.Type, err = requireString(m, pathType); err != nil {
		return Finding{}, err
	}
	if f.Severity, err = requireNumber(m, pathSeverity); err != nil {
		return Finding{}, err
	}
	if f.Title, err = requireString(m, pathTitle); err != nil {
		return Finding{}, err
	}
	if f.Description, err = requireString(m, pathDescription); err != nil {
		return Finding{}, err
	}
	if f.AccountID, err = requireString(m, pathAccountID); err != nil {
		return Finding{}, err
	}
	if f.Region, err = requireString(m, pathRegion); err != nil {
		return Finding{}, err
	}

	rawResource, err := requireObject(m, pathResource)
	if err != nil {
		return Finding{}, err
	}

	if f.FirstSeen, err = requireTime(m, pathFirstSeen); err != nil {
		return Finding{}, err
	}
	if f.LastSeen, err = requireTime(m, pathLastSeen); err != nil {
		return Finding{}, err
	}
	if f.LastSeen.Before(f.FirstSeen) {
		return Finding{}, &DeserializationError{Field: pathLastSeen[0], Reason: "precedes " + pathFirstSeen[0]}
	}

	if f.Count, err = requireCount(m, pathCount); err != nil {
		return Finding{}, err
	}

	f.Taxonomy = Classify(f.Type)
	f.Resource = NewResource(f.Taxonomy.ResourceNamespace, rawResource)

	f.ARN = stringAt(m, "arn")
	f.Partition = stringAt(m, "partition")
	if f.Partition == "" && f.ARN != "" {
		if parsed, err := arn.Parse(f.ARN); err == nil {
			f.Partition = parsed.Partition
		}
	}
	if f.Partition == "" {
		f.Partition = DefaultPartition
	}
	f.CreatedAt = optionalTime(m, "createdAt")
	f.UpdatedAt = optionalTime(m, "updatedAt")
	if v, ok, _ := lookup(m, "service.archived"); ok {
		f.Archived, _ = v.(bool)
	}

	return f, nil
}

// WithCatalog reclassifies the finding against a different catalog and
// rebuilds its resource variant accordingly.
func (f Finding) WithCatalog(c *Catalog) Finding {
	f.Taxonomy = c.Classify(f.Type)
	if f.Resource != nil {
		f.Resource = NewResource(f.Taxonomy.ResourceNamespace, f.Resource.Raw())
	}
	return f
}

func find(m map[string]any, paths []string) (any, bool, error) {
	for _, p := range paths {
		v, ok, err := lookup(m, p)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return v, true, nil
		}
	}
	return nil, false, nil
}

func missing(paths []string) error {
	return &DeserializationError{Field: paths[0], Reason: "missing"}
}

func wrongType(paths []string, want string, got any) error {
	return &DeserializationError{Field: paths[0], Reason: fmt.Sprintf("expected %s, got %s", want, kindOf(got))}
}

// numberError tells a number that does not fit a float64 apart from a value
// that is not a number at all.
func numberError(paths []string, want string, v any) error {
	if _, isNumber := v.(json.Number); isNumber {
		return &DeserializationError{Field: paths[0], Reason: fmt.Sprintf("number out of range: %v", v)}
	}
	return wrongType(paths, want, v)
}

func requireString(m map[string]any, paths []string) (string, error) {
	v, ok, err := find(m, paths)
	if err != nil {
		return "", err
	}
	if !ok || v == nil {
		return "", missing(paths)
	}
	s, ok := v.(string)
	if !ok {
		return "", wrongType(paths, "string", v)
	}
	return s, nil
}

func requireObject(m map[string]any, paths []string) (map[string]any, error) {
	v, ok, err := find(m, paths)
	if err != nil {
		return nil, err
	}
	if !ok || v == nil {
		return nil, missing(paths)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, wrongType(paths, "object", v)
	}
	return obj, nil
}

func requireNumber(m map[string]any, paths []string) (float64, error) {
	v, ok, err := find(m, paths)
	if err != nil {
		return 0, err
	}
	if !ok || v == nil {
		return 0, missing(paths)
	}
	n, ok := toFloat(v)
	if !ok {
		return 0, numberError(paths, "number", v)
	}
	return n, nil
}

func requireCount(m map[string]any, paths []string) (int, error) {
	v, ok, err := find(m, paths)
	if err != nil {
		return 0, err
	}
	if !ok || v == nil {
		return 0, missing(paths)
	}
	n, ok := toFloat(v)
	if !ok {
		return 0, numberError(paths, "integer", v)
	}
	if n != math.Trunc(n) || n > math.MaxInt32 {
		return 0, &DeserializationError{Field: paths[0], Reason: fmt.Sprintf("expected integer, got %v", v)}
	}
	if n < 1 {
		return 0, &DeserializationError{Field: paths[0], Reason: fmt.Sprintf("must be at least 1, got %v", v)}
	}
	return int(n), nil
}

func requireTime(m map[string]any, paths []string) (time.Time, error) {
	s, err := requireString(m, paths)
	if err != nil {
		var de *DeserializationError
		if errors.As(err, &de) && de.Reason != "missing" {
			return time.Time{}, &DeserializationError{Field: paths[0], Reason: strings.Replace(de.Reason, "string", "timestamp", 1)}
		}
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, &DeserializationError{Field: paths[0], Reason: fmt.Sprintf("expected RFC 3339 timestamp, got %q", s)}
	}
	return t.UTC(), nil
}

func optionalTime(m map[string]any, path string) time.Time {
	s := stringAt(m, path)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func kindOf(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case json.Number, float64, float32, int, int32, int64:
		return "number"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// lookup resolves a dotted path. Each segment matches exactly first, then
// case-insensitively, since payload casing is controlled by the provider.
// Two keys differing only in case make the segment ambiguous.
func lookup(m map[string]any, path string) (any, bool, error) {
	var cur any = m
	for _, seg := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false, nil
		}
		v, ok := obj[seg]
		if !ok {
			var err error
			v, ok, err = foldKey(obj, seg)
			if err != nil {
				return nil, false, &DeserializationError{Field: path, Reason: err.Error()}
			}
			if !ok {
				return nil, false, nil
			}
		}
		cur = v
	}
	return cur, true, nil
}

func foldKey(obj map[string]any, seg string) (any, bool, error) {
	var matches []string
	for k := range obj {
		if strings.EqualFold(k, seg) {
			matches = append(matches, k)
		}
	}
	switch len(matches) {
	case 0:
		return nil, false, nil
	case 1:
		return obj[matches[0]], true, nil
	default:
		sort.Strings(matches)
		return nil, false, fmt.Errorf("ambiguous key casing %s", strings.Join(matches, ", "))
	}
}

// stringAt returns the string at path, or "" when absent or not a string.
func stringAt(m map[string]any, path string) string {
	v, ok, _ := lookup(m, path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
