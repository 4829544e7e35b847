package weather

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
)

var (
	ErrMalformedJSON = errors.New("malformed weather json")
	ErrMissingField  = errors.New("missing weather field")
	ErrAPIStatus     = errors.New("weather api returned an error status")
)

// MissingFieldPolicy decides what happens when an expected key is absent.
type MissingFieldPolicy string

const (
	// PolicyAbort fails the whole record.
	PolicyAbort MissingFieldPolicy = "abort"
	// PolicySkip leaves the field at its zero value.
	PolicySkip MissingFieldPolicy = "skip"
	// PolicyDefault fills text fields with the configured default text.
	PolicyDefault MissingFieldPolicy = "default"
)

// Extractor copies the fixed result.location / result.now shape into a Record.
type Extractor struct {
	Policy      MissingFieldPolicy
	DefaultText string
	Logger      *slog.Logger
}

// NewExtractor returns an Extractor with the given policy.
func NewExtractor(policy MissingFieldPolicy, defaultText string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	switch policy {
	case PolicyAbort, PolicySkip, PolicyDefault:
	default:
		policy = PolicyAbort
	}
	return &Extractor{Policy: policy, DefaultText: defaultText, Logger: logger}
}

// node is one level of a decoded JSON document. Every lookup reports whether
// the key was present with the expected type.
type node map[string]any

func (n node) object(key string) (node, bool) {
	if n == nil {
		return nil, false
	}
	v, ok := n[key].(map[string]any)
	return node(v), ok
}

func (n node) str(key string) (string, bool) {
	if n == nil {
		return "", false
	}
	v, ok := n[key].(string)
	return v, ok
}

func (n node) number(key string) (json.Number, bool) {
	if n == nil {
		return "", false
	}
	v, ok := n[key].(json.Number)
	return v, ok
}

// Extract parses body and populates rec. Under PolicyAbort rec is left untouched
// when any field is missing.
func (e *Extractor) Extract(body []byte, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrMissingField)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var root node
	if err := dec.Decode(&root); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	if root == nil {
		return fmt.Errorf("%w: document is not an object", ErrMalformedJSON)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: trailing data after document", ErrMalformedJSON)
	}

	if status, ok := root.number("status"); ok && status.String() != "0" {
		msg, _ := root.str("message")
		return fmt.Errorf("%w: status %s: %s", ErrAPIStatus, status, msg)
	}

	result, _ := root.object("result")
	location, _ := result.object("location")
	now, _ := result.object("now")

	var (
		missing []Field
		ext     extracted
	)

	var ok bool
	if ext.name, ok = location.str("name"); !ok {
		missing = append(missing, FieldLocationName)
	}
	if ext.text, ok = now.str("text"); !ok {
		missing = append(missing, FieldConditionText)
	}
	if ext.wind, ok = now.str("wind_class"); !ok {
		missing = append(missing, FieldWindDescription)
	}
	if ext.temp, ok = floatValue(now, "temp"); !ok {
		missing = append(missing, FieldTemperature)
	}
	if ext.rh, ok = intValue(now, "rh"); !ok {
		missing = append(missing, FieldHumidity)
	}

	if len(missing) > 0 && e.Policy == PolicyAbort {
		return fmt.Errorf("%w: %s", ErrMissingField, joinFields(missing))
	}

	if e.Policy == PolicyDefault {
		for _, f := range missing {
			switch f {
			case FieldLocationName:
				ext.name = e.DefaultText
			case FieldConditionText:
				ext.text = e.DefaultText
			case FieldWindDescription:
				ext.wind = e.DefaultText
			}
		}
	}

	rec.LocationName.Set(ext.name)
	rec.ConditionText.Set(ext.text)
	rec.WindDescription.Set(ext.wind)
	rec.Temperature = ext.temp
	rec.Humidity = ext.rh
	for _, f := range missing {
		rec.markMissing(f)
	}

	e.Logger.Info("weather extracted",
		"location", rec.LocationName.String(),
		"condition", rec.ConditionText.String(),
		"temperature", rec.Temperature,
		"humidity", rec.Humidity,
		"wind", rec.WindDescription.String(),
		"missing", len(missing),
	)
	return nil
}

type extracted struct {
	name, text, wind string
	temp             float64
	rh               int
}

func floatValue(n node, key string) (float64, bool) {
	num, ok := n.number(key)
	if !ok {
		return 0, false
	}
	f, err := num.Float64()
	if err != nil {
		return 0, false
	}
	return f, true
}

// intValue truncates fractional values toward zero.
func intValue(n node, key string) (int, bool) {
	num, ok := n.number(key)
	if !ok {
		return 0, false
	}
	if i, err := num.Int64(); err == nil {
		return int(i), true
	}
	f, err := num.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return int(math.Trunc(f)), true
}

func joinFields(fs []Field) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = string(f)
	}
	return strings.Join(parts, ", ")
}
