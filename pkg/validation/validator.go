// Package validation turns raw request bodies into typed, fully validated
// values. It is purely structural: it never consults storage.
package validation

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/smarthospital/vitals/pkg/common/models"
	"github.com/smarthospital/vitals/pkg/devices"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	SchemaDeviceRegistration = "device_registration"
	SchemaVitalSubmission    = "vital_submission"

	// rootField keys errors that belong to the document rather than a field.
	rootField = "_schema"

	// maxExactInteger is the largest magnitude a float64 holds without
	// rounding (2^53).
	maxExactInteger = 1 << 53
)

// ValidationError carries one entry per offending field. Nested fields use
// dotted paths such as "bp.systolic".
type ValidationError struct {
	Schema string
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("%s failed validation: %s", e.Schema, strings.Join(names, ", "))
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

type VitalSubmission struct {
	Timestamp      time.Time
	HeartRate      *int
	BP             *models.BloodPressure
	SpO2           *int
	Temperature    *float64
	DeviceID       string
	IdempotencyKey string

	// Raw is the submitted body as received.
	Raw json.RawMessage
}

type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	v := &Validator{schemas: make(map[string]*jsonschema.Schema)}
	for _, name := range []string{SchemaDeviceRegistration, SchemaVitalSubmission} {
		content, err := schemaFS.ReadFile("schemas/" + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("reading schema %s: %w", name, err)
		}
		url := name + ".json"
		if err := compiler.AddResource(url, bytes.NewReader(content)); err != nil {
			return nil, fmt.Errorf("loading schema %s: %w", name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compiling schema %s: %w", name, err)
		}
		v.schemas[name] = schema
	}
	return v, nil
}

func (v *Validator) DeviceRegistration(raw []byte) (devices.Registration, error) {
	doc, fields := v.check(SchemaDeviceRegistration, raw)
	if len(fields) > 0 {
		return devices.Registration{}, &ValidationError{Schema: SchemaDeviceRegistration, Fields: fields}
	}

	var wire struct {
		DeviceID  string `json:"device_id"`
		Type      string `json:"type"`
		PatientID string `json:"patient_id"`
	}
	if err := remarshal(doc, &wire); err != nil {
		return devices.Registration{}, invalidJSON(SchemaDeviceRegistration, err)
	}

	return devices.Registration{
		DeviceID:  strings.TrimSpace(wire.DeviceID),
		Type:      devices.DeviceType(wire.Type),
		PatientID: strings.TrimSpace(wire.PatientID),
	}, nil
}

func (v *Validator) VitalSubmission(raw []byte) (VitalSubmission, error) {
	doc, fields := v.check(SchemaVitalSubmission, raw)

	var ts time.Time
	if obj, ok := doc.(map[string]interface{}); ok {
		if s, ok := obj["timestamp"].(string); ok && len(fields["timestamp"]) == 0 {
			parsed, err := ParseTimestamp(s)
			if err != nil {
				fields.add("timestamp", "not a valid ISO-8601 date-time")
			}
			ts = parsed
		}
	}
	if len(fields) > 0 {
		return VitalSubmission{}, &ValidationError{Schema: SchemaVitalSubmission, Fields: fields}
	}

	// Numbers stay json.Number until converted so large integers keep their
	// exact value or fail the range check.
	var wire struct {
		HeartRate *json.Number `json:"heart_rate"`
		BP        *struct {
			Systolic  json.Number `json:"systolic"`
			Diastolic json.Number `json:"diastolic"`
		} `json:"bp"`
		SpO2           *json.Number `json:"spo2"`
		Temperature    *json.Number `json:"temp"`
		DeviceID       string       `json:"device_id"`
		IdempotencyKey string       `json:"idempotency_key"`
	}
	if err := remarshal(doc, &wire); err != nil {
		return VitalSubmission{}, invalidJSON(SchemaVitalSubmission, err)
	}

	sub := VitalSubmission{
		Timestamp:      ts,
		HeartRate:      fields.integer("heart_rate", wire.HeartRate),
		SpO2:           fields.integer("spo2", wire.SpO2),
		Temperature:    fields.float("temp", wire.Temperature),
		DeviceID:       strings.TrimSpace(wire.DeviceID),
		IdempotencyKey: strings.TrimSpace(wire.IdempotencyKey),
		Raw:            append(json.RawMessage(nil), raw...),
	}
	if wire.BP != nil {
		systolic := fields.integer("bp.systolic", &wire.BP.Systolic)
		diastolic := fields.integer("bp.diastolic", &wire.BP.Diastolic)
		if systolic != nil && diastolic != nil {
			sub.BP = &models.BloodPressure{Systolic: *systolic, Diastolic: *diastolic}
		}
	}
	if len(fields) > 0 {
		return VitalSubmission{}, &ValidationError{Schema: SchemaVitalSubmission, Fields: fields}
	}
	return sub, nil
}

type fieldErrors map[string][]string

func (f fieldErrors) add(field, message string) {
	for _, existing := range f[field] {
		if existing == message {
			return
		}
	}
	f[field] = append(f[field], message)
}

// integer converts n to an int, recording a field error when n has a
// fractional part or does not fit.
func (f fieldErrors) integer(field string, n *json.Number) *int {
	if n == nil {
		return nil
	}
	if i, err := strconv.ParseInt(n.String(), 10, strconv.IntSize); err == nil {
		v := int(i)
		return &v
	}

	// Exponent or decimal forms such as 7e1 or 70.0.
	fl, err := strconv.ParseFloat(n.String(), 64)
	if err != nil || math.Abs(fl) > maxExactInteger {
		f.add(field, "integer out of range")
		return nil
	}
	if fl != math.Trunc(fl) {
		f.add(field, "not a valid integer")
		return nil
	}
	v := int(fl)
	return &v
}

func (f fieldErrors) float(field string, n *json.Number) *float64 {
	if n == nil {
		return nil
	}
	fl, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		f.add(field, "number out of range")
		return nil
	}
	return &fl
}

// check decodes raw and validates it against the named schema, returning the
// decoded document and any per-field errors.
func (v *Validator) check(name string, raw []byte) (interface{}, fieldErrors) {
	fields := fieldErrors{}

	doc, err := decodeDocument(raw)
	if err != nil {
		fields.add(rootField, "invalid JSON body")
		return nil, fields
	}

	schema := v.schemas[name]
	err = schema.Validate(doc)
	if err == nil {
		return doc, fields
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		fields.add(rootField, err.Error())
		return doc, fields
	}
	for _, leaf := range leaves(verr) {
		collect(fields, schema, doc, leaf)
	}
	return doc, fields
}

func leaves(err *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(err.Causes) == 0 {
		return []*jsonschema.ValidationError{err}
	}
	var out []*jsonschema.ValidationError
	for _, cause := range err.Causes {
		out = append(out, leaves(cause)...)
	}
	return out
}

// collect turns one leaf into field entries. Keywords that describe an object
// (required, additionalProperties) are expanded to the member fields they name.
func collect(fields fieldErrors, root *jsonschema.Schema, doc interface{}, leaf *jsonschema.ValidationError) {
	segments := pointerSegments(leaf.InstanceLocation)
	keyword := leaf.KeywordLocation[strings.LastIndex(leaf.KeywordLocation, "/")+1:]

	obj, isObject := lookupInstance(doc, segments).(map[string]interface{})
	sub := lookupSchema(root, segments)

	switch {
	case keyword == "required" && isObject && sub != nil:
		for _, name := range sub.Required {
			if _, ok := obj[name]; !ok {
				fields.add(fieldName(append(segments, name)), "missing data for required field")
			}
		}
	case keyword == "additionalProperties" && isObject && sub != nil:
		for name := range obj {
			if _, ok := sub.Properties[name]; !ok {
				fields.add(fieldName(append(segments, name)), "unknown field")
			}
		}
	default:
		fields.add(fieldName(segments), leaf.Message)
	}
}

func pointerSegments(pointer string) []string {
	if pointer == "" || pointer == "/" {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	for i, part := range parts {
		part = strings.ReplaceAll(part, "~1", "/")
		parts[i] = strings.ReplaceAll(part, "~0", "~")
	}
	return parts
}

func lookupInstance(doc interface{}, segments []string) interface{} {
	current := doc
	for _, seg := range segments {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current = obj[seg]
	}
	return current
}

func lookupSchema(root *jsonschema.Schema, segments []string) *jsonschema.Schema {
	current := root
	for _, seg := range segments {
		if current == nil {
			return nil
		}
		current = current.Properties[seg]
	}
	return current
}

func fieldName(segments []string) string {
	if len(segments) == 0 {
		return rootField
	}
	return strings.Join(segments, ".")
}

func remarshal(doc interface{}, out interface{}) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func invalidJSON(schema string, err error) *ValidationError {
	return &ValidationError{Schema: schema, Fields: map[string][]string{rootField: {err.Error()}}}
}

// decodeDocument decodes exactly one JSON value, keeping numbers as
// json.Number.
func decodeDocument(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after JSON value")
	}
	return doc, nil
}
