// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ValidationSeverity indicates whether an issue is an error or warning.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// FieldError describes one structural problem found during strict
// unmarshal: an unrecognized field, a type mismatch, or a non-fatal
// warning.
type FieldError struct {
	Field       string
	Message     string
	Suggestions []string
	Severity    ValidationSeverity
	Context     string
}

// StrictValidationResult collects every structural issue ValidateConfigStructure found.
type StrictValidationResult struct {
	UnknownFields []FieldError
	TypeErrors    []FieldError
	Warnings      []FieldError
}

// Valid reports whether there are no validation errors (warnings are allowed).
func (r *StrictValidationResult) Valid() bool {
	return len(r.UnknownFields) == 0 && len(r.TypeErrors) == 0
}

// HasIssues reports whether there is anything at all to show the caller.
func (r *StrictValidationResult) HasIssues() bool {
	return len(r.UnknownFields) > 0 || len(r.TypeErrors) > 0 || len(r.Warnings) > 0
}

// FormatErrors renders every issue as a human-readable report.
func (r *StrictValidationResult) FormatErrors() string {
	if !r.HasIssues() {
		return ""
	}

	var sb strings.Builder
	if !r.Valid() {
		sb.WriteString("configuration has structural errors:\n\n")
	}

	if len(r.UnknownFields) > 0 {
		sb.WriteString("unknown fields:\n")
		for _, field := range r.UnknownFields {
			sb.WriteString(fmt.Sprintf("  - %s: %s\n", field.Field, field.Message))
			if len(field.Suggestions) > 0 {
				sb.WriteString(fmt.Sprintf("    did you mean: %s?\n", strings.Join(field.Suggestions, ", ")))
			}
		}
		sb.WriteString("\n")
	}

	if len(r.TypeErrors) > 0 {
		sb.WriteString("type errors:\n")
		for _, err := range r.TypeErrors {
			sb.WriteString(fmt.Sprintf("  - %s: %s\n", err.Field, err.Message))
		}
		sb.WriteString("\n")
	}

	if len(r.Warnings) > 0 {
		sb.WriteString("warnings:\n")
		for _, warn := range r.Warnings {
			sb.WriteString(fmt.Sprintf("  - %s: %s\n", warn.Field, warn.Message))
		}
	}

	return sb.String()
}

// ValidateConfigStructure decodes rawMap into a Config with
// mapstructure's ErrorUnused set, catching typos and misplaced keys
// before the real unmarshal runs.
func ValidateConfigStructure(rawMap map[string]interface{}) (*StrictValidationResult, error) {
	result := &StrictValidationResult{}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		ErrorUnused:      true,
		TagName:          "yaml",
		WeaklyTypedInput: false,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("create strict decoder: %w", err)
	}

	if err := decoder.Decode(rawMap); err != nil {
		collectValidationErrors(err, result)
	}

	return result, nil
}

func collectValidationErrors(err error, result *StrictValidationResult) {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "has invalid keys:"):
		result.UnknownFields = append(result.UnknownFields, extractUnknownFields(errStr)...)
	case strings.Contains(errStr, "'") && (strings.Contains(errStr, "expected") || strings.Contains(errStr, "cannot unmarshal") || strings.Contains(errStr, "cannot decode")):
		result.TypeErrors = append(result.TypeErrors, parseTypeError(errStr))
	case strings.Contains(errStr, "unused") || strings.Contains(errStr, "unknown"):
		result.UnknownFields = append(result.UnknownFields, FieldError{Field: "unknown", Message: errStr, Severity: SeverityError})
	default:
		result.TypeErrors = append(result.TypeErrors, FieldError{Field: "unknown", Message: errStr, Severity: SeverityError})
	}
}

// extractUnknownFields parses mapstructure's "'section' has invalid keys:
// a, b, c" message into one FieldError per offending key, with
// Levenshtein-based suggestions against the real Config schema.
func extractUnknownFields(errMsg string) []FieldError {
	idx := strings.Index(errMsg, "has invalid keys:")
	if idx == -1 {
		return []FieldError{{Field: "unknown", Message: errMsg, Severity: SeverityError}}
	}

	beforeKeys := errMsg[:idx]
	parentPath := ""
	if lastQuote := strings.LastIndex(beforeKeys, "'"); lastQuote > 0 {
		if openingQuote := strings.LastIndex(beforeKeys[:lastQuote], "'"); openingQuote != -1 {
			parentPath = beforeKeys[openingQuote+1 : lastQuote]
			if bracketIdx := strings.Index(parentPath, "["); bracketIdx != -1 {
				parentPath = parentPath[:bracketIdx]
			}
		}
	}

	keysStr := strings.TrimSpace(errMsg[idx+len("has invalid keys:"):])
	validFields := getValidFieldNames(reflect.TypeOf(Config{}))

	var fieldErrors []FieldError
	for _, key := range strings.Split(keysStr, ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		fullPath := key
		if parentPath != "" {
			fullPath = parentPath + "." + key
		}

		suggestions := findSimilarFields(fullPath, validFields, 2)
		if len(suggestions) == 0 {
			suggestions = findSimilarFields(key, validFields, 2)
		}

		fieldErrors = append(fieldErrors, FieldError{
			Field:       fullPath,
			Message:     "field is not recognized in configuration structure",
			Suggestions: suggestions,
			Severity:    SeverityError,
			Context:     "this field does not exist in the configuration schema",
		})
	}

	if len(fieldErrors) == 0 {
		fieldErrors = []FieldError{{Field: "unknown", Message: errMsg, Severity: SeverityError}}
	}
	return fieldErrors
}

func parseTypeError(errStr string) FieldError {
	fieldName := "unknown"
	if start := strings.Index(errStr, "'"); start != -1 {
		if end := strings.Index(errStr[start+1:], "'"); end != -1 {
			fieldName = errStr[start+1 : start+1+end]
		}
	}
	return FieldError{
		Field:    fieldName,
		Message:  errStr,
		Severity: SeverityError,
		Context:  "check that the value type matches the expected type (string, number, boolean, etc.)",
	}
}

// getValidFieldNames recursively extracts every yaml-tagged field name
// from t, dotted for nested structs.
func getValidFieldNames(t reflect.Type) []string {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}

	var fields []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		yamlTag := field.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		fieldName := strings.TrimSpace(strings.Split(yamlTag, ",")[0])
		if fieldName == "" {
			continue
		}
		fields = append(fields, fieldName)

		fieldType := field.Type
		if fieldType.Kind() == reflect.Ptr {
			fieldType = fieldType.Elem()
		}
		if fieldType.Kind() == reflect.Struct {
			for _, nf := range getValidFieldNames(fieldType) {
				fields = append(fields, fieldName+"."+nf)
			}
		}
	}
	return fields
}

// findSimilarFields ranks validFields by Levenshtein distance to typo and
// returns up to the three closest within maxDistance (or a substring
// match, whichever is looser).
func findSimilarFields(typo string, validFields []string, maxDistance int) []string {
	type scoredField struct {
		field    string
		distance int
	}
	var scored []scoredField

	typoLower := strings.ToLower(typo)
	for _, validField := range validFields {
		validLower := strings.ToLower(validField)
		distance := levenshteinDistance(typoLower, validLower)
		switch {
		case distance <= maxDistance:
			scored = append(scored, scoredField{validField, distance})
		case strings.Contains(validLower, typoLower) || strings.Contains(typoLower, validLower):
			scored = append(scored, scoredField{validField, maxDistance})
		}
	}

	var suggestions []string
	for i := 0; i < len(scored) && i < 3; i++ {
		minIdx := i
		for j := i + 1; j < len(scored); j++ {
			if scored[j].distance < scored[minIdx].distance {
				minIdx = j
			}
		}
		scored[i], scored[minIdx] = scored[minIdx], scored[i]
		suggestions = append(suggestions, scored[i].field)
	}
	return suggestions
}

func levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	matrix := make([][]int, len(s1)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(s2)+1)
		matrix[i][0] = i
	}
	for j := range matrix[0] {
		matrix[0][j] = j
	}

	for i := 1; i <= len(s1); i++ {
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			matrix[i][j] = minInt(
				matrix[i-1][j]+1,
				matrix[i][j-1]+1,
				matrix[i-1][j-1]+cost,
			)
		}
	}
	return matrix[len(s1)][len(s2)]
}

func minInt(a, b, c int) int {
	if a < b {
		if a < c {
			return a
		}
		return c
	}
	if b < c {
		return b
	}
	return c
}
