// Package tokens provides a tokenizer-agnostic token estimate for text and
// structured values.
package tokens

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"unicode/utf8"
)

const (
	// CharsPerToken is the average number of characters per token.
	CharsPerToken = 4.0
	// LineOverhead is the token cost added per line.
	LineOverhead = 0.25
	// StructuredMultiplier inflates estimates for serialized structured values.
	StructuredMultiplier = 1.1
)

// EstimationError is returned when a value cannot be serialized for estimation.
type EstimationError struct {
	Type string
	Err  error
}

func (e *EstimationError) Error() string {
	return fmt.Sprintf("estimate tokens for %s: %v", e.Type, e.Err)
}

func (e *EstimationError) Unwrap() error {
	return e.Err
}

// Estimator approximates token counts.
// The zero value is ready to use.
type Estimator struct {
	charsPerToken float64
	lineOverhead  float64
}

// NewEstimator creates an estimator with the default ratios.
func NewEstimator() *Estimator {
	return &Estimator{
		charsPerToken: CharsPerToken,
		lineOverhead:  LineOverhead,
	}
}

// Estimate returns the approximate token count of content.
// Strings, byte slices and fmt.Stringer values are treated as plain text;
// everything else is JSON-serialized first.
func (e *Estimator) Estimate(content any) (int, error) {
	switch v := content.(type) {
	case nil:
		return 0, nil
	case string:
		return e.EstimateText(v), nil
	case []byte:
		return e.EstimateText(string(v)), nil
	case fmt.Stringer:
		if isNilPointer(v) {
			break
		}
		text, err := stringOf(v)
		if err != nil {
			return 0, &EstimationError{Type: fmt.Sprintf("%T", content), Err: err}
		}
		return e.EstimateText(text), nil
	}

	data, err := json.Marshal(content)
	if err != nil {
		return 0, &EstimationError{Type: fmt.Sprintf("%T", content), Err: err}
	}
	return int(math.Ceil(e.raw(string(data)) * StructuredMultiplier)), nil
}

// isNilPointer reports whether v holds a typed nil pointer. Such values
// serialize as JSON null instead of going through String.
func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// stringOf calls String, turning a panic into an error.
func stringOf(v fmt.Stringer) (s string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("String panicked: %v", r)
		}
	}()
	return v.String(), nil
}

// EstimateText returns the approximate token count of plain text.
func (e *Estimator) EstimateText(text string) int {
	return int(math.Ceil(e.raw(text)))
}

func (e *Estimator) raw(text string) float64 {
	if text == "" {
		return 0
	}
	cpt, overhead := e.ratios()
	chars := math.Ceil(float64(utf8.RuneCountInString(text)) / cpt)
	lines := float64(strings.Count(text, "\n") + 1)
	return chars + lines*overhead
}

func (e *Estimator) ratios() (float64, float64) {
	if e == nil || e.charsPerToken <= 0 {
		return CharsPerToken, LineOverhead
	}
	return e.charsPerToken, e.lineOverhead
}

var defaultEstimator = NewEstimator()

// Estimate estimates text with the default estimator.
func Estimate(text string) int {
	return defaultEstimator.EstimateText(text)
}
