package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ToFloat coerces a decoded JSON value to a number. The second result is false
// for null, NaN and anything that does not parse.
func ToFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case int32:
		f = float64(x)
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case json.Number:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x.String()), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// ToCategory renders a value the way the training frame stored it: integers
// keep their digits, floats always carry a fractional part, booleans are
// capitalized. The result is NFC normalized. The second result is false for
// null and NaN.
func ToCategory(v any) (string, bool) {
	var s string
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		s = x
	case bool:
		if x {
			s = "True"
		} else {
			s = "False"
		}
	case json.Number:
		text := x.String()
		if !strings.ContainsAny(text, ".eE") {
			s = text
			break
		}
		f, err := x.Float64()
		if err != nil {
			s = text
			break
		}
		s = formatFloat(f)
	case float64:
		if math.IsNaN(x) {
			return "", false
		}
		s = formatFloat(x)
	case float32:
		if math.IsNaN(float64(x)) {
			return "", false
		}
		s = formatFloat(float64(x))
	case int:
		s = strconv.Itoa(x)
	case int64:
		s = strconv.FormatInt(x, 10)
	default:
		s = fmt.Sprint(x)
	}
	return norm.NFC.String(s), true
}

// formatFloat switches to exponent form outside [1e-4, 1e16), the same
// bounds Python's str uses.
func formatFloat(f float64) string {
	abs := math.Abs(f)
	switch {
	case f == math.Trunc(f) && abs < 1e16:
		return strconv.FormatFloat(f, 'f', 1, 64)
	case abs >= 1e-4 && abs < 1e16:
		return strconv.FormatFloat(f, 'f', -1, 64)
	default:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}
