package governance

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tbcoin-labs/core/pkg/faults"
)

var alphaNumeric = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// ApplyRules checks value against a list of per-call validation rules.
// Supported rules: "max_length:N", "min:N", "max:N", "alpha_numeric",
// "numeric". An unknown rule name is itself a validation failure.
func ApplyRules(value any, rules []string) error {
	for _, rule := range rules {
		name, param, _ := strings.Cut(rule, ":")
		switch name {
		case "max_length":
			s, ok := value.(string)
			if !ok {
				return faults.Validationf("value must be string for max_length")
			}
			limit, err := strconv.Atoi(param)
			if err != nil {
				return faults.Validationf("invalid max_length rule")
			}
			if len(s) > limit {
				return faults.Validationf("value exceeds max length %d", limit)
			}
		case "min":
			n, ok := asNumber(value)
			if !ok {
				return faults.Validationf("value must be number for min")
			}
			minValue, err := strconv.ParseFloat(param, 64)
			if err != nil {
				return faults.Validationf("invalid min rule")
			}
			if n < minValue {
				return faults.Validationf("value must be at least %v", minValue)
			}
		case "max":
			n, ok := asNumber(value)
			if !ok {
				return faults.Validationf("value must be number for max")
			}
			maxValue, err := strconv.ParseFloat(param, 64)
			if err != nil {
				return faults.Validationf("invalid max rule")
			}
			if n > maxValue {
				return faults.Validationf("value must be at most %v", maxValue)
			}
		case "alpha_numeric":
			s, ok := value.(string)
			if !ok {
				return faults.Validationf("value must be string for alpha_numeric")
			}
			if !alphaNumeric.MatchString(s) {
				return faults.Validationf("value must be alphanumeric")
			}
		case "numeric":
			if _, ok := asNumber(value); !ok {
				return faults.Validationf("value must be numeric")
			}
		default:
			return faults.Validationf("unknown validation rule %s", name)
		}
	}
	return nil
}

// asNumber accepts the numeric shapes a JSON decode or a direct Go caller
// can produce.
func asNumber(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
