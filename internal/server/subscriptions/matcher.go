package subscriptions

import (
	"slices"
	"strings"
)

// Matcher evaluates events against subscription patterns
type Matcher struct{}

// NewMatcher creates a new pattern matcher
func NewMatcher() *Matcher {
	return &Matcher{}
}

// Match reports whether event satisfies every criterion of pattern.
func (m *Matcher) Match(event Event, pattern SubscriptionPattern) bool {
	if len(pattern.EventTypes) > 0 && !slices.Contains(pattern.EventTypes, event.Type) {
		return false
	}
	if len(pattern.ObjectKinds) > 0 && !slices.Contains(pattern.ObjectKinds, event.Kind) {
		return false
	}
	if len(pattern.TypeURIs) > 0 && !slices.Contains(pattern.TypeURIs, event.TypeURI) {
		return false
	}

	// "value" and "uri" are matchable next to the request meta
	for key, expected := range pattern.MetaMatch {
		var actual any
		var exists bool
		switch key {
		case "value":
			actual, exists = event.Value, event.Value != nil
		case "uri":
			actual, exists = event.URI, event.URI != ""
		default:
			actual, exists = event.Meta[key]
		}
		if !exists || !matchValue(expected, actual) {
			return false
		}
	}
	return true
}

// matchValue compares expected and actual values with type flexibility
func matchValue(expected, actual any) bool {
	if expected == actual {
		return true
	}

	// String comparison (case-insensitive)
	expectedStr, ok1 := expected.(string)
	actualStr, ok2 := actual.(string)
	if ok1 && ok2 {
		return strings.EqualFold(expectedStr, actualStr)
	}

	// Numeric comparison with type coercion
	expectedNum, ok1 := toFloat64(expected)
	actualNum, ok2 := toFloat64(actual)
	if ok1 && ok2 {
		return expectedNum == actualNum
	}

	return false
}

// toFloat64 converts various numeric types to float64
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
