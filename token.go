package stepseq

import (
	"fmt"
	"math"
	"strconv"
)

// Token is one entry of a step list: a step name or a positional parameter
// consumed by the step in front of it.
type Token struct {
	name  string
	value any
	param bool
}

// Step returns a step-name token.
func Step(name string) Token { return Token{name: name} }

// Param returns a parameter token.
func Param(v any) Token { return Token{value: v, param: true} }

// Steps builds a list of step-name tokens.
func Steps(names ...string) []Token {
	out := make([]Token, len(names))
	for i, n := range names {
		out[i] = Step(n)
	}
	return out
}

// IsStep reports whether t names a step.
func (t Token) IsStep() bool { return !t.param }

// Name returns the step name ("" for parameters).
func (t Token) Name() string { return t.name }

// Value returns the raw parameter value (nil for step names).
func (t Token) Value() any { return t.value }

// Int converts the parameter to an int.
func (t Token) Int() (int, error) {
	if !t.param {
		return 0, fmt.Errorf("%w: %q is a step, not a parameter", ErrMalformedSteps, t.name)
	}
	switch v := t.value.(type) {
	case int:
		return v, nil
	case int8:
		return int(v), nil
	case int16:
		return int(v), nil
	case int32:
		return int(v), nil
	case int64:
		if v < math.MinInt || v > math.MaxInt {
			return 0, outOfRange(v)
		}
		return int(v), nil
	case uint:
		if v > math.MaxInt {
			return 0, outOfRange(v)
		}
		return int(v), nil
	case uint8:
		return int(v), nil
	case uint16:
		return int(v), nil
	case uint32:
		if uint64(v) > math.MaxInt {
			return 0, outOfRange(v)
		}
		return int(v), nil
	case uint64:
		if v > math.MaxInt {
			return 0, outOfRange(v)
		}
		return int(v), nil
	case float32:
		return floatToInt(float64(v))
	case float64:
		return floatToInt(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("stepseq: parameter %q is not an integer: %w", v, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("stepseq: parameter %v (%T) is not an integer", t.value, t.value)
	}
}

func floatToInt(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("stepseq: parameter %v is not an integer", f)
	}
	// float64(math.MaxInt) rounds up to a power of two outside the int range
	if f < math.MinInt || f >= math.MaxInt {
		return 0, outOfRange(f)
	}
	return int(f), nil
}

func outOfRange(v any) error {
	return fmt.Errorf("stepseq: parameter %v is out of the int range", v)
}

// Float converts the parameter to a float64.
func (t Token) Float() (float64, error) {
	if !t.param {
		return 0, fmt.Errorf("%w: %q is a step, not a parameter", ErrMalformedSteps, t.name)
	}
	switch v := t.value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("stepseq: parameter %q is not a number: %w", v, err)
		}
		return f, nil
	default:
		n, err := t.Int()
		if err != nil {
			return 0, fmt.Errorf("stepseq: parameter %v (%T) is not a number", t.value, t.value)
		}
		return float64(n), nil
	}
}

// Text returns the parameter rendered as a string; enums usually travel this way.
func (t Token) Text() (string, error) {
	if !t.param {
		return "", fmt.Errorf("%w: %q is a step, not a parameter", ErrMalformedSteps, t.name)
	}
	switch v := t.value.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// Bool converts the parameter to a bool.
func (t Token) Bool() (bool, error) {
	if !t.param {
		return false, fmt.Errorf("%w: %q is a step, not a parameter", ErrMalformedSteps, t.name)
	}
	switch v := t.value.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(v)
	default:
		return false, fmt.Errorf("stepseq: parameter %v (%T) is not a bool", t.value, t.value)
	}
}

func (t Token) String() string {
	if t.param {
		return fmt.Sprint(t.value)
	}
	return t.name
}

// parseScalar turns a script word into the most specific parameter value.
func parseScalar(word string) any {
	if n, err := strconv.Atoi(word); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(word, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(word); err == nil {
		return b
	}
	return word
}

func renderTokens(toks []Token) []string {
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.String()
	}
	return out
}
