package grading

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var ErrNotANumber = errors.New("answer is not a number")

// thousandsGrouped matches an integer part written with comma groups of three.
var thousandsGrouped = regexp.MustCompile(`^[+-]?\d{1,3}(,\d{3})+$`)

// ParseNumber accepts a JSON number or a numeric string. Commas are only
// valid as thousands separators; a decimal comma such as "1,5" is rejected.
func ParseNumber(raw json.RawMessage) (float64, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return finite(n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, ErrNotANumber
	}
	s, ok := stripThousands(strings.TrimSpace(s))
	if !ok || s == "" {
		return 0, ErrNotANumber
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, ErrNotANumber
	}
	return finite(n)
}

func stripThousands(s string) (string, bool) {
	if !strings.Contains(s, ",") {
		return s, true
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	if !thousandsGrouped.MatchString(intPart) {
		return "", false
	}
	out := strings.ReplaceAll(intPart, ",", "")
	if hasFrac {
		out += "." + frac
	}
	return out, true
}

func finite(n float64) (float64, error) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, ErrNotANumber
	}
	return n, nil
}

func withinTolerance(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol
}
