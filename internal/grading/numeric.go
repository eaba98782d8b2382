package grading

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/mind-engage/bitacora/internal/question"
)

// floatSlack absorbs binary representation error so that a difference equal to
// the tolerance in decimal (3.24 vs 3.14, tol 0.1) still passes.
const floatSlack = 1e-9

// numericStrategy awards full points iff |submitted - canonical| <= tolerance.
// The unit is descriptive and never compared.
//
//	payload: {"value": 3.14} or {"value": "3.14 m"}
type numericStrategy struct{}

func (numericStrategy) Grade(_ context.Context, it Item, payload json.RawMessage) (Result, error) {
	n, ok := it.Def.(*question.Numeric)
	if !ok {
		return Result{}, errors.New("definition is not a numeric question")
	}
	var p struct {
		Value json.RawMessage `json:"value"`
	}
	if err := decodeStrict(payload, &p); err != nil {
		return Result{}, err
	}
	rv, ok := parseNumberPayload(p.Value)
	if !ok {
		return Result{}, errors.New("value must be a number")
	}
	var res Result
	if withinTolerance(rv, *n.Value, n.Tolerance) {
		res.AutoPoints = it.Points
	}
	return res, nil
}

func withinTolerance(got, want, tol float64) bool {
	if math.IsNaN(got) || math.IsInf(got, 0) {
		return false
	}
	return math.Abs(got-want) <= tol+floatSlack
}

func parseNumberPayload(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	return parseFloatLoose(s)
}

func parseFloatLoose(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, true
	}
	if sp := strings.Fields(s); len(sp) > 0 {
		if v, err := strconv.ParseFloat(sp[0], 64); err == nil {
			return v, true
		}
	}
	// decimal comma, common in Spanish-language input
	if v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64); err == nil {
		return v, true
	}
	return 0, false
}
