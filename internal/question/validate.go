package question

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mind-engage/bitacora/internal/apperr"
)

var structValidator = validator.New()

// Validate checks that content and canonicalAnswer form a well-formed
// question of the given kind.
func Validate(kind Kind, content, canonicalAnswer json.RawMessage) error {
	_, err := Decode(kind, content, canonicalAnswer)
	return err
}

// ValidateVersion runs field-level checks followed by the kind-specific ones.
func ValidateVersion(v Version) error {
	if err := structValidator.Struct(v); err != nil {
		return apperr.Validation("question: %v", err)
	}
	if v.Scope == ScopePartial && v.PartialNumber == nil {
		return apperr.Validation("question: partial scope requires partial_number")
	}
	if v.Scope == ScopeFinal && v.PartialNumber != nil {
		return apperr.Validation("question: final scope must not carry partial_number")
	}
	return Validate(v.Kind, v.Content, v.CanonicalAnswer)
}

// Decode parses raw JSON into the typed Definition for kind and validates it.
func Decode(kind Kind, content, canonicalAnswer json.RawMessage) (Definition, error) {
	var def Definition
	switch kind {
	case KindSingleChoice, KindMultiChoice:
		c := &Choice{kind: kind}
		if err := unmarshalPart("content", content, &c.ChoiceContent, true); err != nil {
			return nil, err
		}
		if err := unmarshalPart("answer", canonicalAnswer, &c.ChoiceAnswer, true); err != nil {
			return nil, err
		}
		def = c
	case KindTrueFalse:
		t := &TrueFalse{}
		if err := unmarshalPart("answer", canonicalAnswer, &t.TrueFalseAnswer, true); err != nil {
			return nil, err
		}
		def = t
	case KindNumeric:
		n := &Numeric{}
		if err := unmarshalPart("content", content, &n.NumericContent, false); err != nil {
			return nil, err
		}
		if err := unmarshalPart("answer", canonicalAnswer, &n.NumericAnswer, true); err != nil {
			return nil, err
		}
		def = n
	case KindFillBlanks:
		f := &FillBlanks{}
		if err := unmarshalPart("content", content, &f.FillBlanksContent, true); err != nil {
			return nil, err
		}
		if err := unmarshalPart("answer", canonicalAnswer, &f.FillBlanksAnswer, true); err != nil {
			return nil, err
		}
		def = f
	case KindMatching:
		m := &Matching{}
		if err := unmarshalPart("content", content, &m.MatchingContent, true); err != nil {
			return nil, err
		}
		if err := unmarshalPart("answer", canonicalAnswer, &m.MatchingAnswer, true); err != nil {
			return nil, err
		}
		def = m
	case KindOrdering:
		o := &Ordering{}
		if err := unmarshalPart("content", content, &o.OrderingContent, true); err != nil {
			return nil, err
		}
		if err := unmarshalPart("answer", canonicalAnswer, &o.OrderingAnswer, true); err != nil {
			return nil, err
		}
		def = o
	case KindFreeText:
		f := &FreeText{}
		if err := unmarshalPart("content", content, &f.FreeTextContent, false); err != nil {
			return nil, err
		}
		if err := unmarshalPart("answer", canonicalAnswer, &f.FreeTextAnswer, false); err != nil {
			return nil, err
		}
		def = f
	default:
		return nil, apperr.Validation("unknown question type %q", kind)
	}
	if err := def.validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func unmarshalPart(name string, raw json.RawMessage, dst any, required bool) error {
	if len(raw) == 0 || string(raw) == "null" {
		if required {
			return apperr.Validation("%s is required", name)
		}
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.Validation("%s: %v", name, err)
	}
	return nil
}

func (c *Choice) validate() error {
	if len(c.Options) < 2 {
		return apperr.Validation("choice: at least 2 options required, got %d", len(c.Options))
	}
	for i, o := range c.Options {
		if strings.TrimSpace(o) == "" {
			return apperr.Validation("choice: option %d is empty", i)
		}
	}
	if c.kind == KindSingleChoice && c.Multiple {
		return apperr.Validation("choice: single_choice cannot set multiple=true")
	}
	if c.kind == KindMultiChoice && !c.Multiple {
		// a multi_choice question always accepts a set
		c.Multiple = true
	}
	if len(c.Correct) == 0 {
		return apperr.Validation("choice: at least one correct option required")
	}
	seen := make(map[int]bool, len(c.Correct))
	for _, idx := range c.Correct {
		if idx < 0 || idx >= len(c.Options) {
			return apperr.Validation("choice: correct index %d out of range", idx)
		}
		if seen[idx] {
			return apperr.Validation("choice: correct index %d repeated", idx)
		}
		seen[idx] = true
	}
	if !c.Multiple && len(c.Correct) != 1 {
		return apperr.Validation("choice: exactly one correct option required when multiple=false, got %d", len(c.Correct))
	}
	return nil
}

func (t *TrueFalse) validate() error {
	if t.Value == nil {
		return apperr.Validation("true_false: answer value is required")
	}
	return nil
}

func (n *Numeric) validate() error {
	if n.Value == nil {
		return apperr.Validation("numeric: answer value is required")
	}
	if math.IsNaN(*n.Value) || math.IsInf(*n.Value, 0) {
		return apperr.Validation("numeric: answer value must be finite")
	}
	if n.Tolerance < 0 || math.IsNaN(n.Tolerance) {
		return apperr.Validation("numeric: tolerance must be non-negative")
	}
	return nil
}

func (f *FillBlanks) validate() error {
	if len(f.Blanks) == 0 {
		return apperr.Validation("fill_blanks: at least one blank required")
	}
	seen := make(map[string]bool, len(f.Blanks))
	for i := range f.Blanks {
		b := &f.Blanks[i]
		if b.ID == "" {
			return apperr.Validation("fill_blanks: blank %d has no id", i)
		}
		if seen[b.ID] {
			return apperr.Validation("fill_blanks: duplicate blank id %q", b.ID)
		}
		seen[b.ID] = true
		if strings.TrimSpace(b.Placeholder) == "" {
			return apperr.Validation("fill_blanks: blank %q has no placeholder", b.ID)
		}
		if b.Kind == "" {
			b.Kind = BlankText
		}
		want, ok := f.Values[b.ID]
		if !ok || strings.TrimSpace(want) == "" {
			return apperr.Validation("fill_blanks: blank %q has no correct value", b.ID)
		}
		switch b.Kind {
		case BlankText:
		case BlankNumber:
			if _, err := strconv.ParseFloat(strings.TrimSpace(want), 64); err != nil {
				return apperr.Validation("fill_blanks: blank %q expects a number, got %q", b.ID, want)
			}
		default:
			return apperr.Validation("fill_blanks: blank %q has unknown kind %q", b.ID, b.Kind)
		}
	}
	for id := range f.Values {
		if !seen[id] {
			return apperr.Validation("fill_blanks: answer for unknown blank %q", id)
		}
	}
	return nil
}

func (m *Matching) validate() error {
	if len(m.Left) < 2 || len(m.Right) < 2 {
		return apperr.Validation("matching: both columns need at least 2 entries")
	}
	if len(m.Right) < len(m.Left) {
		return apperr.Validation("matching: right column (%d) shorter than left (%d)", len(m.Right), len(m.Left))
	}
	left, err := entryIDs("left", m.Left)
	if err != nil {
		return err
	}
	right, err := entryIDs("right", m.Right)
	if err != nil {
		return err
	}
	used := make(map[string]string, len(m.Pairs))
	for _, l := range m.Left {
		r, ok := m.Pairs[l.ID]
		if !ok {
			return apperr.Validation("matching: left %q has no pair", l.ID)
		}
		if !right[r] {
			return apperr.Validation("matching: left %q maps to unknown right %q", l.ID, r)
		}
		if prev, dup := used[r]; dup && m.OneToOne {
			return apperr.Validation("matching: right %q used by both %q and %q", r, prev, l.ID)
		}
		used[r] = l.ID
	}
	for l := range m.Pairs {
		if !left[l] {
			return apperr.Validation("matching: pair for unknown left %q", l)
		}
	}
	return nil
}

func entryIDs(col string, entries []Entry) (map[string]bool, error) {
	ids := make(map[string]bool, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return nil, apperr.Validation("matching: %s entry %d has no id", col, i)
		}
		if ids[e.ID] {
			return nil, apperr.Validation("matching: duplicate %s id %q", col, e.ID)
		}
		ids[e.ID] = true
	}
	return ids, nil
}

func (o *Ordering) validate() error {
	if len(o.Items) < 2 {
		return apperr.Validation("ordering: at least 2 items required")
	}
	if !IsPermutation(o.Order, len(o.Items)) {
		return apperr.Validation("ordering: canonical order must be a permutation of 0..%d", len(o.Items)-1)
	}
	return nil
}

func (f *FreeText) validate() error {
	for i, c := range f.Rubric {
		if strings.TrimSpace(c.Key) == "" {
			return apperr.Validation("free_text: rubric criterion %d has no key", i)
		}
		if c.MaxPoints <= 0 {
			return apperr.Validation("free_text: rubric criterion %q needs max_points > 0", c.Key)
		}
	}
	if f.MinHits < 0 || f.MinHits > len(f.Keywords) {
		return apperr.Validation("free_text: min_hits %d outside 0..%d", f.MinHits, len(f.Keywords))
	}
	return nil
}

// IsPermutation reports whether p contains each of 0..n-1 exactly once.
func IsPermutation(p []int, n int) bool {
	if len(p) != n {
		return false
	}
	seen := make([]bool, n)
	for _, v := range p {
		if v < 0 || v >= n || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}
