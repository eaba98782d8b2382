package grading

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/mind-engage/bitacora/internal/question"
)

// Item is the view of an exam question needed to grade one response.
// Permutation maps display position -> canonical option index; nil means the
// options were shown in canonical order.
type Item struct {
	Points      float64
	Def         question.Definition
	Permutation []int
}

// Signals are reviewer aids for free-text answers. They never award points.
type Signals struct {
	KeywordHits  int      `json:"keyword_hits"`
	KeywordTotal int      `json:"keyword_total"`
	MinHits      int      `json:"min_hits"`
	MeetsMinimum bool     `json:"meets_minimum"`
	Matched      []string `json:"matched,omitempty"`
}

// Result is the outcome of grading a single question response.
type Result struct {
	AutoPoints  float64  // points awarded automatically
	MaxPoints   float64  // the question's max points
	Answered    bool     // a non-empty payload was present
	Malformed   bool     // payload could not be interpreted; scored as 0
	NeedsManual bool     // true if teacher review is required
	Signals     *Signals // free text only
	Feedback    []string // optional notes
}

// Strategy grades a single question kind. Returning an error marks the
// payload malformed; the grader turns that into a zero score.
type Strategy interface {
	Grade(ctx context.Context, it Item, payload json.RawMessage) (Result, error)
}

// Grader routes by question kind to the correct Strategy. It never fails:
// missing or malformed payloads score 0.
type Grader interface {
	Grade(ctx context.Context, it Item, payload json.RawMessage) Result
}

type defaultGrader struct {
	strategies map[question.Kind]Strategy
}

func (g *defaultGrader) Grade(ctx context.Context, it Item, payload json.RawMessage) Result {
	needsManual := it.Def != nil && it.Def.Kind() == question.KindFreeText
	if it.Def == nil {
		return Result{MaxPoints: it.Points, Malformed: true, Feedback: []string{"question definition missing"}}
	}
	if isEmptyPayload(payload) {
		return Result{MaxPoints: it.Points, NeedsManual: needsManual, Feedback: []string{"unanswered"}}
	}
	s, ok := g.strategies[it.Def.Kind()]
	if !ok {
		return Result{MaxPoints: it.Points, Answered: true, NeedsManual: true, Feedback: []string{"no strategy available"}}
	}
	res, err := s.Grade(ctx, it, payload)
	if err != nil {
		return Result{
			MaxPoints:   it.Points,
			Answered:    true,
			Malformed:   true,
			NeedsManual: needsManual,
			Feedback:    []string{"malformed: " + err.Error()},
		}
	}
	res.Answered = true
	res.MaxPoints = it.Points
	res.AutoPoints = clamp(Round2(res.AutoPoints), 0, it.Points)
	return res
}

// Engine options

type Option func(*config)

type config struct {
	MaxEditDistance   int  // fuzzy keyword hits for free-text aids
	AllowPartialMulti bool // partial credit for multi_choice without false positives
	OrderingLCS       bool // ordering credit by longest common subsequence
}

func WithMaxEditDistance(n int) Option { return func(c *config) { c.MaxEditDistance = n } }
func WithPartialMulti(b bool) Option   { return func(c *config) { c.AllowPartialMulti = b } }
func WithOrderingLCS(b bool) Option    { return func(c *config) { c.OrderingLCS = b } }

// NewDefaultGrader installs built-in strategies. Defaults are all-or-nothing
// for multi_choice and ordering.
func NewDefaultGrader(opts ...Option) Grader {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	return &defaultGrader{
		strategies: map[question.Kind]Strategy{
			question.KindSingleChoice: singleChoiceStrategy{},
			question.KindMultiChoice:  multiChoiceStrategy{allowPartial: cfg.AllowPartialMulti},
			question.KindTrueFalse:    trueFalseStrategy{},
			question.KindNumeric:      numericStrategy{},
			question.KindFillBlanks:   fillBlanksStrategy{},
			question.KindMatching:     matchingStrategy{},
			question.KindOrdering:     orderingStrategy{lcs: cfg.OrderingLCS},
			question.KindFreeText:     freeTextStrategy{maxEdit: cfg.MaxEditDistance},
		},
	}
}

// --- Strategies ---

type singleChoiceStrategy struct{}

func (singleChoiceStrategy) Grade(_ context.Context, it Item, payload json.RawMessage) (Result, error) {
	c, ok := it.Def.(*question.Choice)
	if !ok {
		return Result{}, errors.New("definition is not a choice question")
	}
	var p struct {
		Selected *int `json:"selected"`
	}
	if err := decodeStrict(payload, &p); err != nil {
		return Result{}, err
	}
	if p.Selected == nil {
		return Result{}, errors.New("selected is required")
	}
	idx, err := toCanonical(it.Permutation, *p.Selected, len(c.Options))
	if err != nil {
		return Result{}, err
	}
	var res Result
	if idx == c.Correct[0] {
		res.AutoPoints = it.Points
	}
	return res, nil
}

type multiChoiceStrategy struct{ allowPartial bool }

func (s multiChoiceStrategy) Grade(_ context.Context, it Item, payload json.RawMessage) (Result, error) {
	c, ok := it.Def.(*question.Choice)
	if !ok {
		return Result{}, errors.New("definition is not a choice question")
	}
	var p struct {
		Selected []int `json:"selected"`
	}
	if err := decodeStrict(payload, &p); err != nil {
		return Result{}, err
	}
	resp := make(map[int]struct{}, len(p.Selected))
	for _, d := range p.Selected {
		idx, err := toCanonical(it.Permutation, d, len(c.Options))
		if err != nil {
			return Result{}, err
		}
		resp[idx] = struct{}{}
	}
	correct := make(map[int]struct{}, len(c.Correct))
	for _, k := range c.Correct {
		correct[k] = struct{}{}
	}

	var res Result
	if setEqual(correct, resp) {
		res.AutoPoints = it.Points
		return res, nil
	}
	hasFalsePositive := false
	for r := range resp {
		if _, ok := correct[r]; !ok {
			hasFalsePositive = true
			break
		}
	}
	if s.allowPartial && !hasFalsePositive && len(correct) > 0 {
		res.AutoPoints = it.Points * (float64(len(resp)) / float64(len(correct)))
	}
	return res, nil
}

type trueFalseStrategy struct{}

func (trueFalseStrategy) Grade(_ context.Context, it Item, payload json.RawMessage) (Result, error) {
	tf, ok := it.Def.(*question.TrueFalse)
	if !ok {
		return Result{}, errors.New("definition is not a true/false question")
	}
	var p struct {
		Value *bool `json:"value"`
	}
	if err := decodeStrict(payload, &p); err != nil {
		return Result{}, err
	}
	if p.Value == nil {
		return Result{}, errors.New("value is required")
	}
	var res Result
	if *p.Value == *tf.Value {
		res.AutoPoints = it.Points
	}
	return res, nil
}

type matchingStrategy struct{}

func (matchingStrategy) Grade(_ context.Context, it Item, payload json.RawMessage) (Result, error) {
	m, ok := it.Def.(*question.Matching)
	if !ok {
		return Result{}, errors.New("definition is not a matching question")
	}
	var p struct {
		Pairs map[string]string `json:"pairs"`
	}
	if err := decodeStrict(payload, &p); err != nil {
		return Result{}, err
	}
	hits := 0
	for _, l := range m.Left {
		if got, ok := p.Pairs[l.ID]; ok && got == m.Pairs[l.ID] {
			hits++
		}
	}
	res := Result{AutoPoints: it.Points * float64(hits) / float64(len(m.Left))}
	res.Feedback = append(res.Feedback, fmt.Sprintf("pairs: %d/%d", hits, len(m.Left)))
	return res, nil
}

type orderingStrategy struct{ lcs bool }

func (s orderingStrategy) Grade(_ context.Context, it Item, payload json.RawMessage) (Result, error) {
	o, ok := it.Def.(*question.Ordering)
	if !ok {
		return Result{}, errors.New("definition is not an ordering question")
	}
	var p struct {
		Order []int `json:"order"`
	}
	if err := decodeStrict(payload, &p); err != nil {
		return Result{}, err
	}
	n := len(o.Items)
	if !question.IsPermutation(p.Order, n) {
		return Result{}, fmt.Errorf("order must be a permutation of %d items", n)
	}
	got := make([]int, n)
	for k, d := range p.Order {
		idx, err := toCanonical(it.Permutation, d, n)
		if err != nil {
			return Result{}, err
		}
		got[k] = idx
	}
	var res Result
	if s.lcs {
		res.AutoPoints = it.Points * float64(lcsLen(got, o.Order)) / float64(n)
		return res, nil
	}
	for k := range got {
		if got[k] != o.Order[k] {
			return res, nil
		}
	}
	res.AutoPoints = it.Points
	return res, nil
}

type freeTextStrategy struct{ maxEdit int }

func (s freeTextStrategy) Grade(_ context.Context, it Item, payload json.RawMessage) (Result, error) {
	ft, ok := it.Def.(*question.FreeText)
	if !ok {
		return Result{}, errors.New("definition is not a free-text question")
	}
	var p struct {
		Text string `json:"text"`
	}
	if err := decodeStrict(payload, &p); err != nil {
		return Result{}, err
	}
	sig := keywordSignals(p.Text, ft.Keywords, ft.MinHits, s.maxEdit)
	return Result{
		NeedsManual: true,
		Signals:     &sig,
		Feedback:    []string{fmt.Sprintf("keyword hits: %d/%d (min %d)", sig.KeywordHits, sig.KeywordTotal, sig.MinHits)},
	}, nil
}

// helpers

func isEmptyPayload(p json.RawMessage) bool {
	t := bytes.TrimSpace(p)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func decodeStrict(payload json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after payload")
	}
	return nil
}

// toCanonical maps a displayed option position to its canonical index.
func toCanonical(perm []int, displayed, n int) (int, error) {
	if displayed < 0 || displayed >= n {
		return 0, fmt.Errorf("option %d out of range", displayed)
	}
	if perm == nil {
		return displayed, nil
	}
	if len(perm) != n {
		return 0, fmt.Errorf("permutation has %d entries, want %d", len(perm), n)
	}
	return perm[displayed], nil
}

func setEqual(a, b map[int]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func lcsLen(a, b []int) int {
	dp := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		prev := 0
		for j := 1; j <= len(b); j++ {
			tmp := dp[j]
			if a[i-1] == b[j-1] {
				dp[j] = prev + 1
			} else if dp[j-1] > dp[j] {
				dp[j] = dp[j-1]
			}
			prev = tmp
		}
	}
	return dp[len(b)]
}

// Round2 rounds half away from zero to 2 decimals.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
