package grading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/mind-engage/bitacora/internal/question"
)

// fillBlanksStrategy scores points * matched/total. Text blanks compare after
// trimming, collapsing inner whitespace and Unicode case folding; number
// blanks compare numerically.
//
//	payload: {"blanks": {"b1": "Madrid", "b2": "3.5"}}
type fillBlanksStrategy struct{}

func (fillBlanksStrategy) Grade(_ context.Context, it Item, payload json.RawMessage) (Result, error) {
	f, ok := it.Def.(*question.FillBlanks)
	if !ok {
		return Result{}, errors.New("definition is not a fill-in-blanks question")
	}
	var p struct {
		Blanks map[string]json.RawMessage `json:"blanks"`
	}
	if err := decodeStrict(payload, &p); err != nil {
		return Result{}, err
	}
	hits := 0
	for _, b := range f.Blanks {
		raw, ok := p.Blanks[b.ID]
		if !ok {
			continue
		}
		got, ok := blankText(raw)
		if !ok {
			continue
		}
		want := f.Values[b.ID]
		if blankMatches(b.Kind, got, want) {
			hits++
		}
	}
	res := Result{AutoPoints: it.Points * float64(hits) / float64(len(f.Blanks))}
	res.Feedback = append(res.Feedback, fmt.Sprintf("blanks: %d/%d", hits, len(f.Blanks)))
	return res, nil
}

// blankText accepts either a JSON string or a JSON number for one blank.
func blankText(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

func blankMatches(kind question.BlankKind, got, want string) bool {
	if kind == question.BlankNumber {
		g, ok1 := parseFloatLoose(got)
		w, ok2 := parseFloatLoose(want)
		return ok1 && ok2 && math.Abs(g-w) <= floatSlack
	}
	return foldText(got) == foldText(want)
}

// foldText trims, collapses whitespace runs to one space, composes to NFC and
// case-folds.
func foldText(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

// normalize does simple casefolding and trims punctuation/extra spaces.
func normalize(s string) string {
	out := make([]rune, 0, len(s))
	space := false
	for _, r := range norm.NFC.String(s) {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsPunct(r):
			// skip
		default:
			if space && len(out) > 0 {
				out = append(out, ' ')
			}
			space = false
			out = append(out, r)
		}
	}
	return cases.Fold().String(string(out))
}

// keywordSignals counts how many keywords occur in text. With maxEdit > 0 a
// single-word keyword also counts when some word of the text is within that
// edit distance.
func keywordSignals(text string, keywords []string, minHits, maxEdit int) Signals {
	sig := Signals{MinHits: minHits}
	body := normalize(text)
	words := strings.Fields(body)
	for _, k := range keywords {
		nk := normalize(k)
		if nk == "" {
			continue
		}
		sig.KeywordTotal++
		hit := strings.Contains(body, nk)
		if !hit && maxEdit > 0 && !strings.Contains(nk, " ") {
			for _, w := range words {
				if levenshtein(w, nk) <= maxEdit {
					hit = true
					break
				}
			}
		}
		if hit {
			sig.KeywordHits++
			sig.Matched = append(sig.Matched, k)
		}
	}
	sig.MeetsMinimum = sig.KeywordHits >= minHits
	return sig
}

// levenshtein computes edit distance (insertion, deletion, substitution cost 1).
func levenshtein(a, b string) int {
	ar := []rune(a)
	br := []rune(b)
	n, m := len(ar), len(br)
	if n == 0 {
		return m
	}
	if m == 0 {
		return n
	}
	dp := make([]int, m+1)
	for j := 0; j <= m; j++ {
		dp[j] = j
	}
	for i := 1; i <= n; i++ {
		prev := dp[0]
		dp[0] = i
		for j := 1; j <= m; j++ {
			tmp := dp[j]
			cost := 0
			if ar[i-1] != br[j-1] {
				cost = 1
			}
			dp[j] = min(dp[j]+1, dp[j-1]+1, prev+cost)
			prev = tmp
		}
	}
	return dp[m]
}
