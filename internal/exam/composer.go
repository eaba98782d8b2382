package exam

import (
	"math"
	"math/rand"
	"sort"

	"github.com/mind-engage/bitacora/internal/apperr"
	"github.com/mind-engage/bitacora/internal/question"
)

// Eligible filters the pool down to approved versions matching the
// blueprint's subject, scope and difficulty range. Pool order is kept.
func Eligible(pool []question.Version, bp Blueprint) []question.Version {
	out := make([]question.Version, 0, len(pool))
	for _, q := range pool {
		if q.Status != question.StatusApproved || q.SubjectID != bp.SubjectID {
			continue
		}
		if !bp.Difficulty.Contains(q.Difficulty) {
			continue
		}
		switch bp.Kind {
		case KindFinal:
			if q.Scope != question.ScopeFinal {
				continue
			}
		case KindPartial:
			if q.Scope != question.ScopePartial || q.PartialNumber == nil || bp.PartialNumber == nil ||
				*q.PartialNumber != *bp.PartialNumber {
				continue
			}
		}
		out = append(out, q)
	}
	return out
}

// Compose selects the blueprint's questions and assigns evenly distributed
// points. Random mode samples without replacement; manual mode takes the
// curated ids in order and requires each to be eligible.
func Compose(pool []question.Version, bp Blueprint, rng *rand.Rand) ([]Link, error) {
	if bp.QuestionCount <= 0 {
		return nil, apperr.Validation("question_count must be positive")
	}
	if int64(bp.QuestionCount) > totalCents(bp) {
		return nil, apperr.Validation("question_count %d exceeds the %.2f points to distribute in cents",
			bp.QuestionCount, bp.TotalPoints)
	}
	eligible := Eligible(pool, bp)

	var picked []question.Version
	switch bp.AssemblyMode {
	case AssemblyRandom:
		if len(eligible) < bp.QuestionCount {
			return nil, apperr.New(apperr.ErrInsufficientPool,
				"need %d questions, pool has %d", bp.QuestionCount, len(eligible))
		}
		idx := rng.Perm(len(eligible))[:bp.QuestionCount]
		picked = make([]question.Version, 0, bp.QuestionCount)
		for _, i := range idx {
			picked = append(picked, eligible[i])
		}
	case AssemblyManual:
		if len(bp.ManualQuestionIDs) != bp.QuestionCount {
			return nil, apperr.Validation("manual assembly lists %d questions, question_count is %d",
				len(bp.ManualQuestionIDs), bp.QuestionCount)
		}
		byID := make(map[string]question.Version, len(eligible))
		for _, q := range eligible {
			byID[q.ID] = q
		}
		seen := make(map[string]bool, len(bp.ManualQuestionIDs))
		for _, id := range bp.ManualQuestionIDs {
			q, ok := byID[id]
			if !ok {
				return nil, apperr.Validation("question %q is not eligible for this blueprint", id)
			}
			if seen[id] {
				return nil, apperr.Validation("question %q listed twice", id)
			}
			seen[id] = true
			picked = append(picked, q)
		}
	default:
		return nil, apperr.Validation("unknown assembly mode %q", bp.AssemblyMode)
	}

	points := DistributePoints(blueprintTotal(bp), len(picked))
	links := make([]Link, len(picked))
	for i, q := range picked {
		links[i] = Link{BlueprintID: bp.ID, QuestionID: q.ID, Points: points[i], BaseOrder: i}
	}
	return links, nil
}

// DistributePoints splits total evenly across n items truncated to whole
// cents, giving the residual to the last item so the sum is exact and no
// item is negative.
func DistributePoints(total float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	cents := int64(math.Round(total * 100))
	each := cents / int64(n)
	out := make([]float64, n)
	var assigned int64
	for i := 0; i < n-1; i++ {
		out[i] = float64(each) / 100
		assigned += each
	}
	out[n-1] = float64(cents-assigned) / 100
	return out
}

// SumPoints adds link points in cents to avoid float drift.
func SumPoints(links []Link) float64 {
	var cents int64
	for _, l := range links {
		cents += int64(math.Round(l.Points * 100))
	}
	return float64(cents) / 100
}

// CheckReady enforces the invariant for leaving draft: the link count equals
// question_count and the points add up to the blueprint total.
func CheckReady(bp Blueprint, links []Link) error {
	if len(links) != bp.QuestionCount {
		return apperr.New(apperr.ErrNotReady, "blueprint has %d questions, expected %d", len(links), bp.QuestionCount)
	}
	for _, l := range links {
		if l.Points <= 0 {
			return apperr.New(apperr.ErrNotReady, "question %s carries %.2f points", l.QuestionID, l.Points)
		}
	}
	total := blueprintTotal(bp)
	if sum := SumPoints(links); math.Abs(sum-total) > PointsEpsilon {
		return apperr.New(apperr.ErrNotReady, "points sum to %.2f, expected %.2f", sum, total)
	}
	return nil
}

func blueprintTotal(bp Blueprint) float64 {
	if bp.TotalPoints <= 0 {
		return DefaultTotalPoints
	}
	return bp.TotalPoints
}

func totalCents(bp Blueprint) int64 {
	return int64(math.Round(blueprintTotal(bp) * 100))
}

// Materialize fixes the question order and per-question option permutations
// for one attempt. defs supplies each question's slot count.
func Materialize(links []Link, defs map[string]question.Definition, bp Blueprint, rng *rand.Rand) []OrderEntry {
	ordered := make([]Link, len(links))
	copy(ordered, links)
	sortByBaseOrder(ordered)
	if bp.ShuffleQuestions {
		rng.Shuffle(len(ordered), func(i, j int) { ordered[i], ordered[j] = ordered[j], ordered[i] })
	}
	out := make([]OrderEntry, len(ordered))
	for i, l := range ordered {
		e := OrderEntry{Position: i, QuestionID: l.QuestionID, Points: l.Points}
		if def, ok := defs[l.QuestionID]; ok && def.Slots() > 0 {
			if bp.ShuffleOptions {
				e.OptionPerm = rng.Perm(def.Slots())
			} else {
				e.OptionPerm = identity(def.Slots())
			}
		}
		out[i] = e
	}
	return out
}

// Present reorders a question's displayable content according to perm.
func Present(v question.Version, def question.Definition, e OrderEntry) MaterializedQuestion {
	mq := MaterializedQuestion{
		Position:   e.Position,
		QuestionID: v.ID,
		Kind:       v.Kind,
		Statement:  v.Statement,
		Points:     e.Points,
	}
	perm := e.OptionPerm
	switch d := def.(type) {
	case *question.Choice:
		mq.Content = question.ChoiceContent{Options: permute(d.Options, perm), Multiple: d.Multiple}
	case *question.Matching:
		mq.Content = question.MatchingContent{Left: d.Left, Right: permute(d.Right, perm), OneToOne: d.OneToOne}
	case *question.Ordering:
		mq.Content = question.OrderingContent{Items: permute(d.Items, perm)}
	case *question.FillBlanks:
		mq.Content = d.FillBlanksContent
	case *question.Numeric:
		mq.Content = d.NumericContent
	case *question.FreeText:
		mq.Content = d.FreeTextContent
	default:
		mq.Content = struct{}{}
	}
	return mq
}

func permute[T any](in []T, perm []int) []T {
	if len(perm) != len(in) {
		return in
	}
	out := make([]T, len(in))
	for display, canonical := range perm {
		out[display] = in[canonical]
	}
	return out
}

func identity(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return p
}

func sortByBaseOrder(links []Link) {
	sort.SliceStable(links, func(i, j int) bool { return links[i].BaseOrder < links[j].BaseOrder })
}
