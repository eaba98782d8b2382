package bitacora

import "math"

// WeightedAverage is Σ(score×weight)/Σ(weight) over entries whose score is
// present. Entries without a score leave both sums untouched. It returns nil
// when no weight remains.
func WeightedAverage(entries []Entry) *float64 {
	var num, den float64
	for _, e := range entries {
		if e.Score == nil {
			continue
		}
		num += *e.Score * e.Weight
		den += e.Weight
	}
	if den == 0 {
		return nil
	}
	v := num / den
	return &v
}

// ComponentTotals averages each component's activity scores by activity
// weight. scores is keyed by activity id; a missing key means no score.
func ComponentTotals(activities []Activity, scores map[string]*float64) map[Component]*float64 {
	entries := make(map[Component][]Entry, len(Components))
	for _, a := range activities {
		entries[a.Component] = append(entries[a.Component], Entry{Score: scores[a.ID], Weight: a.Weight})
	}
	out := make(map[Component]*float64, len(Components))
	for _, c := range Components {
		out[c] = WeightedAverage(entries[c])
	}
	return out
}

// PartialGrade combines component totals with the section's component
// weights. Under ZeroIfAnyPresent a missing total counts as 0 as long as
// some component has data; under ExcludeMissing the present components are
// renormalized. Either way the result is nil when no component has data.
func PartialGrade(totals map[Component]*float64, w ComponentWeights, policy PartialPolicy) *float64 {
	present := false
	for _, c := range Components {
		if totals[c] != nil {
			present = true
			break
		}
	}
	if !present {
		return nil
	}
	if policy == ExcludeMissing {
		entries := make([]Entry, 0, len(Components))
		for _, c := range Components {
			entries = append(entries, Entry{Score: totals[c], Weight: w.Of(c)})
		}
		return WeightedAverage(entries)
	}
	var sum float64
	for _, c := range Components {
		if t := totals[c]; t != nil {
			sum += *t * w.Of(c) / 100
		}
	}
	return &sum
}

// SemesterGrade is the average of the present partials, blended 50/50 with
// the final exam when one exists. It is nil when no partial has a grade.
func SemesterGrade(partials []*float64, final *float64) *float64 {
	var sum float64
	n := 0
	for _, p := range partials {
		if p != nil {
			sum += *p
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	if final == nil {
		return &avg
	}
	v := avg*0.5 + *final*0.5
	return &v
}

// Round2 rounds half-up to two decimals for display. The small bias absorbs
// binary representation error (7.425 is stored as 7.42499...).
func Round2(v float64) float64 {
	return math.Floor(v*100+0.5+1e-9) / 100
}

func round2Ptr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := Round2(*p)
	return &v
}

func weightsBalanced(sum float64) bool { return math.Abs(sum-100) <= WeightTolerance }
