package grading

import (
	"fmt"

	"github.com/mind-engage/bitacora/internal/question"
)

// ScoreRubric sums per-criterion awards, clamping each to [0, criterion max]
// and the total to max when max > 0. Unknown keys in awarded are ignored.
func ScoreRubric(criteria []question.Criterion, max float64, awarded map[string]float64) (float64, []string) {
	total := 0.0
	notes := make([]string, 0, len(criteria))
	for _, c := range criteria {
		v := awarded[c.Key]
		if v < 0 {
			v = 0
		}
		if v > c.MaxPoints {
			v = c.MaxPoints
		}
		total += v
		notes = append(notes, fmt.Sprintf("%s:%.2f", c.Key, v))
	}
	if max > 0 && total > max {
		total = max
	}
	return Round2(total), notes
}
