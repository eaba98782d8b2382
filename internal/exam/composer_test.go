package exam

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/bitacora/internal/apperr"
	"github.com/mind-engage/bitacora/internal/question"
)

func intp(n int) *int { return &n }

func choiceVersion(id string, difficulty int, partial *int) question.Version {
	scope := question.ScopeFinal
	if partial != nil {
		scope = question.ScopePartial
	}
	return question.Version{
		ID: id, SubjectID: "phys", Kind: question.KindSingleChoice, Statement: "pick " + id,
		Difficulty: difficulty, Scope: scope, PartialNumber: partial, Status: question.StatusApproved,
		Content:         json.RawMessage(`{"options":["w","x","y","z"]}`),
		CanonicalAnswer: json.RawMessage(`{"correct":[2]}`),
	}
}

func partialBlueprint(n int) Blueprint {
	return Blueprint{
		ID: "bp", SubjectID: "phys", SectionID: "s1", Kind: KindPartial, PartialNumber: intp(1),
		StartTime: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC), DurationMinutes: 50, MaxAttempts: 1,
		AssemblyMode: AssemblyRandom, QuestionCount: n, Difficulty: DifficultyRange{Min: 2, Max: 6},
		TotalPoints: 10,
	}
}

func TestEligibleFilters(t *testing.T) {
	retired := choiceVersion("retired", 3, intp(1))
	retired.Status = question.StatusRetired
	otherSubject := choiceVersion("chem", 3, intp(1))
	otherSubject.SubjectID = "chem"
	pool := []question.Version{
		choiceVersion("ok-1", 3, intp(1)),
		choiceVersion("too-hard", 9, intp(1)),
		choiceVersion("wrong-partial", 3, intp(2)),
		choiceVersion("final-only", 3, nil),
		retired,
		otherSubject,
		choiceVersion("ok-2", 6, intp(1)),
	}
	var ids []string
	for _, q := range Eligible(pool, partialBlueprint(2)) {
		ids = append(ids, q.ID)
	}
	assert.Equal(t, []string{"ok-1", "ok-2"}, ids)

	final := partialBlueprint(1)
	final.Kind, final.PartialNumber = KindFinal, nil
	got := Eligible(pool, final)
	require.Len(t, got, 1)
	assert.Equal(t, "final-only", got[0].ID)
}

func TestComposeRandom(t *testing.T) {
	var pool []question.Version
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		pool = append(pool, choiceVersion(id, 4, intp(1)))
	}
	bp := partialBlueprint(3)
	links, err := Compose(pool, bp, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	require.Len(t, links, 3)
	seen := map[string]bool{}
	for i, l := range links {
		assert.False(t, seen[l.QuestionID], "sampled without replacement")
		seen[l.QuestionID] = true
		assert.Equal(t, i, l.BaseOrder)
	}
	assert.Equal(t, []float64{3.33, 3.33, 3.34}, []float64{links[0].Points, links[1].Points, links[2].Points})
	assert.NoError(t, CheckReady(bp, links))

	_, err = Compose(pool, partialBlueprint(6), rand.New(rand.NewSource(7)))
	assert.ErrorIs(t, err, apperr.ErrInsufficientPool)
}

func TestComposeManual(t *testing.T) {
	pool := []question.Version{
		choiceVersion("a", 4, intp(1)), choiceVersion("b", 4, intp(1)), choiceVersion("hard", 10, intp(1)),
	}
	bp := partialBlueprint(2)
	bp.AssemblyMode = AssemblyManual
	bp.ManualQuestionIDs = []string{"b", "a"}
	links, err := Compose(pool, bp, nil)
	require.NoError(t, err)
	assert.Equal(t, "b", links[0].QuestionID)
	assert.Equal(t, "a", links[1].QuestionID)
	assert.Equal(t, 5.0, links[0].Points)

	bp.ManualQuestionIDs = []string{"a", "hard"}
	_, err = Compose(pool, bp, nil)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "ineligible question")

	bp.ManualQuestionIDs = []string{"a", "a"}
	_, err = Compose(pool, bp, nil)
	assert.Error(t, err, "duplicates")

	bp.ManualQuestionIDs = []string{"a"}
	_, err = Compose(pool, bp, nil)
	assert.Error(t, err, "count mismatch")
}

func TestDistributePoints(t *testing.T) {
	cases := []struct {
		total float64
		n     int
		want  []float64
	}{
		{10, 4, []float64{2.5, 2.5, 2.5, 2.5}},
		{10, 3, []float64{3.33, 3.33, 3.34}},
		{10, 6, []float64{1.66, 1.66, 1.66, 1.66, 1.66, 1.70}},
		{10, 1, []float64{10}},
		{20, 7, []float64{2.85, 2.85, 2.85, 2.85, 2.85, 2.85, 2.90}},
	}
	for _, tc := range cases {
		got := DistributePoints(tc.total, tc.n)
		assert.Equal(t, tc.want, got)
		links := make([]Link, len(got))
		for i, p := range got {
			links[i].Points = p
		}
		assert.InDelta(t, tc.total, SumPoints(links), 1e-9)
	}
	assert.Nil(t, DistributePoints(10, 0))
}

func TestDistributePointsNeverNegative(t *testing.T) {
	for _, n := range []int{59, 60, 80, 95, 150, 999, 1000} {
		got := DistributePoints(10, n)
		require.Len(t, got, n)
		links := make([]Link, n)
		for i, p := range got {
			assert.GreaterOrEqual(t, p, 0.0, "n=%d item %d", n, i)
			links[i].Points = p
		}
		assert.InDelta(t, 10.0, SumPoints(links), 1e-9, "n=%d", n)
	}
}

func TestComposeRejectsMoreQuestionsThanCents(t *testing.T) {
	bp := partialBlueprint(2)
	bp.TotalPoints = 0.01
	_, err := Compose(nil, bp, rand.New(rand.NewSource(1)))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	assert.ErrorIs(t, CheckReady(bp, []Link{{QuestionID: "a", Points: 0.01}, {QuestionID: "b", Points: 0}}),
		apperr.ErrNotReady)
}

func TestCheckReady(t *testing.T) {
	bp := partialBlueprint(2)
	assert.ErrorIs(t, CheckReady(bp, []Link{{Points: 10}}), apperr.ErrNotReady)
	assert.ErrorIs(t, CheckReady(bp, []Link{{Points: 5}, {Points: 4.99}}), apperr.ErrNotReady)
	assert.NoError(t, CheckReady(bp, []Link{{Points: 5}, {Points: 5}}))
}

func TestMaterializeAndPresent(t *testing.T) {
	v := choiceVersion("q", 3, intp(1))
	def, err := v.Definition()
	require.NoError(t, err)
	links := []Link{
		{QuestionID: "q", Points: 4, BaseOrder: 1},
		{QuestionID: "tf", Points: 6, BaseOrder: 0},
	}
	defs := map[string]question.Definition{"q": def, "tf": &question.TrueFalse{}}

	bp := partialBlueprint(2)
	plain := Materialize(links, defs, bp, rand.New(rand.NewSource(1)))
	assert.Equal(t, "tf", plain[0].QuestionID, "base order without shuffling")
	assert.Equal(t, []int{0, 1, 2, 3}, plain[1].OptionPerm)
	assert.Nil(t, plain[0].OptionPerm, "true/false has nothing to shuffle")

	bp.ShuffleQuestions, bp.ShuffleOptions = true, true
	a := Materialize(links, defs, bp, rand.New(rand.NewSource(42)))
	b := Materialize(links, defs, bp, rand.New(rand.NewSource(42)))
	assert.Equal(t, a, b, "same seed, same order")
	for i, e := range a {
		assert.Equal(t, i, e.Position)
		if e.QuestionID == "q" {
			assert.True(t, question.IsPermutation(e.OptionPerm, 4))
			mq := Present(v, def, e)
			content := mq.Content.(question.ChoiceContent)
			for display, canonical := range e.OptionPerm {
				assert.Equal(t, []string{"w", "x", "y", "z"}[canonical], content.Options[display])
			}
			raw, err := json.Marshal(mq)
			require.NoError(t, err)
			assert.NotContains(t, string(raw), "correct", "answers never reach the student")
		}
	}
}
