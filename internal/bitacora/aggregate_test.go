package bitacora

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestWeightedAverageExcludesNulls(t *testing.T) {
	got := WeightedAverage([]Entry{
		{Score: f(8), Weight: 50},
		{Score: nil, Weight: 30},
		{Score: f(6), Weight: 20},
	})
	require.NotNil(t, got)
	assert.InDelta(t, 520.0/70.0, *got, 1e-12)
	assert.Equal(t, 7.43, Round2(*got))

	// the null entry must not be treated as a zero
	assert.NotEqual(t, 5.2, Round2(*got))
}

func TestWeightedAverageUndefined(t *testing.T) {
	assert.Nil(t, WeightedAverage(nil))
	assert.Nil(t, WeightedAverage([]Entry{{Score: nil, Weight: 100}}))
	assert.Nil(t, WeightedAverage([]Entry{{Score: f(9), Weight: 0}}))

	zero := WeightedAverage([]Entry{{Score: f(0), Weight: 10}})
	require.NotNil(t, zero)
	assert.Zero(t, *zero)
}

func TestPartialGradeEndToEnd(t *testing.T) {
	w := ComponentWeights{Continuous: 40, OnlinePlatform: 30, Exam: 30}
	totals := map[Component]*float64{
		ComponentContinuous:     f(7),
		ComponentOnlinePlatform: f(8),
		ComponentExam:           f(6),
	}
	for _, p := range []PartialPolicy{ZeroIfAnyPresent, ExcludeMissing} {
		got := PartialGrade(totals, w, p)
		require.NotNil(t, got, p)
		assert.InDelta(t, 7.0, *got, 1e-9, p)
	}
}

func TestPartialGradeMissingComponentPolicies(t *testing.T) {
	w := ComponentWeights{Continuous: 40, OnlinePlatform: 30, Exam: 30}
	totals := map[Component]*float64{
		ComponentContinuous: f(7),
		ComponentExam:       f(6),
	}

	zero := PartialGrade(totals, w, ZeroIfAnyPresent)
	require.NotNil(t, zero)
	assert.InDelta(t, 7*0.4+6*0.3, *zero, 1e-9)

	excl := PartialGrade(totals, w, ExcludeMissing)
	require.NotNil(t, excl)
	assert.InDelta(t, (7*40+6*30)/70.0, *excl, 1e-9)

	empty := map[Component]*float64{}
	assert.Nil(t, PartialGrade(empty, w, ZeroIfAnyPresent))
	assert.Nil(t, PartialGrade(empty, w, ExcludeMissing))
}

func TestComponentTotals(t *testing.T) {
	acts := []Activity{
		{ID: "hw1", Component: ComponentContinuous, Weight: 50},
		{ID: "hw2", Component: ComponentContinuous, Weight: 30},
		{ID: "hw3", Component: ComponentContinuous, Weight: 20},
		{ID: "quiz", Component: ComponentOnlinePlatform, Weight: 100},
		{ID: "p1", Component: ComponentExam, Weight: 100},
	}
	scores := map[string]*float64{"hw1": f(8), "hw3": f(6), "p1": f(9.5)}
	got := ComponentTotals(acts, scores)

	require.NotNil(t, got[ComponentContinuous])
	assert.InDelta(t, 520.0/70.0, *got[ComponentContinuous], 1e-12)
	assert.Nil(t, got[ComponentOnlinePlatform])
	assert.InDelta(t, 9.5, *got[ComponentExam], 1e-12)
}

func TestSemesterGrade(t *testing.T) {
	cases := []struct {
		name     string
		partials []*float64
		final    *float64
		want     *float64
	}{
		{"no final uses partial average", []*float64{f(8), f(7), f(9)}, nil, f(8)},
		{"final blends half", []*float64{f(8), f(7), f(9)}, f(6), f(7)},
		{"missing partial excluded", []*float64{f(8), nil, f(6)}, nil, f(7)},
		{"nothing captured", []*float64{nil, nil, nil}, f(9), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SemesterGrade(tc.partials, tc.final)
			if tc.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tc.want, *got, 1e-9)
		})
	}
}

func TestRound2HalfUp(t *testing.T) {
	assert.Equal(t, 7.43, Round2(7.425))
	assert.Equal(t, 7.42, Round2(7.4249))
	assert.Equal(t, 0.0, Round2(0))
	assert.Equal(t, 10.0, Round2(9.999))
}
