package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/bitacora/internal/apperr"
	"github.com/mind-engage/bitacora/internal/exam"
	"github.com/mind-engage/bitacora/internal/question"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeExams struct{ snap exam.Snapshot }

func (f *fakeExams) Snapshot(_ context.Context, id string) (exam.Snapshot, error) {
	if id != f.snap.Blueprint.ID {
		return exam.Snapshot{}, apperr.NotFound("blueprint", id)
	}
	return f.snap, nil
}

func version(t *testing.T, id string, kind question.Kind, content, answer string) question.Version {
	t.Helper()
	p := 1
	v := question.Version{
		ID: id, SubjectID: "bio", Kind: kind, Statement: "q " + id, Difficulty: 3,
		Scope: question.ScopePartial, PartialNumber: &p, Status: question.StatusApproved,
		Content: json.RawMessage(content), CanonicalAnswer: json.RawMessage(answer),
	}
	require.NoError(t, question.ValidateVersion(v))
	return v
}

// sampleVersions: single choice (correct option 1), numeric 3.14±0.01 and a
// free-text question with a two-criterion rubric.
func sampleVersions(t *testing.T) []question.Version {
	return []question.Version{
		version(t, "q-choice", question.KindSingleChoice, `{"options":["a","b","c"]}`, `{"correct":[1]}`),
		version(t, "q-num", question.KindNumeric, `{}`, `{"value":3.14,"tolerance":0.01}`),
		version(t, "q-essay", question.KindFreeText, `{"max_words":200}`,
			`{"keywords":["chlorophyll","light"],"min_hits":1,"rubric":[{"key":"content","max_points":2},{"key":"clarity","max_points":2}]}`),
	}
}

func sampleBlueprint() exam.Blueprint {
	p := 1
	return exam.Blueprint{
		ID: "bp-1", SubjectID: "bio", SectionID: "sec-a", Kind: exam.KindPartial, PartialNumber: &p,
		StartTime: t0, DurationMinutes: 60, MaxAttempts: 2, AssemblyMode: exam.AssemblyRandom,
		QuestionCount: 3, Difficulty: exam.DifficultyRange{Min: 1, Max: 10},
		ShuffleQuestions: true, ShuffleOptions: true, TotalPoints: 10, Status: exam.StatusActive,
	}
}

func snapshotOf(t *testing.T, bp exam.Blueprint, versions []question.Version) exam.Snapshot {
	t.Helper()
	points := []float64{4, 3, 3}
	snap := exam.Snapshot{Blueprint: bp, Versions: map[string]question.Version{}, Defs: map[string]question.Definition{}}
	for i, v := range versions {
		def, err := v.Definition()
		require.NoError(t, err)
		snap.Versions[v.ID] = v
		snap.Defs[v.ID] = def
		snap.Links = append(snap.Links, exam.Link{BlueprintID: bp.ID, QuestionID: v.ID, Points: points[i], BaseOrder: i})
	}
	return snap
}

type harness struct {
	svc   *Service
	store Store
	clock *clock
	exams *fakeExams
}

func newHarness(t *testing.T, store Store) *harness {
	t.Helper()
	c := &clock{t: t0.Add(time.Minute)}
	ex := &fakeExams{snap: snapshotOf(t, sampleBlueprint(), sampleVersions(t))}
	svc := NewService(store, ex, WithClock(c.Now), WithRand(rand.New(rand.NewSource(7))))
	return &harness{svc: svc, store: store, clock: c, exams: ex}
}

// displayedIndex finds where canonical option idx was shown.
func displayedIndex(t *testing.T, qs []exam.MaterializedQuestion, qid, option string) int {
	t.Helper()
	for _, q := range qs {
		if q.QuestionID != qid {
			continue
		}
		c, ok := q.Content.(question.ChoiceContent)
		require.True(t, ok)
		for i, o := range c.Options {
			if o == option {
				return i
			}
		}
	}
	t.Fatalf("option %q of %s not shown", option, qid)
	return -1
}

func TestStartMaterializesWithoutAnswers(t *testing.T) {
	h := newHarness(t, NewMemoryStore())
	res, err := h.svc.Start(context.Background(), "bp-1", "enr-1")
	require.NoError(t, err)

	assert.Equal(t, StatusInProgress, res.Attempt.Status)
	assert.Equal(t, 1, res.Attempt.AttemptNumber)
	require.NotNil(t, res.Attempt.Deadline)
	assert.Equal(t, h.clock.Now().Add(60*time.Minute), *res.Attempt.Deadline)
	require.Len(t, res.Questions, 3)

	raw, err := json.Marshal(res.Questions)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "correct")
	assert.NotContains(t, string(raw), "chlorophyll")

	seen := map[string]bool{}
	for _, q := range res.Questions {
		seen[q.QuestionID] = true
	}
	assert.Len(t, seen, 3)
}

func TestStartAvailability(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(bp *exam.Blueprint)
	}{
		{"draft", func(bp *exam.Blueprint) { bp.Status = exam.StatusDraft }},
		{"closed", func(bp *exam.Blueprint) { bp.Status = exam.StatusClosed }},
		{"archived", func(bp *exam.Blueprint) { bp.Status = exam.StatusArchived }},
		{"before start", func(bp *exam.Blueprint) { bp.StartTime = t0.Add(time.Hour) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, NewMemoryStore())
			tc.mutate(&h.exams.snap.Blueprint)
			_, err := h.svc.Start(context.Background(), "bp-1", "enr-1")
			assert.True(t, errors.Is(err, apperr.ErrExamNotAvailable), "got %v", err)
		})
	}
}

func TestStartRejectsSecondInProgress(t *testing.T) {
	h := newHarness(t, NewMemoryStore())
	ctx := context.Background()
	_, err := h.svc.Start(ctx, "bp-1", "enr-1")
	require.NoError(t, err)

	_, err = h.svc.Start(ctx, "bp-1", "enr-1")
	assert.True(t, errors.Is(err, apperr.ErrAttemptInProgress))
	assert.Equal(t, apperr.KindConcurrency, apperr.KindOf(err))

	// other students are unaffected
	_, err = h.svc.Start(ctx, "bp-1", "enr-2")
	assert.NoError(t, err)
}

func TestConcurrentStartsCreateOneAttempt(t *testing.T) {
	for name, store := range map[string]Store{"memory": NewMemoryStore(), "sql": newSQLFixture(t).store} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, store)
			const n = 8
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				ok, busy int
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := h.svc.Start(context.Background(), "bp-1", "enr-1")
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						ok++
					case errors.Is(err, apperr.ErrAttemptInProgress):
						busy++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, ok)
			assert.Equal(t, n-1, busy)
		})
	}
}

func TestAttemptLimitAndVoid(t *testing.T) {
	h := newHarness(t, NewMemoryStore())
	ctx := context.Background()

	a1, err := h.svc.Start(ctx, "bp-1", "enr-1")
	require.NoError(t, err)
	_, err = h.svc.Submit(ctx, a1.Attempt.ID)
	require.NoError(t, err)

	a2, err := h.svc.Start(ctx, "bp-1", "enr-1")
	require.NoError(t, err)
	assert.Equal(t, 2, a2.Attempt.AttemptNumber)

	// voiding the open attempt frees its slot
	_, err = h.svc.Void(ctx, a2.Attempt.ID, "proctor: network outage")
	require.NoError(t, err)
	a3, err := h.svc.Start(ctx, "bp-1", "enr-1")
	require.NoError(t, err)
	assert.Equal(t, 2, a3.Attempt.AttemptNumber)
	_, err = h.svc.Submit(ctx, a3.Attempt.ID)
	require.NoError(t, err)

	_, err = h.svc.Start(ctx, "bp-1", "enr-1")
	assert.True(t, errors.Is(err, apperr.ErrAttemptLimitReached), "got %v", err)

	_, err = h.svc.Void(ctx, a1.Attempt.ID, "too late")
	assert.True(t, errors.Is(err, apperr.ErrAttemptNotWritable))
}

func TestRecordResponseValidation(t *testing.T) {
	h := newHarness(t, NewMemoryStore())
	ctx := context.Background()
	res, err := h.svc.Start(ctx, "bp-1", "enr-1")
	require.NoError(t, err)
	id := res.Attempt.ID

	_, err = h.svc.RecordResponse(ctx, id, "q-unknown", json.RawMessage(`{"value":1}`))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = h.svc.RecordResponse(ctx, id, "q-num", json.RawMessage(`{"value":`))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	first, err := h.svc.RecordResponse(ctx, id, "q-num", json.RawMessage(`{"value":1}`))
	require.NoError(t, err)
	second, err := h.svc.RecordResponse(ctx, id, "q-num", json.RawMessage(`{"value":3.141}`))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	responses, err := h.store.ListResponses(ctx, id)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.JSONEq(t, `{"value":3.141}`, string(responses[0].Payload))
}

func TestSubmitGradesUnderShuffle(t *testing.T) {
	for name, store := range map[string]Store{"memory": NewMemoryStore(), "sql": newSQLFixture(t).store} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, store)
			ctx := context.Background()
			res, err := h.svc.Start(ctx, "bp-1", "enr-1")
			require.NoError(t, err)
			id := res.Attempt.ID

			shown := displayedIndex(t, res.Questions, "q-choice", "b")
			_, err = h.svc.RecordResponse(ctx, id, "q-choice", json.RawMessage(`{"selected":`+itoa(shown)+`}`))
			require.NoError(t, err)
			_, err = h.svc.RecordResponse(ctx, id, "q-num", json.RawMessage(`{"value":"3,145"}`))
			require.NoError(t, err)
			_, err = h.svc.RecordResponse(ctx, id, "q-essay", json.RawMessage(`{"text":"Chlorophyll absorbs light."}`))
			require.NoError(t, err)

			out, err := h.svc.Submit(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, StatusSubmitted, out.Status)
			assert.InDelta(t, 7.0, out.AutoScore, 1e-9)
			assert.InDelta(t, 7.0, out.FinalScore, 1e-9)
			assert.Equal(t, 1, out.PendingReview)

			view, err := h.svc.Get(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, view.Attempt.ActualEnd)
			assert.Equal(t, ReasonStudent, view.Attempt.SubmitReason)
			var essay Response
			for _, r := range view.Responses {
				if r.QuestionID == "q-essay" {
					essay = r
				}
			}
			require.True(t, essay.NeedsManual)
			require.NotNil(t, essay.Signals)
			assert.Equal(t, 2, essay.Signals.KeywordHits)
			assert.Equal(t, ReviewPending, essay.ReviewState)

			// writes after submission are refused
			_, err = h.svc.RecordResponse(ctx, id, "q-num", json.RawMessage(`{"value":3.14}`))
			assert.True(t, errors.Is(err, apperr.ErrAttemptNotWritable))
		})
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	h := newHarness(t, newSQLFixture(t).store)
	ctx := context.Background()
	res, err := h.svc.Start(ctx, "bp-1", "enr-1")
	require.NoError(t, err)
	_, err = h.svc.RecordResponse(ctx, res.Attempt.ID, "q-num", json.RawMessage(`{"value":3.14}`))
	require.NoError(t, err)

	const n = 6
	results := make([]SubmitResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := h.svc.Submit(ctx, res.Attempt.ID)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
	assert.InDelta(t, 3.0, results[0].AutoScore, 1e-9)

	again, err := h.svc.Submit(ctx, res.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, results[0], again)
}

func TestDeadlineExpiryOnRead(t *testing.T) {
	h := newHarness(t, NewMemoryStore())
	ctx := context.Background()
	res, err := h.svc.Start(ctx, "bp-1", "enr-1")
	require.NoError(t, err)
	_, err = h.svc.RecordResponse(ctx, res.Attempt.ID, "q-num", json.RawMessage(`{"value":3.14}`))
	require.NoError(t, err)

	// exactly at the deadline writes are still accepted
	h.clock.Advance(60 * time.Minute)
	_, err = h.svc.RecordResponse(ctx, res.Attempt.ID, "q-num", json.RawMessage(`{"value":3.15}`))
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	_, err = h.svc.RecordResponse(ctx, res.Attempt.ID, "q-num", json.RawMessage(`{"value":0}`))
	assert.True(t, errors.Is(err, apperr.ErrAttemptNotWritable))

	view, err := h.svc.Get(ctx, res.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, view.Attempt.Status)
	assert.Equal(t, ReasonDeadline, view.Attempt.SubmitReason)
	assert.Equal(t, *view.Attempt.Deadline, *view.Attempt.ActualEnd)
	assert.InDelta(t, 3.0, view.Attempt.AutoScore, 1e-9)
}

func TestExpireOverdue(t *testing.T) {
	h := newHarness(t, NewMemoryStore())
	ctx := context.Background()
	for _, e := range []string{"enr-1", "enr-2"} {
		_, err := h.svc.Start(ctx, "bp-1", e)
		require.NoError(t, err)
	}
	n, err := h.svc.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(2 * time.Hour)
	n, err = h.svc.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = h.svc.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartExpiresStaleAttemptFirst(t *testing.T) {
	h := newHarness(t, NewMemoryStore())
	ctx := context.Background()
	first, err := h.svc.Start(ctx, "bp-1", "enr-1")
	require.NoError(t, err)

	h.clock.Advance(3 * time.Hour)
	second, err := h.svc.Start(ctx, "bp-1", "enr-1")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Attempt.AttemptNumber)

	prev, err := h.store.Get(ctx, first.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, ReasonDeadline, prev.SubmitReason)
}

func TestGradeManualMovesToReviewed(t *testing.T) {
	for name, store := range map[string]Store{"memory": NewMemoryStore(), "sql": newSQLFixture(t).store} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, store)
			ctx := context.Background()
			res, err := h.svc.Start(ctx, "bp-1", "enr-1")
			require.NoError(t, err)
			_, err = h.svc.RecordResponse(ctx, res.Attempt.ID, "q-num", json.RawMessage(`{"value":3.14}`))
			require.NoError(t, err)
			// the essay is left unanswered; it still gets a reviewable row
			out, err := h.svc.Submit(ctx, res.Attempt.ID)
			require.NoError(t, err)
			require.Equal(t, StatusSubmitted, out.Status)

			view, err := h.svc.Get(ctx, res.Attempt.ID)
			require.NoError(t, err)
			require.Len(t, view.Responses, 3)
			var essayID, numID string
			for _, r := range view.Responses {
				switch r.QuestionID {
				case "q-essay":
					essayID = r.ID
				case "q-num":
					numID = r.ID
				}
			}
			require.NotEmpty(t, essayID)

			over := 3.5
			_, err = h.svc.GradeManual(ctx, essayID, ManualGrade{Score: &over})
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

			two := 2.0
			_, err = h.svc.GradeManual(ctx, numID, ManualGrade{Score: &two})
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

			got, err := h.svc.GradeManual(ctx, essayID, ManualGrade{Score: &two, Feedback: "partial"})
			require.NoError(t, err)
			assert.Equal(t, StatusReviewed, got.Status)
			assert.InDelta(t, 3.0, got.AutoScore, 1e-9)
			assert.InDelta(t, 2.0, got.ManualScore, 1e-9)
			assert.InDelta(t, 5.0, got.FinalScore, 1e-9)
			assert.Zero(t, got.PendingReview)

			// re-grading replaces the earlier manual score
			got, err = h.svc.GradeManual(ctx, essayID, ManualGrade{Rubric: map[string]float64{"content": 2, "clarity": 1}})
			require.NoError(t, err)
			assert.InDelta(t, 2.25, got.ManualScore, 1e-9)
			assert.InDelta(t, 5.25, got.FinalScore, 1e-9)

			best, err := h.svc.ExamScoreForEnrollment(ctx, "bp-1", "enr-1")
			require.NoError(t, err)
			require.NotNil(t, best)
			assert.InDelta(t, 5.25, *best, 1e-9)
		})
	}
}

func TestGradeManualRequiresClosedAttempt(t *testing.T) {
	h := newHarness(t, NewMemoryStore())
	ctx := context.Background()
	res, err := h.svc.Start(ctx, "bp-1", "enr-1")
	require.NoError(t, err)
	r, err := h.svc.RecordResponse(ctx, res.Attempt.ID, "q-essay", json.RawMessage(`{"text":"x"}`))
	require.NoError(t, err)

	one := 1.0
	_, err = h.svc.GradeManual(ctx, r.ID, ManualGrade{Score: &one})
	assert.True(t, errors.Is(err, apperr.ErrAttemptNotWritable))
}

func TestAllAutoGradedGoesStraightToReviewed(t *testing.T) {
	h := newHarness(t, NewMemoryStore())
	versions := sampleVersions(t)[:2]
	bp := sampleBlueprint()
	bp.QuestionCount = 2
	h.exams.snap = snapshotOf(t, bp, versions)

	ctx := context.Background()
	res, err := h.svc.Start(ctx, "bp-1", "enr-1")
	require.NoError(t, err)
	out, err := h.svc.Submit(ctx, res.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReviewed, out.Status)
	assert.Zero(t, out.FinalScore)
}

func TestExamScoreIgnoresVoidedAndOpen(t *testing.T) {
	h := newHarness(t, NewMemoryStore())
	ctx := context.Background()
	none, err := h.svc.ExamScoreForEnrollment(ctx, "bp-1", "enr-1")
	require.NoError(t, err)
	assert.Nil(t, none)

	res, err := h.svc.Start(ctx, "bp-1", "enr-1")
	require.NoError(t, err)
	_, err = h.svc.Void(ctx, res.Attempt.ID, "duplicate seat")
	require.NoError(t, err)

	score, err := h.svc.ExamScoreForEnrollment(ctx, "bp-1", "enr-1")
	require.NoError(t, err)
	assert.Nil(t, score)
}

func itoa(i int) string {
	b, _ := json.Marshal(i)
	return string(b)
}
