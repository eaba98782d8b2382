package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mind-engage/bitacora/internal/apperr"
	"github.com/mind-engage/bitacora/internal/exam"
	"github.com/mind-engage/bitacora/internal/grading"
	"github.com/mind-engage/bitacora/internal/metrics"
	"github.com/mind-engage/bitacora/internal/question"
	"github.com/mind-engage/bitacora/internal/syncx"
)

// Exams supplies immutable blueprint snapshots; *exam.Service satisfies it.
type Exams interface {
	Snapshot(ctx context.Context, blueprintID string) (exam.Snapshot, error)
}

const sweepBatch = 100

type Service struct {
	store   Store
	exams   Exams
	grader  grading.Grader
	log     *zap.Logger
	metrics *metrics.Metrics
	events  syncx.Recorder
	now     func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithRand(r *rand.Rand) Option          { return func(s *Service) { s.rng = r } }
func WithGrader(g grading.Grader) Option    { return func(s *Service) { s.grader = g } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }
func WithEvents(r syncx.Recorder) Option    { return func(s *Service) { s.events = r } }
func WithLogger(l *zap.Logger) Option       { return func(s *Service) { s.log = l.Named("attempt") } }

func NewService(store Store, exams Exams, opts ...Option) *Service {
	s := &Service{
		store:  store,
		exams:  exams,
		grader: grading.NewDefaultGrader(),
		log:    zap.NewNop(),
		events: syncx.Nop{},
		now:    time.Now,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start opens a new attempt of blueprintID for enrollmentID and returns it
// with its materialized questions.
func (s *Service) Start(ctx context.Context, blueprintID, enrollmentID string) (StartResult, error) {
	if strings.TrimSpace(enrollmentID) == "" {
		return StartResult{}, apperr.Validation("enrollment_id is required")
	}
	snap, err := s.exams.Snapshot(ctx, blueprintID)
	if err != nil {
		return StartResult{}, err
	}
	bp := snap.Blueprint
	now := s.now()
	switch bp.Status {
	case exam.StatusScheduled, exam.StatusActive:
		if now.Before(bp.StartTime) {
			return StartResult{}, apperr.New(apperr.ErrExamNotAvailable, "exam %s opens at %s",
				bp.ID, bp.StartTime.Format(time.RFC3339))
		}
	default:
		return StartResult{}, apperr.New(apperr.ErrExamNotAvailable, "exam %s is %s", bp.ID, bp.Status)
	}
	if len(snap.Links) == 0 {
		return StartResult{}, apperr.New(apperr.ErrExamNotAvailable, "exam %s has no questions", bp.ID)
	}

	existing, err := s.store.List(ctx, bp.ID, enrollmentID)
	if err != nil {
		return StartResult{}, err
	}
	counted := 0
	for _, a := range existing {
		if a.Overdue(now) {
			if a, _, err = s.finalize(ctx, a, ReasonDeadline); err != nil {
				return StartResult{}, err
			}
		}
		if a.Status == StatusInProgress {
			return StartResult{}, apperr.New(apperr.ErrAttemptInProgress,
				"attempt %s is already in progress", a.ID)
		}
		if a.Status.Counted() {
			counted++
		}
	}
	if counted >= bp.MaxAttempts {
		return StartResult{}, apperr.New(apperr.ErrAttemptLimitReached,
			"%d of %d attempts used", counted, bp.MaxAttempts)
	}

	var order []exam.OrderEntry
	s.withRNG(func(r *rand.Rand) { order = exam.Materialize(snap.Links, snap.Defs, bp, r) })
	deadline := bp.Deadline(now)
	a := Attempt{
		ID:            uuid.NewString(),
		BlueprintID:   bp.ID,
		EnrollmentID:  enrollmentID,
		AttemptNumber: counted + 1,
		Status:        StatusInProgress,
		ActualStart:   &now,
		Deadline:      &deadline,
		CreatedAt:     now,
	}
	if err := s.store.Create(ctx, a, order); err != nil {
		if errors.Is(err, apperr.ErrAttemptInProgress) {
			s.log.Info("concurrent start rejected", zap.String("blueprint_id", bp.ID),
				zap.String("enrollment_id", enrollmentID))
		}
		return StartResult{}, err
	}
	s.metrics.AttemptTransition(string(StatusInProgress))
	s.record(ctx, syncx.TypeAttemptStarted, a.ID, map[string]any{
		"blueprint_id": bp.ID, "enrollment_id": enrollmentID, "attempt_number": a.AttemptNumber,
	})
	s.log.Info("attempt started", zap.String("attempt_id", a.ID), zap.String("blueprint_id", bp.ID),
		zap.String("enrollment_id", enrollmentID), zap.Int("attempt_number", a.AttemptNumber),
		zap.Time("deadline", deadline))
	return StartResult{Attempt: a, Questions: present(snap, order)}, nil
}

// Attempt returns the stored attempt without applying deadline expiry.
func (s *Service) Attempt(ctx context.Context, attemptID string) (Attempt, error) {
	return s.store.Get(ctx, attemptID)
}

// Get returns the attempt with its questions and responses, force-submitting
// it first when its deadline has passed.
func (s *Service) Get(ctx context.Context, attemptID string) (View, error) {
	a, err := s.current(ctx, attemptID)
	if err != nil {
		return View{}, err
	}
	snap, err := s.exams.Snapshot(ctx, a.BlueprintID)
	if err != nil {
		return View{}, err
	}
	order, err := s.store.Order(ctx, a.ID)
	if err != nil {
		return View{}, err
	}
	responses, err := s.store.ListResponses(ctx, a.ID)
	if err != nil {
		return View{}, err
	}
	return View{Attempt: a, Questions: present(snap, order), Responses: responses}, nil
}

// RecordResponse stores the answer for one question of an open attempt,
// replacing any earlier answer.
func (s *Service) RecordResponse(ctx context.Context, attemptID, questionID string, payload json.RawMessage) (Response, error) {
	a, err := s.current(ctx, attemptID)
	if err != nil {
		return Response{}, err
	}
	if a.Status != StatusInProgress {
		return Response{}, apperr.New(apperr.ErrAttemptNotWritable, "attempt %s is %s", a.ID, a.Status)
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return Response{}, apperr.Validation("payload is not valid JSON")
	}
	order, err := s.store.Order(ctx, a.ID)
	if err != nil {
		return Response{}, err
	}
	if _, ok := findEntry(order, questionID); !ok {
		return Response{}, apperr.Validation("question %s is not part of attempt %s", questionID, a.ID)
	}
	now := s.now()
	r, err := s.store.UpsertResponse(ctx, Response{
		AttemptID:  a.ID,
		QuestionID: questionID,
		Payload:    payload,
		UpdatedAt:  now,
	}, now)
	if err != nil {
		return Response{}, err
	}
	s.log.Debug("response recorded", zap.String("attempt_id", a.ID), zap.String("question_id", questionID))
	return r, nil
}

// Submit grades and closes an attempt. Submitting an attempt that is already
// closed returns its stored result.
func (s *Service) Submit(ctx context.Context, attemptID string) (SubmitResult, error) {
	a, err := s.store.Get(ctx, attemptID)
	if err != nil {
		return SubmitResult{}, err
	}
	reason := ReasonStudent
	if a.Overdue(s.now()) {
		reason = ReasonDeadline
	}
	switch a.Status {
	case StatusInProgress:
		a, pending, err := s.finalize(ctx, a, reason)
		if err != nil {
			return SubmitResult{}, err
		}
		return resultOf(a, pending), nil
	case StatusSubmitted, StatusReviewed:
		return s.storedResult(ctx, a)
	default:
		return SubmitResult{}, apperr.New(apperr.ErrAttemptNotWritable, "attempt %s is %s", a.ID, a.Status)
	}
}

// GradeManual applies a reviewer score to a free-text response of a closed
// attempt.
func (s *Service) GradeManual(ctx context.Context, responseID string, in ManualGrade) (SubmitResult, error) {
	resp, err := s.store.GetResponse(ctx, responseID)
	if err != nil {
		return SubmitResult{}, err
	}
	a, err := s.store.Get(ctx, resp.AttemptID)
	if err != nil {
		return SubmitResult{}, err
	}
	if !a.Status.Closed() {
		return SubmitResult{}, apperr.New(apperr.ErrAttemptNotWritable,
			"attempt %s is %s; only submitted attempts are reviewed", a.ID, a.Status)
	}
	if !resp.NeedsManual {
		return SubmitResult{}, apperr.Validation("only free-text responses are graded manually")
	}
	order, err := s.store.Order(ctx, a.ID)
	if err != nil {
		return SubmitResult{}, err
	}
	entry, ok := findEntry(order, resp.QuestionID)
	if !ok {
		return SubmitResult{}, apperr.Validation("question %s is not part of attempt %s", resp.QuestionID, a.ID)
	}

	feedback := in.Feedback
	var score float64
	switch {
	case len(in.Rubric) > 0:
		snap, err := s.exams.Snapshot(ctx, a.BlueprintID)
		if err != nil {
			return SubmitResult{}, err
		}
		ft, ok := snap.Defs[resp.QuestionID].(*question.FreeText)
		if !ok || len(ft.Rubric) == 0 {
			return SubmitResult{}, apperr.Validation("question %s has no rubric", resp.QuestionID)
		}
		var notes []string
		score, notes = rubricScore(ft.Rubric, entry.Points, in.Rubric)
		if feedback == "" {
			feedback = strings.Join(notes, "; ")
		}
	case in.Score != nil:
		score = *in.Score
	default:
		return SubmitResult{}, apperr.Validation("manual_score or rubric is required")
	}
	if score < 0 || score > entry.Points+exam.PointsEpsilon {
		return SubmitResult{}, apperr.Validation("manual score %.2f outside [0, %.2f]", score, entry.Points)
	}
	score = grading.Round2(min(score, entry.Points))

	updated, pending, err := s.store.ApplyManualGrade(ctx, responseID, score, feedback, s.now())
	if err != nil {
		return SubmitResult{}, err
	}
	if updated.Status == StatusReviewed && a.Status != StatusReviewed {
		s.metrics.AttemptTransition(string(StatusReviewed))
	}
	s.record(ctx, syncx.TypeResponseGraded, updated.ID, map[string]any{
		"response_id": responseID, "manual_score": score, "final_score": updated.FinalScore,
	})
	s.log.Info("response graded", zap.String("attempt_id", updated.ID), zap.String("response_id", responseID),
		zap.Float64("manual_score", score), zap.Float64("final_score", updated.FinalScore),
		zap.Int("pending_review", pending))
	return resultOf(updated, pending), nil
}

// Void cancels a pending or in-progress attempt; voided attempts do not count
// towards max_attempts.
func (s *Service) Void(ctx context.Context, attemptID, reason string) (Attempt, error) {
	if strings.TrimSpace(reason) == "" {
		return Attempt{}, apperr.Validation("void reason is required")
	}
	ok, err := s.store.Void(ctx, attemptID, reason)
	if err != nil {
		return Attempt{}, err
	}
	a, err := s.store.Get(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if !ok {
		return Attempt{}, apperr.New(apperr.ErrAttemptNotWritable, "attempt %s is %s", a.ID, a.Status)
	}
	s.metrics.AttemptTransition(string(StatusVoided))
	s.record(ctx, syncx.TypeAttemptVoided, a.ID, map[string]any{"reason": reason})
	s.log.Info("attempt voided", zap.String("attempt_id", a.ID), zap.String("reason", reason))
	return a, nil
}

// ExpireOverdue force-submits every in-progress attempt past its deadline and
// returns how many it closed.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	total := 0
	for {
		overdue, err := s.store.ListOverdue(ctx, s.now(), sweepBatch)
		if err != nil {
			return total, err
		}
		closed := 0
		for _, a := range overdue {
			if _, won, err := s.finalizeWon(ctx, a, ReasonDeadline); err != nil {
				s.log.Warn("expire attempt failed", zap.String("attempt_id", a.ID), zap.Error(err))
			} else if won {
				closed++
			}
		}
		total += closed
		if len(overdue) < sweepBatch || closed == 0 {
			break
		}
	}
	s.metrics.AttemptsExpired(total)
	if total > 0 {
		s.log.Info("overdue attempts expired", zap.Int("count", total))
	}
	return total, nil
}

// ExamScoreForEnrollment returns the best final score among the enrollment's
// graded attempts of a blueprint, or nil when there is none.
func (s *Service) ExamScoreForEnrollment(ctx context.Context, blueprintID, enrollmentID string) (*float64, error) {
	attempts, err := s.store.List(ctx, blueprintID, enrollmentID)
	if err != nil {
		return nil, err
	}
	var best *float64
	for _, a := range attempts {
		if !a.Status.Closed() {
			continue
		}
		if best == nil || a.FinalScore > *best {
			v := a.FinalScore
			best = &v
		}
	}
	return best, nil
}

// current loads the attempt and applies the deadline check.
func (s *Service) current(ctx context.Context, attemptID string) (Attempt, error) {
	a, err := s.store.Get(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.Overdue(s.now()) {
		a, _, err = s.finalize(ctx, a, ReasonDeadline)
		if err != nil {
			return Attempt{}, err
		}
	}
	return a, nil
}

func (s *Service) finalize(ctx context.Context, a Attempt, reason SubmitReason) (Attempt, int, error) {
	a, _, err := s.finalizeWon(ctx, a, reason)
	if err != nil {
		return Attempt{}, 0, err
	}
	res, err := s.storedResult(ctx, a)
	return a, res.PendingReview, err
}

// finalizeWon grades and closes a; the bool reports whether this call did the
// closing rather than finding it already closed.
func (s *Service) finalizeWon(ctx context.Context, a Attempt, reason SubmitReason) (Attempt, bool, error) {
	snap, err := s.exams.Snapshot(ctx, a.BlueprintID)
	if err != nil {
		return Attempt{}, false, err
	}
	order, err := s.store.Order(ctx, a.ID)
	if err != nil {
		return Attempt{}, false, err
	}
	now := s.now()
	end := now
	if a.Deadline != nil && end.After(*a.Deadline) {
		end = *a.Deadline
	}
	started := time.Now()
	closed, won, err := s.store.Finalize(ctx, a.ID, end, reason, func(stored map[string]Response) Grading {
		return s.gradeAll(ctx, snap, order, stored, now)
	})
	if err != nil {
		return Attempt{}, false, err
	}
	if !won {
		return closed, false, nil
	}
	s.metrics.ObserveGrading(time.Since(started))
	s.metrics.AttemptTransition(string(closed.Status))
	s.record(ctx, syncx.TypeAttemptSubmitted, closed.ID, map[string]any{
		"reason": reason, "auto_score": closed.AutoScore, "status": closed.Status,
	})
	s.log.Info("attempt submitted", zap.String("attempt_id", closed.ID), zap.String("reason", string(reason)),
		zap.Float64("auto_score", closed.AutoScore), zap.String("status", string(closed.Status)))
	return closed, true, nil
}

// gradeAll grades every question of the order; questions without a stored
// response score 0 and still get a row so they can be reviewed.
func (s *Service) gradeAll(ctx context.Context, snap exam.Snapshot, order []exam.OrderEntry, stored map[string]Response, now time.Time) Grading {
	g := Grading{Responses: make([]Response, 0, len(order)), Status: StatusReviewed}
	var auto float64
	for _, e := range order {
		r, ok := stored[e.QuestionID]
		if !ok {
			r = Response{QuestionID: e.QuestionID}
		}
		def := snap.Defs[e.QuestionID]
		res := s.grader.Grade(ctx, grading.Item{Points: e.Points, Def: def, Permutation: e.OptionPerm}, r.Payload)

		r.AutoScore = res.AutoPoints
		r.ManualScore = nil
		r.NeedsManual = res.NeedsManual
		r.Signals = res.Signals
		r.Feedback = strings.Join(res.Feedback, "; ")
		r.UpdatedAt = now
		r.ReviewState = ReviewNotRequired
		if res.NeedsManual {
			r.ReviewState = ReviewPending
			g.Status = StatusSubmitted
		}
		auto += res.AutoPoints
		g.Responses = append(g.Responses, r)
		s.metrics.QuestionGraded(kindLabel(def), outcome(res))
	}
	g.AutoScore = grading.Round2(auto)
	return g
}

func (s *Service) storedResult(ctx context.Context, a Attempt) (SubmitResult, error) {
	responses, err := s.store.ListResponses(ctx, a.ID)
	if err != nil {
		return SubmitResult{}, err
	}
	pending := 0
	for _, r := range responses {
		if r.NeedsManual && r.ReviewState == ReviewPending {
			pending++
		}
	}
	return resultOf(a, pending), nil
}

func (s *Service) withRNG(fn func(r *rand.Rand)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.rng)
}

func (s *Service) record(ctx context.Context, typ, key string, data any) {
	if err := s.events.Append(ctx, typ, key, data); err != nil {
		s.log.Warn("event append failed", zap.String("type", typ), zap.String("key", key), zap.Error(err))
	}
}

func present(snap exam.Snapshot, order []exam.OrderEntry) []exam.MaterializedQuestion {
	out := make([]exam.MaterializedQuestion, 0, len(order))
	for _, e := range order {
		v, ok := snap.Versions[e.QuestionID]
		if !ok {
			continue
		}
		out = append(out, exam.Present(v, snap.Defs[e.QuestionID], e))
	}
	return out
}

func findEntry(order []exam.OrderEntry, questionID string) (exam.OrderEntry, bool) {
	for _, e := range order {
		if e.QuestionID == questionID {
			return e, true
		}
	}
	return exam.OrderEntry{}, false
}

// rubricScore scales rubric awards to the question's points.
func rubricScore(criteria []question.Criterion, points float64, awarded map[string]float64) (float64, []string) {
	var full float64
	for _, c := range criteria {
		full += c.MaxPoints
	}
	raw, notes := grading.ScoreRubric(criteria, 0, awarded)
	if full <= 0 {
		return 0, notes
	}
	return grading.Round2(raw / full * points), notes
}

func kindLabel(def question.Definition) string {
	if def == nil {
		return "unknown"
	}
	return string(def.Kind())
}

func outcome(r grading.Result) string {
	switch {
	case !r.Answered:
		return "unanswered"
	case r.Malformed:
		return "malformed"
	case r.NeedsManual:
		return "manual"
	case r.AutoPoints >= r.MaxPoints:
		return "correct"
	case r.AutoPoints > 0:
		return "partial"
	default:
		return "incorrect"
	}
}
