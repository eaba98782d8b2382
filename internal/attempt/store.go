package attempt

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/bitacora/internal/apperr"
	"github.com/mind-engage/bitacora/internal/exam"
	"github.com/mind-engage/bitacora/internal/grading"
)

// Grading is what a GradeFunc produces for one attempt.
type Grading struct {
	Responses []Response // one per question of the attempt order
	AutoScore float64
	Status    Status // submitted, or reviewed when nothing needs manual review
}

// GradeFunc grades the responses stored at the moment of finalization, keyed
// by question version id. It runs inside the store's critical section and
// must not call back into the store.
type GradeFunc func(stored map[string]Response) Grading

type Store interface {
	// Create inserts an in-progress attempt with its materialized order. It
	// fails with ErrAttemptInProgress when the enrollment already holds an
	// in-progress attempt of the blueprint or the attempt number is taken.
	Create(ctx context.Context, a Attempt, order []exam.OrderEntry) error
	Get(ctx context.Context, id string) (Attempt, error)
	Order(ctx context.Context, attemptID string) ([]exam.OrderEntry, error)
	// List returns the enrollment's attempts of a blueprint by attempt number.
	List(ctx context.Context, blueprintID, enrollmentID string) ([]Attempt, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]Attempt, error)

	// UpsertResponse replaces the answer payload; it fails with
	// ErrAttemptNotWritable unless the attempt is still in progress and now
	// is not past its deadline.
	UpsertResponse(ctx context.Context, r Response, now time.Time) (Response, error)
	ListResponses(ctx context.Context, attemptID string) ([]Response, error)
	GetResponse(ctx context.Context, id string) (Response, error)

	// Finalize atomically moves an in-progress attempt to the status chosen
	// by grade, storing every graded response and the totals. When the
	// attempt was no longer in progress it returns the stored attempt and
	// false without calling grade.
	Finalize(ctx context.Context, attemptID string, end time.Time, reason SubmitReason, grade GradeFunc) (Attempt, bool, error)

	// ApplyManualGrade records a reviewer score on a response that needs
	// manual review and recomputes the attempt totals. It returns the
	// updated attempt and the number of responses still pending review.
	ApplyManualGrade(ctx context.Context, responseID string, score float64, feedback string, at time.Time) (Attempt, int, error)

	// Void moves a pending or in-progress attempt to voided, reporting false
	// when the attempt was in any other status.
	Void(ctx context.Context, id, reason string) (bool, error)
}

// MemoryStore keeps attempts in process memory. A single mutex serializes
// every operation, which gives the same check-then-insert guarantees as the
// SQL store's unique indexes.
type MemoryStore struct {
	mu        sync.Mutex
	attempts  map[string]Attempt
	orders    map[string][]exam.OrderEntry
	responses map[string]map[string]Response // attempt id -> question id -> response
	byRespID  map[string]string              // response id -> attempt id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attempts:  map[string]Attempt{},
		orders:    map[string][]exam.OrderEntry{},
		responses: map[string]map[string]Response{},
		byRespID:  map[string]string{},
	}
}

func (m *MemoryStore) Create(_ context.Context, a Attempt, order []exam.OrderEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.attempts {
		if o.BlueprintID != a.BlueprintID || o.EnrollmentID != a.EnrollmentID {
			continue
		}
		if o.Status == StatusInProgress {
			return apperr.New(apperr.ErrAttemptInProgress, "attempt %s is already in progress", o.ID)
		}
		if o.Status.Counted() && o.AttemptNumber == a.AttemptNumber {
			return apperr.New(apperr.ErrAttemptInProgress, "attempt number %d already taken", a.AttemptNumber)
		}
	}
	if _, ok := m.attempts[a.ID]; ok {
		return apperr.Validation("attempt %s already exists", a.ID)
	}
	m.attempts[a.ID] = a
	m.orders[a.ID] = append([]exam.OrderEntry(nil), order...)
	m.responses[a.ID] = map[string]Response{}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, apperr.NotFound("attempt", id)
	}
	return a, nil
}

func (m *MemoryStore) Order(_ context.Context, attemptID string) ([]exam.OrderEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[attemptID]
	if !ok {
		return nil, apperr.NotFound("attempt", attemptID)
	}
	return append([]exam.OrderEntry(nil), o...), nil
}

func (m *MemoryStore) List(_ context.Context, blueprintID, enrollmentID string) ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Attempt
	for _, a := range m.attempts {
		if a.BlueprintID == blueprintID && a.EnrollmentID == enrollmentID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AttemptNumber != out[j].AttemptNumber {
			return out[i].AttemptNumber < out[j].AttemptNumber
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) ListOverdue(_ context.Context, now time.Time, limit int) ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Attempt
	for _, a := range m.attempts {
		if a.Overdue(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(*out[j].Deadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpsertResponse(_ context.Context, r Response, now time.Time) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[r.AttemptID]
	if !ok {
		return Response{}, apperr.NotFound("attempt", r.AttemptID)
	}
	if a.Status != StatusInProgress {
		return Response{}, apperr.New(apperr.ErrAttemptNotWritable, "attempt %s is %s", a.ID, a.Status)
	}
	if a.Overdue(now) {
		return Response{}, apperr.New(apperr.ErrAttemptNotWritable, "attempt %s is past its deadline", a.ID)
	}
	if prev, ok := m.responses[a.ID][r.QuestionID]; ok {
		r.ID = prev.ID
	} else if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.AutoScore, r.ManualScore, r.NeedsManual, r.Signals = 0, nil, false, nil
	r.ReviewState, r.Feedback = ReviewNotRequired, ""
	m.responses[a.ID][r.QuestionID] = r
	m.byRespID[r.ID] = a.ID
	return r, nil
}

func (m *MemoryStore) ListResponses(_ context.Context, attemptID string) ([]Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.responsesInOrder(attemptID), nil
}

func (m *MemoryStore) responsesInOrder(attemptID string) []Response {
	stored := m.responses[attemptID]
	out := make([]Response, 0, len(stored))
	seen := make(map[string]bool, len(stored))
	for _, e := range m.orders[attemptID] {
		if r, ok := stored[e.QuestionID]; ok {
			out = append(out, r)
			seen[e.QuestionID] = true
		}
	}
	for qid, r := range stored {
		if !seen[qid] {
			out = append(out, r)
		}
	}
	return out
}

func (m *MemoryStore) GetResponse(_ context.Context, id string) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	aid, ok := m.byRespID[id]
	if !ok {
		return Response{}, apperr.NotFound("response", id)
	}
	for _, r := range m.responses[aid] {
		if r.ID == id {
			return r, nil
		}
	}
	return Response{}, apperr.NotFound("response", id)
}

func (m *MemoryStore) Finalize(_ context.Context, attemptID string, end time.Time, reason SubmitReason, grade GradeFunc) (Attempt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return Attempt{}, false, apperr.NotFound("attempt", attemptID)
	}
	if a.Status != StatusInProgress {
		return a, false, nil
	}
	snapshot := make(map[string]Response, len(m.responses[a.ID]))
	for k, v := range m.responses[a.ID] {
		snapshot[k] = v
	}
	g := grade(snapshot)
	for _, r := range g.Responses {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		m.responses[a.ID][r.QuestionID] = r
		m.byRespID[r.ID] = a.ID
	}
	a.Status = g.Status
	a.ActualEnd = &end
	a.SubmitReason = reason
	a.AutoScore = g.AutoScore
	a.ManualScore = 0
	a.FinalScore = g.AutoScore
	m.attempts[a.ID] = a
	return a, true, nil
}

func (m *MemoryStore) ApplyManualGrade(_ context.Context, responseID string, score float64, feedback string, at time.Time) (Attempt, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	aid, ok := m.byRespID[responseID]
	if !ok {
		return Attempt{}, 0, apperr.NotFound("response", responseID)
	}
	a := m.attempts[aid]
	if !a.Status.Closed() {
		return Attempt{}, 0, apperr.New(apperr.ErrAttemptNotWritable, "attempt %s is %s", a.ID, a.Status)
	}
	var (
		manual  float64
		pending int
	)
	for qid, r := range m.responses[aid] {
		if r.ID == responseID {
			if !r.NeedsManual {
				return Attempt{}, 0, apperr.Validation("response %s does not need manual review", responseID)
			}
			s := score
			r.ManualScore, r.Feedback, r.ReviewState, r.UpdatedAt = &s, feedback, ReviewDone, at
			m.responses[aid][qid] = r
		}
	}
	for _, r := range m.responses[aid] {
		if !r.NeedsManual {
			continue
		}
		if r.ManualScore != nil {
			manual += *r.ManualScore
		}
		if r.ReviewState == ReviewPending {
			pending++
		}
	}
	a.ManualScore = grading.Round2(manual)
	a.FinalScore = grading.Round2(a.AutoScore + manual)
	if pending == 0 {
		a.Status = StatusReviewed
	} else {
		a.Status = StatusSubmitted
	}
	m.attempts[aid] = a
	return a, pending, nil
}

func (m *MemoryStore) Void(_ context.Context, id, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return false, apperr.NotFound("attempt", id)
	}
	if a.Status != StatusPending && a.Status != StatusInProgress {
		return false, nil
	}
	a.Status, a.VoidReason = StatusVoided, reason
	m.attempts[id] = a
	return true, nil
}
