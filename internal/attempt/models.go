package attempt

import (
	"encoding/json"
	"time"

	"github.com/mind-engage/bitacora/internal/exam"
	"github.com/mind-engage/bitacora/internal/grading"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusReviewed   Status = "reviewed"
	StatusVoided     Status = "voided"
)

// Counted reports whether an attempt in this status uses up one of the
// blueprint's max_attempts.
func (s Status) Counted() bool { return s != StatusVoided }

// Closed reports whether grading has run for the attempt.
func (s Status) Closed() bool { return s == StatusSubmitted || s == StatusReviewed }

type SubmitReason string

const (
	ReasonStudent  SubmitReason = "student"
	ReasonDeadline SubmitReason = "deadline"
)

type Attempt struct {
	ID            string       `json:"id"`
	BlueprintID   string       `json:"blueprint_id"`
	EnrollmentID  string       `json:"enrollment_id"`
	AttemptNumber int          `json:"attempt_number"`
	Status        Status       `json:"status"`
	ActualStart   *time.Time   `json:"actual_start,omitempty"`
	Deadline      *time.Time   `json:"deadline,omitempty"`
	ActualEnd     *time.Time   `json:"actual_end,omitempty"`
	AutoScore     float64      `json:"auto_score"`
	ManualScore   float64      `json:"manual_score"`
	FinalScore    float64      `json:"final_score"`
	SubmitReason  SubmitReason `json:"submit_reason,omitempty"`
	VoidReason    string       `json:"void_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Overdue reports whether an in-progress attempt has passed its deadline.
// Writes at exactly the deadline are still accepted.
func (a Attempt) Overdue(now time.Time) bool {
	return a.Status == StatusInProgress && a.Deadline != nil && now.After(*a.Deadline)
}

type ReviewState string

const (
	ReviewNotRequired ReviewState = "not_required"
	ReviewPending     ReviewState = "pending"
	ReviewDone        ReviewState = "reviewed"
)

// Response is one answer of an attempt. While the attempt is in progress only
// Payload is meaningful; the score fields are written at submission.
type Response struct {
	ID          string           `json:"id"`
	AttemptID   string           `json:"attempt_id"`
	QuestionID  string           `json:"question_version_id"`
	Payload     json.RawMessage  `json:"payload,omitempty"`
	AutoScore   float64          `json:"auto_score"`
	ManualScore *float64         `json:"manual_score,omitempty"`
	NeedsManual bool             `json:"needs_manual"`
	ReviewState ReviewState      `json:"review_state"`
	Feedback    string           `json:"feedback,omitempty"`
	Signals     *grading.Signals `json:"signals,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type StartResult struct {
	Attempt   Attempt                     `json:"attempt"`
	Questions []exam.MaterializedQuestion `json:"questions"`
}

// View is an attempt as shown to its student or a reviewer.
type View struct {
	Attempt   Attempt                     `json:"attempt"`
	Questions []exam.MaterializedQuestion `json:"questions"`
	Responses []Response                  `json:"responses"`
}

type SubmitResult struct {
	AttemptID     string  `json:"attempt_id"`
	Status        Status  `json:"status"`
	AutoScore     float64 `json:"auto_score"`
	ManualScore   float64 `json:"manual_score"`
	FinalScore    float64 `json:"final_score"`
	PendingReview int     `json:"pending_review"`
}

func resultOf(a Attempt, pending int) SubmitResult {
	return SubmitResult{
		AttemptID:     a.ID,
		Status:        a.Status,
		AutoScore:     a.AutoScore,
		ManualScore:   a.ManualScore,
		FinalScore:    a.FinalScore,
		PendingReview: pending,
	}
}

// ManualGrade is a reviewer's verdict on a free-text response. Either Score
// or Rubric must be set; Rubric awards are scaled to the question's points.
type ManualGrade struct {
	Score    *float64           `json:"manual_score"`
	Feedback string             `json:"feedback"`
	Rubric   map[string]float64 `json:"rubric,omitempty"`
}
