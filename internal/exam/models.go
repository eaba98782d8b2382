package exam

import (
	"time"

	"github.com/mind-engage/bitacora/internal/question"
)

type Kind string

const (
	KindPartial Kind = "partial"
	KindFinal   Kind = "final"
)

type AssemblyMode string

const (
	AssemblyManual AssemblyMode = "manual"
	AssemblyRandom AssemblyMode = "random"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusClosed    Status = "closed"
	StatusArchived  Status = "archived"
)

// DefaultTotalPoints is the fixed sum every blueprint's link points must reach.
const DefaultTotalPoints = 10.00

// PointsEpsilon is the tolerance used when checking point sums.
const PointsEpsilon = 0.005

type DifficultyRange struct {
	Min int `json:"min" validate:"min=1,max=10"`
	Max int `json:"max" validate:"min=1,max=10,gtefield=Min"`
}

func (r DifficultyRange) Contains(d int) bool { return d >= r.Min && d <= r.Max }

// Blueprint is one exam definition.
type Blueprint struct {
	ID                string          `json:"id"`
	SubjectID         string          `json:"subject_id" validate:"required"`
	SectionID         string          `json:"section_id" validate:"required"`
	Kind              Kind            `json:"exam_kind" validate:"oneof=partial final"`
	PartialNumber     *int            `json:"partial_number,omitempty" validate:"omitempty,min=1,max=3"`
	StartTime         time.Time       `json:"start_time" validate:"required"`
	DurationMinutes   int             `json:"duration_minutes" validate:"min=1"`
	MaxAttempts       int             `json:"max_attempts" validate:"min=1"`
	AssemblyMode      AssemblyMode    `json:"assembly_mode" validate:"oneof=manual random"`
	QuestionCount     int             `json:"question_count" validate:"min=1"`
	Difficulty        DifficultyRange `json:"difficulty_range"`
	ShuffleQuestions  bool            `json:"shuffle_questions"`
	ShuffleOptions    bool            `json:"shuffle_options"`
	ManualQuestionIDs []string        `json:"manual_question_ids,omitempty"`
	TotalPoints       float64         `json:"total_points" validate:"gt=0"`
	Status            Status          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Deadline is the latest instant an attempt started at start may stay open.
func (b Blueprint) Deadline(start time.Time) time.Time {
	return start.Add(time.Duration(b.DurationMinutes) * time.Minute)
}

// Link fixes one question's membership and point value in a blueprint.
type Link struct {
	BlueprintID string  `json:"blueprint_id"`
	QuestionID  string  `json:"question_version_id"`
	Points      float64 `json:"points"`
	BaseOrder   int     `json:"base_order"`
}

// OrderEntry is one position of an attempt's materialized order. Only index
// permutations are kept; content stays in the immutable question version.
// OptionPerm[i] is the canonical option index shown at display position i.
type OrderEntry struct {
	Position   int     `json:"position"`
	QuestionID string  `json:"question_version_id"`
	Points     float64 `json:"points"`
	OptionPerm []int   `json:"option_perm,omitempty"`
}

// AssemblyResult is returned by AssembleExam.
type AssemblyResult struct {
	AssignedCount int     `json:"assigned_question_count"`
	TotalPoints   float64 `json:"total_points"`
}

// MaterializedQuestion is what a student sees: content reordered by the
// attempt's permutation, never the canonical answer.
type MaterializedQuestion struct {
	Position   int           `json:"position"`
	QuestionID string        `json:"question_version_id"`
	Kind       question.Kind `json:"type"`
	Statement  string        `json:"statement"`
	Points     float64       `json:"points"`
	Content    any           `json:"content"`
}
