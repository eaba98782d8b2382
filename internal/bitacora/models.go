package bitacora

import "time"

type Component string

const (
	ComponentContinuous     Component = "continuous"
	ComponentOnlinePlatform Component = "online-platform"
	ComponentExam           Component = "exam"
)

// Components lists the three components in display order.
var Components = []Component{ComponentContinuous, ComponentOnlinePlatform, ComponentExam}

// Partials is the number of partial periods in a semester.
const Partials = 3

// WeightTolerance is how far a weight set may drift from 100.
const WeightTolerance = 0.01

// Activity is one graded item of a section partial. Scores are stored on the
// 0-10 scale; SourceScale is the maximum of the scale they are captured on.
// When BlueprintID is set and no score was captured, the best graded exam
// attempt of that blueprint is used instead.
type Activity struct {
	ID            string    `json:"id"`
	SectionID     string    `json:"section_id" validate:"required"`
	PartialNumber int       `json:"partial_number" validate:"min=1,max=3"`
	Component     Component `json:"component" validate:"oneof=continuous online-platform exam"`
	Name          string    `json:"name" validate:"required"`
	Weight        float64   `json:"weight" validate:"gte=0,lte=100"`
	SourceScale   float64   `json:"source_scale" validate:"gt=0"`
	BlueprintID   string    `json:"blueprint_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Score is one cell of the ledger; a nil Score means not captured yet.
type Score struct {
	ActivityID   string    `json:"activity_id"`
	EnrollmentID string    `json:"enrollment_id"`
	Score        *float64  `json:"score"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ScoreInput is a score on the activity's source scale.
type ScoreInput struct {
	EnrollmentID string   `json:"enrollment_id" validate:"required"`
	Score        *float64 `json:"score"`
}

// ComponentWeights are per-section percentages that must add to 100.
type ComponentWeights struct {
	SectionID      string    `json:"section_id"`
	Continuous     float64   `json:"continuous" validate:"gte=0,lte=100"`
	OnlinePlatform float64   `json:"online_platform" validate:"gte=0,lte=100"`
	Exam           float64   `json:"exam" validate:"gte=0,lte=100"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (w ComponentWeights) Of(c Component) float64 {
	switch c {
	case ComponentContinuous:
		return w.Continuous
	case ComponentOnlinePlatform:
		return w.OnlinePlatform
	case ComponentExam:
		return w.Exam
	}
	return 0
}

func (w ComponentWeights) Sum() float64 { return w.Continuous + w.OnlinePlatform + w.Exam }

// Entry is one (score, weight) pair of a weighted average.
type Entry struct {
	Score  *float64
	Weight float64
}

// PartialPolicy decides how components without data enter a partial grade.
type PartialPolicy string

const (
	// ZeroIfAnyPresent counts missing components as 0 once any component
	// has data.
	ZeroIfAnyPresent PartialPolicy = "zero_if_any_present"
	// ExcludeMissing drops missing components and renormalizes the rest.
	ExcludeMissing PartialPolicy = "exclude_missing"
)

func (p PartialPolicy) Valid() bool { return p == ZeroIfAnyPresent || p == ExcludeMissing }

type PartialResult struct {
	EnrollmentID    string                 `json:"enrollment_id"`
	SectionID       string                 `json:"section_id"`
	PartialNumber   int                    `json:"partial_number"`
	ComponentTotals map[Component]*float64 `json:"component_totals"`
	PartialGrade    *float64               `json:"partial_grade"`
	Warnings        []string               `json:"warnings,omitempty"`
}

type SemesterResult struct {
	EnrollmentID  string     `json:"enrollment_id"`
	SectionID     string     `json:"section_id"`
	Partials      []*float64 `json:"partials"`
	FinalExam     *float64   `json:"final_exam"`
	SemesterGrade *float64   `json:"semester_grade"`
	Warnings      []string   `json:"warnings,omitempty"`
}
