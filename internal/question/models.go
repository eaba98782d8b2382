package question

import (
	"encoding/json"
	"time"
)

// Kind is the explicit type tag set at authoring time. It is never inferred
// from the shape of the content.
type Kind string

const (
	KindSingleChoice Kind = "single_choice"
	KindMultiChoice  Kind = "multi_choice"
	KindTrueFalse    Kind = "true_false"
	KindFreeText     Kind = "free_text"
	KindFillBlanks   Kind = "fill_blanks"
	KindMatching     Kind = "matching"
	KindOrdering     Kind = "ordering"
	KindNumeric      Kind = "numeric"
)

// Kinds lists every supported kind.
var Kinds = []Kind{
	KindSingleChoice, KindMultiChoice, KindTrueFalse, KindFreeText,
	KindFillBlanks, KindMatching, KindOrdering, KindNumeric,
}

func (k Kind) Valid() bool {
	for _, x := range Kinds {
		if x == k {
			return true
		}
	}
	return false
}

type Scope string

const (
	ScopePartial Scope = "partial"
	ScopeFinal   Scope = "final"
)

type Status string

const (
	StatusDraft    Status = "draft"
	StatusInReview Status = "in_review"
	StatusApproved Status = "approved"
	StatusRetired  Status = "retired"
)

// Version is one immutable revision of a question. Edits create a new row
// pointing at ParentID.
type Version struct {
	ID              string          `json:"id"`
	SubjectID       string          `json:"subject_id" validate:"required"`
	Kind            Kind            `json:"type" validate:"required"`
	Statement       string          `json:"statement" validate:"required"`
	Difficulty      int             `json:"difficulty" validate:"min=1,max=10"`
	Scope           Scope           `json:"scope" validate:"oneof=partial final"`
	PartialNumber   *int            `json:"partial_number,omitempty" validate:"omitempty,min=1,max=3"`
	Content         json.RawMessage `json:"content"`
	CanonicalAnswer json.RawMessage `json:"canonical_answer,omitempty"`
	Status          Status          `json:"status"`
	Revision        int             `json:"revision"`
	ParentID        string          `json:"parent_id,omitempty"`
	AuthorID        string          `json:"author_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Definition decodes the version's content and canonical answer.
func (v Version) Definition() (Definition, error) {
	return Decode(v.Kind, v.Content, v.CanonicalAnswer)
}

// Definition is the typed view of a question: one implementation per Kind.
type Definition interface {
	Kind() Kind
	// Slots is the number of display positions that option shuffling
	// permutes; 0 when the kind has nothing to shuffle.
	Slots() int
	validate() error
}

// ---- choice ----

type ChoiceContent struct {
	Options  []string `json:"options"`
	Multiple bool     `json:"multiple"`
}

type ChoiceAnswer struct {
	Correct []int `json:"correct"`
}

type Choice struct {
	ChoiceContent
	ChoiceAnswer
	kind Kind
}

func (c *Choice) Kind() Kind { return c.kind }
func (c *Choice) Slots() int { return len(c.Options) }

// ---- true/false ----

type TrueFalseAnswer struct {
	Value *bool `json:"value"`
}

type TrueFalse struct {
	TrueFalseAnswer
}

func (*TrueFalse) Kind() Kind { return KindTrueFalse }
func (*TrueFalse) Slots() int { return 0 }

// ---- numeric ----

type NumericContent struct {
	Unit string `json:"unit,omitempty"` // descriptive only
}

type NumericAnswer struct {
	Value     *float64 `json:"value"`
	Tolerance float64  `json:"tolerance"`
}

type Numeric struct {
	NumericContent
	NumericAnswer
}

func (*Numeric) Kind() Kind { return KindNumeric }
func (*Numeric) Slots() int { return 0 }

// ---- fill in the blanks ----

type BlankKind string

const (
	BlankText   BlankKind = "text"
	BlankNumber BlankKind = "number"
)

type Blank struct {
	ID          string    `json:"id"`
	Placeholder string    `json:"placeholder"`
	Kind        BlankKind `json:"kind,omitempty"` // defaults to text
}

type FillBlanksContent struct {
	Text   string  `json:"text,omitempty"`
	Blanks []Blank `json:"blanks"`
}

type FillBlanksAnswer struct {
	Values map[string]string `json:"values"`
}

type FillBlanks struct {
	FillBlanksContent
	FillBlanksAnswer
}

func (*FillBlanks) Kind() Kind { return KindFillBlanks }
func (*FillBlanks) Slots() int { return 0 }

// ---- matching ----

type Entry struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type MatchingContent struct {
	Left     []Entry `json:"left"`
	Right    []Entry `json:"right"`
	OneToOne bool    `json:"one_to_one"`
}

type MatchingAnswer struct {
	Pairs map[string]string `json:"pairs"` // left id -> right id
}

type Matching struct {
	MatchingContent
	MatchingAnswer
}

func (*Matching) Kind() Kind { return KindMatching }

// Slots shuffles the right column; pairs are graded by id so the display
// order never affects correctness.
func (m *Matching) Slots() int { return len(m.Right) }

// ---- ordering ----

type OrderingContent struct {
	Items []string `json:"items"`
}

// OrderingAnswer.Order[k] is the index (into Items) of the item that belongs
// at position k.
type OrderingAnswer struct {
	Order []int `json:"order"`
}

type Ordering struct {
	OrderingContent
	OrderingAnswer
}

func (*Ordering) Kind() Kind   { return KindOrdering }
func (o *Ordering) Slots() int { return len(o.Items) }

// ---- free text ----

type Criterion struct {
	Key       string  `json:"key"`
	Desc      string  `json:"desc"`
	MaxPoints float64 `json:"max_points"`
}

// FreeTextAnswer holds grading aids only; there is no canonical correctness.
type FreeTextAnswer struct {
	Rubric   []Criterion `json:"rubric,omitempty"`
	Keywords []string    `json:"keywords,omitempty"`
	MinHits  int         `json:"min_hits,omitempty"`
}

type FreeTextContent struct {
	MaxWords int `json:"max_words,omitempty"`
}

type FreeText struct {
	FreeTextContent
	FreeTextAnswer
}

func (*FreeText) Kind() Kind { return KindFreeText }
func (*FreeText) Slots() int { return 0 }
