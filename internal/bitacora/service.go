package bitacora

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mind-engage/bitacora/internal/apperr"
	"github.com/mind-engage/bitacora/internal/syncx"
)

var structValidator = validator.New()

// ExamScores resolves the exam score of an enrollment for a blueprint on the
// blueprint's point scale; *attempt.Service satisfies it.
type ExamScores interface {
	ExamScoreForEnrollment(ctx context.Context, blueprintID, enrollmentID string) (*float64, error)
}

// BlueprintTotals reports the point total of a blueprint; *exam.Service
// satisfies it.
type BlueprintTotals interface {
	BlueprintTotal(ctx context.Context, blueprintID string) (float64, error)
}

type Service struct {
	store  Store
	exams  ExamScores
	totals BlueprintTotals
	log    *zap.Logger
	events syncx.Recorder
	now    func() time.Time
	policy PartialPolicy
	strict bool
}

type Option func(*Service)

func WithPolicy(p PartialPolicy) Option       { return func(s *Service) { s.policy = p } }
func WithStrict(b bool) Option                { return func(s *Service) { s.strict = b } }
func WithExamScores(e ExamScores) Option      { return func(s *Service) { s.exams = e } }
func WithBlueprints(b BlueprintTotals) Option { return func(s *Service) { s.totals = b } }
func WithEvents(r syncx.Recorder) Option      { return func(s *Service) { s.events = r } }
func WithClock(now func() time.Time) Option   { return func(s *Service) { s.now = now } }
func WithLogger(l *zap.Logger) Option         { return func(s *Service) { s.log = l.Named("bitacora") } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		log:    zap.NewNop(),
		events: syncx.Nop{},
		now:    time.Now,
		policy: ZeroIfAnyPresent,
	}
	for _, o := range opts {
		o(s)
	}
	if !s.policy.Valid() {
		s.policy = ZeroIfAnyPresent
	}
	return s
}

// CreateActivity stores a new bitácora column. An exam activity linked to a
// blueprint is captured on the blueprint's point scale unless SourceScale is
// given.
func (s *Service) CreateActivity(ctx context.Context, a Activity) (Activity, error) {
	if a.BlueprintID != "" && a.Component != ComponentExam {
		return Activity{}, apperr.Validation("activity: only exam activities can reference a blueprint")
	}
	if a.SourceScale == 0 {
		a.SourceScale = 10
		if a.BlueprintID != "" && s.totals != nil {
			total, err := s.totals.BlueprintTotal(ctx, a.BlueprintID)
			if err != nil {
				return Activity{}, err
			}
			a.SourceScale = total
		}
	}
	if err := structValidator.Struct(a); err != nil {
		return Activity{}, apperr.Validation("activity: %v", err)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = s.now()
	if err := s.store.CreateActivity(ctx, a); err != nil {
		return Activity{}, err
	}
	s.log.Info("activity created", zap.String("activity_id", a.ID), zap.String("section_id", a.SectionID),
		zap.Int("partial", a.PartialNumber), zap.String("component", string(a.Component)))
	return a, nil
}

func (s *Service) ListActivities(ctx context.Context, sectionID string, partial int) ([]Activity, error) {
	return s.store.ListActivities(ctx, sectionID, partial)
}

// UpsertScore replaces one ledger cell.
func (s *Service) UpsertScore(ctx context.Context, activityID string, in ScoreInput) error {
	_, err := s.BulkUpsertScores(ctx, activityID, []ScoreInput{in})
	return err
}

// BulkUpsertScores converts every row from the activity's source scale to
// 0-10 and replaces the cells in one transaction. Any invalid row rejects the
// whole batch.
func (s *Service) BulkUpsertScores(ctx context.Context, activityID string, rows []ScoreInput) (int, error) {
	a, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		return 0, err
	}
	now := s.now()
	scores := make([]Score, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for i, r := range rows {
		if err := structValidator.Struct(r); err != nil {
			return 0, apperr.Validation("row %d: %v", i, err)
		}
		if seen[r.EnrollmentID] {
			return 0, apperr.Validation("row %d: enrollment %s listed twice", i, r.EnrollmentID)
		}
		seen[r.EnrollmentID] = true
		sc := Score{ActivityID: a.ID, EnrollmentID: r.EnrollmentID, UpdatedAt: now}
		if r.Score != nil {
			v, err := toTenScale(*r.Score, a.SourceScale)
			if err != nil {
				return 0, apperr.Validation("row %d (%s): %v", i, r.EnrollmentID, err)
			}
			sc.Score = &v
		}
		scores = append(scores, sc)
	}
	if err := s.store.UpsertScores(ctx, a.ID, scores); err != nil {
		return 0, err
	}
	s.record(ctx, syncx.TypeScoreUpserted, a.ID, map[string]any{"rows": len(scores)})
	s.log.Info("scores upserted", zap.String("activity_id", a.ID), zap.Int("rows", len(scores)))
	return len(scores), nil
}

func toTenScale(v, scale float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("score is not a number")
	}
	if v < 0 || v > scale {
		return 0, fmt.Errorf("score %g outside 0..%g", v, scale)
	}
	return v / scale * 10, nil
}

// SetComponentWeights stores a section's component percentages; they must
// add to 100.
func (s *Service) SetComponentWeights(ctx context.Context, w ComponentWeights) error {
	if w.SectionID == "" {
		return apperr.Validation("section_id is required")
	}
	if err := structValidator.Struct(w); err != nil {
		return apperr.Validation("weights: %v", err)
	}
	if !weightsBalanced(w.Sum()) {
		return apperr.New(apperr.ErrWeightsInvalid, "component weights add to %.2f, expected 100", w.Sum())
	}
	w.UpdatedAt = s.now()
	if err := s.store.SetWeights(ctx, w); err != nil {
		return err
	}
	s.record(ctx, syncx.TypeWeightsChanged, w.SectionID, w)
	s.log.Info("component weights set", zap.String("section_id", w.SectionID),
		zap.Float64("continuous", w.Continuous), zap.Float64("online_platform", w.OnlinePlatform),
		zap.Float64("exam", w.Exam))
	return nil
}

// SetFinalExamScore records (or clears, with nil) the semester final exam.
func (s *Service) SetFinalExamScore(ctx context.Context, sectionID, enrollmentID string, score *float64) error {
	if sectionID == "" || enrollmentID == "" {
		return apperr.Validation("section_id and enrollment_id are required")
	}
	if score != nil {
		if _, err := toTenScale(*score, 10); err != nil {
			return apperr.Validation("final exam: %v", err)
		}
	}
	return s.store.SetFinalExamScore(ctx, sectionID, enrollmentID, score, s.now())
}

// ComputePartialGrade derives one partial from the raw ledger cells.
func (s *Service) ComputePartialGrade(ctx context.Context, enrollmentID, sectionID string, partial int) (PartialResult, error) {
	if partial < 1 || partial > Partials {
		return PartialResult{}, apperr.Validation("partial must be 1..%d, got %d", Partials, partial)
	}
	activities, err := s.store.ListActivities(ctx, sectionID, partial)
	if err != nil {
		return PartialResult{}, err
	}
	scores, err := s.store.Scores(ctx, sectionID, enrollmentID)
	if err != nil {
		return PartialResult{}, err
	}
	weights, ok, err := s.store.Weights(ctx, sectionID)
	if err != nil {
		return PartialResult{}, err
	}
	res, _, err := s.partial(ctx, enrollmentID, sectionID, partial, activities, scores, weights, ok)
	return res, err
}

// partial returns the display result plus the unrounded grade.
func (s *Service) partial(ctx context.Context, enrollmentID, sectionID string, partial int, activities []Activity,
	scores map[string]*float64, weights ComponentWeights, haveWeights bool) (PartialResult, *float64, error) {
	res := PartialResult{EnrollmentID: enrollmentID, SectionID: sectionID, PartialNumber: partial}

	cells := make(map[string]*float64, len(activities))
	for _, a := range activities {
		v := scores[a.ID]
		if v == nil && a.BlueprintID != "" && s.exams != nil {
			raw, err := s.exams.ExamScoreForEnrollment(ctx, a.BlueprintID, enrollmentID)
			if err != nil {
				return PartialResult{}, nil, err
			}
			if raw != nil {
				conv := math.Min(math.Max(*raw/a.SourceScale*10, 0), 10)
				v = &conv
			}
		}
		cells[a.ID] = v
	}
	totals := ComponentTotals(activities, cells)

	if err := s.checkActivityWeights(activities, cells, &res); err != nil {
		return PartialResult{}, nil, err
	}
	if !haveWeights {
		if s.strict {
			return PartialResult{}, nil, apperr.New(apperr.ErrWeightsInvalid, "section %s has no component weights", sectionID)
		}
		res.Warnings = append(res.Warnings, "component weights not configured")
	} else if !weightsBalanced(weights.Sum()) {
		if s.strict {
			return PartialResult{}, nil, apperr.New(apperr.ErrWeightsInvalid,
				"component weights add to %.2f, expected 100", weights.Sum())
		}
		res.Warnings = append(res.Warnings, fmt.Sprintf("component weights add to %.2f", weights.Sum()))
	}

	res.ComponentTotals = make(map[Component]*float64, len(totals))
	for c, t := range totals {
		res.ComponentTotals[c] = round2Ptr(t)
	}
	var grade *float64
	if haveWeights {
		grade = PartialGrade(totals, weights, s.policy)
		res.PartialGrade = round2Ptr(grade)
	}
	return res, grade, nil
}

// checkActivityWeights verifies that each component with captured data has
// activity weights adding to 100.
func (s *Service) checkActivityWeights(activities []Activity, cells map[string]*float64, res *PartialResult) error {
	sums := map[Component]float64{}
	hasData := map[Component]bool{}
	for _, a := range activities {
		sums[a.Component] += a.Weight
		if cells[a.ID] != nil {
			hasData[a.Component] = true
		}
	}
	for _, c := range Components {
		if !hasData[c] || weightsBalanced(sums[c]) {
			continue
		}
		if s.strict {
			return apperr.New(apperr.ErrWeightsInvalid, "%s activity weights add to %.2f, expected 100", c, sums[c])
		}
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s activity weights add to %.2f", c, sums[c]))
	}
	return nil
}

// ComputeSemesterGrade derives all partials and blends in the final exam.
func (s *Service) ComputeSemesterGrade(ctx context.Context, enrollmentID, sectionID string) (SemesterResult, error) {
	activities, err := s.store.ListActivities(ctx, sectionID, 0)
	if err != nil {
		return SemesterResult{}, err
	}
	scores, err := s.store.Scores(ctx, sectionID, enrollmentID)
	if err != nil {
		return SemesterResult{}, err
	}
	weights, ok, err := s.store.Weights(ctx, sectionID)
	if err != nil {
		return SemesterResult{}, err
	}
	final, err := s.store.FinalExamScore(ctx, sectionID, enrollmentID)
	if err != nil {
		return SemesterResult{}, err
	}

	byPartial := make(map[int][]Activity, Partials)
	for _, a := range activities {
		byPartial[a.PartialNumber] = append(byPartial[a.PartialNumber], a)
	}
	res := SemesterResult{EnrollmentID: enrollmentID, SectionID: sectionID, FinalExam: final}
	raw := make([]*float64, Partials)
	for p := 1; p <= Partials; p++ {
		pr, grade, err := s.partial(ctx, enrollmentID, sectionID, p, byPartial[p], scores, weights, ok)
		if err != nil {
			return SemesterResult{}, err
		}
		raw[p-1] = grade
		res.Partials = append(res.Partials, pr.PartialGrade)
		for _, w := range pr.Warnings {
			res.Warnings = append(res.Warnings, fmt.Sprintf("partial %d: %s", p, w))
		}
	}
	res.SemesterGrade = round2Ptr(SemesterGrade(raw, final))
	return res, nil
}

func (s *Service) record(ctx context.Context, typ, key string, data any) {
	if err := s.events.Append(ctx, typ, key, data); err != nil {
		s.log.Warn("event append failed", zap.String("type", typ), zap.String("key", key), zap.Error(err))
	}
}
