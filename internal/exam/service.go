package exam

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mind-engage/bitacora/internal/apperr"
	"github.com/mind-engage/bitacora/internal/question"
)

var structValidator = validator.New()

// transitions lists the allowed blueprint status moves.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusScheduled},
	StatusScheduled: {StatusActive, StatusDraft, StatusClosed},
	StatusActive:    {StatusClosed},
	StatusClosed:    {StatusArchived},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Snapshot is everything needed to materialize or grade an attempt of one
// blueprint.
type Snapshot struct {
	Blueprint Blueprint
	Links     []Link
	Versions  map[string]question.Version
	Defs      map[string]question.Definition
}

type Service struct {
	store     Store
	questions question.Store
	log       *zap.Logger
	now       func() time.Time
	total     float64

	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Service)

// WithRand fixes the random source, e.g. for reproducible tests.
func WithRand(r *rand.Rand) Option { return func(s *Service) { s.rng = r } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithDefaultTotalPoints sets the total given to blueprints created without one.
func WithDefaultTotalPoints(total float64) Option {
	return func(s *Service) {
		if total > 0 {
			s.total = total
		}
	}
}

func NewService(store Store, questions question.Store, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:     store,
		questions: questions,
		log:       log.Named("exam"),
		now:       time.Now,
		total:     DefaultTotalPoints,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// WithRNG runs fn holding the service's random source; *rand.Rand is not safe
// for concurrent use.
func (s *Service) WithRNG(fn func(r *rand.Rand)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.rng)
}

// CreateBlueprint validates and stores a new blueprint in draft.
func (s *Service) CreateBlueprint(ctx context.Context, bp Blueprint) (Blueprint, error) {
	if bp.TotalPoints == 0 {
		bp.TotalPoints = s.total
	}
	if err := structValidator.Struct(bp); err != nil {
		return Blueprint{}, apperr.Validation("blueprint: %v", err)
	}
	if bp.Kind == KindPartial && bp.PartialNumber == nil {
		return Blueprint{}, apperr.Validation("blueprint: partial exam requires partial_number")
	}
	if bp.Kind == KindFinal && bp.PartialNumber != nil {
		return Blueprint{}, apperr.Validation("blueprint: final exam must not carry partial_number")
	}
	if bp.ID == "" {
		bp.ID = uuid.NewString()
	}
	bp.Status = StatusDraft
	bp.CreatedAt = s.now()
	if err := s.store.CreateBlueprint(ctx, bp); err != nil {
		return Blueprint{}, err
	}
	s.log.Info("blueprint created", zap.String("blueprint_id", bp.ID), zap.String("section_id", bp.SectionID),
		zap.String("kind", string(bp.Kind)), zap.Int("question_count", bp.QuestionCount))
	return bp, nil
}

func (s *Service) Blueprint(ctx context.Context, id string) (Blueprint, error) {
	return s.store.GetBlueprint(ctx, id)
}

// BlueprintTotal returns the points an attempt of the blueprint is scored on.
func (s *Service) BlueprintTotal(ctx context.Context, id string) (float64, error) {
	bp, err := s.store.GetBlueprint(ctx, id)
	if err != nil {
		return 0, err
	}
	return blueprintTotal(bp), nil
}

func (s *Service) List(ctx context.Context, opts ListOpts) ([]Blueprint, error) {
	return s.store.ListBlueprints(ctx, opts)
}

// AssembleExam selects questions for a draft blueprint and replaces its links.
func (s *Service) AssembleExam(ctx context.Context, blueprintID string) (AssemblyResult, error) {
	bp, err := s.store.GetBlueprint(ctx, blueprintID)
	if err != nil {
		return AssemblyResult{}, err
	}
	if bp.Status != StatusDraft {
		return AssemblyResult{}, apperr.Validation("blueprint %s is %s; only draft blueprints can be assembled", bp.ID, bp.Status)
	}
	pool, err := s.questions.ListApproved(ctx, bp.SubjectID)
	if err != nil {
		return AssemblyResult{}, err
	}
	var links []Link
	s.WithRNG(func(r *rand.Rand) { links, err = Compose(pool, bp, r) })
	if err != nil {
		s.log.Warn("assembly failed", zap.String("blueprint_id", bp.ID), zap.Error(err))
		return AssemblyResult{}, err
	}
	if err := CheckReady(bp, links); err != nil {
		return AssemblyResult{}, err
	}
	if err := s.store.ReplaceLinks(ctx, bp.ID, links); err != nil {
		return AssemblyResult{}, err
	}
	res := AssemblyResult{AssignedCount: len(links), TotalPoints: SumPoints(links)}
	s.log.Info("exam assembled", zap.String("blueprint_id", bp.ID),
		zap.Int("assigned", res.AssignedCount), zap.Float64("total_points", res.TotalPoints))
	return res, nil
}

// Transition moves a blueprint to another status. Leaving draft requires the
// ready invariant; going back to draft is refused once attempts exist.
func (s *Service) Transition(ctx context.Context, blueprintID string, to Status) (Blueprint, error) {
	bp, err := s.store.GetBlueprint(ctx, blueprintID)
	if err != nil {
		return Blueprint{}, err
	}
	if bp.Status == to {
		return bp, nil
	}
	if !canTransition(bp.Status, to) {
		return Blueprint{}, apperr.Validation("blueprint cannot move from %s to %s", bp.Status, to)
	}
	if bp.Status == StatusDraft {
		links, err := s.store.ListLinks(ctx, bp.ID)
		if err != nil {
			return Blueprint{}, err
		}
		if err := CheckReady(bp, links); err != nil {
			return Blueprint{}, err
		}
	}
	if to == StatusDraft {
		n, err := s.store.CountAttempts(ctx, bp.ID)
		if err != nil {
			return Blueprint{}, err
		}
		if n > 0 {
			return Blueprint{}, apperr.Validation("blueprint %s already has %d attempts", bp.ID, n)
		}
	}
	ok, err := s.store.UpdateStatus(ctx, bp.ID, bp.Status, to)
	if err != nil {
		return Blueprint{}, err
	}
	if !ok {
		return Blueprint{}, &apperr.Error{Kind: apperr.KindConcurrency, Code: apperr.CodeInvalid,
			Msg: "blueprint status changed concurrently"}
	}
	s.log.Info("blueprint status changed", zap.String("blueprint_id", bp.ID),
		zap.String("from", string(bp.Status)), zap.String("to", string(to)))
	bp.Status = to
	return bp, nil
}

// Snapshot loads the blueprint with its links and decoded question versions.
func (s *Service) Snapshot(ctx context.Context, blueprintID string) (Snapshot, error) {
	bp, err := s.store.GetBlueprint(ctx, blueprintID)
	if err != nil {
		return Snapshot{}, err
	}
	links, err := s.store.ListLinks(ctx, blueprintID)
	if err != nil {
		return Snapshot{}, err
	}
	ids := make([]string, len(links))
	for i, l := range links {
		ids[i] = l.QuestionID
	}
	versions, err := s.questions.GetMany(ctx, ids)
	if err != nil {
		return Snapshot{}, err
	}
	defs := make(map[string]question.Definition, len(versions))
	for id, v := range versions {
		def, err := v.Definition()
		if err != nil {
			// approved content was validated on insert; a failure here is
			// stored data corruption
			return Snapshot{}, err
		}
		defs[id] = def
	}
	return Snapshot{Blueprint: bp, Links: links, Versions: versions, Defs: defs}, nil
}
