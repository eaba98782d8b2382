package bitacora

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mind-engage/bitacora/internal/apperr"
	"github.com/mind-engage/bitacora/internal/db"
)

type Store interface {
	CreateActivity(ctx context.Context, a Activity) error
	GetActivity(ctx context.Context, id string) (Activity, error)
	// ListActivities returns a section's activities; partial 0 means all.
	ListActivities(ctx context.Context, sectionID string, partial int) ([]Activity, error)

	// UpsertScores replaces every given cell of one activity in a single
	// transaction. Each write is a full row replace.
	UpsertScores(ctx context.Context, activityID string, scores []Score) error
	// Scores returns the enrollment's captured scores in a section keyed by
	// activity id. Cells stored as null are included with a nil value.
	Scores(ctx context.Context, sectionID, enrollmentID string) (map[string]*float64, error)

	SetWeights(ctx context.Context, w ComponentWeights) error
	Weights(ctx context.Context, sectionID string) (ComponentWeights, bool, error)

	SetFinalExamScore(ctx context.Context, sectionID, enrollmentID string, score *float64, at time.Time) error
	FinalExamScore(ctx context.Context, sectionID, enrollmentID string) (*float64, error)
}

type SQLStore struct {
	conn *sql.DB
}

func NewSQLStore(conn *sql.DB) *SQLStore {
	return &SQLStore{conn: conn}
}

const activityCols = `id,section_id,partial_number,component,name,weight,source_scale,blueprint_id,created_at`

func (s *SQLStore) CreateActivity(ctx context.Context, a Activity) error {
	_, err := s.conn.ExecContext(ctx, `INSERT INTO activities (`+activityCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.SectionID, a.PartialNumber, string(a.Component), a.Name, a.Weight, a.SourceScale,
		a.BlueprintID, a.CreatedAt.UnixMilli())
	if db.IsUniqueViolation(err) {
		return apperr.Validation("activity %s already exists", a.ID)
	}
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *SQLStore) GetActivity(ctx context.Context, id string) (Activity, error) {
	a, err := scanActivity(s.conn.QueryRowContext(ctx, `SELECT `+activityCols+` FROM activities WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Activity{}, apperr.NotFound("activity", id)
	}
	return a, err
}

func (s *SQLStore) ListActivities(ctx context.Context, sectionID string, partial int) ([]Activity, error) {
	q := `SELECT ` + activityCols + ` FROM activities WHERE section_id=$1`
	args := []any{sectionID}
	if partial > 0 {
		q += ` AND partial_number=$2`
		args = append(args, partial)
	}
	q += ` ORDER BY partial_number, created_at, id`
	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()
	var out []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpsertScores(ctx context.Context, activityID string, scores []Score) error {
	return db.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		for _, sc := range scores {
			var v any
			if sc.Score != nil {
				v = *sc.Score
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO activity_scores (activity_id,enrollment_id,score,updated_at)
				VALUES ($1,$2,$3,$4)
				ON CONFLICT (activity_id, enrollment_id) DO UPDATE SET
					score=excluded.score, updated_at=excluded.updated_at`,
				activityID, sc.EnrollmentID, v, sc.UpdatedAt.UnixMilli())
			if err != nil {
				return fmt.Errorf("upsert score %s/%s: %w", activityID, sc.EnrollmentID, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) Scores(ctx context.Context, sectionID, enrollmentID string) (map[string]*float64, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT s.activity_id, s.score FROM activity_scores s
		JOIN activities a ON a.id = s.activity_id
		WHERE a.section_id=$1 AND s.enrollment_id=$2`, sectionID, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("load scores: %w", err)
	}
	defer rows.Close()
	out := map[string]*float64{}
	for rows.Next() {
		var (
			id string
			v  sql.NullFloat64
		)
		if err := rows.Scan(&id, &v); err != nil {
			return nil, err
		}
		out[id] = nullable(v)
	}
	return out, rows.Err()
}

func (s *SQLStore) SetWeights(ctx context.Context, w ComponentWeights) error {
	_, err := s.conn.ExecContext(ctx, `INSERT INTO component_weights (section_id,continuous,online_platform,exam,updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (section_id) DO UPDATE SET continuous=excluded.continuous,
			online_platform=excluded.online_platform, exam=excluded.exam, updated_at=excluded.updated_at`,
		w.SectionID, w.Continuous, w.OnlinePlatform, w.Exam, w.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("set weights: %w", err)
	}
	return nil
}

func (s *SQLStore) Weights(ctx context.Context, sectionID string) (ComponentWeights, bool, error) {
	var (
		w       ComponentWeights
		updated int64
	)
	err := s.conn.QueryRowContext(ctx, `SELECT section_id,continuous,online_platform,exam,updated_at
		FROM component_weights WHERE section_id=$1`, sectionID).
		Scan(&w.SectionID, &w.Continuous, &w.OnlinePlatform, &w.Exam, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return ComponentWeights{}, false, nil
	}
	if err != nil {
		return ComponentWeights{}, false, fmt.Errorf("load weights: %w", err)
	}
	w.UpdatedAt = time.UnixMilli(updated)
	return w, true, nil
}

func (s *SQLStore) SetFinalExamScore(ctx context.Context, sectionID, enrollmentID string, score *float64, at time.Time) error {
	var v any
	if score != nil {
		v = *score
	}
	_, err := s.conn.ExecContext(ctx, `INSERT INTO final_exam_scores (section_id,enrollment_id,score,updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (section_id, enrollment_id) DO UPDATE SET score=excluded.score, updated_at=excluded.updated_at`,
		sectionID, enrollmentID, v, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("set final exam score: %w", err)
	}
	return nil
}

func (s *SQLStore) FinalExamScore(ctx context.Context, sectionID, enrollmentID string) (*float64, error) {
	var v sql.NullFloat64
	err := s.conn.QueryRowContext(ctx, `SELECT score FROM final_exam_scores WHERE section_id=$1 AND enrollment_id=$2`,
		sectionID, enrollmentID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load final exam score: %w", err)
	}
	return nullable(v), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanActivity(r scanner) (Activity, error) {
	var (
		a       Activity
		comp    string
		created int64
	)
	if err := r.Scan(&a.ID, &a.SectionID, &a.PartialNumber, &comp, &a.Name, &a.Weight, &a.SourceScale,
		&a.BlueprintID, &created); err != nil {
		return Activity{}, err
	}
	a.Component = Component(comp)
	a.CreatedAt = time.UnixMilli(created)
	return a, nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
