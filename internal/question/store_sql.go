package question

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/bitacora/internal/apperr"
)

// Store is the question bank. Versions are insert-only: Revise creates a new
// row instead of editing one that exams may already reference.
type Store interface {
	Put(ctx context.Context, v Version) (Version, error)
	Revise(ctx context.Context, parentID string, v Version) (Version, error)
	Get(ctx context.Context, id string) (Version, error)
	GetMany(ctx context.Context, ids []string) (map[string]Version, error)
	SetStatus(ctx context.Context, id string, st Status) error
	ListApproved(ctx context.Context, subjectID string) ([]Version, error)
}

type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

const versionCols = `id,subject_id,kind,statement,difficulty,scope,partial_number,content_json,answer_json,status,revision,parent_id,author_id,created_at`

func (s *SQLStore) Put(ctx context.Context, v Version) (Version, error) {
	if err := ValidateVersion(v); err != nil {
		return Version{}, err
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Status == "" {
		v.Status = StatusDraft
	}
	if v.Revision == 0 {
		v.Revision = 1
	}
	v.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO question_versions (`+versionCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		v.ID, v.SubjectID, string(v.Kind), v.Statement, v.Difficulty, string(v.Scope), nullInt(v.PartialNumber),
		string(v.Content), string(v.CanonicalAnswer), string(v.Status), v.Revision, v.ParentID, v.AuthorID,
		v.CreatedAt.UnixMilli())
	if err != nil {
		return Version{}, fmt.Errorf("insert question version: %w", err)
	}
	return v, nil
}

func (s *SQLStore) Revise(ctx context.Context, parentID string, v Version) (Version, error) {
	parent, err := s.Get(ctx, parentID)
	if err != nil {
		return Version{}, err
	}
	v.ID = ""
	v.ParentID = parent.ID
	v.Revision = parent.Revision + 1
	v.Status = StatusDraft
	if v.SubjectID == "" {
		v.SubjectID = parent.SubjectID
	}
	return s.Put(ctx, v)
}

func (s *SQLStore) Get(ctx context.Context, id string) (Version, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+versionCols+` FROM question_versions WHERE id=$1`, id)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, apperr.NotFound("question", id)
	}
	return v, err
}

func (s *SQLStore) GetMany(ctx context.Context, ids []string) (map[string]Version, error) {
	out := make(map[string]Version, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		v, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}

func (s *SQLStore) SetStatus(ctx context.Context, id string, st Status) error {
	switch st {
	case StatusDraft, StatusInReview, StatusApproved, StatusRetired:
	default:
		return apperr.Validation("unknown question status %q", st)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE question_versions SET status=$1 WHERE id=$2`, string(st), id)
	if err != nil {
		return fmt.Errorf("update question status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("question", id)
	}
	return nil
}

func (s *SQLStore) ListApproved(ctx context.Context, subjectID string) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+versionCols+` FROM question_versions
		WHERE subject_id=$1 AND status=$2 ORDER BY created_at, id`, subjectID, string(StatusApproved))
	if err != nil {
		return nil, fmt.Errorf("list approved questions: %w", err)
	}
	defer rows.Close()
	var out []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVersion(r scanner) (Version, error) {
	var (
		v               Version
		kind, scope, st string
		partial         sql.NullInt64
		content, answer string
		createdAt       int64
	)
	if err := r.Scan(&v.ID, &v.SubjectID, &kind, &v.Statement, &v.Difficulty, &scope, &partial,
		&content, &answer, &st, &v.Revision, &v.ParentID, &v.AuthorID, &createdAt); err != nil {
		return Version{}, err
	}
	v.Kind, v.Scope, v.Status = Kind(kind), Scope(scope), Status(st)
	if partial.Valid {
		p := int(partial.Int64)
		v.PartialNumber = &p
	}
	if content != "" {
		v.Content = json.RawMessage(content)
	}
	if answer != "" {
		v.CanonicalAnswer = json.RawMessage(answer)
	}
	v.CreatedAt = time.UnixMilli(createdAt)
	return v, nil
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
