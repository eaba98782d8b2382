package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mind-engage/bitacora/internal/apperr"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const blueprintCols = `id,subject_id,section_id,exam_kind,partial_number,start_time,duration_minutes,max_attempts,
	assembly_mode,question_count,difficulty_min,difficulty_max,shuffle_questions,shuffle_options,manual_ids_json,
	total_points,status,created_at`

func (s *SQLStore) CreateBlueprint(ctx context.Context, bp Blueprint) error {
	ids, err := json.Marshal(bp.ManualQuestionIDs)
	if err != nil {
		return err
	}
	var partial any
	if bp.PartialNumber != nil {
		partial = *bp.PartialNumber
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO blueprints (`+blueprintCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		bp.ID, bp.SubjectID, bp.SectionID, string(bp.Kind), partial, bp.StartTime.UnixMilli(), bp.DurationMinutes,
		bp.MaxAttempts, string(bp.AssemblyMode), bp.QuestionCount, bp.Difficulty.Min, bp.Difficulty.Max,
		bp.ShuffleQuestions, bp.ShuffleOptions, string(ids), bp.TotalPoints, string(bp.Status), bp.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert blueprint: %w", err)
	}
	return nil
}

func (s *SQLStore) GetBlueprint(ctx context.Context, id string) (Blueprint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+blueprintCols+` FROM blueprints WHERE id=$1`, id)
	bp, err := scanBlueprint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Blueprint{}, apperr.NotFound("blueprint", id)
	}
	return bp, err
}

func (s *SQLStore) ListBlueprints(ctx context.Context, opts ListOpts) ([]Blueprint, error) {
	q := `SELECT ` + blueprintCols + ` FROM blueprints WHERE 1=1`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		q += " AND " + clause + "=$" + strconv.Itoa(len(args))
	}
	if opts.SectionID != "" {
		add("section_id", opts.SectionID)
	}
	if opts.SubjectID != "" {
		add("subject_id", opts.SubjectID)
	}
	if opts.Status != "" {
		add("status", string(opts.Status))
	}
	q += " ORDER BY start_time, id"
	if opts.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", opts.Limit, max(opts.Offset, 0))
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list blueprints: %w", err)
	}
	defer rows.Close()
	var out []Blueprint
	for rows.Next() {
		bp, err := scanBlueprint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bp)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateStatus(ctx context.Context, id string, from, to Status) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE blueprints SET status=$1 WHERE id=$2 AND status=$3`,
		string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("update blueprint status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLStore) ReplaceLinks(ctx context.Context, blueprintID string, links []Link) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM blueprints WHERE id=$1`, blueprintID).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("blueprint", blueprintID)
		}
		return err
	}
	if Status(status) != StatusDraft {
		return apperr.Validation("blueprint %s is %s; links are frozen once it leaves draft", blueprintID, status)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM exam_links WHERE blueprint_id=$1`, blueprintID); err != nil {
		return fmt.Errorf("clear links: %w", err)
	}
	for _, l := range links {
		if _, err := tx.ExecContext(ctx, `INSERT INTO exam_links (blueprint_id,question_id,points,base_order)
			VALUES ($1,$2,$3,$4)`, blueprintID, l.QuestionID, l.Points, l.BaseOrder); err != nil {
			return fmt.Errorf("insert link %s: %w", l.QuestionID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) ListLinks(ctx context.Context, blueprintID string) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT blueprint_id,question_id,points,base_order FROM exam_links
		WHERE blueprint_id=$1 ORDER BY base_order`, blueprintID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()
	var out []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.BlueprintID, &l.QuestionID, &l.Points, &l.BaseOrder); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLStore) CountAttempts(ctx context.Context, blueprintID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attempts WHERE blueprint_id=$1`, blueprintID).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBlueprint(r scanner) (Blueprint, error) {
	var (
		bp                     Blueprint
		kind, mode, st, idsRaw string
		partial                sql.NullInt64
		start, created         int64
	)
	err := r.Scan(&bp.ID, &bp.SubjectID, &bp.SectionID, &kind, &partial, &start, &bp.DurationMinutes,
		&bp.MaxAttempts, &mode, &bp.QuestionCount, &bp.Difficulty.Min, &bp.Difficulty.Max,
		&bp.ShuffleQuestions, &bp.ShuffleOptions, &idsRaw, &bp.TotalPoints, &st, &created)
	if err != nil {
		return Blueprint{}, err
	}
	bp.Kind, bp.AssemblyMode, bp.Status = Kind(kind), AssemblyMode(mode), Status(st)
	if partial.Valid {
		p := int(partial.Int64)
		bp.PartialNumber = &p
	}
	if idsRaw != "" {
		if err := json.Unmarshal([]byte(idsRaw), &bp.ManualQuestionIDs); err != nil {
			return Blueprint{}, fmt.Errorf("decode manual ids: %w", err)
		}
	}
	bp.StartTime = time.UnixMilli(start)
	bp.CreatedAt = time.UnixMilli(created)
	return bp, nil
}
