package attempt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/bitacora/internal/apperr"
	"github.com/mind-engage/bitacora/internal/db"
	"github.com/mind-engage/bitacora/internal/exam"
	"github.com/mind-engage/bitacora/internal/grading"
)

type SQLStore struct {
	conn   *sql.DB
	driver db.Driver
}

func NewSQLStore(conn *sql.DB, driver db.Driver) *SQLStore {
	return &SQLStore{conn: conn, driver: driver}
}

const attemptCols = `id,blueprint_id,enrollment_id,attempt_number,status,actual_start,deadline,actual_end,
	auto_score,manual_score,final_score,submit_reason,void_reason,created_at`

const responseCols = `id,attempt_id,question_id,payload_json,auto_score,manual_score,needs_manual,review_state,
	feedback,signals_json,updated_at`

// lockAttempt reads the attempt status inside tx. On postgres the row is
// locked with mode ("FOR SHARE" or "FOR UPDATE") so a concurrent Finalize
// waits for the writer to commit; sqlite transactions already start with the
// write lock (_txlock=immediate).
func (s *SQLStore) lockAttempt(ctx context.Context, tx *sql.Tx, id, mode string) (Status, error) {
	q := `SELECT status FROM attempts WHERE id=$1`
	if s.driver == db.DriverPostgres {
		q += ` ` + mode
	}
	var st string
	if err := tx.QueryRowContext(ctx, q, id).Scan(&st); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperr.NotFound("attempt", id)
		}
		return "", err
	}
	return Status(st), nil
}

func (s *SQLStore) Create(ctx context.Context, a Attempt, order []exam.OrderEntry) error {
	err := db.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO attempts (`+attemptCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			a.ID, a.BlueprintID, a.EnrollmentID, a.AttemptNumber, string(a.Status),
			millis(a.ActualStart), millis(a.Deadline), millis(a.ActualEnd),
			a.AutoScore, a.ManualScore, a.FinalScore, string(a.SubmitReason), a.VoidReason, a.CreatedAt.UnixMilli())
		if err != nil {
			return err
		}
		for _, e := range order {
			perm, err := json.Marshal(e.OptionPerm)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO attempt_questions (attempt_id,position,question_id,points,option_perm_json)
				VALUES ($1,$2,$3,$4,$5)`, a.ID, e.Position, e.QuestionID, e.Points, string(perm)); err != nil {
				return fmt.Errorf("insert order position %d: %w", e.Position, err)
			}
		}
		return nil
	})
	if db.IsUniqueViolation(err) {
		return apperr.Wrap(apperr.ErrAttemptInProgress, err, "enrollment %s already has an open attempt", a.EnrollmentID)
	}
	if err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (Attempt, error) {
	a, err := scanAttempt(s.conn.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM attempts WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, apperr.NotFound("attempt", id)
	}
	return a, err
}

func (s *SQLStore) Order(ctx context.Context, attemptID string) ([]exam.OrderEntry, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT position,question_id,points,option_perm_json
		FROM attempt_questions WHERE attempt_id=$1 ORDER BY position`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	defer rows.Close()
	var out []exam.OrderEntry
	for rows.Next() {
		var (
			e    exam.OrderEntry
			perm string
		)
		if err := rows.Scan(&e.Position, &e.QuestionID, &e.Points, &perm); err != nil {
			return nil, err
		}
		if perm != "" && perm != "null" {
			if err := json.Unmarshal([]byte(perm), &e.OptionPerm); err != nil {
				return nil, fmt.Errorf("decode option perm: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		if _, err := s.Get(ctx, attemptID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLStore) List(ctx context.Context, blueprintID, enrollmentID string) ([]Attempt, error) {
	return s.queryAttempts(ctx, `SELECT `+attemptCols+` FROM attempts
		WHERE blueprint_id=$1 AND enrollment_id=$2 ORDER BY attempt_number, created_at`, blueprintID, enrollmentID)
}

func (s *SQLStore) ListOverdue(ctx context.Context, now time.Time, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryAttempts(ctx, fmt.Sprintf(`SELECT `+attemptCols+` FROM attempts
		WHERE status=$1 AND deadline < $2 ORDER BY deadline LIMIT %d`, limit),
		string(StatusInProgress), now.UnixMilli())
}

func (s *SQLStore) queryAttempts(ctx context.Context, q string, args ...any) ([]Attempt, error) {
	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpsertResponse(ctx context.Context, r Response, now time.Time) (Response, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.AutoScore, r.ManualScore, r.NeedsManual, r.Signals = 0, nil, false, nil
	r.ReviewState, r.Feedback = ReviewNotRequired, ""
	err := db.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		q := `SELECT status, deadline FROM attempts WHERE id=$1`
		if s.driver == db.DriverPostgres {
			q += ` FOR SHARE`
		}
		var (
			st       string
			deadline sql.NullInt64
		)
		if err := tx.QueryRowContext(ctx, q, r.AttemptID).Scan(&st, &deadline); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.NotFound("attempt", r.AttemptID)
			}
			return err
		}
		if Status(st) != StatusInProgress {
			return apperr.New(apperr.ErrAttemptNotWritable, "attempt %s is %s", r.AttemptID, st)
		}
		if deadline.Valid && now.UnixMilli() > deadline.Int64 {
			return apperr.New(apperr.ErrAttemptNotWritable, "attempt %s is past its deadline", r.AttemptID)
		}
		return tx.QueryRowContext(ctx, `INSERT INTO responses (`+responseCols+`)
			VALUES ($1,$2,$3,$4,0,NULL,$5,$6,'','',$7)
			ON CONFLICT (attempt_id, question_id) DO UPDATE SET
				payload_json=excluded.payload_json, auto_score=0, manual_score=NULL,
				needs_manual=excluded.needs_manual, review_state=excluded.review_state,
				feedback='', signals_json='', updated_at=excluded.updated_at
			RETURNING id`,
			r.ID, r.AttemptID, r.QuestionID, string(r.Payload), false, string(r.ReviewState),
			r.UpdatedAt.UnixMilli()).Scan(&r.ID)
	})
	if err != nil {
		return Response{}, err
	}
	return r, nil
}

func (s *SQLStore) ListResponses(ctx context.Context, attemptID string) ([]Response, error) {
	return listResponses(ctx, s.conn, attemptID)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listResponses(ctx context.Context, q queryer, attemptID string) ([]Response, error) {
	rows, err := q.QueryContext(ctx, `SELECT r.id,r.attempt_id,r.question_id,r.payload_json,r.auto_score,
		r.manual_score,r.needs_manual,r.review_state,r.feedback,r.signals_json,r.updated_at
		FROM responses r LEFT JOIN attempt_questions q ON q.attempt_id=r.attempt_id AND q.question_id=r.question_id
		WHERE r.attempt_id=$1 ORDER BY q.position, r.question_id`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()
	var out []Response
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetResponse(ctx context.Context, id string) (Response, error) {
	r, err := scanResponse(s.conn.QueryRowContext(ctx, `SELECT `+responseCols+` FROM responses WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Response{}, apperr.NotFound("response", id)
	}
	return r, err
}

func (s *SQLStore) Finalize(ctx context.Context, attemptID string, end time.Time, reason SubmitReason, grade GradeFunc) (Attempt, bool, error) {
	won := false
	err := db.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		// claim the attempt first; the row stays locked until commit
		res, err := tx.ExecContext(ctx, `UPDATE attempts SET status=$1, actual_end=$2, submit_reason=$3
			WHERE id=$4 AND status=$5`,
			string(StatusSubmitted), end.UnixMilli(), string(reason), attemptID, string(StatusInProgress))
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n != 1 {
			return err
		}
		won = true

		stored, err := listResponses(ctx, tx, attemptID)
		if err != nil {
			return err
		}
		byQuestion := make(map[string]Response, len(stored))
		for _, r := range stored {
			byQuestion[r.QuestionID] = r
		}
		g := grade(byQuestion)
		for _, r := range g.Responses {
			if err := writeGraded(ctx, tx, attemptID, r); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE attempts SET status=$1, auto_score=$2, manual_score=0, final_score=$3
			WHERE id=$4`, string(g.Status), g.AutoScore, g.AutoScore, attemptID)
		return err
	})
	if err != nil {
		return Attempt{}, false, fmt.Errorf("finalize attempt %s: %w", attemptID, err)
	}
	a, err := s.Get(ctx, attemptID)
	return a, won, err
}

func writeGraded(ctx context.Context, tx *sql.Tx, attemptID string, r Response) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	signals := ""
	if r.Signals != nil {
		raw, err := json.Marshal(r.Signals)
		if err != nil {
			return err
		}
		signals = string(raw)
	}
	var manual any
	if r.ManualScore != nil {
		manual = *r.ManualScore
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO responses (`+responseCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (attempt_id, question_id) DO UPDATE SET
			payload_json=excluded.payload_json, auto_score=excluded.auto_score,
			manual_score=excluded.manual_score, needs_manual=excluded.needs_manual,
			review_state=excluded.review_state, feedback=excluded.feedback,
			signals_json=excluded.signals_json, updated_at=excluded.updated_at`,
		r.ID, attemptID, r.QuestionID, string(r.Payload), r.AutoScore, manual, r.NeedsManual,
		string(r.ReviewState), r.Feedback, signals, r.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("write graded response %s: %w", r.QuestionID, err)
	}
	return nil
}

func (s *SQLStore) ApplyManualGrade(ctx context.Context, responseID string, score float64, feedback string, at time.Time) (Attempt, int, error) {
	var attemptID string
	pending := 0
	err := db.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		var needsManual bool
		err := tx.QueryRowContext(ctx, `SELECT attempt_id, needs_manual FROM responses WHERE id=$1`, responseID).
			Scan(&attemptID, &needsManual)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("response", responseID)
		}
		if err != nil {
			return err
		}
		st, err := s.lockAttempt(ctx, tx, attemptID, "FOR UPDATE")
		if err != nil {
			return err
		}
		if !st.Closed() {
			return apperr.New(apperr.ErrAttemptNotWritable, "attempt %s is %s", attemptID, st)
		}
		if !needsManual {
			return apperr.Validation("response %s does not need manual review", responseID)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE responses SET manual_score=$1, feedback=$2, review_state=$3, updated_at=$4
			WHERE id=$5`, score, feedback, string(ReviewDone), at.UnixMilli(), responseID); err != nil {
			return err
		}

		var (
			manual sql.NullFloat64
			auto   float64
		)
		if err := tx.QueryRowContext(ctx, `SELECT SUM(manual_score) FROM responses
			WHERE attempt_id=$1 AND needs_manual=$2`, attemptID, true).Scan(&manual); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM responses
			WHERE attempt_id=$1 AND needs_manual=$2 AND review_state=$3`,
			attemptID, true, string(ReviewPending)).Scan(&pending); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `SELECT auto_score FROM attempts WHERE id=$1`, attemptID).Scan(&auto); err != nil {
			return err
		}
		next := StatusSubmitted
		if pending == 0 {
			next = StatusReviewed
		}
		_, err = tx.ExecContext(ctx, `UPDATE attempts SET manual_score=$1, final_score=$2, status=$3 WHERE id=$4`,
			grading.Round2(manual.Float64), grading.Round2(auto+manual.Float64), string(next), attemptID)
		return err
	})
	if err != nil {
		return Attempt{}, 0, err
	}
	a, err := s.Get(ctx, attemptID)
	return a, pending, err
}

func (s *SQLStore) Void(ctx context.Context, id, reason string) (bool, error) {
	res, err := s.conn.ExecContext(ctx, `UPDATE attempts SET status=$1, void_reason=$2
		WHERE id=$3 AND status IN ($4,$5)`,
		string(StatusVoided), reason, id, string(StatusPending), string(StatusInProgress))
	if err != nil {
		return false, fmt.Errorf("void attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return false, err
		}
	}
	return n == 1, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(r scanner) (Attempt, error) {
	var (
		a              Attempt
		st, reason     string
		start, dl, end sql.NullInt64
		created        int64
	)
	err := r.Scan(&a.ID, &a.BlueprintID, &a.EnrollmentID, &a.AttemptNumber, &st, &start, &dl, &end,
		&a.AutoScore, &a.ManualScore, &a.FinalScore, &reason, &a.VoidReason, &created)
	if err != nil {
		return Attempt{}, err
	}
	a.Status, a.SubmitReason = Status(st), SubmitReason(reason)
	a.ActualStart, a.Deadline, a.ActualEnd = fromMillis(start), fromMillis(dl), fromMillis(end)
	a.CreatedAt = time.UnixMilli(created)
	return a, nil
}

func scanResponse(r scanner) (Response, error) {
	var (
		resp                     Response
		payload, review, signals string
		manual                   sql.NullFloat64
		updated                  int64
	)
	err := r.Scan(&resp.ID, &resp.AttemptID, &resp.QuestionID, &payload, &resp.AutoScore, &manual,
		&resp.NeedsManual, &review, &resp.Feedback, &signals, &updated)
	if err != nil {
		return Response{}, err
	}
	if payload != "" {
		resp.Payload = json.RawMessage(payload)
	}
	if manual.Valid {
		v := manual.Float64
		resp.ManualScore = &v
	}
	if signals != "" {
		resp.Signals = &grading.Signals{}
		if err := json.Unmarshal([]byte(signals), resp.Signals); err != nil {
			return Response{}, fmt.Errorf("decode signals: %w", err)
		}
	}
	resp.ReviewState = ReviewState(review)
	resp.UpdatedAt = time.UnixMilli(updated)
	return resp, nil
}

func millis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
