package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mind-engage/bitacora/internal/bitacora"
	"github.com/mind-engage/bitacora/internal/rbac"
)

// POST /activities
func CreateActivityHandler(ledger *bitacora.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var a bitacora.Activity
		if !decode(w, r, &a) {
			return
		}
		out, err := ledger.CreateActivity(r.Context(), a)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

// GET /sections/{sectionID}/activities?partial=
func ListActivitiesHandler(ledger *bitacora.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partial := 0
		if p := r.URL.Query().Get("partial"); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "partial must be an integer", Code: "Invalid"})
				return
			}
			partial = n
		}
		out, err := ledger.ListActivities(r.Context(), chi.URLParam(r, "sectionID"), partial)
		if err != nil {
			writeError(w, log, err)
			return
		}
		if out == nil {
			out = []bitacora.Activity{}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// PUT /activities/{activityID}/scores
// Body: [{"enrollment_id": "...", "score": 8.5}, ...] on the activity's
// source scale. The batch is applied all-or-nothing.
func UpsertScoresHandler(ledger *bitacora.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rows []bitacora.ScoreInput
		if !decode(w, r, &rows) {
			return
		}
		n, err := ledger.BulkUpsertScores(r.Context(), chi.URLParam(r, "activityID"), rows)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"updated": n})
	}
}

// PUT /sections/{sectionID}/weights
func SetWeightsHandler(ledger *bitacora.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cw bitacora.ComponentWeights
		if !decode(w, r, &cw) {
			return
		}
		cw.SectionID = chi.URLParam(r, "sectionID")
		if err := ledger.SetComponentWeights(r.Context(), cw); err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, cw)
	}
}

// PUT /sections/{sectionID}/final-exam
func SetFinalExamScoreHandler(ledger *bitacora.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			EnrollmentID string   `json:"enrollment_id"`
			Score        *float64 `json:"score"`
		}
		if !decode(w, r, &req) {
			return
		}
		if err := ledger.SetFinalExamScore(r.Context(), chi.URLParam(r, "sectionID"), req.EnrollmentID, req.Score); err != nil {
			writeError(w, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// gradeTarget reads enrollment_id and section_id and applies the own-grades
// restriction for callers without grades:view.
func gradeTarget(w http.ResponseWriter, r *http.Request, c *rbac.Checker) (enrollmentID, sectionID string, ok bool) {
	q := r.URL.Query()
	enrollmentID, sectionID = q.Get("enrollment_id"), q.Get("section_id")
	if enrollmentID == "" || sectionID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "enrollment_id and section_id are required", Code: "Invalid"})
		return "", "", false
	}
	if !c.Allowed(r, "grades:view") && rbac.SubjectFromContext(r.Context()) != enrollmentID {
		forbidden(w, "grades belong to another enrollment")
		return "", "", false
	}
	return enrollmentID, sectionID, true
}

// GET /grades/partial?enrollment_id=&section_id=&partial=
func PartialGradeHandler(ledger *bitacora.Service, c *rbac.Checker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enrollmentID, sectionID, ok := gradeTarget(w, r, c)
		if !ok {
			return
		}
		partial, err := strconv.Atoi(r.URL.Query().Get("partial"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "partial must be an integer", Code: "Invalid"})
			return
		}
		res, err := ledger.ComputePartialGrade(r.Context(), enrollmentID, sectionID, partial)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /grades/semester?enrollment_id=&section_id=
func SemesterGradeHandler(ledger *bitacora.Service, c *rbac.Checker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enrollmentID, sectionID, ok := gradeTarget(w, r, c)
		if !ok {
			return
		}
		res, err := ledger.ComputeSemesterGrade(r.Context(), enrollmentID, sectionID)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
