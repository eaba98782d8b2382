package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mind-engage/bitacora/internal/exam"
	"github.com/mind-engage/bitacora/internal/question"
	"github.com/mind-engage/bitacora/internal/rbac"
)

// POST /questions
func CreateQuestionHandler(store question.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var v question.Version
		if !decode(w, r, &v) {
			return
		}
		v.AuthorID = rbac.SubjectFromContext(r.Context())
		v.Status = question.StatusDraft
		out, err := store.Put(r.Context(), v)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

// POST /questions/{questionID}/revise
func ReviseQuestionHandler(store question.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var v question.Version
		if !decode(w, r, &v) {
			return
		}
		v.AuthorID = rbac.SubjectFromContext(r.Context())
		out, err := store.Revise(r.Context(), chi.URLParam(r, "questionID"), v)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

// POST /questions/{questionID}/status
func SetQuestionStatusHandler(store question.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Status question.Status `json:"status"`
		}
		if !decode(w, r, &req) {
			return
		}
		id := chi.URLParam(r, "questionID")
		if err := store.SetStatus(r.Context(), id, req.Status); err != nil {
			writeError(w, log, err)
			return
		}
		v, err := store.Get(r.Context(), id)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// GET /questions/{questionID}
func GetQuestionHandler(store question.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := store.Get(r.Context(), chi.URLParam(r, "questionID"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// POST /blueprints
func CreateBlueprintHandler(exams *exam.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var bp exam.Blueprint
		if !decode(w, r, &bp) {
			return
		}
		out, err := exams.CreateBlueprint(r.Context(), bp)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

// GET /blueprints?section_id=&subject_id=&status=&limit=&offset=
func ListBlueprintsHandler(exams *exam.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))
		out, err := exams.List(r.Context(), exam.ListOpts{
			SectionID: q.Get("section_id"),
			SubjectID: q.Get("subject_id"),
			Status:    exam.Status(q.Get("status")),
			Limit:     limit,
			Offset:    offset,
		})
		if err != nil {
			writeError(w, log, err)
			return
		}
		if out == nil {
			out = []exam.Blueprint{}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GET /blueprints/{blueprintID}
func GetBlueprintHandler(exams *exam.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bp, err := exams.Blueprint(r.Context(), chi.URLParam(r, "blueprintID"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, bp)
	}
}

// POST /blueprints/{blueprintID}/assemble
func AssembleExamHandler(exams *exam.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := exams.AssembleExam(r.Context(), chi.URLParam(r, "blueprintID"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// POST /blueprints/{blueprintID}/status
func TransitionBlueprintHandler(exams *exam.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Status exam.Status `json:"status"`
		}
		if !decode(w, r, &req) {
			return
		}
		bp, err := exams.Transition(r.Context(), chi.URLParam(r, "blueprintID"), req.Status)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, bp)
	}
}
