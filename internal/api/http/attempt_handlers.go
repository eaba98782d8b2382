package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mind-engage/bitacora/internal/attempt"
	"github.com/mind-engage/bitacora/internal/rbac"
)

// owns reports whether the caller may act on enrollmentID's attempts.
// Reviewers (attempt:grade) may act on any; students only on their own.
func owns(c *rbac.Checker, r *http.Request, enrollmentID string) bool {
	if c.Allowed(r, "attempt:grade") {
		return true
	}
	sub := rbac.SubjectFromContext(r.Context())
	return sub != "" && sub == enrollmentID
}

// ownedAttempt loads the attempt behind {attemptID} and checks ownership,
// writing the error response itself when it returns false.
func ownedAttempt(w http.ResponseWriter, r *http.Request, attempts *attempt.Service, c *rbac.Checker,
	log *zap.Logger) (attempt.Attempt, bool) {
	a, err := attempts.Attempt(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		writeError(w, log, err)
		return attempt.Attempt{}, false
	}
	if !owns(c, r, a.EnrollmentID) {
		forbidden(w, "attempt belongs to another enrollment")
		return attempt.Attempt{}, false
	}
	return a, true
}

// POST /attempts
func StartAttemptHandler(attempts *attempt.Service, c *rbac.Checker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			BlueprintID  string `json:"blueprint_id"`
			EnrollmentID string `json:"enrollment_id"`
		}
		if !decode(w, r, &req) {
			return
		}
		if req.EnrollmentID == "" {
			req.EnrollmentID = rbac.SubjectFromContext(r.Context())
		}
		if !owns(c, r, req.EnrollmentID) {
			forbidden(w, "cannot start an attempt for another enrollment")
			return
		}
		res, err := attempts.Start(r.Context(), req.BlueprintID, req.EnrollmentID)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

// GET /attempts/{attemptID}
func GetAttemptHandler(attempts *attempt.Service, c *rbac.Checker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := ownedAttempt(w, r, attempts, c, log)
		if !ok {
			return
		}
		v, err := attempts.Get(r.Context(), a.ID)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// PUT /attempts/{attemptID}/responses/{questionID}
// The body is the raw answer payload.
func RecordResponseHandler(attempts *attempt.Service, c *rbac.Checker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := ownedAttempt(w, r, attempts, c, log)
		if !ok {
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "read body: " + err.Error(), Code: "Invalid"})
			return
		}
		resp, err := attempts.RecordResponse(r.Context(), a.ID, chi.URLParam(r, "questionID"), json.RawMessage(body))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// POST /attempts/{attemptID}/submit
func SubmitAttemptHandler(attempts *attempt.Service, c *rbac.Checker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := ownedAttempt(w, r, attempts, c, log)
		if !ok {
			return
		}
		res, err := attempts.Submit(r.Context(), a.ID)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// POST /attempts/{attemptID}/void
func VoidAttemptHandler(attempts *attempt.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Reason string `json:"reason"`
		}
		if !decode(w, r, &req) {
			return
		}
		a, err := attempts.Void(r.Context(), chi.URLParam(r, "attemptID"), strings.TrimSpace(req.Reason))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

// POST /responses/{responseID}/grade
func GradeResponseHandler(attempts *attempt.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req attempt.ManualGrade
		if !decode(w, r, &req) {
			return
		}
		res, err := attempts.GradeManual(r.Context(), chi.URLParam(r, "responseID"), req)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
