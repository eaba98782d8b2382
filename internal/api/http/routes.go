package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Mount registers the API routes on r. Callers install authentication
// before mounting; each route checks its own permission.
func (h *Handlers) Mount(r chi.Router) {
	c, log := h.checker(), h.log()

	// Question bank
	r.With(c.Require("question:author")).Post("/questions", CreateQuestionHandler(h.Questions, log))
	r.With(c.Require("question:author")).Post("/questions/{questionID}/revise", ReviseQuestionHandler(h.Questions, log))
	r.With(c.Require("question:review")).Post("/questions/{questionID}/status", SetQuestionStatusHandler(h.Questions, log))
	r.With(c.Require("question:view")).Get("/questions/{questionID}", GetQuestionHandler(h.Questions, log))

	// Exam composition
	r.With(c.Require("exam:create")).Post("/blueprints", CreateBlueprintHandler(h.Exams, log))
	r.With(c.Require("exam:view")).Get("/blueprints", ListBlueprintsHandler(h.Exams, log))
	r.With(c.Require("exam:view")).Get("/blueprints/{blueprintID}", GetBlueprintHandler(h.Exams, log))
	r.With(c.Require("exam:assemble")).Post("/blueprints/{blueprintID}/assemble", AssembleExamHandler(h.Exams, log))
	r.With(c.Require("exam:manage")).Post("/blueprints/{blueprintID}/status", TransitionBlueprintHandler(h.Exams, log))

	// Attempt lifecycle
	r.With(c.Require("attempt:create")).Post("/attempts", StartAttemptHandler(h.Attempts, c, log))
	r.With(c.Require("attempt:view")).Get("/attempts/{attemptID}", GetAttemptHandler(h.Attempts, c, log))
	r.With(c.Require("attempt:save")).Put("/attempts/{attemptID}/responses/{questionID}",
		RecordResponseHandler(h.Attempts, c, log))
	r.With(c.Require("attempt:submit")).Post("/attempts/{attemptID}/submit", SubmitAttemptHandler(h.Attempts, c, log))
	r.With(c.Require("attempt:void")).Post("/attempts/{attemptID}/void", VoidAttemptHandler(h.Attempts, log))
	r.With(c.Require("attempt:grade")).Post("/responses/{responseID}/grade", GradeResponseHandler(h.Attempts, log))

	// Bitácora
	r.With(c.Require("scores:write")).Post("/activities", CreateActivityHandler(h.Bitacora, log))
	r.With(c.Require("scores:write")).Put("/activities/{activityID}/scores", UpsertScoresHandler(h.Bitacora, log))
	r.With(c.Require("grades:view")).Get("/sections/{sectionID}/activities", ListActivitiesHandler(h.Bitacora, log))
	r.With(c.Require("scores:write")).Put("/sections/{sectionID}/weights", SetWeightsHandler(h.Bitacora, log))
	r.With(c.Require("scores:write")).Put("/sections/{sectionID}/final-exam", SetFinalExamScoreHandler(h.Bitacora, log))
	r.With(c.RequireAny("grades:view", "grades:view-own")).Get("/grades/partial", PartialGradeHandler(h.Bitacora, c, log))
	r.With(c.RequireAny("grades:view", "grades:view-own")).Get("/grades/semester", SemesterGradeHandler(h.Bitacora, c, log))

	if h.Events != nil {
		r.With(c.Require("events:view")).Get("/events", ListEventsHandler(h.Events, log))
	}
}

// Health answers liveness probes.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
