package http

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mind-engage/bitacora/internal/syncx"
)

const maxEventPage = 500

// GET /events?after=&key=&limit=
func ListEventsHandler(events EventSource, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		after, _ := strconv.ParseInt(q.Get("after"), 10, 64)
		limit, _ := strconv.Atoi(q.Get("limit"))
		if limit <= 0 || limit > maxEventPage {
			limit = maxEventPage
		}
		events, err := events.Since(r.Context(), after, q.Get("key"), limit)
		if err != nil {
			writeError(w, log, err)
			return
		}
		if events == nil {
			events = []syncx.Event{}
		}
		writeJSON(w, http.StatusOK, events)
	}
}
