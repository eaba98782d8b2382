package http

import (
	"context"

	"go.uber.org/zap"

	"github.com/mind-engage/bitacora/internal/attempt"
	"github.com/mind-engage/bitacora/internal/bitacora"
	"github.com/mind-engage/bitacora/internal/exam"
	"github.com/mind-engage/bitacora/internal/question"
	"github.com/mind-engage/bitacora/internal/rbac"
	"github.com/mind-engage/bitacora/internal/syncx"
)

// EventSource serves the change feed.
type EventSource interface {
	Since(ctx context.Context, after int64, key string, limit int) ([]syncx.Event, error)
}

// Handlers bundles the services Mount wires into the handler factories.
type Handlers struct {
	Questions question.Store
	Exams     *exam.Service
	Attempts  *attempt.Service
	Bitacora  *bitacora.Service
	Events    EventSource
	Checker   *rbac.Checker
	Log       *zap.Logger
}

func (h *Handlers) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func (h *Handlers) checker() *rbac.Checker {
	if h.Checker == nil {
		return rbac.NewChecker(nil)
	}
	return h.Checker
}
