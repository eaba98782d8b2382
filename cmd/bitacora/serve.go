package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	api "github.com/mind-engage/bitacora/internal/api/http"
	"github.com/mind-engage/bitacora/internal/auth"
	"github.com/mind-engage/bitacora/internal/logging"
	"github.com/mind-engage/bitacora/internal/rbac"
)

func (a *app) router() (http.Handler, error) {
	if a.cfg.JWTSecret == "" {
		return nil, errors.New("jwt-secret is required to serve the API")
	}
	authSvc := auth.NewService(a.cfg.JWTSecret, a.cfg.JWTIssuer)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, logging.Middleware(a.log), middleware.Recoverer)
	r.Use(a.metrics.Middleware)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", api.Health)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	h := &api.Handlers{
		Questions: a.questions,
		Exams:     a.exams,
		Attempts:  a.attempts,
		Bitacora:  a.bitacora,
		Events:    a.events,
		Checker:   rbac.NewChecker(nil),
		Log:       a.log.Named("api"),
	}
	r.Route("/api", func(pr chi.Router) {
		pr.Use(authSvc.Middleware)
		h.Mount(pr)
	})
	return r, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	handler, err := a.router()
	if err != nil {
		return err
	}
	if a.cfg.SweepInterval > 0 {
		go a.sweep(ctx, a.cfg.SweepInterval)
	}

	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.log.Info("listening", zap.String("addr", a.cfg.Addr), zap.String("db", a.cfg.DBDriver),
			zap.Duration("sweep_interval", a.cfg.SweepInterval), zap.String("partial_policy", a.cfg.PartialPolicy))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
