package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mind-engage/bitacora/internal/attempt"
	"github.com/mind-engage/bitacora/internal/bitacora"
	"github.com/mind-engage/bitacora/internal/config"
	"github.com/mind-engage/bitacora/internal/db"
	"github.com/mind-engage/bitacora/internal/exam"
	"github.com/mind-engage/bitacora/internal/grading"
	"github.com/mind-engage/bitacora/internal/logging"
	"github.com/mind-engage/bitacora/internal/metrics"
	"github.com/mind-engage/bitacora/internal/question"
	"github.com/mind-engage/bitacora/internal/syncx"
)

// app holds the wired services shared by the subcommands.
type app struct {
	cfg     config.Config
	log     *zap.Logger
	conn    *sql.DB
	metrics *metrics.Metrics
	events  *syncx.EventRepo

	questions question.Store
	exams     *exam.Service
	attempts  *attempt.Service
	bitacora  *bitacora.Service
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	v, err := config.NewViper(cmd.Flags())
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(v)
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return nil, err
	}
	driver, err := db.ParseDriver(cfg.DBDriver)
	if err != nil {
		return nil, err
	}

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := db.Open(openCtx, driver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	m := metrics.New()
	events := syncx.NewEventRepo(conn, cfg.SiteID)
	questions := question.NewSQLStore(conn)
	exams := exam.NewService(exam.NewSQLStore(conn), questions, log,
		exam.WithDefaultTotalPoints(cfg.TotalPoints))
	grader := grading.NewDefaultGrader(
		grading.WithPartialMulti(cfg.PartialMulti),
		grading.WithOrderingLCS(cfg.OrderingLCS),
		grading.WithMaxEditDistance(cfg.MaxEditDistance),
	)
	attempts := attempt.NewService(attempt.NewSQLStore(conn, driver), exams,
		attempt.WithGrader(grader),
		attempt.WithMetrics(m),
		attempt.WithEvents(events),
		attempt.WithLogger(log),
	)
	ledger := bitacora.NewService(bitacora.NewSQLStore(conn),
		bitacora.WithPolicy(bitacora.PartialPolicy(cfg.PartialPolicy)),
		bitacora.WithStrict(cfg.StrictWeights),
		bitacora.WithExamScores(attempts),
		bitacora.WithBlueprints(exams),
		bitacora.WithEvents(events),
		bitacora.WithLogger(log),
	)

	log.Info("database ready", zap.String("driver", string(driver)))
	return &app{
		cfg: cfg, log: log, conn: conn, metrics: m, events: events,
		questions: questions, exams: exams, attempts: attempts, bitacora: ledger,
	}, nil
}

func (a *app) Close() error {
	_ = a.log.Sync()
	return a.conn.Close()
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	a.log.Info("schema up to date")
	return nil
}

func runExpire(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	n, err := a.attempts.ExpireOverdue(cmd.Context())
	if err != nil {
		return err
	}
	a.log.Info("overdue attempts expired", zap.Int("count", n))
	return nil
}

// sweep runs ExpireOverdue every interval until ctx is done.
func (a *app) sweep(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := a.attempts.ExpireOverdue(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				a.log.Info("swept overdue attempts", zap.Int("count", n))
			}
		}
	}
}
