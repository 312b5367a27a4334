package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mahaon-tools/catalog-crawler/internal/cancel"
	"github.com/mahaon-tools/catalog-crawler/internal/catalog"
)

// ErrNotAwaiting is returned when confirm or decline targets a session
// that is not paused at the confirmation gate.
var ErrNotAwaiting = errors.New("session is not awaiting confirmation")

// Service is the session-facing API: it creates sessions, runs them on
// background goroutines and routes confirmation and cancellation to the
// right run. One goroutine per active session.
type Service struct {
	runner   *Runner
	sessions catalog.SessionStore
	registry *cancel.Registry
	ids      catalog.IDGenerator
	logger   *zap.Logger

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup
}

// NewService constructs a Service. Background runs live on a context
// owned by the service and are released by Close.
func NewService(runner *Runner, sessions catalog.SessionStore, registry *cancel.Registry, ids catalog.IDGenerator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancelAll := context.WithCancel(context.Background())
	return &Service{
		runner:    runner,
		sessions:  sessions,
		registry:  registry,
		ids:       ids,
		logger:    logger,
		baseCtx:   ctx,
		cancelAll: cancelAll,
	}
}

// Start creates a session and launches its run in the background. The
// returned id is immediately pollable via Status.
func (s *Service) Start(ctx context.Context, params catalog.RunParams) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("new session id: %w", err)
	}

	// The first row is written synchronously so a poll right after Start
	// never sees a missing session.
	if err := s.sessions.SaveStatus(ctx, id, catalog.StatusCollectingURLs, nil, catalog.ProgressCollectingURLs, params.Category); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	token := s.registry.Register(id)
	s.spawn(id, func(runCtx context.Context) catalog.Report {
		return s.runner.Run(runCtx, id, params, token)
	})
	return id, nil
}

// Confirm resumes a session paused at the confirmation gate.
func (s *Service) Confirm(ctx context.Context, id string) error {
	sess, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status != catalog.StatusAwaitingConfirm {
		return ErrNotAwaiting
	}

	token := s.registry.Register(id)
	s.spawn(id, func(runCtx context.Context) catalog.Report {
		return s.runner.Resume(runCtx, id, token)
	})
	return nil
}

// Decline cancels a session paused at the confirmation gate. Nothing was
// written yet, so this only flips the state and emits the event.
func (s *Service) Decline(ctx context.Context, id string) error {
	sess, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status != catalog.StatusAwaitingConfirm {
		return ErrNotAwaiting
	}

	report := s.runner.cancel(ctx, id, sess.CategoryName, catalog.Counters{}, s.logger.With(zap.String("session_id", id)))
	s.registry.Remove(id)
	s.logger.Info("session declined", zap.String("session_id", id), zap.String("status", string(report.Status)))
	return nil
}

// Cancel requests cancellation of a session. A running session observes
// the flag at its next checkpoint; a gated session is finalized here.
// Terminal sessions reject the request.
func (s *Service) Cancel(ctx context.Context, id string) error {
	sess, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return catalog.ErrTerminalState
	}
	if sess.Status == catalog.StatusAwaitingConfirm {
		s.runner.cancel(ctx, id, sess.CategoryName, catalog.Counters{}, s.logger.With(zap.String("session_id", id)))
		s.registry.Remove(id)
		return nil
	}

	s.registry.Cancel(id)
	s.logger.Info("cancellation requested", zap.String("session_id", id))
	return nil
}

// Status returns the poller-facing view of a session.
func (s *Service) Status(ctx context.Context, id string) (catalog.StatusInfo, error) {
	sess, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return catalog.StatusInfo{}, err
	}
	return catalog.StatusInfo{
		SessionID:    sess.ID,
		Status:       sess.Status,
		PendingCount: len(sess.PendingURLs),
		Progress:     sess.Progress,
	}, nil
}

// Close stops accepting work and waits for in-flight runs to settle at a
// terminal state.
func (s *Service) Close() {
	s.cancelAll()
	s.wg.Wait()
}

// spawn runs fn on a background goroutine and releases the session's
// cancellation handle once the run settles. Gated runs keep the handle
// so a later Cancel still finds it.
func (s *Service) spawn(id string, fn func(context.Context) catalog.Report) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		report := fn(s.baseCtx)
		if report.Status.Terminal() {
			s.registry.Remove(id)
		}
		s.logger.Debug("session run settled",
			zap.String("session_id", id),
			zap.String("status", string(report.Status)),
			zap.Bool("awaiting", report.Awaiting),
		)
	}()
}
