// Package service provides the public entry points for search sessions.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/raphaelgruber/maigret-api/internal/models"
	"github.com/raphaelgruber/maigret-api/internal/store"
)

// Launcher executes one session to a terminal state.
type Launcher interface {
	Run(ctx context.Context, sess models.Session)
}

// Supervisor creates sessions, launches their runners and answers queries.
type Supervisor struct {
	store    *store.Store
	launcher Launcher
	validate *validator.Validate
	logger   *slog.Logger
	newID    func() string

	wg sync.WaitGroup
}

// NewSupervisor creates a supervisor over st that runs jobs with launcher.
func NewSupervisor(st *store.Store, launcher Launcher, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)

	return &Supervisor{
		store:    st,
		launcher: launcher,
		validate: v,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// Submit validates req, creates a pending session and starts its runner in
// the background. It returns as soon as the session exists.
func (s *Supervisor) Submit(ctx context.Context, req models.SearchRequest) (models.Session, error) {
	req.Usernames = trimAll(req.Usernames)
	if err := s.validate.Struct(req); err != nil {
		return models.Session{}, fmt.Errorf("%w: %s", ErrInvalidRequest, describeValidation(err))
	}

	sess, err := s.store.Create(ctx, models.Session{
		ID:        s.newID(),
		Usernames: req.Usernames,
		Options:   req.Options.WithDefaults(),
		Status:    models.StatusPending,
	})
	if err != nil {
		return models.Session{}, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("search submitted", "session_id", sess.ID, "usernames", sess.Usernames)

	// The job outlives the request that started it.
	jobCtx := context.WithoutCancel(ctx)
	job := sess.Clone()
	s.wg.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("search goroutine panicked", "session_id", job.ID, "panic", r)
				_, _ = s.store.Merge(jobCtx, job.ID, models.Patch{
					Status: models.Ptr(models.StatusFailed),
					Error:  models.Ptr(fmt.Sprintf("internal panic: %v", r)),
				})
			}
		}()
		s.launcher.Run(jobCtx, job)
	})

	return sess, nil
}

// Session returns the full record for id.
func (s *Supervisor) Session(id string) (models.Session, error) {
	sess, err := s.store.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, err
}

// Status returns the point-in-time status of id.
func (s *Supervisor) Status(id string) (models.StatusView, error) {
	sess, err := s.Session(id)
	if err != nil {
		return models.StatusView{}, err
	}
	return sess.View(), nil
}

// Results returns the completed session, or ErrNotReady while it is still
// pending, running or failed.
func (s *Supervisor) Results(id string) (models.Session, error) {
	sess, err := s.Session(id)
	if err != nil {
		return models.Session{}, err
	}
	if sess.Status != models.StatusCompleted {
		return models.Session{}, fmt.Errorf("%w: %s is %s", ErrNotReady, id, sess.Status)
	}
	return sess, nil
}

// List returns all sessions, newest first.
func (s *Supervisor) List() []models.Session {
	return s.store.List()
}

// RecoverInterrupted fails sessions left active by a previous process.
// Jobs are not resumed: the external process is gone.
func (s *Supervisor) RecoverInterrupted(ctx context.Context) []string {
	ids := s.store.FailActive(ctx, store.RestartError)
	if len(ids) > 0 {
		s.logger.Warn("marked interrupted sessions failed", "count", len(ids))
	}
	return ids
}

// Wait blocks until every launched job has finished or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// describeValidation turns validator errors into one readable line.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "SearchRequest.")
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
