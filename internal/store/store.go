// Package store holds the authoritative set of search sessions.
//
// Every mutation commits to memory first and then rewrites the durable
// snapshot through a Persister. Persistence failures are logged and never
// surface to callers; in-memory state stays authoritative for the process
// lifetime. Merges on one session are serialized, merges on different
// sessions proceed independently.
package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/raphaelgruber/maigret-api/internal/metrics"
	"github.com/raphaelgruber/maigret-api/internal/models"
)

// RestartError is the failure message given to sessions that were still
// active when the process stopped.
const RestartError = "interrupted by server restart"

// Store is the concurrent session registry.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
	locks    map[string]*sync.Mutex

	saveMu    sync.Mutex
	persister Persister
	logger    *slog.Logger
	metrics   *metrics.Collector

	loadTimeout time.Duration
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics records persistence timings into c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Store) { s.metrics = c }
}

// WithLoadTimeout bounds how long Load retries a failing persister.
func WithLoadTimeout(d time.Duration) Option {
	return func(s *Store) { s.loadTimeout = d }
}

// WithClock overrides the time source used for completion stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store. A nil persister keeps everything in memory.
func New(p Persister, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		sessions:    make(map[string]models.Session),
		locks:       make(map[string]*sync.Mutex),
		persister:   p,
		logger:      logger,
		loadTimeout: 10 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces in-memory state with the durable snapshot.
// Transient persister errors are retried with exponential backoff. A corrupt
// or newer-format snapshot fails at once.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	var snap Snapshot
	operation := func() error {
		var err error
		snap, err = s.persister.Load(ctx)
		switch {
		case errors.Is(err, ErrCorruptSnapshot):
			return backoff.Permanent(err)
		case err != nil:
			s.logger.Warn("loading sessions failed, retrying", "error", err)
			return err
		case snap.Version > SnapshotVersion:
			return backoff.Permanent(fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Version))
		}
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 200 * time.Millisecond
	expBackoff.MaxElapsedTime = s.loadTimeout
	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		return fmt.Errorf("load sessions: %w", err)
	}

	s.mu.Lock()
	s.sessions = make(map[string]models.Session, len(snap.Sessions))
	for id, sess := range snap.Sessions {
		if sess.ID == "" {
			sess.ID = id
		}
		s.sessions[id] = sess.Clone()
	}
	s.mu.Unlock()

	s.logger.Info("loaded sessions", "count", len(snap.Sessions))
	return nil
}

// Create inserts a new session.
func (s *Store) Create(ctx context.Context, sess models.Session) (models.Session, error) {
	if sess.ID == "" {
		return models.Session{}, fmt.Errorf("create session: empty id")
	}
	if sess.Status == "" {
		sess.Status = models.StatusPending
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now()
	}

	s.mu.Lock()
	if _, ok := s.sessions[sess.ID]; ok {
		s.mu.Unlock()
		return models.Session{}, fmt.Errorf("%w: %s", ErrAlreadyExists, sess.ID)
	}
	s.sessions[sess.ID] = sess.Clone()
	s.mu.Unlock()

	s.persist(ctx)
	return sess.Clone(), nil
}

// Get returns a copy of the session.
func (s *Store) Get(id string) (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return models.Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess.Clone(), nil
}

// List returns copies of all sessions, newest first.
func (s *Store) List() []models.Session {
	s.mu.RLock()
	out := make([]models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.Session) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Merge applies patch to the session and returns the committed record.
// Fields absent from the patch keep their current values.
func (s *Store) Merge(ctx context.Context, id string, patch models.Patch) (models.Session, error) {
	lock, err := s.lockFor(id)
	if err != nil {
		return models.Session{}, err
	}
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	cur, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return models.Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next, err := s.normalize(cur, patch.Apply(cur))
	if err != nil {
		return models.Session{}, err
	}

	s.mu.Lock()
	s.sessions[id] = next.Clone()
	s.mu.Unlock()

	s.persist(ctx)
	return next, nil
}

// FailActive marks every pending or running session as failed.
// It returns the identifiers that were changed.
func (s *Store) FailActive(ctx context.Context, message string) []string {
	var ids []string
	for _, sess := range s.List() {
		if sess.Status.Terminal() {
			continue
		}
		_, err := s.Merge(ctx, sess.ID, models.Patch{
			Status: models.Ptr(models.StatusFailed),
			Error:  models.Ptr(message),
		})
		if err != nil {
			s.logger.Warn("failed to mark session failed", "session_id", sess.ID, "error", err)
			continue
		}
		ids = append(ids, sess.ID)
	}
	return ids
}

// Close releases the persister.
func (s *Store) Close() error {
	if s.persister == nil {
		return nil
	}
	return s.persister.Close()
}

func (s *Store) lockFor(id string) (*sync.Mutex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l, nil
}

// normalize enforces lifecycle and counter invariants on a merged record.
func (s *Store) normalize(cur, next models.Session) (models.Session, error) {
	if cur.Status.Terminal() {
		return models.Session{}, fmt.Errorf("%w: %s is %s", ErrTerminal, cur.ID, cur.Status)
	}
	if !cur.Status.CanTransition(next.Status) {
		return models.Session{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, next.Status)
	}

	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt

	next.Progress = max(0, min(100, next.Progress))
	if next.Status == models.StatusRunning && next.Progress < cur.Progress {
		next.Progress = cur.Progress
	}

	switch next.Status {
	case models.StatusCompleted:
		next.Progress = 100
	default:
		next.Progress = min(next.Progress, 99)
	}

	next.TotalSites = max(0, next.TotalSites)
	next.SitesChecked = max(0, next.SitesChecked)
	next.ResultsFound = max(0, next.ResultsFound)
	if next.TotalSites > 0 && next.SitesChecked > next.TotalSites {
		next.SitesChecked = next.TotalSites
	}

	if next.Status.Terminal() && next.CompletedAt == nil {
		t := s.now()
		next.CompletedAt = &t
	}
	return next, nil
}

// persist writes the full snapshot. Errors are logged, never returned.
func (s *Store) persist(ctx context.Context) {
	if s.persister == nil {
		return
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	snap := Snapshot{
		Version:  SnapshotVersion,
		SavedAt:  s.now(),
		Sessions: make(map[string]models.Session, len(s.sessions)),
	}
	for id, sess := range s.sessions {
		snap.Sessions[id] = sess.Clone()
	}
	s.mu.RUnlock()

	start := time.Now()
	if err := s.persister.Save(context.WithoutCancel(ctx), snap); err != nil {
		s.metrics.RecordPersistError()
		s.logger.Error("failed to persist sessions", "error", err, "count", len(snap.Sessions))
		return
	}
	s.metrics.RecordTiming(metrics.OpPersist, time.Since(start))
}
