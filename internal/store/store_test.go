package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/maigret-api/internal/metrics"
	"github.com/raphaelgruber/maigret-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memPersister records every saved snapshot in order.
type memPersister struct {
	mu      sync.Mutex
	saves   []Snapshot
	saveErr error
	loadErr error
	loads   int
	initial Snapshot
}

func (p *memPersister) Load(context.Context) (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads++
	if p.loadErr != nil {
		return Snapshot{}, p.loadErr
	}
	if p.initial.Sessions == nil {
		return EmptySnapshot(), nil
	}
	return p.initial, nil
}

func (p *memPersister) Save(_ context.Context, snap Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	p.saves = append(p.saves, snap)
	return nil
}

func (p *memPersister) Close() error { return nil }

func (p *memPersister) last() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves[len(p.saves)-1]
}

func newTestStore(t *testing.T, p Persister, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(p, quietLogger(), opts...)
}

func mustCreate(t *testing.T, s *Store, id string) models.Session {
	t.Helper()
	sess, err := s.Create(context.Background(), models.Session{
		ID:        id,
		Usernames: []string{"alice"},
		Options:   models.Options{}.WithDefaults(),
	})
	require.NoError(t, err)
	return sess
}

func startRunning(t *testing.T, s *Store, id string) {
	t.Helper()
	_, err := s.Merge(context.Background(), id, models.Patch{Status: models.Ptr(models.StatusRunning)})
	require.NoError(t, err)
}

func TestStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t, nil)

	created := mustCreate(t, s, "abc")
	assert.Equal(t, models.StatusPending, created.Status)
	assert.Equal(t, testNow, created.CreatedAt)
	assert.Zero(t, created.Progress)

	got, err := s.Get("abc")
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = s.Create(context.Background(), models.Session{ID: "abc"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := newTestStore(t, nil)
	mustCreate(t, s, "abc")

	got, err := s.Get("abc")
	require.NoError(t, err)
	got.Usernames[0] = "mallory"
	got.Progress = 50

	again, err := s.Get("abc")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, again.Usernames)
	assert.Zero(t, again.Progress)
}

func TestStore_MergeUnknown(t *testing.T) {
	s := newTestStore(t, nil)
	_, err := s.Merge(context.Background(), "nope", models.Patch{Progress: models.Ptr(10)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_MergeKeepsAbsentFields(t *testing.T) {
	s := newTestStore(t, nil)
	mustCreate(t, s, "abc")
	startRunning(t, s, "abc")

	ctx := context.Background()
	_, err := s.Merge(ctx, "abc", models.Patch{CurrentSite: models.Ptr("GitHub"), TotalSites: models.Ptr(10)})
	require.NoError(t, err)

	merged, err := s.Merge(ctx, "abc", models.Patch{SitesChecked: models.Ptr(3)})
	require.NoError(t, err)
	assert.Equal(t, "GitHub", merged.CurrentSite)
	assert.Equal(t, 10, merged.TotalSites)
	assert.Equal(t, 3, merged.SitesChecked)
	assert.Equal(t, models.StatusRunning, merged.Status)
}

func TestStore_TerminalIsImmutable(t *testing.T) {
	for _, final := range []models.Status{models.StatusCompleted, models.StatusFailed} {
		t.Run(string(final), func(t *testing.T) {
			s := newTestStore(t, nil)
			mustCreate(t, s, "abc")
			startRunning(t, s, "abc")

			done, err := s.Merge(context.Background(), "abc", models.Patch{Status: models.Ptr(final)})
			require.NoError(t, err)
			require.NotNil(t, done.CompletedAt)

			_, err = s.Merge(context.Background(), "abc", models.Patch{Progress: models.Ptr(5)})
			assert.ErrorIs(t, err, ErrTerminal)

			got, err := s.Get("abc")
			require.NoError(t, err)
			assert.Equal(t, done, got)
		})
	}
}

func TestStore_InvalidTransitions(t *testing.T) {
	s := newTestStore(t, nil)
	mustCreate(t, s, "abc")

	_, err := s.Merge(context.Background(), "abc", models.Patch{Status: models.Ptr(models.StatusCompleted)})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	startRunning(t, s, "abc")
	_, err = s.Merge(context.Background(), "abc", models.Patch{Status: models.Ptr(models.StatusPending)})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStore_ProgressRules(t *testing.T) {
	s := newTestStore(t, nil)
	mustCreate(t, s, "abc")
	startRunning(t, s, "abc")
	ctx := context.Background()

	got, err := s.Merge(ctx, "abc", models.Patch{Progress: models.Ptr(40)})
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)

	got, err = s.Merge(ctx, "abc", models.Patch{Progress: models.Ptr(20)})
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress, "running progress never decreases")

	got, err = s.Merge(ctx, "abc", models.Patch{Progress: models.Ptr(100)})
	require.NoError(t, err)
	assert.Equal(t, 99, got.Progress, "only completion reaches 100")

	got, err = s.Merge(ctx, "abc", models.Patch{Status: models.Ptr(models.StatusCompleted)})
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, testNow, *got.CompletedAt)
}

func TestStore_SitesCheckedClampedToTotal(t *testing.T) {
	s := newTestStore(t, nil)
	mustCreate(t, s, "abc")
	startRunning(t, s, "abc")

	got, err := s.Merge(context.Background(), "abc", models.Patch{
		TotalSites:   models.Ptr(10),
		SitesChecked: models.Ptr(15),
		ResultsFound: models.Ptr(-1),
	})
	require.NoError(t, err)
	assert.Equal(t, 10, got.SitesChecked)
	assert.Zero(t, got.ResultsFound)
}

func TestStore_ConcurrentMergesDisjointFields(t *testing.T) {
	p := &memPersister{}
	s := newTestStore(t, p)
	mustCreate(t, s, "abc")
	startRunning(t, s, "abc")

	patches := []models.Patch{
		{CurrentSite: models.Ptr("GitHub")},
		{TotalSites: models.Ptr(100)},
		{ResultsFound: models.Ptr(7)},
		{Progress: models.Ptr(33)},
	}

	var wg sync.WaitGroup
	for _, patch := range patches {
		wg.Go(func() {
			_, err := s.Merge(context.Background(), "abc", patch)
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	got, err := s.Get("abc")
	require.NoError(t, err)
	assert.Equal(t, "GitHub", got.CurrentSite)
	assert.Equal(t, 100, got.TotalSites)
	assert.Equal(t, 7, got.ResultsFound)
	assert.Equal(t, 33, got.Progress)

	assert.Equal(t, got, p.last().Sessions["abc"], "the last snapshot holds the final record")
}

func TestStore_ConcurrentMergesSameField(t *testing.T) {
	p := &memPersister{}
	s := newTestStore(t, p)
	mustCreate(t, s, "abc")
	startRunning(t, s, "abc")

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			_, err := s.Merge(context.Background(), "abc", models.Patch{CurrentSite: models.Ptr(fmt.Sprintf("site-%d", i))})
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	got, err := s.Get("abc")
	require.NoError(t, err)
	assert.Equal(t, got.CurrentSite, p.last().Sessions["abc"].CurrentSite)
}

func TestStore_SessionsDoNotInterleave(t *testing.T) {
	s := newTestStore(t, &memPersister{})
	mustCreate(t, s, "a")
	mustCreate(t, s, "b")
	startRunning(t, s, "a")
	startRunning(t, s, "b")

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Go(func() {
			for i := range 20 {
				_, err := s.Merge(context.Background(), id, models.Patch{
					CurrentSite:  models.Ptr(id + "-site"),
					SitesChecked: models.Ptr(i),
				})
				assert.NoError(t, err)
			}
		})
	}
	wg.Wait()

	for _, id := range []string{"a", "b"} {
		got, err := s.Get(id)
		require.NoError(t, err)
		assert.Equal(t, id+"-site", got.CurrentSite)
		assert.Equal(t, 19, got.SitesChecked)
	}
}

func TestStore_PersistFailureKeepsMemory(t *testing.T) {
	p := &memPersister{saveErr: errors.New("disk full")}
	c := metrics.NewCollector()
	s := newTestStore(t, p, WithMetrics(c))

	mustCreate(t, s, "abc")
	startRunning(t, s, "abc")
	got, err := s.Merge(context.Background(), "abc", models.Patch{Progress: models.Ptr(12)})
	require.NoError(t, err)
	assert.Equal(t, 12, got.Progress)

	stored, err := s.Get("abc")
	require.NoError(t, err)
	assert.Equal(t, 12, stored.Progress)
	assert.Equal(t, int64(3), c.Snapshot().PersistErrors)
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := New(nil, quietLogger())
	ctx := context.Background()
	for i, id := range []string{"old", "mid", "new"} {
		_, err := s.Create(ctx, models.Session{ID: id, CreatedAt: testNow.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}

	var ids []string
	for _, sess := range s.List() {
		ids = append(ids, sess.ID)
	}
	assert.Equal(t, []string{"new", "mid", "old"}, ids)
}

func TestStore_FailActive(t *testing.T) {
	s := newTestStore(t, nil)
	mustCreate(t, s, "pending")
	mustCreate(t, s, "running")
	mustCreate(t, s, "done")
	startRunning(t, s, "running")
	startRunning(t, s, "done")
	_, err := s.Merge(context.Background(), "done", models.Patch{Status: models.Ptr(models.StatusCompleted)})
	require.NoError(t, err)

	ids := s.FailActive(context.Background(), RestartError)
	assert.ElementsMatch(t, []string{"pending", "running"}, ids)

	for _, id := range ids {
		got, err := s.Get(id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, got.Status)
		assert.Equal(t, RestartError, got.Error)
	}
	done, err := s.Get("done")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
}

func TestStore_LoadRoundTripThroughFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")

	first := newTestStore(t, NewFilePersister(path))
	mustCreate(t, first, "abc")
	startRunning(t, first, "abc")
	want, err := first.Merge(context.Background(), "abc", models.Patch{
		Status: models.Ptr(models.StatusCompleted),
		Results: models.Ptr([]models.SubjectResult{{
			Username: "alice",
			Sites:    []models.SiteResult{{SiteName: "GitHub", URL: "https://github.com/alice", Status: "Claimed"}},
		}}),
	})
	require.NoError(t, err)

	second := newTestStore(t, NewFilePersister(path))
	require.NoError(t, second.Load(context.Background()))

	got, err := second.Get("abc")
	require.NoError(t, err)
	assert.Equal(t, want.Results, got.Results)
	assert.Equal(t, want.Status, got.Status)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
}

func TestStore_LoadRetriesTransientErrors(t *testing.T) {
	p := &memPersister{loadErr: errors.New("connection refused")}
	s := newTestStore(t, p, WithLoadTimeout(300*time.Millisecond))

	err := s.Load(context.Background())
	require.Error(t, err)
	assert.Greater(t, p.loads, 1)
}

func TestStore_LoadRejectsNewerVersion(t *testing.T) {
	p := &memPersister{initial: Snapshot{Version: SnapshotVersion + 1, Sessions: map[string]models.Session{}}}
	s := newTestStore(t, p, WithLoadTimeout(5*time.Second))

	start := time.Now()
	assert.ErrorIs(t, s.Load(context.Background()), ErrUnsupportedVersion)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, p.loads)
}

func TestStore_LoadCorruptSnapshotFailsFast(t *testing.T) {
	t.Run("persister error", func(t *testing.T) {
		p := &memPersister{loadErr: fmt.Errorf("%w: unexpected EOF", ErrCorruptSnapshot)}
		s := newTestStore(t, p, WithLoadTimeout(5*time.Second))

		start := time.Now()
		assert.ErrorIs(t, s.Load(context.Background()), ErrCorruptSnapshot)
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, 1, p.loads)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sessions.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"version": 1, "sessions": `), 0o600))
		s := newTestStore(t, NewFilePersister(path), WithLoadTimeout(5*time.Second))

		start := time.Now()
		err := s.Load(context.Background())
		assert.ErrorIs(t, err, ErrCorruptSnapshot)
		assert.Less(t, time.Since(start), time.Second)
	})
}
