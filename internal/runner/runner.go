// Package runner executes one search per session and streams its progress.
//
// A Runner owns the external process for the lifetime of a job. Output is
// read line by line and reduced by an extractor.LineParser; merged snapshots
// are written to the session store and published to observers at most once
// per update interval. The deadline is enforced independently of output, so a
// silent process is still bounded.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/raphaelgruber/maigret-api/internal/extractor"
	"github.com/raphaelgruber/maigret-api/internal/metrics"
	"github.com/raphaelgruber/maigret-api/internal/models"
	"golang.org/x/time/rate"
)

// Progress bounds while a job is running.
const (
	StartPercent      = 1
	MaxTimePercent    = 90
	MaxRunningPercent = 95
)

// Labels shown while no site label is available.
const (
	PreparingLabel  = "Preparing search..."
	ProcessingLabel = "Processing results..."
)

// SessionStore is the subset of the store the runner writes to.
type SessionStore interface {
	Merge(ctx context.Context, id string, patch models.Patch) (models.Session, error)
}

// Publisher delivers live events to observers.
type Publisher interface {
	Publish(id string, ev models.Event) bool
}

// Config describes how the search tool is launched.
type Config struct {
	// ToolPath is the executable, ToolArgs are placed before the search flags.
	ToolPath string
	ToolArgs []string
	// WorkDir is the working directory of the process.
	WorkDir string
	// ReportsDir holds report files; relative paths are resolved against WorkDir.
	ReportsDir string
	// Env is appended to the current process environment.
	Env []string

	TimeoutFloor   time.Duration
	UpdateInterval time.Duration
	// TickInterval drives the time estimate and activity label between output lines.
	TickInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ToolPath == "" {
		c.ToolPath = "python3"
	}
	if c.ReportsDir == "" {
		c.ReportsDir = "reports"
	}
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = 500 * time.Millisecond
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 250 * time.Millisecond
	}
	return c
}

// reportsDir returns the absolute or WorkDir-relative report directory.
func (c Config) reportsDir() string {
	if filepath.IsAbs(c.ReportsDir) || c.WorkDir == "" {
		return c.ReportsDir
	}
	return filepath.Join(c.WorkDir, c.ReportsDir)
}

// Runner executes searches.
type Runner struct {
	cfg       Config
	store     SessionStore
	pub       Publisher
	logger    *slog.Logger
	metrics   *metrics.Collector
	newParser func(started time.Time) extractor.LineParser
}

// Option configures a Runner.
type Option func(*Runner)

// WithMetrics records search timings and outcomes into c.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Runner) { r.metrics = c }
}

// WithParser replaces the output parser factory.
func WithParser(fn func(started time.Time) extractor.LineParser) Option {
	return func(r *Runner) { r.newParser = fn }
}

// New creates a Runner. pub may be nil when no live delivery is needed.
func New(cfg Config, store SessionStore, pub Publisher, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		cfg:    cfg.withDefaults(),
		store:  store,
		pub:    pub,
		logger: logger,
		newParser: func(started time.Time) extractor.LineParser {
			return extractor.New(started)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives sess from pending to a terminal state. It never returns an
// error: every failure ends up on the session record.
func (r *Runner) Run(ctx context.Context, sess models.Session) {
	logger := r.logger.With("session_id", sess.ID)
	started := time.Now()
	r.metrics.RecordOutcome(metrics.OutcomeStarted)

	defer func() {
		if p := recover(); p != nil {
			logger.Error("search panicked", "panic", p)
			r.fail(ctx, sess.ID, fmt.Errorf("internal panic: %v", p), logger)
		}
	}()

	// Zeroed entry snapshot, then a small nonzero liveness value.
	_, err := r.update(ctx, sess.ID, models.Patch{
		Status:       models.Ptr(models.StatusRunning),
		Progress:     models.Ptr(0),
		CurrentSite:  models.Ptr(""),
		SitesChecked: models.Ptr(0),
		TotalSites:   models.Ptr(0),
		ResultsFound: models.Ptr(0),
	}, logger)
	if err != nil {
		logger.Error("cannot start search", "error", err)
		return
	}
	_, _ = r.update(ctx, sess.ID, models.Patch{
		Progress:    models.Ptr(StartPercent),
		CurrentSite: models.Ptr(PreparingLabel),
	}, logger)

	logger.Info("search started", "usernames", sess.Usernames, "deadline", Deadline(sess.Options.Timeout, r.cfg.TimeoutFloor))

	if err := r.execute(ctx, sess, logger); err != nil {
		r.fail(ctx, sess.ID, err, logger)
		return
	}

	_, _ = r.update(ctx, sess.ID, models.Patch{
		Progress:    models.Ptr(MaxRunningPercent),
		CurrentSite: models.Ptr(ProcessingLabel),
	}, logger)

	loadStart := time.Now()
	results, err := LoadResults(ctx, r.cfg.reportsDir(), sess.Usernames, logger)
	r.metrics.RecordTiming(metrics.OpArtifactLoad, time.Since(loadStart))
	if err != nil {
		var artifactErr *ArtifactError
		if !errors.As(err, &artifactErr) {
			err = fmt.Errorf("failed to process results: %w", err)
		}
		r.fail(ctx, sess.ID, err, logger)
		return
	}

	final, err := r.update(ctx, sess.ID, models.Patch{
		Status:  models.Ptr(models.StatusCompleted),
		Results: &results,
	}, logger)
	if err != nil {
		return
	}
	r.metrics.RecordTiming(metrics.OpSearch, time.Since(started))
	r.metrics.RecordOutcome(metrics.OutcomeCompleted)
	logger.Info("search completed", "duration", time.Since(started), "results_found", final.ResultsFound)
}

// execute runs the process to completion, streaming progress.
func (r *Runner) execute(ctx context.Context, sess models.Session, logger *slog.Logger) error {
	deadline := Deadline(sess.Options.Timeout, r.cfg.TimeoutFloor)
	started := time.Now()

	args := append(slices.Clone(r.cfg.ToolArgs), BuildArgs(sess.Options, sess.Usernames)...)
	cmd := exec.Command(r.cfg.ToolPath, args...)
	cmd.Dir = r.cfg.WorkDir
	cmd.Env = append(os.Environ(), r.cfg.Env...)

	// stdout and stderr share one pipe so lines arrive in emission order
	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create output pipe: %w", err)
	}
	defer pr.Close()
	cmd.Stdout = pw
	cmd.Stderr = pw

	logger.Debug("starting search tool", "path", cmd.Path, "args", args)
	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return fmt.Errorf("start search tool: %w", err)
	}
	_ = pw.Close()

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	exited := false
	defer func() {
		if !exited {
			killProcess(cmd, logger)
			<-waitDone
		}
	}()

	stop := make(chan struct{})
	defer close(stop)
	lines := readLines(pr, stop)

	parser := r.newParser(started)
	limiter := rate.NewLimiter(rate.Every(r.cfg.UpdateInterval), 1)
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	last := published{percent: StartPercent, label: PreparingLabel}
	dirty := false
	// flush writes the parser state when it differs from the last snapshot.
	flush := func() {
		dirty = false
		st := parser.State()
		next := published{
			percent: Progress(st, time.Since(started), deadline, last.percent),
			checked: st.SitesChecked,
			total:   st.TotalSites,
			found:   st.ResultsFound,
			label:   last.label,
		}
		if st.CurrentSite != "" {
			next.label = st.CurrentSite
		}
		if next == last {
			return
		}
		last = next
		_, _ = r.update(ctx, sess.ID, models.Patch{
			Progress:     models.Ptr(next.percent),
			CurrentSite:  models.Ptr(next.label),
			SitesChecked: models.Ptr(next.checked),
			TotalSites:   models.Ptr(next.total),
			ResultsFound: models.Ptr(next.found),
		}, logger)
	}
	expire := func() error {
		if dirty {
			flush()
		}
		return r.timeout(cmd, deadline, &exited, waitDone, logger)
	}

	for lines != nil {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			logger.Debug("tool output", "line", line)
			if _, sig := parser.Feed(line, time.Now()); sig.Any() {
				dirty = true
			}
		case now := <-ticker.C:
			parser.Feed("", now)
			dirty = true
		case <-timer.C:
			return expire()
		}

		if time.Since(started) >= deadline {
			return expire()
		}
		if dirty && limiter.Allow() {
			flush()
		}
	}

	// Output closed: the held-back state is written regardless of the limiter.
	if dirty {
		flush()
	}

	// the process may still be running
	select {
	case err = <-waitDone:
	case <-timer.C:
		return r.timeout(cmd, deadline, &exited, waitDone, logger)
	}
	exited = true

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("wait for search tool: %w", err)
	}
	logger.Debug("search tool exited", "duration", time.Since(started))
	return nil
}

func (r *Runner) timeout(cmd *exec.Cmd, deadline time.Duration, exited *bool, waitDone <-chan error, logger *slog.Logger) error {
	logger.Warn("search deadline exceeded, killing process", "deadline", deadline)
	killProcess(cmd, logger)
	<-waitDone
	*exited = true
	r.metrics.RecordOutcome(metrics.OutcomeTimedOut)
	return fmt.Errorf("%w after %s", ErrTimeout, deadline)
}

// published is the last snapshot written during the output loop.
type published struct {
	percent, checked, total, found int
	label                          string
}

// update merges patch and publishes the committed snapshot.
func (r *Runner) update(ctx context.Context, id string, patch models.Patch, logger *slog.Logger) (models.Session, error) {
	sess, err := r.store.Merge(ctx, id, patch)
	if err != nil {
		logger.Warn("failed to update session", "error", err)
		return sess, err
	}
	if r.pub != nil && !r.pub.Publish(id, models.EventFor(sess)) {
		logger.Debug("event not delivered", "status", sess.Status, "progress", sess.Progress)
	}
	return sess, nil
}

func (r *Runner) fail(ctx context.Context, id string, err error, logger *slog.Logger) {
	if !errors.Is(err, ErrTimeout) {
		r.metrics.RecordOutcome(metrics.OutcomeFailed)
	}
	logger.Error("search failed", "error", err)
	_, _ = r.update(ctx, id, models.Patch{
		Status: models.Ptr(models.StatusFailed),
		Error:  models.Ptr(failureMessage(err)),
	}, logger)
}

// Progress combines the extractor's estimate with a time-based fallback.
// The result never drops below prev and never exceeds MaxRunningPercent.
func Progress(st extractor.State, elapsed, deadline time.Duration, prev int) int {
	pct := st.Percent
	if !st.HasCounter() {
		pct = max(pct, TimeEstimate(elapsed, deadline))
	}
	return min(MaxRunningPercent, max(prev, pct))
}

// TimeEstimate is the elapsed share of the deadline, capped at MaxTimePercent.
func TimeEstimate(elapsed, deadline time.Duration) int {
	if deadline <= 0 || elapsed <= 0 {
		return 0
	}
	return min(MaxTimePercent, int(elapsed*100/deadline))
}

func killProcess(cmd *exec.Cmd, logger *slog.Logger) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Warn("failed to kill search tool", "pid", cmd.Process.Pid, "error", err)
	}
}

// readLines scans r into a channel, splitting on both \n and \r so that
// carriage-return progress bars yield one line per redraw. Blank lines are
// dropped. The channel is closed at EOF or when stop is closed.
func readLines(r *os.File, stop <-chan struct{}) <-chan string {
	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		sc.Split(splitLines)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-stop:
				return
			}
		}
	}()
	return lines
}

func splitLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
