// Package poller drives periodic fetch, diff and commit cycles across the
// watch registry.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dealwatch/internal/diff"
	"dealwatch/internal/domain"
	"dealwatch/internal/fetch"
	"dealwatch/internal/idhash"
	"dealwatch/internal/observability"
	"dealwatch/internal/storage"
)

var (
	// ErrStoreUnavailable is returned by RunCycle when the registry cannot be
	// read or every polled entity failed on store I/O.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrAlreadyRunning is returned by Start on a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler already running")
)

// Defaults applied by New for zero-valued options.
const (
	DefaultInterval        = 300 * time.Second
	DefaultConcurrency     = 5
	DefaultFetchTimeout    = 30 * time.Second
	DefaultCommitTimeout   = 10 * time.Second
	DefaultConflictRetries = 3
)

// Options configures a Scheduler.
type Options struct {
	// Required
	Registry  storage.WatchRegistry
	Snapshots storage.SnapshotStore
	Events    storage.TerminalEventStore
	Fetcher   fetch.Fetcher

	// Tuning
	Interval        time.Duration
	Concurrency     int
	FetchTimeout    time.Duration // per fetch call
	CommitTimeout   time.Duration // per store write, never cancelled by shutdown
	FloatTolerance  float64
	ConflictRetries int

	Sinks  []ChangeSink
	Logger *slog.Logger

	// Now and After replace the clock in tests.
	Now   func() time.Time
	After func(d time.Duration) <-chan time.Time

	// AfterCycle, when set, is called by Run after every cycle.
	AfterCycle func(res *CycleResult, err error)
}

// EntityResult is the outcome of polling one entity in a cycle.
type EntityResult struct {
	EntityID string
	Outcome  string // one of the observability.Outcome* values
	Version  int64  // committed version, domain.NoVersion if nothing was written
	Changes  []*domain.ChangeRecord
	Err      error
}

// CycleResult summarizes one poll cycle.
type CycleResult struct {
	CycleID    string
	StartedAt  time.Time
	FinishedAt time.Time
	Watched    int // registry membership at cycle start
	Skipped    int // permanently failed entities not polled
	Entities   []EntityResult
}

// Succeeded returns the number of entities committed this cycle.
func (r *CycleResult) Succeeded() int {
	n := 0
	for _, e := range r.Entities {
		if e.Outcome == observability.OutcomeOK {
			n++
		}
	}
	return n
}

// Changes returns every change committed this cycle in log order.
func (r *CycleResult) Changes() []*domain.ChangeRecord {
	var out []*domain.ChangeRecord
	for _, e := range r.Entities {
		out = append(out, e.Changes...)
	}
	storage.SortChanges(out)
	return out
}

// Scheduler runs poll cycles. Cycles never overlap.
type Scheduler struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

// New creates a Scheduler, filling defaults for zero-valued options.
func New(opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = DefaultCommitTimeout
	}
	if opts.ConflictRetries < 0 {
		opts.ConflictRetries = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.After == nil {
		opts.After = time.After
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{opts: opts, logger: logger.With(slog.String("component", "poller"))}
}

func (s *Scheduler) now() time.Time {
	return s.opts.Now().UTC()
}

// Run executes cycles until ctx is cancelled. The first cycle starts
// immediately; each following one starts Interval after the previous start,
// or immediately when the previous cycle overran. Returns nil on shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Recover(ctx)

	for {
		start := s.opts.Now()
		res, err := s.RunCycle(ctx)
		if err != nil {
			s.logger.Error("poll cycle failed", slog.Any("error", err))
		}
		if s.opts.AfterCycle != nil {
			s.opts.AfterCycle(res, err)
		}
		if ctx.Err() != nil {
			return nil
		}

		wait := s.opts.Interval - s.opts.Now().Sub(start)
		if wait <= 0 {
			s.logger.Warn("poll cycle overran interval",
				slog.Duration("interval", s.opts.Interval),
				slog.Duration("overrun", -wait))
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.opts.After(wait):
		}
	}
}

// Start runs the scheduler in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		err := s.Run(ctx)
		s.mu.Lock()
		s.runErr = err
		s.mu.Unlock()
	}()
	return nil
}

// Stop cancels the scheduler and waits for the current cycle to finish.
// Safe to call on a stopped scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.runErr
	s.cancel, s.done, s.runErr = nil, nil, nil
	return err
}

// Recover fails entities a previous process left in POLLING so the next
// cycle polls them again. Run calls it on start; callers driving RunCycle
// directly call it once before the first cycle.
func (s *Scheduler) Recover(ctx context.Context) int {
	n, err := s.opts.Registry.RecoverInterrupted(ctx, s.now())
	if err != nil {
		s.logger.Warn("recover interrupted polls", slog.Any("error", err))
		return 0
	}
	if n > 0 {
		s.logger.Info("recovered interrupted polls", slog.Int("count", n))
		observability.RecordRecovered(n)
	}
	return n
}

// RunOnce recovers interrupted polls and runs a single cycle.
func (s *Scheduler) RunOnce(ctx context.Context) (*CycleResult, error) {
	s.Recover(ctx)
	return s.RunCycle(ctx)
}

// RunCycle polls every watched entity once. Per-entity failures are recorded
// in the result and never abort the cycle.
func (s *Scheduler) RunCycle(ctx context.Context) (*CycleResult, error) {
	res := &CycleResult{
		CycleID:   newCycleID(),
		StartedAt: s.now(),
	}
	logger := s.logger.With(slog.String("cycle_id", res.CycleID))

	watched, err := s.opts.Registry.List(ctx)
	if err != nil {
		res.FinishedAt = s.now()
		observability.RecordCycle("store_error", res.FinishedAt.Sub(res.StartedAt), 0, 0)
		return res, fmt.Errorf("%w: list watched entities: %v", ErrStoreUnavailable, err)
	}
	res.Watched = len(watched)

	targets := make([]*domain.WatchedEntity, 0, len(watched))
	for _, w := range watched {
		if w.IsPermanentlyFailed() {
			res.Skipped++
			continue
		}
		targets = append(targets, w)
	}

	logger.Debug("poll cycle started",
		slog.Int("watched", res.Watched),
		slog.Int("skipped", res.Skipped))

	results := make([]EntityResult, len(targets))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, w := range targets {
		g.Go(func() error {
			// Checked after acquiring a slot: nothing new starts once ctx is done.
			if err := ctx.Err(); err != nil {
				results[i] = EntityResult{EntityID: w.EntityID, Outcome: "cancelled", Version: domain.NoVersion, Err: err}
				return nil
			}
			results[i] = s.pollEntity(ctx, logger, w.EntityID)
			return nil
		})
	}
	_ = g.Wait()

	res.Entities = results
	res.FinishedAt = s.now()

	s.publish(ctx, logger, res.Changes())

	status := observability.OutcomeOK
	var cycleErr error
	if storeDown(results) {
		status = observability.OutcomeStoreError
		cycleErr = fmt.Errorf("%w: every poll failed on store access", ErrStoreUnavailable)
	}
	observability.RecordCycle(status, res.FinishedAt.Sub(res.StartedAt), res.Watched, res.Skipped)

	logger.Info("poll cycle finished",
		slog.Int("polled", len(results)),
		slog.Int("succeeded", res.Succeeded()),
		slog.Int("skipped", res.Skipped),
		slog.Int("changes", len(res.Changes())),
		slog.Duration("duration", res.FinishedAt.Sub(res.StartedAt)))

	return res, cycleErr
}

func storeDown(results []EntityResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.Outcome != observability.OutcomeStoreError {
			return false
		}
	}
	return true
}

// pollEntity runs MarkPolling, fetch, diff, commit and MarkIdle for one entity.
func (s *Scheduler) pollEntity(ctx context.Context, logger *slog.Logger, entityID string) EntityResult {
	logger = logger.With(slog.String("entity_id", entityID))
	res := EntityResult{EntityID: entityID, Version: domain.NoVersion}

	if err := s.opts.Registry.MarkPolling(ctx, entityID); err != nil {
		res.Err = err
		switch {
		case errors.Is(err, storage.ErrNotFound):
			// Removed after the membership snapshot.
			res.Outcome = "removed"
		case storage.IsDomainError(err):
			res.Outcome = "skipped"
			logger.Warn("entity not pollable", slog.Any("error", err))
		default:
			res.Outcome = observability.OutcomeStoreError
			logger.Error("mark polling", slog.Any("error", err))
		}
		observability.RecordPoll(res.Outcome)
		return res
	}

	// Once marked POLLING the poll runs to completion even during shutdown:
	// the fetch is bounded by FetchTimeout, store writes by CommitTimeout.
	wctx := context.WithoutCancel(ctx)

	payload, err := s.fetch(wctx, entityID)
	if err != nil {
		kind := fetch.KindOf(err)
		return s.fail(ctx, logger, res, err, kind.FailureKind(), kind.String())
	}

	snap, changes, err := s.commit(wctx, logger, entityID, payload)
	if err != nil {
		return s.fail(ctx, logger, res, err, domain.FailureTransient, storeOutcome(err))
	}
	res.Version = snap.Version
	res.Changes = changes

	if err := s.withTimeout(wctx, func(c context.Context) error {
		return s.opts.Registry.MarkIdle(c, entityID, s.now())
	}); err != nil {
		// The snapshot is committed; the entity stays POLLING until the next
		// startup recovery.
		logger.Error("mark idle", slog.Any("error", err))
		res.Outcome = observability.OutcomeStoreError
		res.Err = err
		observability.RecordPoll(res.Outcome)
		return res
	}

	res.Outcome = observability.OutcomeOK
	observability.RecordPoll(res.Outcome)
	for _, c := range changes {
		observability.RecordChange(c.Kind.String())
	}
	logger.Debug("entity polled",
		slog.Int64("version", snap.Version),
		slog.Int("changes", len(changes)))
	return res
}

// fetch calls the Fetcher under FetchTimeout and validates the payload.
func (s *Scheduler) fetch(ctx context.Context, entityID string) (*domain.Payload, error) {
	fctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	start := time.Now()
	payload, err := s.opts.Fetcher.Fetch(fctx, entityID)
	observability.RecordFetch(time.Since(start))
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, fetch.Transient(fmt.Errorf("%w: empty response", domain.ErrInvalidPayload))
	}
	if err := payload.Validate(); err != nil {
		return nil, fetch.Transient(err)
	}
	return payload, nil
}

// commit diffs against the latest snapshot and commits, re-reading on
// version conflicts up to ConflictRetries times.
func (s *Scheduler) commit(ctx context.Context, logger *slog.Logger, entityID string, payload *domain.Payload) (*domain.Snapshot, []*domain.ChangeRecord, error) {
	diffOpts := diff.Options{FloatTolerance: s.opts.FloatTolerance}

	for attempt := 0; ; attempt++ {
		var latest *domain.Snapshot
		err := s.withTimeout(ctx, func(c context.Context) error {
			var err error
			latest, err = s.opts.Snapshots.GetLatestSnapshot(c, entityID)
			return err
		})
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("get latest snapshot: %w", err)
		}

		req := &storage.CommitRequest{
			EntityID:        entityID,
			ExpectedVersion: domain.NoVersion,
			CapturedAt:      s.now(),
			Payload:         *payload,
		}
		var old *domain.Payload
		if latest != nil {
			old = &latest.Payload
			req.ExpectedVersion = latest.Version
			if req.CapturedAt.Before(latest.CapturedAt) {
				req.CapturedAt = latest.CapturedAt
			}
		}
		req.Changes = diff.Diff(old, payload, diffOpts)

		start := time.Now()
		var snap *domain.Snapshot
		err = s.withTimeout(ctx, func(c context.Context) error {
			var err error
			snap, err = s.opts.Snapshots.CommitCycle(c, req)
			return err
		})
		conflict := errors.Is(err, storage.ErrConflict)
		observability.RecordCommit(time.Since(start), conflict)

		switch {
		case err == nil:
			return snap, storage.StampChanges(entityID, snap.Version, snap.CapturedAt, req.Changes), nil
		case conflict && attempt < s.opts.ConflictRetries:
			logger.Debug("commit conflict, retrying",
				slog.Int64("expected_version", req.ExpectedVersion),
				slog.Int("attempt", attempt+1))
			continue
		default:
			return nil, nil, fmt.Errorf("commit cycle: %w", err)
		}
	}
}

// storeOutcome classifies a commit-path error.
func storeOutcome(err error) string {
	switch {
	case errors.Is(err, storage.ErrConflict):
		return observability.OutcomeConflict
	case storage.IsDomainError(err):
		return observability.OutcomeTransient
	}
	return observability.OutcomeStoreError
}

// fail records a failed poll and returns the finished result.
func (s *Scheduler) fail(ctx context.Context, logger *slog.Logger, res EntityResult, cause error, kind domain.FailureKind, outcome string) EntityResult {
	wctx := context.WithoutCancel(ctx)
	at := s.now()
	res.Err = cause
	res.Outcome = outcome
	failure := domain.PollFailure{Kind: kind, Reason: cause.Error(), At: at}

	logAttrs := []any{
		slog.String("outcome", res.Outcome),
		slog.Any("error", cause),
	}
	if res.Outcome == observability.OutcomePermanent || res.Outcome == observability.OutcomeStoreError {
		logger.Error("poll failed", logAttrs...)
	} else {
		logger.Warn("poll failed", logAttrs...)
	}

	err := s.withTimeout(wctx, func(c context.Context) error {
		return s.opts.Registry.MarkFailed(c, res.EntityID, at, failure)
	})
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		// Removed while in flight; nothing is parked, so no terminal event.
		logger.Info("entity removed during poll")
		res.Outcome = "removed"
		observability.RecordPoll(res.Outcome)
		return res
	default:
		logger.Error("mark failed", slog.Any("error", err))
		if !storage.IsDomainError(err) {
			res.Outcome = observability.OutcomeStoreError
		}
	}

	if failure.Kind == domain.FailurePermanent {
		event := &domain.TerminalEvent{
			ID:         idhash.ComputeTerminalEventID(res.EntityID, at.UnixMicro()),
			EntityID:   res.EntityID,
			DetectedAt: at,
			Kind:       domain.FailurePermanent,
			Reason:     failure.Reason,
		}
		err := s.withTimeout(wctx, func(c context.Context) error {
			return s.opts.Events.RecordTerminalEvent(c, event)
		})
		switch {
		case err == nil:
			observability.RecordTerminalEvent()
		case errors.Is(err, storage.ErrDuplicateKey):
		default:
			logger.Error("record terminal event", slog.Any("error", err))
		}
	}

	observability.RecordPoll(res.Outcome)
	return res
}

// publish hands committed changes to every sink. Sink errors are logged.
func (s *Scheduler) publish(ctx context.Context, logger *slog.Logger, changes []*domain.ChangeRecord) {
	if len(changes) == 0 {
		return
	}
	pctx := context.WithoutCancel(ctx)
	for _, sink := range s.opts.Sinks {
		err := s.withTimeout(pctx, func(c context.Context) error {
			return sink.Publish(c, changes)
		})
		if err != nil {
			name := fmt.Sprintf("%T", sink)
			logger.Error("publish changes", slog.String("sink", name), slog.Any("error", err))
			observability.RecordSinkError(name)
		}
	}
}

func (s *Scheduler) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	c, cancel := context.WithTimeout(ctx, s.opts.CommitTimeout)
	defer cancel()
	return fn(c)
}

func newCycleID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
