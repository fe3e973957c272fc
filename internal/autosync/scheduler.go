// Package autosync runs the configured sync on a schedule and after
// local edits, while the workspace settings enable it.
package autosync

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	serrors "github.com/alexjbarnes/workspace-sync/internal/errors"
	"github.com/alexjbarnes/workspace-sync/internal/syncer"
	"github.com/alexjbarnes/workspace-sync/internal/workspace"
)

// DefaultDebounce is how long local edits must settle before they
// trigger a sync.
const DefaultDebounce = 5 * time.Second

// Runner is the subset of the sync engine the scheduler drives.
type Runner interface {
	DownloadSync(ctx context.Context, ws syncer.LocalStore, orgID string, dryRun bool) (*syncer.Result, error)
	BidirectionalSync(ctx context.Context, ws syncer.LocalStore, orgID string, strategy workspace.ConflictStrategy, dryRun bool) (*syncer.Result, error)
}

var _ Runner = (*syncer.Engine)(nil)

// Options tunes a Scheduler. Zero values select the defaults.
type Options struct {
	// Debounce is the quiet period after local edits. Defaults to
	// DefaultDebounce.
	Debounce time.Duration

	// Interval overrides the workspace's sync interval setting.
	Interval time.Duration

	// Watch enables the filesystem trigger.
	Watch bool

	// OnResult is called after every run the scheduler starts.
	OnResult func(*syncer.Result, error)
}

// Scheduler triggers syncs of one workspace.
type Scheduler struct {
	runner  Runner
	configs syncer.ConfigStore
	ws      syncer.LocalStore
	orgID   string
	opts    Options
	logger  *slog.Logger

	trigger chan struct{}
	running atomic.Bool
	// quietUntil suppresses filesystem triggers caused by the sync's
	// own writes. Unix nanoseconds.
	quietUntil atomic.Int64
}

// New creates a Scheduler.
func New(runner Runner, configs syncer.ConfigStore, ws syncer.LocalStore, orgID string, logger *slog.Logger, opts Options) *Scheduler {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	return &Scheduler{
		runner:  runner,
		configs: configs,
		ws:      ws,
		orgID:   orgID,
		opts:    opts,
		logger:  logger.With(slog.String("component", "autosync")),
		trigger: make(chan struct{}, 1),
	}
}

// Trigger requests a sync as soon as the scheduler is idle. Requests
// made while one is already pending are merged.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled. Settings are re-read before every
// run so that changes take effect without a restart.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.opts.Watch {
		w := NewWatcher(s.ws.RootPath(), s.opts.Debounce, s.logger)

		go func() {
			err := w.Watch(ctx, s.localChange)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("autosync: watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	timer := time.NewTimer(s.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			s.logger.Debug("autosync: interval elapsed")
		case <-s.trigger:
			s.logger.Debug("autosync: triggered")
		}

		s.runOnce(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}

		timer.Reset(s.interval())
	}
}

func (s *Scheduler) localChange() {
	if s.running.Load() || time.Now().UnixNano() < s.quietUntil.Load() {
		return
	}

	s.logger.Debug("autosync: local change detected")
	s.Trigger()
}

func (s *Scheduler) settings() (workspace.Settings, bool) {
	cfg, err := s.configs.LoadWorkspace(s.ws.RootPath())
	if err != nil {
		s.logger.Warn("autosync: loading workspace settings", slog.String("error", err.Error()))
		return workspace.DefaultSettings(), false
	}

	return cfg.Settings, true
}

func (s *Scheduler) interval() time.Duration {
	if s.opts.Interval > 0 {
		return s.opts.Interval
	}

	settings, _ := s.settings()

	return settings.Interval()
}

// runOnce performs one sync when auto sync is enabled. Bidirectional
// mode uses the workspace's configured conflict strategy.
func (s *Scheduler) runOnce(ctx context.Context) {
	settings, ok := s.settings()
	if !ok {
		return
	}

	if !settings.AutoSync {
		s.logger.Debug("autosync: disabled in workspace settings, skipping")
		return
	}

	s.running.Store(true)
	defer func() {
		s.quietUntil.Store(time.Now().Add(s.opts.Debounce).UnixNano())
		s.running.Store(false)
	}()

	var (
		res *syncer.Result
		err error
	)

	if settings.Bidirectional {
		res, err = s.runner.BidirectionalSync(ctx, s.ws, s.orgID, "", false)
	} else {
		res, err = s.runner.DownloadSync(ctx, s.ws, s.orgID, false)
	}

	switch {
	case errors.Is(err, serrors.ErrSyncInProgress):
		s.logger.Info("autosync: sync already running, skipping")
	case err != nil:
		s.logger.Warn("autosync: sync failed", slog.String("error", err.Error()))
	default:
		s.logger.Info("autosync: sync finished",
			slog.String("run_id", res.RunID),
			slog.Bool("success", res.Success),
			slog.Int("errors", len(res.Errors)),
		)
	}

	if s.opts.OnResult != nil {
		s.opts.OnResult(res, err)
	}
}
