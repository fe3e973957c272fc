// Package syncer reconciles remote projects with a local workspace. It
// holds the diff engine, rename detection, conflict resolution and the
// sync operations built on top of them.
//
// Every operation runs on a single goroutine and touches projects and
// files strictly in order: instructions, then knowledge files, then
// conversations within a project, and projects in remote listing order.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	serrors "github.com/alexjbarnes/workspace-sync/internal/errors"
	"github.com/alexjbarnes/workspace-sync/internal/remote"
	"github.com/alexjbarnes/workspace-sync/internal/workspace"
	"github.com/google/uuid"
)

// Engine runs sync operations against one remote store. It allows at
// most one run per workspace at a time.
type Engine struct {
	remote  RemoteStore
	configs ConfigStore
	logger  *slog.Logger

	mu       sync.Mutex
	observer Observer
	running  map[string]bool

	now   func() time.Time
	newID func() string
}

// New creates an Engine. The remote store and config store are injected
// so callers (and tests) choose the transport and persistence.
func New(rs RemoteStore, configs ConfigStore, logger *slog.Logger) *Engine {
	return &Engine{
		remote:  rs,
		configs: configs,
		logger:  logger,
		running: make(map[string]bool),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// SetObserver registers the progress observer. Passing nil removes it.
func (e *Engine) SetObserver(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.observer = o
}

// Running reports whether a run is in progress for the workspace.
func (e *Engine) Running(workspacePath string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.running[workspacePath]
}

func (e *Engine) emit(p Progress) {
	e.mu.Lock()
	o := e.observer
	e.mu.Unlock()

	if o != nil {
		o.OnProgress(p)
	}
}

// run carries the state of one operation from start to finish.
type run struct {
	e      *Engine
	ws     LocalStore
	orgID  string
	cfg    *workspace.Config
	dryRun bool
	logger *slog.Logger
	result *Result

	total     int
	completed int

	convs       []remote.ConversationSummary
	convsLoaded bool
	convsErr    error
}

func (e *Engine) newRun(op Operation, ws LocalStore, orgID string, dryRun bool) *run {
	id := e.newID()

	return &run{
		e:      e,
		ws:     ws,
		orgID:  orgID,
		dryRun: dryRun,
		logger: e.logger.With(
			slog.String("run_id", id),
			slog.String("operation", string(op)),
			slog.Bool("dry_run", dryRun),
		),
		result: &Result{
			RunID:     id,
			Operation: op,
			DryRun:    dryRun,
			StartedAt: e.now().UTC(),
			Errors:    []string{},
		},
	}
}

// acquire claims the workspace for this run, checks write access and
// loads the workspace config. The returned release func must be called
// when the run ends.
func (r *run) acquire() (func(), error) {
	if r.orgID == "" {
		return nil, serrors.ErrNoOrganization
	}

	path := r.ws.RootPath()

	r.e.mu.Lock()
	if r.e.running[path] {
		r.e.mu.Unlock()
		return nil, serrors.ErrSyncInProgress
	}
	r.e.running[path] = true
	r.e.mu.Unlock()

	unmark := func() {
		r.e.mu.Lock()
		delete(r.e.running, path)
		r.e.mu.Unlock()
	}

	// Dry runs write nothing, including the lock file.
	unlock := func() {}
	if !r.dryRun {
		var err error
		unlock, err = r.ws.Lock()
		if err != nil {
			unmark()
			return nil, err
		}
	}

	release := func() {
		unlock()
		unmark()
	}

	if !r.dryRun {
		if err := r.ws.VerifyPermission(); err != nil {
			release()
			return nil, err
		}
	}

	cfg, err := r.e.configs.LoadWorkspace(path)
	if err != nil {
		release()
		return nil, fmt.Errorf("loading workspace config: %w", err)
	}

	r.cfg = cfg

	return release, nil
}

func (r *run) settings() workspace.Settings {
	return r.cfg.Settings
}

// errorf records a non-fatal error. The run continues.
func (r *run) errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.result.Errors = append(r.result.Errors, msg)
	r.logger.Warn("sync: "+msg)
}

func (r *run) conflict(projectID, projectName, file, reason string) {
	r.result.Stats.Conflicts++
	r.result.Conflicts = append(r.result.Conflicts, Conflict{
		ProjectID:   projectID,
		ProjectName: projectName,
		File:        file,
		Reason:      reason,
	})
	r.logger.Info("sync: conflict left for resolution",
		slog.String("project", projectName),
		slog.String("file", file),
		slog.String("reason", reason),
	)
}

// projectStatus is the per-project outcome counted in Stats.
type projectStatus int

const (
	statusSkipped projectStatus = iota
	statusCreated
	statusUpdated
)

func (r *run) countProject(s projectStatus) {
	switch s {
	case statusCreated:
		r.result.Stats.Created++
	case statusUpdated:
		r.result.Stats.Updated++
	default:
		r.result.Stats.Skipped++
	}
}

func (r *run) progress(phase Phase, project, msg string) {
	r.e.emit(Progress{
		RunID:      r.result.RunID,
		Operation:  r.result.Operation,
		Phase:      phase,
		Project:    project,
		Completed:  r.completed,
		Total:      r.total,
		Percentage: percentage(r.completed, r.total),
		Message:    msg,
	})
}

// projectDone advances the progress counter after one project-level
// unit of work.
func (r *run) projectDone(name string) {
	r.completed++
	r.progress(PhaseSyncing, name, fmt.Sprintf("Synced %s", name))
}

// assignFolder returns the folder for a project, committing a new
// mapping immediately so later steps in the run cannot map the same
// folder twice.
func (r *run) assignFolder(p remote.Project) string {
	folder, added := r.cfg.AssignFolder(p.ID, p.Name)
	if added {
		r.logger.Info("sync: mapped project to folder",
			slog.String("project", p.Name),
			slog.String("folder", folder),
		)

		if !r.dryRun {
			if err := r.e.configs.SaveWorkspace(r.cfg); err != nil {
				r.errorf("saving folder mapping for %s: %v", p.Name, err)
			}
		}
	}

	return folder
}

// saveConfig writes the config back once at the end of a run.
func (r *run) saveConfig() {
	if r.dryRun {
		return
	}

	r.cfg.MarkSynced(r.e.now())

	if err := r.e.configs.SaveWorkspace(r.cfg); err != nil {
		r.errorf("saving workspace config: %v", err)
	}
}

// conversations lists the organization's conversations once per run.
func (r *run) conversations(ctx context.Context) ([]remote.ConversationSummary, error) {
	if !r.convsLoaded {
		r.convs, r.convsErr = r.e.remote.ListConversations(ctx, r.orgID)
		r.convsLoaded = true

		if r.convsErr != nil {
			r.errorf("listing conversations: %v", r.convsErr)
		}
	}

	return r.convs, r.convsErr
}

// listProjects fetches the remote project list. An empty list is an
// error unless allowEmpty is set.
func (r *run) listProjects(ctx context.Context, allowEmpty bool) ([]remote.Project, error) {
	r.progress(PhaseFetching, "", "Fetching projects")

	projects, err := r.e.remote.ListProjects(ctx, r.orgID)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	if len(projects) == 0 && !allowEmpty {
		return nil, serrors.ErrNoProjects
	}

	r.total = len(projects)
	r.logger.Info("sync: fetched projects", slog.Int("count", len(projects)))

	return projects, nil
}

// fail ends the run with a fatal error.
func (r *run) fail(err error) (*Result, error) {
	r.result.Errors = append(r.result.Errors, err.Error())
	r.finish()
	r.logger.Error("sync: run failed", slog.String("error", err.Error()))
	r.progress(PhaseError, "", err.Error())

	return r.result, err
}

// finish stamps the result. Success means no errors were recorded.
func (r *run) finish() *Result {
	res := r.result
	res.FinishedAt = r.e.now().UTC()
	res.Stats.Errors = len(res.Errors)
	res.Success = res.Stats.Errors == 0
	res.Message = summarize(res)

	return res
}

// complete ends a run that reached the end of its work.
func (r *run) complete() (*Result, error) {
	res := r.finish()
	r.completed = r.total
	r.progress(PhaseComplete, "", res.Message)

	r.logger.Info("sync: run complete",
		slog.Int("created", res.Stats.Created),
		slog.Int("updated", res.Stats.Updated),
		slog.Int("skipped", res.Stats.Skipped),
		slog.Int("uploaded", res.Stats.Uploaded),
		slog.Int("downloaded", res.Stats.Downloaded),
		slog.Int("conflicts", res.Stats.Conflicts),
		slog.Int("chats", res.Stats.ChatsSynced),
		slog.Int("errors", res.Stats.Errors),
	)

	return res, nil
}

// checkCancel is called between project-level units of work.
func (r *run) checkCancel(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sync cancelled: %w", err)
	}

	return nil
}

func summarize(res *Result) string {
	s := res.Stats
	prefix := ""

	if res.DryRun {
		prefix = "dry run: "
	}

	msg := fmt.Sprintf("%s%d created, %d updated, %d skipped, %d uploaded, %d downloaded, %d conflicts, %d chats, %d errors",
		prefix, s.Created, s.Updated, s.Skipped, s.Uploaded, s.Downloaded, s.Conflicts, s.ChatsSynced, s.Errors)

	return msg
}

// isNotFound reports whether err means the remote object is already gone.
func isNotFound(err error) bool {
	return errors.Is(err, serrors.ErrNotFound)
}
