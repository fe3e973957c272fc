package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// DownloadSync mirrors every remote project into the workspace. Local
// files identical to the remote copy are skipped; local-only files are
// left alone. A project that fails is reported and the run moves on to
// the next one.
func (e *Engine) DownloadSync(ctx context.Context, ws LocalStore, orgID string, dryRun bool) (*Result, error) {
	r := e.newRun(OpDownload, ws, orgID, dryRun)

	release, err := r.acquire()
	if err != nil {
		return r.fail(err)
	}
	defer release()

	r.progress(PhaseInitializing, "", "Starting download")

	projects, err := r.listProjects(ctx, false)
	if err != nil {
		return r.fail(err)
	}

	for _, p := range projects {
		if err := r.checkCancel(ctx); err != nil {
			return r.fail(err)
		}

		st := &projectState{project: p, folder: r.assignFolder(p)}

		if err := r.loadLocal(st); err != nil {
			r.errorf("project %s: reading local folder: %v", p.Name, err)
		} else if err := r.loadRemote(ctx, st); err != nil {
			r.errorf("project %s: fetching remote files: %v", p.Name, err)
		} else if err := r.downloadProject(ctx, st); err != nil {
			r.errorf("project %s: %v", p.Name, err)
		}

		r.projectDone(p.Name)
	}

	if r.settings().SyncChats {
		r.syncStandaloneChats(ctx)
	}

	r.saveConfig()

	return r.complete()
}

// downloadProject writes every remote file that differs locally, then
// the metadata record, then the project's conversations. Every file is
// attempted; if any write fails the project stops there and the error
// names the failed files.
func (r *run) downloadProject(ctx context.Context, st *projectState) error {
	var (
		written  int
		failed   []string
		firstErr error
	)

	for _, name := range orderedNames(st.remote) {
		re := st.remote[name]

		if le, ok := st.local[name]; ok && le.hash == re.hash {
			continue
		}

		if err := r.writeLocal(st, name, re); err != nil {
			failed = append(failed, name)

			if firstErr == nil {
				firstErr = err
			}

			continue
		}

		written++
		r.result.Stats.Downloaded++
	}

	if len(failed) > 0 {
		return fmt.Errorf("failed to write %s: %w", strings.Join(failed, ", "), firstErr)
	}

	manifest := make(map[string]string, len(st.remote))
	for name, re := range st.remote {
		manifest[name] = re.hash
	}

	if err := r.writeMetadata(st, manifest); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}

	switch {
	case !st.exists:
		r.countProject(statusCreated)
	case written > 0:
		r.countProject(statusUpdated)
	default:
		r.countProject(statusSkipped)
	}

	r.logger.Info("sync: project downloaded",
		slog.String("project", st.project.Name),
		slog.String("folder", st.folder),
		slog.Int("files", written),
	)

	if r.settings().SyncChats {
		r.syncProjectChats(ctx, st)
	}

	return nil
}

