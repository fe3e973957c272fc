package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alexjbarnes/workspace-sync/internal/workspace"
)

// BidirectionalSync computes the full workspace diff, then applies it
// project by project: local-only files are uploaded, remote-only files
// downloaded, renames replayed on the side that did not rename, and
// modified files resolved with strategy. An empty strategy uses the
// workspace setting. Remote projects without a local folder are
// downloaded whole.
func (e *Engine) BidirectionalSync(ctx context.Context, ws LocalStore, orgID string, strategy workspace.ConflictStrategy, dryRun bool) (*Result, error) {
	r := e.newRun(OpBidirectional, ws, orgID, dryRun)

	release, err := r.acquire()
	if err != nil {
		return r.fail(err)
	}
	defer release()

	if strategy == "" {
		strategy = r.settings().ConflictStrategy
	}

	strategy, err = workspace.ParseConflictStrategy(string(strategy))
	if err != nil {
		return r.fail(&UsageError{Msg: err.Error()})
	}

	r.logger = r.logger.With(slog.String("strategy", string(strategy)))
	r.progress(PhaseInitializing, "", "Starting sync")

	projects, err := r.listProjects(ctx, false)
	if err != nil {
		return r.fail(err)
	}

	sc, err := r.scanWorkspace(ctx, projects)
	if err != nil {
		return r.fail(err)
	}

	for _, msg := range sc.diff.Errors {
		r.errorf("%s", msg)
	}

	r.progress(PhaseSyncing, "", "Applying changes")

	for _, st := range sc.states {
		if err := r.checkCancel(ctx); err != nil {
			return r.fail(err)
		}

		switch {
		case st.scanErr != nil:
			// Comparison failed and was already reported.
		case !st.exists:
			if err := r.downloadProject(ctx, st); err != nil {
				r.errorf("project %s: %v", st.project.Name, err)
			}
		default:
			if err := r.syncProject(ctx, st, strategy); err != nil {
				r.errorf("project %s: %v", st.project.Name, err)
			}
		}

		r.projectDone(st.project.Name)
	}

	for _, f := range sc.diff.LocalOnlyFolders {
		r.logger.Info("sync: local folder has no remote project", slog.String("folder", f))
	}

	if r.settings().SyncChats {
		r.syncStandaloneChats(ctx)
	}

	r.saveConfig()

	return r.complete()
}

type actionKind int

const (
	actUpload actionKind = iota
	actDownload
	actRename
	actResolve
)

type action struct {
	kind     actionKind
	name     string
	rename   Rename
	modified ModifiedFile
}

// plan turns a project diff into an ordered action list. The
// instructions document always goes first.
func plan(d *ProjectDiff) []action {
	var actions []action

	for _, name := range d.LocalOnly {
		actions = append(actions, action{kind: actUpload, name: name})
	}

	for _, name := range d.RemoteOnly {
		actions = append(actions, action{kind: actDownload, name: name})
	}

	for _, rn := range d.Renamed {
		actions = append(actions, action{kind: actRename, name: rn.NewName, rename: rn})
	}

	for _, m := range d.Modified {
		actions = append(actions, action{kind: actResolve, name: m.Name, modified: m})
	}

	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].name == workspace.InstructionsFile && actions[j].name != workspace.InstructionsFile
	})

	return actions
}

// syncProject applies the diff of one existing project folder.
func (r *run) syncProject(ctx context.Context, st *projectState, strategy workspace.ConflictStrategy) error {
	d := st.diff
	fallback := r.settings().NewerFallback

	var (
		changed  int
		failed   []string
		firstErr error
	)

	fail := func(name string, err error) {
		failed = append(failed, name)

		if firstErr == nil {
			firstErr = err
		}

		r.logger.Warn("sync: file failed",
			slog.String("project", st.project.Name),
			slog.String("file", name),
			slog.String("error", err.Error()),
		)
	}

	final := make(map[string]string, len(d.Files))

	for _, f := range d.Files {
		if f.Status == StatusUnchanged {
			final[f.Name] = f.LocalHash
		}
	}

	for _, a := range plan(d) {
		switch a.kind {
		case actUpload:
			le := st.local[a.name]
			if err := r.push(ctx, st, a.name, le.content, nil); err != nil {
				fail(a.name, err)
				continue
			}

			r.result.Stats.Uploaded++
			changed++

			name, err := r.normalizeLocal(st, a.name, le, "")
			final[name] = le.hash

			if err != nil {
				fail(a.name, err)
			}

		case actDownload:
			re := st.remote[a.name]
			if err := r.writeLocal(st, a.name, re); err != nil {
				fail(a.name, err)
				continue
			}

			r.result.Stats.Downloaded++
			changed++
			final[a.name] = re.hash

		case actRename:
			ok, err := r.applyRename(ctx, st, a.rename, strategy, final)
			if err != nil {
				fail(a.name, err)
				continue
			}

			if ok {
				changed++
			}

		case actResolve:
			m := a.modified
			le, re := st.local[m.Name], st.remote[m.Name]

			switch Resolve(strategy, fallback, m) {
			case ResolvePush:
				if err := r.push(ctx, st, re.remoteName, le.content, &re); err != nil {
					fail(m.Name, err)
					continue
				}

				r.result.Stats.Uploaded++
				changed++
				final[m.Name] = le.hash

			case ResolvePull:
				if err := r.writeLocal(st, m.Name, re); err != nil {
					fail(m.Name, err)
					continue
				}

				r.result.Stats.Downloaded++
				changed++
				final[m.Name] = re.hash

			default:
				reason := "modified on both sides"
				if strategy == workspace.StrategyNewer {
					reason = "modification time unknown"
				}

				r.conflict(st.project.ID, st.project.Name, m.Name, reason)
				final[m.Name] = priorHash(st.meta, m.Name, m.LocalHash)
			}
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("failed to sync %s: %w", strings.Join(failed, ", "), firstErr)
	}

	if err := r.writeMetadata(st, final); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}

	if changed > 0 {
		r.countProject(statusUpdated)
	} else {
		r.countProject(statusSkipped)
	}

	r.logger.Info("sync: project synced",
		slog.String("project", st.project.Name),
		slog.Int("changed", changed),
	)

	if r.settings().SyncChats {
		r.syncProjectChats(ctx, st)
	}

	return nil
}

// applyRename replays a rename on the side that did not make it. The
// manifest from the last sync tells which side renamed. When it cannot,
// the prompt strategy leaves the pair as a conflict and every other
// strategy keeps the local name. Returns whether anything changed.
func (r *run) applyRename(ctx context.Context, st *projectState, rn Rename, strategy workspace.ConflictStrategy, final map[string]string) (bool, error) {
	re := st.remote[rn.OldName]
	le := st.local[rn.NewName]

	dir := InferRenameDirection(st.meta, rn)

	if dir == RenameAmbiguous {
		if strategy == workspace.StrategyPrompt {
			r.conflict(st.project.ID, st.project.Name, rn.NewName,
				fmt.Sprintf("renamed from %s but both names existed at the last sync", rn.OldName))

			final[rn.OldName] = priorHash(st.meta, rn.OldName, re.hash)
			final[rn.NewName] = priorHash(st.meta, rn.NewName, le.hash)

			return false, nil
		}

		r.logger.Warn("sync: ambiguous rename, keeping local name",
			slog.String("project", st.project.Name),
			slog.String("old", rn.OldName),
			slog.String("new", rn.NewName),
		)

		dir = RenamePush
	}

	if dir == RenamePush {
		if err := r.push(ctx, st, rn.NewName, le.content, &re); err != nil {
			return false, err
		}

		r.result.Stats.Uploaded++

		name, err := r.normalizeLocal(st, rn.NewName, le, rn.OldName)
		final[name] = le.hash

		return true, err
	}

	if err := r.writeLocal(st, rn.OldName, re); err != nil {
		return false, err
	}

	if err := r.deleteLocal(st, rn.NewName); err != nil {
		return false, err
	}

	r.result.Stats.Downloaded++
	final[rn.OldName] = re.hash

	return true, nil
}

// normalizeLocal moves a pushed local file to the name its remote copy
// maps back to, so an extensionless file uploaded with autoAddExtension
// on does not show up as a rename on the next comparison. The file is
// left alone when the target name is taken on either side, except by
// the remote entry the push replaced. Returns the file's local name.
func (r *run) normalizeLocal(st *projectState, name string, le localEntry, replaced string) (string, error) {
	if name == workspace.InstructionsFile {
		return name, nil
	}

	target := workspace.LocalFileName(name, r.settings().AutoAddExtension)
	if target == name {
		return name, nil
	}

	if _, taken := st.local[target]; taken {
		return name, nil
	}

	if _, taken := st.remote[target]; taken && target != replaced {
		return name, nil
	}

	if err := r.writeLocal(st, target, remoteEntry{content: le.content, modTime: le.modTime}); err != nil {
		return name, err
	}

	if err := r.deleteLocal(st, name); err != nil {
		return target, err
	}

	st.local[target] = le
	delete(st.local, name)

	r.logger.Info("sync: normalized local file name",
		slog.String("project", st.project.Name),
		slog.String("from", name),
		slog.String("to", target),
	)

	return target, nil
}
