package syncer

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alexjbarnes/workspace-sync/internal/chatexport"
	"github.com/alexjbarnes/workspace-sync/internal/localstore"
	"github.com/alexjbarnes/workspace-sync/internal/remote"
	"github.com/alexjbarnes/workspace-sync/internal/workspace"
)

// ChatsOnlySync downloads conversations for every project and the
// standalone bucket. Knowledge files and instructions are not touched.
func (e *Engine) ChatsOnlySync(ctx context.Context, ws LocalStore, orgID string, dryRun bool) (*Result, error) {
	r := e.newRun(OpChats, ws, orgID, dryRun)

	release, err := r.acquire()
	if err != nil {
		return r.fail(err)
	}
	defer release()

	r.progress(PhaseInitializing, "", "Starting conversation sync")

	projects, err := r.listProjects(ctx, true)
	if err != nil {
		return r.fail(err)
	}

	if _, err := r.conversations(ctx); err != nil {
		return r.complete()
	}

	for _, p := range projects {
		if err := r.checkCancel(ctx); err != nil {
			return r.fail(err)
		}

		folder := r.assignFolder(p)
		r.syncConversations(ctx, r.projectConversations(p.ID), folder, workspace.ConversationsDir)
		r.projectDone(p.Name)
	}

	r.syncStandaloneChats(ctx)
	r.saveConfig()

	return r.complete()
}

func (r *run) syncProjectChats(ctx context.Context, st *projectState) {
	if _, err := r.conversations(ctx); err != nil {
		return
	}

	r.syncConversations(ctx, r.projectConversations(st.project.ID), st.folder, workspace.ConversationsDir)
}

func (r *run) syncStandaloneChats(ctx context.Context) {
	if _, err := r.conversations(ctx); err != nil {
		return
	}

	r.progress(PhaseSyncing, "", "Syncing standalone conversations")
	r.syncConversations(ctx, r.projectConversations(""), workspace.StandaloneDir)
}

// projectConversations filters the cached listing by project id. An
// empty id selects conversations that belong to no project.
func (r *run) projectConversations(projectID string) []remote.ConversationSummary {
	var out []remote.ConversationSummary

	for _, c := range r.convs {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}

	return out
}

// syncConversations exports each conversation into the directory at
// path. A conversation is fetched only when its local export is missing
// or older than the conversation's last update. Failures are recorded
// per conversation.
func (r *run) syncConversations(ctx context.Context, convs []remote.ConversationSummary, path ...string) {
	if len(convs) == 0 {
		return
	}

	where := strings.Join(path, "/")

	dir, ok, err := r.locateDir(path...)
	if err != nil {
		r.errorf("conversations in %s: %v", where, err)
		return
	}

	// Stable order keeps duplicate-title suffixes on the same files
	// across runs.
	sort.SliceStable(convs, func(i, j int) bool {
		if !convs[i].CreatedAt.Equal(convs[j].CreatedAt) {
			return convs[i].CreatedAt.Before(convs[j].CreatedAt)
		}

		return convs[i].ID < convs[j].ID
	})

	namer := chatexport.NewNamer()
	opts := chatexport.Options{Frontmatter: r.settings().EnsureFrontmatter}

	// exports maps export file names to the conversation they hold.
	exports := make(map[string]string)
	if ok {
		exports = r.indexExports(dir)
	}

	for _, c := range convs {
		name := namer.Name(c)

		if ok {
			info, found, err := r.ws.StatFile(dir, name)
			if err != nil {
				r.errorf("conversation %s: %v", c.Name, err)
				continue
			}

			owner := exports[name]
			current := owner == "" || owner == c.ID

			if found && current && !isStale(info.ModTime, c.UpdatedAt) {
				continue
			}
		}

		if r.dryRun {
			r.result.Stats.ChatsSynced++
			continue
		}

		conv, err := r.e.remote.GetConversation(ctx, r.orgID, c.ID)
		if err != nil {
			r.errorf("conversation %s: %v", c.Name, err)
			continue
		}

		doc, err := chatexport.Format(conv, opts)
		if err != nil {
			r.errorf("conversation %s: %v", c.Name, err)
			continue
		}

		if err := r.ws.WriteTextFile(dir, name, doc, c.UpdatedAt); err != nil {
			r.errorf("conversation %s: %v", c.Name, err)
			continue
		}

		r.result.Stats.ChatsSynced++

		r.logger.Debug("sync: exported conversation",
			slog.String("folder", where),
			slog.String("file", name),
		)

		exports[name] = c.ID
		r.removeOldExports(dir, where, c.ID, name, exports)
	}
}

// indexExports reads the conversation id of every export in dir, keyed
// by file name. Files without one are not exports and are left out.
func (r *run) indexExports(dir localstore.Dir) map[string]string {
	out := make(map[string]string)

	files, err := r.ws.ListFiles(dir)
	if err != nil {
		r.logger.Warn("sync: listing exports", slog.String("error", err.Error()))
		return out
	}

	for _, f := range files {
		if !strings.HasSuffix(f.Name, chatexport.Extension) {
			continue
		}

		content, found, err := r.ws.ReadTextFile(dir, f.Name)
		if err != nil || !found {
			continue
		}

		if id := chatexport.ConversationID(content); id != "" {
			out[f.Name] = id
		}
	}

	return out
}

// removeOldExports deletes exports of conversation id left under another
// name, as after the conversation was renamed.
func (r *run) removeOldExports(dir localstore.Dir, where, id, current string, exports map[string]string) {
	for old, owner := range exports {
		if owner != id || old == current {
			continue
		}

		if err := r.ws.DeleteFile(dir, old); err != nil {
			r.errorf("conversation export %s/%s: %v", where, old, err)
			continue
		}

		delete(exports, old)

		r.logger.Info("sync: removed old conversation export",
			slog.String("folder", where),
			slog.String("file", old),
			slog.String("current", current),
		)
	}
}
