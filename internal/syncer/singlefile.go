package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alexjbarnes/workspace-sync/internal/chatexport"
	"github.com/alexjbarnes/workspace-sync/internal/contenthash"
	serrors "github.com/alexjbarnes/workspace-sync/internal/errors"
	"github.com/alexjbarnes/workspace-sync/internal/workspace"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// diffCleanupThreshold is the minimum number of diffs before running
// the semantic cleanup pass. Below this count cleanup would not improve
// the result.
const diffCleanupThreshold = 2

// FileRequest selects one file of a project for a single-file sync.
type FileRequest struct {
	ProjectID string
	// Name is the local file name, or the instructions file name.
	Name      string
	Direction Direction
	DryRun    bool
}

// SyncFile resolves one file in an explicit direction, independent of
// the conflict strategy. Push makes the remote copy match the local
// one, pull the reverse. A file already gone from the source side is
// treated as resolved. The remote copy is looked up by the exact name,
// then by the name without the normalized extension.
func (e *Engine) SyncFile(ctx context.Context, ws LocalStore, orgID string, req FileRequest) (*Result, error) {
	r := e.newRun(OpSyncFile, ws, orgID, req.DryRun)
	r.logger = r.logger.With(slog.String("file", req.Name), slog.String("direction", string(req.Direction)))

	if req.ProjectID == "" || strings.TrimSpace(req.Name) == "" {
		return r.fail(&UsageError{Msg: "project id and file name are required"})
	}

	if _, err := ParseDirection(string(req.Direction)); err != nil {
		return r.fail(err)
	}

	release, err := r.acquire()
	if err != nil {
		return r.fail(err)
	}
	defer release()

	r.total = 1
	r.progress(PhaseInitializing, "", "Resolving "+req.Name)

	p, err := r.findProject(ctx, req.ProjectID)
	if err != nil {
		return r.fail(err)
	}

	st := &projectState{project: p, folder: r.assignFolder(p)}

	if err := r.loadLocal(st); err != nil {
		return r.fail(fmt.Errorf("reading local folder: %w", err))
	}

	re, hasRemote, err := r.lookupRemote(ctx, st, req.Name)
	if err != nil {
		return r.fail(err)
	}

	le, hasLocal := st.local[req.Name]

	changed, hash, err := r.syncOne(ctx, st, req, le, hasLocal, re, hasRemote)
	if err != nil {
		r.errorf("project %s: %s: %v", p.Name, req.Name, err)
	} else {
		if changed {
			r.countProject(statusUpdated)
		} else {
			r.countProject(statusSkipped)
		}

		r.recordManifest(st, req.Name, hash)
	}

	r.projectDone(p.Name)

	return r.complete()
}

// syncOne performs the single-file transfer. It returns whether anything
// changed and the content hash both sides now share.
func (r *run) syncOne(ctx context.Context, st *projectState, req FileRequest, le localEntry, hasLocal bool, re remoteEntry, hasRemote bool) (bool, string, error) {
	if req.Direction == DirectionPush {
		if !hasLocal {
			r.logger.Info("sync: local file already gone, nothing to push")
			return false, "", nil
		}

		if hasRemote && re.hash == le.hash {
			return false, le.hash, nil
		}

		uploadName := req.Name

		var replace *remoteEntry

		if hasRemote {
			uploadName = re.remoteName
			replace = &re
		}

		if err := r.push(ctx, st, uploadName, le.content, replace); err != nil {
			return false, "", err
		}

		r.result.Stats.Uploaded++

		return true, le.hash, nil
	}

	if !hasRemote {
		r.logger.Info("sync: remote file already gone, nothing to pull")
		return false, "", nil
	}

	if hasLocal && le.hash == re.hash {
		return false, re.hash, nil
	}

	if err := r.writeLocal(st, req.Name, re); err != nil {
		return false, "", err
	}

	r.result.Stats.Downloaded++

	return true, re.hash, nil
}

// recordManifest updates one entry of an existing manifest so later
// rename inference sees the file as synced.
func (r *run) recordManifest(st *projectState, name, hash string) {
	if r.dryRun || st.meta == nil || hash == "" {
		return
	}

	files := make(map[string]string, len(st.meta.Files)+1)
	for k, v := range st.meta.Files {
		files[k] = v
	}

	files[name] = hash

	if err := r.writeMetadata(st, files); err != nil {
		r.errorf("project %s: writing metadata: %v", st.project.Name, err)
	}
}

// lookupRemote finds the remote copy of a local file name.
func (r *run) lookupRemote(ctx context.Context, st *projectState, name string) (remoteEntry, bool, error) {
	if name == workspace.InstructionsFile {
		content, err := r.e.remote.GetInstructions(ctx, r.orgID, st.project.ID)
		if err != nil {
			return remoteEntry{}, false, fmt.Errorf("fetching instructions: %w", err)
		}

		if strings.TrimSpace(content) == "" {
			return remoteEntry{}, false, nil
		}

		return remoteEntry{
			remoteName:   name,
			content:      content,
			hash:         contenthash.Sum(content),
			instructions: true,
		}, true, nil
	}

	files, err := r.e.remote.ListFiles(ctx, r.orgID, st.project.ID)
	if err != nil {
		return remoteEntry{}, false, fmt.Errorf("fetching remote files: %w", err)
	}

	for _, candidate := range workspace.CandidateRemoteNames(name) {
		for _, f := range files {
			if f.Name != candidate {
				continue
			}

			return remoteEntry{
				id:         f.ID,
				remoteName: f.Name,
				content:    f.Content,
				hash:       contenthash.Sum(f.Content),
				modTime:    f.ModTime(),
			}, true, nil
		}
	}

	return remoteEntry{}, false, nil
}

// Preview shows how the local copy of a file differs from the remote
// copy. Patch is in unified patch form and turns the remote text into
// the local text.
type Preview struct {
	ProjectID    string `json:"projectId"`
	File         string `json:"file"`
	LocalExists  bool   `json:"localExists"`
	RemoteExists bool   `json:"remoteExists"`
	Identical    bool   `json:"identical"`
	Patch        string `json:"patch"`
}

// PreviewFile compares the two copies of one file for interactive
// review. Nothing is written.
func (e *Engine) PreviewFile(ctx context.Context, ws LocalStore, orgID, projectID, name string) (*Preview, error) {
	r, err := e.readOnlyRun(ws, orgID)
	if err != nil {
		return nil, err
	}

	p, err := r.findProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	st := &projectState{project: p, folder: r.assignFolder(p)}

	if err := r.loadLocal(st); err != nil {
		return nil, fmt.Errorf("reading local folder: %w", err)
	}

	re, hasRemote, err := r.lookupRemote(ctx, st, name)
	if err != nil {
		return nil, err
	}

	le, hasLocal := st.local[name]

	if !hasLocal && !hasRemote {
		return nil, fmt.Errorf("%s in project %s: %w", name, p.Name, serrors.ErrNotFound)
	}

	pv := &Preview{
		ProjectID:    p.ID,
		File:         name,
		LocalExists:  hasLocal,
		RemoteExists: hasRemote,
		Identical:    hasLocal && hasRemote && le.hash == re.hash,
	}

	if pv.Identical {
		return pv, nil
	}

	dmp := diffmatchpatch.New()

	diffs := dmp.DiffMain(re.content, le.content, true)
	if len(diffs) > diffCleanupThreshold {
		diffs = dmp.DiffCleanupSemantic(diffs)
	}

	pv.Patch = dmp.PatchToText(dmp.PatchMake(re.content, diffs))

	return pv, nil
}

// Export is a rendered conversation ready to be written.
type Export struct {
	FileName string
	Content  string
}

// ExportConversation fetches one conversation and renders it.
func (e *Engine) ExportConversation(ctx context.Context, orgID, conversationID string, opts chatexport.Options) (*Export, error) {
	if orgID == "" {
		return nil, serrors.ErrNoOrganization
	}

	conv, err := e.remote.GetConversation(ctx, orgID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("fetching conversation: %w", err)
	}

	doc, err := chatexport.Format(conv, opts)
	if err != nil {
		return nil, err
	}

	return &Export{FileName: chatexport.FileName(conv.Name), Content: doc}, nil
}
