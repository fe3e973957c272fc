package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alexjbarnes/workspace-sync/internal/localstore"
	"github.com/alexjbarnes/workspace-sync/internal/workspace"
)

// projectDir returns the project folder, creating it outside dry runs.
func (r *run) projectDir(st *projectState) (localstore.Dir, error) {
	if r.dryRun {
		return st.dir, nil
	}

	dir, err := r.ws.GetOrCreateDirectory(r.ws.Root(), st.folder)
	if err != nil {
		return localstore.Dir{}, err
	}

	st.dir = dir

	return dir, nil
}

// fileDir returns the directory holding a file: the project folder for
// the instructions document, the knowledge folder for everything else.
func (r *run) fileDir(st *projectState, name string) (localstore.Dir, error) {
	dir, err := r.projectDir(st)
	if err != nil {
		return localstore.Dir{}, err
	}

	if name == workspace.InstructionsFile {
		return dir, nil
	}

	return r.ws.GetOrCreateDirectory(dir, workspace.KnowledgeDir)
}

// writeLocal writes remote content to the local copy of name.
func (r *run) writeLocal(st *projectState, name string, re remoteEntry) error {
	if r.dryRun {
		return nil
	}

	dir, err := r.fileDir(st, name)
	if err != nil {
		return err
	}

	if err := r.ws.WriteTextFile(dir, name, re.content, re.modTime); err != nil {
		return err
	}

	r.logger.Debug("sync: wrote local file",
		slog.String("project", st.project.Name),
		slog.String("file", name),
	)

	return nil
}

// deleteLocal removes the local copy of name. A missing file is fine.
func (r *run) deleteLocal(st *projectState, name string) error {
	if r.dryRun {
		return nil
	}

	dir, err := r.fileDir(st, name)
	if err != nil {
		return err
	}

	return r.ws.DeleteFile(dir, name)
}

// push stores content remotely under name. For the instructions
// document that is a plain replace. Knowledge files cannot be edited in
// place, so content is uploaded as a new file and the replaced remote
// file, if any, is deleted afterwards. A replaced file that is already
// gone counts as deleted.
func (r *run) push(ctx context.Context, st *projectState, name, content string, replace *remoteEntry) error {
	if r.dryRun {
		return nil
	}

	if name == workspace.InstructionsFile {
		return r.e.remote.SetInstructions(ctx, r.orgID, st.project.ID, content)
	}

	if _, err := r.e.remote.UploadFile(ctx, r.orgID, st.project.ID, name, content); err != nil {
		return err
	}

	r.logger.Debug("sync: uploaded file",
		slog.String("project", st.project.Name),
		slog.String("file", name),
	)

	if replace == nil || replace.id == "" {
		return nil
	}

	if err := r.e.remote.DeleteFile(ctx, r.orgID, st.project.ID, replace.id); err != nil && !isNotFound(err) {
		return fmt.Errorf("removing previous remote copy %s: %w", replace.remoteName, err)
	}

	return nil
}

// writeMetadata records the project identity and the file manifest.
func (r *run) writeMetadata(st *projectState, files map[string]string) error {
	if r.dryRun {
		return nil
	}

	meta := &workspace.ProjectMetadata{
		ID:             st.project.ID,
		Name:           st.project.Name,
		OrganizationID: r.orgID,
		LastSynced:     r.e.now().UTC(),
		Files:          files,
	}

	content, err := meta.Encode()
	if err != nil {
		return err
	}

	dir, err := r.projectDir(st)
	if err != nil {
		return err
	}

	mdir, err := r.ws.GetOrCreateDirectory(dir, workspace.MetadataDir)
	if err != nil {
		return err
	}

	if err := r.ws.WriteTextFile(mdir, workspace.MetadataFile, content, meta.LastSynced); err != nil {
		return err
	}

	st.meta = meta

	return nil
}

// locateDir walks path from the workspace root. Outside dry runs missing
// directories are created; in dry runs a missing one yields false.
func (r *run) locateDir(path ...string) (localstore.Dir, bool, error) {
	dir := r.ws.Root()

	for _, name := range path {
		if !r.dryRun {
			next, err := r.ws.GetOrCreateDirectory(dir, name)
			if err != nil {
				return localstore.Dir{}, false, err
			}

			dir = next

			continue
		}

		next, ok, err := r.ws.LookupDirectory(dir, name)
		if err != nil || !ok {
			return localstore.Dir{}, false, err
		}

		dir = next
	}

	return dir, true, nil
}

// orderedNames returns the keys of m with the instructions document
// first and the rest sorted.
func orderedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool {
		a, b := names[i] == workspace.InstructionsFile, names[j] == workspace.InstructionsFile
		if a != b {
			return a
		}

		return names[i] < names[j]
	})

	return names
}

// priorHash returns the manifest hash of name, or fallback when the
// manifest does not know it.
func priorHash(meta *workspace.ProjectMetadata, name, fallback string) string {
	if meta.Known(name) {
		return meta.Files[name]
	}

	return fallback
}
