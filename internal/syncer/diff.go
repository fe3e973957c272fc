package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alexjbarnes/workspace-sync/internal/contenthash"
	serrors "github.com/alexjbarnes/workspace-sync/internal/errors"
	"github.com/alexjbarnes/workspace-sync/internal/localstore"
	"github.com/alexjbarnes/workspace-sync/internal/remote"
	"github.com/alexjbarnes/workspace-sync/internal/workspace"
)

// localEntry is one file of a project folder, keyed by its local name.
type localEntry struct {
	content string
	hash    string
	modTime time.Time
}

// remoteEntry is one remote file keyed by its local name. The
// instructions document has no id and no modification time.
type remoteEntry struct {
	id           string
	remoteName   string
	content      string
	hash         string
	modTime      time.Time
	instructions bool
}

// projectState is everything known about one project during a run.
type projectState struct {
	project remote.Project
	folder  string

	// exists is false when the project folder was missing at scan time.
	exists bool
	dir    localstore.Dir

	local  map[string]localEntry
	remote map[string]remoteEntry
	meta   *workspace.ProjectMetadata

	diff *ProjectDiff

	// scanErr is set when either side could not be loaded.
	scanErr error
}

// loadRemote fetches the project's knowledge files and instructions.
// Remote names are mapped to local names; when two remote files map to
// the same local name the first one wins.
func (r *run) loadRemote(ctx context.Context, st *projectState) error {
	files, err := r.e.remote.ListFiles(ctx, r.orgID, st.project.ID)
	if err != nil {
		return err
	}

	autoAdd := r.settings().AutoAddExtension
	st.remote = make(map[string]remoteEntry, len(files)+1)

	for _, f := range files {
		name := workspace.LocalFileName(f.Name, autoAdd)

		if name == workspace.InstructionsFile || strings.HasPrefix(name, ".") {
			r.logger.Warn("sync: skipping remote file with reserved name",
				slog.String("project", st.project.Name),
				slog.String("file", f.Name),
			)

			continue
		}

		if _, dup := st.remote[name]; dup {
			r.logger.Warn("sync: skipping remote file with duplicate name",
				slog.String("project", st.project.Name),
				slog.String("file", f.Name),
			)

			continue
		}

		st.remote[name] = remoteEntry{
			id:         f.ID,
			remoteName: f.Name,
			content:    f.Content,
			hash:       contenthash.Sum(f.Content),
			modTime:    f.ModTime(),
		}
	}

	instructions, err := r.e.remote.GetInstructions(ctx, r.orgID, st.project.ID)
	if err != nil {
		return err
	}

	// Blank instructions count as absent on either side.
	if strings.TrimSpace(instructions) != "" {
		st.remote[workspace.InstructionsFile] = remoteEntry{
			remoteName:   workspace.InstructionsFile,
			content:      instructions,
			hash:         contenthash.Sum(instructions),
			instructions: true,
		}
	}

	return nil
}

// loadLocal reads the project folder: the instructions document, every
// knowledge file and the metadata record.
func (r *run) loadLocal(st *projectState) error {
	st.local = make(map[string]localEntry)

	dir, ok, err := r.ws.LookupDirectory(r.ws.Root(), st.folder)
	if err != nil {
		return err
	}

	st.exists = ok
	st.dir = dir

	if !ok {
		return nil
	}

	content, found, err := r.ws.ReadTextFile(dir, workspace.InstructionsFile)
	if err != nil {
		return err
	}

	if found && strings.TrimSpace(content) != "" {
		entry := localEntry{content: content, hash: contenthash.Sum(content)}

		info, ok, err := r.ws.StatFile(dir, workspace.InstructionsFile)
		if err != nil {
			return err
		}

		if ok {
			entry.modTime = info.ModTime
		}

		st.local[workspace.InstructionsFile] = entry
	}

	kdir, ok, err := r.ws.LookupDirectory(dir, workspace.KnowledgeDir)
	if err != nil {
		return err
	}

	if ok {
		infos, err := r.ws.ListFiles(kdir)
		if err != nil {
			return err
		}

		for _, info := range infos {
			content, found, err := r.ws.ReadTextFile(kdir, info.Name)
			if err != nil {
				return err
			}

			if !found {
				continue
			}

			st.local[info.Name] = localEntry{
				content: content,
				hash:    contenthash.Sum(content),
				modTime: info.ModTime,
			}
		}
	}

	st.meta = r.readMetadata(dir)

	return nil
}

func (r *run) readMetadata(projectDir localstore.Dir) *workspace.ProjectMetadata {
	mdir, ok, err := r.ws.LookupDirectory(projectDir, workspace.MetadataDir)
	if err != nil || !ok {
		return nil
	}

	content, found, err := r.ws.ReadTextFile(mdir, workspace.MetadataFile)
	if err != nil || !found {
		return nil
	}

	meta, err := workspace.DecodeMetadata(content)
	if err != nil {
		r.logger.Warn("sync: ignoring unreadable project metadata",
			slog.String("folder", projectDir.Path()),
			slog.String("error", err.Error()),
		)

		return nil
	}

	return meta
}

// compare classifies every file of a loaded project. It is pure: all
// content is already in memory.
func compare(st *projectState) *ProjectDiff {
	d := &ProjectDiff{
		ProjectID:   st.project.ID,
		ProjectName: st.project.Name,
		Folder:      st.folder,
		RemoteOnly:  []string{},
		LocalOnly:   []string{},
		Modified:    []ModifiedFile{},
		Renamed:     []Rename{},
		Files:       []FileDiff{},
	}

	remoteOnly := make(map[string]string)
	localOnly := make(map[string]string)

	for name, re := range st.remote {
		le, ok := st.local[name]
		if !ok {
			remoteOnly[name] = re.hash
			continue
		}

		if le.hash == re.hash {
			d.Files = append(d.Files, FileDiff{Name: name, Status: StatusUnchanged, LocalHash: le.hash, RemoteHash: re.hash})
			continue
		}

		m := ModifiedFile{Name: name, LocalHash: le.hash, RemoteHash: re.hash}

		if !le.modTime.IsZero() {
			t := le.modTime
			m.LocalModTime = &t
		}

		if !re.modTime.IsZero() {
			t := re.modTime
			m.RemoteModTime = &t
		}

		m.IsLocalNewer = m.LocalModTime != nil && m.RemoteModTime != nil && m.LocalModTime.After(*m.RemoteModTime)

		d.Modified = append(d.Modified, m)
		d.Files = append(d.Files, FileDiff{Name: name, Status: StatusModified, LocalHash: le.hash, RemoteHash: re.hash})
	}

	for name, le := range st.local {
		if _, ok := st.remote[name]; !ok {
			localOnly[name] = le.hash
		}
	}

	renames, restRemote, restLocal := DetectRenames(remoteOnly, localOnly)

	d.Renamed = append(d.Renamed, renames...)
	d.RemoteOnly = append(d.RemoteOnly, restRemote...)
	d.LocalOnly = append(d.LocalOnly, restLocal...)

	for _, name := range restRemote {
		d.Files = append(d.Files, FileDiff{Name: name, Status: StatusRemoved, RemoteHash: remoteOnly[name]})
	}

	for _, name := range restLocal {
		d.Files = append(d.Files, FileDiff{Name: name, Status: StatusAdded, LocalHash: localOnly[name]})
	}

	sort.Slice(d.Modified, func(i, j int) bool { return d.Modified[i].Name < d.Modified[j].Name })
	sort.Slice(d.Files, func(i, j int) bool { return d.Files[i].Name < d.Files[j].Name })

	d.HasDifferences = len(d.RemoteOnly) > 0 || len(d.LocalOnly) > 0 || len(d.Modified) > 0 || len(d.Renamed) > 0

	return d
}

// scanProject loads both sides of a project and compares them when the
// folder exists.
func (r *run) scanProject(ctx context.Context, p remote.Project, folder string) (*projectState, error) {
	st := &projectState{project: p, folder: folder}

	if err := r.loadRemote(ctx, st); err != nil {
		return st, fmt.Errorf("fetching remote files: %w", err)
	}

	if err := r.loadLocal(st); err != nil {
		return st, fmt.Errorf("reading local folder %s: %w", folder, err)
	}

	if st.exists {
		st.diff = compare(st)
	}

	return st, nil
}

// scan is the result of comparing every remote project with the
// workspace. States follow remote listing order.
type scan struct {
	states []*projectState
	diff   *WorkspaceDiff
}

// scanWorkspace compares every project. A project whose remote fetch
// fails is recorded in diff.Errors and left without a diff; the other
// projects are still compared.
func (r *run) scanWorkspace(ctx context.Context, projects []remote.Project) (*scan, error) {
	out := &scan{diff: &WorkspaceDiff{
		Projects:           []ProjectDiff{},
		RemoteOnlyProjects: []RemoteOnlyProject{},
		LocalOnlyFolders:   []string{},
	}}

	matched := make(map[string]bool, len(projects))

	for i, p := range projects {
		if err := r.checkCancel(ctx); err != nil {
			return nil, err
		}

		folder := r.assignFolder(p)
		matched[folder] = true

		st, err := r.scanProject(ctx, p, folder)
		out.states = append(out.states, st)

		r.e.emit(Progress{
			RunID:      r.result.RunID,
			Operation:  r.result.Operation,
			Phase:      PhaseFetching,
			Project:    p.Name,
			Completed:  i + 1,
			Total:      len(projects),
			Percentage: percentage(i+1, len(projects)),
			Message:    fmt.Sprintf("Compared %s", p.Name),
		})

		if err != nil {
			st.scanErr = err
			msg := fmt.Sprintf("project %s: %v", p.Name, err)
			out.diff.Errors = append(out.diff.Errors, msg)
			r.logger.Warn("sync: comparison failed", slog.String("project", p.Name), slog.String("error", err.Error()))

			continue
		}

		if !st.exists {
			out.diff.RemoteOnlyProjects = append(out.diff.RemoteOnlyProjects, RemoteOnlyProject{
				ID:        p.ID,
				Name:      p.Name,
				Folder:    folder,
				FileCount: len(st.remote),
			})

			continue
		}

		out.diff.Projects = append(out.diff.Projects, *st.diff)
	}

	folders, err := r.ws.ListDirectories(r.ws.Root())
	if err != nil {
		return nil, fmt.Errorf("listing workspace folders: %w", err)
	}

	for _, f := range folders {
		if workspace.IsReservedFolder(f) || matched[f] {
			continue
		}

		out.diff.LocalOnlyFolders = append(out.diff.LocalOnlyFolders, f)
	}

	out.diff.Summary = summarizeDiff(out.diff)

	return out, nil
}

func summarizeDiff(d *WorkspaceDiff) DiffSummary {
	s := DiffSummary{
		RemoteOnlyProjects: len(d.RemoteOnlyProjects),
		LocalOnlyFolders:   len(d.LocalOnlyFolders),
	}

	for _, p := range d.Projects {
		if p.HasDifferences {
			s.ProjectsWithDifferences++
		}

		s.RemoteOnlyFiles += len(p.RemoteOnly)
		s.LocalOnlyFiles += len(p.LocalOnly)
		s.ModifiedFiles += len(p.Modified)
		s.RenamedFiles += len(p.Renamed)
	}

	return s
}

// readOnlyRun prepares a run for a read-only operation: no lock, no
// permission check, and config changes are never saved.
func (e *Engine) readOnlyRun(ws LocalStore, orgID string) (*run, error) {
	if orgID == "" {
		return nil, serrors.ErrNoOrganization
	}

	r := e.newRun(OpDiff, ws, orgID, true)

	cfg, err := e.configs.LoadWorkspace(ws.RootPath())
	if err != nil {
		return nil, fmt.Errorf("loading workspace config: %w", err)
	}

	r.cfg = cfg.Clone()

	return r, nil
}

// WorkspaceDiff compares every remote project of the organization with
// the workspace. Nothing is written on either side.
func (e *Engine) WorkspaceDiff(ctx context.Context, ws LocalStore, orgID string) (*WorkspaceDiff, error) {
	r, err := e.readOnlyRun(ws, orgID)
	if err != nil {
		return nil, err
	}

	projects, err := r.listProjects(ctx, true)
	if err != nil {
		return nil, err
	}

	sc, err := r.scanWorkspace(ctx, projects)
	if err != nil {
		return nil, err
	}

	return sc.diff, nil
}

// CompareProject compares one remote project with its folder. A project
// without a local folder reports every remote file as remote-only.
func (e *Engine) CompareProject(ctx context.Context, ws LocalStore, orgID, projectID string) (*ProjectDiff, error) {
	r, err := e.readOnlyRun(ws, orgID)
	if err != nil {
		return nil, err
	}

	p, err := r.findProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	st, err := r.scanProject(ctx, p, r.assignFolder(p))
	if err != nil {
		return nil, err
	}

	if st.diff == nil {
		st.diff = compare(st)
	}

	return st.diff, nil
}

// findProject looks a project up in the remote listing.
func (r *run) findProject(ctx context.Context, projectID string) (remote.Project, error) {
	projects, err := r.e.remote.ListProjects(ctx, r.orgID)
	if err != nil {
		return remote.Project{}, fmt.Errorf("listing projects: %w", err)
	}

	for _, p := range projects {
		if p.ID == projectID {
			return p, nil
		}
	}

	return remote.Project{}, fmt.Errorf("project %s: %w", projectID, serrors.ErrNotFound)
}
