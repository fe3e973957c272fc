package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"sync"
	"testing"
	"time"

	serrors "github.com/alexjbarnes/workspace-sync/internal/errors"
	"github.com/alexjbarnes/workspace-sync/internal/localstore"
	"github.com/alexjbarnes/workspace-sync/internal/remote"
	"github.com/alexjbarnes/workspace-sync/internal/workspace"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const (
	testOrg  = "org-1"
	testRoot = "/ws"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// baseTime anchors every timestamp in the fakes.
var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeRemote is an in-memory RemoteStore.
type fakeRemote struct {
	mu sync.Mutex

	projects     []remote.Project
	files        map[string][]remote.File
	instructions map[string]string
	convs        []remote.ConversationSummary
	messages     map[string][]remote.Message

	// listFilesErr injects a failure for one project's file listing.
	listFilesErr map[string]error

	clock       time.Time
	nextID      int
	mutations   int
	convFetches int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		files:        make(map[string][]remote.File),
		instructions: make(map[string]string),
		messages:     make(map[string][]remote.Message),
		listFilesErr: make(map[string]error),
		clock:        baseTime,
	}
}

func (f *fakeRemote) tick() time.Time {
	f.clock = f.clock.Add(time.Minute)
	return f.clock
}

func (f *fakeRemote) addProject(id, name string) {
	f.projects = append(f.projects, remote.Project{ID: id, Name: name, CreatedAt: baseTime})
}

func (f *fakeRemote) addFile(projectID, name, content string) remote.File {
	f.nextID++
	at := f.tick()
	file := remote.File{
		ID:        fmt.Sprintf("f-%d", f.nextID),
		Name:      name,
		Content:   content,
		CreatedAt: at,
		UpdatedAt: at,
	}
	f.files[projectID] = append(f.files[projectID], file)

	return file
}

func (f *fakeRemote) addConversation(id, projectID, name string, updated time.Time, msgs ...remote.Message) {
	f.convs = append(f.convs, remote.ConversationSummary{
		ID:        id,
		Name:      name,
		ProjectID: projectID,
		CreatedAt: baseTime,
		UpdatedAt: updated,
	})
	f.messages[id] = msgs
}

// content returns the content of the named remote file, if present.
func (f *fakeRemote) content(projectID, name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, file := range f.files[projectID] {
		if file.Name == name {
			return file.Content, true
		}
	}

	return "", false
}

func (f *fakeRemote) names(projectID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, file := range f.files[projectID] {
		out = append(out, file.Name)
	}

	sort.Strings(out)

	return out
}

func (f *fakeRemote) ListProjects(_ context.Context, _ string) ([]remote.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]remote.Project(nil), f.projects...), nil
}

func (f *fakeRemote) ListFiles(_ context.Context, _, projectID string) ([]remote.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.listFilesErr[projectID]; err != nil {
		return nil, err
	}

	return append([]remote.File(nil), f.files[projectID]...), nil
}

func (f *fakeRemote) GetInstructions(_ context.Context, _, projectID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.instructions[projectID], nil
}

func (f *fakeRemote) SetInstructions(_ context.Context, _, projectID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mutations++
	f.instructions[projectID] = content

	return nil
}

func (f *fakeRemote) UploadFile(_ context.Context, _, projectID, name, content string) (remote.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mutations++

	return f.addFile(projectID, name, content), nil
}

func (f *fakeRemote) DeleteFile(_ context.Context, _, projectID, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mutations++

	files := f.files[projectID]
	for i, file := range files {
		if file.ID == fileID {
			f.files[projectID] = append(files[:i:i], files[i+1:]...)
			return nil
		}
	}

	return fmt.Errorf("deleting %s: %w", fileID, serrors.ErrNotFound)
}

func (f *fakeRemote) ListConversations(_ context.Context, _ string) ([]remote.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]remote.ConversationSummary(nil), f.convs...), nil
}

func (f *fakeRemote) GetConversation(_ context.Context, _, id string) (*remote.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.convFetches++

	for _, c := range f.convs {
		if c.ID == id {
			return &remote.Conversation{ConversationSummary: c, Messages: f.messages[id]}, nil
		}
	}

	return nil, fmt.Errorf("conversation %s: %w", id, serrors.ErrNotFound)
}

// memConfigs is an in-memory ConfigStore.
type memConfigs struct {
	mu      sync.Mutex
	configs map[string]*workspace.Config
	saves   int
}

func newMemConfigs() *memConfigs {
	return &memConfigs{configs: make(map[string]*workspace.Config)}
}

func (m *memConfigs) LoadWorkspace(p string) (*workspace.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg, ok := m.configs[p]; ok {
		return cfg.Clone(), nil
	}

	return workspace.NewConfig(p), nil
}

func (m *memConfigs) SaveWorkspace(cfg *workspace.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saves++
	m.configs[cfg.WorkspacePath] = cfg.Clone()

	return nil
}

func (m *memConfigs) get(p string) *workspace.Config {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.configs[p]
}

// withSettings stores a config for the test workspace with the given
// settings modifier applied to the defaults.
func (m *memConfigs) withSettings(fn func(*workspace.Settings)) {
	cfg := workspace.NewConfig(testRoot)
	fn(&cfg.Settings)
	m.configs[testRoot] = cfg
}

// newTestWorkspace returns a LocalStore on an in-memory filesystem.
func newTestWorkspace(t *testing.T) (*localstore.Store, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()
	ws, err := localstore.New(fs, testRoot)
	require.NoError(t, err)
	require.NoError(t, ws.EnsureRoot())

	return ws, fs
}

func newTestEngine(rs RemoteStore) (*Engine, *memConfigs) {
	configs := newMemConfigs()
	e := New(rs, configs, quietLogger)

	return e, configs
}

// writeLocal writes a file under the workspace root and sets its mtime.
func writeLocal(t *testing.T, fs afero.Fs, rel, content string, mtime time.Time) {
	t.Helper()

	p := path.Join(testRoot, rel)
	require.NoError(t, fs.MkdirAll(path.Dir(p), 0o755))
	require.NoError(t, afero.WriteFile(fs, p, []byte(content), 0o644))

	if !mtime.IsZero() {
		require.NoError(t, fs.Chtimes(p, mtime, mtime))
	}
}

func readLocal(t *testing.T, fs afero.Fs, rel string) (string, bool) {
	t.Helper()

	data, err := afero.ReadFile(fs, path.Join(testRoot, rel))
	if err != nil {
		return "", false
	}

	return string(data), true
}

type fsEntry struct {
	content string
	mtime   time.Time
	dir     bool
}

// snapshotFS captures every path under the workspace root.
func snapshotFS(t *testing.T, fs afero.Fs) map[string]fsEntry {
	t.Helper()

	out := make(map[string]fsEntry)

	require.NoError(t, afero.Walk(fs, testRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		e := fsEntry{mtime: info.ModTime(), dir: info.IsDir()}

		if !info.IsDir() {
			data, err := afero.ReadFile(fs, p)
			if err != nil {
				return err
			}

			e.content = string(data)
		}

		out[p] = e

		return nil
	}))

	return out
}

// progressRecorder collects progress snapshots.
type progressRecorder struct {
	mu     sync.Mutex
	events []Progress
}

func (p *progressRecorder) OnProgress(ev Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, ev)
}

func (p *progressRecorder) phases() []Phase {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Phase, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Phase)
	}

	return out
}

// failingStore fails writes of the named files.
type failingStore struct {
	*localstore.Store
	fail map[string]bool
}

func (s *failingStore) WriteTextFile(dir localstore.Dir, name, content string, mtime time.Time) error {
	if s.fail[name] {
		return &localstore.WriteError{Path: dir.Path() + "/" + name, Err: fmt.Errorf("disk full")}
	}

	return s.Store.WriteTextFile(dir, name, content, mtime)
}

// deniedStore reports that the workspace cannot be written.
type deniedStore struct {
	*localstore.Store
}

func (s *deniedStore) VerifyPermission() error {
	return fmt.Errorf("%w: workspace %s is read-only", serrors.ErrPermission, s.RootPath())
}
