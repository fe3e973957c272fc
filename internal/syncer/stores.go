package syncer

import (
	"context"
	"time"

	"github.com/alexjbarnes/workspace-sync/internal/localstore"
	"github.com/alexjbarnes/workspace-sync/internal/remote"
	"github.com/alexjbarnes/workspace-sync/internal/workspace"
)

//go:generate mockgen -destination=mock_remote_test.go -package=syncer . RemoteStore

// RemoteStore is the remote side of a sync. remote.Client implements it.
type RemoteStore interface {
	ListProjects(ctx context.Context, orgID string) ([]remote.Project, error)
	ListFiles(ctx context.Context, orgID, projectID string) ([]remote.File, error)
	GetInstructions(ctx context.Context, orgID, projectID string) (string, error)
	SetInstructions(ctx context.Context, orgID, projectID, content string) error
	UploadFile(ctx context.Context, orgID, projectID, name, content string) (remote.File, error)
	DeleteFile(ctx context.Context, orgID, projectID, fileID string) error
	ListConversations(ctx context.Context, orgID string) ([]remote.ConversationSummary, error)
	GetConversation(ctx context.Context, orgID, conversationID string) (*remote.Conversation, error)
}

var _ RemoteStore = (*remote.Client)(nil)

// LocalStore is the local side of a sync. localstore.Store implements
// it. A LocalStore is acquired fresh for each run.
type LocalStore interface {
	Root() localstore.Dir
	RootPath() string
	VerifyPermission() error
	Lock() (func(), error)
	GetOrCreateDirectory(parent localstore.Dir, name string) (localstore.Dir, error)
	LookupDirectory(parent localstore.Dir, name string) (localstore.Dir, bool, error)
	ReadTextFile(dir localstore.Dir, name string) (string, bool, error)
	StatFile(dir localstore.Dir, name string) (localstore.FileInfo, bool, error)
	WriteTextFile(dir localstore.Dir, name, content string, mtime time.Time) error
	DeleteFile(dir localstore.Dir, name string) error
	ListFiles(dir localstore.Dir) ([]localstore.FileInfo, error)
	ListDirectories(dir localstore.Dir) ([]string, error)
}

var _ LocalStore = (*localstore.Store)(nil)

// ConfigStore persists workspace configs. state.State implements it.
type ConfigStore interface {
	LoadWorkspace(workspacePath string) (*workspace.Config, error)
	SaveWorkspace(cfg *workspace.Config) error
}

// Observer receives progress snapshots during a run. OnProgress is
// called synchronously from the sync goroutine and must not block.
type Observer interface {
	OnProgress(Progress)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Progress)

// OnProgress calls f(p).
func (f ObserverFunc) OnProgress(p Progress) { f(p) }
