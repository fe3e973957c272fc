package syncer

import (
	"time"
)

// Operation names a sync entry point. It is recorded in results and run
// history.
type Operation string

const (
	OpDownload      Operation = "download"
	OpChats         Operation = "chats"
	OpBidirectional Operation = "bidirectional"
	OpSyncFile      Operation = "sync-file"
	OpDiff          Operation = "diff"
)

// Direction selects which side wins in a single-file sync.
type Direction string

const (
	DirectionPush Direction = "push"
	DirectionPull Direction = "pull"
)

// ParseDirection parses "push" or "pull".
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionPush, DirectionPull:
		return Direction(s), nil
	default:
		return "", &UsageError{Msg: "direction must be push or pull, got " + s}
	}
}

// UsageError reports an invalid argument to an engine operation.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return e.Msg }

// FileStatus classifies one file name in a project comparison. Added
// and removed are relative to the remote side: an added file exists only
// locally, a removed file exists only remotely.
type FileStatus string

const (
	StatusAdded     FileStatus = "added"
	StatusRemoved   FileStatus = "removed"
	StatusModified  FileStatus = "modified"
	StatusUnchanged FileStatus = "unchanged"
)

// FileDiff is the comparison result for one file name.
type FileDiff struct {
	Name       string     `json:"name"`
	Status     FileStatus `json:"status"`
	LocalHash  string     `json:"localHash,omitempty"`
	RemoteHash string     `json:"remoteHash,omitempty"`
}

// ModifiedFile is a file present on both sides with different content.
type ModifiedFile struct {
	Name          string     `json:"name"`
	LocalHash     string     `json:"localHash"`
	RemoteHash    string     `json:"remoteHash"`
	LocalModTime  *time.Time `json:"localModTime,omitempty"`
	RemoteModTime *time.Time `json:"remoteModTime,omitempty"`
	IsLocalNewer  bool       `json:"isLocalNewer"`
}

// Rename pairs a remote-only name with a local-only name that has the
// same content.
type Rename struct {
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}

// ProjectDiff is the comparison of one remote project with its folder.
type ProjectDiff struct {
	ProjectID      string         `json:"projectId"`
	ProjectName    string         `json:"projectName"`
	Folder         string         `json:"folder"`
	HasDifferences bool           `json:"hasDifferences"`
	RemoteOnly     []string       `json:"remoteOnly"`
	LocalOnly      []string       `json:"localOnly"`
	Modified       []ModifiedFile `json:"modified"`
	Renamed        []Rename       `json:"renamed"`

	// Files lists every compared name outside of Renamed with its status.
	Files []FileDiff `json:"files"`
}

// RemoteOnlyProject is a remote project without a local folder.
type RemoteOnlyProject struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Folder    string `json:"folder"`
	FileCount int    `json:"fileCount"`
}

// DiffSummary aggregates counts over a WorkspaceDiff.
type DiffSummary struct {
	ProjectsWithDifferences int `json:"projectsWithDifferences"`
	RemoteOnlyFiles         int `json:"remoteOnlyFiles"`
	LocalOnlyFiles          int `json:"localOnlyFiles"`
	ModifiedFiles           int `json:"modifiedFiles"`
	RenamedFiles            int `json:"renamedFiles"`
	RemoteOnlyProjects      int `json:"remoteOnlyProjects"`
	LocalOnlyFolders        int `json:"localOnlyFolders"`
}

// WorkspaceDiff is the comparison of a whole workspace.
type WorkspaceDiff struct {
	Projects           []ProjectDiff       `json:"projects"`
	RemoteOnlyProjects []RemoteOnlyProject `json:"remoteOnlyProjects"`
	LocalOnlyFolders   []string            `json:"localOnlyFolders"`
	Summary            DiffSummary         `json:"summary"`

	// Errors holds projects whose comparison failed.
	Errors []string `json:"errors,omitempty"`
}

// Stats counts the work done by one run. Created, Updated and Skipped
// count projects. Uploaded, Downloaded and Conflicts count files.
type Stats struct {
	Created     int `json:"created"`
	Updated     int `json:"updated"`
	Skipped     int `json:"skipped"`
	Errors      int `json:"errors"`
	Uploaded    int `json:"uploaded"`
	Downloaded  int `json:"downloaded"`
	Conflicts   int `json:"conflicts"`
	ChatsSynced int `json:"chatsSynced"`
}

// Conflict identifies a file left unresolved for explicit per-file
// resolution.
type Conflict struct {
	ProjectID   string `json:"projectId"`
	ProjectName string `json:"projectName"`
	File        string `json:"file"`
	Reason      string `json:"reason"`
}

// Result is the outcome of one engine run.
type Result struct {
	RunID      string     `json:"runId"`
	Operation  Operation  `json:"operation"`
	DryRun     bool       `json:"dryRun"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
	Success    bool       `json:"success"`
	Stats      Stats      `json:"stats"`
	Errors     []string   `json:"errors"`
	Conflicts  []Conflict `json:"conflicts,omitempty"`

	// Message is a one-line human summary.
	Message string `json:"message"`
}

// Phase is the stage a run is in.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseFetching     Phase = "fetching"
	PhaseSyncing      Phase = "syncing"
	PhaseComplete     Phase = "complete"
	PhaseError        Phase = "error"
)

// Progress is a snapshot emitted to the Observer during a run.
type Progress struct {
	RunID      string    `json:"runId"`
	Operation  Operation `json:"operation"`
	Phase      Phase     `json:"phase"`
	Project    string    `json:"project,omitempty"`
	Completed  int       `json:"completed"`
	Total      int       `json:"total"`
	Percentage int       `json:"percentage"`
	Message    string    `json:"message,omitempty"`
}

func percentage(completed, total int) int {
	if total <= 0 {
		return 0
	}

	if completed >= total {
		return 100
	}

	return completed * 100 / total
}
