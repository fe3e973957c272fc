// Package workspace defines the persisted mapping between remote projects
// and local folders, the per-workspace sync settings, and the on-disk
// layout of a synced workspace.
package workspace

import (
	"fmt"
	"strings"
	"time"
)

// Layout names inside the workspace root and each project folder.
const (
	// InstructionsFile is the project instructions document. It lives at
	// the project folder root and doubles as the sentinel file name used
	// when instructions are compared alongside knowledge files.
	InstructionsFile = "_instructions.md"

	KnowledgeDir     = "knowledge"
	ConversationsDir = "conversations"

	// MetadataDir is hidden so folder enumeration skips it.
	MetadataDir  = ".sync"
	MetadataFile = "metadata.json"

	// StandaloneDir holds conversations that belong to no project.
	StandaloneDir = "_conversations"

	// NormalizedExtension is appended to extensionless remote file names
	// when AutoAddExtension is enabled.
	NormalizedExtension = ".md"
)

// ConflictStrategy selects how a file modified on both sides is resolved.
type ConflictStrategy string

const (
	StrategyLocal  ConflictStrategy = "local"
	StrategyRemote ConflictStrategy = "remote"
	StrategyNewer  ConflictStrategy = "newer"
	StrategyPrompt ConflictStrategy = "prompt"
)

// ParseConflictStrategy parses a conflict strategy string. Empty input
// yields the default (remote).
func ParseConflictStrategy(s string) (ConflictStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "remote", "remote-wins", "":
		return StrategyRemote, nil
	case "local", "local-wins":
		return StrategyLocal, nil
	case "newer", "newer-wins":
		return StrategyNewer, nil
	case "prompt", "ask":
		return StrategyPrompt, nil
	default:
		return "", fmt.Errorf("unknown conflict strategy: %s (valid: local, remote, newer, prompt)", s)
	}
}

// Settings holds the synchronization settings of one workspace.
type Settings struct {
	AutoSync            bool             `json:"autoSync"`
	SyncIntervalMinutes int              `json:"syncIntervalMinutes"`
	Bidirectional       bool             `json:"bidirectional"`
	SyncChats           bool             `json:"syncChats"`
	AutoAddExtension    bool             `json:"autoAddExtension"`
	EnsureFrontmatter   bool             `json:"ensureFrontmatter"`
	ConflictStrategy    ConflictStrategy `json:"conflictStrategy"`

	// NewerFallback decides the newer strategy when either modification
	// time is unknown. Only local, remote and prompt are meaningful.
	NewerFallback ConflictStrategy `json:"newerFallback,omitempty"`
}

// DefaultSettings returns the settings used for a new workspace.
func DefaultSettings() Settings {
	return Settings{
		AutoSync:            false,
		SyncIntervalMinutes: 30,
		Bidirectional:       false,
		SyncChats:           true,
		AutoAddExtension:    true,
		EnsureFrontmatter:   false,
		ConflictStrategy:    StrategyRemote,
		NewerFallback:       StrategyRemote,
	}
}

// Validate checks that the settings are internally consistent.
func (s Settings) Validate() error {
	if s.SyncIntervalMinutes < 1 {
		return fmt.Errorf("sync interval must be at least 1 minute, got %d", s.SyncIntervalMinutes)
	}

	if _, err := ParseConflictStrategy(string(s.ConflictStrategy)); err != nil {
		return err
	}

	if s.NewerFallback == StrategyNewer {
		return fmt.Errorf("newer fallback cannot itself be %q", StrategyNewer)
	}

	if _, err := ParseConflictStrategy(string(s.NewerFallback)); err != nil {
		return fmt.Errorf("newer fallback: %w", err)
	}

	return nil
}

// Interval returns the auto-sync interval as a duration.
func (s Settings) Interval() time.Duration {
	return time.Duration(s.SyncIntervalMinutes) * time.Minute
}

// Config is the persisted state of one workspace.
type Config struct {
	WorkspacePath string            `json:"workspacePath"`
	ProjectMap    map[string]string `json:"projectMap"`
	LastSync      *time.Time        `json:"lastSync"`
	Settings      Settings          `json:"settings"`
}

// NewConfig returns an empty config with default settings.
func NewConfig(workspacePath string) *Config {
	return &Config{
		WorkspacePath: workspacePath,
		ProjectMap:    make(map[string]string),
		Settings:      DefaultSettings(),
	}
}

// FolderOwner returns the project id mapped to folder, if any.
func (c *Config) FolderOwner(folder string) (string, bool) {
	for id, f := range c.ProjectMap {
		if f == folder {
			return id, true
		}
	}

	return "", false
}

// AssignFolder returns the folder for projectID, creating a mapping when
// none exists. The folder name is derived from projectName and made
// unique against folders mapped to other projects and reserved folder
// names by appending "-2", "-3", ... The boolean reports whether a new
// mapping was added.
func (c *Config) AssignFolder(projectID, projectName string) (string, bool) {
	if c.ProjectMap == nil {
		c.ProjectMap = make(map[string]string)
	}

	if folder, ok := c.ProjectMap[projectID]; ok && folder != "" {
		return folder, false
	}

	base := SanitizeFolderName(projectName)
	candidate := base

	for i := 2; ; i++ {
		owner, taken := c.FolderOwner(candidate)
		if (!taken || owner == projectID) && !IsReservedFolder(candidate) {
			break
		}

		candidate = fmt.Sprintf("%s-%d", base, i)
	}

	c.ProjectMap[projectID] = candidate

	return candidate, true
}

// MarkSynced records t as the last successful sync time.
func (c *Config) MarkSynced(t time.Time) {
	t = t.UTC()
	c.LastSync = &t
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	out := *c

	out.ProjectMap = make(map[string]string, len(c.ProjectMap))
	for k, v := range c.ProjectMap {
		out.ProjectMap[k] = v
	}

	if c.LastSync != nil {
		t := *c.LastSync
		out.LastSync = &t
	}

	return &out
}
