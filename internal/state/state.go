package state

import (
	"encoding/binary"
	"errors"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/workspace-sync/internal/workspace"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.workspace-sync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second

	// maxRunsKept bounds the run history per workspace.
	maxRunsKept = 50
)

var workspacesBucket = []byte("workspaces")

func runsBucket(workspacePath string) []byte {
	return []byte("runs:" + workspacePath)
}

// RunRecord is one entry of a workspace's run history.
type RunRecord struct {
	RunID      string    `json:"runId"`
	Operation  string    `json:"operation"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	DryRun     bool      `json:"dryRun"`
	Success    bool      `json:"success"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Skipped    int       `json:"skipped"`
	Uploaded   int       `json:"uploaded"`
	Downloaded int       `json:"downloaded"`
	Conflicts  int       `json:"conflicts"`
	Chats      int       `json:"chats"`
	Errors     []string  `json:"errors,omitempty"`
}

// State wraps a bbolt database for all persistent application state.
type State struct {
	db *bolt.DB
}

// Load opens the state database at ~/.workspace-sync/state.db, creating
// it if it does not exist.
func Load() (*State, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}

	return LoadAt(path)
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(workspacesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// LoadWorkspace returns the persisted config for a workspace, or a new
// config with default settings if none has been saved yet.
func (s *State) LoadWorkspace(workspacePath string) (*workspace.Config, error) {
	cfg := workspace.NewConfig(workspacePath)

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(workspacesBucket).Get([]byte(workspacePath))
		if v == nil {
			return nil
		}

		return json.Unmarshal(v, cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("reading workspace config: %w", err)
	}

	if cfg.ProjectMap == nil {
		cfg.ProjectMap = make(map[string]string)
	}

	return cfg, nil
}

// SaveWorkspace persists a workspace config, keyed by its WorkspacePath.
func (s *State) SaveWorkspace(cfg *workspace.Config) error {
	if cfg.WorkspacePath == "" {
		return fmt.Errorf("workspace path is required for persistence")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(cfg)
		if err != nil {
			return err
		}

		return tx.Bucket(workspacesBucket).Put([]byte(cfg.WorkspacePath), data)
	})
}

// ResetWorkspace deletes a workspace's config and run history.
func (s *State) ResetWorkspace(workspacePath string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(workspacesBucket).Delete([]byte(workspacePath)); err != nil {
			return err
		}

		err := tx.DeleteBucket(runsBucket(workspacePath))
		if err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}

		return nil
	})
}

// AppendRun adds a run to the workspace's history, dropping the oldest
// entries beyond maxRunsKept.
func (s *State) AppendRun(workspacePath string, rec RunRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(runsBucket(workspacePath))
		if err != nil {
			return err
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}

		var keys [][]byte

		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}

		// Keys are big-endian sequence numbers, so the cursor walks
		// oldest first.
		for i := 0; i < len(keys)-maxRunsKept; i++ {
			if err := b.Delete(keys[i]); err != nil {
				return err
			}
		}

		return nil
	})
}

// RecentRuns returns up to n runs, newest first.
func (s *State) RecentRuns(workspacePath string, n int) ([]RunRecord, error) {
	var runs []RunRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(runsBucket(workspacePath))
		if b == nil {
			return nil
		}

		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(runs) < n; k, v = c.Prev() {
			var rec RunRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}

			runs = append(runs, rec)
		}

		return nil
	})

	return runs, err
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)

	return k
}

// DefaultPath returns ~/.workspace-sync/state.db.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".workspace-sync", "state.db"), nil
}
