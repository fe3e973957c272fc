// Package localstore is the local side of a workspace sync: a directory
// tree rooted at the workspace folder, accessed through directory
// capabilities handed out by the Store.
package localstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	serrors "github.com/alexjbarnes/workspace-sync/internal/errors"
	"github.com/gofrs/flock"
	"github.com/spf13/afero"
)

const (
	// dirPerm is the permission mode for directories created inside the
	// workspace.
	dirPerm = fs.FileMode(0o755)

	// filePerm is the permission mode for files written inside the
	// workspace.
	filePerm = fs.FileMode(0o644)

	// LockFile is created at the workspace root while a sync runs.
	LockFile = ".sync.lock"
)

// mtimeMin and mtimeMax clamp server-provided modification times to a
// reasonable range.
var (
	mtimeMin = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	mtimeMax = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Dir is a capability for one directory inside the workspace. The zero
// value is the workspace root. Dirs are only obtained from a Store and
// are not meant to be persisted across runs.
type Dir struct {
	rel string
}

// Path returns the directory path relative to the workspace root, using
// forward slashes. The root is "".
func (d Dir) Path() string {
	return d.rel
}

func (d Dir) child(name string) Dir {
	if d.rel == "" {
		return Dir{rel: name}
	}

	return Dir{rel: d.rel + "/" + name}
}

// FileInfo describes a file in a directory listing.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// WriteError reports a failed write of a specific file. No partial file
// is left behind when it is returned.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string { return fmt.Sprintf("writing %s: %v", e.Path, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// Store provides scoped file operations on the workspace directory.
type Store struct {
	fs       afero.Fs
	root     string
	lockPath string
}

// New creates a Store on fsys rooted at root. The root is not created
// until the first write, so read-only use leaves the filesystem alone.
func New(fsys afero.Fs, root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace directory must not be empty")
	}

	return &Store{fs: fsys, root: filepath.Clean(root)}, nil
}

// EnsureRoot creates the workspace root if it does not exist.
func (s *Store) EnsureRoot() error {
	if err := s.fs.MkdirAll(s.root, dirPerm); err != nil {
		return classify(fmt.Sprintf("creating workspace directory %s", s.root), err)
	}

	return nil
}

// NewOS creates a Store on the operating system filesystem. The root is
// resolved to an absolute path and a lock file guards against two
// processes syncing the same workspace.
func NewOS(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace directory: %w", err)
	}

	s, err := New(afero.NewOsFs(), abs)
	if err != nil {
		return nil, err
	}

	s.lockPath = filepath.Join(abs, LockFile)

	return s, nil
}

// Root returns the capability for the workspace root.
func (s *Store) Root() Dir {
	return Dir{}
}

// RootPath returns the workspace root path on the underlying filesystem.
func (s *Store) RootPath() string {
	return s.root
}

// VerifyPermission creates the workspace root if needed and checks that
// it is writable by creating and removing a scratch file. A denial is
// reported as ErrPermission.
func (s *Store) VerifyPermission() error {
	if err := s.EnsureRoot(); err != nil {
		return err
	}

	info, err := s.fs.Stat(s.root)
	if err != nil {
		return classify(fmt.Sprintf("accessing workspace %s", s.root), err)
	}

	if !info.IsDir() {
		return fmt.Errorf("workspace %s is not a directory", s.root)
	}

	f, err := afero.TempFile(s.fs, s.root, ".perm-check-*")
	if err != nil {
		return classify(fmt.Sprintf("writing to workspace %s", s.root), err)
	}

	name := f.Name()
	f.Close()

	if err := s.fs.Remove(name); err != nil {
		return classify(fmt.Sprintf("removing permission check file in %s", s.root), err)
	}

	return nil
}

// Lock takes the cross-process workspace lock, creating the root if
// needed. The returned function releases it. Stores without a lock path
// return a no-op release.
func (s *Store) Lock() (func(), error) {
	if s.lockPath == "" {
		return func() {}, nil
	}

	if err := s.EnsureRoot(); err != nil {
		return nil, err
	}

	lock := flock.New(s.lockPath)

	locked, err := lock.TryLock()
	if err != nil {
		return nil, classify("acquiring workspace lock", err)
	}

	if !locked {
		return nil, serrors.ErrSyncInProgress
	}

	return func() { _ = lock.Unlock() }, nil
}

// GetOrCreateDirectory returns the named child directory of parent,
// creating it if it does not exist.
func (s *Store) GetOrCreateDirectory(parent Dir, name string) (Dir, error) {
	abs, err := s.resolve(parent, name)
	if err != nil {
		return Dir{}, err
	}

	if err := s.fs.MkdirAll(abs, dirPerm); err != nil {
		return Dir{}, classify(fmt.Sprintf("creating directory %s", parent.child(name).rel), err)
	}

	return parent.child(name), nil
}

// LookupDirectory returns the named child directory of parent without
// creating it. The boolean is false when it does not exist.
func (s *Store) LookupDirectory(parent Dir, name string) (Dir, bool, error) {
	abs, err := s.resolve(parent, name)
	if err != nil {
		return Dir{}, false, err
	}

	info, err := s.fs.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Dir{}, false, nil
		}

		return Dir{}, false, classify(fmt.Sprintf("stat %s", parent.child(name).rel), err)
	}

	if !info.IsDir() {
		return Dir{}, false, nil
	}

	return parent.child(name), true, nil
}

// ReadTextFile returns the content of a file. The boolean is false when
// the file does not exist.
func (s *Store) ReadTextFile(dir Dir, name string) (string, bool, error) {
	abs, err := s.resolve(dir, name)
	if err != nil {
		return "", false, err
	}

	data, err := afero.ReadFile(s.fs, abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}

		return "", false, classify(fmt.Sprintf("reading %s", dir.child(name).rel), err)
	}

	return string(data), true, nil
}

// StatFile returns the info of a file. The boolean is false when the
// file does not exist.
func (s *Store) StatFile(dir Dir, name string) (FileInfo, bool, error) {
	abs, err := s.resolve(dir, name)
	if err != nil {
		return FileInfo{}, false, err
	}

	info, err := s.fs.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, false, nil
		}

		return FileInfo{}, false, classify(fmt.Sprintf("stat %s", dir.child(name).rel), err)
	}

	if info.IsDir() {
		return FileInfo{}, false, nil
	}

	return FileInfo{Name: name, Size: info.Size(), ModTime: info.ModTime()}, true, nil
}

// WriteTextFile writes content to a file in dir. The content goes to a
// temporary file first and is renamed into place, so a failed write
// never leaves a partial file. If mtime is non-zero the file's
// modification time is set to it.
func (s *Store) WriteTextFile(dir Dir, name, content string, mtime time.Time) error {
	rel := dir.child(name).rel

	abs, err := s.resolve(dir, name)
	if err != nil {
		return &WriteError{Path: rel, Err: err}
	}

	parent := filepath.Dir(abs)
	if err := s.fs.MkdirAll(parent, dirPerm); err != nil {
		return &WriteError{Path: rel, Err: classify("creating parent directory", err)}
	}

	tmp, err := afero.TempFile(s.fs, parent, "."+name+".*.tmp")
	if err != nil {
		return &WriteError{Path: rel, Err: classify("creating temporary file", err)}
	}

	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)

		return &WriteError{Path: rel, Err: classify("writing temporary file", err)}
	}

	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return &WriteError{Path: rel, Err: err}
	}

	if err := s.fs.Chmod(tmpName, filePerm); err != nil {
		_ = s.fs.Remove(tmpName)
		return &WriteError{Path: rel, Err: classify("setting permissions", err)}
	}

	if err := s.fs.Rename(tmpName, abs); err != nil {
		_ = s.fs.Remove(tmpName)
		return &WriteError{Path: rel, Err: classify("renaming into place", err)}
	}

	if !mtime.IsZero() {
		mtime = clampMtime(mtime)
		if err := s.fs.Chtimes(abs, mtime, mtime); err != nil {
			return &WriteError{Path: rel, Err: fmt.Errorf("setting mtime: %w", err)}
		}
	}

	return nil
}

// DeleteFile removes a file from dir. Returns nil if it does not exist.
func (s *Store) DeleteFile(dir Dir, name string) error {
	abs, err := s.resolve(dir, name)
	if err != nil {
		return err
	}

	err = s.fs.Remove(abs)
	if err != nil && !os.IsNotExist(err) {
		return classify(fmt.Sprintf("removing %s", dir.child(name).rel), err)
	}

	return nil
}

// ListFiles returns the regular files directly inside dir, sorted by
// name. Hidden files (including in-flight temporary files) are skipped.
// A missing directory yields an empty list.
func (s *Store) ListFiles(dir Dir) ([]FileInfo, error) {
	entries, err := s.readDir(dir)
	if err != nil {
		return nil, err
	}

	var files []FileInfo

	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !e.Mode().IsRegular() {
			continue
		}

		files = append(files, FileInfo{Name: e.Name(), Size: e.Size(), ModTime: e.ModTime()})
	}

	return files, nil
}

// ListDirectories returns the names of the directories directly inside
// dir, sorted. A missing directory yields an empty list.
func (s *Store) ListDirectories(dir Dir) ([]string, error) {
	entries, err := s.readDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string

	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}

	return names, nil
}

func (s *Store) readDir(dir Dir) ([]os.FileInfo, error) {
	abs := s.root
	if dir.rel != "" {
		abs = filepath.Join(s.root, filepath.FromSlash(dir.rel))
	}

	entries, err := afero.ReadDir(s.fs, abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, classify(fmt.Sprintf("listing %q", dir.rel), err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	return entries, nil
}

// resolve converts a directory capability and a single path component
// into an absolute path, rejecting names that could escape dir.
func (s *Store) resolve(dir Dir, name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	return filepath.Join(s.root, filepath.FromSlash(dir.rel), name), nil
}

func validateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty file name")
	case name == "." || name == "..":
		return fmt.Errorf("invalid file name %q", name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("file name contains null byte: %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("file name contains a path separator: %q", name)
	}

	return nil
}

// classify wraps err with context, marking permission denials with
// ErrPermission so callers can abort the run instead of retrying.
func classify(context string, err error) error {
	if os.IsPermission(err) || errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %s: %v", serrors.ErrPermission, context, err)
	}

	return fmt.Errorf("%s: %w", context, err)
}

// clampMtime restricts a timestamp to the range [2000, 2100).
func clampMtime(t time.Time) time.Time {
	if t.Before(mtimeMin) {
		return mtimeMin
	}

	if t.After(mtimeMax) {
		return mtimeMax
	}

	return t
}
