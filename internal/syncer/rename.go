package syncer

import (
	"sort"

	"github.com/alexjbarnes/workspace-sync/internal/workspace"
)

// DetectRenames joins remote-only and local-only files by content hash.
// Both maps go from file name to content hash. Every local-only file
// whose hash matches an unclaimed remote-only file becomes a rename from
// the remote name to the local name, and both names leave the plain
// lists. Matching is exact: a rename combined with any content change is
// reported as one remote-only and one local-only file. The instructions
// document never takes part.
//
// Results are sorted by name so repeated runs over the same input agree.
func DetectRenames(remoteOnly, localOnly map[string]string) (renames []Rename, restRemote, restLocal []string) {
	byHash := make(map[string]string, len(remoteOnly))

	for _, name := range sortedKeys(remoteOnly) {
		if name == workspace.InstructionsFile {
			continue
		}

		h := remoteOnly[name]
		if _, dup := byHash[h]; !dup {
			byHash[h] = name
		}
	}

	claimed := make(map[string]bool)

	for _, name := range sortedKeys(localOnly) {
		if name == workspace.InstructionsFile {
			restLocal = append(restLocal, name)
			continue
		}

		old, ok := byHash[localOnly[name]]
		if !ok {
			restLocal = append(restLocal, name)
			continue
		}

		renames = append(renames, Rename{OldName: old, NewName: name})
		claimed[old] = true

		delete(byHash, localOnly[name])
	}

	for _, name := range sortedKeys(remoteOnly) {
		if !claimed[name] {
			restRemote = append(restRemote, name)
		}
	}

	return renames, restRemote, restLocal
}

// RenameDirection is the side a detected rename happened on.
type RenameDirection int

const (
	// RenamePush means the file was renamed locally; the remote copy
	// under the old name is replaced by the new name.
	RenamePush RenameDirection = iota

	// RenamePull means the file was renamed remotely; the local copy
	// under the new name is replaced by the old (remote) name.
	RenamePull

	// RenameAmbiguous means both names were present at the last sync, so
	// either side may have renamed.
	RenameAmbiguous
)

// InferRenameDirection decides where a rename originated using the file
// manifest recorded at the last sync. A rename whose old (remote) name
// was known and whose new (local) name was not happened locally, and
// vice versa. Without a manifest, or when neither name was known, the
// rename is treated as local.
func InferRenameDirection(meta *workspace.ProjectMetadata, r Rename) RenameDirection {
	oldKnown := meta.Known(r.OldName)
	newKnown := meta.Known(r.NewName)

	switch {
	case oldKnown && newKnown:
		return RenameAmbiguous
	case newKnown:
		return RenamePull
	default:
		return RenamePush
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
