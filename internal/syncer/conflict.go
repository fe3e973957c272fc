package syncer

import (
	"github.com/alexjbarnes/workspace-sync/internal/workspace"
)

// Resolution is the action taken for a modified file.
type Resolution int

const (
	// ResolvePull overwrites the local copy with the remote content.
	ResolvePull Resolution = iota

	// ResolvePush uploads the local content over the remote copy.
	ResolvePush

	// ResolveConflict leaves both copies untouched and reports the file
	// for explicit resolution.
	ResolveConflict
)

func (r Resolution) String() string {
	switch r {
	case ResolvePull:
		return "pull"
	case ResolvePush:
		return "push"
	case ResolveConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Resolve decides how a modified file is reconciled. This is a pure
// decision function with no I/O.
//
// With the newer strategy the side with the strictly later modification
// time wins; equal times go to remote. When either time is unknown the
// fallback strategy decides instead (local, remote or prompt; anything
// else behaves as remote).
func Resolve(strategy, fallback workspace.ConflictStrategy, m ModifiedFile) Resolution {
	switch strategy {
	case workspace.StrategyLocal:
		return ResolvePush
	case workspace.StrategyPrompt:
		return ResolveConflict
	case workspace.StrategyNewer:
		if m.LocalModTime == nil || m.RemoteModTime == nil {
			return resolveFallback(fallback)
		}

		if m.LocalModTime.After(*m.RemoteModTime) {
			return ResolvePush
		}

		return ResolvePull
	default:
		return ResolvePull
	}
}

func resolveFallback(fallback workspace.ConflictStrategy) Resolution {
	switch fallback {
	case workspace.StrategyLocal:
		return ResolvePush
	case workspace.StrategyPrompt:
		return ResolveConflict
	default:
		return ResolvePull
	}
}
