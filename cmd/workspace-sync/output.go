package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/alexjbarnes/workspace-sync/internal/state"
	"github.com/alexjbarnes/workspace-sync/internal/syncer"
	"github.com/alexjbarnes/workspace-sync/internal/workspace"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// runRecord converts a run result into its history entry.
func runRecord(res *syncer.Result) state.RunRecord {
	return state.RunRecord{
		RunID:      res.RunID,
		Operation:  string(res.Operation),
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		DryRun:     res.DryRun,
		Success:    res.Success,
		Created:    res.Stats.Created,
		Updated:    res.Stats.Updated,
		Skipped:    res.Stats.Skipped,
		Uploaded:   res.Stats.Uploaded,
		Downloaded: res.Stats.Downloaded,
		Conflicts:  res.Stats.Conflicts,
		Chats:      res.Stats.ChatsSynced,
		Errors:     res.Errors,
	}
}

func printResult(w io.Writer, res *syncer.Result) {
	outcome := "finished"
	if !res.Success {
		outcome = "finished with errors"
	}

	mode := ""
	if res.DryRun {
		mode = " (dry run, nothing written)"
	}

	fmt.Fprintf(w, "%s %s in %s%s\n", res.Operation, outcome, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond), mode)

	s := res.Stats
	fmt.Fprintf(w, "  projects: %d created, %d updated, %d skipped\n", s.Created, s.Updated, s.Skipped)
	fmt.Fprintf(w, "  files:    %d downloaded, %d uploaded, %d conflicts\n", s.Downloaded, s.Uploaded, s.Conflicts)
	fmt.Fprintf(w, "  chats:    %d exported\n", s.ChatsSynced)

	if res.Message != "" {
		fmt.Fprintf(w, "  %s\n", res.Message)
	}

	if len(res.Conflicts) > 0 {
		fmt.Fprintln(w, "conflicts (resolve with sync-file --direction push|pull):")
		for _, c := range res.Conflicts {
			fmt.Fprintf(w, "  %s/%s [%s]: %s\n", c.ProjectName, c.File, c.ProjectID, c.Reason)
		}
	}

	if len(res.Errors) > 0 {
		fmt.Fprintln(w, "errors:")
		for _, e := range res.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
}

func printWorkspaceDiff(w io.Writer, d *syncer.WorkspaceDiff) {
	for i := range d.Projects {
		if d.Projects[i].HasDifferences {
			printProjectDiff(w, &d.Projects[i])
		}
	}

	for _, p := range d.RemoteOnlyProjects {
		fmt.Fprintf(w, "remote only: %s (%d files) -> %s/\n", p.Name, p.FileCount, p.Folder)
	}

	for _, f := range d.LocalOnlyFolders {
		fmt.Fprintf(w, "local only:  %s/\n", f)
	}

	for _, e := range d.Errors {
		fmt.Fprintf(w, "error: %s\n", e)
	}

	s := d.Summary
	if s == (syncer.DiffSummary{}) && len(d.Errors) == 0 {
		fmt.Fprintln(w, "workspace is in sync")
		return
	}

	fmt.Fprintf(w, "%d projects differ: %d remote only, %d local only, %d modified, %d renamed files\n",
		s.ProjectsWithDifferences, s.RemoteOnlyFiles, s.LocalOnlyFiles, s.ModifiedFiles, s.RenamedFiles)
}

func printProjectDiff(w io.Writer, p *syncer.ProjectDiff) {
	fmt.Fprintf(w, "%s (%s) -> %s/\n", p.ProjectName, p.ProjectID, p.Folder)

	if !p.HasDifferences {
		fmt.Fprintln(w, "  in sync")
		return
	}

	for _, n := range p.RemoteOnly {
		fmt.Fprintf(w, "  - %s (remote only)\n", n)
	}

	for _, n := range p.LocalOnly {
		fmt.Fprintf(w, "  + %s (local only)\n", n)
	}

	for _, m := range p.Modified {
		newer := "remote newer"
		switch {
		case m.LocalModTime == nil || m.RemoteModTime == nil:
			newer = "times unknown"
		case m.IsLocalNewer:
			newer = "local newer"
		}
		fmt.Fprintf(w, "  ~ %s (modified, %s)\n", m.Name, newer)
	}

	for _, r := range p.Renamed {
		fmt.Fprintf(w, "  > %s -> %s (renamed)\n", r.OldName, r.NewName)
	}
}

func printPreview(w io.Writer, pv *syncer.Preview) {
	switch {
	case pv.Identical:
		fmt.Fprintf(w, "%s: identical\n", pv.File)
	case !pv.LocalExists:
		fmt.Fprintf(w, "%s: remote only\n", pv.File)
	case !pv.RemoteExists:
		fmt.Fprintf(w, "%s: local only\n", pv.File)
	default:
		fmt.Fprintf(w, "%s: differs (patch turns remote into local)\n", pv.File)
	}

	if pv.Patch != "" {
		fmt.Fprint(w, pv.Patch)
		if !strings.HasSuffix(pv.Patch, "\n") {
			fmt.Fprintln(w)
		}
	}
}

func printSettings(w io.Writer, s workspace.Settings) {
	fmt.Fprintf(w, "auto sync:          %t (every %d min)\n", s.AutoSync, s.SyncIntervalMinutes)
	fmt.Fprintf(w, "bidirectional:      %t\n", s.Bidirectional)
	fmt.Fprintf(w, "sync chats:         %t\n", s.SyncChats)
	fmt.Fprintf(w, "auto add extension: %t\n", s.AutoAddExtension)
	fmt.Fprintf(w, "ensure frontmatter: %t\n", s.EnsureFrontmatter)
	fmt.Fprintf(w, "conflict strategy:  %s\n", s.ConflictStrategy)
	fmt.Fprintf(w, "newer fallback:     %s\n", s.NewerFallback)
}

// statusView is the JSON form of the status command.
type statusView struct {
	Config *workspace.Config `json:"config"`
	Runs   []state.RunRecord `json:"runs"`
}

func printStatus(w io.Writer, cfg *workspace.Config, runs []state.RunRecord) {
	fmt.Fprintf(w, "workspace: %s\n", cfg.WorkspacePath)

	if cfg.LastSync != nil {
		fmt.Fprintf(w, "last sync: %s\n", cfg.LastSync.Local().Format(time.RFC3339))
	} else {
		fmt.Fprintln(w, "last sync: never")
	}

	if len(cfg.ProjectMap) > 0 {
		fmt.Fprintln(w, "projects:")
		for _, id := range sortedKeys(cfg.ProjectMap) {
			fmt.Fprintf(w, "  %s -> %s/\n", id, cfg.ProjectMap[id])
		}
	}

	if len(runs) == 0 {
		return
	}

	fmt.Fprintln(w, "recent runs:")
	for _, r := range runs {
		status := "ok"
		if !r.Success {
			status = fmt.Sprintf("%d errors", len(r.Errors))
		}

		dry := ""
		if r.DryRun {
			dry = " dry-run"
		}

		fmt.Fprintf(w, "  %s %-14s%s %s: +%d ~%d down %d up %d conflicts %d chats %d\n",
			r.StartedAt.Local().Format("2006-01-02 15:04"), r.Operation, dry, status,
			r.Created, r.Updated, r.Downloaded, r.Uploaded, r.Conflicts, r.Chats)
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
