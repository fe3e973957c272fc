package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/workspace-sync/internal/chatexport"
	"github.com/alexjbarnes/workspace-sync/internal/localstore"
	"github.com/alexjbarnes/workspace-sync/internal/syncer"
	"github.com/alexjbarnes/workspace-sync/internal/workspace"
)

func runDownload(ctx context.Context, a *app, args []string) error {
	fs := newFlags("download")
	dryRun := fs.Bool("dry-run", false, "report what would change without writing")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	if err := parse(fs, args, 0); err != nil {
		return err
	}

	res, err := a.engine.DownloadSync(ctx, a.store, a.cfg.OrganizationID, *dryRun)

	return a.finish(res, err, *asJSON)
}

func runChats(ctx context.Context, a *app, args []string) error {
	fs := newFlags("chats")
	dryRun := fs.Bool("dry-run", false, "report what would change without writing")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	if err := parse(fs, args, 0); err != nil {
		return err
	}

	res, err := a.engine.ChatsOnlySync(ctx, a.store, a.cfg.OrganizationID, *dryRun)

	return a.finish(res, err, *asJSON)
}

func runSync(ctx context.Context, a *app, args []string) error {
	fs := newFlags("sync")
	strategy := fs.String("strategy", "", "conflict strategy: local, remote, newer or prompt (default: workspace setting)")
	dryRun := fs.Bool("dry-run", false, "report what would change without writing")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	if err := parse(fs, args, 0); err != nil {
		return err
	}

	res, err := a.engine.BidirectionalSync(ctx, a.store, a.cfg.OrganizationID, workspace.ConflictStrategy(*strategy), *dryRun)

	return a.finish(res, err, *asJSON)
}

func runSyncFile(ctx context.Context, a *app, args []string) error {
	fs := newFlags("sync-file")
	project := fs.String("project", "", "remote project id")
	file := fs.String("file", "", "local file name, e.g. notes.md or "+workspace.InstructionsFile)
	direction := fs.String("direction", "", "push or pull")
	dryRun := fs.Bool("dry-run", false, "report what would change without writing")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	if err := parse(fs, args, 0); err != nil {
		return err
	}

	res, err := a.engine.SyncFile(ctx, a.store, a.cfg.OrganizationID, syncer.FileRequest{
		ProjectID: *project,
		Name:      *file,
		Direction: syncer.Direction(*direction),
		DryRun:    *dryRun,
	})

	return a.finish(res, err, *asJSON)
}

func runDiff(ctx context.Context, a *app, args []string) error {
	fs := newFlags("diff")
	project := fs.String("project", "", "compare a single project")
	asJSON := fs.Bool("json", false, "print the diff as JSON")
	if err := parse(fs, args, 0); err != nil {
		return err
	}

	if *project != "" {
		pd, err := a.engine.CompareProject(ctx, a.store, a.cfg.OrganizationID, *project)
		if err != nil {
			return err
		}

		if *asJSON {
			return writeJSON(a.out, pd)
		}

		printProjectDiff(a.out, pd)

		return nil
	}

	d, err := a.engine.WorkspaceDiff(ctx, a.store, a.cfg.OrganizationID)
	if err != nil {
		return err
	}

	if *asJSON {
		return writeJSON(a.out, d)
	}

	printWorkspaceDiff(a.out, d)

	return nil
}

func runPreview(ctx context.Context, a *app, args []string) error {
	fs := newFlags("preview")
	project := fs.String("project", "", "remote project id")
	file := fs.String("file", "", "local file name")
	if err := parse(fs, args, 0); err != nil {
		return err
	}

	if *project == "" || *file == "" {
		return &syncer.UsageError{Msg: "--project and --file are required"}
	}

	pv, err := a.engine.PreviewFile(ctx, a.store, a.cfg.OrganizationID, *project, *file)
	if err != nil {
		return err
	}

	printPreview(a.out, pv)

	return nil
}

func runExportChat(ctx context.Context, a *app, args []string) error {
	fs := newFlags("export-chat")
	out := fs.String("out", ".", `directory to write to, or "-" for stdout`)
	frontmatter := fs.Bool("frontmatter", false, "prepend YAML frontmatter (default: workspace setting)")
	if err := parse(fs, args, 1); err != nil {
		return err
	}

	if fs.NArg() != 1 {
		return &syncer.UsageError{Msg: "export-chat takes exactly one conversation id"}
	}

	opts := chatexport.Options{Frontmatter: *frontmatter}
	if !fs.Changed("frontmatter") {
		cfg, err := a.state.LoadWorkspace(a.store.RootPath())
		if err != nil {
			return err
		}
		opts.Frontmatter = cfg.Settings.EnsureFrontmatter
	}

	exp, err := a.engine.ExportConversation(ctx, a.cfg.OrganizationID, fs.Arg(0), opts)
	if err != nil {
		return err
	}

	if *out == "-" {
		_, err := fmt.Fprint(a.out, exp.Content)
		return err
	}

	dest, err := localstore.NewOS(*out)
	if err != nil {
		return err
	}

	if err := dest.WriteTextFile(dest.Root(), exp.FileName, exp.Content, time.Time{}); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "wrote %s\n", filepath.Join(dest.RootPath(), exp.FileName))

	return nil
}

func runSettings(_ context.Context, a *app, args []string) error {
	fs := newFlags("settings")
	autoSync := fs.Bool("auto-sync", false, "sync automatically while serving")
	interval := fs.Int("interval", 0, "auto sync interval in minutes")
	bidirectional := fs.Bool("bidirectional", false, "auto sync in both directions instead of downloading")
	syncChats := fs.Bool("sync-chats", false, "export conversations during syncs")
	autoAdd := fs.Bool("auto-add-extension", false, "map extensionless remote files to .md locally")
	ensureFM := fs.Bool("ensure-frontmatter", false, "prepend YAML frontmatter to exported conversations")
	strategy := fs.String("conflict-strategy", "", "default conflict strategy: local, remote, newer or prompt")
	fallback := fs.String("newer-fallback", "", "side chosen by the newer strategy when a time is unknown: local, remote or prompt")
	asJSON := fs.Bool("json", false, "print the settings as JSON")
	if err := parse(fs, args, 0); err != nil {
		return err
	}

	cfg, err := a.state.LoadWorkspace(a.store.RootPath())
	if err != nil {
		return err
	}

	s := &cfg.Settings
	changed := false

	apply := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
			changed = true
		}
	}

	apply("auto-sync", func() { s.AutoSync = *autoSync })
	apply("interval", func() { s.SyncIntervalMinutes = *interval })
	apply("bidirectional", func() { s.Bidirectional = *bidirectional })
	apply("sync-chats", func() { s.SyncChats = *syncChats })
	apply("auto-add-extension", func() { s.AutoAddExtension = *autoAdd })
	apply("ensure-frontmatter", func() { s.EnsureFrontmatter = *ensureFM })
	apply("conflict-strategy", func() { s.ConflictStrategy = workspace.ConflictStrategy(*strategy) })
	apply("newer-fallback", func() { s.NewerFallback = workspace.ConflictStrategy(*fallback) })

	if changed {
		if err := s.Validate(); err != nil {
			return &syncer.UsageError{Msg: err.Error()}
		}

		if err := a.state.SaveWorkspace(cfg); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}

		a.logger.Info("settings updated", slog.String("workspace", cfg.WorkspacePath))
	}

	if *asJSON {
		return writeJSON(a.out, cfg.Settings)
	}

	printSettings(a.out, cfg.Settings)

	return nil
}

func runStatus(_ context.Context, a *app, args []string) error {
	fs := newFlags("status")
	limit := fs.Int("limit", 10, "number of recent runs to show")
	asJSON := fs.Bool("json", false, "print the status as JSON")
	if err := parse(fs, args, 0); err != nil {
		return err
	}

	cfg, err := a.state.LoadWorkspace(a.store.RootPath())
	if err != nil {
		return err
	}

	runs, err := a.state.RecentRuns(a.store.RootPath(), *limit)
	if err != nil {
		return fmt.Errorf("reading run history: %w", err)
	}

	if *asJSON {
		return writeJSON(a.out, statusView{Config: cfg, Runs: runs})
	}

	printStatus(a.out, cfg, runs)

	return nil
}

func runReset(_ context.Context, a *app, args []string) error {
	fs := newFlags("reset")
	yes := fs.Bool("yes", false, "confirm the reset")
	if err := parse(fs, args, 0); err != nil {
		return err
	}

	if !*yes {
		return &syncer.UsageError{Msg: "reset forgets the project to folder mapping, settings and run history; pass --yes to confirm"}
	}

	if err := a.state.ResetWorkspace(a.store.RootPath()); err != nil {
		return fmt.Errorf("resetting workspace: %w", err)
	}

	fmt.Fprintf(a.out, "reset %s\n", a.store.RootPath())

	return nil
}

// finish records and prints the outcome of an orchestrator run. The
// summary is printed even when the run failed.
func (a *app) finish(res *syncer.Result, err error, asJSON bool) error {
	var ue *syncer.UsageError
	if res == nil || errors.As(err, &ue) {
		return err
	}

	a.record(res)

	if asJSON {
		if jerr := writeJSON(a.out, res); jerr != nil {
			return jerr
		}
	} else {
		printResult(a.out, res)
	}

	return err
}

// record appends a run to the workspace's history.
func (a *app) record(res *syncer.Result) {
	if err := a.state.AppendRun(a.store.RootPath(), runRecord(res)); err != nil {
		a.logger.Warn("recording run", slog.String("error", err.Error()))
	}
}
