package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/alexjbarnes/workspace-sync/internal/auth"
	"github.com/alexjbarnes/workspace-sync/internal/config"
	"github.com/alexjbarnes/workspace-sync/internal/localstore"
	"github.com/alexjbarnes/workspace-sync/internal/logging"
	"github.com/alexjbarnes/workspace-sync/internal/remote"
	"github.com/alexjbarnes/workspace-sync/internal/state"
	"github.com/alexjbarnes/workspace-sync/internal/syncer"
	"github.com/spf13/pflag"
)

var Version = "dev"

// command is one subcommand of the CLI.
type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"download":    {"mirror every remote project into the workspace", runDownload},
	"chats":       {"export new or updated conversations only", runChats},
	"sync":        {"two-way sync using a conflict strategy", runSync},
	"diff":        {"show differences between the workspace and the remote", runDiff},
	"sync-file":   {"push or pull a single file", runSyncFile},
	"preview":     {"show a patch from the remote copy of a file to the local copy", runPreview},
	"export-chat": {"write one conversation as markdown", runExportChat},
	"settings":    {"show or change the workspace sync settings", runSettings},
	"status":      {"show the folder mapping and recent runs", runStatus},
	"reset":       {"forget the persisted workspace config and run history", runReset},
	"serve":       {"run auto sync with the MCP and progress endpoints", runServe},
}

func main() {
	// Handle hash-password subcommand before config loading.
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		hashPassword()
		return
	}

	if err := run(os.Args[1:]); err != nil {
		var ue *syncer.UsageError
		if errors.As(err, &ue) {
			fmt.Fprintf(os.Stderr, "usage error: %v\n", err)
			os.Exit(2)
		}

		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func hashPassword() {
	fmt.Fprint(os.Stderr, "Enter password: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		fmt.Fprintln(os.Stderr, "no input")
		os.Exit(1)
	}
	hash, err := auth.HashPassword(scanner.Text())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage(os.Stderr)
		return nil
	}

	if args[0] == "--version" || args[0] == "version" {
		fmt.Println(Version)
		return nil
	}

	cmd, ok := commands[args[0]]
	if !ok {
		printUsage(os.Stderr)
		return &syncer.UsageError{Msg: "unknown command: " + args[0]}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewStderrLogger(cfg.Environment)
	logger.Debug("workspace-sync starting",
		slog.String("version", Version),
		slog.String("command", args[0]),
		slog.String("workspace", cfg.WorkspaceDir),
	)

	a, err := newApp(cfg, logger, os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = cmd.run(ctx, a, args[1:])
	if errors.Is(err, errHelp) {
		return nil
	}

	return err
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "workspace-sync %s\n\nUsage: workspace-sync <command> [flags]\n\nCommands:\n", Version)

	names := make([]string, 0, len(commands)+1)
	for name := range commands {
		names = append(names, name)
	}
	names = append(names, "hash-password")
	sort.Strings(names)

	for _, name := range names {
		summary := "read a password from stdin and print its bcrypt hash"
		if c, ok := commands[name]; ok {
			summary = c.summary
		}
		fmt.Fprintf(w, "  %-14s %s\n", name, summary)
	}

	fmt.Fprintln(w, "\nConfiguration is read from the environment (or .env):")
	fmt.Fprintln(w, "  "+strings.Join([]string{
		"WORKSPACE_DIR", "ORGANIZATION_ID", "REMOTE_API_URL", "REMOTE_API_TOKEN",
		"REMOTE_RATE_LIMIT", "STATE_PATH", "ENVIRONMENT", "LISTEN_ADDR", "AUTH_USERS",
	}, ", "))
}

// app holds the long-lived dependencies shared by every command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	state  *state.State
	store  *localstore.Store
	engine *syncer.Engine
	out    io.Writer
}

func newApp(cfg *config.Config, logger *slog.Logger, out io.Writer) (*app, error) {
	st, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	client, err := remote.NewClient(remote.Options{
		BaseURL:   cfg.RemoteAPIURL,
		Token:     cfg.RemoteAPIToken,
		RateLimit: cfg.RemoteRateLimit,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating remote client: %w", err)
	}

	store, err := localstore.NewOS(cfg.WorkspaceDir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("opening workspace: %w", err)
	}

	engine := syncer.New(client, st, logger)
	engine.SetObserver(progressLogger(logger))

	return &app{
		cfg:    cfg,
		logger: logger,
		state:  st,
		store:  store,
		engine: engine,
		out:    out,
	}, nil
}

func (a *app) Close() {
	if err := a.state.Close(); err != nil {
		a.logger.Warn("closing state", slog.String("error", err.Error()))
	}
}

// progressLogger reports progress events at debug level.
func progressLogger(logger *slog.Logger) syncer.Observer {
	return syncer.ObserverFunc(func(p syncer.Progress) {
		logger.Debug("progress",
			slog.String("phase", string(p.Phase)),
			slog.Int("percent", p.Percentage),
			slog.String("project", p.Project),
			slog.String("message", p.Message),
		)
	})
}

// errHelp is returned by parse after printing a subcommand's usage.
var errHelp = errors.New("help requested")

// newFlags creates a flag set for a subcommand.
func newFlags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: workspace-sync %s [flags]\n\n%s", name, fs.FlagUsages())
	}

	return fs
}

// parse parses args and rejects unexpected positional arguments beyond
// maxArgs.
func parse(fs *pflag.FlagSet, args []string, maxArgs int) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return errHelp
		}
		return &syncer.UsageError{Msg: err.Error()}
	}

	if fs.NArg() > maxArgs {
		return &syncer.UsageError{Msg: "unexpected argument: " + fs.Arg(maxArgs)}
	}

	return nil
}
