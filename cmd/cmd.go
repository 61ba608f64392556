package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/thiagokokada/gitpatcher-go/internal/apply"
	"github.com/thiagokokada/gitpatcher-go/internal/buildinfo"
	"github.com/thiagokokada/gitpatcher-go/internal/config"
	"github.com/thiagokokada/gitpatcher-go/internal/patcher"
	"github.com/thiagokokada/gitpatcher-go/internal/report"
	"github.com/thiagokokada/gitpatcher-go/internal/watch"
)

const name = "gitpatcher-go"

const usage = `usage: gitpatcher-go [flags] <command> [flags]

commands:
  update    write the submodule's commits on top of upstream as patch files
  apply     reset the submodule to upstream and replay the patch files (alias: rebuild)
  version   print version information

run "gitpatcher-go <command> -h" for the flags of a command.
`

func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

// ExitCode maps an error returned by Run to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var applyErr *apply.ApplyError
	if errors.As(err, &applyErr) {
		return 2
	}
	return 1
}

// options holds the flags shared by every command. They are accepted both
// before and after the command name.
type options struct {
	verbose    bool
	configFile string
	target     config.Submodule
	mode       string
	color      string
}

func (o *options) register(fs *flag.FlagSet) {
	fs.BoolVar(&o.verbose, "verbose", o.verbose, "enable verbose logging")
	fs.StringVar(&o.configFile, "config", o.configFile, "config file (default "+config.DefaultFile+" when present)")
	fs.StringVar(&o.target.SubmodulePath, "submodule-path", o.target.SubmodulePath, "path of the vendored submodule")
	fs.StringVar(&o.target.UpstreamRef, "upstream-ref", o.target.UpstreamRef, "upstream branch, tag or revision the patches apply to")
	fs.StringVar(&o.target.PatchDir, "patch-dir", o.target.PatchDir, "directory holding the patch files")
	fs.StringVar(&o.mode, "mode", o.mode, "color mode: auto, light, or dark")
	fs.StringVar(&o.color, "color", o.color, "colorize output: auto, always, or never")
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts := &options{mode: report.ThemeAuto.String(), color: report.ColorAuto.String()}
	fs := newFlagSet(name, stderr)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	opts.register(fs)
	showVersion := fs.Bool("version", false, "print version information and exit")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Fprintln(stdout, buildinfo.Read())
		return nil
	}

	remaining := fs.Args()
	if len(remaining) == 0 {
		fs.Usage()
		return errors.New("missing command")
	}
	command, rest := remaining[0], remaining[1:]
	switch command {
	case "update":
		return runUpdate(ctx, opts, rest, stdout, stderr)
	case "apply", "rebuild":
		return runRebuild(ctx, opts, command, rest, stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, buildinfo.Read())
		return nil
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// session is what a command needs once its flags are parsed.
type session struct {
	env     patcher.Env
	targets []patcher.Target
	printer *report.Printer
}

func (o *options) session(stdout, stderr io.Writer, showDiff bool) (*session, error) {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	colorMode, err := report.ParseColorMode(o.color)
	if err != nil {
		return nil, err
	}
	theme, err := report.ParseThemePreference(o.mode)
	if err != nil {
		return nil, err
	}
	if err := config.LoadEnvFile(config.DefaultEnvFile); err != nil {
		return nil, err
	}
	cfgFile, required := o.configFile, true
	if cfgFile == "" {
		cfgFile, required = config.DefaultFile, false
	}
	targets, err := config.Resolve(config.Options{
		Flags:        o.target,
		File:         cfgFile,
		FileRequired: required,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("resolved targets", slog.Int("count", len(targets)), slog.String("config", cfgFile))

	return &session{
		env:     patcher.Env{Logger: logger},
		targets: targets,
		printer: report.New(stdout, report.Options{
			Color:    colorMode,
			Theme:    theme,
			ShowDiff: showDiff,
			Logger:   logger,
		}),
	}, nil
}

func runUpdate(ctx context.Context, opts *options, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet(name+" update", stderr)
	opts.register(fs)
	dryRun := fs.Bool("dry-run", false, "print the plan without writing anything")
	showDiff := fs.Bool("show-diff", false, "print how each modified patch file changes")
	watchMode := fs.Bool("watch", false, "run again whenever the submodule's HEAD or branches change")
	noStage := fs.Bool("no-stage", false, "do not stage patch changes in the enclosing repository")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return err
	}
	s, err := opts.session(stdout, stderr, *showDiff)
	if err != nil {
		return err
	}
	updateOpts := patcher.UpdateOptions{DryRun: *dryRun, NoStage: *noStage}

	updateAll := func(ctx context.Context) error {
		for _, t := range s.targets {
			res, err := patcher.Update(ctx, s.env, t, updateOpts)
			if err != nil {
				return fmt.Errorf("update %s: %w", t.SubmodulePath, err)
			}
			if err := s.printer.Update(res); err != nil {
				return err
			}
		}
		return nil
	}
	if !*watchMode {
		return updateAll(ctx)
	}

	var paths []string
	for _, t := range s.targets {
		p, err := watch.Paths(t.SubmodulePath)
		if err != nil {
			return fmt.Errorf("watch %s: %w", t.SubmodulePath, err)
		}
		paths = append(paths, p...)
	}
	log := s.env.Logger
	if err := updateAll(ctx); err != nil {
		log.Error("update failed", slog.Any("error", err))
	}
	log.Info("watching for changes", slog.Int("paths", len(paths)))
	return watch.Run(ctx, paths, watch.DefaultDelay, log, func(ctx context.Context) {
		if err := updateAll(ctx); err != nil {
			log.Error("update failed", slog.Any("error", err))
		}
	})
}

func runRebuild(ctx context.Context, opts *options, command string, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet(name+" "+command, stderr)
	opts.register(fs)
	commit := fs.Bool("commit", false, "record one commit per patch with its author, date and message")
	noReset := fs.Bool("no-reset", false, "apply on top of the current worktree instead of resetting to upstream")
	maxOffset := fs.Int("max-offset", 0, "how many lines a hunk may have moved (0 searches the whole file)")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return err
	}
	if *maxOffset < 0 {
		return fmt.Errorf("-max-offset must not be negative, got %d", *maxOffset)
	}
	s, err := opts.session(stdout, stderr, false)
	if err != nil {
		return err
	}
	rebuildOpts := patcher.RebuildOptions{Commit: *commit, NoReset: *noReset, MaxOffset: *maxOffset}
	for _, t := range s.targets {
		res, err := patcher.Rebuild(ctx, s.env, t, rebuildOpts)
		if perr := s.printer.Rebuild(res); perr != nil {
			return errors.Join(err, perr)
		}
		if err != nil {
			return fmt.Errorf("%s %s: %w", command, t.SubmodulePath, err)
		}
	}
	return nil
}
