package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"git.home.luguber.info/inful/relforge/internal/builder"
	"git.home.luguber.info/inful/relforge/internal/config"
	"git.home.luguber.info/inful/relforge/internal/daemon"
	"git.home.luguber.info/inful/relforge/internal/eventstore"
	"git.home.luguber.info/inful/relforge/internal/gitsource"
	"git.home.luguber.info/inful/relforge/internal/host"
	"git.home.luguber.info/inful/relforge/internal/metrics"
	"git.home.luguber.info/inful/relforge/internal/notify"
	"git.home.luguber.info/inful/relforge/internal/pipeline"
	"git.home.luguber.info/inful/relforge/internal/release"
	"github.com/alecthomas/kong"
)

// Exit codes beyond the usual 0/1: a partial run published some targets but
// no manifest, an aborted run touched nothing.
const (
	exitPartial = 2
	exitAborted = 3
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"relforge.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run struct {
		Tag      string `arg:"" help:"Release tag to build and publish (e.g. v1.2.0)"`
		Notes    string `short:"n" help:"Release notes (markdown). Use @file to read from a file"`
		NoNotify bool   `help:"Skip release announcements"`
		Nightly  bool   `help:"Run on the nightly channel (builds the branch head instead of the tag)"`
	} `cmd:"" help:"Execute one full release cycle for a tag"`

	Targets struct{} `cmd:"" help:"List the configured build target matrix"`

	Clean struct {
		Tag string `arg:"" help:"Release tag whose stale assets should be deleted"`
	} `cmd:"" help:"Delete stale assets from an existing release"`

	Daemon struct{} `cmd:"" help:"Run as a long-lived service with webhook and schedule triggers"`
}

func main() {
	kctx := kong.Parse(&CLI)

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch kctx.Command() {
	case "run <tag>":
		os.Exit(runRelease(ctx, cfg))
	case "targets":
		listTargets(cfg)
	case "clean <tag>":
		if err := runClean(ctx, cfg, CLI.Clean.Tag); err != nil {
			slog.Error("Cleanup failed", "error", err)
			os.Exit(1)
		}
	case "daemon":
		if err := runDaemon(ctx, cfg); err != nil {
			slog.Error("Daemon failed", "error", err)
			os.Exit(1)
		}
	default:
		kctx.Fatalf("unknown command %s", kctx.Command())
	}
}

func setupLogging(cfg *config.Config) {
	level := config.NormalizeLogLevel(cfg.Logging.Level).SlogLevel()
	if CLI.Verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if config.NormalizeLogFormat(cfg.Logging.Format) == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func runRelease(ctx context.Context, cfg *config.Config) int {
	notes, err := resolveNotes(CLI.Run.Notes)
	if err != nil {
		slog.Error("Failed to read release notes", "error", err)
		return 1
	}

	var rel release.Context
	if CLI.Run.Nightly {
		rel = release.NewNightlyContext(CLI.Run.Tag)
	} else {
		rel = release.NewContext("", CLI.Run.Tag, notes)
	}

	p, cleanup, err := buildPipeline(cfg, nil, nil, !CLI.Run.NoNotify)
	if err != nil {
		slog.Error("Failed to assemble pipeline", "error", err)
		return 1
	}
	defer cleanup()

	result, _ := p.Run(ctx, rel)
	switch result.Status {
	case pipeline.StatusComplete:
		return 0
	case pipeline.StatusPartial:
		return exitPartial
	default:
		return exitAborted
	}
}

// resolveNotes returns the notes verbatim, or the contents of a file when
// the value starts with @.
func resolveNotes(notes string) (string, error) {
	if len(notes) < 2 || notes[0] != '@' {
		return notes, nil
	}
	data, err := os.ReadFile(notes[1:])
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func listTargets(cfg *config.Config) {
	targets := release.TargetsFromConfig(cfg.Targets)
	for _, t := range targets {
		extras := ""
		if t.Portable {
			extras += " +portable"
		}
		if t.CleanupOwner {
			extras += " (cleanup owner)"
		}
		fmt.Printf("%s%s\n", t.Key(), extras)
	}
}

func runClean(ctx context.Context, cfg *config.Config, tag string) error {
	h, err := host.NewGitHubHost(cfg.Host)
	if err != nil {
		return err
	}
	rel := release.NewContext("", tag, "")
	deleted, err := host.NewAssetCleaner(h).Clean(ctx, rel)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d stale assets from %s\n", deleted, tag)
	return nil
}

func runDaemon(ctx context.Context, cfg *config.Config) error {
	if cfg.Daemon == nil {
		cfg.Daemon = config.DefaultDaemonConfig()
	}

	if err := os.MkdirAll(cfg.Daemon.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	store, err := eventstore.NewSQLiteStore(filepath.Join(cfg.Daemon.DataDir, "relforge.db"))
	if err != nil {
		return fmt.Errorf("open run history store: %w", err)
	}
	defer store.Close()

	rec := metrics.NewRecorder()

	newRunner := func(cfg *config.Config) daemon.Runner {
		p, _, err := buildPipeline(cfg, store, rec, true)
		if err != nil {
			return failingRunner{err: err}
		}
		return p
	}

	return daemon.New(CLI.Config, cfg, newRunner, store, rec).Run(ctx)
}

// failingRunner surfaces assembly errors at run time, so a bad credential
// does not take the whole daemon down.
type failingRunner struct{ err error }

func (f failingRunner) Run(ctx context.Context, rel release.Context) (*pipeline.Result, error) {
	return &pipeline.Result{Status: pipeline.StatusAborted, Err: f.err}, f.err
}

// buildPipeline assembles the pipeline and its collaborators from config.
// The returned cleanup removes any temporary source workspace.
func buildPipeline(cfg *config.Config, store eventstore.Store, rec *metrics.Recorder, withNotify bool) (*pipeline.Pipeline, func(), error) {
	h, err := host.NewGitHubHost(cfg.Host)
	if err != nil {
		return nil, nil, err
	}

	var channels []notify.Channel
	if withNotify {
		var chanErrs []error
		channels, chanErrs = notify.BuildChannels(cfg.Notify)
		for _, cerr := range chanErrs {
			slog.Warn("Notification channel disabled", "error", cerr)
		}
	}

	source := gitsource.NewClient(cfg.Source)
	p := pipeline.New(cfg, pipeline.Deps{
		Host:     h,
		Builder:  builder.NewExecBuilder(cfg.Build, cfg.Product),
		Source:   source,
		Channels: channels,
		Store:    store,
		Metrics:  rec,
	})
	cleanup := func() {
		if err := source.Cleanup(); err != nil {
			slog.Warn("Source workspace cleanup failed", "error", err)
		}
	}
	return p, cleanup, nil
}
