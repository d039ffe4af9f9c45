package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/orf/locksmith"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Context represents the global context for commands
type Context struct {
	Config  string
	Verbose bool
	Quiet   bool
	Logger  *slog.Logger
}

// CLI represents the command-line interface
var CLI struct {
	Config  string     `help:"Configuration file path" default:"locksmith.yaml"`
	Verbose bool       `help:"Enable debug logging" short:"v"`
	Quiet   bool       `help:"Only log warnings and errors" short:"q"`
	Inspect InspectCmd `cmd:"" help:"Inspect the locks, catalog changes and rewrites caused by a statement"`
	Check   CheckCmd   `cmd:"" help:"Run annotated query files and compare the inspections with their expectations"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// VersionCmd represents the version command
type VersionCmd struct{}

// Run executes the version command
func (cmd *VersionCmd) Run() error {
	fmt.Printf("locksmith %s\n", version)
	return nil
}

func newLogger(verbose, quiet bool) *slog.Logger {
	level := slog.LevelInfo

	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelWarn
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	if errors.Is(err, ErrPartialInspection) {
		return 3
	}

	return 1
}

func printError(err error) {
	if errors.Is(err, ErrPartialInspection) {
		color.New(color.FgYellow).Fprintf(os.Stderr, "Warning: %v\n", err)
		return
	}

	var failure *locksmith.Error
	if errors.As(err, &failure) {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error [%s]: %v\n", failure.Kind(), failure)
		return
	}

	color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("locksmith"),
		kong.Description("Inspect the operational impact of a PostgreSQL statement."),
		kong.UsageOnError(),
	)

	logger := newLogger(CLI.Verbose, CLI.Quiet)
	slog.SetDefault(logger)

	appCtx := &Context{
		Config:  CLI.Config,
		Verbose: CLI.Verbose,
		Quiet:   CLI.Quiet,
		Logger:  logger,
	}

	err := ctx.Run(appCtx)
	if err != nil {
		printError(err)
		os.Exit(exitCode(err))
	}
}
