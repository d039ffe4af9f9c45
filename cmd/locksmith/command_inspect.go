package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/orf/locksmith"
	"github.com/orf/locksmith/oracle"
	"github.com/orf/locksmith/render"
)

// InspectCmd represents the inspect command
type InspectCmd struct {
	Schema    string `arg:"" help:"Baseline schema: plain SQL or a pg_dump custom-format archive" type:"existingfile"`
	Statement string `arg:"" help:"Statement to inspect, or - to read it from standard input"`

	Output        string `help:"Write the result to this file instead of standard output" short:"o" type:"path"`
	Format        string `help:"Output format: table, json, yaml or markdown" short:"f"`
	FailOnPartial bool   `help:"Exit with status 3 when the statement failed or lock monitoring timed out"`

	TargetFlags `embed:""`
}

// Run executes the inspect command
func (cmd *InspectCmd) Run(ctx *Context) error {
	config, err := loadConfig(ctx, cmd.TargetFlags.apply, cmd.applyOutput)
	if err != nil {
		return err
	}

	statement, err := readStatement(cmd.Statement, os.Stdin)
	if err != nil {
		return err
	}

	schema, err := os.ReadFile(cmd.Schema)
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}

	format, err := render.ParseOutputFormat(config.Output.Format)
	if err != nil {
		return err
	}

	opts, err := oracle.OptionsFromConfig(config.Inspection)
	if err != nil {
		return err
	}

	opts = append(opts, oracle.WithLogger(ctx.Logger))

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	target, release, err := openTarget(runCtx, config, ctx.Logger)
	if err != nil {
		return err
	}
	defer release(context.WithoutCancel(runCtx))

	inspection, err := inspect(runCtx, target, opts, schema, statement, ctx.Logger)
	if err != nil {
		return err
	}

	if err := writeOutput(config.Output.Path, render.NewFormatter(format), inspection); err != nil {
		return err
	}

	return cmd.partialResult(inspection)
}

func (cmd *InspectCmd) applyOutput(config *locksmith.Config) {
	if cmd.Format != "" {
		config.Output.Format = cmd.Format
	}

	if cmd.Output != "" {
		config.Output.Path = cmd.Output
	}
}

// partialResult reports a partial inspection: as an error with
// --fail-on-partial, as a warning otherwise.
func (cmd *InspectCmd) partialResult(inspection *locksmith.Inspection) error {
	if !inspection.Partial() {
		return nil
	}

	if cmd.FailOnPartial {
		return fmt.Errorf("%w: %w", ErrPartialInspection, inspection.Err())
	}

	color.New(color.FgYellow).Fprintf(os.Stderr, "Warning: inspection is partial: %v\n", inspection.Err())

	return nil
}
