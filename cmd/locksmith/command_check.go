package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/orf/locksmith/expectation"
	"github.com/orf/locksmith/oracle"
)

// CheckCmd represents the check command
type CheckCmd struct {
	Schema string   `arg:"" help:"Baseline schema: plain SQL or a pg_dump custom-format archive" type:"existingfile"`
	Cases  []string `arg:"" help:"Annotated query files" type:"existingfile"`

	TargetFlags `embed:""`
}

// CheckSummary counts case outcomes
type CheckSummary struct {
	Passed int
	Failed int
}

// Run executes the check command
func (cmd *CheckCmd) Run(ctx *Context) error {
	if len(cmd.Cases) == 0 {
		return ErrNoCases
	}

	config, err := loadConfig(ctx, cmd.TargetFlags.apply)
	if err != nil {
		return err
	}

	cases := make([]*expectation.Case, 0, len(cmd.Cases))

	for _, path := range cmd.Cases {
		c, err := expectation.ParseFile(path)
		if err != nil {
			return err
		}

		cases = append(cases, c)
	}

	schema, err := os.ReadFile(cmd.Schema)
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
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

	var summary CheckSummary

	for _, c := range cases {
		inspection, err := inspect(runCtx, target, opts, schema, c.Statement, ctx.Logger)
		if err != nil {
			summary.Failed++

			color.Red("✗ %s", c.Name)
			color.Red("    %v", err)

			if runCtx.Err() != nil {
				break
			}

			continue
		}

		mismatches := c.Check(inspection)
		if len(mismatches) == 0 {
			summary.Passed++

			color.Green("✓ %s", c.Name)

			continue
		}

		summary.Failed++

		color.Red("✗ %s", c.Name)

		for _, m := range mismatches {
			color.Red("    %s", m)
		}
	}

	fmt.Printf("\n%d passed, %d failed\n", summary.Passed, summary.Failed)

	if summary.Failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrChecksFailed, summary.Failed, len(cases))
	}

	return nil
}
