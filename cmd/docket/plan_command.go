package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"docket/internal/system"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the execution waves of the configured pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			pcfg := system.PipelineFromConfig(cfg)
			prepared, waves, err := pcfg.Plan()
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(prepared.Stages))
			for i, wave := range waves {
				for _, name := range wave {
					stage, ok := prepared.Stage(name)
					if !ok {
						continue
					}
					rows = append(rows, []string{
						strconv.Itoa(i + 1),
						stage.Name,
						stage.Processor,
						string(stage.Lane),
						strings.Join(stage.DependsOn, ", "),
					})
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Pipeline %s: %d stage(s) in %d wave(s)\n", prepared.Name, len(prepared.Stages), len(waves))
			fmt.Fprintln(out, renderTable(
				[]string{"Wave", "Stage", "Processor", "Lane", "Depends On"},
				rows,
				1,
			))
			return nil
		},
	}
}
