package main

import (
	"fmt"
	"strings"

	"github.com/rahul/planloop/internal/agent"
	"github.com/rahul/planloop/internal/llm"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <message>",
	Short: "Run the code agent once against a single message.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		req := agent.Request{
			History: []llm.Message{llm.User(strings.Join(args, " "))},
			Catalog: a.Catalog(),
		}
		res, err := a.code.Run(ctx, req)
		a.record(ctx, res, err)
		if err != nil {
			return err
		}
		printResult(cmd, res)
		return nil
	},
}

var surfCmd = &cobra.Command{
	Use:   "surf <objective>",
	Short: "Drive a browser until the objective is met.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.surf.Run(ctx, strings.Join(args, " "))
		a.record(ctx, res, err)
		if err != nil {
			return err
		}
		printResult(cmd, res)
		return nil
	},
}

func printResult(cmd *cobra.Command, res *agent.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: %s after %d iteration(s)\n", res.RunID, res.Decision, res.Iterations)
	if res.FinalAnswer != "" {
		fmt.Fprintln(out, res.FinalAnswer)
	}
}
