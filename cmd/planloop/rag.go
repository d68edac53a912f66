package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	ragMode    string
	collection string
	topK       int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir | file...]",
	Short: "Ingest a corpus directory (hybrid) or text files (simple).",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		switch ragMode {
		case "hybrid":
			dir := cfg.RAG.Hybrid.CorpusDir
			if len(args) > 0 {
				dir = args[0]
			}
			files, err := a.hybrid.IngestCorpus(ctx, dir)
			if err != nil {
				return err
			}
			return printJSON(cmd, files)
		case "simple":
			if len(args) == 0 {
				return fmt.Errorf("simple ingest needs at least one file")
			}
			texts := make([]string, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				texts = append(texts, string(data))
			}
			res, err := a.simple.Ingest(ctx, texts, collection)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		default:
			return fmt.Errorf("unknown mode %q (want simple or hybrid)", ragMode)
		}
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Query the simple or hybrid knowledge store.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		q := strings.Join(args, " ")
		switch ragMode {
		case "hybrid":
			ans, err := a.hybrid.Query(ctx, q)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ans.Answer)
			return nil
		case "simple":
			hits, err := a.simple.Retrieve(ctx, q, collection, topK)
			if err != nil {
				return err
			}
			return printJSON(cmd, hits)
		default:
			return fmt.Errorf("unknown mode %q (want simple or hybrid)", ragMode)
		}
	},
}

func init() {
	for _, c := range []*cobra.Command{ingestCmd, queryCmd} {
		c.Flags().StringVarP(&ragMode, "mode", "m", "hybrid", "simple or hybrid")
		c.Flags().StringVar(&collection, "collection", "", "simple collection (default from config)")
	}
	queryCmd.Flags().IntVarP(&topK, "top-k", "k", 0, "simple hits to return (default from config)")
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
