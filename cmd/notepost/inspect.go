package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Go-555/github-actions-note/internal/document"
	"github.com/Go-555/github-actions-note/internal/loader"
	"github.com/Go-555/github-actions-note/internal/storage"
	_ "github.com/Go-555/github-actions-note/internal/storage/sqlite"
	"github.com/Go-555/github-actions-note/internal/store"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file...]",
	Short: "Run the quality gate over the given files, or every queued article",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		paths := args
		if len(paths) == 0 {
			st, err := loader.NewStore(cfg, logger)
			if err != nil {
				return err
			}
			names, err := st.List(cmd.Context(), store.StageQueued)
			if err != nil {
				return err
			}
			for _, name := range names {
				a, err := st.Article(store.StageQueued, name)
				if err != nil {
					return err
				}
				paths = append(paths, a.Path)
			}
		}

		// validate always checks, whether or not the policy consults the gate
		cfg.Policy.Quality.Enabled = true
		gate := loader.NewGate(cfg)

		failed := 0
		for _, path := range paths {
			doc, err := document.ReadFile(path)
			if err != nil {
				fmt.Printf("FAIL %s\n  %v\n", path, err)
				failed++
				continue
			}
			violations := gate.Check(doc, path)
			if len(violations) == 0 {
				fmt.Printf("ok   %s\n", path)
				continue
			}
			failed++
			fmt.Printf("FAIL %s\n", path)
			for _, v := range violations {
				fmt.Printf("  %s\n", v)
			}
		}

		fmt.Printf("%d checked, %d failed\n", len(paths), failed)
		if failed > 0 {
			return errFailed
		}
		return nil
	},
}

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stage counts and the most recent publish attempts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		st, err := loader.NewStore(cfg, logger)
		if err != nil {
			return err
		}
		counts, err := st.Counts(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tARTICLES")
		for _, stage := range store.Stages {
			fmt.Fprintf(w, "%s\t%d\n", stage, counts[stage])
		}
		w.Flush()

		ledger, err := storage.New(cfg.Storage.Type, cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to open ledger: %w", err)
		}
		defer ledger.Close(cmd.Context())

		attempts, err := ledger.Recent(cmd.Context(), statusLimit)
		if err != nil {
			return err
		}
		if len(attempts) == 0 {
			fmt.Println("\nNo attempts recorded")
			return nil
		}

		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tARTICLE\tRESULT\tPHASE\tDETAIL")
		for _, a := range attempts {
			result := "failed"
			if a.Success {
				result = "ok"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				a.StartedAt.Local().Format("2006-01-02 15:04:05"), a.Name, result, a.Phase, a.Detail)
		}
		return w.Flush()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("notepost", version)
	},
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Number of attempts to show")
}
