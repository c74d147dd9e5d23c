package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Go-555/github-actions-note/internal/loader"
	"github.com/Go-555/github-actions-note/internal/queue"
	"github.com/Go-555/github-actions-note/internal/rpc"
)

var postIntake bool

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Publish the next queued article",
	Long: `Runs one tick: the lexicographically first queued article is handed to
the publishing tool and moved to posted or rejected. An empty queue exits 0,
any failure exits 1 with a line naming the failing phase.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		if cfg.Publisher.Command == "" {
			return fmt.Errorf("publisher.command is not configured")
		}

		appState, err := loader.NewLoader(cfg, logger, version).Initialize(cmd.Context())
		if err != nil {
			return err
		}
		defer appState.Bot.Stop(cmd.Context())

		if postIntake || cfg.Bot.Intake {
			if _, err := appState.Machine.Intake(cmd.Context()); err != nil {
				logger.Warn("Intake incomplete", "error", err)
			}
		}

		res, err := appState.Machine.Tick(cmd.Context())
		if err != nil {
			return err
		}
		return report(res)
	},
}

// report prints the tick's disposition and maps it to the exit code.
func report(res *queue.TickResult) error {
	switch res.State {
	case queue.StateIdle:
		fmt.Println("Nothing to do: queue is empty")
		return nil
	case queue.StateCommittedPosted:
		if res.Reconciled {
			fmt.Printf("Reconciled %s: already published, moved to %s\n", res.Article, res.FinalPath)
		} else {
			fmt.Printf("Posted %s -> %s\n", res.Article, res.FinalPath)
		}
		return nil
	case queue.StateCommittedRejected:
		fmt.Fprintf(os.Stderr, "Rejected %s: %s\n", res.Article, res.Reason)
	default:
		fmt.Fprintf(os.Stderr, "Kept %s in queue: %s\n", res.Article, res.Reason)
	}
	if res.Outcome != nil {
		fmt.Fprintln(os.Stderr, res.Outcome.Diagnostic())
	}
	return errFailed
}

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Tick on an interval (and on new arrivals with bot.watch) until stopped",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		if cfg.Publisher.Command == "" {
			return fmt.Errorf("publisher.command is not configured")
		}
		if runOnce {
			cfg.Bot.RunOnce = true
		}

		appState, err := loader.NewLoader(cfg, logger, version).Initialize(cmd.Context())
		if err != nil {
			return err
		}
		bot := appState.Bot

		logger.Info("Starting bot", "name", bot.Name())

		go func() {
			for err := range bot.Errors() {
				logger.Error("Tick failed", "error", err)
			}
		}()

		runErr := bot.Start(cmd.Context())
		if err := bot.Stop(cmd.Context()); err != nil {
			logger.Error("Shutdown error", "error", err)
		}
		if runErr != nil && cmd.Context().Err() == nil {
			return runErr
		}

		logger.Info("Bot stopped")
		return nil
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish <file>",
	Short: "Hand a single markdown file to the publishing tool, bypassing the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		client, err := rpc.NewClient(loader.PublisherOptions(cfg, version), logger)
		if err != nil {
			return err
		}

		out := client.Publish(cmd.Context(), args[0])
		if !out.Success {
			fmt.Fprintln(os.Stderr, out.Diagnostic())
			return errFailed
		}
		fmt.Printf("Published %s in %s\n", args[0], out.Duration.Round(time.Millisecond))
		if out.Reference != "" {
			fmt.Println(out.Reference)
		}
		return nil
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [file...]",
	Short: "Move articles into the queue (the incoming stage when no files are given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		appState, err := loader.NewLoader(cfg, logger, version).Initialize(cmd.Context())
		if err != nil {
			return err
		}
		defer appState.Bot.Stop(cmd.Context())

		if len(args) == 0 {
			placed, err := appState.Machine.Intake(cmd.Context())
			for _, a := range placed {
				fmt.Println(a.Path)
			}
			return err
		}

		failed := false
		for _, path := range args {
			a, err := appState.Machine.Enqueue(cmd.Context(), path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				failed = true
				continue
			}
			fmt.Println(a.Path)
		}
		if failed {
			return errFailed
		}
		return nil
	},
}

func init() {
	postCmd.Flags().BoolVar(&postIntake, "intake", false, "Enqueue the incoming stage before picking")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single tick and exit")
}
