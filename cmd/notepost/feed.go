package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Go-555/github-actions-note/internal/loader"
	feedserver "github.com/Go-555/github-actions-note/internal/server/feed"
	"github.com/Go-555/github-actions-note/internal/targets"
)

var (
	feedOutput string
	feedFormat string
	feedPort   int
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Build a feed of posted articles",
}

var feedWriteCmd = &cobra.Command{
	Use:   "write",
	Short: "Write the feed to a file once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		output := cfg.Feed.Output
		if feedOutput != "" {
			output = feedOutput
		}
		if output == "" {
			return fmt.Errorf("no output path: set feed.output or pass --output")
		}
		format := cfg.Feed.Format
		if feedFormat != "" {
			format = feedFormat
		}

		st, err := loader.NewStore(cfg, logger)
		if err != nil {
			return err
		}
		source := feedserver.StoreSource{Store: st}
		if err := feedserver.WriteFile(cmd.Context(), source, targets.FeedServerConfig(cfg.Feed), format, output); err != nil {
			return err
		}
		fmt.Println(output)
		return nil
	},
}

var feedServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the feed over HTTP until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		if feedPort > 0 {
			cfg.Feed.Port = feedPort
		}
		if cfg.Feed.Port <= 0 {
			return fmt.Errorf("no port: set feed.port or pass --port")
		}

		st, err := loader.NewStore(cfg, logger)
		if err != nil {
			return err
		}
		srv := feedserver.New(cfg.Bot.Name, targets.FeedServerConfig(cfg.Feed), feedserver.StoreSource{Store: st}, logger)
		if err := srv.Start(cmd.Context()); err != nil {
			return err
		}

		<-cmd.Context().Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}

func init() {
	feedWriteCmd.Flags().StringVarP(&feedOutput, "output", "o", "", "Output path (defaults to feed.output)")
	feedWriteCmd.Flags().StringVarP(&feedFormat, "format", "f", "", "rss, atom or json (defaults to feed.format)")
	feedServeCmd.Flags().IntVarP(&feedPort, "port", "p", 0, "Port to listen on (defaults to feed.port)")

	feedCmd.AddCommand(feedWriteCmd, feedServeCmd)
}
