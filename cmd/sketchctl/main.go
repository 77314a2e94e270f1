// Command sketchctl replays recorded strokes offline: it exports the sketch as
// drawing.png or submits it to the inference endpoint and saves the story.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "sketchctl",
		Short:         "Replay sketches and turn them into bedtime stories",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				logrus.WithError(err).Warn("Failed to read .env file")
			}
			logrus.SetOutput(cmd.ErrOrStderr())
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			logrus.SetLevel(logrus.InfoLevel)
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	root.AddCommand(newExportCmd())
	root.AddCommand(newSubmitCmd())
	return root
}
