package cmd

import (
	"context"
	"fmt"
	"os"

	"sendmer/internal/app"
	"sendmer/internal/lifecycle"
	"sendmer/internal/reporter"
	"sendmer/pkg/logging"
	"sendmer/pkg/ticket"
	"sendmer/pkg/types"

	"github.com/spf13/cobra"
)

// Exit codes of the receive command
const (
	exitSuccess   = 0
	exitFailure   = 1
	exitCancelled = 130
)

type ReceiveFlags struct {
	NoProgress bool
	Dir        string
}

var receiveFlags ReceiveFlags

// receiveCmd represents the receive command
var receiveCmd = &cobra.Command{
	Use:   "receive <ticket>",
	Short: "Download the content a ticket names",
	Long: `Download the content a ticket names. This will:

1. Connect to the sender named in the ticket
2. Download and verify every file into a staging directory
3. Move the result into place once everything has been verified

The download fails without touching anything if the destination exists.
Use --dir to choose the directory the content is installed in.`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateReceiveFlags(args[0], &receiveFlags)
	},
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runReceive(args[0], &receiveFlags))
	},
}

func init() {
	rootCmd.AddCommand(receiveCmd)

	receiveCmd.Flags().BoolVar(&receiveFlags.NoProgress, "no-progress", false, "do not show progress")
	receiveCmd.Flags().StringVar(&receiveFlags.Dir, "dir", "", "directory to install into (default is the working directory)")
}

// validateReceiveFlags rejects bad tickets before anything touches the
// network or the filesystem
func validateReceiveFlags(tk string, flags *ReceiveFlags) error {
	if _, err := ticket.Decode(tk); err != nil {
		return fmt.Errorf("%s", describeError(err))
	}
	if flags.Dir != "" {
		info, err := os.Stat(flags.Dir)
		if err != nil {
			return fmt.Errorf("cannot use %s: %w", flags.Dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", flags.Dir)
		}
	}
	return nil
}

func runReceive(tk string, flags *ReceiveFlags) int {
	lc := lifecycle.New(context.Background())
	lc.HandleSignals(func() {
		fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, cleaning up...")
	})
	defer lc.Stop()

	network, err := newNetwork(lc.Context())
	if err != nil {
		fmt.Fprintln(os.Stderr, describeError(err))
		return exitFailure
	}

	rep := reporter.New(types.RoleReceiver, cfg.Transfer.ProgressQueue)
	rendered := render("Receiving", rep, flags.NoProgress)

	receiver := app.NewReceiverApp(cfg, network, logging.Log)
	out := receiver.Fetch(lc.Context(), tk, app.ReceiverOptions{
		NoProgress:      flags.NoProgress,
		DestinationBase: flags.Dir,
	}, rep)
	<-rendered

	switch out.Status {
	case types.StatusSuccess:
		fmt.Println(out)
		return exitSuccess
	case types.StatusCancelled:
		fmt.Fprintln(os.Stderr, out)
		return exitCancelled
	default:
		fmt.Fprintln(os.Stderr, describeError(out.Err))
		return exitFailure
	}
}
