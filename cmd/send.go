package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"sendmer/internal/app"
	"sendmer/internal/lifecycle"
	"sendmer/internal/reporter"
	"sendmer/pkg/logging"
	"sendmer/pkg/ticket"
	"sendmer/pkg/types"
	"sendmer/pkg/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type SendFlags struct {
	NoProgress bool
	TicketType string
	Relay      string
}

var sendFlags SendFlags

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <path>",
	Short: "Publish a file or directory and print a ticket",
	Long: `Publish a file or directory. This will:

1. Hash the content in place
2. Register a node with the rendezvous service
3. Print a ticket for the receiver
4. Serve the content until interrupted

Use --ticket-type to choose which address hints the ticket carries.`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateSendFlags(&sendFlags)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSend(args[0], &sendFlags)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().BoolVar(&sendFlags.NoProgress, "no-progress", false, "do not show progress")
	sendCmd.Flags().StringVar(&sendFlags.TicketType, "ticket-type", "relay-and-addresses", "address hints in the ticket: id, relay, addresses or relay-and-addresses")
	sendCmd.Flags().StringVar(&sendFlags.Relay, "relay", "default", "relay mode: default, disabled or custom")

	viper.BindPFlag("ticket.type", sendCmd.Flags().Lookup("ticket-type"))
	viper.BindPFlag("relay.mode", sendCmd.Flags().Lookup("relay"))
}

// validateSendFlags validates the send command flags
func validateSendFlags(flags *SendFlags) error {
	if _, err := ticket.ParseAddrMode(viper.GetString("ticket.type")); err != nil {
		return err
	}
	return nil
}

func runSend(path string, flags *SendFlags) error {
	mode, err := ticket.ParseAddrMode(cfg.Ticket.Type)
	if err != nil {
		return err
	}

	var (
		mu    sync.Mutex
		share *app.Share
	)
	lc := lifecycle.New(context.Background())
	lc.HandleSignals(func() {
		fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, shutting down...")
		mu.Lock()
		s := share
		mu.Unlock()
		if s != nil {
			s.Stop(context.Background())
		}
	})
	defer lc.Stop()

	network, err := newNetwork(lc.Context())
	if err != nil {
		return err
	}

	rep := reporter.New(types.RoleSender, cfg.Transfer.ProgressQueue)
	rendered := render("Sending", rep, flags.NoProgress)

	sender := app.NewSenderApp(cfg, network, logging.Log)
	s, err := sender.Publish(lc.Context(), path, app.SenderOptions{
		NoProgress: flags.NoProgress,
		AddrMode:   mode,
	}, rep)
	if err != nil {
		<-rendered
		if errors.Is(err, types.ErrCancelled) {
			return nil
		}
		return errors.New(describeError(err))
	}
	mu.Lock()
	share = s
	mu.Unlock()

	if verbose {
		c := s.Collection()
		for _, e := range c.Entries {
			fmt.Fprintf(os.Stderr, "- %s: %s %s\n", c.Path(e), e.Hash, utils.FormatFileSize(e.Size))
		}
		fmt.Fprintf(os.Stderr, "imported in %s, %s\n",
			s.ImportTime().Round(time.Millisecond), utils.FormatRate(s.Size(), s.ImportTime()))
	}
	fmt.Fprintf(os.Stderr, "imported %s, %d files, %s, hash %s\n",
		s.Kind(), s.Items(), utils.FormatFileSize(s.Size()), s.Content().Hash)
	fmt.Println("to get this data, use")
	fmt.Printf("sendmer receive %s\n", s.Ticket())

	select {
	case <-lc.Context().Done():
	case <-s.Done():
	}
	if err := s.Stop(context.Background()); err != nil {
		logging.Log.WithError(err).Warn("shutdown incomplete")
	}
	<-rendered
	return nil
}
