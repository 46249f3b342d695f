package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"sendmer/internal/config"
	"sendmer/internal/reporter"
	"sendmer/internal/signalling"
	"sendmer/internal/transport"
	"sendmer/internal/ui"
	"sendmer/pkg/logging"
	"sendmer/pkg/types"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg     *config.Config
	cfgFile string
	verbose bool
	logJSON bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sendmer",
	Short: "sendmer - send files and directories peer to peer",
	Long: `sendmer publishes a file or directory and prints a ticket. Anyone holding
the ticket can download the content directly from the sender over an
encrypted WebRTC connection.

Usage:
  Send:    sendmer send ./photos
  Receive: sendmer receive <ticket>

Content is verified with BLAKE3 and installed atomically; nothing is written
to the destination until the whole download has been verified.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.InitLogger(verbose, logJSON)
		initConfig()

		var err error
		cfg, err = config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sendmer.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON")

	viper.SetEnvPrefix("SENDMER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			logging.Log.Warnf("Could not find home directory: %v", err)
			return
		}

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".sendmer")
	}

	if err := viper.ReadInConfig(); err == nil {
		logging.Log.Debugf("Using config file: %s", viper.ConfigFileUsed())
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newNetwork wires the WebRTC network to the Firebase rendezvous
func newNetwork(ctx context.Context) (transport.Network, error) {
	if err := cfg.ValidateSignalling(); err != nil {
		return nil, fmt.Errorf("signalling is not configured: %w", err)
	}
	signaler, err := signalling.NewFirebaseSignaler(ctx, cfg, logging.Log)
	if err != nil {
		return nil, err
	}
	return transport.NewWebRTCNetwork(cfg, signaler, logging.Log), nil
}

// render shows rep's events on the console, or just drains them when
// progress is off. The returned channel is closed once the stream ends.
func render(operation string, rep *reporter.Reporter, noProgress bool) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if noProgress {
			for range rep.Events() {
			}
			return
		}
		ui.NewConsoleUI(operation).Run(context.Background(), rep.Events())
	}()
	return done
}

// describeError turns an error into a message for the user
func describeError(err error) string {
	switch {
	case errors.Is(err, types.ErrCancelled):
		return "Operation cancelled"
	case errors.Is(err, types.ErrSourceNotFound):
		return fmt.Sprintf("Source not found: %v", err)
	case errors.Is(err, types.ErrMalformedTicket):
		return fmt.Sprintf("Invalid ticket: %v", err)
	case errors.Is(err, types.ErrPeerUnreachable):
		return fmt.Sprintf("Could not reach the sender: %v", err)
	case errors.Is(err, types.ErrStagingCreateFailed):
		return fmt.Sprintf("Could not create a staging directory: %v", err)
	case errors.Is(err, types.ErrDestinationExists):
		return fmt.Sprintf("Destination already exists, nothing was changed: %v", err)
	case errors.Is(err, types.ErrTransferVerificationFailed):
		return fmt.Sprintf("Received data failed verification: %v", err)
	default:
		return fmt.Sprintf("Transfer failed: %v", err)
	}
}
