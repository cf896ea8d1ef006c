package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-tavern/tripchat/internal/config"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/messenger"
	"github.com/zhouzirui/z-tavern/tripchat/pkg/utils"
)

var (
	baseURL     string
	streamURL   string
	token       string
	userID      int64
	accountType string
	displayName string
	timeout     time.Duration
	verbose     bool

	clientCfg config.ClientConfig
	logger    *logrus.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatclient",
	Short: "Talk to the trip chat backend from a terminal",
	Long: `A terminal client for traveler/provider conversations.

Connection settings come from TRIPCHAT_* environment variables (a .env file
in the working directory is loaded first) and can be overridden by flags.

Quick Start:
  chatclient conversations                      # List conversations
  chatclient history 42                         # Show and read a conversation
  chatclient send 42 "Is the 9am tour on?"      # Send a message
  chatclient watch --open 42                    # Follow pushes live`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && verbose {
			fmt.Fprintf(os.Stderr, "no .env loaded, using process environment: %v\n", err)
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		clientCfg = applyFlags(cmd, cfg.Client)

		level := cfg.Log.Level
		if verbose {
			level = "debug"
		} else if !cmd.Flags().Changed("verbose") && os.Getenv("LOG_LEVEL") == "" {
			level = "warn"
		}
		logger, err = utils.NewLogger(level, cfg.Log.Format)
		return err
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&baseURL, "base-url", "", "Backend HTTP address (TRIPCHAT_BASE_URL)")
	flags.StringVar(&streamURL, "stream-url", "", "Push channel address (TRIPCHAT_STREAM_URL, derived from base URL when empty)")
	flags.StringVar(&token, "token", "", "Bearer token (TRIPCHAT_TOKEN)")
	flags.Int64Var(&userID, "user-id", 0, "Account id of the signed-in user (TRIPCHAT_USER_ID)")
	flags.StringVar(&accountType, "account-type", "", "TRAVELER or PROVIDER (TRIPCHAT_ACCOUNT_TYPE)")
	flags.StringVar(&displayName, "name", "", "Display name of the signed-in user (TRIPCHAT_DISPLAY_NAME)")
	flags.DurationVar(&timeout, "timeout", 0, "Per-request timeout (TRIPCHAT_REQUEST_TIMEOUT)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// applyFlags overlays explicitly set flags on the environment configuration.
func applyFlags(cmd *cobra.Command, cfg config.ClientConfig) config.ClientConfig {
	changed := cmd.Flags().Changed
	if changed("base-url") {
		cfg.BaseURL = baseURL
		if !changed("stream-url") && os.Getenv("TRIPCHAT_STREAM_URL") == "" {
			cfg.StreamURL = config.DeriveStreamURL(baseURL)
		}
	}
	if changed("stream-url") {
		cfg.StreamURL = streamURL
	}
	if changed("token") {
		cfg.Token = token
	}
	if changed("user-id") {
		cfg.UserID = userID
	}
	if changed("account-type") {
		cfg.AccountType = accountType
	}
	if changed("name") {
		cfg.DisplayName = displayName
	}
	if changed("timeout") && timeout > 0 {
		cfg.RequestTimeout = timeout
	}
	return cfg
}

func newMessenger(ctx context.Context, observer messenger.Observer) (*messenger.Messenger, error) {
	return messenger.FromConfig(ctx, clientCfg, observer, logger)
}

// requestContext bounds one-shot commands by the request timeout.
func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), clientCfg.RequestTimeout)
}
