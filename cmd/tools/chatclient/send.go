package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <partner-id> <text...>",
	Short: "Send a message to a partner",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		partnerID, err := parsePartnerID(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := requestContext(cmd)
		defer cancel()

		m, err := newMessenger(ctx, nil)
		if err != nil {
			return err
		}
		msg, err := m.Send(ctx, partnerID, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), formatMessage(m.Identity(), msg))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
