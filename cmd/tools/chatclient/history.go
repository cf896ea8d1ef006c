package main

import (
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history <partner-id>",
	Short: "Show a conversation and mark it as read",
	Args:  cobra.ExactArgs(1),
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
		messages, err := m.Open(ctx, partnerID)
		if err != nil {
			return err
		}
		defer m.Close()

		printMessages(cmd.OutOrStdout(), m.Identity(), messages)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
