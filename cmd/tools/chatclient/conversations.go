package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations with unread counts",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		m, err := newMessenger(ctx, nil)
		if err != nil {
			return err
		}
		if err := m.Refresh(ctx); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintln(out, headerStyle.Render("Conversations")+mutedStyle.Render(fmt.Sprintf(" (unread total %d)", m.TotalUnread())))
		printConversations(out, m.Conversations())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(conversationsCmd)
}
