package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-tavern/tripchat/internal/model/chat"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/identity"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/messenger"
)

var watchOpen int64

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow pushed messages and read receipts until interrupted",
	Long: `Connect the push channel and print every message and read receipt as it
arrives. With --open the conversation is kept active, so incoming messages
are marked as read immediately and receipts flip the read marks.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		p := &eventPrinter{out: cmd.OutOrStdout()}
		m, err := newMessenger(ctx, p)
		if err != nil {
			return err
		}
		p.setIdentity(m.Identity())

		if err := m.Start(ctx); err != nil {
			return err
		}
		defer m.Stop()

		if watchOpen > 0 {
			openCtx, cancel := context.WithTimeout(ctx, clientCfg.RequestTimeout)
			messages, err := m.Open(openCtx, watchOpen)
			cancel()
			if err != nil {
				return err
			}
			printMessages(cmd.OutOrStdout(), m.Identity(), messages)
		} else {
			printConversations(cmd.OutOrStdout(), m.Conversations())
		}

		<-ctx.Done()
		p.println(mutedStyle.Render("bye"))
		return nil
	},
}

func init() {
	watchCmd.Flags().Int64Var(&watchOpen, "open", 0, "Partner id of the conversation to keep open")
	rootCmd.AddCommand(watchCmd)
}

// eventPrinter serializes observer callbacks onto out.
type eventPrinter struct {
	mu       sync.Mutex
	out      io.Writer
	resolver *identity.Resolver
}

var _ messenger.Observer = (*eventPrinter)(nil)

func (p *eventPrinter) setIdentity(r *identity.Resolver) {
	p.mu.Lock()
	p.resolver = r
	p.mu.Unlock()
}

func (p *eventPrinter) OnEvent(event chat.Event) {
	p.mu.Lock()
	resolver := p.resolver
	p.mu.Unlock()

	switch {
	case event.Message != nil && resolver != nil:
		p.println(formatMessage(resolver, *event.Message))
	case event.Receipt != nil:
		p.println(mutedStyle.Render(fmt.Sprintf("%s %d read your messages", event.Receipt.ReaderRole, event.Receipt.PartnerID)))
	}
}

func (p *eventPrinter) OnStateChange(state chat.ConnectionState) {
	p.println(mutedStyle.Render("[" + string(state) + "]"))
}

func (p *eventPrinter) OnError(err error) {
	p.println(errorStyle.Render("! " + err.Error()))
}

func (p *eventPrinter) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, line)
}
