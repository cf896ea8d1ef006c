package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/z-tavern/tripchat/internal/model/chat"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/identity"
)

const timeLayout = "2006-01-02 15:04"

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	ownStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	partnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))
)

func parsePartnerID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid partner id %q", raw)
	}
	return id, nil
}

func printConversations(out io.Writer, summaries []chat.ConversationSummary) {
	if len(summaries) == 0 {
		_, _ = fmt.Fprintln(out, mutedStyle.Render("No conversations yet."))
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, titleStyle.Render("Partner")+"\t"+titleStyle.Render("Name")+"\t"+
		titleStyle.Render("Unread")+"\t"+titleStyle.Render("Last")+"\t"+titleStyle.Render("Preview")+"\t")
	for _, s := range summaries {
		unread := strconv.Itoa(s.UnreadCount)
		if s.UnreadCount > 0 {
			unread = headerStyle.Render(unread)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t\n",
			s.PartnerID, s.PartnerDisplayName, unread, formatTime(s.LastMessageAt), truncate(s.LastMessagePreview, 48))
	}
	_ = w.Flush()
}

func printMessages(out io.Writer, resolver *identity.Resolver, messages []chat.Message) {
	if len(messages) == 0 {
		_, _ = fmt.Fprintln(out, mutedStyle.Render("No messages."))
		return
	}
	for _, msg := range messages {
		_, _ = fmt.Fprintln(out, formatMessage(resolver, msg))
	}
}

// formatMessage renders one timeline line with its delivery and read marks.
func formatMessage(resolver *identity.Resolver, msg chat.Message) string {
	who := partnerStyle.Render(string(msg.SenderRole))
	if resolver.IsOutbound(msg) {
		who = ownStyle.Render("me")
	}

	var marks []string
	switch {
	case msg.Failed():
		marks = append(marks, errorStyle.Render("failed"))
	case msg.Pending():
		marks = append(marks, "sending")
	}
	if resolver.IsOutbound(msg) && msg.IsRead {
		marks = append(marks, "read")
	}

	line := fmt.Sprintf("%s %s: %s", mutedStyle.Render(formatTime(msg.SentAt)), who, msg.Content)
	if len(marks) > 0 {
		line += " " + mutedStyle.Render("("+strings.Join(marks, ", ")+")")
	}
	return line
}

func formatTime(ts chat.Timestamp) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format(timeLayout)
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
