package tui

import (
	"strings"

	"github.com/go-go-golems/cmr-widget/pkg/protocol"
	"github.com/go-go-golems/cmr-widget/pkg/session"
)

// line is one rendered row of the conversation pane: a message or a system notice.
type line struct {
	msg    *session.Message
	notice string
}

func speaker(m session.Message) string {
	if m.SenderType == protocol.SenderCustomer {
		return "You"
	}
	if m.SenderName != "" {
		return m.SenderName
	}
	return "Agent"
}

func (l line) plain() string {
	if l.msg == nil {
		return "* " + l.notice
	}
	return speaker(*l.msg) + ": " + l.msg.Text
}

func (l line) render() string {
	if l.msg == nil {
		return noticeStyle.Render("* " + l.notice)
	}
	style := agentStyle
	if l.msg.SenderType == protocol.SenderCustomer {
		style = customerStyle
	}
	return style.Render(speaker(*l.msg)+":") + " " + l.msg.Text
}

func linesFromMessages(msgs []session.Message) []line {
	out := make([]line, 0, len(msgs))
	for i := range msgs {
		m := msgs[i]
		out = append(out, line{msg: &m})
	}
	return out
}

// Transcript renders lines as plain text, one per row.
func transcript(lines []line) string {
	rows := make([]string, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, l.plain())
	}
	return strings.Join(rows, "\n")
}
