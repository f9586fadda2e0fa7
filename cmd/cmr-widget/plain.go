package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tcnksm/go-input"

	"github.com/go-go-golems/cmr-widget/pkg/protocol"
	"github.com/go-go-golems/cmr-widget/pkg/session"
	"github.com/go-go-golems/cmr-widget/pkg/tui"
)

const (
	cmdQuit  = "/quit"
	cmdReset = "/reset"
)

var errQuit = errors.New("quit")

// resumeGrace is how long line mode waits for the first connection before asking for the
// form, so a persisted chat can resume first.
const resumeGrace = 2 * time.Second

type plainChat struct {
	ctl  tui.Controller
	ui   *input.UI
	out  io.Writer
	wake chan struct{}
}

// runPlain drives the controller from line input. Signals are printed as they arrive; a
// blocked prompt is abandoned when ctx ends.
func runPlain(ctx context.Context, ctl tui.Controller, ch <-chan session.Signal, in io.Reader, out io.Writer) error {
	p := &plainChat{
		ctl:  ctl,
		ui:   &input.UI{Reader: in, Writer: out},
		out:  out,
		wake: make(chan struct{}, 1),
	}
	go p.print(ch)

	done := make(chan error, 1)
	go func() { done <- p.loop(ctx) }()
	select {
	case err := <-done:
		if errors.Is(err, errQuit) || ctx.Err() != nil {
			return nil
		}
		return err
	case <-ctx.Done():
		return nil
	}
}

func (p *plainChat) print(ch <-chan session.Signal) {
	for sig := range ch {
		if text, ok := formatSignal(sig); ok {
			_, _ = fmt.Fprintln(p.out, text)
		}
		switch sig.(type) {
		case session.StateChanged, session.ConnectionChanged:
			select {
			case p.wake <- struct{}{}:
			default:
			}
		}
	}
}

// formatSignal renders the signals line mode shows.
func formatSignal(sig session.Signal) (string, bool) {
	switch s := sig.(type) {
	case session.MessageAppended:
		return speaker(s.Message) + ": " + s.Message.Text, true
	case session.HistoryReplaced:
		if len(s.Messages) == 0 {
			return "", false
		}
		rows := make([]string, 0, len(s.Messages)+1)
		rows = append(rows, "--- history ---")
		for _, m := range s.Messages {
			rows = append(rows, speaker(m)+": "+m.Text)
		}
		return strings.Join(rows, "\n"), true
	case session.SystemNotice:
		return "* " + s.Text, true
	case session.AlertRaised:
		return "! " + s.Text, true
	case session.RestartOffered:
		return "* Press enter to start a new chat, or type " + cmdQuit + ".", true
	case session.ConnectionChanged:
		if s.Connected {
			return "", false
		}
		return "* Connection lost, reconnecting...", true
	}
	return "", false
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

func (p *plainChat) loop(ctx context.Context) error {
	p.waitConnected(ctx, resumeGrace)
	for ctx.Err() == nil {
		snap, err := p.ctl.Snapshot(ctx)
		if err != nil {
			return err
		}
		switch snap.State {
		case session.StateNoSession:
			err = p.askForm(ctx, snap)
		case session.StateStarting:
			p.waitFor(ctx, time.Second)
		case session.StateQueued, session.StateActive:
			err = p.chatLine(ctx)
		case session.StateClosed:
			var line string
			line, err = p.ask("")
			if err == nil {
				if strings.TrimSpace(line) == cmdQuit {
					return errQuit
				}
				err = p.ctl.Reset(ctx)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *plainChat) waitConnected(ctx context.Context, grace time.Duration) {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		snap, err := p.ctl.Snapshot(ctx)
		if err != nil || snap.Connected {
			return
		}
		p.waitFor(ctx, time.Until(deadline))
	}
}

func (p *plainChat) waitFor(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.wake:
	case <-t.C:
	case <-ctx.Done():
	}
}

func (p *plainChat) ask(query string, opts ...func(*input.Options)) (string, error) {
	o := &input.Options{HideOrder: true}
	for _, opt := range opts {
		opt(o)
	}
	v, err := p.ui.Ask(query, o)
	if err != nil {
		if errors.Is(err, input.ErrInterrupted) {
			return "", errQuit
		}
		return "", err
	}
	if strings.TrimSpace(v) == cmdQuit {
		return "", errQuit
	}
	return v, nil
}

func required(o *input.Options) {
	o.Required = true
	o.Loop = true
}

func (p *plainChat) askForm(ctx context.Context, snap session.Snapshot) error {
	name, err := p.ask("Your name", required, func(o *input.Options) { o.Default = snap.CustomerName })
	if err != nil {
		return err
	}
	email, err := p.ask("Email (optional)")
	if err != nil {
		return err
	}
	msg, err := p.ask("How can we help?", required)
	if err != nil {
		return err
	}
	if err := p.ctl.Start(ctx, session.Form{Name: name, Email: email, Message: msg}); err != nil {
		if errors.Is(err, session.ErrNameRequired) || errors.Is(err, session.ErrMessageRequired) {
			_, _ = fmt.Fprintln(p.out, "! Please fill name and message.")
			return nil
		}
		return err
	}
	p.waitFor(ctx, time.Second)
	return nil
}

func (p *plainChat) chatLine(ctx context.Context) error {
	line, err := p.ask("")
	if err != nil {
		return err
	}
	switch text := strings.TrimSpace(line); text {
	case "":
		return nil
	case cmdReset:
		return p.ctl.Reset(ctx)
	default:
		if err := p.ctl.Send(ctx, line); err != nil {
			if errors.Is(err, session.ErrNoSession) {
				_, _ = fmt.Fprintln(p.out, "! There is no open chat.")
				return nil
			}
			return err
		}
	}
	return nil
}
