package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/cmr-widget/pkg/loader"
	"github.com/go-go-golems/cmr-widget/pkg/session"
	"github.com/go-go-golems/cmr-widget/pkg/signals"
	"github.com/go-go-golems/cmr-widget/pkg/transport"
	"github.com/go-go-golems/cmr-widget/pkg/tui"
)

func newChatCmd(a *app) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the support chat (resumes a persisted chat if there is one)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd.Context(), plain, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "line mode instead of the full-screen UI")
	return cmd
}

// widget is one assembled chat client.
type widget struct {
	ctl    *session.Controller
	tr     *transport.Adapter
	ui     *signals.ChannelSink
	closer []io.Closer
}

func (w *widget) Close() {
	w.tr.Disconnect()
	w.ui.Close()
	for i := len(w.closer) - 1; i >= 0; i-- {
		if err := w.closer[i].Close(); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}

// buildWidget wires settings into a controller. Configuration problems are logged and
// returned before anything connects.
func (a *app) buildWidget() (*widget, error) {
	s := a.settings
	if s.LoaderURL == "" {
		err := errors.New("loader_url is required (flag --loader-url, config loader_url or CMR_LOADER_URL)")
		log.Error().Err(err).Msg("invalid widget configuration")
		return nil, err
	}
	ref, err := loader.Parse(s.LoaderURL)
	if err != nil {
		log.Error().Err(err).Str("loader_url", s.LoaderURL).Msg("invalid widget configuration")
		return nil, err
	}
	topts, err := s.TransportOptions()
	if err != nil {
		return nil, err
	}
	codec, _ := transport.CodecByName(s.Codec)
	endpoint, err := ref.Endpoint(codec.Path())
	if err != nil {
		return nil, err
	}
	tr, err := transport.New(endpoint, topts...)
	if err != nil {
		return nil, err
	}

	w := &widget{tr: tr, ui: signals.NewChannelSink(256)}
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	w.closer = append(w.closer, store)

	sinks := signals.Fanout{w.ui}
	mirror, pub, err := signals.NewMirror(s.Signals, ref.ProjectID)
	if err != nil {
		w.Close()
		return nil, err
	}
	if mirror != nil {
		sinks = append(sinks, mirror)
		w.closer = append(w.closer, pub)
	}

	w.ctl, err = session.New(ref.ProjectID, tr,
		session.WithStore(store),
		session.WithSink(sinks),
		session.WithCreateTimeout(s.CreateTimeout),
	)
	if err != nil {
		w.Close()
		return nil, err
	}
	log.Info().Str("project_id", w.ctl.ProjectID()).Str("endpoint", w.tr.Endpoint()).Str("codec", codec.Name()).Msg("widget ready")
	return w, nil
}

func (a *app) runChat(ctx context.Context, plain bool, in io.Reader, out io.Writer) error {
	w, err := a.buildWidget()
	if err != nil {
		return err
	}
	defer w.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.ctl.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		if plain {
			return runPlain(gctx, w.ctl, w.ui.C(), in, out)
		}
		return runTUI(gctx, w.ctl, w.ui.C())
	})
	return g.Wait()
}

func runTUI(ctx context.Context, ctl tui.Controller, ch <-chan session.Signal) error {
	snap, err := ctl.Snapshot(ctx)
	if err != nil {
		return err
	}
	p := tea.NewProgram(tui.New(ctx, ctl, ch, snap), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.Wrap(err, "run ui")
	}
	return nil
}
