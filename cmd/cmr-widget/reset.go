package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/cmr-widget/pkg/loader"
	"github.com/go-go-golems/cmr-widget/pkg/persistence/sessionstore"
	"github.com/go-go-golems/cmr-widget/pkg/protocol"
	"github.com/go-go-golems/cmr-widget/pkg/transport"
)

func newResetCmd(a *app) *cobra.Command {
	var (
		project string
		notify  bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget the persisted chat for a project",
		Long:  "Forget the persisted chat for a project. With --notify the server is told the customer ended the chat.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pid, err := a.resolveProject(project)
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			id, err := sessionstore.LoadIdentity(ctx, store, pid)
			if err != nil {
				return err
			}
			if notify && id.SessionID != "" {
				if err := a.notifyEnd(ctx, id.SessionID, timeout); err != nil {
					log.Warn().Err(err).Str("chat_id", id.SessionID).Msg("could not notify server")
				}
			}
			if err := sessionstore.PurgeIdentity(ctx, store, pid); err != nil {
				return err
			}
			if id.SessionID == "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "project %s: no persisted chat\n", pid)
			} else {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "project %s: forgot chat %s\n", pid, id.SessionID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project id (defaults to the loader URL's)")
	cmd.Flags().BoolVar(&notify, "notify", false, "send client_end_chat before forgetting the chat (needs --loader-url)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long --notify waits for a connection")
	return cmd
}

// notifyEnd connects once, emits client_end_chat for chatID and disconnects.
func (a *app) notifyEnd(ctx context.Context, chatID string, timeout time.Duration) error {
	if a.settings.LoaderURL == "" {
		return errors.New("--notify needs a loader URL")
	}
	ref, err := loader.Parse(a.settings.LoaderURL)
	if err != nil {
		return err
	}
	codec, _ := transport.CodecByName(a.settings.Codec)
	endpoint, err := ref.Endpoint(codec.Path())
	if err != nil {
		return err
	}
	opts, err := a.settings.TransportOptions()
	if err != nil {
		return err
	}
	tr, err := transport.New(endpoint, append(opts, transport.WithMaxAttempts(1))...)
	if err != nil {
		return err
	}
	defer tr.Disconnect()

	connected := make(chan struct{}, 1)
	tr.On(protocol.EventConnect, func(json.RawMessage) {
		select {
		case connected <- struct{}{}:
		default:
		}
	})
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tr.Connect(ctx)
	select {
	case <-connected:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "connect")
	}
	return tr.Emit(protocol.EventClientEndChat, protocol.ClientEndChat{ChatID: protocol.ChatID(chatID)})
}
