package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/cmr-widget/pkg/signals"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		group    string
		consumer string
		project  string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print lifecycle signals mirrored to Redis by running widgets",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := a.settings.Signals
			if s.Addr == "" {
				return errors.New("signals.addr (or CMR_REDIS_ADDR) is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := signals.EnsureGroupAtTail(ctx, s.Addr, s.Topic, group); err != nil {
				return errors.Wrap(err, "create consumer group")
			}
			sub, err := signals.NewRedisSubscriber(s.Addr, group, consumer)
			if err != nil {
				return err
			}
			defer func() { _ = sub.Close() }()

			msgs, err := sub.Subscribe(ctx, s.Topic)
			if err != nil {
				return errors.Wrap(err, "subscribe")
			}
			return printEnvelopes(ctx, msgs, project, json.NewEncoder(cmd.OutOrStdout()))
		},
	}
	cmd.Flags().StringVar(&group, "group", "cmr-widget-watch", "redis consumer group")
	cmd.Flags().StringVar(&consumer, "consumer", fmt.Sprintf("watch-%d", os.Getpid()), "redis consumer name")
	cmd.Flags().StringVar(&project, "project", "", "only print signals for this project id")
	return cmd
}

// printEnvelopes writes one JSON line per signal until msgs closes or ctx ends.
func printEnvelopes(ctx context.Context, msgs <-chan *message.Message, project string, enc *json.Encoder) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			env, err := signals.DecodeMessage(msg)
			if err != nil {
				log.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("skipping undecodable signal")
				msg.Ack()
				continue
			}
			if project == "" || env.ProjectID == project {
				if err := enc.Encode(env); err != nil {
					msg.Nack()
					return errors.Wrap(err, "write signal")
				}
			}
			msg.Ack()
		}
	}
}
