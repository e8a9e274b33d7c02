package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"

	"session-hub/internal/telemetry"
)

// EventReader is the subset of *kafka.Reader used by the events command.
type EventReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

func newKafkaReader(brokers []string, topic, group string) EventReader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        group,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
}

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	Group  string
	Number string
	Count  int
}

// NewEventsCommand tails session lifecycle events from the Kafka topic the server publishes to.
func NewEventsCommand(rootOpts *RootOptions, env Env) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail session lifecycle events from Kafka",
		Long: `Tail session lifecycle events (connected, reconnecting, terminated, deleted,
pairing_failed, pairing_code) published on SESSION_EVENTS_TOPIC. Requires
KAFKA_BROKERS. Runs until interrupted or --count events were printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.LoadConfig()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			brokers := cfg.KafkaBrokersList()
			if len(brokers) == 0 {
				return NewExitError(ExitCommandError, "KAFKA_BROKERS is required")
			}
			reader := env.NewReader(brokers, cfg.SessionEventsTopic, opts.Group)
			defer reader.Close()
			return tailEvents(cmd.Context(), cmd, reader, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Group, "group", "", "consumer group id (empty reads without committing offsets)")
	cmd.Flags().StringVar(&opts.Number, "number", "", "only show events for this number")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "stop after this many events (0 runs until interrupted)")
	return cmd
}

func tailEvents(ctx context.Context, cmd *cobra.Command, reader EventReader, opts *EventsOptions) error {
	printed := 0
	for opts.Count <= 0 || printed < opts.Count {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return WrapExitError(ExitCommandError, "kafka read", err)
		}
		var ev telemetry.SessionEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "skipping malformed event at offset %d: %v\n", msg.Offset, err)
			continue
		}
		if opts.Number != "" && ev.Number != opts.Number {
			continue
		}
		if opts.Format == "json" {
			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(ev); err != nil {
				return err
			}
		} else {
			line := fmt.Sprintf("%s  %-24s %s epoch=%d", ev.CreatedAt.UTC().Format(time.RFC3339), ev.Type, ev.Number, ev.Epoch)
			if ev.Reason != "" {
				line += " reason=" + ev.Reason
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		printed++
	}
	return nil
}
