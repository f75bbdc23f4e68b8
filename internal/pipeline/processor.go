package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// NewProcessor creates the pipeline stage that hands a transformed push
// request to the dispatcher. Per-device outcomes are folded into the result
// slice by the dispatcher, so the only error that Nacks the message is a
// store read failure; those are worth a redelivery.
func NewProcessor(pusher relay.Pusher, logger *slog.Logger) messagepipeline.StreamProcessor[relay.PushRequest] {
	return func(ctx context.Context, original messagepipeline.Message, request *relay.PushRequest) error {
		procLogger := logger.With("pubsub_msg_id", original.ID)

		results, err := pusher.Dispatch(ctx, request.Token, relay.Notification{
			Title: request.Title,
			Body:  request.Body,
		})
		if err != nil {
			procLogger.Error("Dispatch failed", "err", err)
			return err // Retryable
		}

		if len(results) == 0 {
			procLogger.Info("No devices registered for bridge; dropping notification.")
			return nil
		}

		var sent, failedCount, removed int
		for _, r := range results {
			switch r.Status {
			case relay.StatusSent:
				sent++
			case relay.StatusRemoved:
				removed++
			default:
				failedCount++
			}
		}
		procLogger.Info("Push dispatched", "sent", sent, "failed", failedCount, "removed", removed)
		return nil
	}
}
