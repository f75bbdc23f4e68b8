// Package pipeline contains the Pub/Sub ingress for the relay: bridge push
// requests published to a topic are transformed and fanned out exactly like
// their HTTP counterparts.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// MinTenantTokenLength is the minimum length of a bridge token. Enforced at
// the ingress surfaces; the core assumes validated input.
const MinTenantTokenLength = 16

// PushRequestTransformer unmarshals and validates a raw message payload into
// a relay.PushRequest. Malformed payloads are skipped (poison) so the
// streaming service can handle Nack/DLQ logic instead of looping forever.
func PushRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*relay.PushRequest, bool, error) {
	var req relay.PushRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal push request from message %s: %w", msg.ID, err)
	}
	if len(req.Token) < MinTenantTokenLength {
		return nil, true, fmt.Errorf("push request %s carries a short bridge token", msg.ID)
	}
	return &req, false, nil
}
