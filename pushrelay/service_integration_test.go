//go:build integration

package pushrelay_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tinywideclouds/go-push-relay/internal/dispatch"
	"github.com/tinywideclouds/go-push-relay/internal/refresh"
	"github.com/tinywideclouds/go-push-relay/internal/registry"
	"github.com/tinywideclouds/go-push-relay/internal/storage/kv"
	"github.com/tinywideclouds/go-push-relay/pushrelay"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// --- Mocks ---

// recordingSender stands in for the platform HTTP clients and records every
// device token it is asked to reach.
type recordingSender struct {
	mu       sync.Mutex
	platform relay.Platform
	tokens   []string
}

func (s *recordingSender) Send(_ context.Context, _ string, device relay.DeviceRecord, _ relay.Notification) relay.PushResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, device.Token)
	return relay.PushResult{Platform: s.platform, Status: relay.StatusSent}
}

func (s *recordingSender) sentTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

// staticCreds satisfies the dispatcher without real key material.
type staticCreds struct{}

func (staticCreds) Credential(_ context.Context, _ relay.Platform) (string, error) {
	return "integration-credential", nil
}
func (staticCreds) Refresh(_ context.Context, _ relay.Platform) error { return nil }

// --- Test ---

func TestPushRelay_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projectID := "test-project-integ"

	// 1. Emulator
	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = psClient.Close() })

	t.Run("Full Lifecycle: Register -> Publish -> Dispatch", func(t *testing.T) {
		// Arrange
		topicID := "push-success-" + uuid.NewString()
		subID := topicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, topicID, subID)

		deviceRegistry := registry.NewRegistry(kv.NewMemoryStore(), logger)
		apnsSender := &recordingSender{platform: relay.PlatformAPNS}
		fcmSender := &recordingSender{platform: relay.PlatformFCM}
		dispatcher := dispatch.NewDispatcher(deviceRegistry, staticCreds{}, map[relay.Platform]relay.Sender{
			relay.PlatformAPNS: apnsSender,
			relay.PlatformFCM:  fcmSender,
		}, logger)
		refresher := refresh.NewRefresher(staticCreds{}, nil, 0, logger)

		consumerCfg := messagepipeline.NewGooglePubsubConsumerDefaults(subID)
		consumer, err := messagepipeline.NewGooglePubsubConsumer(consumerCfg, psClient, logger)
		require.NoError(t, err)

		svc, err := pushrelay.New(
			&config.Config{ListenAddr: ":0", NumPipelineWorkers: 2},
			consumer,
			deviceRegistry,
			dispatcher,
			refresher,
			logger,
		)
		require.NoError(t, err)

		svcCtx, svcCancel := context.WithCancel(ctx)
		defer svcCancel()
		go func() {
			if err := svc.Start(svcCtx); err != nil && !errors.Is(err, context.Canceled) {
				t.Logf("service.Start() returned an error: %v", err)
			}
		}()
		t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

		// Step A: Register a device for the bridge.
		tenant := strings.Repeat("i", 32)
		err = deviceRegistry.Add(ctx, tenant, relay.DeviceRecord{
			Platform: relay.PlatformAPNS,
			Token:    "ios-device-999",
		})
		require.NoError(t, err)

		// Step B: Publish a push request for that bridge.
		payload, err := json.Marshal(relay.PushRequest{Token: tenant, Title: "Hello", Body: "World"})
		require.NoError(t, err)
		_, err = psClient.Publisher(topicID).Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
		require.NoError(t, err)

		// Assert: the registered device was reached.
		require.Eventually(t, func() bool {
			return len(apnsSender.sentTokens()) == 1
		}, 10*time.Second, 100*time.Millisecond)

		assert.Equal(t, []string{"ios-device-999"}, apnsSender.sentTokens())
		assert.Empty(t, fcmSender.sentTokens())
	})
}

func createPubsubResources(t *testing.T, ctx context.Context, client *pubsub.Client, projectID, topicID, subID string) {
	t.Helper()
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.TopicAdminClient.DeleteTopic(context.Background(), &pubsubpb.DeleteTopicRequest{Topic: topicName})
	})

	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
	sub := &pubsubpb.Subscription{
		Name:               subName,
		Topic:              topicName,
		AckDeadlineSeconds: 10,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	}
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.SubscriptionAdminClient.DeleteSubscription(context.Background(), &pubsubpb.DeleteSubscriptionRequest{Subscription: subName})
	})
}
