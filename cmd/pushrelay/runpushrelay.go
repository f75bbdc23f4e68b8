package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-relay/internal/credentials"
	"github.com/tinywideclouds/go-push-relay/internal/dispatch"
	"github.com/tinywideclouds/go-push-relay/internal/refresh"
	"github.com/tinywideclouds/go-push-relay/internal/registry"
	fsStore "github.com/tinywideclouds/go-push-relay/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-relay/internal/storage/kv"
	redisStore "github.com/tinywideclouds/go-push-relay/internal/storage/redis"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
	"github.com/tinywideclouds/go-push-relay/pushrelay"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-relay")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Store ---
	// Both key spaces (devices:* and credential:*) share one backend:
	// Redis when enabled, Firestore otherwise.
	var store kv.Store
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis store...", "addr", cfg.Redis.Addr)
		rs, closeStore, err := redisStore.Connect(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer func() { _ = closeStore() }()
		store = rs
	} else {
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("Firestore client failed", "err", err)
			os.Exit(1)
		}
		defer func() { _ = fsClient.Close() }()
		store = fsStore.NewStore(fsClient)
		logger.Info("Store initialized", "type", "firestore")
	}

	// --- Credentials ---
	signers := make(map[relay.Platform]credentials.Signer)
	if cfg.APNS.Configured() {
		signer, err := credentials.NewAPNSSigner(credentials.APNSSignerConfig{
			KeyID:         cfg.APNS.KeyID,
			TeamID:        cfg.APNS.TeamID,
			PrivateKeyPEM: cfg.APNS.PrivateKeyPEM,
		})
		if err != nil {
			logger.Error("APNs signer failed", "err", err)
			os.Exit(1)
		}
		signers[relay.PlatformAPNS] = signer
	}
	if cfg.FCM.Configured() {
		signer, err := credentials.NewFCMSigner(credentials.FCMSignerConfig{
			ClientEmail:   cfg.FCM.ClientEmail,
			PrivateKeyPEM: cfg.FCM.PrivateKeyPEM,
		})
		if err != nil {
			logger.Error("FCM signer failed", "err", err)
			os.Exit(1)
		}
		signers[relay.PlatformFCM] = signer
	}
	if len(signers) == 0 {
		logger.Warn("No publisher credentials configured. All deliveries will fail.")
	}
	credManager := credentials.NewManager(store, signers, logger)

	// --- Registry, Senders, Dispatcher ---
	deviceRegistry := registry.NewRegistry(store, logger)

	senders := map[relay.Platform]relay.Sender{
		relay.PlatformAPNS: dispatch.NewAPNSSender(dispatch.APNSSenderConfig{
			DefaultTopic: cfg.APNS.BundleID,
			Sandbox:      cfg.APNS.Sandbox,
		}, logger),
		relay.PlatformFCM: dispatch.NewFCMSender(dispatch.FCMSenderConfig{
			ProjectID: cfg.FCM.ProjectID,
		}, logger),
	}
	dispatcher := dispatch.NewDispatcher(deviceRegistry, credManager, senders, logger)

	// --- Refresher ---
	var platforms []relay.Platform
	for platform := range signers {
		platforms = append(platforms, platform)
	}
	refresher := refresh.NewRefresher(credManager, platforms, cfg.RefreshInterval, logger)

	// --- Consumer (optional Pub/Sub ingress) & Service ---
	var consumer messagepipeline.MessageConsumer
	if cfg.SubscriptionID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer func() { _ = psClient.Close() }()

		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("Consumer creation failed", "err", err)
			os.Exit(1)
		}
	}

	service, err := pushrelay.New(cfg, consumer, deviceRegistry, dispatcher, refresher, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")
	dlt := convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlt,
			MaxDeliveryAttempts: 5,
		},
		EnableMessageOrdering: false,
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
