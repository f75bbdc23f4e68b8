// Package pushrelay assembles the relay service: HTTP API, optional Pub/Sub
// ingress pipeline, and the background credential refresher, on top of the
// shared microservice base server.
package pushrelay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-relay/internal/api"
	"github.com/tinywideclouds/go-push-relay/internal/pipeline"
	"github.com/tinywideclouds/go-push-relay/internal/refresh"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[relay.PushRequest]
	refresher       *refresh.Refresher
	logger          *slog.Logger
}

// New assembles the service. The consumer is optional: passing nil runs the
// relay HTTP-only, without the Pub/Sub ingress.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	registry relay.DeviceRegistry,
	pusher relay.Pusher,
	refresher *refresh.Refresher,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Pipeline (optional ingress)
	var streamingService *messagepipeline.StreamingService[relay.PushRequest]
	if consumer != nil {
		processor := pipeline.NewProcessor(pusher, logger)
		svc, err := messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.PushRequestTransformer,
			processor,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
		streamingService = svc
	}

	// 3. API (Bridge Operations)
	relayAPI := api.NewRelayAPI(registry, pusher, logger)

	// Register Routes
	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(handlerFunc))
	}

	handle("POST /api/v1/register", relayAPI.Register)
	handle("POST /api/v1/unregister", relayAPI.Unregister)
	handle("POST /api/v1/push", relayAPI.Push)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		refresher:       refresher,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Credential refresher starting...")
	if err := w.refresher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start credential refresher: %w", err)
	}
	if w.pipelineService != nil {
		w.logger.Info("Core processing pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.refresher.Stop(ctx); err != nil {
		w.logger.Error("Credential refresher shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
