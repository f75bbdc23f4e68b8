package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// APNSConfig holds the Platform A publisher credentials. PrivateKeyPEM is
// the raw content of the .p8 signing key.
type APNSConfig struct {
	KeyID         string
	TeamID        string
	BundleID      string
	PrivateKeyPEM string
	Sandbox       bool
}

// Configured reports whether enough material is present to sign APNs tokens.
func (c APNSConfig) Configured() bool {
	return c.KeyID != "" && c.TeamID != "" && c.PrivateKeyPEM != ""
}

// FCMConfig holds the Platform B service account material.
type FCMConfig struct {
	ProjectID     string
	ClientEmail   string
	PrivateKeyPEM string
}

// Configured reports whether enough material is present for the OAuth2
// JWT-bearer exchange.
func (c FCMConfig) Configured() bool {
	return c.ClientEmail != "" && c.PrivateKeyPEM != ""
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	RefreshInterval        time.Duration

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	APNS       APNSConfig
	FCM        FCMConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}
	if val := os.Getenv("REFRESH_INTERVAL_MINUTES"); val != "" {
		if minutes, err := strconv.Atoi(val); err == nil && minutes > 0 {
			logger.Debug("Overriding config value", "key", "REFRESH_INTERVAL_MINUTES", "source", "env")
			cfg.RefreshInterval = time.Duration(minutes) * time.Minute
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// APNs Overrides. The private key arrives through the environment so it
	// never sits in a config file.
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_KEY_ID", "source", "env")
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_TEAM_ID", "source", "env")
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_BUNDLE_ID", "source", "env")
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_PRIVATE_KEY", "source", "env")
		cfg.APNS.PrivateKeyPEM = val
	}
	if val := os.Getenv("APNS_SANDBOX"); val != "" {
		sandbox, _ := strconv.ParseBool(val)
		cfg.APNS.Sandbox = sandbox
	}

	// FCM Overrides
	if val := os.Getenv("FCM_PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_PROJECT_ID", "source", "env")
		cfg.FCM.ProjectID = val
	}
	if val := os.Getenv("FCM_CLIENT_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_CLIENT_EMAIL", "source", "env")
		cfg.FCM.ClientEmail = val
	}
	if val := os.Getenv("FCM_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_PRIVATE_KEY", "source", "env")
		cfg.FCM.PrivateKeyPEM = val
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// Final Validation
	if cfg.ProjectID == "" && !cfg.Redis.Enabled {
		return nil, fmt.Errorf("project_id is required for the Firestore store (set via YAML or PROJECT_ID env var, or enable Redis)")
	}
	if cfg.ProjectID == "" && cfg.SubscriptionID != "" {
		return nil, fmt.Errorf("project_id is required when a Pub/Sub subscription is configured")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.FCM.ProjectID == "" {
		cfg.FCM.ProjectID = cfg.ProjectID
	}
	if cfg.FCM.Configured() && cfg.FCM.ProjectID == "" {
		return nil, fmt.Errorf("fcm.project_id is required when FCM credentials are configured")
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
